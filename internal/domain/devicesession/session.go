package devicesession

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a device session
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRevoked Status = "REVOKED"
)

var ErrSessionNotFound = errors.New("session not found")

// Session binds a customer's license to one device at a time. At most one
// row per customer is ACTIVE at any instant.
type Session struct {
	SessionID         uuid.UUID  `json:"sessionId"`
	CustomerID        uuid.UUID  `json:"customerId"`
	DeviceFingerprint string     `json:"deviceFingerprint"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastHeartbeatAt   time.Time  `json:"lastHeartbeatAt"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
}

// Stale reports whether the session missed three heartbeat intervals.
// Staleness is checked lazily on access; there is no background sweep.
func (s *Session) Stale(now time.Time, heartbeatInterval time.Duration) bool {
	return s.Status == StatusActive && now.Sub(s.LastHeartbeatAt) > 3*heartbeatInterval
}
