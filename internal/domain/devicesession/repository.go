package devicesession

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for device sessions. TakeOver is the only
// way an ACTIVE row is created, and implementations must make it a single
// atomic unit per customer: concurrent calls leave exactly one winner.
type Repository interface {
	// TakeOver revokes any ACTIVE session for the customer and inserts a new
	// ACTIVE row for the fingerprint, returning the new session.
	TakeOver(ctx context.Context, s *Session) error

	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	GetActive(ctx context.Context, customerID uuid.UUID) (*Session, error)

	// Heartbeat bumps lastHeartbeatAt; false when the session is not ACTIVE.
	Heartbeat(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error)

	// Revoke marks the session REVOKED. Idempotent: revoking a revoked or
	// missing session is not an error.
	Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error

	// RevokeActive revokes whatever session is ACTIVE for the customer,
	// returning it, or nil when none was active.
	RevokeActive(ctx context.Context, customerID uuid.UUID, at time.Time) (*Session, error)
}
