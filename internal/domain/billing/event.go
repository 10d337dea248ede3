package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the processing state of a ledger row
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// EventType identifies the provider notification kind
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventSubscriptionDeleted EventType = "subscription_deleted"
)

// ClaimResult is the outcome of a ledger claim attempt
type ClaimResult string

const (
	ClaimWon               ClaimResult = "WON"
	ClaimAlreadyCompleted  ClaimResult = "ALREADY_COMPLETED"
	ClaimAlreadyProcessing ClaimResult = "ALREADY_PROCESSING"
	ClaimReclaimed         ClaimResult = "RECLAIMED"
	ClaimExhausted         ClaimResult = "EXHAUSTED"
)

var (
	ErrStaleLock     = errors.New("lock token no longer held")
	ErrEventNotFound = errors.New("ledger event not found")
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrEmptyEventID  = errors.New("event id is required")
)

// Event is one durable ledger row per provider event id.
// Once Status is COMPLETED the row is read-only.
type Event struct {
	EventID       string     `json:"eventId"`
	EventType     EventType  `json:"eventType"`
	PayloadHash   string     `json:"payloadHash"`
	Status        Status     `json:"status"`
	ReceivedAt    time.Time  `json:"receivedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	AttemptCount  int        `json:"attemptCount"`
	LockToken     uuid.UUID  `json:"-"`
	LockExpiresAt time.Time  `json:"-"`
}

// LeaseExpired reports whether a processing lock can be reclaimed.
func (e *Event) LeaseExpired(now time.Time) bool {
	return e.Status == StatusProcessing && now.After(e.LockExpiresAt)
}

// Envelope is the provider's JSON event wrapper.
type Envelope struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	Data struct {
		Object Payload `json:"object"`
	} `json:"data"`
}

// Payload carries the subscription fields this core consumes.
type Payload struct {
	Email            string     `json:"email"`
	SubscriptionID   string     `json:"subscription_id"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// ParseEnvelope decodes and minimally validates a raw provider body.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.ID == "" {
		return nil, ErrEmptyEventID
	}
	switch env.Type {
	case EventCheckoutCompleted, EventPaymentSucceeded, EventPaymentFailed, EventSubscriptionDeleted:
	default:
		return nil, ErrUnknownEvent
	}
	return &env, nil
}

// HashPayload returns the hex sha256 of a raw provider body.
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
