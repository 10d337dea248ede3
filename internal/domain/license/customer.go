package license

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Status values are wire-level: they appear verbatim in validation responses.
type Status string

const (
	StatusTrial              Status = "trial"
	StatusActive             Status = "active"
	StatusPaymentFailedGrace Status = "payment_failed_grace"
	StatusCanceledGrace      Status = "canceled_grace"
	StatusExpired            Status = "expired"
)

var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrEmailTaken        = errors.New("email already holds a license")
	ErrTokenMismatch     = errors.New("unlock token mismatch")
	ErrHardwareMismatch  = errors.New("hardware id bound to another machine")
	ErrInvalidTransition = errors.New("invalid license transition")
)

// Customer is one license record. Rows are never hard-deleted; terminal
// states preserve the audit history.
type Customer struct {
	CustomerID       uuid.UUID  `json:"customerId"`
	Email            string     `json:"email"`
	HardwareID       *string    `json:"hardwareId,omitempty"`
	SubscriptionID   string     `json:"subscriptionId,omitempty"`
	Status           Status     `json:"status"`
	TrialStartedAt   *time.Time `json:"trialStartedAt,omitempty"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
	PaymentFailedAt  *time.Time `json:"paymentFailedAt,omitempty"`
	GraceUntil       *time.Time `json:"graceUntil,omitempty"`
	GraceWarnedAt    *time.Time `json:"-"`
	UnlockTokenHash  string     `json:"-"`
	LastValidatedAt  *time.Time `json:"lastValidatedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Clock groups the time parameters of the state machine so callers cannot
// mix up the three durations.
type Clock struct {
	TrialPeriod time.Duration
	TrialGrace  time.Duration
	OfflineCap  time.Duration
}

// EffectiveStatus derives the status at a point in time without mutating the
// record. Lapsed trials and exhausted grace windows read as expired; the
// persisted transition is applied later by the processor's lapse sweep.
func (c *Customer) EffectiveStatus(now time.Time, clk Clock) Status {
	switch c.Status {
	case StatusTrial:
		if c.TrialStartedAt != nil && now.After(c.TrialStartedAt.Add(clk.TrialPeriod+clk.TrialGrace)) {
			return StatusExpired
		}
	case StatusPaymentFailedGrace, StatusCanceledGrace:
		if c.GraceUntil != nil && now.After(*c.GraceUntil) {
			return StatusExpired
		}
	}
	return c.Status
}

// AccessAt applies the effective-access policy: trial and active always pass,
// grace states pass until graceUntil, expired never passes.
func (c *Customer) AccessAt(now time.Time, clk Clock) bool {
	switch c.EffectiveStatus(now, clk) {
	case StatusTrial, StatusActive:
		return true
	case StatusPaymentFailedGrace, StatusCanceledGrace:
		return c.GraceUntil != nil && !now.After(*c.GraceUntil)
	default:
		return false
	}
}

// OfflineValidUntil bounds how long a cached validation may be trusted:
// lastValidated + min(graceUntil-lastValidated, cap), or the full cap when
// no grace deadline applies.
func (c *Customer) OfflineValidUntil(lastValidated time.Time, clk Clock) time.Time {
	limit := lastValidated.Add(clk.OfflineCap)
	if c.GraceUntil != nil && c.GraceUntil.Before(limit) {
		return *c.GraceUntil
	}
	return limit
}

// CanTransition enumerates the legal status moves. checkout_completed on an
// expired customer is a fresh activation and is allowed from any state.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusActive:
		return true
	case StatusExpired:
		return from == StatusTrial || from == StatusPaymentFailedGrace || from == StatusCanceledGrace
	case StatusPaymentFailedGrace:
		return from == StatusActive
	case StatusCanceledGrace:
		return from == StatusActive || from == StatusPaymentFailedGrace
	case StatusTrial:
		return false
	}
	return false
}

// GenerateUnlockToken returns a high-entropy token shown to the customer
// exactly once. Only the bcrypt hash is ever persisted.
func GenerateUnlockToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashUnlockToken hashes a plaintext unlock token for storage.
func HashUnlockToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyUnlockToken checks a plaintext token against the stored hash.
func VerifyUnlockToken(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
