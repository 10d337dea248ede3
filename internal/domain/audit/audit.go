package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/license-hub/license-hub/internal/domain/license"
)

// Cause names what drove a status transition.
type Cause string

const (
	CauseCheckoutCompleted   Cause = "checkout_completed"
	CausePaymentSucceeded    Cause = "payment_succeeded"
	CausePaymentFailed       Cause = "payment_failed"
	CauseSubscriptionDeleted Cause = "subscription_deleted"
	CauseTrialStarted        Cause = "trial_started"
	CauseLapseSweep          Cause = "lapse_sweep"
	CauseEventDead           Cause = "event_dead"
)

// Entry is one append-only transition record, written by the event
// processor and the session manager, never mutated.
type Entry struct {
	ID         int64          `json:"id"`
	CustomerID uuid.UUID      `json:"customerId"`
	FromStatus license.Status `json:"fromStatus"`
	ToStatus   license.Status `json:"toStatus"`
	Cause      Cause          `json:"cause"`
	Detail     string         `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// Repository defines append-only persistence for transition entries.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*Entry, error)
}
