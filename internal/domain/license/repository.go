package license

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for customer licenses. Mutations carry
// conditional semantics so that out-of-order or replayed events cannot
// regress state; implementations must apply each method atomically.
type Repository interface {
	Create(ctx context.Context, c *Customer) error
	GetByID(ctx context.Context, customerID uuid.UUID) (*Customer, error)
	GetByEmail(ctx context.Context, email string) (*Customer, error)

	// MarkActive moves the customer to active, clears paymentFailedAt and
	// graceUntil, and raises currentPeriodEnd to max(current, periodEnd).
	MarkActive(ctx context.Context, customerID uuid.UUID, subscriptionID string, periodEnd *time.Time, now time.Time) error

	// ExtendPeriod raises currentPeriodEnd to max(current, periodEnd)
	// without touching the status.
	ExtendPeriod(ctx context.Context, customerID uuid.UUID, periodEnd time.Time, now time.Time) error

	// MarkPaymentFailed moves active to payment_failed_grace. It applies
	// only when the status is still active, which makes repeated failure
	// notifications no-ops: the grace deadline is never extended.
	MarkPaymentFailed(ctx context.Context, customerID uuid.UUID, failedAt, graceUntil, now time.Time) (bool, error)

	// MarkCanceled moves active or payment_failed_grace to canceled_grace.
	// graceUntil only ever moves forward.
	MarkCanceled(ctx context.Context, customerID uuid.UUID, graceUntil, now time.Time) (bool, error)

	// MarkExpired applies the terminal transition from trial or a grace state.
	MarkExpired(ctx context.Context, customerID uuid.UUID, now time.Time) (bool, error)

	// BindHardware sets the hardware id only while it is unset.
	BindHardware(ctx context.Context, customerID uuid.UUID, hardwareID string, now time.Time) (bool, error)

	// TouchValidated records a fresh successful online validation.
	TouchValidated(ctx context.Context, customerID uuid.UUID, now time.Time) error

	// ListLapsed returns non-expired rows whose trial (started before
	// trialCutoff) or grace window (before now) has run out.
	ListLapsed(ctx context.Context, now time.Time, trialCutoff time.Time, limit int) ([]*Customer, error)

	// ListGraceExpiring returns unwarned grace rows whose graceUntil falls
	// inside (now, until].
	ListGraceExpiring(ctx context.Context, now, until time.Time, limit int) ([]*Customer, error)

	// MarkGraceWarned records that the grace warning went out. It applies at
	// most once per grace window; recovery clears the mark.
	MarkGraceWarned(ctx context.Context, customerID uuid.UUID, now time.Time) (bool, error)
}
