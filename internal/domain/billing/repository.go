package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for the idempotency ledger. Every method
// must be atomic at the storage layer: two workers can never both observe
// success for the same conditional write.
type Repository interface {
	// InsertIfAbsent creates the row with status PROCESSING when no row for
	// the event id exists. It returns inserted=false and the existing row
	// (never nil in that case) when the id has been seen before.
	InsertIfAbsent(ctx context.Context, ev *Event) (inserted bool, existing *Event, err error)

	// Reclaim rotates the lock token on a row whose lease has expired, or on
	// a FAILED row that still has attempts left. It returns false when the
	// row was concurrently reclaimed, completed, or is missing.
	Reclaim(ctx context.Context, eventID string, newToken uuid.UUID, lockExpiresAt time.Time, now time.Time) (bool, error)

	// Complete marks the row COMPLETED if the lock token still matches.
	Complete(ctx context.Context, eventID string, lockToken uuid.UUID, processedAt time.Time) (bool, error)

	// Fail marks the row FAILED and increments the attempt count if the lock
	// token still matches.
	Fail(ctx context.Context, eventID string, lockToken uuid.UUID, processedAt time.Time) (bool, error)

	// Get returns the row or nil when absent.
	Get(ctx context.Context, eventID string) (*Event, error)
}
