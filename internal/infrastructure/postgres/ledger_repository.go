package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/license-hub/license-hub/internal/domain/billing"
)

// LedgerRepository implements billing.Repository. Every conditional write is
// a single statement so concurrent workers race on row-level atomicity, not
// on read-then-write windows.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func (r *LedgerRepository) InsertIfAbsent(ctx context.Context, ev *billing.Event) (bool, *billing.Event, error) {
	res, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_events
		(event_id, event_type, payload_hash, status, received_at, attempt_count, lock_token, lock_expires_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.EventType, ev.PayloadHash, ev.Status, ev.ReceivedAt, ev.LockToken, ev.LockExpiresAt)
	if err != nil {
		return false, nil, err
	}
	if res.RowsAffected() == 1 {
		return true, nil, nil
	}
	existing, err := r.Get(ctx, ev.EventID)
	if err != nil {
		return false, nil, err
	}
	if existing == nil {
		// Row vanished between the conflict and the read; callers treat this
		// as a duplicate in flight.
		return false, nil, billing.ErrEventNotFound
	}
	return false, existing, nil
}

func (r *LedgerRepository) Reclaim(ctx context.Context, eventID string, newToken uuid.UUID, lockExpiresAt time.Time, now time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status=$2, lock_token=$3, lock_expires_at=$4
		WHERE event_id=$1
		  AND ((status=$2 AND lock_expires_at < $5) OR status=$6)
	`, eventID, billing.StatusProcessing, newToken, lockExpiresAt, now, billing.StatusFailed)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *LedgerRepository) Complete(ctx context.Context, eventID string, lockToken uuid.UUID, processedAt time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status=$3, processed_at=$4
		WHERE event_id=$1 AND lock_token=$2 AND status=$5
	`, eventID, lockToken, billing.StatusCompleted, processedAt, billing.StatusProcessing)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *LedgerRepository) Fail(ctx context.Context, eventID string, lockToken uuid.UUID, processedAt time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status=$3, processed_at=$4, attempt_count=attempt_count+1
		WHERE event_id=$1 AND lock_token=$2 AND status=$5
	`, eventID, lockToken, billing.StatusFailed, processedAt, billing.StatusProcessing)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *LedgerRepository) Get(ctx context.Context, eventID string) (*billing.Event, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT event_id, event_type, payload_hash, status, received_at, processed_at, attempt_count, lock_token, lock_expires_at
		FROM webhook_events WHERE event_id=$1
	`, eventID)
	var ev billing.Event
	var processedAt *time.Time
	if err := row.Scan(&ev.EventID, &ev.EventType, &ev.PayloadHash, &ev.Status, &ev.ReceivedAt, &processedAt, &ev.AttemptCount, &ev.LockToken, &ev.LockExpiresAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	ev.ProcessedAt = processedAt
	return &ev, nil
}
