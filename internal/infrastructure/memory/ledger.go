// Package memory provides mutex-guarded in-process repositories. They back
// the standalone (single-node) deployment mode and the concurrency tests;
// every conditional write happens inside one critical section, matching the
// atomicity the postgres repositories get from single statements.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/license-hub/license-hub/internal/domain/billing"
)

// LedgerRepository implements billing.Repository in memory.
type LedgerRepository struct {
	mu     sync.Mutex
	events map[string]*billing.Event
}

func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{events: make(map[string]*billing.Event)}
}

func (r *LedgerRepository) InsertIfAbsent(ctx context.Context, ev *billing.Event) (bool, *billing.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.events[ev.EventID]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *ev
	r.events[ev.EventID] = &cp
	return true, nil, nil
}

func (r *LedgerRepository) Reclaim(ctx context.Context, eventID string, newToken uuid.UUID, lockExpiresAt time.Time, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return false, nil
	}
	reclaimable := ev.LeaseExpired(now) || ev.Status == billing.StatusFailed
	if !reclaimable {
		return false, nil
	}
	ev.Status = billing.StatusProcessing
	ev.LockToken = newToken
	ev.LockExpiresAt = lockExpiresAt
	return true, nil
}

func (r *LedgerRepository) Complete(ctx context.Context, eventID string, lockToken uuid.UUID, processedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok || ev.Status != billing.StatusProcessing || ev.LockToken != lockToken {
		return false, nil
	}
	ev.Status = billing.StatusCompleted
	ev.ProcessedAt = &processedAt
	return true, nil
}

func (r *LedgerRepository) Fail(ctx context.Context, eventID string, lockToken uuid.UUID, processedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok || ev.Status != billing.StatusProcessing || ev.LockToken != lockToken {
		return false, nil
	}
	ev.Status = billing.StatusFailed
	ev.ProcessedAt = &processedAt
	ev.AttemptCount++
	return true, nil
}

func (r *LedgerRepository) Get(ctx context.Context, eventID string) (*billing.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}
