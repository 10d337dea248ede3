package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/license-hub/license-hub/internal/domain/audit"
)

// AuditRepository implements audit.Repository in memory.
type AuditRepository struct {
	mu      sync.Mutex
	entries []*audit.Entry
	nextID  int64
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{nextID: 1}
}

func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.ID = r.nextID
	r.nextID++
	r.entries = append(r.entries, &cp)
	e.ID = cp.ID
	return nil
}

func (r *AuditRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*audit.Entry, 0)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].CustomerID == customerID {
			cp := *r.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
