package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/license-hub/license-hub/internal/domain/devicesession"
)

// SessionRepository implements devicesession.Repository in memory. TakeOver
// runs revoke-then-insert under one lock, giving the same linearizability as
// the postgres transaction.
type SessionRepository struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*devicesession.Session
	activeBy map[uuid.UUID]uuid.UUID // customerID -> active sessionID
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byID:     make(map[uuid.UUID]*devicesession.Session),
		activeBy: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *SessionRepository) TakeOver(ctx context.Context, s *devicesession.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prevID, ok := r.activeBy[s.CustomerID]; ok {
		prev := r.byID[prevID]
		prev.Status = devicesession.StatusRevoked
		at := s.CreatedAt
		prev.RevokedAt = &at
	}
	cp := *s
	r.byID[s.SessionID] = &cp
	r.activeBy[s.CustomerID] = s.SessionID
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*devicesession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *SessionRepository) GetActive(ctx context.Context, customerID uuid.UUID) (*devicesession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.activeBy[customerID]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *SessionRepository) Heartbeat(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.Status != devicesession.StatusActive {
		return false, nil
	}
	s.LastHeartbeatAt = at
	return true, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.Status == devicesession.StatusRevoked {
		return nil
	}
	s.Status = devicesession.StatusRevoked
	t := at
	s.RevokedAt = &t
	if r.activeBy[s.CustomerID] == sessionID {
		delete(r.activeBy, s.CustomerID)
	}
	return nil
}

func (r *SessionRepository) RevokeActive(ctx context.Context, customerID uuid.UUID, at time.Time) (*devicesession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.activeBy[customerID]
	if !ok {
		return nil, nil
	}
	s := r.byID[id]
	s.Status = devicesession.StatusRevoked
	t := at
	s.RevokedAt = &t
	delete(r.activeBy, customerID)
	cp := *s
	return &cp, nil
}
