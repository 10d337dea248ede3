package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/license-hub/license-hub/internal/domain/license"
)

// CustomerRepository implements license.Repository in memory.
type CustomerRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*license.Customer
	byEmail map[string]uuid.UUID
}

func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{
		byID:    make(map[uuid.UUID]*license.Customer),
		byEmail: make(map[string]uuid.UUID),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *CustomerRepository) Create(ctx context.Context, c *license.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeEmail(c.Email)
	if _, ok := r.byEmail[key]; ok {
		return license.ErrEmailTaken
	}
	cp := *c
	r.byID[c.CustomerID] = &cp
	r.byEmail[key] = c.CustomerID
	return nil
}

func (r *CustomerRepository) GetByID(ctx context.Context, customerID uuid.UUID) (*license.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[customerID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CustomerRepository) GetByEmail(ctx context.Context, email string) (*license.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *CustomerRepository) MarkActive(ctx context.Context, customerID uuid.UUID, subscriptionID string, periodEnd *time.Time, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return license.ErrCustomerNotFound
	}
	c.Status = license.StatusActive
	if subscriptionID != "" {
		c.SubscriptionID = subscriptionID
	}
	if periodEnd != nil && (c.CurrentPeriodEnd == nil || periodEnd.After(*c.CurrentPeriodEnd)) {
		end := *periodEnd
		c.CurrentPeriodEnd = &end
	}
	c.PaymentFailedAt = nil
	c.GraceUntil = nil
	c.GraceWarnedAt = nil
	c.UpdatedAt = now
	return nil
}

func (r *CustomerRepository) ExtendPeriod(ctx context.Context, customerID uuid.UUID, periodEnd time.Time, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return license.ErrCustomerNotFound
	}
	if c.CurrentPeriodEnd == nil || periodEnd.After(*c.CurrentPeriodEnd) {
		end := periodEnd
		c.CurrentPeriodEnd = &end
	}
	c.UpdatedAt = now
	return nil
}

func (r *CustomerRepository) MarkPaymentFailed(ctx context.Context, customerID uuid.UUID, failedAt, graceUntil, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return false, license.ErrCustomerNotFound
	}
	if c.Status != license.StatusActive {
		return false, nil
	}
	c.Status = license.StatusPaymentFailedGrace
	c.PaymentFailedAt = &failedAt
	c.GraceUntil = &graceUntil
	c.UpdatedAt = now
	return true, nil
}

func (r *CustomerRepository) MarkCanceled(ctx context.Context, customerID uuid.UUID, graceUntil, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return false, license.ErrCustomerNotFound
	}
	if c.Status != license.StatusActive && c.Status != license.StatusPaymentFailedGrace {
		return false, nil
	}
	c.Status = license.StatusCanceledGrace
	if c.GraceUntil == nil || graceUntil.After(*c.GraceUntil) {
		g := graceUntil
		c.GraceUntil = &g
	}
	c.UpdatedAt = now
	return true, nil
}

func (r *CustomerRepository) MarkExpired(ctx context.Context, customerID uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return false, license.ErrCustomerNotFound
	}
	switch c.Status {
	case license.StatusTrial, license.StatusPaymentFailedGrace, license.StatusCanceledGrace:
		c.Status = license.StatusExpired
		c.UpdatedAt = now
		return true, nil
	}
	return false, nil
}

func (r *CustomerRepository) BindHardware(ctx context.Context, customerID uuid.UUID, hardwareID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return false, license.ErrCustomerNotFound
	}
	if c.HardwareID != nil {
		return false, nil
	}
	hw := hardwareID
	c.HardwareID = &hw
	c.UpdatedAt = now
	return true, nil
}

func (r *CustomerRepository) TouchValidated(ctx context.Context, customerID uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return license.ErrCustomerNotFound
	}
	t := now
	c.LastValidatedAt = &t
	return nil
}

func (r *CustomerRepository) ListLapsed(ctx context.Context, now time.Time, trialCutoff time.Time, limit int) ([]*license.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*license.Customer, 0)
	for _, c := range r.byID {
		if len(out) >= limit {
			break
		}
		lapsedTrial := c.Status == license.StatusTrial && c.TrialStartedAt != nil && c.TrialStartedAt.Before(trialCutoff)
		lapsedGrace := (c.Status == license.StatusPaymentFailedGrace || c.Status == license.StatusCanceledGrace) &&
			c.GraceUntil != nil && now.After(*c.GraceUntil)
		if lapsedTrial || lapsedGrace {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *CustomerRepository) ListGraceExpiring(ctx context.Context, now, until time.Time, limit int) ([]*license.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*license.Customer, 0)
	for _, c := range r.byID {
		if len(out) >= limit {
			break
		}
		inGrace := c.Status == license.StatusPaymentFailedGrace || c.Status == license.StatusCanceledGrace
		if inGrace && c.GraceWarnedAt == nil && c.GraceUntil != nil &&
			c.GraceUntil.After(now) && !c.GraceUntil.After(until) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *CustomerRepository) MarkGraceWarned(ctx context.Context, customerID uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[customerID]
	if !ok {
		return false, license.ErrCustomerNotFound
	}
	if c.Status != license.StatusPaymentFailedGrace && c.Status != license.StatusCanceledGrace {
		return false, nil
	}
	if c.GraceWarnedAt != nil {
		return false, nil
	}
	t := now
	c.GraceWarnedAt = &t
	c.UpdatedAt = now
	return true, nil
}
