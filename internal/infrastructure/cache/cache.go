package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/license-hub/license-hub/internal/domain/license"
)

// Entry is a cached validation verdict. It carries the token hash and bound
// hardware id so an offline check can still reject the wrong token or
// machine, and ValidUntil bounds how long the verdict may be trusted.
type Entry struct {
	CustomerID      uuid.UUID      `json:"customerId"`
	Status          license.Status `json:"status"`
	GraceUntil      *time.Time     `json:"graceUntil,omitempty"`
	UnlockTokenHash string         `json:"unlockTokenHash"`
	HardwareID      string         `json:"hardwareId"`
	ValidatedAt     time.Time      `json:"validatedAt"`
	ValidUntil      time.Time      `json:"validUntil"`
}

// ValidationCache is an explicit, time-bounded read-through cache over
// validation responses. It is never a second source of truth: entries are
// written only from fresh store reads and expire at ValidUntil.
type ValidationCache interface {
	Put(ctx context.Context, key string, e Entry) error
	// Get returns nil when the key is absent or past its trust bound.
	Get(ctx context.Context, key string) (*Entry, error)
}

// MemoryCache is the in-process implementation, used in standalone mode and
// in tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Put(ctx context.Context, key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().UTC().After(e.ValidUntil) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return &e, nil
}
