package validation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/license-hub/license-hub/internal/domain/license"
	"github.com/license-hub/license-hub/internal/infrastructure/cache"
)

// Mode tells the client whether the verdict is fresh or served from the
// bounded offline cache.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Reason values for valid:false responses. The client sees only these; the
// retry and idempotency machinery is never exposed.
const (
	ReasonNotFound         = "not_found"
	ReasonTokenMismatch    = "token_mismatch"
	ReasonHardwareMismatch = "hardware_mismatch"
	ReasonExpired          = "expired"
	ReasonOfflineCap       = "offline_cap_exceeded"
)

// Result is the access decision returned to the device app. CustomerID is
// for internal callers (session opening) and never serialized.
type Result struct {
	Valid      bool           `json:"valid"`
	Status     license.Status `json:"status,omitempty"`
	GraceUntil *time.Time     `json:"graceUntil,omitempty"`
	Mode       Mode           `json:"mode"`
	Reason     string         `json:"reason,omitempty"`
	CustomerID uuid.UUID      `json:"-"`
}

// Service is the read path consumed by the client app. It never writes
// license status; its only mutations are the first-use hardware bind and
// the lastValidatedAt touch.
type Service struct {
	customers license.Repository
	cache     cache.ValidationCache
	clk       license.Clock
	logger    zerolog.Logger
}

// NewService creates a validation service.
func NewService(customers license.Repository, validationCache cache.ValidationCache, clk license.Clock, logger zerolog.Logger) *Service {
	return &Service{
		customers: customers,
		cache:     validationCache,
		clk:       clk,
		logger:    logger.With().Str("service", "validation").Logger(),
	}
}

// Validate checks token and hardware binding, applies the access policy, and
// falls back to the bounded offline cache when the store is unreachable.
func (s *Service) Validate(ctx context.Context, email, token, hardwareID string) (*Result, error) {
	now := time.Now().UTC()

	c, err := s.customers.GetByEmail(ctx, email)
	if err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("store unreachable, trying offline cache")
		return s.validateOffline(ctx, email, token, hardwareID, now), nil
	}
	if c == nil {
		return &Result{Valid: false, Mode: ModeOnline, Reason: ReasonNotFound}, nil
	}
	if !license.VerifyUnlockToken(c.UnlockTokenHash, token) {
		return &Result{Valid: false, Mode: ModeOnline, Reason: ReasonTokenMismatch}, nil
	}

	if c.HardwareID == nil {
		bound, err := s.customers.BindHardware(ctx, c.CustomerID, hardwareID, now)
		if err != nil {
			return nil, err
		}
		if !bound {
			// Lost a concurrent first-bind race; re-read and compare.
			c, err = s.customers.GetByEmail(ctx, email)
			if err != nil || c == nil || c.HardwareID == nil || *c.HardwareID != hardwareID {
				return &Result{Valid: false, Mode: ModeOnline, Reason: ReasonHardwareMismatch}, nil
			}
		} else {
			c.HardwareID = &hardwareID
		}
	} else if *c.HardwareID != hardwareID {
		return &Result{Valid: false, Mode: ModeOnline, Reason: ReasonHardwareMismatch}, nil
	}

	status := c.EffectiveStatus(now, s.clk)
	res := &Result{
		Status:     status,
		GraceUntil: c.GraceUntil,
		Mode:       ModeOnline,
		CustomerID: c.CustomerID,
	}
	if !c.AccessAt(now, s.clk) {
		res.Reason = ReasonExpired
		return res, nil
	}
	res.Valid = true

	if err := s.customers.TouchValidated(ctx, c.CustomerID, now); err != nil {
		s.logger.Warn().Err(err).Str("customer_id", c.CustomerID.String()).Msg("failed to touch lastValidatedAt")
	}
	entry := cache.Entry{
		CustomerID:      c.CustomerID,
		Status:          status,
		GraceUntil:      c.GraceUntil,
		UnlockTokenHash: c.UnlockTokenHash,
		HardwareID:      hardwareID,
		ValidatedAt:     now,
		ValidUntil:      c.OfflineValidUntil(now, s.clk),
	}
	if err := s.cache.Put(ctx, email, entry); err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("failed to cache validation")
	}
	return res, nil
}

// validateOffline serves a verdict from the cached response, bounded by the
// offline cap. The cached entry still verifies token and hardware so a
// disconnected store never loosens the checks.
func (s *Service) validateOffline(ctx context.Context, email, token, hardwareID string, now time.Time) *Result {
	e, err := s.cache.Get(ctx, email)
	if err != nil || e == nil {
		return &Result{Valid: false, Mode: ModeOffline, Reason: ReasonOfflineCap}
	}
	if !license.VerifyUnlockToken(e.UnlockTokenHash, token) {
		return &Result{Valid: false, Mode: ModeOffline, Reason: ReasonTokenMismatch}
	}
	if e.HardwareID != hardwareID {
		return &Result{Valid: false, Mode: ModeOffline, Reason: ReasonHardwareMismatch}
	}
	if now.After(e.ValidUntil) {
		return &Result{Valid: false, Mode: ModeOffline, Reason: ReasonOfflineCap}
	}
	return &Result{
		Valid:      true,
		Status:     e.Status,
		GraceUntil: e.GraceUntil,
		Mode:       ModeOffline,
		CustomerID: e.CustomerID,
	}
}
