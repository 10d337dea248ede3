package device

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/license-hub/license-hub/internal/domain/devicesession"
)

// Service enforces the single-active-device policy. Takeover is
// unconditional: the newest activation always wins, with no negotiation.
type Service struct {
	repo              devicesession.Repository
	heartbeatInterval time.Duration
	logger            zerolog.Logger
}

// NewService creates a device session service.
func NewService(repo devicesession.Repository, heartbeatInterval time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:              repo,
		heartbeatInterval: heartbeatInterval,
		logger:            logger.With().Str("service", "device").Logger(),
	}
}

// OpenSession activates the fingerprint for the customer, revoking whatever
// session was active. Concurrent calls for the same customer leave exactly
// one winner; losing is not an error, it is the takeover working.
func (s *Service) OpenSession(ctx context.Context, customerID uuid.UUID, fingerprint string) (*devicesession.Session, error) {
	now := time.Now().UTC()
	sess := &devicesession.Session{
		SessionID:         uuid.New(),
		CustomerID:        customerID,
		DeviceFingerprint: fingerprint,
		Status:            devicesession.StatusActive,
		CreatedAt:         now,
		LastHeartbeatAt:   now,
	}
	if err := s.repo.TakeOver(ctx, sess); err != nil {
		return nil, fmt.Errorf("session takeover: %w", err)
	}
	s.logger.Info().
		Str("customer_id", customerID.String()).
		Str("session_id", sess.SessionID.String()).
		Msg("session opened")
	return sess, nil
}

// Heartbeat keeps a session alive. A session that already went stale is
// revoked here rather than by a background sweep.
func (s *Service) Heartbeat(ctx context.Context, sessionID uuid.UUID) error {
	now := time.Now().UTC()
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Status != devicesession.StatusActive {
		return devicesession.ErrSessionNotFound
	}
	if sess.Stale(now, s.heartbeatInterval) {
		_ = s.repo.Revoke(ctx, sessionID, now)
		return devicesession.ErrSessionNotFound
	}
	ok, err := s.repo.Heartbeat(ctx, sessionID, now)
	if err != nil {
		return err
	}
	if !ok {
		return devicesession.ErrSessionNotFound
	}
	return nil
}

// Revoke terminates a session. Idempotent.
func (s *Service) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	return s.repo.Revoke(ctx, sessionID, time.Now().UTC())
}

// Active returns the customer's live session, lazily revoking it when the
// heartbeat window has lapsed.
func (s *Service) Active(ctx context.Context, customerID uuid.UUID) (*devicesession.Session, error) {
	now := time.Now().UTC()
	sess, err := s.repo.GetActive(ctx, customerID)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.Stale(now, s.heartbeatInterval) {
		if err := s.repo.Revoke(ctx, sess.SessionID, now); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}
