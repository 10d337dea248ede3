package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/license-hub/license-hub/internal/domain/billing"
)

// Service is the exactly-once gate in front of the event processor. Claim
// decides whether business logic may run for an event id; Commit seals the
// outcome, guarded by the lock token so a reclaimed lock cannot be committed
// by a stale worker.
type Service struct {
	repo        billing.Repository
	lease       time.Duration
	maxAttempts int
	logger      zerolog.Logger
}

// NewService creates a ledger service.
func NewService(repo billing.Repository, lease time.Duration, maxAttempts int, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		lease:       lease,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("service", "ledger").Logger(),
	}
}

// Claim attempts to take the processing lock for an event id.
func (s *Service) Claim(ctx context.Context, eventID string, eventType billing.EventType, payloadHash string) (billing.ClaimResult, uuid.UUID, error) {
	now := time.Now().UTC()
	token := uuid.New()
	ev := &billing.Event{
		EventID:       eventID,
		EventType:     eventType,
		PayloadHash:   payloadHash,
		Status:        billing.StatusProcessing,
		ReceivedAt:    now,
		LockToken:     token,
		LockExpiresAt: now.Add(s.lease),
	}
	inserted, existing, err := s.repo.InsertIfAbsent(ctx, ev)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("ledger insert: %w", err)
	}
	if inserted {
		return billing.ClaimWon, token, nil
	}

	switch existing.Status {
	case billing.StatusCompleted:
		return billing.ClaimAlreadyCompleted, uuid.Nil, nil
	case billing.StatusProcessing:
		if !existing.LeaseExpired(now) {
			return billing.ClaimAlreadyProcessing, uuid.Nil, nil
		}
	case billing.StatusFailed:
		if existing.AttemptCount >= s.maxAttempts {
			return billing.ClaimExhausted, uuid.Nil, nil
		}
	}

	// Expired lease or retryable failure: try to take over the lock.
	ok, err := s.repo.Reclaim(ctx, eventID, token, now.Add(s.lease), now)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("ledger reclaim: %w", err)
	}
	if !ok {
		// Lost the race to another worker, or the row completed meanwhile.
		return billing.ClaimAlreadyProcessing, uuid.Nil, nil
	}
	s.logger.Warn().Str("event_id", eventID).Int("attempts", existing.AttemptCount).Msg("reclaimed ledger lock")
	return billing.ClaimReclaimed, token, nil
}

// Commit seals the outcome of a claimed event. succeeded=false records a
// failed attempt, leaving the row re-claimable until attempts run out.
func (s *Service) Commit(ctx context.Context, eventID string, lockToken uuid.UUID, succeeded bool) error {
	now := time.Now().UTC()
	var ok bool
	var err error
	if succeeded {
		ok, err = s.repo.Complete(ctx, eventID, lockToken, now)
	} else {
		ok, err = s.repo.Fail(ctx, eventID, lockToken, now)
	}
	if err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	if !ok {
		return billing.ErrStaleLock
	}
	return nil
}

// Exhausted reports whether an event id has permanently failed.
func (s *Service) Exhausted(ctx context.Context, eventID string) (bool, error) {
	ev, err := s.repo.Get(ctx, eventID)
	if err != nil {
		return false, err
	}
	return ev != nil && ev.Status == billing.StatusFailed && ev.AttemptCount >= s.maxAttempts, nil
}

// MaxAttempts exposes the retry cap for callers that report dead events.
func (s *Service) MaxAttempts() int { return s.maxAttempts }
