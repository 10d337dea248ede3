package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/license-hub/license-hub/internal/domain/audit"
	"github.com/license-hub/license-hub/internal/domain/billing"
	"github.com/license-hub/license-hub/internal/domain/devicesession"
	"github.com/license-hub/license-hub/internal/domain/license"
	"github.com/license-hub/license-hub/internal/infrastructure/mailer"
)

const (
	defaultBillingPeriod = 30 * 24 * time.Hour

	storageRetries = 3
	retryBackoff   = 100 * time.Millisecond
)

// Config carries the grace windows the state machine runs on.
type Config struct {
	PaymentGrace  time.Duration
	CanceledGrace time.Duration
	TrialPeriod   time.Duration
	TrialGrace    time.Duration

	// GraceWarningLead is how long before graceUntil the warning mail goes
	// out. Zero disables the warning pass.
	GraceWarningLead time.Duration
}

// Service interprets verified webhook payloads and applies state transitions.
// It is the only writer of customer status and grace fields; every call site
// is gated by a ledger claim, so mutations run at most once per event id.
type Service struct {
	customers license.Repository
	sessions  devicesession.Repository
	auditRepo audit.Repository
	mail      mailer.Mailer
	cfg       Config
	logger    zerolog.Logger
}

// NewService creates an event processor.
func NewService(customers license.Repository, sessions devicesession.Repository, auditRepo audit.Repository, mail mailer.Mailer, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		customers: customers,
		sessions:  sessions,
		auditRepo: auditRepo,
		mail:      mail,
		cfg:       cfg,
		logger:    logger.With().Str("service", "processor").Logger(),
	}
}

// Process dispatches one claimed event. A nil return means the caller should
// commit the ledger row as completed; an error means a failed attempt.
func (s *Service) Process(ctx context.Context, env *billing.Envelope) error {
	now := time.Now().UTC()
	switch env.Type {
	case billing.EventCheckoutCompleted:
		return s.handleCheckout(ctx, env, now)
	case billing.EventPaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, env, now)
	case billing.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, env, now)
	case billing.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, env, now)
	default:
		return billing.ErrUnknownEvent
	}
}

func (s *Service) handleCheckout(ctx context.Context, env *billing.Envelope, now time.Time) error {
	periodEnd := now.Add(defaultBillingPeriod)
	if env.Data.Object.CurrentPeriodEnd != nil {
		periodEnd = env.Data.Object.CurrentPeriodEnd.UTC()
	}

	existing, err := s.getByEmail(ctx, env.Data.Object.Email)
	if err != nil {
		return err
	}
	if existing == nil {
		token, err := license.GenerateUnlockToken()
		if err != nil {
			return fmt.Errorf("generate unlock token: %w", err)
		}
		hash, err := license.HashUnlockToken(token)
		if err != nil {
			return fmt.Errorf("hash unlock token: %w", err)
		}
		c := &license.Customer{
			CustomerID:       uuid.New(),
			Email:            env.Data.Object.Email,
			SubscriptionID:   env.Data.Object.SubscriptionID,
			Status:           license.StatusActive,
			CurrentPeriodEnd: &periodEnd,
			UnlockTokenHash:  hash,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.withRetry(ctx, "create customer", func() error {
			return s.customers.Create(ctx, c)
		}); err != nil {
			return err
		}
		s.recordTransition(ctx, c.CustomerID, "", license.StatusActive, audit.CauseCheckoutCompleted, env.ID, now)
		s.send(ctx, mailer.Message{CustomerID: c.CustomerID, Email: c.Email, Kind: mailer.KindActivation, UnlockToken: token})
		s.logger.Info().Str("customer_id", c.CustomerID.String()).Str("event_id", env.ID).Msg("customer activated")
		return nil
	}

	// Re-subscription: fresh activation, grace fields cleared, token kept.
	if err := s.withRetry(ctx, "reactivate customer", func() error {
		return s.customers.MarkActive(ctx, existing.CustomerID, env.Data.Object.SubscriptionID, &periodEnd, now)
	}); err != nil {
		return err
	}
	s.recordTransition(ctx, existing.CustomerID, existing.Status, license.StatusActive, audit.CauseCheckoutCompleted, env.ID, now)
	s.send(ctx, mailer.Message{CustomerID: existing.CustomerID, Email: existing.Email, Kind: mailer.KindActivation})
	return nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, env *billing.Envelope, now time.Time) error {
	c, err := s.getByEmail(ctx, env.Data.Object.Email)
	if err != nil {
		return err
	}
	if c == nil {
		return license.ErrCustomerNotFound
	}
	periodEnd := now.Add(defaultBillingPeriod)
	if env.Data.Object.CurrentPeriodEnd != nil {
		periodEnd = env.Data.Object.CurrentPeriodEnd.UTC()
	}

	if c.Status == license.StatusPaymentFailedGrace && c.GraceUntil != nil && !now.After(*c.GraceUntil) {
		if err := s.withRetry(ctx, "recover customer", func() error {
			return s.customers.MarkActive(ctx, c.CustomerID, c.SubscriptionID, &periodEnd, now)
		}); err != nil {
			return err
		}
		s.recordTransition(ctx, c.CustomerID, c.Status, license.StatusActive, audit.CausePaymentSucceeded, env.ID, now)
		return nil
	}

	return s.withRetry(ctx, "extend period", func() error {
		return s.customers.ExtendPeriod(ctx, c.CustomerID, periodEnd, now)
	})
}

func (s *Service) handlePaymentFailed(ctx context.Context, env *billing.Envelope, now time.Time) error {
	c, err := s.getByEmail(ctx, env.Data.Object.Email)
	if err != nil {
		return err
	}
	if c == nil {
		return license.ErrCustomerNotFound
	}
	graceUntil := now.Add(s.cfg.PaymentGrace)
	var applied bool
	if err := s.withRetry(ctx, "mark payment failed", func() error {
		var err error
		applied, err = s.customers.MarkPaymentFailed(ctx, c.CustomerID, now, graceUntil, now)
		return err
	}); err != nil {
		return err
	}
	if !applied {
		// Already in grace (or not active): repeats never extend the window.
		s.logger.Debug().Str("customer_id", c.CustomerID.String()).Str("event_id", env.ID).Msg("payment_failed ignored")
		return nil
	}
	s.recordTransition(ctx, c.CustomerID, c.Status, license.StatusPaymentFailedGrace, audit.CausePaymentFailed, env.ID, now)
	s.send(ctx, mailer.Message{CustomerID: c.CustomerID, Email: c.Email, Kind: mailer.KindPaymentFailed})
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, env *billing.Envelope, now time.Time) error {
	c, err := s.getByEmail(ctx, env.Data.Object.Email)
	if err != nil {
		return err
	}
	if c == nil {
		return license.ErrCustomerNotFound
	}
	graceUntil := now.Add(s.cfg.CanceledGrace)
	var applied bool
	if err := s.withRetry(ctx, "mark canceled", func() error {
		var err error
		applied, err = s.customers.MarkCanceled(ctx, c.CustomerID, graceUntil, now)
		return err
	}); err != nil {
		return err
	}
	if applied {
		s.recordTransition(ctx, c.CustomerID, c.Status, license.StatusCanceledGrace, audit.CauseSubscriptionDeleted, env.ID, now)
		s.send(ctx, mailer.Message{CustomerID: c.CustomerID, Email: c.Email, Kind: mailer.KindCanceled})
	}
	// Cancellation always pulls the device session, even on a replayed event
	// where the status write was a no-op.
	revoked, err := s.sessions.RevokeActive(ctx, c.CustomerID, now)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if revoked != nil {
		s.logger.Info().Str("customer_id", c.CustomerID.String()).Str("session_id", revoked.SessionID.String()).Msg("session revoked on cancellation")
	}
	return nil
}

// StartTrial creates a trial customer and returns the one-time unlock token.
// A non-empty hardwareID binds the machine immediately.
func (s *Service) StartTrial(ctx context.Context, email, hardwareID string) (*license.Customer, string, error) {
	existing, err := s.getByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", license.ErrEmailTaken
	}
	token, err := license.GenerateUnlockToken()
	if err != nil {
		return nil, "", err
	}
	hash, err := license.HashUnlockToken(token)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	c := &license.Customer{
		CustomerID:      uuid.New(),
		Email:           email,
		Status:          license.StatusTrial,
		TrialStartedAt:  &now,
		UnlockTokenHash: hash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if hardwareID != "" {
		c.HardwareID = &hardwareID
	}
	if err := s.customers.Create(ctx, c); err != nil {
		return nil, "", err
	}
	s.recordTransition(ctx, c.CustomerID, "", license.StatusTrial, audit.CauseTrialStarted, "", now)
	return c, token, nil
}

// ExpireLapsed persists the expired transition for overdue trial and grace
// rows, and warns customers whose grace window is about to close. Validation
// derives expiry on read; this sweep keeps stored status in step while
// leaving the processor the only status writer.
func (s *Service) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	trialCutoff := now.Add(-(s.cfg.TrialPeriod + s.cfg.TrialGrace))
	lapsed, err := s.customers.ListLapsed(ctx, now, trialCutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("list lapsed: %w", err)
	}
	expired := 0
	for _, c := range lapsed {
		applied, err := s.customers.MarkExpired(ctx, c.CustomerID, now)
		if err != nil {
			return expired, fmt.Errorf("mark expired: %w", err)
		}
		if !applied {
			continue
		}
		expired++
		s.recordTransition(ctx, c.CustomerID, c.Status, license.StatusExpired, audit.CauseLapseSweep, "", now)
	}
	if err := s.warnExpiringGrace(ctx, now); err != nil {
		return expired, err
	}
	return expired, nil
}

// warnExpiringGrace mails each grace customer once as graceUntil approaches.
// The conditional MarkGraceWarned keeps repeated sweeps from re-sending;
// recovery clears the mark so a later grace window warns again.
func (s *Service) warnExpiringGrace(ctx context.Context, now time.Time) error {
	if s.cfg.GraceWarningLead <= 0 {
		return nil
	}
	expiring, err := s.customers.ListGraceExpiring(ctx, now, now.Add(s.cfg.GraceWarningLead), 100)
	if err != nil {
		return fmt.Errorf("list expiring grace: %w", err)
	}
	for _, c := range expiring {
		applied, err := s.customers.MarkGraceWarned(ctx, c.CustomerID, now)
		if err != nil {
			return fmt.Errorf("mark grace warned: %w", err)
		}
		if !applied {
			continue
		}
		s.send(ctx, mailer.Message{CustomerID: c.CustomerID, Email: c.Email, Kind: mailer.KindGraceWarning})
		s.logger.Info().Str("customer_id", c.CustomerID.String()).Time("grace_until", *c.GraceUntil).Msg("grace warning sent")
	}
	return nil
}

// RecordDeadEvent surfaces a permanently failed event for operators.
func (s *Service) RecordDeadEvent(ctx context.Context, eventID string, attempts int) {
	s.logger.Error().Str("event_id", eventID).Int("attempts", attempts).Msg("event permanently failed")
	entry := &audit.Entry{
		CustomerID: uuid.Nil,
		Cause:      audit.CauseEventDead,
		Detail:     eventID,
		At:         time.Now().UTC(),
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to record dead event")
	}
}

func (s *Service) getByEmail(ctx context.Context, email string) (*license.Customer, error) {
	var c *license.Customer
	err := s.withRetry(ctx, "get customer", func() error {
		var err error
		c, err = s.customers.GetByEmail(ctx, email)
		return err
	})
	return c, err
}

func (s *Service) recordTransition(ctx context.Context, customerID uuid.UUID, from, to license.Status, cause audit.Cause, eventID string, at time.Time) {
	entry := &audit.Entry{
		CustomerID: customerID,
		FromStatus: from,
		ToStatus:   to,
		Cause:      cause,
		Detail:     eventID,
		At:         at,
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("customer_id", customerID.String()).Msg("failed to append audit entry")
	}
}

func (s *Service) send(ctx context.Context, msg mailer.Message) {
	if err := s.mail.Send(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("email", msg.Email).Str("kind", string(msg.Kind)).Msg("mail send failed")
	}
}

// withRetry runs fn up to storageRetries times with doubling backoff before
// surfacing the error as a failed processing attempt.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	backoff := retryBackoff
	for attempt := 1; attempt <= storageRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if err == license.ErrCustomerNotFound || attempt == storageRetries {
			break
		}
		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("storage error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
