package mailer

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_mailer.go -package=mocks . Mailer

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind is the notification type. The processor only calls Send when a
// transition actually applied and only from the ledger-guarded commit path,
// so each (customer, kind) pair goes out at most once per transition even
// under webhook redelivery.
type Kind string

const (
	KindActivation    Kind = "activation"
	KindPaymentFailed Kind = "payment_failed"
	KindGraceWarning  Kind = "grace_warning"
	KindCanceled      Kind = "canceled"
)

// Message is what the external email collaborator needs. UnlockToken is set
// only on activation and exists nowhere else in plaintext.
type Message struct {
	CustomerID  uuid.UUID
	Email       string
	Kind        Kind
	UnlockToken string
}

// Mailer is the transactional-email collaborator. Composition and delivery
// live outside this core.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs sends instead of delivering; the default wiring until a
// real provider is configured.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("service", "mailer").Logger()}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info().
		Str("customer_id", msg.CustomerID.String()).
		Str("email", msg.Email).
		Str("kind", string(msg.Kind)).
		Msg("mail send")
	return nil
}
