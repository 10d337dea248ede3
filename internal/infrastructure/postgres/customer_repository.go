package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/license-hub/license-hub/internal/domain/license"
)

// CustomerRepository implements license.Repository. Status guards and
// GREATEST() keep replayed or out-of-order events from regressing state.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

const customerColumns = `customer_id, email, hardware_id, subscription_id, status, trial_started_at,
	current_period_end, payment_failed_at, grace_until, grace_warned_at, unlock_token_hash, last_validated_at, created_at, updated_at`

func (r *CustomerRepository) Create(ctx context.Context, c *license.Customer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO customers
		(customer_id, email, hardware_id, subscription_id, status, trial_started_at,
		 current_period_end, payment_failed_at, grace_until, grace_warned_at, unlock_token_hash, last_validated_at, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.CustomerID, c.Email, c.HardwareID, c.SubscriptionID, c.Status, c.TrialStartedAt,
		c.CurrentPeriodEnd, c.PaymentFailedAt, c.GraceUntil, c.GraceWarnedAt, c.UnlockTokenHash, c.LastValidatedAt, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *CustomerRepository) GetByID(ctx context.Context, customerID uuid.UUID) (*license.Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE customer_id=$1`, customerID)
	return scanCustomer(row)
}

func (r *CustomerRepository) GetByEmail(ctx context.Context, email string) (*license.Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE email=lower($1)`, email)
	return scanCustomer(row)
}

func (r *CustomerRepository) MarkActive(ctx context.Context, customerID uuid.UUID, subscriptionID string, periodEnd *time.Time, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE customers
		SET status=$2,
		    subscription_id=COALESCE(NULLIF($3,''), subscription_id),
		    current_period_end=GREATEST(COALESCE(current_period_end, 'epoch'::timestamptz), COALESCE($4, 'epoch'::timestamptz)),
		    payment_failed_at=NULL,
		    grace_until=NULL,
		    grace_warned_at=NULL,
		    updated_at=$5
		WHERE customer_id=$1
	`, customerID, license.StatusActive, subscriptionID, periodEnd, now)
	return err
}

func (r *CustomerRepository) ExtendPeriod(ctx context.Context, customerID uuid.UUID, periodEnd time.Time, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE customers
		SET current_period_end=GREATEST(COALESCE(current_period_end, 'epoch'::timestamptz), $2),
		    updated_at=$3
		WHERE customer_id=$1
	`, customerID, periodEnd, now)
	return err
}

func (r *CustomerRepository) MarkPaymentFailed(ctx context.Context, customerID uuid.UUID, failedAt, graceUntil, now time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE customers
		SET status=$2, payment_failed_at=$3, grace_until=$4, updated_at=$5
		WHERE customer_id=$1 AND status=$6
	`, customerID, license.StatusPaymentFailedGrace, failedAt, graceUntil, now, license.StatusActive)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *CustomerRepository) MarkCanceled(ctx context.Context, customerID uuid.UUID, graceUntil, now time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE customers
		SET status=$2,
		    grace_until=GREATEST(COALESCE(grace_until, 'epoch'::timestamptz), $3),
		    updated_at=$4
		WHERE customer_id=$1 AND status IN ($5, $6)
	`, customerID, license.StatusCanceledGrace, graceUntil, now, license.StatusActive, license.StatusPaymentFailedGrace)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *CustomerRepository) MarkExpired(ctx context.Context, customerID uuid.UUID, now time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE customers
		SET status=$2, updated_at=$3
		WHERE customer_id=$1 AND status IN ($4, $5, $6)
	`, customerID, license.StatusExpired, now,
		license.StatusTrial, license.StatusPaymentFailedGrace, license.StatusCanceledGrace)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *CustomerRepository) BindHardware(ctx context.Context, customerID uuid.UUID, hardwareID string, now time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE customers SET hardware_id=$2, updated_at=$3
		WHERE customer_id=$1 AND hardware_id IS NULL
	`, customerID, hardwareID, now)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *CustomerRepository) TouchValidated(ctx context.Context, customerID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE customers SET last_validated_at=$2 WHERE customer_id=$1`, customerID, now)
	return err
}

func (r *CustomerRepository) ListLapsed(ctx context.Context, now time.Time, trialCutoff time.Time, limit int) ([]*license.Customer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE (status=$1 AND trial_started_at < $2)
		   OR (status IN ($3, $4) AND grace_until < $5)
		LIMIT $6
	`, license.StatusTrial, trialCutoff, license.StatusPaymentFailedGrace, license.StatusCanceledGrace, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*license.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CustomerRepository) ListGraceExpiring(ctx context.Context, now, until time.Time, limit int) ([]*license.Customer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE status IN ($1, $2) AND grace_warned_at IS NULL
		  AND grace_until > $3 AND grace_until <= $4
		LIMIT $5
	`, license.StatusPaymentFailedGrace, license.StatusCanceledGrace, now, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*license.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CustomerRepository) MarkGraceWarned(ctx context.Context, customerID uuid.UUID, now time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE customers SET grace_warned_at=$2, updated_at=$2
		WHERE customer_id=$1 AND status IN ($3, $4) AND grace_warned_at IS NULL
	`, customerID, now, license.StatusPaymentFailedGrace, license.StatusCanceledGrace)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func scanCustomer(row pgx.Row) (*license.Customer, error) {
	var c license.Customer
	if err := row.Scan(&c.CustomerID, &c.Email, &c.HardwareID, &c.SubscriptionID, &c.Status, &c.TrialStartedAt,
		&c.CurrentPeriodEnd, &c.PaymentFailedAt, &c.GraceUntil, &c.GraceWarnedAt, &c.UnlockTokenHash, &c.LastValidatedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}
