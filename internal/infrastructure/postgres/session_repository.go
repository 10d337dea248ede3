package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/license-hub/license-hub/internal/domain/devicesession"
)

const takeoverAttempts = 3

// SessionRepository implements devicesession.Repository. TakeOver runs as a
// revoke+insert transaction; when there is no prior active row two concurrent
// takeovers both pass the revoke and collide on the single-active index, so
// the loser reruns the transaction and revokes the winner. Last writer wins.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) TakeOver(ctx context.Context, s *devicesession.Session) error {
	var err error
	for attempt := 0; attempt < takeoverAttempts; attempt++ {
		if err = r.takeOver(ctx, s); err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

func (r *SessionRepository) takeOver(ctx context.Context, s *devicesession.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE device_sessions SET status=$2, revoked_at=$3
		WHERE customer_id=$1 AND status=$4
	`, s.CustomerID, devicesession.StatusRevoked, s.CreatedAt, devicesession.StatusActive); err != nil {
		return fmt.Errorf("revoke previous session: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO device_sessions
		(session_id, customer_id, device_fingerprint, status, created_at, last_heartbeat_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, s.SessionID, s.CustomerID, s.DeviceFingerprint, s.Status, s.CreatedAt, s.LastHeartbeatAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit(ctx)
}

// isUniqueViolation reports whether err is a 23505 from the single-active
// session index.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*devicesession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, customer_id, device_fingerprint, status, created_at, last_heartbeat_at, revoked_at
		FROM device_sessions WHERE session_id=$1
	`, sessionID)
	return scanDeviceSession(row)
}

func (r *SessionRepository) GetActive(ctx context.Context, customerID uuid.UUID) (*devicesession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, customer_id, device_fingerprint, status, created_at, last_heartbeat_at, revoked_at
		FROM device_sessions WHERE customer_id=$1 AND status=$2
	`, customerID, devicesession.StatusActive)
	return scanDeviceSession(row)
}

func (r *SessionRepository) Heartbeat(ctx context.Context, sessionID uuid.UUID, at time.Time) (bool, error) {
	res, err := r.pool.Exec(ctx, `
		UPDATE device_sessions SET last_heartbeat_at=$2
		WHERE session_id=$1 AND status=$3
	`, sessionID, at, devicesession.StatusActive)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() == 1, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE device_sessions SET status=$2, revoked_at=$3
		WHERE session_id=$1 AND status=$4
	`, sessionID, devicesession.StatusRevoked, at, devicesession.StatusActive)
	return err
}

func (r *SessionRepository) RevokeActive(ctx context.Context, customerID uuid.UUID, at time.Time) (*devicesession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE device_sessions SET status=$2, revoked_at=$3
		WHERE customer_id=$1 AND status=$4
		RETURNING session_id, customer_id, device_fingerprint, status, created_at, last_heartbeat_at, revoked_at
	`, customerID, devicesession.StatusRevoked, at, devicesession.StatusActive)
	s, err := scanDeviceSession(row)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanDeviceSession(row pgx.Row) (*devicesession.Session, error) {
	var s devicesession.Session
	if err := row.Scan(&s.SessionID, &s.CustomerID, &s.DeviceFingerprint, &s.Status, &s.CreatedAt, &s.LastHeartbeatAt, &s.RevokedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
