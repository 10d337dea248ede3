package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/license-hub/license-hub/internal/domain/audit"
)

// AuditRepository implements audit.Repository over an append-only table.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO audit_log (customer_id, from_status, to_status, cause, detail, at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, e.CustomerID, e.FromStatus, e.ToStatus, e.Cause, e.Detail, e.At)
	return row.Scan(&e.ID)
}

func (r *AuditRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*audit.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, from_status, to_status, cause, detail, at
		FROM audit_log WHERE customer_id=$1
		ORDER BY id DESC LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.FromStatus, &e.ToStatus, &e.Cause, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
