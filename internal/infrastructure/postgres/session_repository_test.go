package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected bare 23505 to match")
	}
	wrapped := fmt.Errorf("insert session: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Fatal("expected wrapped 23505 to match")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation must not trigger a takeover retry")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Fatal("plain errors must not trigger a takeover retry")
	}
	if isUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
}
