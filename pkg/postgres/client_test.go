package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: UniqueViolation, Constraint: "ux_positions_open"})
	if !IsUniqueViolation(err, "") || !IsUniqueViolation(err, "ux_positions_open") {
		t.Fatalf("expected unique violation to be detected")
	}
	if IsUniqueViolation(err, "trades_pkey") {
		t.Fatalf("expected constraint filter to apply")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}, "") || IsUniqueViolation(errors.New("x"), "") {
		t.Fatalf("expected other errors to be ignored")
	}
}

func TestNewClientRequiresDSN(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}
