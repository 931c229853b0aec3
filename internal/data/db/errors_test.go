package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"serialization", fmt.Errorf("upsert: %w", &pgconn.PgError{Code: "40001"}), true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient: want=%v got=%v", tc.want, got)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("wrapped unique violation not detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("serialization failure reported as unique violation")
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5433", User: "app", Password: "p@ss word", Name: "workbook", SSLMode: "require"}
	want := "postgres://app:p%40ss%20word@db:5433/workbook?sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Fatalf("dsn: want=%s got=%s", want, got)
	}
}
