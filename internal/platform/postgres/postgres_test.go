package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestConfigValidate(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigFromEnv_SupabaseFallback(t *testing.T) {
	t.Setenv("NEXUS_DATABASE_URL", "")
	t.Setenv("SUPABASE_DB_URL", "postgres://svc@db.supabase.test:5432/postgres")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != "postgres://svc@db.supabase.test:5432/postgres" {
		t.Fatalf("URL=%q, want supabase url", cfg.URL)
	}
}

func TestConfigValidate_IdleExceedsOpen(t *testing.T) {
	cfg := Config{URL: defaultURL, PingTimeout: 1, MaxOpenConns: 1, MaxIdleConns: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("23503 is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not a unique violation")
	}
}
