package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPoolOptions(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/db")
	if err != nil {
		t.Fatal(err)
	}
	WithSearchPath("tenant_a")(cfg)
	WithApplicationName("txengine")(cfg)

	if got := cfg.ConnConfig.RuntimeParams["search_path"]; got != "tenant_a" {
		t.Errorf("search_path = %q", got)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != "txengine" {
		t.Errorf("application_name = %q", got)
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	if _, err := NewPool(context.Background(), "://not a url", 1, 0); err == nil {
		t.Error("expected error for invalid url")
	}
}
