package db

import (
	"context"
	"testing"

	"fairbill/internal/config"
	"fairbill/internal/core"
	"fairbill/internal/types"
)

// Compile-time check that the probe plugs into the chassis health endpoint.
var _ core.HealthProbe = (*PoolProbe)(nil)

func TestNewPool_InvalidURL(t *testing.T) {
	cfg := config.DatabaseConfig{
		URL: types.SecretString("not a url \x00"),
	}

	pool, err := NewPool(context.Background(), cfg)
	if err == nil {
		pool.Close()
		t.Fatal("expected error for invalid database URL, got nil")
	}
	if pool != nil {
		t.Error("expected nil pool on error")
	}
}

func TestPoolProbe_Name(t *testing.T) {
	probe := NewPoolProbe(nil)
	if probe.Name() != "database" {
		t.Errorf("Name() = %q, want database", probe.Name())
	}
}
