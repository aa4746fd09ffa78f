package app

import (
	"context"
	"path/filepath"
	"testing"

	"schoolchat/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Auth.Secret = "test-secret"
	return cfg
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Secret = ""

	if _, err := NewApplication(cfg); err == nil {
		t.Error("Expected configuration validation failure")
	}
}

func TestNewApplication_WiresComponents(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer func() { _ = application.Stop(context.Background()) }()

	if application.Addr() == "" {
		t.Error("Application has no listen address")
	}
	if application.store == nil || application.hub == nil || application.gateway == nil {
		t.Error("Component wiring incomplete")
	}
}
