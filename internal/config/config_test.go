package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查默认值
	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected DB_HOST default 'localhost', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("Expected DB_PORT default 5432, got %d", cfg.Database.Port)
	}

	if cfg.Database.Database != "positioner" {
		t.Errorf("Expected DB_NAME default 'positioner', got '%s'", cfg.Database.Database)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.Store.Backend != "postgres" {
		t.Errorf("Expected STORE_BACKEND default 'postgres', got '%s'", cfg.Store.Backend)
	}

	if cfg.Tracker.SweepInterval != 300 {
		t.Errorf("Expected sweep interval default 300, got %d", cfg.Tracker.SweepInterval)
	}

	if cfg.Tracker.ReconcileInterval != 0 {
		t.Errorf("Expected reconcile interval default 0, got %d", cfg.Tracker.ReconcileInterval)
	}

	if cfg.Tracker.EventStream != "positioner:events" {
		t.Errorf("Expected EVENT_STREAM default 'positioner:events', got '%s'", cfg.Tracker.EventStream)
	}

	if cfg.HTTP.Addr != ":8086" {
		t.Errorf("Expected HTTP_ADDR default ':8086', got '%s'", cfg.HTTP.Addr)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("STORE_BACKEND", "memory")
	os.Setenv("SWEEP_INTERVAL", "60")
	os.Setenv("EVENTS_ENABLED", "false")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_NAME")
		os.Unsetenv("STORE_BACKEND")
		os.Unsetenv("SWEEP_INTERVAL")
		os.Unsetenv("EVENTS_ENABLED")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// 检查环境变量值
	if cfg.Database.Host != "test-host" {
		t.Errorf("Expected DB_HOST 'test-host', got '%s'", cfg.Database.Host)
	}

	if cfg.Database.Database != "test-db" {
		t.Errorf("Expected DB_NAME 'test-db', got '%s'", cfg.Database.Database)
	}

	if cfg.Store.Backend != "memory" {
		t.Errorf("Expected STORE_BACKEND 'memory', got '%s'", cfg.Store.Backend)
	}

	if cfg.Tracker.SweepInterval != 60 {
		t.Errorf("Expected SWEEP_INTERVAL 60, got %d", cfg.Tracker.SweepInterval)
	}

	if cfg.Tracker.EventsEnabled {
		t.Errorf("Expected EVENTS_ENABLED false, got true")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_RestBackendRequiresBaseURL(t *testing.T) {
	os.Clearenv()
	os.Setenv("STORE_BACKEND", "rest")
	defer os.Unsetenv("STORE_BACKEND")

	if _, err := Load(); err == nil {
		t.Errorf("Expected error when STORE_BACKEND=rest without FHIR_BASE_URL")
	}

	os.Setenv("FHIR_BASE_URL", "https://api.example.com")
	defer os.Unsetenv("FHIR_BASE_URL")

	if _, err := Load(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
