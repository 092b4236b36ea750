package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.ControllerURL != "http://localhost:6161" {
		t.Errorf("expected ControllerURL http://localhost:6161, got %s", cfg.ControllerURL)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("expected WorkerConcurrency 10, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerPollInterval != time.Second {
		t.Errorf("expected WorkerPollInterval 1s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.WorkerMaxBackoff != 30*time.Second {
		t.Errorf("expected WorkerMaxBackoff 30s, got %v", cfg.WorkerMaxBackoff)
	}
	if cfg.WorkerHeartbeatInterval != 2*time.Minute {
		t.Errorf("expected WorkerHeartbeatInterval 2m, got %v", cfg.WorkerHeartbeatInterval)
	}
	if cfg.VisibilityExtension != 5*time.Minute {
		t.Errorf("expected VisibilityExtension 5m, got %v", cfg.VisibilityExtension)
	}
	if cfg.ShopLockTTL != 10*time.Minute {
		t.Errorf("expected ShopLockTTL 10m, got %v", cfg.ShopLockTTL)
	}
	if cfg.ShopLockPollInterval != 300*time.Millisecond {
		t.Errorf("expected ShopLockPollInterval 300ms, got %v", cfg.ShopLockPollInterval)
	}
	if cfg.AdminRPS != 4 || cfg.StorefrontRPS != 8 {
		t.Errorf("expected RPS 4/8, got %d/%d", cfg.AdminRPS, cfg.StorefrontRPS)
	}
	if cfg.StaleRunThreshold != 6*time.Hour {
		t.Errorf("expected StaleRunThreshold 6h, got %v", cfg.StaleRunThreshold)
	}
	if cfg.DigestDelay != 15*time.Minute {
		t.Errorf("expected DigestDelay 15m, got %v", cfg.DigestDelay)
	}
	if cfg.CompletedJobRetention != 1000 || cfg.FailedJobRetention != 5000 {
		t.Errorf("expected retention 1000/5000, got %d/%d", cfg.CompletedJobRetention, cfg.FailedJobRetention)
	}
	if cfg.ScreenshotCaptureMode != "warn_fail_only" {
		t.Errorf("expected capture mode warn_fail_only, got %s", cfg.ScreenshotCaptureMode)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("WORKER_CONCURRENCY", "5")
	t.Setenv("WORKER_POLL_INTERVAL", "2s")
	t.Setenv("RL_ADMIN_RPS", "2")
	t.Setenv("STALE_RUN_THRESHOLD", "30m")
	t.Setenv("INTERNAL_SECRET", "s3cret")
	t.Setenv("GCS_BUCKET", "shots")
	t.Setenv("SCREENSHOT_CAPTURE_MODE", "all")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("expected WorkerConcurrency 5, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerPollInterval != 2*time.Second {
		t.Errorf("expected WorkerPollInterval 2s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.AdminRPS != 2 {
		t.Errorf("expected AdminRPS 2, got %d", cfg.AdminRPS)
	}
	if cfg.StaleRunThreshold != 30*time.Minute {
		t.Errorf("expected StaleRunThreshold 30m, got %v", cfg.StaleRunThreshold)
	}
	if cfg.InternalSecret != "s3cret" {
		t.Errorf("expected InternalSecret from env, got %q", cfg.InternalSecret)
	}
	if cfg.GCSBucket != "shots" {
		t.Errorf("expected GCSBucket shots, got %q", cfg.GCSBucket)
	}
	if cfg.ScreenshotCaptureMode != "all" {
		t.Errorf("expected capture mode all, got %s", cfg.ScreenshotCaptureMode)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_InvalidCaptureMode(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SCREENSHOT_CAPTURE_MODE", "sometimes")

	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid capture mode")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shipsanity.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
worker_concurrency: 4
shop_lock_ttl: 2m
screenshot_capture_mode: fail_only
`)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("WORKER_CONCURRENCY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("expected WorkerConcurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.ShopLockTTL != 2*time.Minute {
		t.Errorf("expected ShopLockTTL 2m, got %v", cfg.ShopLockTTL)
	}
	if cfg.ScreenshotCaptureMode != "fail_only" {
		t.Errorf("expected capture mode fail_only, got %s", cfg.ScreenshotCaptureMode)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
http_port: 7777
`)

	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
