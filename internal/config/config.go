// Package config loads process configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// Bearer secret guarding the internal API
	InternalSecret string

	// URL of the controller, used by tooling (e.g., "http://localhost:6161")
	ControllerURL string

	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration
	VisibilityExtension     time.Duration
	JobTimeout              time.Duration

	ShopLockTTL          time.Duration
	ShopLockPollInterval time.Duration

	AdminRPS      int
	StorefrontRPS int

	StaleRunThreshold     time.Duration
	DigestDelay           time.Duration
	CompletedJobRetention int
	FailedJobRetention    int

	AdminAPIVersion      string
	StorefrontAPIVersion string

	// Screenshot capture
	ScreenshotCaptureMode string
	ScreenshotServiceURL  string
	StorefrontPassword    string
	GCSBucket             string
	GCSPublicBaseURL      string

	GoogleGeocodingAPIKey string

	// Notifications
	ResendAPIKey string
	ResendFrom   string

	OTELEndpoint string
	LogLevel     string
}

// envKeys maps config keys to environment variables whose names differ from the key.
var envKeys = map[string]string{
	"http_port":     "PORT",
	"admin_rps":     "RL_ADMIN_RPS",
	"sf_rps":        "RL_STOREFRONT_RPS",
	"otel_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("worker_concurrency", 10)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("visibility_extension", 5*time.Minute)
	v.SetDefault("job_timeout", 15*time.Minute)
	v.SetDefault("shop_lock_ttl", 10*time.Minute)
	v.SetDefault("shop_lock_poll_interval", 300*time.Millisecond)
	v.SetDefault("admin_rps", 4)
	v.SetDefault("sf_rps", 8)
	v.SetDefault("stale_run_threshold", 6*time.Hour)
	v.SetDefault("digest_delay", 15*time.Minute)
	v.SetDefault("completed_job_retention", 1000)
	v.SetDefault("failed_job_retention", 5000)
	v.SetDefault("admin_api_version", "2025-07")
	v.SetDefault("storefront_api_version", "2025-07")
	v.SetDefault("screenshot_capture_mode", "warn_fail_only")
	v.SetDefault("resend_from", "Shipping Sanity <noreply@shipsanity.app>")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")
}

// Load reads configuration. path names a YAML file; when empty, shipsanity.yaml
// in the working directory is used if present. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("shipsanity")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:             v.GetString("database_url"),
		HTTPPort:                v.GetInt("http_port"),
		InternalSecret:          v.GetString("internal_secret"),
		ControllerURL:           v.GetString("controller_url"),
		WorkerConcurrency:       v.GetInt("worker_concurrency"),
		WorkerPollInterval:      v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:        v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval: v.GetDuration("worker_heartbeat_interval"),
		VisibilityExtension:     v.GetDuration("visibility_extension"),
		JobTimeout:              v.GetDuration("job_timeout"),
		ShopLockTTL:             v.GetDuration("shop_lock_ttl"),
		ShopLockPollInterval:    v.GetDuration("shop_lock_poll_interval"),
		AdminRPS:                v.GetInt("admin_rps"),
		StorefrontRPS:           v.GetInt("sf_rps"),
		StaleRunThreshold:       v.GetDuration("stale_run_threshold"),
		DigestDelay:             v.GetDuration("digest_delay"),
		CompletedJobRetention:   v.GetInt("completed_job_retention"),
		FailedJobRetention:      v.GetInt("failed_job_retention"),
		AdminAPIVersion:         v.GetString("admin_api_version"),
		StorefrontAPIVersion:    v.GetString("storefront_api_version"),
		ScreenshotCaptureMode:   v.GetString("screenshot_capture_mode"),
		ScreenshotServiceURL:    v.GetString("screenshot_service_url"),
		StorefrontPassword:      v.GetString("storefront_password"),
		GCSBucket:               v.GetString("gcs_bucket"),
		GCSPublicBaseURL:        v.GetString("gcs_public_base_url"),
		GoogleGeocodingAPIKey:   v.GetString("google_geocoding_api_key"),
		ResendAPIKey:            v.GetString("resend_api_key"),
		ResendFrom:              v.GetString("resend_from"),
		OTELEndpoint:            v.GetString("otel_endpoint"),
		LogLevel:                v.GetString("log_level"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database_url is required (env: DATABASE_URL)")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid http_port %d", cfg.HTTPPort)
	}
	switch cfg.ScreenshotCaptureMode {
	case "all", "warn_fail_only", "fail_only":
	default:
		return nil, fmt.Errorf("invalid screenshot_capture_mode %q (expected all, warn_fail_only or fail_only)", cfg.ScreenshotCaptureMode)
	}

	return cfg, nil
}
