// Package app wires the scenario runner from configuration. Both the
// controller (synchronous runs) and the worker build it the same way.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"shipsanity/internal/capture"
	"shipsanity/internal/config"
	"shipsanity/internal/credentials"
	"shipsanity/internal/geo"
	"shipsanity/internal/ratelimit"
	"shipsanity/internal/runner"
	"shipsanity/internal/store/postgres"
)

// Runner is a wired scenario runner plus the resources it holds open.
type Runner struct {
	*runner.Runner
	Limiter *ratelimit.Limiter

	closers []io.Closer
}

// Close releases resources opened for the runner.
func (r *Runner) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewRunner builds a runner backed by the postgres store.
func NewRunner(ctx context.Context, cfg *config.Config, st *postgres.Store, log *slog.Logger) (*Runner, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	limiter := ratelimit.New(st, ratelimit.Config{
		AdminRPS:      cfg.AdminRPS,
		StorefrontRPS: cfg.StorefrontRPS,
		Buffer:        5 * time.Millisecond,
	}, log)

	clients := &runner.ShopifyClients{
		Limiter:      limiter,
		AdminVersion: cfg.AdminAPIVersion,
		HTTPClient:   httpClient,
	}
	creds := credentials.New(st, clients.CredentialAdmin, cfg.StorefrontAPIVersion, log)

	lookup := geo.New(cfg.GoogleGeocodingAPIKey, log)
	lookup.HTTPClient = httpClient

	out := &Runner{Limiter: limiter}

	// A nil capturer makes the runner record SCREENSHOT_SKIPPED.
	var capturer runner.Capturer
	if cfg.ScreenshotServiceURL != "" && cfg.GCSBucket != "" {
		uploader, err := capture.NewGCSUploader(ctx, cfg.GCSBucket, cfg.GCSPublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("screenshot storage: %w", err)
		}
		out.closers = append(out.closers, uploader)
		capturer = capture.New(&capture.RenderService{
			URL:                cfg.ScreenshotServiceURL,
			StorefrontPassword: cfg.StorefrontPassword,
			HTTPClient:         &http.Client{Timeout: 90 * time.Second},
		}, uploader)
	} else {
		log.Info("screenshots disabled", "service_configured", cfg.ScreenshotServiceURL != "", "bucket_configured", cfg.GCSBucket != "")
	}

	out.Runner = runner.New(st, clients, creds, lookup, capturer, runner.Config{
		CaptureMode:     capture.ParseMode(cfg.ScreenshotCaptureMode),
		DeliveryRetries: 2,
	}, log)
	return out, nil
}
