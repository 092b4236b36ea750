// Package capture takes checkout screenshots and stores them in object storage.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shipsanity/internal/store"

	"github.com/google/uuid"
)

// Mode selects which run verdicts get a screenshot.
type Mode string

const (
	ModeAll          Mode = "all"
	ModeWarnFailOnly Mode = "warn_fail_only"
	ModeFailOnly     Mode = "fail_only"
)

// ParseMode maps a configuration value to a Mode, defaulting to warn_fail_only.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAll, ModeFailOnly:
		return m
	default:
		return ModeWarnFailOnly
	}
}

// ShouldCapture reports whether a run with the given verdict gets a screenshot.
func ShouldCapture(mode Mode, enabled bool, status store.RunStatus) bool {
	if !enabled {
		return false
	}
	switch mode {
	case ModeAll:
		return true
	case ModeFailOnly:
		return status == store.RunStatusFail
	default:
		return status == store.RunStatusWarn || status == store.RunStatusFail
	}
}

// Key returns the object key of a run screenshot, bucketed by UTC hour.
func Key(tenantID, runID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("screenshots/%s/%s/%s.png", tenantID, now.UTC().Format("2006/01/02/15"), runID)
}

// Renderer turns a checkout URL into PNG bytes.
type Renderer interface {
	Render(ctx context.Context, checkoutURL string) ([]byte, error)
}

// Uploader stores an object and returns its public URL.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ErrDisabled is returned when no renderer or uploader is configured.
var ErrDisabled = errors.New("screenshot capture not configured")

// Capturer renders a checkout page and uploads the image.
type Capturer struct {
	renderer Renderer
	uploader Uploader
	now      func() time.Time
}

// New creates a capturer. Either collaborator may be nil, which disables capture.
func New(renderer Renderer, uploader Uploader) *Capturer {
	return &Capturer{renderer: renderer, uploader: uploader, now: time.Now}
}

// Capture screenshots the checkout URL and returns the uploaded image URL.
func (c *Capturer) Capture(ctx context.Context, tenantID, runID uuid.UUID, checkoutURL string) (string, error) {
	if c == nil || c.renderer == nil || c.uploader == nil {
		return "", ErrDisabled
	}

	png, err := c.renderer.Render(ctx, checkoutURL)
	if err != nil {
		return "", fmt.Errorf("render checkout: %w", err)
	}

	url, err := c.uploader.Put(ctx, Key(tenantID, runID, c.now()), "image/png", png)
	if err != nil {
		return "", fmt.Errorf("upload screenshot: %w", err)
	}
	return url, nil
}

// RenderService calls an external headless-browser service that returns a PNG.
type RenderService struct {
	URL                string
	StorefrontPassword string
	Timeout            time.Duration
	HTTPClient         *http.Client
}

type renderRequest struct {
	URL                string   `json:"url"`
	StorefrontPassword string   `json:"storefrontPassword,omitempty"`
	FullPage           bool     `json:"fullPage"`
	Viewport           viewport `json:"viewport"`
	TimeoutMs          int64    `json:"timeoutMs"`
	AcceptLanguage     string   `json:"acceptLanguage"`
}

type viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Render implements Renderer.
func (s *RenderService) Render(ctx context.Context, checkoutURL string) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	body, err := json.Marshal(renderRequest{
		URL:                checkoutURL,
		StorefrontPassword: s.StorefrontPassword,
		FullPage:           true,
		Viewport:           viewport{Width: 1366, Height: 900},
		TimeoutMs:          timeout.Milliseconds(),
		AcceptLanguage:     "en-US,en;q=0.9",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	client := s.HTTPClient
	if client == nil {
		// Page load plus the shipping step can take up to the full render timeout.
		client = &http.Client{Timeout: 2 * timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return nil, errors.New("render service returned an empty image")
	}
	return data, nil
}
