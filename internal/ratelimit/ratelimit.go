// Package ratelimit bounds outbound API requests per tenant and API class
// using a fixed one-second window shared through the database.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// Class is an API class with its own ceiling.
type Class string

const (
	Admin      Class = "admin"
	Storefront Class = "storefront"
)

// Store is the shared atomic counter backing the window.
type Store interface {
	// IncrWindow increments the counter for key in the window starting at window
	// and returns the new value.
	IncrWindow(ctx context.Context, key string, window time.Time) (int64, error)
}

// Config holds the per-class ceilings in requests per second.
// A ceiling <= 0 disables limiting for that class.
type Config struct {
	AdminRPS      int
	StorefrontRPS int
	Buffer        time.Duration // Added after the window boundary when sleeping (default: 5ms)
}

// DefaultConfig returns the standard ceilings: 4 rps admin, 8 rps storefront.
func DefaultConfig() Config {
	return Config{AdminRPS: 4, StorefrontRPS: 8, Buffer: 5 * time.Millisecond}
}

// Limiter gates callers per (class, tenant). It is safe for concurrent use.
type Limiter struct {
	store  Store
	config Config
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	local    map[string]*rate.Limiter
	degraded bool

	throttled metric.Int64Counter
}

// New creates a limiter. A nil store runs the process-local limiter only.
func New(store Store, config Config, logger *slog.Logger) *Limiter {
	if config.Buffer <= 0 {
		config.Buffer = 5 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	throttled, _ := otel.Meter("shipsanity/ratelimit").Int64Counter("shipsanity.ratelimit.throttled",
		metric.WithDescription("Requests delayed by the rate limiter"),
	)

	return &Limiter{
		store:     store,
		config:    config,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
		local:     make(map[string]*rate.Limiter),
		throttled: throttled,
	}
}

// Key returns the counter key for a class and tenant.
func Key(class Class, tenant string) string {
	return "rl:" + string(class) + ":" + strings.ToLower(tenant)
}

func (l *Limiter) ceiling(class Class) int {
	if class == Admin {
		return l.config.AdminRPS
	}
	return l.config.StorefrontRPS
}

// Consume blocks until the caller may issue one request of the given class for tenant.
// When the window is exhausted it sleeps until the next window plus the buffer and returns
// without re-checking; whoever asks first after the reset proceeds first.
// It only returns an error when ctx is cancelled while waiting.
func (l *Limiter) Consume(ctx context.Context, class Class, tenant string) error {
	limit := l.ceiling(class)
	if limit <= 0 {
		return nil
	}

	now := l.now()
	key := Key(class, tenant)

	if l.store != nil {
		used, err := l.store.IncrWindow(ctx, key, now.Truncate(time.Second))
		if err == nil {
			l.recovered()
			if used <= int64(limit) {
				return nil
			}
			l.record(ctx, class)
			return l.sleep(ctx, l.untilNextWindow(now))
		}
		l.degrade(err)
	}

	return l.consumeLocal(ctx, class, key, limit, now)
}

func (l *Limiter) consumeLocal(ctx context.Context, class Class, key string, limit int, now time.Time) error {
	l.mu.Lock()
	lim, ok := l.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(limit), limit)
		l.local[key] = lim
	}
	r := lim.ReserveN(now, 1)
	l.mu.Unlock()

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	l.record(ctx, class)
	if err := l.sleep(ctx, delay); err != nil {
		r.CancelAt(now)
		return err
	}
	return nil
}

func (l *Limiter) untilNextWindow(now time.Time) time.Duration {
	return now.Truncate(time.Second).Add(time.Second).Sub(now) + l.config.Buffer
}

func (l *Limiter) degrade(err error) {
	l.mu.Lock()
	first := !l.degraded
	l.degraded = true
	l.mu.Unlock()
	if first {
		l.logger.Warn("rate limit store unavailable, using process-local limiter", "error", err)
	}
}

func (l *Limiter) recovered() {
	l.mu.Lock()
	was := l.degraded
	l.degraded = false
	l.mu.Unlock()
	if was {
		l.logger.Info("rate limit store recovered")
	}
}

func (l *Limiter) record(ctx context.Context, class Class) {
	if l.throttled != nil {
		l.throttled.Add(ctx, 1, metric.WithAttributes(attribute.String("class", string(class))))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
