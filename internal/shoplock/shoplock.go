// Package shoplock serializes work per tenant across worker processes.
package shoplock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrTimeout is returned when the lock could not be taken within its TTL.
var ErrTimeout = errors.New("shop lock acquisition timed out")

// Store is the shared backend holding lock rows.
// TryAcquireLock succeeds when the key is free, its holder's TTL expired, or
// owner already holds it, in which case the TTL is extended.
type Store interface {
	TryAcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
}

// Config tunes lock acquisition.
type Config struct {
	TTL          time.Duration
	PollInterval time.Duration
	// RefreshInterval extends a held lock so it outlives TTL while work is running.
	RefreshInterval time.Duration
}

// Locker hands out per-tenant locks.
type Locker struct {
	store  Store
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan struct{}

	waitHist metric.Float64Histogram
}

// New creates a locker. Zero config values default to a 10 minute TTL, a 300ms
// poll interval and a refresh every third of the TTL.
func New(store Store, config Config, logger *slog.Logger) *Locker {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 300 * time.Millisecond
	}
	if config.RefreshInterval <= 0 || config.RefreshInterval >= config.TTL {
		config.RefreshInterval = config.TTL / 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	hist, err := otel.Meter("shipsanity/shoplock").Float64Histogram(
		"shipsanity.shoplock.wait",
		metric.WithDescription("Time spent waiting for a shop lock"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create shop lock histogram", "error", err)
	}

	return &Locker{
		store:    store,
		config:   config,
		logger:   logger,
		waiters:  make(map[string]chan struct{}),
		waitHist: hist,
	}
}

// Key returns the lock key for a tenant.
func Key(tenantID uuid.UUID) string {
	return "shop:" + tenantID.String()
}

// Acquire blocks until the lock for key is held, the TTL elapses (ErrTimeout),
// or ctx is done. The returned release func is safe to call more than once.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	owner := uuid.NewString()
	start := time.Now()
	deadline := start.Add(l.config.TTL)

	for {
		// Grab the signal before trying so a release in between is not missed.
		signal := l.signal(key)

		ok, err := l.store.TryAcquireLock(ctx, key, owner, l.config.TTL)
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			l.observe(ctx, start)
			return l.releaser(key, owner), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.observe(ctx, start)
			return nil, fmt.Errorf("%w: %s held for over %s", ErrTimeout, key, l.config.TTL)
		}

		wait := l.config.PollInterval + rand.N(l.config.PollInterval/4+1)
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *Locker) releaser(key, owner string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(key, owner, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release must outlive a cancelled job context.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.store.ReleaseLock(ctx, key, owner); err != nil {
				l.logger.Error("failed to release shop lock", "key", key, "error", err)
			}
			l.broadcast(key)
		})
	}
}

// refresh extends the lock until stop is closed.
func (l *Locker) refresh(key, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := l.store.TryAcquireLock(ctx, key, owner, l.config.TTL)
			cancel()
			if err != nil {
				l.logger.Warn("failed to refresh shop lock", "key", key, "error", err)
			} else if !ok {
				l.logger.Error("shop lock lost to another holder", "key", key)
				return
			}
		}
	}
}

// signal returns a channel closed on the next in-process release of key.
func (l *Locker) signal(key string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.waiters[key]
	if !ok {
		ch = make(chan struct{})
		l.waiters[key] = ch
	}
	return ch
}

func (l *Locker) broadcast(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.waiters[key]; ok {
		close(ch)
		delete(l.waiters, key)
	}
}

func (l *Locker) observe(ctx context.Context, start time.Time) {
	if l.waitHist != nil {
		l.waitHist.Record(ctx, time.Since(start).Seconds())
	}
}

// MemoryStore is a process-local Store for tests and single-process setups.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

type memoryLock struct {
	owner   string
	expires time.Time
}

// NewMemoryStore creates an empty in-memory lock table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]memoryLock), now: time.Now}
}

// TryAcquireLock implements Store.
func (m *MemoryStore) TryAcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.locks[key]; ok && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	m.locks[key] = memoryLock{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// ReleaseLock implements Store.
func (m *MemoryStore) ReleaseLock(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.locks[key]; ok && cur.owner == owner {
		delete(m.locks, key)
	}
	return nil
}
