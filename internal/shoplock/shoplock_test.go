package shoplock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_Uncontended(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, Config{}, nil)

	release, err := l.Acquire(context.Background(), "shop:a")
	require.NoError(t, err)

	ok, _ := store.TryAcquireLock(context.Background(), "shop:a", "other", time.Minute)
	assert.False(t, ok, "lock must be held")

	release()
	release()

	ok, _ = store.TryAcquireLock(context.Background(), "shop:a", "other", time.Minute)
	assert.True(t, ok, "lock must be free after release")
}

func TestAcquire_MutualExclusion(t *testing.T) {
	l := New(NewMemoryStore(), Config{TTL: 5 * time.Second, PollInterval: 5 * time.Millisecond}, nil)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "shop:a")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInside.Load())
}

func TestAcquire_DifferentKeysDoNotBlock(t *testing.T) {
	l := New(NewMemoryStore(), Config{TTL: time.Second}, nil)

	r1, err := l.Acquire(context.Background(), Key(uuid.New()))
	require.NoError(t, err)
	defer r1()

	r2, err := l.Acquire(context.Background(), Key(uuid.New()))
	require.NoError(t, err)
	r2()
}

func TestAcquire_WakesOnLocalRelease(t *testing.T) {
	// A poll interval far above the test budget proves the waiter is woken by the release signal.
	l := New(NewMemoryStore(), Config{TTL: 10 * time.Second, PollInterval: 5 * time.Second}, nil)

	release, err := l.Acquire(context.Background(), "shop:a")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background(), "shop:a")
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestAcquire_TimesOutAfterTTL(t *testing.T) {
	store := NewMemoryStore()
	_, _ = store.TryAcquireLock(context.Background(), "shop:a", "crashed-worker", time.Hour)

	l := New(store, Config{TTL: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}, nil)

	start := time.Now()
	_, err := l.Acquire(context.Background(), "shop:a")

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquire_ExpiredHolderIsReplaced(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	_, _ = store.TryAcquireLock(context.Background(), "shop:a", "crashed-worker", time.Minute)

	now = now.Add(2 * time.Minute)
	l := New(store, Config{TTL: time.Minute}, nil)

	release, err := l.Acquire(context.Background(), "shop:a")
	require.NoError(t, err)
	release()
}

func TestAcquire_ContextCancelled(t *testing.T) {
	store := NewMemoryStore()
	_, _ = store.TryAcquireLock(context.Background(), "shop:a", "other", time.Hour)
	l := New(store, Config{TTL: time.Hour, PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := l.Acquire(ctx, "shop:a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingStore struct{}

func (failingStore) TryAcquireLock(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) ReleaseLock(context.Context, string, string) error { return nil }

func TestAcquire_StoreError(t *testing.T) {
	_, err := New(failingStore{}, Config{}, nil).Acquire(context.Background(), "shop:a")
	assert.ErrorContains(t, err, "connection refused")
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestAcquire_RefreshKeepsLockPastTTL(t *testing.T) {
	store := NewMemoryStore()
	l := New(store, Config{TTL: 60 * time.Millisecond, RefreshInterval: 10 * time.Millisecond}, nil)

	release, err := l.Acquire(context.Background(), "shop:a")
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	ok, _ := store.TryAcquireLock(context.Background(), "shop:a", "other", time.Minute)
	assert.False(t, ok, "held lock must survive its TTL while refreshed")

	release()
	ok, _ = store.TryAcquireLock(context.Background(), "shop:a", "other", time.Minute)
	assert.True(t, ok, "released lock must not be refreshed")
}

func TestMemoryStore_OwnerExtends(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := store.TryAcquireLock(ctx, "k", "a", time.Minute)
	require.True(t, ok)

	now = now.Add(50 * time.Second)
	ok, _ = store.TryAcquireLock(ctx, "k", "a", time.Minute)
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = store.TryAcquireLock(ctx, "k", "b", time.Minute)
	assert.False(t, ok, "extended lock is still held")
}

func TestMemoryStore_ReleaseOnlyByOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, _ := store.TryAcquireLock(ctx, "k", "a", time.Minute)
	require.True(t, ok)

	require.NoError(t, store.ReleaseLock(ctx, "k", "b"))
	ok, _ = store.TryAcquireLock(ctx, "k", "b", time.Minute)
	assert.False(t, ok)
}
