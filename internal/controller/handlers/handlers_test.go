package handlers

import (
	"context"
	"time"

	"shipsanity/internal/scheduler"
	"shipsanity/internal/store"

	"github.com/google/uuid"
)

// Mock Store
type mockStore struct {
	pingErr error

	getRunResp      *store.Run
	getRunErr       error
	getScenarioResp *store.Scenario
	getScenarioErr  error
	getTenantErr    error

	// Spies
	capturedRunID uuid.UUID
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	m.capturedRunID = id
	return m.getRunResp, m.getRunErr
}

func (m *mockStore) GetScenario(ctx context.Context, id uuid.UUID) (*store.Scenario, error) {
	if m.getScenarioErr != nil {
		return nil, m.getScenarioErr
	}
	if m.getScenarioResp != nil {
		return m.getScenarioResp, nil
	}
	return &store.Scenario{ID: id, TenantID: uuid.New()}, nil
}

func (m *mockStore) GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	if m.getTenantErr != nil {
		return nil, m.getTenantErr
	}
	return &store.Tenant{ID: id}, nil
}

// Mock Queue
type mockQueue struct {
	enqueueErr error
	digestErr  error
	counts     store.JobCounts
	countsErr  error

	capturedTenantID    uuid.UUID
	capturedScenarioID  uuid.UUID
	capturedAvailableAt time.Time
	capturedDelay       time.Duration
}

func (m *mockQueue) EnqueueScenarioRun(ctx context.Context, tenantID, scenarioID uuid.UUID, availableAt time.Time) (uuid.UUID, uuid.UUID, error) {
	m.capturedTenantID = tenantID
	m.capturedScenarioID = scenarioID
	m.capturedAvailableAt = availableAt
	if m.enqueueErr != nil {
		return uuid.Nil, uuid.Nil, m.enqueueErr
	}
	return uuid.New(), uuid.New(), nil
}

func (m *mockQueue) EnqueueDigest(ctx context.Context, tenantID uuid.UUID, delay time.Duration) (uuid.UUID, error) {
	m.capturedTenantID = tenantID
	m.capturedDelay = delay
	if m.digestErr != nil {
		return uuid.Nil, m.digestErr
	}
	return uuid.New(), nil
}

func (m *mockQueue) Counts(ctx context.Context) (store.JobCounts, error) {
	return m.counts, m.countsErr
}

// Mock Runner
type mockRunner struct {
	RunFunc func(ctx context.Context, scenarioID, runID uuid.UUID) (*store.Run, error)
}

func (m *mockRunner) Run(ctx context.Context, scenarioID, runID uuid.UUID) (*store.Run, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, scenarioID, runID)
	}
	return &store.Run{ID: uuid.New(), ScenarioID: scenarioID, Status: store.RunStatusPass}, nil
}

// Mock Locker
type mockLocker struct {
	acquireErr error

	capturedKey string
	held        bool
	released    int
}

func (m *mockLocker) Acquire(ctx context.Context, key string) (func(), error) {
	m.capturedKey = key
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.held = true
	return func() {
		m.held = false
		m.released++
	}, nil
}

// Mock Ticker
type mockTicker struct {
	report scheduler.TickReport
	err    error

	capturedNow time.Time
}

func (m *mockTicker) Tick(ctx context.Context, now time.Time) (scheduler.TickReport, error) {
	m.capturedNow = now
	return m.report, m.err
}

type testDeps struct {
	store  *mockStore
	queue  *mockQueue
	runner *mockRunner
	ticker *mockTicker
	locker *mockLocker
}

func newTestHandlers() (*Handlers, *testDeps) {
	d := &testDeps{
		store:  &mockStore{},
		queue:  &mockQueue{},
		runner: &mockRunner{},
		ticker: &mockTicker{},
		locker: &mockLocker{},
	}
	return New(d.store, d.queue, d.runner, d.ticker, d.locker, nil), d
}
