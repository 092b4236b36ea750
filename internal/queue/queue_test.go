package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"shipsanity/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTx struct {
	committed  bool
	rolledBack bool
}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}
func (m *mockTx) Commit() error   { m.committed = true; return nil }
func (m *mockTx) Rollback() error { m.rolledBack = true; return nil }

type mockStore struct {
	tx           *mockTx
	createRunErr error
	enqueueErr   error
	failFinal    bool

	runs       []*store.Run
	jobs       []*store.Job
	jobTx      []store.DBTransaction
	prunes     int
	pruneKeeps [2]int
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	m.tx = &mockTx{}
	return m.tx, nil
}

func (m *mockStore) CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error {
	if m.createRunErr != nil {
		return m.createRunErr
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockStore) EnqueueJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.jobs = append(m.jobs, job)
	m.jobTx = append(m.jobTx, tx)
	return nil
}

func (m *mockStore) ClaimJobs(ctx context.Context, limit int, visibility time.Duration) ([]store.Job, error) {
	return nil, nil
}

func (m *mockStore) CompleteJob(ctx context.Context, id uuid.UUID) error { return nil }

func (m *mockStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	return m.failFinal, nil
}

func (m *mockStore) ExtendJob(ctx context.Context, id uuid.UUID, visibleAfter time.Time) error {
	return nil
}

func (m *mockStore) CountJobs(ctx context.Context) (store.JobCounts, error) {
	return store.JobCounts{Waiting: 2, Delayed: 1}, nil
}

func (m *mockStore) PruneJobs(ctx context.Context, keepCompleted, keepFailed int) error {
	m.prunes++
	m.pruneKeeps = [2]int{keepCompleted, keepFailed}
	return nil
}

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(st *mockStore) *Service {
	s := New(st, Config{}, nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestEnqueueScenarioRun_CreatesRunAndJobAtomically(t *testing.T) {
	st := &mockStore{}
	s := newTestService(st)
	tenant, scenario := uuid.New(), uuid.New()

	runID, jobID, err := s.EnqueueScenarioRun(context.Background(), tenant, scenario, time.Time{})
	require.NoError(t, err)

	require.Len(t, st.runs, 1)
	require.Len(t, st.jobs, 1)
	assert.Equal(t, runID, st.runs[0].ID)
	assert.Equal(t, fixedNow, st.runs[0].StartedAt)
	assert.Same(t, st.tx, st.jobTx[0], "job must be inserted in the run's transaction")
	assert.True(t, st.tx.committed)

	job := st.jobs[0]
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, store.JobKindScenarioRun, job.Kind)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, store.BackoffPolicy{Kind: store.BackoffExponential, Delay: 30 * time.Second}, job.Backoff)
	assert.Equal(t, fixedNow, job.VisibleAfter)

	payload, err := DecodeScenarioRun(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, tenant, payload.TenantID)
	assert.Equal(t, scenario, payload.ScenarioID)
	require.NotNil(t, payload.RunID)
	assert.Equal(t, runID, *payload.RunID)
}

func TestEnqueueScenarioRun_FutureAvailability(t *testing.T) {
	st := &mockStore{}
	s := newTestService(st)
	at := fixedNow.Add(2 * time.Hour)

	_, _, err := s.EnqueueScenarioRun(context.Background(), uuid.New(), uuid.New(), at)
	require.NoError(t, err)

	assert.Equal(t, at, st.runs[0].StartedAt)
	assert.Equal(t, at, st.jobs[0].VisibleAfter)
}

func TestEnqueueScenarioRun_RollsBackOnEnqueueFailure(t *testing.T) {
	st := &mockStore{enqueueErr: errors.New("insert failed")}
	s := newTestService(st)

	_, _, err := s.EnqueueScenarioRun(context.Background(), uuid.New(), uuid.New(), time.Time{})
	require.Error(t, err)
	assert.False(t, st.tx.committed)
	assert.True(t, st.tx.rolledBack)
}

func TestEnqueueScenarioRun_RejectsMissingIDs(t *testing.T) {
	st := &mockStore{}
	s := newTestService(st)

	_, _, err := s.EnqueueScenarioRun(context.Background(), uuid.New(), uuid.Nil, time.Time{})
	assert.ErrorContains(t, err, "invalid SCENARIO_RUN payload")
	assert.Empty(t, st.jobs)
}

func TestEnqueueDigest(t *testing.T) {
	st := &mockStore{}
	s := newTestService(st)
	tenant := uuid.New()

	_, err := s.EnqueueDigest(context.Background(), tenant, 15*time.Minute)
	require.NoError(t, err)

	require.Len(t, st.jobs, 1)
	job := st.jobs[0]
	assert.Nil(t, st.jobTx[0])
	assert.Equal(t, store.JobKindDigestEmail, job.Kind)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, store.BackoffPolicy{Kind: store.BackoffFixed, Delay: time.Minute}, job.Backoff)
	assert.Equal(t, fixedNow.Add(15*time.Minute), job.VisibleAfter)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(job.Payload, &raw))
	assert.Equal(t, tenant.String(), raw["tenantId"])
}

func TestCompleteAndFail_PruneRetention(t *testing.T) {
	st := &mockStore{}
	s := newTestService(st)

	require.NoError(t, s.Complete(context.Background(), uuid.New()))
	assert.Equal(t, 1, st.prunes)
	assert.Equal(t, [2]int{1000, 5000}, st.pruneKeeps)

	final, err := s.Fail(context.Background(), uuid.New(), "boom")
	require.NoError(t, err)
	assert.False(t, final)
	assert.Equal(t, 1, st.prunes, "a retried job is not finished")

	st.failFinal = true
	final, err = s.Fail(context.Background(), uuid.New(), "boom")
	require.NoError(t, err)
	assert.True(t, final)
	assert.Equal(t, 2, st.prunes)
}

func TestCounts(t *testing.T) {
	c, err := newTestService(&mockStore{}).Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.JobCounts{Waiting: 2, Delayed: 1}, c)
}

func TestDecodePayloads(t *testing.T) {
	_, err := DecodeScenarioRun(json.RawMessage(`{"tenantId":"not-a-uuid"}`))
	assert.Error(t, err)

	_, err = DecodeScenarioRun(json.RawMessage(`{"tenantId":"` + uuid.NewString() + `"}`))
	assert.Error(t, err, "scenarioId is required")

	p, err := DecodeScenarioRun(json.RawMessage(`{"tenantId":"` + uuid.NewString() + `","scenarioId":"` + uuid.NewString() + `"}`))
	require.NoError(t, err)
	assert.Nil(t, p.RunID)

	_, err = DecodeDigest(json.RawMessage(`{}`))
	assert.Error(t, err)
}
