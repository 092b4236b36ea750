package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"shipsanity/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var runColumns = []string{"id", "scenario_id", "tenant_id", "status", "started_at", "finished_at", "result", "diagnostics", "screenshot_url", "acknowledged_at", "created_at"}

func TestCreateRun_SetsPending(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	run := &store.Run{ScenarioID: uuid.New(), TenantID: uuid.New(), Status: store.RunStatusPass}

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(sqlmock.AnyArg(), run.ScenarioID, run.TenantID, "PENDING", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateRun(context.Background(), nil, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != store.RunStatusPending {
		t.Errorf("got status %s, want PENDING", run.Status)
	}
	if run.ID == uuid.Nil {
		t.Error("expected run ID to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetRun_DecodesPayloads(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	started := time.Now().Add(-time.Minute).Truncate(time.Second)
	finished := time.Now().Truncate(time.Second)
	result := []byte(`{"groups":[],"options":[{"handle":"std","title":"Standard","estimatedCost":{"amount":"5.00","currencyCode":"USD"}}],"subtotal":{"amount":"20.0","currencyCode":"USD"}}`)
	diags := []byte(`[{"code":"PRICE_TOO_LOW","message":"Target rate below 10"}]`)

	mock.ExpectQuery(`SELECT id, scenario_id, tenant_id, status`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(runColumns).
			AddRow(id.String(), uuid.NewString(), uuid.NewString(), "WARN", started, finished, result, diags, nil, nil, started))

	run, err := s.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != store.RunStatusWarn {
		t.Errorf("got status %s, want WARN", run.Status)
	}
	if run.Result == nil || len(run.Result.Options) != 1 || run.Result.Options[0].Title != "Standard" {
		t.Errorf("unexpected result: %+v", run.Result)
	}
	if len(run.Diagnostics) != 1 || run.Diagnostics[0].Code != store.CodePriceTooLow {
		t.Errorf("unexpected diagnostics: %+v", run.Diagnostics)
	}
	if run.FinishedAt == nil || !run.FinishedAt.Equal(finished) {
		t.Errorf("got FinishedAt %v, want %v", run.FinishedAt, finished)
	}
	if run.ScreenshotURL != nil {
		t.Errorf("expected nil screenshot url, got %v", *run.ScreenshotURL)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT id, scenario_id`).WillReturnError(sql.ErrNoRows)

	_, err := s.GetRun(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteRun_OnlyFromPending(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()

	mock.ExpectExec(`UPDATE runs SET status = \$1, result = \$2, diagnostics = \$3, screenshot_url = \$4, finished_at = NOW\(\) WHERE id = \$5 AND status = \$6`).
		WithArgs("PASS", sqlmock.AnyArg(), []byte(`[]`), nil, id, "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CompleteRun(context.Background(), id, store.RunStatusPass, &store.RunResult{}, nil, nil)
	if err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCompleteRun_AlreadyFinalized(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()

	mock.ExpectExec(`UPDATE runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM runs WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("FAIL"))

	err := s.CompleteRun(context.Background(), id, store.RunStatusPass, nil, nil, nil)
	if !errors.Is(err, store.ErrRunFinalized) {
		t.Errorf("expected ErrRunFinalized, got %v", err)
	}
}

func TestCompleteRun_MissingRun(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE runs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM runs`).WillReturnError(sql.ErrNoRows)

	err := s.CompleteRun(context.Background(), uuid.New(), store.RunStatusError, nil, nil, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteRun_RejectsPendingStatus(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	err := s.CompleteRun(context.Background(), uuid.New(), store.RunStatusPending, nil, nil, nil)
	if err == nil {
		t.Error("expected error for non-terminal status")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected queries: %v", err)
	}
}

func TestFailPendingRun(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"pending run is failed", 1, true},
		{"terminal run untouched", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			id := uuid.New()
			mock.ExpectExec(`UPDATE runs SET status = \$1, diagnostics = \$2, finished_at = NOW\(\) WHERE id = \$3 AND status = \$4`).
				WithArgs("ERROR", sqlmock.AnyArg(), id, "PENDING").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			changed, err := s.FailPendingRun(context.Background(), id, store.Finding{Code: store.CodeJobFinalFailure})
			if err != nil {
				t.Fatalf("FailPendingRun failed: %v", err)
			}
			if changed != tt.want {
				t.Errorf("got changed %v, want %v", changed, tt.want)
			}
		})
	}
}

func TestSweepStaleRuns_ReturnsSweptIDs(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenant := uuid.New()
	cutoff := time.Now().Add(-6 * time.Hour)
	swept := uuid.New()

	mock.ExpectQuery(`UPDATE runs SET status = \$1, diagnostics = \$2, finished_at = NOW\(\) WHERE tenant_id = \$3 AND status = \$4 AND started_at < \$5 RETURNING id`).
		WithArgs("ERROR", sqlmock.AnyArg(), tenant, "PENDING", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(swept.String()))

	ids, err := s.SweepStaleRuns(context.Background(), tenant, cutoff, store.Finding{Code: store.CodeRunTimeout})
	if err != nil {
		t.Fatalf("SweepStaleRuns failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != swept {
		t.Errorf("got %v, want [%v]", ids, swept)
	}
}

func TestListRunsSince(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenant := uuid.New()
	since := time.Now().Add(-24 * time.Hour)

	mock.ExpectQuery(`SELECT r.id, r.scenario_id, s.name, r.status, r.started_at FROM runs r JOIN scenarios s`).
		WithArgs(tenant, since).
		WillReturnRows(sqlmock.NewRows([]string{"id", "scenario_id", "name", "status", "started_at"}).
			AddRow(uuid.NewString(), uuid.NewString(), "US standard", "PASS", time.Now()).
			AddRow(uuid.NewString(), uuid.NewString(), "DE express", "FAIL", time.Now()))

	runs, err := s.ListRunsSince(context.Background(), tenant, since)
	if err != nil {
		t.Fatalf("ListRunsSince failed: %v", err)
	}
	if len(runs) != 2 || runs[1].ScenarioName != "DE express" || runs[1].Status != store.RunStatusFail {
		t.Errorf("unexpected runs: %+v", runs)
	}
}
