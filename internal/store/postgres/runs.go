package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shipsanity/internal/store"

	"github.com/google/uuid"
)

// CreateRun inserts the initial PENDING state of a run.
func (s *Store) CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.Status = store.RunStatusPending
	run.CreatedAt = now

	_, err := s.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO runs (id, scenario_id, tenant_id, status, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.ScenarioID, run.TenantID, run.Status, run.StartedAt, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun returns a run by its ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	query := `
		SELECT id, scenario_id, tenant_id, status, started_at, finished_at, result, diagnostics,
			screenshot_url, acknowledged_at, created_at
		FROM runs WHERE id = $1
	`

	var run store.Run
	var result, diagnostics []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.ScenarioID, &run.TenantID, &run.Status, &run.StartedAt,
		&run.FinishedAt, &result, &diagnostics, &run.ScreenshotURL,
		&run.AcknowledgedAt, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if len(result) > 0 {
		run.Result = &store.RunResult{}
		if err := json.Unmarshal(result, run.Result); err != nil {
			return nil, fmt.Errorf("invalid result payload for run %s: %w", id, err)
		}
	}
	if len(diagnostics) > 0 {
		if err := json.Unmarshal(diagnostics, &run.Diagnostics); err != nil {
			return nil, fmt.Errorf("invalid diagnostics for run %s: %w", id, err)
		}
	}

	return &run, nil
}

// CompleteRun writes the terminal state of a run exactly once.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, status store.RunStatus, result *store.RunResult, findings []store.Finding, screenshotURL *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = b
	}
	diagJSON, err := marshalFindings(findings)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, result = $2, diagnostics = $3, screenshot_url = $4, finished_at = NOW()
		WHERE id = $5 AND status = $6
	`, status, resultJSON, diagJSON, screenshotURL, id, store.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current store.RunStatus
	err = s.db.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = $1", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrRunFinalized
}

// FailPendingRun forces a still-PENDING run to ERROR.
func (s *Store) FailPendingRun(ctx context.Context, id uuid.UUID, finding store.Finding) (bool, error) {
	diagJSON, err := marshalFindings([]store.Finding{finding})
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, diagnostics = $2, finished_at = NOW()
		WHERE id = $3 AND status = $4
	`, store.RunStatusError, diagJSON, id, store.RunStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to fail run %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SweepStaleRuns moves the tenant's PENDING runs older than cutoff to ERROR.
func (s *Store) SweepStaleRuns(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, finding store.Finding) ([]uuid.UUID, error) {
	diagJSON, err := marshalFindings([]store.Finding{finding})
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE runs
		SET status = $1, diagnostics = $2, finished_at = NOW()
		WHERE tenant_id = $3 AND status = $4 AND started_at < $5
		RETURNING id
	`, store.RunStatusError, diagJSON, tenantID, store.RunStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale runs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRunsSince returns the tenant's recent runs with scenario names.
func (s *Store) ListRunsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.scenario_id, s.name, r.status, r.started_at
		FROM runs r
		JOIN scenarios s ON s.id = r.scenario_id
		WHERE r.tenant_id = $1 AND r.started_at >= $2
		ORDER BY r.started_at ASC
	`, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.RunSummary
	for rows.Next() {
		var r store.RunSummary
		if err := rows.Scan(&r.RunID, &r.ScenarioID, &r.ScenarioName, &r.Status, &r.StartedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func marshalFindings(findings []store.Finding) ([]byte, error) {
	if findings == nil {
		findings = []store.Finding{}
	}
	b, err := json.Marshal(findings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	return b, nil
}
