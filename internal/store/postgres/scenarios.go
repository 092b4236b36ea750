package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"shipsanity/internal/store"

	"github.com/google/uuid"
)

const scenarioColumns = `
	id, tenant_id, name, active, include_in_promo, destination, lines,
	COALESCE(discount_code, ''), expectations, alert_level, screenshot_enabled, created_at, updated_at
`

func scanScenario(row rowScanner) (*store.Scenario, error) {
	var sc store.Scenario
	var destination, lines, expectations []byte
	err := row.Scan(
		&sc.ID, &sc.TenantID, &sc.Name, &sc.Active, &sc.IncludeInPromo,
		&destination, &lines, &sc.DiscountCode, &expectations,
		&sc.AlertLevel, &sc.ScreenshotEnabled, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(destination, &sc.Destination); err != nil {
		return nil, fmt.Errorf("invalid destination for scenario %s: %w", sc.ID, err)
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &sc.Lines); err != nil {
			return nil, fmt.Errorf("invalid lines for scenario %s: %w", sc.ID, err)
		}
	}
	if len(expectations) > 0 {
		if err := json.Unmarshal(expectations, &sc.Expectations); err != nil {
			return nil, fmt.Errorf("invalid expectations for scenario %s: %w", sc.ID, err)
		}
	}
	return &sc, nil
}

// GetScenario returns a scenario by its ID.
func (s *Store) GetScenario(ctx context.Context, id uuid.UUID) (*store.Scenario, error) {
	query := "SELECT " + scenarioColumns + " FROM scenarios WHERE id = $1"

	sc, err := scanScenario(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return sc, err
}

// ListActiveScenarios returns a tenant's active scenarios in creation order.
func (s *Store) ListActiveScenarios(ctx context.Context, tenantID uuid.UUID, promoOnly bool) ([]store.Scenario, error) {
	query := "SELECT " + scenarioColumns + `
		FROM scenarios
		WHERE tenant_id = $1 AND active AND ($2 = FALSE OR include_in_promo)
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID, promoOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenarios []store.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, *sc)
	}
	return scenarios, rows.Err()
}
