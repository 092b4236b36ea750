package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// TenantStore handles tenant lookups and credential persistence.
type TenantStore interface {
	// GetTenant returns a tenant with its settings.
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// ListTenants returns every tenant with its settings.
	ListTenants(ctx context.Context) ([]Tenant, error)

	// SetStorefrontToken stores the storefront credential for a tenant.
	SetStorefrontToken(ctx context.Context, tenantID uuid.UUID, token, apiVersion string) error
}

// ScenarioStore reads saved scenarios.
type ScenarioStore interface {
	// GetScenario returns a scenario by its ID.
	GetScenario(ctx context.Context, id uuid.UUID) (*Scenario, error)

	// ListActiveScenarios returns the tenant's active scenarios.
	// When promoOnly is set, only scenarios included in promo mode are returned.
	ListActiveScenarios(ctx context.Context, tenantID uuid.UUID, promoOnly bool) ([]Scenario, error)
}

// RunStore persists run records.
// Terminal writes only apply to PENDING runs.
type RunStore interface {
	// CreateRun inserts a new PENDING run.
	CreateRun(ctx context.Context, tx DBTransaction, run *Run) error

	// GetRun returns a run by its ID.
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)

	// CompleteRun moves a PENDING run to a terminal state.
	// Returns ErrRunFinalized if the run is no longer PENDING.
	CompleteRun(ctx context.Context, id uuid.UUID, status RunStatus, result *RunResult, findings []Finding, screenshotURL *string) error

	// FailPendingRun forces a PENDING run to ERROR with the given finding.
	// It reports whether the run was changed.
	FailPendingRun(ctx context.Context, id uuid.UUID, finding Finding) (bool, error)

	// SweepStaleRuns forces the tenant's PENDING runs started before cutoff to ERROR.
	SweepStaleRuns(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, finding Finding) ([]uuid.UUID, error)

	// ListRunsSince returns the tenant's runs started at or after since.
	ListRunsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]RunSummary, error)
}
