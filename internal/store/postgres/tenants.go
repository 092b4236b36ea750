package postgres

import (
	"context"
	"database/sql"
	"errors"

	"shipsanity/internal/store"

	"github.com/google/uuid"
)

const tenantColumns = `
	t.id, t.domain, t.admin_access_token, t.created_at,
	s.daily_run_hour_utc, COALESCE(s.promo_mode, FALSE),
	COALESCE(s.storefront_access_token, ''), COALESCE(s.storefront_api_version, ''),
	COALESCE(s.slack_webhook_url, ''), COALESCE(s.notification_email, '')
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*store.Tenant, error) {
	var t store.Tenant
	var hour sql.NullInt32
	err := row.Scan(
		&t.ID, &t.Domain, &t.AdminAccessToken, &t.CreatedAt,
		&hour, &t.Settings.PromoMode,
		&t.Settings.StorefrontAccessToken, &t.Settings.StorefrontAPIVersion,
		&t.Settings.SlackWebhookURL, &t.Settings.NotificationEmail,
	)
	if err != nil {
		return nil, err
	}
	if hour.Valid {
		h := int(hour.Int32)
		t.Settings.DailyRunHourUTC = &h
	}
	return &t, nil
}

// GetTenant returns a tenant with its settings.
func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	query := "SELECT " + tenantColumns + `
		FROM tenants t
		LEFT JOIN tenant_settings s ON s.tenant_id = t.id
		WHERE t.id = $1`

	t, err := scanTenant(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

// ListTenants returns all tenants ordered by creation.
func (s *Store) ListTenants(ctx context.Context) ([]store.Tenant, error) {
	query := "SELECT " + tenantColumns + `
		FROM tenants t
		LEFT JOIN tenant_settings s ON s.tenant_id = t.id
		ORDER BY t.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []store.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// SetStorefrontToken upserts the tenant's storefront credential.
func (s *Store) SetStorefrontToken(ctx context.Context, tenantID uuid.UUID, token, apiVersion string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, storefront_access_token, storefront_api_version)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE
		SET storefront_access_token = EXCLUDED.storefront_access_token,
			storefront_api_version = EXCLUDED.storefront_api_version
	`, tenantID, token, apiVersion)
	return err
}
