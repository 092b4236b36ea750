// Package credentials provisions and rotates storefront access tokens for tenants.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"shipsanity/internal/shopify"
	"shipsanity/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrCredential marks every failure to obtain a storefront credential.
// Runs failing with it are BLOCKED rather than ERROR.
var ErrCredential = errors.New("storefront token unavailable")

// Credential is a storefront access token and the API version to use it with.
type Credential struct {
	Token   string
	Version string
}

// AdminAPI is the subset of the admin client used to manage tokens.
type AdminAPI interface {
	StorefrontTokens(ctx context.Context) ([]shopify.StorefrontToken, error)
	CreateStorefrontToken(ctx context.Context, title string) (shopify.StorefrontToken, error)
	DeleteStorefrontToken(ctx context.Context, id string) error
}

// AdminFactory builds an admin client for a tenant.
type AdminFactory func(tenant *store.Tenant) (AdminAPI, error)

// TokenStore persists the chosen token.
type TokenStore interface {
	SetStorefrontToken(ctx context.Context, tenantID uuid.UUID, token, apiVersion string) error
}

// Provider implements ensure/rotate with per-tenant deduplication.
type Provider struct {
	tokens  TokenStore
	admin   AdminFactory
	version string
	keep    int
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group
}

// New creates a provider. version is the storefront API version new tokens are recorded with.
func New(tokens TokenStore, admin AdminFactory, version string, logger *slog.Logger) *Provider {
	if version == "" {
		version = shopify.DefaultAPIVersion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		tokens:  tokens,
		admin:   admin,
		version: version,
		keep:    3,
		logger:  logger,
		now:     time.Now,
	}
}

// Ensure returns the tenant's stored token, adopting the newest existing token
// on the shop or creating one when none is stored.
func (p *Provider) Ensure(ctx context.Context, tenant *store.Tenant) (Credential, error) {
	if tok := tenant.Settings.StorefrontAccessToken; tok != "" {
		version := tenant.Settings.StorefrontAPIVersion
		if version == "" {
			version = p.version
		}
		return Credential{Token: tok, Version: version}, nil
	}

	v, err, _ := p.group.Do("ensure:"+tenant.ID.String(), func() (any, error) {
		return p.provision(ctx, tenant)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (p *Provider) provision(ctx context.Context, tenant *store.Tenant) (Credential, error) {
	admin, err := p.admin(tenant)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrCredential, err)
	}

	existing, err := admin.StorefrontTokens(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: list tokens for %s: %w", ErrCredential, tenant.Domain, err)
	}

	var token string
	if len(existing) > 0 {
		sortNewestFirst(existing)
		token = existing[0].AccessToken
		p.prune(ctx, admin, tenant, existing, p.keep)
	} else {
		created, err := admin.CreateStorefrontToken(ctx, p.title())
		if err != nil {
			return Credential{}, fmt.Errorf("%w: create token for %s: %w", ErrCredential, tenant.Domain, err)
		}
		token = created.AccessToken
	}

	return p.persist(ctx, tenant, token)
}

// Rotate replaces the tenant's token after it was rejected, keeping at most three on the shop.
func (p *Provider) Rotate(ctx context.Context, tenant *store.Tenant) (Credential, error) {
	v, err, _ := p.group.Do("rotate:"+tenant.ID.String(), func() (any, error) {
		admin, err := p.admin(tenant)
		if err != nil {
			return Credential{}, fmt.Errorf("%w: %w", ErrCredential, err)
		}

		if existing, err := admin.StorefrontTokens(ctx); err != nil {
			p.logger.Warn("failed to list storefront tokens before rotation", "tenant_id", tenant.ID, "error", err)
		} else {
			sortNewestFirst(existing)
			p.prune(ctx, admin, tenant, existing, p.keep-1)
		}

		created, err := admin.CreateStorefrontToken(ctx, p.title())
		if err != nil {
			return Credential{}, fmt.Errorf("%w: rotate token for %s: %w", ErrCredential, tenant.Domain, err)
		}
		return p.persist(ctx, tenant, created.AccessToken)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (p *Provider) persist(ctx context.Context, tenant *store.Tenant, token string) (Credential, error) {
	if err := p.tokens.SetStorefrontToken(ctx, tenant.ID, token, p.version); err != nil {
		return Credential{}, fmt.Errorf("%w: save token for %s: %w", ErrCredential, tenant.Domain, err)
	}
	tenant.Settings.StorefrontAccessToken = token
	tenant.Settings.StorefrontAPIVersion = p.version
	return Credential{Token: token, Version: p.version}, nil
}

// prune deletes all but the keep newest tokens. Failures are logged only.
func (p *Provider) prune(ctx context.Context, admin AdminAPI, tenant *store.Tenant, newestFirst []shopify.StorefrontToken, keep int) {
	if keep < 0 {
		keep = 0
	}
	if len(newestFirst) <= keep {
		return
	}
	for _, t := range newestFirst[keep:] {
		if err := admin.DeleteStorefrontToken(ctx, t.ID); err != nil {
			p.logger.Warn("failed to delete storefront token", "tenant_id", tenant.ID, "token_id", t.ID, "error", err)
		}
	}
}

func (p *Provider) title() string {
	return "Sanity Tester " + p.now().UTC().Format(time.RFC3339)
}

func sortNewestFirst(tokens []shopify.StorefrontToken) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
}
