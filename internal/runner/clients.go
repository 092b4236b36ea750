package runner

import (
	"context"
	"net/http"

	"shipsanity/internal/credentials"
	"shipsanity/internal/shopify"
	"shipsanity/internal/store"
)

// StorefrontAPI is the storefront surface a run drives.
type StorefrontAPI interface {
	CartCreate(ctx context.Context, lines []store.CartLine, countryCode string) (string, error)
	CartBuyerIdentityUpdate(ctx context.Context, cartID, countryCode string, addr shopify.DeliveryAddress) ([]shopify.UserError, error)
	CartDiscountCodesUpdate(ctx context.Context, cartID string, codes []string) ([]shopify.UserError, error)
	CartDeliveryOptions(ctx context.Context, cartID string) (*shopify.CartDelivery, error)
	Variants(ctx context.Context, ids []string) ([]shopify.VariantInfo, error)
}

// AdminAPI is the admin surface used for address normalization and enrichment.
type AdminAPI interface {
	MarketEnabled(ctx context.Context, countryCode string) (bool, error)
	CountryRequirements(ctx context.Context, countryCode string) (shopify.CountryRequirements, error)
	Provinces(ctx context.Context, countryCode string) ([]shopify.Province, error)
}

// Clients builds API clients for a tenant.
type Clients interface {
	Storefront(tenant *store.Tenant, cred credentials.Credential) StorefrontAPI
	Admin(tenant *store.Tenant) (AdminAPI, error)
}

// ShopifyClients builds rate-limited Shopify clients.
type ShopifyClients struct {
	Limiter      shopify.Limiter
	AdminVersion string
	HTTPClient   *http.Client
}

func (c *ShopifyClients) options() []shopify.Option {
	var opts []shopify.Option
	if c.Limiter != nil {
		opts = append(opts, shopify.WithLimiter(c.Limiter))
	}
	if c.HTTPClient != nil {
		opts = append(opts, shopify.WithHTTPClient(c.HTTPClient))
	}
	return opts
}

// Storefront implements Clients.
func (c *ShopifyClients) Storefront(tenant *store.Tenant, cred credentials.Credential) StorefrontAPI {
	return shopify.NewStorefront(tenant.Domain, cred.Token, cred.Version, c.options()...)
}

// Admin implements Clients.
func (c *ShopifyClients) Admin(tenant *store.Tenant) (AdminAPI, error) {
	return c.admin(tenant)
}

// CredentialAdmin adapts the admin client for the credential provider.
func (c *ShopifyClients) CredentialAdmin(tenant *store.Tenant) (credentials.AdminAPI, error) {
	return c.admin(tenant)
}

func (c *ShopifyClients) admin(tenant *store.Tenant) (*shopify.Admin, error) {
	return shopify.NewAdmin(tenant.Domain, tenant.AdminAccessToken, c.AdminVersion, c.options()...)
}
