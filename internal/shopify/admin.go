package shopify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shipsanity/internal/ratelimit"
)

// Admin is a client for the Admin GraphQL and REST APIs.
type Admin struct {
	*Client
}

// NewAdmin returns an admin client for shop. An empty token yields ErrNoAdminSession.
func NewAdmin(shop, token, version string, opts ...Option) (*Admin, error) {
	if token == "" {
		return nil, fmt.Errorf("%w for %s", ErrNoAdminSession, shop)
	}
	return &Admin{newClient(ratelimit.Admin, shop, token, "X-Shopify-Access-Token", version, opts)}, nil
}

const marketsQuery = `query MarketsAll {
  markets(first: 50) {
    nodes {
      id
      status
      regions(first: 250) { nodes { countryCode } }
    }
  }
}`

// MarketEnabled reports whether an ACTIVE market covers countryCode.
func (a *Admin) MarketEnabled(ctx context.Context, countryCode string) (bool, error) {
	var data struct {
		Markets struct {
			Nodes []struct {
				Status  string `json:"status"`
				Regions struct {
					Nodes []struct {
						CountryCode string `json:"countryCode"`
					} `json:"nodes"`
				} `json:"regions"`
			} `json:"nodes"`
		} `json:"markets"`
	}
	if err := a.GraphQL(ctx, marketsQuery, nil, &data); err != nil {
		return false, err
	}

	needle := strings.ToUpper(countryCode)
	for _, m := range data.Markets.Nodes {
		if m.Status != "ACTIVE" {
			continue
		}
		for _, r := range m.Regions.Nodes {
			if strings.ToUpper(r.CountryCode) == needle {
				return true, nil
			}
		}
	}
	return false, nil
}

// CountryRequirements are the address fields a country mandates at checkout.
type CountryRequirements struct {
	ZipRequired      bool
	ProvinceRequired bool
}

const countryRequirementsQuery = `query CountryRequirements($code: CountryCode!) {
  countryByCode(code: $code) { code zipRequired provinceRequired }
}`

// CountryRequirements asks the GraphQL API first and falls back to the REST countries resource.
// A country the shop does not ship to has no requirements.
func (a *Admin) CountryRequirements(ctx context.Context, countryCode string) (CountryRequirements, error) {
	var data struct {
		Country *struct {
			ZipRequired      *bool `json:"zipRequired"`
			ProvinceRequired *bool `json:"provinceRequired"`
		} `json:"countryByCode"`
	}
	err := a.GraphQL(ctx, countryRequirementsQuery, map[string]any{"code": strings.ToUpper(countryCode)}, &data)
	if err == nil && data.Country != nil && (data.Country.ZipRequired != nil || data.Country.ProvinceRequired != nil) {
		return CountryRequirements{
			ZipRequired:      data.Country.ZipRequired != nil && *data.Country.ZipRequired,
			ProvinceRequired: data.Country.ProvinceRequired != nil && *data.Country.ProvinceRequired,
		}, nil
	}

	c, err := a.country(ctx, countryCode)
	if err != nil || c == nil {
		return CountryRequirements{}, err
	}
	return CountryRequirements{ZipRequired: c.ZipRequired, ProvinceRequired: c.ProvinceRequired}, nil
}

// Province is a country subdivision as known to the shop.
type Province struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Provinces lists the subdivisions of countryCode. Unknown countries yield no provinces.
func (a *Admin) Provinces(ctx context.Context, countryCode string) ([]Province, error) {
	c, err := a.country(ctx, countryCode)
	if err != nil || c == nil {
		return nil, err
	}
	return c.Provinces, nil
}

type restCountry struct {
	ID               int64      `json:"id"`
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	ZipRequired      bool       `json:"zip_required"`
	ProvinceRequired bool       `json:"province_required"`
	Provinces        []Province `json:"provinces"`
}

// country resolves an ISO code to the shop's country resource via countries.json.
func (a *Admin) country(ctx context.Context, countryCode string) (*restCountry, error) {
	var list struct {
		Countries []restCountry `json:"countries"`
	}
	if err := a.REST(ctx, "countries.json", &list); err != nil {
		return nil, err
	}

	var id int64
	found := false
	for _, c := range list.Countries {
		if strings.EqualFold(c.Code, countryCode) {
			id, found = c.ID, true
			break
		}
	}
	if !found {
		return nil, nil
	}

	var detail struct {
		Country restCountry `json:"country"`
	}
	if err := a.REST(ctx, fmt.Sprintf("countries/%d.json", id), &detail); err != nil {
		return nil, err
	}
	return &detail.Country, nil
}

// StorefrontToken is a storefront access token owned by the app.
type StorefrontToken struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"accessToken"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
}

const listTokensQuery = `query ListTokens {
  shop {
    storefrontAccessTokens(first: 100) {
      nodes { id accessToken title createdAt }
    }
  }
}`

// StorefrontTokens lists the storefront access tokens of the shop.
func (a *Admin) StorefrontTokens(ctx context.Context) ([]StorefrontToken, error) {
	var data struct {
		Shop struct {
			Tokens struct {
				Nodes []StorefrontToken `json:"nodes"`
			} `json:"storefrontAccessTokens"`
		} `json:"shop"`
	}
	if err := a.GraphQL(ctx, listTokensQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Shop.Tokens.Nodes, nil
}

const createTokenMutation = `mutation CreateStorefrontToken($input: StorefrontAccessTokenInput!) {
  storefrontAccessTokenCreate(input: $input) {
    storefrontAccessToken { id accessToken title createdAt }
    userErrors { field message }
  }
}`

// CreateStorefrontToken creates a storefront access token with the given title.
func (a *Admin) CreateStorefrontToken(ctx context.Context, title string) (StorefrontToken, error) {
	var data struct {
		Create struct {
			Token      *StorefrontToken `json:"storefrontAccessToken"`
			UserErrors []UserError      `json:"userErrors"`
		} `json:"storefrontAccessTokenCreate"`
	}
	if err := a.GraphQL(ctx, createTokenMutation, map[string]any{"input": map[string]any{"title": title}}, &data); err != nil {
		return StorefrontToken{}, err
	}
	if data.Create.Token == nil || data.Create.Token.AccessToken == "" {
		msgs := make([]string, 0, len(data.Create.UserErrors))
		for _, e := range data.Create.UserErrors {
			msgs = append(msgs, e.Message)
		}
		if len(msgs) == 0 {
			msgs = append(msgs, "Unknown error")
		}
		return StorefrontToken{}, fmt.Errorf("failed to create storefront token: %s", strings.Join(msgs, "; "))
	}
	return *data.Create.Token, nil
}

const deleteTokenMutation = `mutation DeleteToken($input: StorefrontAccessTokenDeleteInput!) {
  storefrontAccessTokenDelete(input: $input) {
    deletedStorefrontAccessTokenId
    userErrors { field message }
  }
}`

// DeleteStorefrontToken deletes a storefront access token by id.
func (a *Admin) DeleteStorefrontToken(ctx context.Context, id string) error {
	var data struct {
		Delete struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"storefrontAccessTokenDelete"`
	}
	if err := a.GraphQL(ctx, deleteTokenMutation, map[string]any{"input": map[string]any{"id": id}}, &data); err != nil {
		return err
	}
	if len(data.Delete.UserErrors) > 0 {
		return fmt.Errorf("failed to delete storefront token %s: %s", id, data.Delete.UserErrors[0].Message)
	}
	return nil
}
