package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T, h http.HandlerFunc) *Admin {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rec := &sleepRecorder{}
	admin, err := NewAdmin("acme.myshopify.com", "shpat", "2025-07", WithBaseURL(srv.URL), WithSleep(rec.sleep))
	require.NoError(t, err)
	return admin
}

func TestNewAdmin_RequiresToken(t *testing.T) {
	_, err := NewAdmin("acme.myshopify.com", "", "")
	assert.True(t, errors.Is(err, ErrNoAdminSession))
}

func TestMarketEnabled(t *testing.T) {
	admin := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/2025-07/graphql.json", r.URL.Path)
		fmt.Fprint(w, `{"data":{"markets":{"nodes":[
			{"id":"m1","status":"ACTIVE","regions":{"nodes":[{"countryCode":"US"},{"countryCode":"CA"}]}},
			{"id":"m2","status":"DRAFT","regions":{"nodes":[{"countryCode":"DE"}]}}
		]}}}`)
	})

	enabled, err := admin.MarketEnabled(context.Background(), "ca")
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = admin.MarketEnabled(context.Background(), "DE")
	require.NoError(t, err)
	assert.False(t, enabled, "a draft market does not enable its countries")
}

func TestCountryRequirements_GraphQL(t *testing.T) {
	admin := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "graphql.json") {
			t.Errorf("unexpected REST call %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":{"countryByCode":{"code":"US","zipRequired":true,"provinceRequired":true}}}`)
	})

	req, err := admin.CountryRequirements(context.Background(), "us")
	require.NoError(t, err)
	assert.Equal(t, CountryRequirements{ZipRequired: true, ProvinceRequired: true}, req)
}

func TestCountryRequirements_FallsBackToREST(t *testing.T) {
	admin := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/2025-07/graphql.json":
			fmt.Fprint(w, `{"errors":[{"message":"Field 'countryByCode' doesn't exist on type 'QueryRoot'"}]}`)
		case "/admin/api/2025-07/countries.json":
			fmt.Fprint(w, `{"countries":[{"id":11,"code":"US"},{"id":12,"code":"TR"}]}`)
		case "/admin/api/2025-07/countries/12.json":
			fmt.Fprint(w, `{"country":{"id":12,"code":"TR","zip_required":true,"province_required":true,"provinces":[{"code":"TR-34","name":"Istanbul"}]}}`)
		default:
			http.NotFound(w, r)
		}
	})

	req, err := admin.CountryRequirements(context.Background(), "TR")
	require.NoError(t, err)
	assert.True(t, req.ZipRequired)
	assert.True(t, req.ProvinceRequired)
}

func TestProvinces(t *testing.T) {
	admin := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/2025-07/countries.json":
			fmt.Fprint(w, `{"countries":[{"id":12,"code":"TR"}]}`)
		case "/admin/api/2025-07/countries/12.json":
			fmt.Fprint(w, `{"country":{"id":12,"code":"TR","provinces":[{"code":"TR-34","name":"Istanbul"},{"code":"TR-06","name":"Ankara"}]}}`)
		}
	})

	provinces, err := admin.Provinces(context.Background(), "tr")
	require.NoError(t, err)
	assert.Equal(t, []Province{{Code: "TR-34", Name: "Istanbul"}, {Code: "TR-06", Name: "Ankara"}}, provinces)

	provinces, err = admin.Provinces(context.Background(), "JP")
	require.NoError(t, err)
	assert.Empty(t, provinces)
}

func TestStorefrontTokenLifecycle(t *testing.T) {
	admin := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		vars := decodeVars(t, r)
		switch {
		case vars == nil:
			fmt.Fprint(w, `{"data":{"shop":{"storefrontAccessTokens":{"nodes":[
				{"id":"gid://shopify/StorefrontAccessToken/1","accessToken":"old","title":"Sanity Tester","createdAt":"2025-01-01T00:00:00Z"}
			]}}}}`)
		case vars["input"].(map[string]any)["title"] != nil:
			fmt.Fprint(w, `{"data":{"storefrontAccessTokenCreate":{"storefrontAccessToken":{"id":"gid://shopify/StorefrontAccessToken/2","accessToken":"new","title":"Sanity Tester","createdAt":"2025-02-01T00:00:00Z"},"userErrors":[]}}}`)
		default:
			fmt.Fprint(w, `{"data":{"storefrontAccessTokenDelete":{"deletedStorefrontAccessTokenId":"1","userErrors":[]}}}`)
		}
	})

	tokens, err := admin.StorefrontTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), tokens[0].CreatedAt)

	created, err := admin.CreateStorefrontToken(context.Background(), "Sanity Tester")
	require.NoError(t, err)
	assert.Equal(t, "new", created.AccessToken)

	require.NoError(t, admin.DeleteStorefrontToken(context.Background(), tokens[0].ID))
}

func TestCreateStorefrontToken_UserErrors(t *testing.T) {
	admin := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"storefrontAccessTokenCreate":{"storefrontAccessToken":null,"userErrors":[{"field":["input"],"message":"Access denied"}]}}}`)
	})

	_, err := admin.CreateStorefrontToken(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied")
}
