// Package geo resolves a city and province for a postal code.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGoogleURL      = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultZippopotamURL  = "https://api.zippopotam.us"
	defaultRequestTimeout = 10 * time.Second
)

// Result is the outcome of a lookup. Empty fields mean unknown.
type Result struct {
	City         string
	ProvinceCode string
}

// Empty reports whether nothing was resolved.
func (r Result) Empty() bool {
	return r.City == "" && r.ProvinceCode == ""
}

// Lookup queries Google Geocoding when an API key is configured and falls
// back to Zippopotam.us. Lookup failures are never surfaced to callers.
type Lookup struct {
	GoogleAPIKey  string
	GoogleURL     string
	ZippopotamURL string
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// New creates a lookup with production endpoints.
func New(googleAPIKey string, logger *slog.Logger) *Lookup {
	return &Lookup{GoogleAPIKey: googleAPIKey, Logger: logger}
}

// CityProvince resolves the city and province code for a postal code.
func (l *Lookup) CityProvince(ctx context.Context, countryCode, postalCode string) Result {
	countryCode = strings.TrimSpace(countryCode)
	postalCode = strings.TrimSpace(postalCode)
	if countryCode == "" || postalCode == "" {
		return Result{}
	}

	if l.GoogleAPIKey != "" {
		res, err := l.google(ctx, countryCode, postalCode)
		if err != nil {
			l.logger().Debug("geocoding lookup failed", "country", countryCode, "error", err)
		} else if !res.Empty() {
			return res
		}
	}

	res, err := l.zippopotam(ctx, countryCode, postalCode)
	if err != nil {
		l.logger().Debug("zippopotam lookup failed", "country", countryCode, "error", err)
		return Result{}
	}
	return res
}

type googleResponse struct {
	Results []struct {
		AddressComponents []struct {
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

func (l *Lookup) google(ctx context.Context, countryCode, postalCode string) (Result, error) {
	base := l.GoogleURL
	if base == "" {
		base = defaultGoogleURL
	}
	q := url.Values{}
	q.Set("address", postalCode)
	q.Set("components", "country:"+countryCode)
	q.Set("key", l.GoogleAPIKey)

	var body googleResponse
	if err := l.getJSON(ctx, base+"?"+q.Encode(), &body); err != nil {
		return Result{}, err
	}
	if len(body.Results) == 0 {
		return Result{}, nil
	}

	components := body.Results[0].AddressComponents
	find := func(kind string) string {
		for _, c := range components {
			for _, t := range c.Types {
				if t == kind {
					return c.ShortName
				}
			}
		}
		return ""
	}

	city := find("locality")
	if city == "" {
		city = find("postal_town")
	}
	return Result{City: city, ProvinceCode: find("administrative_area_level_1")}, nil
}

type zippopotamResponse struct {
	Places []map[string]string `json:"places"`
}

func (l *Lookup) zippopotam(ctx context.Context, countryCode, postalCode string) (Result, error) {
	base := l.ZippopotamURL
	if base == "" {
		base = defaultZippopotamURL
	}
	u := fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), strings.ToLower(countryCode), url.PathEscape(postalCode))

	var body zippopotamResponse
	if err := l.getJSON(ctx, u, &body); err != nil {
		return Result{}, err
	}
	if len(body.Places) == 0 {
		return Result{}, nil
	}

	place := body.Places[0]
	city := place["place name"]
	if city == "" {
		city = place["state"]
	}
	return Result{City: city, ProvinceCode: place["state abbreviation"]}, nil
}

func (l *Lookup) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	client := l.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (l *Lookup) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
