// Package geocode resolves French postal addresses through the Base Adresse
// Nationale (api-adresse.data.gouv.fr).
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/verifdevis/devis-cli/internal/resilience"
)

const defaultBaseURL = "https://api-adresse.data.gouv.fr"

// Client geocodes addresses.
type Client interface {
	// Geocode returns the best candidate for the address. A nil result with a
	// nil error means the service found nothing.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	Street     string
	PostalCode string
	City       string
}

// OneLine joins the non-empty parts of the address.
func (a AddressInput) OneLine() string {
	var parts []string
	for _, p := range []string{a.Street, a.PostalCode, a.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Result holds the geocoding output for an address.
type Result struct {
	Label      string
	PostalCode string
	CityCode   string
	City       string
	Score      float64
	Type       string // housenumber, street, locality, municipality
	Latitude   float64
	Longitude  float64
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		g.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second rate limit.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps)))
		}
	}
}

type geocoder struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(40, 40), // BAN allows 50 req/s per IP
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type searchResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Label    string  `json:"label"`
			Score    float64 `json:"score"`
			Postcode string  `json:"postcode"`
			CityCode string  `json:"citycode"`
			City     string  `json:"city"`
			Type     string  `json:"type"`
		} `json:"properties"`
	} `json:"features"`
}

func (g *geocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	q := addr.OneLine()
	if len(q) < 3 {
		return nil, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limiter")
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("limit", "1")
	if addr.PostalCode != "" {
		params.Set("postcode", strings.TrimSpace(addr.PostalCode))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search/?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: create request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(resilience.NewUpstreamStatusError("geocode", resp.StatusCode, body), "geocode: search")
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "geocode: decode response")
	}
	if len(sr.Features) == 0 {
		return nil, nil
	}

	f := sr.Features[0]
	r := &Result{
		Label:      f.Properties.Label,
		PostalCode: f.Properties.Postcode,
		CityCode:   f.Properties.CityCode,
		City:       f.Properties.City,
		Score:      f.Properties.Score,
		Type:       f.Properties.Type,
	}
	// GeoJSON order is [lon, lat].
	if len(f.Geometry.Coordinates) == 2 {
		r.Longitude = f.Geometry.Coordinates[0]
		r.Latitude = f.Geometry.Coordinates[1]
	}
	return r, nil
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
