// Package dvf queries the property market-price service built on the DVF
// (Demandes de valeurs foncières) transaction dataset.
package dvf

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/resilience"
)

// Query identifies a commune and a property type ("maison", "appartement").
type Query struct {
	CodeINSEE string `json:"code_insee"`
	TypeBien  string `json:"type_bien"`
}

// Price is the service answer. PrixM2 is nil when no transactions exist.
type Price struct {
	DVFAvailable    bool     `json:"dvf_available"`
	PrixM2          *float64 `json:"prix_m2"`
	Source          string   `json:"source"`
	ZoneLabel       string   `json:"zone_label"`
	NiveauFiabilite string   `json:"niveau_fiabilite,omitempty"`
	NbTransactions  *int     `json:"nb_transactions,omitempty"`
}

// Client fetches market prices.
type Client interface {
	MarketPrice(ctx context.Context, q Query) (*Price, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithAPIKey sends the key as a bearer token and an apikey header.
func WithAPIKey(key string) Option {
	return func(c *httpClient) {
		c.apiKey = key
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewClient creates a client posting to the full endpoint URL.
func NewClient(url string, opts ...Option) Client {
	c := &httpClient{
		url:  strings.TrimRight(url, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) MarketPrice(ctx context.Context, q Query) (*Price, error) {
	if q.CodeINSEE == "" {
		return nil, eris.New("dvf: code_insee is required")
	}

	payload, err := json.Marshal(q)
	if err != nil {
		return nil, eris.Wrap(err, "dvf: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "dvf: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "dvf: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "dvf: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(resilience.NewUpstreamStatusError("dvf", resp.StatusCode, body), "dvf: market price")
	}

	var p Price
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "dvf: decode response")
	}
	return &p, nil
}
