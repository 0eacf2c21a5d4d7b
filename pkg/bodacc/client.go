// Package bodacc queries the BODACC open-data API for collective insolvency
// proceedings (sauvegarde, redressement, liquidation) published against a company.
package bodacc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/verifdevis/devis-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://bodacc-datadila.opendatasoft.com/api/explore/v2.1"
	dataset        = "annonces-commerciales"
)

// Client fetches insolvency announcements.
type Client interface {
	// Procedures returns collective proceedings for the SIREN, newest first.
	// An empty slice means none were published.
	Procedures(ctx context.Context, siren string) ([]Announcement, error)
}

// Announcement is one published collective proceeding.
type Announcement struct {
	ID        string
	Family    string
	Kind      string
	Published *time.Time
	Court     string
	Judgment  string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a BODACC client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(5, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type recordsResponse struct {
	TotalCount int      `json:"total_count"`
	Results    []record `json:"results"`
}

type record struct {
	ID             string `json:"id"`
	FamilleAvis    string `json:"familleavis"`
	FamilleAvisLib string `json:"familleavis_lib"`
	DateParution   string `json:"dateparution"`
	Tribunal       string `json:"tribunal"`
	// jugement is a JSON document serialized as a string.
	Jugement string `json:"jugement"`
}

type jugement struct {
	Famille string `json:"famille"`
	Nature  string `json:"nature"`
	Date    string `json:"date"`
}

func (c *httpClient) Procedures(ctx context.Context, siren string) ([]Announcement, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "bodacc: rate limiter")
	}

	q := url.Values{}
	q.Set("where", fmt.Sprintf(`registre like "%s" and familleavis="collective"`, siren))
	q.Set("order_by", "dateparution desc")
	q.Set("limit", "20")

	u := fmt.Sprintf("%s/catalog/datasets/%s/records?%s", c.baseURL, dataset, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "bodacc: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "bodacc: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "bodacc: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(resilience.NewUpstreamStatusError("bodacc", resp.StatusCode, body), "bodacc: records")
	}

	var rr recordsResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, eris.Wrap(err, "bodacc: decode response")
	}

	out := make([]Announcement, 0, len(rr.Results))
	for _, r := range rr.Results {
		a := Announcement{
			ID:     r.ID,
			Family: r.FamilleAvis,
			Kind:   r.FamilleAvisLib,
			Court:  r.Tribunal,
		}
		if t, err := time.Parse("2006-01-02", r.DateParution); err == nil {
			a.Published = &t
		}
		if r.Jugement != "" {
			var j jugement
			if err := json.Unmarshal([]byte(r.Jugement), &j); err == nil {
				a.Judgment = j.Nature
				if j.Famille != "" {
					a.Kind = j.Famille
				}
			}
		}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Published == nil {
			return false
		}
		if out[k].Published == nil {
			return true
		}
		return out[i].Published.After(*out[k].Published)
	})
	return out, nil
}
