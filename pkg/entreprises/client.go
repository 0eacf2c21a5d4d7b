// Package entreprises is a client for the French company registry search API
// (recherche-entreprises.api.gouv.fr).
package entreprises

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/verifdevis/devis-cli/internal/resilience"
)

const defaultBaseURL = "https://recherche-entreprises.api.gouv.fr"

// ErrNotFound is returned when the registry has no unit for the SIREN.
var ErrNotFound = eris.New("entreprises: company not found")

// Client looks up companies in the registry.
type Client interface {
	GetCompany(ctx context.Context, siren string) (*Company, error)
}

// Company is the registry view of a legal unit.
type Company struct {
	Siren       string
	Name        string
	Active      bool
	ClosedOn    *time.Time
	CreatedOn   *time.Time
	NAFCode     string
	LegalForm   string
	Individual  bool
	Seat        Establishment
	Finances    []Finance
	MatchingIDs []string
}

// Establishment is the registered seat of a company.
type Establishment struct {
	Siret      string
	Address    string
	PostalCode string
	City       string
	CityCode   string
	Latitude   *float64
	Longitude  *float64
	Active     bool
}

// Finance is one year of published accounts.
type Finance struct {
	Year      int
	Revenue   *float64
	NetIncome *float64
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

// WithRateLimit sets the requests-per-second limit. The public API allows 7 req/s.
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

// NewClient creates a registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(7, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	Results      []unite `json:"results"`
	TotalResults int     `json:"total_results"`
}

type unite struct {
	Siren             string                  `json:"siren"`
	NomComplet        string                  `json:"nom_complet"`
	NomRaisonSociale  string                  `json:"nom_raison_sociale"`
	EtatAdministratif string                  `json:"etat_administratif"`
	DateCreation      string                  `json:"date_creation"`
	DateFermeture     string                  `json:"date_fermeture"`
	ActivitePrincip   string                  `json:"activite_principale"`
	NatureJuridique   string                  `json:"nature_juridique"`
	Siege             siege                   `json:"siege"`
	Finances          map[string]financeEntry `json:"finances"`
	Complements       struct {
		EstEntrepreneurIndividuel bool `json:"est_entrepreneur_individuel"`
	} `json:"complements"`
	MatchingEtablissements []struct {
		Siret string `json:"siret"`
	} `json:"matching_etablissements"`
}

type siege struct {
	Siret             string    `json:"siret"`
	Adresse           string    `json:"adresse"`
	CodePostal        string    `json:"code_postal"`
	LibelleCommune    string    `json:"libelle_commune"`
	Commune           string    `json:"commune"`
	Latitude          flexFloat `json:"latitude"`
	Longitude         flexFloat `json:"longitude"`
	EtatAdministratif string    `json:"etat_administratif"`
}

type financeEntry struct {
	CA          *float64 `json:"ca"`
	ResultatNet *float64 `json:"resultat_net"`
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value = &v
	return nil
}

func (c *httpClient) GetCompany(ctx context.Context, siren string) (*Company, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "entreprises: rate limiter")
	}

	q := url.Values{}
	q.Set("q", siren)
	q.Set("page", "1")
	q.Set("per_page", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "entreprises: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "entreprises: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "entreprises: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(resilience.NewUpstreamStatusError("entreprises", resp.StatusCode, body), "entreprises: search")
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "entreprises: decode response")
	}

	for _, u := range sr.Results {
		if u.Siren == siren {
			return toCompany(u), nil
		}
	}
	return nil, ErrNotFound
}

func toCompany(u unite) *Company {
	name := u.NomRaisonSociale
	if name == "" {
		name = u.NomComplet
	}
	c := &Company{
		Siren:      u.Siren,
		Name:       name,
		Active:     u.EtatAdministratif == "A",
		CreatedOn:  parseDate(u.DateCreation),
		ClosedOn:   parseDate(u.DateFermeture),
		NAFCode:    u.ActivitePrincip,
		LegalForm:  u.NatureJuridique,
		Individual: u.Complements.EstEntrepreneurIndividuel,
		Seat: Establishment{
			Siret:      u.Siege.Siret,
			Address:    u.Siege.Adresse,
			PostalCode: u.Siege.CodePostal,
			City:       u.Siege.LibelleCommune,
			CityCode:   u.Siege.Commune,
			Latitude:   u.Siege.Latitude.Value,
			Longitude:  u.Siege.Longitude.Value,
			Active:     u.Siege.EtatAdministratif == "A",
		},
	}
	for _, m := range u.MatchingEtablissements {
		c.MatchingIDs = append(c.MatchingIDs, m.Siret)
	}
	for year, f := range u.Finances {
		y, err := strconv.Atoi(year)
		if err != nil {
			continue
		}
		c.Finances = append(c.Finances, Finance{Year: y, Revenue: f.CA, NetIncome: f.ResultatNet})
	}
	sort.Slice(c.Finances, func(i, j int) bool { return c.Finances[i].Year < c.Finances[j].Year })
	return c
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
