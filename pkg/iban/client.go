// Package iban validates IBANs locally (ISO 13616 mod-97) and optionally
// resolves the issuing bank through the openiban.com service.
package iban

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/resilience"
)

const defaultBaseURL = "https://openiban.com"

// Normalize strips whitespace and upper-cases an IBAN.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Valid reports whether the IBAN passes the structural and mod-97 checks.
func Valid(s string) bool {
	n := Normalize(s)
	if len(n) < 15 || len(n) > 34 {
		return false
	}
	if !unicode.IsLetter(rune(n[0])) || !unicode.IsLetter(rune(n[1])) {
		return false
	}
	if want, ok := countryLengths[n[:2]]; ok && len(n) != want {
		return false
	}

	rearranged := n[4:] + n[:4]
	var digits strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			digits.WriteString(big.NewInt(int64(r - 'A' + 10)).String())
		default:
			return false
		}
	}

	v, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(v, big.NewInt(97)).Int64() == 1
}

// Country returns the two-letter country prefix of a normalized IBAN.
func Country(s string) string {
	n := Normalize(s)
	if len(n) < 2 {
		return ""
	}
	return n[:2]
}

var countryLengths = map[string]int{
	"FR": 27, "MC": 27, "BE": 16, "LU": 20, "DE": 22, "ES": 24,
	"IT": 27, "PT": 25, "NL": 18, "CH": 21, "GB": 22, "IE": 22,
}

// BankInfo is what the remote service knows about the account's bank.
type BankInfo struct {
	Valid    bool
	BankName string
	BIC      string
	City     string
}

// Client resolves bank details for an IBAN.
type Client interface {
	Lookup(ctx context.Context, iban string) (*BankInfo, error)
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

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an openiban client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type validateResponse struct {
	Valid    bool     `json:"valid"`
	Messages []string `json:"messages"`
	BankData struct {
		BankCode string `json:"bankCode"`
		Name     string `json:"name"`
		Zip      string `json:"zip"`
		City     string `json:"city"`
		BIC      string `json:"bic"`
	} `json:"bankData"`
}

func (c *httpClient) Lookup(ctx context.Context, iban string) (*BankInfo, error) {
	u := c.baseURL + "/validate/" + Normalize(iban) + "?getBIC=true&validateBankCode=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "iban: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "iban: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "iban: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(resilience.NewUpstreamStatusError("iban", resp.StatusCode, body), "iban: validate")
	}

	var vr validateResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, eris.Wrap(err, "iban: decode response")
	}
	return &BankInfo{
		Valid:    vr.Valid,
		BankName: vr.BankData.Name,
		BIC:      vr.BankData.BIC,
		City:     vr.BankData.City,
	}, nil
}
