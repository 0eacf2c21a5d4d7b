// Package verify checks the issuing company of a quote against the company
// registry, published insolvency procedures, bank details and the national
// address base. Unreachable sources degrade the result instead of failing it.
package verify

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verifdevis/devis-cli/internal/cache"
	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/extract"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/resilience"
	"github.com/verifdevis/devis-cli/pkg/bodacc"
	"github.com/verifdevis/devis-cli/pkg/entreprises"
	"github.com/verifdevis/devis-cli/pkg/geocode"
	"github.com/verifdevis/devis-cli/pkg/iban"
)

// Verifier is the company verification stage. It holds no per-request state.
type Verifier struct {
	registry   entreprises.Client
	procedures bodacc.Client
	bank       iban.Client
	geocoder   geocode.Client
	cache      cache.Cache
	breakers   *resilience.Breakers

	timeout   time.Duration
	ttl       time.Duration
	threshold float64
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithBank enables the remote bank lookup for valid IBANs.
func WithBank(c iban.Client) Option { return func(v *Verifier) { v.bank = c } }

// WithGeocoder enables geocoding of the declared company address.
func WithGeocoder(c geocode.Client) Option { return func(v *Verifier) { v.geocoder = c } }

// WithCache stores company facts between analyses.
func WithCache(c cache.Cache) Option { return func(v *Verifier) { v.cache = c } }

// WithBreakers shares a breaker registry, typically one per process.
func WithBreakers(b *resilience.Breakers) Option { return func(v *Verifier) { v.breakers = b } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(v *Verifier) { v.now = now } }

// New creates a Verifier.
func New(cfg config.VerifyConfig, registry entreprises.Client, procedures bodacc.Client, opts ...Option) *Verifier {
	v := &Verifier{
		registry:   registry,
		procedures: procedures,
		timeout:    time.Duration(cfg.SourceTimeoutSecs) * time.Second,
		ttl:        time.Duration(cfg.CacheTTLDays) * 24 * time.Hour,
		threshold:  cfg.NameMatchThreshold,
		now:        time.Now,
	}
	if v.timeout <= 0 {
		v.timeout = 5 * time.Second
	}
	if v.ttl <= 0 {
		v.ttl = 30 * 24 * time.Hour
	}
	if v.threshold <= 0 {
		v.threshold = 0.5
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.breakers == nil {
		v.breakers = resilience.NewBreakers(resilience.BreakerConfigFrom(cfg.BreakerFailureThreshold, cfg.BreakerResetSecs))
	}
	return v
}

// Breakers exposes the breaker registry for health reporting.
func (v *Verifier) Breakers() *resilience.Breakers { return v.breakers }

// Verify builds the verification record for the extracted quote. It only
// returns an error when ctx is done.
func (v *Verifier) Verify(ctx context.Context, ed *model.ExtractedData) (*model.VerificationResult, error) {
	start := time.Now()
	now := v.now()
	res := &model.VerificationResult{
		Identifier:     ed.Identifier,
		Siren:          ed.Siren(),
		Exists:         model.PresenceUnknown,
		Status:         model.StatusUnknown,
		FinancialTrend: model.TrendUnknown,
		FetchedAt:      now,
	}

	var (
		facts    *model.CompanyFacts
		fromMem  bool
		ibanChk  model.IBANCheck
		ibanSrc  model.SourceStatus
		addrChk  model.AddressCheck
		addrSrc  model.SourceStatus
		noSource = func(name string) model.SourceStatus {
			return model.SourceStatus{Name: name, State: model.SourceSkipped, Error: "identifiant absent", FetchedAt: now}
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	if res.Siren != "" {
		g.Go(func() error {
			facts, fromMem = v.companyFacts(gctx, res.Siren)
			return nil
		})
	}
	g.Go(func() error {
		ibanChk, ibanSrc = v.checkIBAN(gctx, ed.Payment.IBAN)
		return nil
	})
	g.Go(func() error {
		addrChk, addrSrc = v.checkAddress(gctx, ed)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "verify: cancelled")
	}

	if facts == nil {
		res.Sources = append(res.Sources, noSource(model.SourceRegistry), noSource(model.SourceProcedures))
	} else {
		v.reconcile(res, facts, now)
		res.Sources = append(res.Sources,
			factSource(model.SourceRegistry, facts.Registry, facts.FetchedAt),
			factSource(model.SourceProcedures, facts.Procedures, facts.FetchedAt))
		if fromMem {
			res.Sources = append(res.Sources, model.SourceStatus{Name: model.SourceCache, State: model.SourceOK, FetchedAt: now})
		}
	}
	res.Sources = append(res.Sources, ibanSrc, addrSrc)
	res.IBAN = ibanChk

	if addrChk.Matched && facts != nil && facts.SeatLat != nil && facts.SeatLon != nil {
		d := math.Round(geocode.DistanceKm(addrChk.Latitude, addrChk.Longitude, *facts.SeatLat, *facts.SeatLon)*10) / 10
		addrChk.DistanceKm = &d
	}
	res.Address = addrChk

	if reason := identifierSuspicion(ed.Identifier); reason != "" {
		res.IdentifierSuspicious, res.SuspicionReason = true, reason
	} else if res.Exists == model.PresenceNo {
		if other := contradictingCandidate(res.Siren, ed.IdentifierCandidates); other != "" {
			res.IdentifierSuspicious = true
			res.SuspicionReason = "numéro introuvable au registre et contredit par le SIREN " + other
		}
	}

	if res.LegalName != "" {
		if match, ok := NameMatch(ed.CompanyName, res.LegalName, v.threshold); ok {
			res.NameMatches = &match
		}
	}

	for _, kind := range []model.InsuranceKind{model.InsuranceDecennale, model.InsuranceRCPro} {
		res.Insurance = append(res.Insurance, checkInsurance(ed, kind, res.IdentifierSuspicious, now))
	}

	for _, s := range res.Sources {
		if s.State == model.SourceUnknown {
			res.Degraded = true
		}
	}

	zap.L().Info("verify: company verified",
		zap.String("siren", res.Siren),
		zap.String("exists", string(res.Exists)),
		zap.String("status", string(res.Status)),
		zap.Bool("suspicious", res.IdentifierSuspicious),
		zap.Bool("degraded", res.Degraded),
		zap.Bool("cached", fromMem),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func factSource(name string, state model.SourceState, at time.Time) model.SourceStatus {
	s := model.SourceStatus{Name: name, State: state, FetchedAt: at}
	if state == model.SourceUnknown {
		s.Error = "source indisponible"
	}
	return s
}

// reconcile copies company facts into the result. Registry state and
// published procedures take precedence over anything stated on the quote.
func (v *Verifier) reconcile(res *model.VerificationResult, f *model.CompanyFacts, now time.Time) {
	res.Exists = f.Exists
	res.LegalName = f.LegalName
	res.CreatedOn = f.CreatedOn
	res.NAFCode = f.NAFCode
	res.Finances = f.Finances
	res.FinancialTrend = financialTrend(f.Finances)

	if f.Registry == model.SourceOK && f.Exists == model.PresenceYes {
		res.Status = f.Status
	}
	if f.Procedure != nil {
		res.Procedure = f.Procedure
		if res.Status != model.StatusCeased {
			res.Status = model.StatusInsolvency
		}
	}
	if f.CreatedOn != nil {
		years := math.Round(now.Sub(*f.CreatedOn).Hours()/24/365.25*10) / 10
		res.AgeYears = &years
	}
}

// guarded runs fn under the source's breaker and timeout.
func guarded[T any](ctx context.Context, v *Verifier, source string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return resilience.Call(ctx, v.breakers.Get(source), fn)
}

func (v *Verifier) sourceFailed(source, siren string, err error) {
	zap.L().Warn("verify: source failed",
		zap.String("source", source),
		zap.String("siren", siren),
		zap.String("reason", resilience.Describe(err)),
		zap.Error(err),
	)
}

// companyFacts returns registry and procedure facts, from the cache when a
// complete entry exists. Only complete lookups are written back.
func (v *Verifier) companyFacts(ctx context.Context, siren string) (*model.CompanyFacts, bool) {
	key := cache.CompanyKey(siren)
	if v.cache != nil {
		raw, err := v.cache.Get(ctx, key)
		if err != nil {
			zap.L().Warn("verify: cache read failed", zap.String("siren", siren), zap.Error(err))
		} else if raw != nil {
			var f model.CompanyFacts
			if err := json.Unmarshal(raw, &f); err == nil && f.Complete() {
				return &f, true
			}
		}
	}

	f := &model.CompanyFacts{
		Siren:      siren,
		Exists:     model.PresenceUnknown,
		Status:     model.StatusUnknown,
		FetchedAt:  v.now(),
		Registry:   model.SourceUnknown,
		Procedures: model.SourceUnknown,
	}

	type lookup struct {
		company *entreprises.Company
	}
	var (
		reg     lookup
		regErr  error
		anns    []bodacc.Announcement
		procErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reg, regErr = guarded(gctx, v, model.SourceRegistry, func(ctx context.Context) (lookup, error) {
			c, err := v.registry.GetCompany(ctx, siren)
			if eris.Is(err, entreprises.ErrNotFound) {
				return lookup{}, nil
			}
			return lookup{company: c}, err
		})
		return nil
	})
	g.Go(func() error {
		anns, procErr = guarded(gctx, v, model.SourceProcedures, func(ctx context.Context) ([]bodacc.Announcement, error) {
			return v.procedures.Procedures(ctx, siren)
		})
		return nil
	})
	_ = g.Wait()

	if regErr != nil {
		v.sourceFailed(model.SourceRegistry, siren, regErr)
	} else {
		f.Registry = model.SourceOK
		applyCompany(f, reg.company)
	}
	if procErr != nil {
		v.sourceFailed(model.SourceProcedures, siren, procErr)
	} else {
		f.Procedures = model.SourceOK
		f.Procedure = openProcedure(anns)
	}

	if v.cache != nil && f.Complete() && ctx.Err() == nil {
		raw, err := json.Marshal(f)
		if err == nil {
			err = v.cache.Set(ctx, key, raw, v.ttl)
		}
		if err != nil {
			zap.L().Warn("verify: cache write failed", zap.String("siren", siren), zap.Error(err))
		}
	}
	return f, false
}

func applyCompany(f *model.CompanyFacts, c *entreprises.Company) {
	if c == nil {
		f.Exists = model.PresenceNo
		return
	}
	f.Exists = model.PresenceYes
	f.LegalName = c.Name
	f.CreatedOn = c.CreatedOn
	f.NAFCode = c.NAFCode
	f.SeatAddr = c.Seat.Address
	f.SeatCode = c.Seat.PostalCode
	f.SeatLat = c.Seat.Latitude
	f.SeatLon = c.Seat.Longitude
	f.Status = model.StatusActive
	if !c.Active {
		f.Status = model.StatusCeased
	}
	for _, fy := range c.Finances {
		f.Finances = append(f.Finances, model.FinancialYear{Year: fy.Year, Revenue: fy.Revenue, NetIncome: fy.NetIncome})
	}
}

var procedureKinds = []struct {
	keyword, kind, label string
}{
	{"liquidation", "liquidation_judiciaire", "Liquidation judiciaire"},
	{"redressement", "redressement_judiciaire", "Redressement judiciaire"},
	{"sauvegarde", "sauvegarde", "Procédure de sauvegarde"},
}

var closingKeywords = []string{"cloture", "extinction", "infirm", "retractation"}

// openProcedure returns the newest collective procedure that has no later
// closing judgement. anns is newest first.
func openProcedure(anns []bodacc.Announcement) *model.Procedure {
	for _, a := range anns {
		text := extract.Fold(a.Kind + " " + a.Judgment)
		for _, kw := range closingKeywords {
			if strings.Contains(text, kw) {
				return nil
			}
		}
		for _, pk := range procedureKinds {
			if strings.Contains(text, pk.keyword) {
				return &model.Procedure{Kind: pk.kind, Label: pk.label, Date: a.Published, Court: a.Court}
			}
		}
	}
	return nil
}

// financialTrend compares revenue of the two most recent filed years;
// a change beyond 5 % is a trend.
func financialTrend(years []model.FinancialYear) model.Trend {
	var withRevenue []model.FinancialYear
	for _, y := range years {
		if y.Revenue != nil {
			withRevenue = append(withRevenue, y)
		}
	}
	if len(withRevenue) < 2 {
		return model.TrendUnknown
	}
	sort.Slice(withRevenue, func(i, j int) bool { return withRevenue[i].Year < withRevenue[j].Year })
	prev := *withRevenue[len(withRevenue)-2].Revenue
	last := *withRevenue[len(withRevenue)-1].Revenue
	if prev <= 0 {
		if last > 0 {
			return model.TrendUp
		}
		return model.TrendStable
	}
	switch change := (last - prev) / prev; {
	case change > 0.05:
		return model.TrendUp
	case change < -0.05:
		return model.TrendDown
	default:
		return model.TrendStable
	}
}

func (v *Verifier) checkIBAN(ctx context.Context, raw string) (model.IBANCheck, model.SourceStatus) {
	src := model.SourceStatus{Name: model.SourceIBAN, State: model.SourceSkipped, FetchedAt: v.now()}
	if raw == "" {
		return model.IBANCheck{}, src
	}

	n := iban.Normalize(raw)
	valid := iban.Valid(n)
	chk := model.IBANCheck{Present: true, Valid: &valid, Country: iban.Country(n)}
	src.State = model.SourceOK
	if !valid || v.bank == nil {
		return chk, src
	}

	info, err := guarded(ctx, v, model.SourceIBAN, func(ctx context.Context) (*iban.BankInfo, error) {
		return v.bank.Lookup(ctx, n)
	})
	if err != nil {
		v.sourceFailed(model.SourceIBAN, "", err)
		src.State, src.Error = model.SourceUnknown, resilience.Describe(err)
		return chk, src
	}
	if info != nil {
		chk.BankName, chk.BIC = info.BankName, info.BIC
	}
	return chk, src
}

// minGeocodeScore is the BAN relevance score above which an address counts as located.
const minGeocodeScore = 0.5

func (v *Verifier) checkAddress(ctx context.Context, ed *model.ExtractedData) (model.AddressCheck, model.SourceStatus) {
	src := model.SourceStatus{Name: model.SourceGeocode, State: model.SourceSkipped, FetchedAt: v.now()}
	in := geocode.AddressInput{Street: ed.Address, PostalCode: ed.PostalCode, City: ed.City}
	chk := model.AddressCheck{Declared: in.OneLine()}
	if v.geocoder == nil || chk.Declared == "" {
		return chk, src
	}

	r, err := guarded(ctx, v, model.SourceGeocode, func(ctx context.Context) (*geocode.Result, error) {
		return v.geocoder.Geocode(ctx, in)
	})
	if err != nil {
		v.sourceFailed(model.SourceGeocode, ed.Siren(), err)
		src.State, src.Error = model.SourceUnknown, resilience.Describe(err)
		return chk, src
	}
	src.State = model.SourceOK
	if r == nil {
		return chk, src
	}
	chk.Label = r.Label
	chk.PostalCode = r.PostalCode
	chk.CityCode = r.CityCode
	chk.Score = r.Score
	chk.Latitude = r.Latitude
	chk.Longitude = r.Longitude
	chk.Matched = r.Score >= minGeocodeScore
	return chk, src
}
