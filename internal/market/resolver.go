package market

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/pkg/dvf"
	"github.com/verifdevis/devis-cli/pkg/geocode"
)

// PriceRequest asks for the band of one job type at one location.
type PriceRequest struct {
	JobType           string
	PostalCode        string
	Quantity          float64
	DeclaredUnitPrice float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDVF enables the property-market context.
func WithDVF(c dvf.Client) Option {
	return func(r *Resolver) { r.dvf = c }
}

// WithGeocoder lets ResolveQuote find the INSEE code of the work site.
func WithGeocoder(g geocode.Client) Option {
	return func(r *Resolver) { r.geo = g }
}

// Resolver computes market price lines. It holds no per-request state.
type Resolver struct {
	zones *Zones
	refs  *References
	cfg   config.MarketConfig
	dvf   dvf.Client
	geo   geocode.Client
}

// NewResolver creates a Resolver.
func NewResolver(zones *Zones, refs *References, cfg config.MarketConfig, opts ...Option) *Resolver {
	if cfg.FarAboveRatio <= 1 {
		cfg.FarAboveRatio = 2.0
	}
	if cfg.TypeBien == "" {
		cfg.TypeBien = "maison"
	}
	r := &Resolver{zones: zones, refs: refs, cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Zones exposes the zone table.
func (r *Resolver) Zones() *Zones { return r.zones }

// Resolve returns the band for one job type. A missing band is reported with
// Available=false, never as an error.
func (r *Resolver) Resolve(req PriceRequest) model.MarketPriceLine {
	zone := r.zones.Lookup(req.PostalCode)
	line := model.MarketPriceLine{
		JobType:           req.JobType,
		Zone:              zone.Zone,
		Coefficient:       zone.Coefficient,
		ZoneIsDefault:     zone.IsDefault,
		Quantity:          req.Quantity,
		DeclaredUnitPrice: req.DeclaredUnitPrice,
		Position:          model.PositionUnknown,
	}

	if req.JobType == "" || req.JobType == model.JobTypeOther {
		line.UnavailableReason = "aucune référence de prix pour la catégorie « autres »"
		return line
	}
	ref, ok := r.refs.Get(req.JobType)
	if !ok {
		line.UnavailableReason = fmt.Sprintf("catégorie %q sans référence de prix", req.JobType)
		return line
	}

	line.Unit = ref.Unit
	line.SampleSize = ref.Samples
	line.Reliability = model.ReliabilityFor(ref.Samples)
	if ref.Samples < r.cfg.MinSampleSize {
		line.UnavailableReason = fmt.Sprintf("échantillon insuffisant (%d observations)", ref.Samples)
		return line
	}

	band := ApplyZoneCoefficient(ref.Band(), zone.Coefficient)
	line.Min, line.Avg, line.Max = band.Min, band.Avg, band.Max
	line.Available = true
	line.Position = Position(req.DeclaredUnitPrice, band, r.cfg.FarAboveRatio)
	return line
}

// Position locates a declared unit price against a band. farRatio is the
// multiple of Max beyond which the price is far above market.
func Position(declared float64, band model.PriceBand, farRatio float64) model.PricePosition {
	switch {
	case declared <= 0:
		return model.PositionUnknown
	case declared > band.Max*farRatio:
		return model.PositionFarAbove
	case declared > band.Max:
		return model.PositionAbove
	case declared < band.Min:
		return model.PositionBelow
	default:
		return model.PositionWithin
	}
}

type jobAggregate struct {
	amount   float64
	quantity float64
	units    map[string]bool
}

// ResolveQuote resolves one line per job type of the quote. Job types are
// ordered by amount, with "autres" last.
func (r *Resolver) ResolveQuote(ctx context.Context, ed *model.ExtractedData) *model.MarketAssessment {
	postal := ed.WorkPostalCode()
	out := &model.MarketAssessment{Zone: r.zones.Lookup(postal)}

	aggs := make(map[string]*jobAggregate)
	hasOther := false
	for _, li := range ed.LineItems {
		if li.JobType == "" || li.JobType == model.JobTypeOther {
			hasOther = true
			continue
		}
		a, ok := aggs[li.JobType]
		if !ok {
			a = &jobAggregate{units: make(map[string]bool)}
			aggs[li.JobType] = a
		}
		a.amount += li.AmountHT
		a.quantity += li.Quantity
		a.units[li.Unit] = true
	}

	for _, jt := range ed.Trades() {
		a := aggs[jt]
		req := PriceRequest{JobType: jt, PostalCode: postal, Quantity: a.quantity}
		if ref, ok := r.refs.Get(jt); ok {
			req.DeclaredUnitPrice = declaredUnitPrice(ref.Unit, a)
		}
		out.Lines = append(out.Lines, r.Resolve(req))
	}
	if hasOther {
		out.Lines = append(out.Lines, r.Resolve(PriceRequest{JobType: model.JobTypeOther, PostalCode: postal}))
	}

	if r.dvf != nil {
		out.Site = r.siteForQuote(ctx, ed)
	}
	return out
}

// declaredUnitPrice derives a comparable unit price, or 0 when the quote's
// units cannot be compared with the reference unit.
func declaredUnitPrice(refUnit string, a *jobAggregate) float64 {
	if a.amount <= 0 {
		return 0
	}
	if refUnit == "forfait" {
		return a.amount
	}
	if a.quantity <= 0 || len(a.units) != 1 || !a.units[refUnit] {
		return 0
	}
	return a.amount / a.quantity
}

func (r *Resolver) siteForQuote(ctx context.Context, ed *model.ExtractedData) *model.SiteContext {
	if r.geo == nil {
		return nil
	}
	addr := geocode.AddressInput{PostalCode: ed.WorkPostalCode(), City: ed.WorkCity()}
	if ed.SitePostalCode != "" {
		addr.Street = ed.SiteAddress
	}
	if addr.PostalCode == "" && addr.City == "" {
		return nil
	}

	res, err := r.geo.Geocode(ctx, addr)
	if err != nil || res == nil || res.CityCode == "" {
		zap.L().Debug("market: no INSEE code for work site", zap.String("postal_code", addr.PostalCode), zap.Error(err))
		return nil
	}

	site, err := r.SiteContext(ctx, res.CityCode, r.cfg.TypeBien)
	if err != nil {
		zap.L().Warn("market: property context unavailable", zap.String("code_insee", res.CityCode), zap.Error(err))
		return nil
	}
	return site
}

// SiteContext queries the DVF service for a commune. Without a DVF client it
// returns an unavailable context carrying the zone label.
func (r *Resolver) SiteContext(ctx context.Context, codeINSEE, typeBien string) (*model.SiteContext, error) {
	if typeBien == "" {
		typeBien = r.cfg.TypeBien
	}
	zone := r.zones.Lookup(codeINSEE)
	site := &model.SiteContext{
		CodeINSEE: codeINSEE,
		TypeBien:  typeBien,
		Source:    "aucune",
		ZoneLabel: zone.Zone.Label(),
	}
	if r.dvf == nil {
		return site, nil
	}

	p, err := r.dvf.MarketPrice(ctx, dvf.Query{CodeINSEE: codeINSEE, TypeBien: typeBien})
	if err != nil {
		return nil, eris.Wrap(err, "market: dvf query")
	}

	site.DVFAvailable = p.DVFAvailable && p.PrixM2 != nil
	site.PrixM2 = p.PrixM2
	site.NbTransactions = p.NbTransactions
	if p.Source != "" {
		site.Source = p.Source
	}
	if p.ZoneLabel != "" {
		site.ZoneLabel = p.ZoneLabel
	}
	switch {
	case p.NiveauFiabilite != "":
		site.Reliability = model.Reliability(p.NiveauFiabilite)
	case p.NbTransactions != nil:
		site.Reliability = model.ReliabilityFor(*p.NbTransactions)
	}
	return site, nil
}

// JobTypes lists the job types that have a reference band.
func (r *Resolver) JobTypes() []string {
	return r.refs.JobTypes()
}
