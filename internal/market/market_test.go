package market

import (
	"context"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/pkg/dvf"
	"github.com/verifdevis/devis-cli/pkg/geocode"
)

func loadDefaults(t *testing.T) (*Zones, *References) {
	t.Helper()
	z, err := LoadZones("")
	require.NoError(t, err)
	r, err := LoadReferences("")
	require.NoError(t, err)
	return z, r
}

func TestZonesLookup(t *testing.T) {
	z, _ := loadDefaults(t)

	tests := []struct {
		name   string
		postal string
		want   model.ZoneInfo
	}{
		{"paris", "75011", model.ZoneInfo{Zone: model.ZoneGrandeVille, Coefficient: 1.25}},
		{"lyon", "69003", model.ZoneInfo{Zone: model.ZoneGrandeVille, Coefficient: 1.15}},
		{"rural", "23000", model.ZoneInfo{Zone: model.ZonePetiteVille, Coefficient: 0.90}},
		{"mid_city", "37000", model.ZoneInfo{Zone: model.ZoneVilleMoyenne, Coefficient: 1.00}},
		{"corse_du_sud", "20000", model.ZoneInfo{Zone: model.ZoneGrandeVille, Coefficient: 1.10}},
		{"haute_corse", "20200", model.ZoneInfo{Zone: model.ZoneGrandeVille, Coefficient: 1.10}},
		{"insee_code_2b", "2B033", model.ZoneInfo{Zone: model.ZoneGrandeVille, Coefficient: 1.10}},
		{"spaces", " 75 001 ", model.ZoneInfo{Zone: model.ZoneGrandeVille, Coefficient: 1.25}},
		{"unknown_prefix", "99000", DefaultZone},
		{"letters", "XX123", DefaultZone},
		{"empty", "", DefaultZone},
		{"one_char", "7", DefaultZone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, z.Lookup(tt.postal))
		})
	}
}

func TestZonesLookup_DefaultShape(t *testing.T) {
	var z *Zones
	got := z.Lookup("12345")
	assert.Equal(t, model.ZoneVilleMoyenne, got.Zone)
	assert.InDelta(t, 1.00, got.Coefficient, 1e-9)
	assert.True(t, got.IsDefault)
}

func TestParseZones_Errors(t *testing.T) {
	_, err := ParseZones([]byte(`prefixes: {"75": {zone: metropole}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown zone")

	_, err = ParseZones([]byte(`prefixes: {"75": {zone: grande_ville}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no coefficient")

	_, err = ParseZones([]byte("prefixes: ["))
	require.Error(t, err)
}

func TestApplyZoneCoefficient(t *testing.T) {
	tests := []struct {
		name string
		band model.PriceBand
		coef float64
		want model.PriceBand
	}{
		{"petite_ville", model.PriceBand{Min: 1000, Avg: 1500, Max: 2000}, 0.90, model.PriceBand{Min: 900, Avg: 1350, Max: 1800}},
		{"identity_rounds", model.PriceBand{Min: 10.4, Avg: 20.5, Max: 30.6}, 1.0, model.PriceBand{Min: 10, Avg: 21, Max: 31}},
		{"grande_ville", model.PriceBand{Min: 20, Avg: 32, Max: 45}, 1.15, model.PriceBand{Min: 23, Avg: 37, Max: 52}},
		{"resorts_unordered_input", model.PriceBand{Min: 50, Avg: 10, Max: 30}, 1.0, model.PriceBand{Min: 10, Avg: 30, Max: 50}},
		{"invalid_coef_is_identity", model.PriceBand{Min: 1, Avg: 2, Max: 3}, 0, model.PriceBand{Min: 1, Avg: 2, Max: 3}},
		{"nan_coef_is_identity", model.PriceBand{Min: 1, Avg: 2, Max: 3}, math.NaN(), model.PriceBand{Min: 1, Avg: 2, Max: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyZoneCoefficient(tt.band, tt.coef))
		})
	}
}

func TestApplyZoneCoefficient_Ordered(t *testing.T) {
	coefs := []float64{0.01, 0.5, 0.9, 0.999, 1, 1.15, 1.25, 3.7, 1000}
	bands := []model.PriceBand{
		{Min: 1, Avg: 1, Max: 1},
		{Min: 1.4, Avg: 1.5, Max: 1.6},
		{Min: 99.5, Avg: 99.4, Max: 99.6},
		{Min: 3000, Avg: 7500, Max: 15000},
		{Min: 0, Avg: 0, Max: 0.4},
	}
	for _, c := range coefs {
		for _, b := range bands {
			got := ApplyZoneCoefficient(b, c)
			assert.LessOrEqual(t, got.Min, got.Avg, "coef %v band %+v", c, b)
			assert.LessOrEqual(t, got.Avg, got.Max, "coef %v band %+v", c, b)
		}
	}
}

func TestApplyZoneCoefficient_IdempotentAtOne(t *testing.T) {
	b := model.PriceBand{Min: 12, Avg: 40, Max: 95}
	once := ApplyZoneCoefficient(b, 1.0)
	assert.Equal(t, b, once)
	assert.Equal(t, once, ApplyZoneCoefficient(once, 1.0))
}

func TestParseReferences(t *testing.T) {
	refs, err := ParseReferences([]byte(`
references:
  peinture: { unit: m2, min: 45, avg: 30, max: 20, samples: 40 }
`))
	require.NoError(t, err)
	ref, ok := refs.Get("peinture")
	require.True(t, ok)
	assert.Equal(t, model.PriceBand{Min: 20, Avg: 30, Max: 45}, ref.Band())

	_, err = ParseReferences([]byte(`references: {x: {min: -1, avg: 1, max: 2}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative price")
}

func newTestResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	z, r := loadDefaults(t)
	return NewResolver(z, r, config.MarketConfig{MinSampleSize: 10, FarAboveRatio: 2.0}, opts...)
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name       string
		req        PriceRequest
		wantAvail  bool
		wantPos    model.PricePosition
		wantReason string
	}{
		{"within", PriceRequest{JobType: "peinture", PostalCode: "37000", DeclaredUnitPrice: 30}, true, model.PositionWithin, ""},
		{"below", PriceRequest{JobType: "peinture", PostalCode: "37000", DeclaredUnitPrice: 10}, true, model.PositionBelow, ""},
		{"above", PriceRequest{JobType: "peinture", PostalCode: "37000", DeclaredUnitPrice: 60}, true, model.PositionAbove, ""},
		{"far_above", PriceRequest{JobType: "peinture", PostalCode: "37000", DeclaredUnitPrice: 91}, true, model.PositionFarAbove, ""},
		{"no_declared_price", PriceRequest{JobType: "peinture", PostalCode: "37000"}, true, model.PositionUnknown, ""},
		{"autres", PriceRequest{JobType: "autres", PostalCode: "37000", DeclaredUnitPrice: 100}, false, model.PositionUnknown, "autres"},
		{"unknown_job", PriceRequest{JobType: "piscine", PostalCode: "37000"}, false, model.PositionUnknown, "sans référence"},
		{"small_sample", PriceRequest{JobType: "facade", PostalCode: "37000", DeclaredUnitPrice: 50}, false, model.PositionUnknown, "échantillon insuffisant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := r.Resolve(tt.req)
			assert.Equal(t, tt.wantAvail, line.Available)
			assert.Equal(t, tt.wantPos, line.Position)
			if tt.wantReason != "" {
				assert.Contains(t, line.UnavailableReason, tt.wantReason)
			}
			if line.Available {
				assert.LessOrEqual(t, line.Min, line.Avg)
				assert.LessOrEqual(t, line.Avg, line.Max)
			}
		})
	}
}

func TestResolve_AppliesZone(t *testing.T) {
	r := newTestResolver(t)

	line := r.Resolve(PriceRequest{JobType: "peinture", PostalCode: "75011"})
	assert.Equal(t, model.ZoneGrandeVille, line.Zone)
	assert.InDelta(t, 25, line.Min, 1e-9)
	assert.InDelta(t, 38, line.Avg, 1e-9)
	assert.InDelta(t, 56, line.Max, 1e-9)
	assert.Equal(t, model.ReliabilityGood, line.Reliability)

	line = r.Resolve(PriceRequest{JobType: "peinture", PostalCode: "99999"})
	assert.True(t, line.ZoneIsDefault)
	assert.InDelta(t, 30, line.Avg, 1e-9)
}

func TestResolveQuote(t *testing.T) {
	r := newTestResolver(t)

	ed := &model.ExtractedData{
		PostalCode: "37000",
		LineItems: []model.LineItem{
			{Label: "Peinture murs", JobType: "peinture", Quantity: 40, Unit: "m2", AmountHT: 1000},
			{Label: "Peinture plafond", JobType: "peinture", Quantity: 20, Unit: "m2", AmountHT: 500},
			{Label: "Remplacement ballon", JobType: "plomberie", Quantity: 1, Unit: "unite", AmountHT: 900},
			{Label: "Nettoyage", JobType: "autres", AmountHT: 100},
			{Label: "Pose velux", JobType: "menuiserie", Quantity: 2, Unit: "m2", AmountHT: 1200},
		},
	}

	got := r.ResolveQuote(context.Background(), ed)
	require.Len(t, got.Lines, 4)
	assert.Equal(t, model.ZoneVilleMoyenne, got.Zone.Zone)

	assert.Equal(t, "peinture", got.Lines[0].JobType)
	assert.InDelta(t, 25, got.Lines[0].DeclaredUnitPrice, 1e-9)
	assert.Equal(t, model.PositionWithin, got.Lines[0].Position)

	assert.Equal(t, "menuiserie", got.Lines[1].JobType)
	assert.Equal(t, model.PositionUnknown, got.Lines[1].Position, "m2 is not comparable with a per-unit reference")

	assert.Equal(t, "plomberie", got.Lines[2].JobType)
	assert.InDelta(t, 900, got.Lines[2].DeclaredUnitPrice, 1e-9)
	assert.Equal(t, model.PositionWithin, got.Lines[2].Position)

	assert.Equal(t, "autres", got.Lines[3].JobType)
	assert.False(t, got.Lines[3].Available)
	assert.Nil(t, got.Site)
}

func TestResolveQuote_UsesSitePostalCode(t *testing.T) {
	r := newTestResolver(t)
	ed := &model.ExtractedData{
		PostalCode:     "37000",
		SitePostalCode: "75015",
		LineItems:      []model.LineItem{{JobType: "peinture", Quantity: 10, Unit: "m2", AmountHT: 300}},
	}
	got := r.ResolveQuote(context.Background(), ed)
	assert.Equal(t, model.ZoneGrandeVille, got.Zone.Zone)
}

type stubDVF struct {
	price *dvf.Price
	err   error
	got   dvf.Query
}

func (s *stubDVF) MarketPrice(_ context.Context, q dvf.Query) (*dvf.Price, error) {
	s.got = q
	return s.price, s.err
}

type stubGeocoder struct {
	res *geocode.Result
	err error
}

func (s *stubGeocoder) Geocode(_ context.Context, _ geocode.AddressInput) (*geocode.Result, error) {
	return s.res, s.err
}

func TestResolveQuote_SiteContext(t *testing.T) {
	prix := 3100.0
	nb := 18
	d := &stubDVF{price: &dvf.Price{DVFAvailable: true, PrixM2: &prix, Source: "DVF", NbTransactions: &nb}}
	r := newTestResolver(t, WithDVF(d), WithGeocoder(&stubGeocoder{res: &geocode.Result{CityCode: "37261"}}))

	got := r.ResolveQuote(context.Background(), &model.ExtractedData{PostalCode: "37000", City: "Tours"})
	require.NotNil(t, got.Site)
	assert.Equal(t, "37261", d.got.CodeINSEE)
	assert.Equal(t, "maison", d.got.TypeBien)
	assert.True(t, got.Site.DVFAvailable)
	assert.Equal(t, model.ReliabilityMedium, got.Site.Reliability)
	assert.Equal(t, "Ville moyenne", got.Site.ZoneLabel)
}

func TestResolveQuote_SiteContextFailuresAreSilent(t *testing.T) {
	tests := []struct {
		name string
		dvf  *stubDVF
		geo  *stubGeocoder
	}{
		{"geocode_error", &stubDVF{}, &stubGeocoder{err: eris.New("timeout")}},
		{"geocode_no_match", &stubDVF{}, &stubGeocoder{}},
		{"dvf_error", &stubDVF{err: eris.New("502")}, &stubGeocoder{res: &geocode.Result{CityCode: "37261"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t, WithDVF(tt.dvf), WithGeocoder(tt.geo))
			got := r.ResolveQuote(context.Background(), &model.ExtractedData{PostalCode: "37000"})
			assert.Nil(t, got.Site)
		})
	}
}

func TestSiteContext_WithoutDVF(t *testing.T) {
	r := newTestResolver(t)
	site, err := r.SiteContext(context.Background(), "69383", "")
	require.NoError(t, err)
	assert.False(t, site.DVFAvailable)
	assert.Nil(t, site.PrixM2)
	assert.Equal(t, "maison", site.TypeBien)
	assert.Equal(t, "Grande agglomération", site.ZoneLabel)
}

func TestSiteContext_ReliabilityFromService(t *testing.T) {
	prix := 5000.0
	d := &stubDVF{price: &dvf.Price{DVFAvailable: true, PrixM2: &prix, NiveauFiabilite: "bon", ZoneLabel: "Lyon 3e"}}
	r := newTestResolver(t, WithDVF(d))

	site, err := r.SiteContext(context.Background(), "69383", "appartement")
	require.NoError(t, err)
	assert.Equal(t, model.ReliabilityGood, site.Reliability)
	assert.Equal(t, "Lyon 3e", site.ZoneLabel)
	assert.Equal(t, "appartement", d.got.TypeBien)
}
