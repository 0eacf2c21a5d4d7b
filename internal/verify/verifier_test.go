package verify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/cache"
	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/resilience"
	"github.com/verifdevis/devis-cli/pkg/bodacc"
	"github.com/verifdevis/devis-cli/pkg/entreprises"
	"github.com/verifdevis/devis-cli/pkg/geocode"
	"github.com/verifdevis/devis-cli/pkg/iban"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) GetCompany(ctx context.Context, siren string) (*entreprises.Company, error) {
	args := m.Called(ctx, siren)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entreprises.Company), args.Error(1)
}

type mockProcedures struct {
	mock.Mock
}

func (m *mockProcedures) Procedures(ctx context.Context, siren string) ([]bodacc.Announcement, error) {
	args := m.Called(ctx, siren)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]bodacc.Announcement), args.Error(1)
}

type fakeBank struct {
	info *iban.BankInfo
	err  error
}

func (f *fakeBank) Lookup(context.Context, string) (*iban.BankInfo, error) {
	return f.info, f.err
}

type fakeGeocoder struct {
	res *geocode.Result
	err error
}

func (f *fakeGeocoder) Geocode(context.Context, geocode.AddressInput) (*geocode.Result, error) {
	return f.res, f.err
}

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func quote() *model.ExtractedData {
	return &model.ExtractedData{
		CompanyName:          "RENOV PLUS SARL",
		Identifier:           "73282932000074",
		IdentifierKind:       model.IdentifierSIRET,
		IdentifierCandidates: []string{"73282932000074"},
		Address:              "12 rue des Lilas",
		PostalCode:           "69003",
		City:                 "Lyon",
		LineItems:            []model.LineItem{{Label: "Peinture murs", JobType: "peinture", AmountHT: 1500}},
		Payment:              model.PaymentTerms{IBAN: "FR7630006000011234567890189"},
		Insurances: []model.InsuranceRef{{
			Kind:       model.InsuranceDecennale,
			Insurer:    "SMABTP",
			ValidFrom:  date(2025, 1, 1),
			ValidUntil: date(2025, 12, 31),
			Activities: []string{"peinture", "plomberie"},
		}},
	}
}

func activeCompany() *entreprises.Company {
	rev := func(v float64) *float64 { return &v }
	lat, lon := 45.7597, 4.8422
	return &entreprises.Company{
		Siren:     "732829320",
		Name:      "RENOV PLUS",
		Active:    true,
		CreatedOn: date(2015, 1, 1),
		NAFCode:   "43.34Z",
		Seat:      entreprises.Establishment{Address: "12 RUE DES LILAS 69003 LYON", PostalCode: "69003", Latitude: &lat, Longitude: &lon},
		Finances:  []entreprises.Finance{{Year: 2022, Revenue: rev(400000)}, {Year: 2023, Revenue: rev(460000)}},
	}
}

func newTestVerifier(reg entreprises.Client, proc bodacc.Client, opts ...Option) *Verifier {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(config.VerifyConfig{SourceTimeoutSecs: 1}, reg, proc, opts...)
}

func TestVerify_ActiveCompany(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, "732829320").Return(activeCompany(), nil).Once()
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, "732829320").Return([]bodacc.Announcement{}, nil).Once()
	geo := &fakeGeocoder{res: &geocode.Result{Label: "12 Rue des Lilas 69003 Lyon", PostalCode: "69003", CityCode: "69383", Score: 0.92, Latitude: 45.7597, Longitude: 4.8422}}
	mem := cache.NewMemory()

	v := newTestVerifier(reg, proc, WithGeocoder(geo), WithCache(mem))
	res, err := v.Verify(context.Background(), quote())
	require.NoError(t, err)

	assert.Equal(t, "732829320", res.Siren)
	assert.Equal(t, model.PresenceYes, res.Exists)
	assert.Equal(t, model.StatusActive, res.Status)
	assert.Equal(t, "RENOV PLUS", res.LegalName)
	require.NotNil(t, res.NameMatches)
	assert.True(t, *res.NameMatches)
	require.NotNil(t, res.AgeYears)
	assert.InDelta(t, 10.2, *res.AgeYears, 0.05)
	assert.Equal(t, model.TrendUp, res.FinancialTrend)
	assert.False(t, res.IdentifierSuspicious)
	assert.False(t, res.Degraded)

	assert.True(t, res.IBAN.Present)
	require.NotNil(t, res.IBAN.Valid)
	assert.True(t, *res.IBAN.Valid)
	assert.Equal(t, "FR", res.IBAN.Country)

	assert.True(t, res.Address.Matched)
	assert.Equal(t, "69383", res.Address.CityCode)
	require.NotNil(t, res.Address.DistanceKm)
	assert.InDelta(t, 0, *res.Address.DistanceKm, 0.01)

	require.NotNil(t, res.InsuranceLevel(model.InsuranceDecennale))
	assert.Equal(t, model.ScoreVert, res.InsuranceLevel(model.InsuranceDecennale).Level)
	assert.Equal(t, model.ScoreOrange, res.InsuranceLevel(model.InsuranceRCPro).Level)

	for _, name := range []string{model.SourceRegistry, model.SourceProcedures, model.SourceIBAN, model.SourceGeocode} {
		require.NotNil(t, res.Source(name), name)
		assert.Equal(t, model.SourceOK, res.Source(name).State, name)
	}

	raw, err := mem.Get(context.Background(), cache.CompanyKey("732829320"))
	require.NoError(t, err)
	var facts model.CompanyFacts
	require.NoError(t, json.Unmarshal(raw, &facts))
	assert.True(t, facts.Complete())

	// Second run is served from the cache: the mocks expect a single call.
	res2, err := v.Verify(context.Background(), quote())
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, res2.Status)
	require.NotNil(t, res2.Source(model.SourceCache))
	reg.AssertExpectations(t)
	proc.AssertExpectations(t)
}

func TestVerify_RegistryDown(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, "732829320").
		Return(nil, eris.Wrap(resilience.NewUpstreamStatusError("entreprises", 503, []byte("unavailable")), "entreprises: search"))
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, "732829320").Return([]bodacc.Announcement{}, nil)
	mem := cache.NewMemory()

	v := newTestVerifier(reg, proc, WithCache(mem))
	res, err := v.Verify(context.Background(), quote())
	require.NoError(t, err)

	assert.Equal(t, model.PresenceUnknown, res.Exists)
	assert.Equal(t, model.StatusUnknown, res.Status)
	assert.True(t, res.Degraded)
	assert.Equal(t, model.SourceUnknown, res.Source(model.SourceRegistry).State)
	assert.Equal(t, model.SourceOK, res.Source(model.SourceProcedures).State)
	assert.Nil(t, res.NameMatches)
	assert.Zero(t, mem.Len(), "degraded facts are not cached")
}

func TestVerify_Insolvency(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, "732829320").Return(activeCompany(), nil)
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, "732829320").Return([]bodacc.Announcement{{
		Kind:      "Procédures collectives",
		Judgment:  "Jugement d'ouverture d'une procédure de redressement judiciaire",
		Published: date(2024, 10, 2),
		Court:     "Tribunal de commerce de Lyon",
	}}, nil)

	res, err := newTestVerifier(reg, proc).Verify(context.Background(), quote())
	require.NoError(t, err)
	assert.Equal(t, model.StatusInsolvency, res.Status)
	require.NotNil(t, res.Procedure)
	assert.Equal(t, "Redressement judiciaire", res.Procedure.Label)
	assert.Equal(t, "Tribunal de commerce de Lyon", res.Procedure.Court)
}

func TestVerify_CeasedCompany(t *testing.T) {
	c := activeCompany()
	c.Active = false
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, "732829320").Return(c, nil)
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, "732829320").Return([]bodacc.Announcement{}, nil)

	res, err := newTestVerifier(reg, proc).Verify(context.Background(), quote())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCeased, res.Status)
}

func TestVerify_NotFoundWithContradiction(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, "732829320").Return(nil, entreprises.ErrNotFound)
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, "732829320").Return([]bodacc.Announcement{}, nil)

	ed := quote()
	ed.IdentifierCandidates = []string{"73282932000074", "552100554"}

	res, err := newTestVerifier(reg, proc).Verify(context.Background(), ed)
	require.NoError(t, err)
	assert.Equal(t, model.PresenceNo, res.Exists)
	assert.Equal(t, model.SourceOK, res.Source(model.SourceRegistry).State)
	assert.True(t, res.IdentifierSuspicious)
	assert.Contains(t, res.SuspicionReason, "552100554")
	for _, chk := range res.Insurance {
		assert.Equal(t, model.ScoreRouge, chk.Level)
	}
}

func TestVerify_InvalidChecksum(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, "732829321").Return(nil, entreprises.ErrNotFound)
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, "732829321").Return([]bodacc.Announcement{}, nil)

	ed := quote()
	ed.Identifier, ed.IdentifierKind = "732829321", model.IdentifierSIREN

	res, err := newTestVerifier(reg, proc).Verify(context.Background(), ed)
	require.NoError(t, err)
	assert.True(t, res.IdentifierSuspicious)
	assert.Equal(t, "clé de contrôle invalide", res.SuspicionReason)
}

func TestVerify_NoIdentifier(t *testing.T) {
	reg := &mockRegistry{}
	proc := &mockProcedures{}
	ed := quote()
	ed.Identifier, ed.IdentifierKind, ed.IdentifierCandidates = "", model.IdentifierNone, nil

	res, err := newTestVerifier(reg, proc).Verify(context.Background(), ed)
	require.NoError(t, err)
	assert.Empty(t, res.Siren)
	assert.Equal(t, model.PresenceUnknown, res.Exists)
	assert.Equal(t, model.SourceSkipped, res.Source(model.SourceRegistry).State)
	assert.Equal(t, model.SourceSkipped, res.Source(model.SourceProcedures).State)
	assert.False(t, res.Degraded)
	reg.AssertNotCalled(t, "GetCompany", mock.Anything, mock.Anything)
	proc.AssertNotCalled(t, "Procedures", mock.Anything, mock.Anything)
}

func TestVerify_IBAN(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, mock.Anything).Return(activeCompany(), nil)
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, mock.Anything).Return([]bodacc.Announcement{}, nil)

	t.Run("invalid", func(t *testing.T) {
		ed := quote()
		ed.Payment.IBAN = "FR7630006000011234567890188"
		res, err := newTestVerifier(reg, proc, WithBank(&fakeBank{info: &iban.BankInfo{BankName: "never called"}})).Verify(context.Background(), ed)
		require.NoError(t, err)
		require.NotNil(t, res.IBAN.Valid)
		assert.False(t, *res.IBAN.Valid)
		assert.Empty(t, res.IBAN.BankName)
	})

	t.Run("bank_lookup", func(t *testing.T) {
		res, err := newTestVerifier(reg, proc, WithBank(&fakeBank{info: &iban.BankInfo{Valid: true, BankName: "Natixis", BIC: "CCBPFRPP"}})).Verify(context.Background(), quote())
		require.NoError(t, err)
		assert.Equal(t, "Natixis", res.IBAN.BankName)
		assert.Equal(t, "CCBPFRPP", res.IBAN.BIC)
	})

	t.Run("bank_down_degrades", func(t *testing.T) {
		res, err := newTestVerifier(reg, proc, WithBank(&fakeBank{err: eris.New("iban: timeout")})).Verify(context.Background(), quote())
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, model.SourceUnknown, res.Source(model.SourceIBAN).State)
		require.NotNil(t, res.IBAN.Valid)
		assert.True(t, *res.IBAN.Valid)
	})

	t.Run("absent", func(t *testing.T) {
		ed := quote()
		ed.Payment.IBAN = ""
		res, err := newTestVerifier(reg, proc).Verify(context.Background(), ed)
		require.NoError(t, err)
		assert.False(t, res.IBAN.Present)
		assert.Equal(t, model.SourceSkipped, res.Source(model.SourceIBAN).State)
	})
}

func TestVerify_GeocoderDown(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, mock.Anything).Return(activeCompany(), nil)
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, mock.Anything).Return([]bodacc.Announcement{}, nil)

	res, err := newTestVerifier(reg, proc, WithGeocoder(&fakeGeocoder{err: eris.New("geocode: no such host")})).Verify(context.Background(), quote())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, model.SourceUnknown, res.Source(model.SourceGeocode).State)
	assert.False(t, res.Address.Matched)
	assert.Equal(t, model.StatusActive, res.Status)
}

func TestVerify_OpenBreakerSkipsRegistry(t *testing.T) {
	reg := &mockRegistry{}
	reg.On("GetCompany", mock.Anything, "732829320").Return(nil, eris.New("entreprises: send request: connection refused")).Once()
	proc := &mockProcedures{}
	proc.On("Procedures", mock.Anything, "732829320").Return([]bodacc.Announcement{}, nil)

	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	v := newTestVerifier(reg, proc, WithBreakers(breakers))

	for range 2 {
		res, err := v.Verify(context.Background(), quote())
		require.NoError(t, err)
		assert.Equal(t, model.SourceUnknown, res.Source(model.SourceRegistry).State)
	}
	assert.Equal(t, "open", breakers.States()[model.SourceRegistry])
	reg.AssertExpectations(t)
}

func TestVerify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ed := quote()
	ed.Identifier, ed.Payment.IBAN = "", ""

	_, err := newTestVerifier(&mockRegistry{}, &mockProcedures{}).Verify(ctx, ed)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
