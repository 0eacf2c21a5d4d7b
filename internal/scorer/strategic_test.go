package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/model"
)

func TestComputeStrategic(t *testing.T) {
	tests := []struct {
		name      string
		items     []model.StrategicItem
		wantIVP   int
		wantIPI   int
		wantRate  float64
		wantLabel string
	}{
		{
			name:      "single_isolation",
			items:     []model.StrategicItem{{JobType: "isolation", AmountHT: 8000}},
			wantIVP:   80,
			wantIPI:   80,
			wantRate:  80,
			wantLabel: LabelStrong,
		},
		{
			name: "amount_weighted",
			items: []model.StrategicItem{
				{JobType: "peinture", AmountHT: 1000},
				{JobType: "isolation", AmountHT: 3000},
			},
			wantIVP:   70,
			wantIPI:   76,
			wantRate:  75,
			wantLabel: LabelStrong,
		},
		{
			name: "non_positive_amounts_weigh_one",
			items: []model.StrategicItem{
				{JobType: "peinture", AmountHT: 0},
				{JobType: "isolation", AmountHT: -5},
			},
			wantIVP:   60,
			wantIPI:   72,
			wantRate:  70,
			wantLabel: LabelModerate,
		},
		{
			name: "unknown_job_types_ignored",
			items: []model.StrategicItem{
				{JobType: "autres", AmountHT: 100000},
				{JobType: "isolation", AmountHT: 10},
			},
			wantIVP:   80,
			wantIPI:   80,
			wantRate:  80,
			wantLabel: LabelStrong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStrategic(tt.items, nil)
			require.NotNil(t, got.IVPScore)
			require.NotNil(t, got.IPIScore)
			require.NotNil(t, got.WeightedRecoveryRate)
			assert.Equal(t, tt.wantIVP, *got.IVPScore)
			assert.Equal(t, tt.wantIPI, *got.IPIScore)
			assert.InDelta(t, tt.wantRate, *got.WeightedRecoveryRate, 0.05)
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.Len(t, got.BreakdownOwner, len(ownerFactors))
			assert.Len(t, got.BreakdownInvestor, len(investorFactors))
		})
	}
}

func TestComputeStrategic_Breakdown(t *testing.T) {
	got := ComputeStrategic([]model.StrategicItem{{JobType: "peinture", AmountHT: 500}}, nil)
	assert.Equal(t, 100, got.BreakdownOwner["esthetique"])
	assert.Equal(t, 0, got.BreakdownOwner["energie"])
	assert.Equal(t, 80, got.BreakdownInvestor["liquidite"])
}

func TestComputeStrategic_Empty(t *testing.T) {
	for _, items := range [][]model.StrategicItem{nil, {{JobType: "autres", AmountHT: 10}}} {
		got := ComputeStrategic(items, nil)
		assert.Nil(t, got.IVPScore)
		assert.Nil(t, got.IPIScore)
		assert.Nil(t, got.WeightedRecoveryRate)
		assert.Nil(t, got.BreakdownOwner)
		assert.Equal(t, LabelNotScoring, got.Label)
	}
}

func TestComputeStrategic_Clamped(t *testing.T) {
	matrix := map[string]StrategicRow{
		"x": {
			Owner:    map[string]float64{"confort": 9, "energie": 9, "durabilite": 9, "valeur_verte": 9, "esthetique": 9},
			Investor: map[string]float64{"liquidite": -3},
		},
	}
	got := ComputeStrategic([]model.StrategicItem{{JobType: "x", AmountHT: 1}}, matrix)
	assert.Equal(t, 100, *got.IVPScore)
	assert.Equal(t, 0, got.BreakdownInvestor["liquidite"])
	assert.GreaterOrEqual(t, *got.IPIScore, 0)
}

func TestScore_Strategic(t *testing.T) {
	res := New(DefaultConfig()).Score(baseline())
	require.NotNil(t, res.Strategic)
	require.NotNil(t, res.Strategic.IVPScore)
	require.NotNil(t, res.Strategic.IPIScore)
	assert.Equal(t, 40, *res.Strategic.IVPScore)
	assert.Equal(t, 64, *res.Strategic.IPIScore)
	assert.Equal(t, LabelModerate, res.Strategic.Label)
}

func TestScore_StrategicDoesNotChangeVerdict(t *testing.T) {
	s := New(DefaultConfig())
	peinture := s.Score(baseline())

	in := baseline()
	for i := range in.Extracted.LineItems {
		in.Extracted.LineItems[i].JobType = "isolation"
	}
	isolation := s.Score(in)

	assert.NotEqual(t, *peinture.Strategic.IVPScore, *isolation.Strategic.IVPScore)
	assert.Equal(t, peinture.Score, isolation.Score)
	assert.Equal(t, peinture.Facets, isolation.Facets)
	assert.Equal(t, peinture.Alertes, isolation.Alertes)
	assert.Equal(t, Aggregate(isolation.Facets), isolation.Score)
}

func TestScore_StrategicOmittedWithoutLineItems(t *testing.T) {
	in := baseline()
	in.Extracted.LineItems = nil
	res := New(DefaultConfig()).Score(in)
	assert.Nil(t, res.Strategic)
}
