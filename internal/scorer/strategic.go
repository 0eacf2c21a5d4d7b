package scorer

import (
	"math"

	"github.com/verifdevis/devis-cli/internal/model"
)

// Owner-side sub-factors (IVP, indice de valorisation patrimoniale).
var ownerFactors = []string{"confort", "energie", "durabilite", "valeur_verte", "esthetique"}

// Investor-side sub-factors (IPI, indice de potentiel investisseur).
var investorFactors = []string{"liquidite", "attractivite_locative", "impact_dpe", "rendement", "risque_travaux"}

// StrategicRow scores one job type on every sub-factor, 0 to 5, plus the
// share of the cost usually recovered at resale.
type StrategicRow struct {
	Owner        map[string]float64
	Investor     map[string]float64
	RecoveryRate float64
}

// DefaultMatrix is the job-type matrix used by ComputeStrategic.
var DefaultMatrix = map[string]StrategicRow{
	"peinture": {
		Owner:        map[string]float64{"confort": 3, "energie": 0, "durabilite": 2, "valeur_verte": 0, "esthetique": 5},
		Investor:     map[string]float64{"liquidite": 4, "attractivite_locative": 4, "impact_dpe": 0, "rendement": 3, "risque_travaux": 5},
		RecoveryRate: 0.60,
	},
	"plomberie": {
		Owner:        map[string]float64{"confort": 4, "energie": 1, "durabilite": 4, "valeur_verte": 1, "esthetique": 1},
		Investor:     map[string]float64{"liquidite": 3, "attractivite_locative": 3, "impact_dpe": 1, "rendement": 3, "risque_travaux": 3},
		RecoveryRate: 0.50,
	},
	"electricite": {
		Owner:        map[string]float64{"confort": 3, "energie": 2, "durabilite": 4, "valeur_verte": 1, "esthetique": 1},
		Investor:     map[string]float64{"liquidite": 4, "attractivite_locative": 3, "impact_dpe": 1, "rendement": 3, "risque_travaux": 3},
		RecoveryRate: 0.55,
	},
	"toiture": {
		Owner:        map[string]float64{"confort": 3, "energie": 3, "durabilite": 5, "valeur_verte": 3, "esthetique": 2},
		Investor:     map[string]float64{"liquidite": 3, "attractivite_locative": 2, "impact_dpe": 3, "rendement": 2, "risque_travaux": 2},
		RecoveryRate: 0.65,
	},
	"isolation": {
		Owner:        map[string]float64{"confort": 5, "energie": 5, "durabilite": 4, "valeur_verte": 5, "esthetique": 1},
		Investor:     map[string]float64{"liquidite": 4, "attractivite_locative": 4, "impact_dpe": 5, "rendement": 4, "risque_travaux": 3},
		RecoveryRate: 0.80,
	},
	"menuiserie": {
		Owner:        map[string]float64{"confort": 4, "energie": 4, "durabilite": 4, "valeur_verte": 4, "esthetique": 4},
		Investor:     map[string]float64{"liquidite": 4, "attractivite_locative": 4, "impact_dpe": 4, "rendement": 3, "risque_travaux": 4},
		RecoveryRate: 0.70,
	},
	"carrelage": {
		Owner:        map[string]float64{"confort": 3, "energie": 0, "durabilite": 4, "valeur_verte": 0, "esthetique": 4},
		Investor:     map[string]float64{"liquidite": 3, "attractivite_locative": 3, "impact_dpe": 0, "rendement": 2, "risque_travaux": 4},
		RecoveryRate: 0.50,
	},
	"maconnerie": {
		Owner:        map[string]float64{"confort": 2, "energie": 1, "durabilite": 5, "valeur_verte": 1, "esthetique": 2},
		Investor:     map[string]float64{"liquidite": 2, "attractivite_locative": 2, "impact_dpe": 1, "rendement": 2, "risque_travaux": 1},
		RecoveryRate: 0.45,
	},
	"chauffage": {
		Owner:        map[string]float64{"confort": 5, "energie": 5, "durabilite": 4, "valeur_verte": 5, "esthetique": 1},
		Investor:     map[string]float64{"liquidite": 4, "attractivite_locative": 4, "impact_dpe": 5, "rendement": 4, "risque_travaux": 3},
		RecoveryRate: 0.75,
	},
	"salle_de_bain": {
		Owner:        map[string]float64{"confort": 5, "energie": 1, "durabilite": 3, "valeur_verte": 1, "esthetique": 5},
		Investor:     map[string]float64{"liquidite": 5, "attractivite_locative": 5, "impact_dpe": 0, "rendement": 3, "risque_travaux": 3},
		RecoveryRate: 0.65,
	},
	"cuisine": {
		Owner:        map[string]float64{"confort": 5, "energie": 1, "durabilite": 3, "valeur_verte": 1, "esthetique": 5},
		Investor:     map[string]float64{"liquidite": 5, "attractivite_locative": 5, "impact_dpe": 0, "rendement": 3, "risque_travaux": 3},
		RecoveryRate: 0.70,
	},
	"facade": {
		Owner:        map[string]float64{"confort": 2, "energie": 3, "durabilite": 4, "valeur_verte": 3, "esthetique": 5},
		Investor:     map[string]float64{"liquidite": 3, "attractivite_locative": 3, "impact_dpe": 3, "rendement": 2, "risque_travaux": 2},
		RecoveryRate: 0.55,
	},
}

// Strategic labels, from highest to lowest potential.
const (
	LabelStrong     = "Fort potentiel de valorisation"
	LabelModerate   = "Potentiel de valorisation modéré"
	LabelLimited    = "Potentiel de valorisation limité"
	LabelLow        = "Faible potentiel de valorisation"
	LabelNotScoring = "Non évaluable"
)

// ComputeStrategic computes the auxiliary investment-attractiveness index.
// Each item is weighted by its HT amount, or 1 when the amount is zero or
// negative. Items whose job type is missing from the matrix are ignored;
// when none remain every numeric field is nil.
func ComputeStrategic(items []model.StrategicItem, matrix map[string]StrategicRow) *model.StrategicScore {
	if matrix == nil {
		matrix = DefaultMatrix
	}

	owner := make(map[string]float64, len(ownerFactors))
	investor := make(map[string]float64, len(investorFactors))
	var totalWeight, recovery float64

	for _, it := range items {
		row, ok := matrix[it.JobType]
		if !ok {
			continue
		}
		w := it.AmountHT
		if w <= 0 || math.IsNaN(w) {
			w = 1
		}
		totalWeight += w
		for _, f := range ownerFactors {
			owner[f] += w * row.Owner[f]
		}
		for _, f := range investorFactors {
			investor[f] += w * row.Investor[f]
		}
		recovery += w * row.RecoveryRate
	}

	if totalWeight == 0 {
		return &model.StrategicScore{Label: LabelNotScoring}
	}

	breakdownOwner, ivp := breakdown(owner, ownerFactors, totalWeight)
	breakdownInvestor, ipi := breakdown(investor, investorFactors, totalWeight)
	rate := math.Round(recovery/totalWeight*1000) / 10

	return &model.StrategicScore{
		IVPScore:             &ivp,
		IPIScore:             &ipi,
		Label:                strategicLabel(ivp, ipi),
		BreakdownOwner:       breakdownOwner,
		BreakdownInvestor:    breakdownInvestor,
		WeightedRecoveryRate: &rate,
	}
}

// breakdown turns weighted sums into per-factor indices and the overall
// index. Both use clamp(round(avg*20), 0, 100).
func breakdown(sums map[string]float64, factors []string, totalWeight float64) (map[string]int, int) {
	out := make(map[string]int, len(factors))
	var all float64
	for _, f := range factors {
		avg := sums[f] / totalWeight
		out[f] = toIndex(avg)
		all += avg
	}
	return out, toIndex(all / float64(len(factors)))
}

func toIndex(avg float64) int {
	v := int(math.Round(avg * 20))
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func strategicLabel(ivp, ipi int) string {
	mean := float64(ivp+ipi) / 2
	switch {
	case mean >= 70:
		return LabelStrong
	case mean >= 50:
		return LabelModerate
	case mean >= 30:
		return LabelLimited
	default:
		return LabelLow
	}
}
