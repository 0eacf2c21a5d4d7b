package market

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/model"
)

// ApplyZoneCoefficient scales a band by coef, rounds each bound to the
// nearest euro and re-sorts so that Min <= Avg <= Max. A non-finite or
// non-positive coefficient is treated as 1.
func ApplyZoneCoefficient(b model.PriceBand, coef float64) model.PriceBand {
	if coef <= 0 || math.IsNaN(coef) || math.IsInf(coef, 0) {
		zap.L().Warn("market: invalid zone coefficient, using 1.0", zap.Float64("coefficient", coef))
		coef = 1
	}

	v := []float64{
		math.Round(b.Min * coef),
		math.Round(b.Avg * coef),
		math.Round(b.Max * coef),
	}
	sort.Float64s(v)
	return model.PriceBand{Min: v[0], Avg: v[1], Max: v[2]}
}
