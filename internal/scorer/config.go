// Package scorer reduces the extraction, verification and market facets of a
// quote into a VERT/ORANGE/ROUGE trust score.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/config"
)

// DefaultConfig returns a config.ScorerConfig with the production thresholds.
func DefaultConfig() config.ScorerConfig {
	return config.ScorerConfig{
		TotalsTolerancePct: 1.0,
		TotalsToleranceAbs: 1.0,
		DepositWarningPct:  30,
		DepositCriticalPct: 50,
		YoungCompanyYears:  2,
		VATRates:           []float64{0, 5.5, 10, 20},
	}
}

// ValidateConfig checks that a ScorerConfig is internally consistent.
func ValidateConfig(c config.ScorerConfig) error {
	var errs []string

	if c.TotalsTolerancePct < 0 {
		errs = append(errs, "totals_tolerance_pct must be >= 0")
	}
	if c.TotalsToleranceAbs < 0 {
		errs = append(errs, "totals_tolerance_abs must be >= 0")
	}

	// Deposit thresholds are percentages of the TTC total.
	if c.DepositWarningPct < 0 || c.DepositWarningPct > 100 {
		errs = append(errs, "deposit_warning_pct must be between 0 and 100")
	}
	if c.DepositCriticalPct < 0 || c.DepositCriticalPct > 100 {
		errs = append(errs, "deposit_critical_pct must be between 0 and 100")
	}
	if c.DepositWarningPct > c.DepositCriticalPct {
		errs = append(errs, "deposit_warning_pct must be <= deposit_critical_pct")
	}

	if c.YoungCompanyYears < 0 {
		errs = append(errs, "young_company_years must be >= 0")
	}
	if len(c.VATRates) == 0 {
		errs = append(errs, "vat_rates must not be empty")
	}
	for _, r := range c.VATRates {
		if r < 0 || r > 100 {
			errs = append(errs, fmt.Sprintf("vat rate %.1f is out of range", r))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
