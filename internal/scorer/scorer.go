package scorer

import (
	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
)

// Input bundles the upstream stage outputs for one quote. Verification and
// Market may be nil when the stage produced nothing.
type Input struct {
	Extracted    *model.ExtractedData
	Verification *model.VerificationResult
	Market       *model.MarketAssessment
}

// Scorer evaluates facets and aggregates them. It holds no mutable state.
type Scorer struct {
	cfg config.ScorerConfig
}

// New creates a Scorer. Zero thresholds fall back to DefaultConfig.
func New(cfg config.ScorerConfig) *Scorer {
	def := DefaultConfig()
	if cfg.DepositCriticalPct == 0 {
		cfg.DepositCriticalPct = def.DepositCriticalPct
	}
	if cfg.DepositWarningPct == 0 {
		cfg.DepositWarningPct = def.DepositWarningPct
	}
	if len(cfg.VATRates) == 0 {
		cfg.VATRates = def.VATRates
	}
	if cfg.TotalsToleranceAbs == 0 && cfg.TotalsTolerancePct == 0 {
		cfg.TotalsTolerancePct = def.TotalsTolerancePct
		cfg.TotalsToleranceAbs = def.TotalsToleranceAbs
	}
	return &Scorer{cfg: cfg}
}

// Score computes the trust score. The result depends only on its input.
func (s *Scorer) Score(in Input) *model.ScoringResult {
	ed := in.Extracted
	if ed == nil {
		ed = &model.ExtractedData{}
	}
	blocks := VisibleBlocks(ed.DocumentType)

	facets := []model.Facet{
		coherenceFacet(ed, s.cfg),
		entrepriseFacet(ed, in.Verification, s.cfg),
		assurancesFacet(in.Verification, blocks),
		prixFacet(in.Market, blocks),
		paiementFacet(ed, in.Verification, s.cfg),
	}

	res := &model.ScoringResult{
		Score:           Aggregate(facets),
		Facets:          facets,
		PointsOK:        []string{},
		Alertes:         []string{},
		Recommandations: []string{},
	}
	seen := make(map[string]bool)
	for _, f := range facets {
		if !f.Applicable {
			continue
		}
		res.PointsOK = append(res.PointsOK, f.PointsOK...)
		res.Alertes = append(res.Alertes, f.Alertes...)
		for _, r := range f.Recommandations {
			if !seen[r] {
				seen[r] = true
				res.Recommandations = append(res.Recommandations, r)
			}
		}
	}
	if len(ed.LineItems) > 0 {
		res.Strategic = ComputeStrategic(strategicItems(ed.LineItems), nil)
	}

	return res
}

// strategicItems keys every line item by job type and HT amount. The
// strategic index is informational and never feeds Aggregate.
func strategicItems(lines []model.LineItem) []model.StrategicItem {
	items := make([]model.StrategicItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, model.StrategicItem{JobType: l.JobType, AmountHT: l.AmountHT})
	}
	return items
}
