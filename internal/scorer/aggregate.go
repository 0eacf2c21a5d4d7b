package scorer

import "github.com/verifdevis/devis-cli/internal/model"

// Effective returns the severity a facet contributes to the score. An
// unknown facet contributes at least WARNING; it never reaches CRITICAL on
// its own because unknown findings are only ever recorded as warnings.
func Effective(f model.Facet) model.Severity {
	s := f.Severity
	if s == "" {
		s = model.SeverityOK
	}
	if f.Unknown && s == model.SeverityOK {
		return model.SeverityWarning
	}
	return s
}

// Aggregate returns the worst severity across applicable facets mapped to a
// score. No facets, or only non-applicable ones, yields VERT.
func Aggregate(facets []model.Facet) model.Score {
	worst := model.SeverityOK
	for _, f := range facets {
		if !f.Applicable {
			continue
		}
		worst = worst.Worse(Effective(f))
	}
	return worst.Score()
}

// Blocks lists which checks apply to a document type.
type Blocks struct {
	Price     bool
	Decennale bool
	RCPro     bool
}

// VisibleBlocks returns the checks that apply to a document type. Diagnostic
// and technical-service documents skip the price position and the décennale
// guarantee.
func VisibleBlocks(dt model.DocumentType) Blocks {
	if dt.Adapted() {
		return Blocks{RCPro: true}
	}
	return Blocks{Price: true, Decennale: true, RCPro: true}
}

// Insurance reports whether a guarantee kind is checked for these blocks.
func (b Blocks) Insurance(kind model.InsuranceKind) bool {
	switch kind {
	case model.InsuranceDecennale:
		return b.Decennale
	case model.InsuranceRCPro:
		return b.RCPro
	default:
		return false
	}
}
