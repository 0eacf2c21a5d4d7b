// Package render turns the stage outputs of one analysis into the record
// persisted on the analysis and returned to the caller.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/scorer"
)

// Input bundles everything the renderer reads. Only Extracted and Scoring
// are required.
type Input struct {
	Extracted    *model.ExtractedData
	Verification *model.VerificationResult
	Market       *model.MarketAssessment
	Scoring      *model.ScoringResult
	// Narrative replaces the template summary when non-empty.
	Narrative string
}

// Render builds the analysis report. It is pure: the same input always
// yields the same report.
func Render(in Input) *model.AnalysisReport {
	ed := in.Extracted
	if ed == nil {
		ed = &model.ExtractedData{}
	}
	sr := in.Scoring
	if sr == nil {
		sr = &model.ScoringResult{Score: model.ScoreOrange}
	}

	r := &model.AnalysisReport{
		Score:           sr.Score,
		Banner:          Banner(ed.DocumentType),
		PointsOK:        nonNil(sr.PointsOK),
		Alertes:         nonNil(sr.Alertes),
		Recommandations: nonNil(sr.Recommandations),
		RawText:         ed.RawText,
	}

	r.Resume = strings.TrimSpace(in.Narrative)
	if r.Resume == "" {
		r.Resume = Summary(ed, sr)
	}

	blocks := scorer.VisibleBlocks(ed.DocumentType)
	if in.Verification != nil {
		r.AttestationComparison = attestationComparison(ed, in.Verification, blocks)
		r.AssuranceLevel2Score = string(worstInsurance(in.Verification, blocks))
	}
	if in.Market != nil && in.Market.Site != nil {
		if raw, err := json.Marshal(in.Market.Site); err == nil {
			r.SiteContext = raw
		}
	}
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var documentLabels = map[model.DocumentType]string{
	model.DocumentDiagnostic: "diagnostic immobilier",
	model.DocumentPrestation: "prestation technique",
}

// Banner returns the notice shown above adapted analyses, or "" for a
// regular works quote.
func Banner(dt model.DocumentType) string {
	if !dt.Adapted() {
		return ""
	}
	return fmt.Sprintf("Document identifié comme %s : analyse adaptée, sans comparaison de prix ni contrôle de la garantie décennale.",
		documentLabels[dt])
}

// Summary is the deterministic résumé used when no narrative is available.
func Summary(ed *model.ExtractedData, sr *model.ScoringResult) string {
	var b strings.Builder

	name := ed.CompanyName
	if name == "" {
		name = "une entreprise non identifiée"
	}
	fmt.Fprintf(&b, "Devis émis par %s", name)
	if ed.Identifier != "" {
		fmt.Fprintf(&b, " (%s %s)", strings.ToUpper(string(ed.IdentifierKind)), ed.Identifier)
	}
	switch {
	case ed.TotalHT > 0 && ed.TotalTTC > 0:
		fmt.Fprintf(&b, " pour un montant de %s HT, soit %s TTC.", scorer.FormatEuro(ed.TotalHT), scorer.FormatEuro(ed.TotalTTC))
	case ed.TotalHT > 0:
		fmt.Fprintf(&b, " pour un montant de %s HT.", scorer.FormatEuro(ed.TotalHT))
	default:
		b.WriteString(".")
	}
	if n := len(ed.LineItems); n > 0 {
		fmt.Fprintf(&b, " %d %s analysé%s.", n, plural(n, "poste", "postes"), plural(n, "", "s"))
	}

	b.WriteString(" ")
	switch sr.Score {
	case model.ScoreRouge:
		fmt.Fprintf(&b, "Verdict ROUGE : %d %s, dont au moins une critique. Ne signez pas ce devis en l'état.",
			len(sr.Alertes), plural(len(sr.Alertes), "alerte", "alertes"))
	case model.ScoreOrange:
		fmt.Fprintf(&b, "Verdict ORANGE : %d %s de vigilance à lever avant de signer.",
			len(sr.Alertes), plural(len(sr.Alertes), "point", "points"))
	default:
		b.WriteString("Verdict VERT : aucun point bloquant n'a été relevé.")
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n > 1 {
		return many
	}
	return one
}

type declaredGuarantee struct {
	Insurer      string   `json:"insurer,omitempty"`
	PolicyNumber string   `json:"policy_number,omitempty"`
	ValidFrom    string   `json:"valid_from,omitempty"`
	ValidUntil   string   `json:"valid_until,omitempty"`
	Activities   []string `json:"activities,omitempty"`
}

type comparisonEntry struct {
	Kind        model.InsuranceKind `json:"kind"`
	Declared    *declaredGuarantee  `json:"declared"`
	QuoteTrades []string            `json:"quote_trades"`
	Level       model.Score         `json:"level"`
	Reason      string              `json:"reason"`
}

type comparison struct {
	CompanyName          string            `json:"company_name,omitempty"`
	LegalName            string            `json:"legal_name,omitempty"`
	IdentifierSuspicious bool              `json:"identifier_suspicious"`
	Guarantees           []comparisonEntry `json:"guarantees"`
}

// attestationComparison lays declared guarantees next to the trades of the
// quote and the verdict of each check.
func attestationComparison(ed *model.ExtractedData, v *model.VerificationResult, blocks scorer.Blocks) json.RawMessage {
	out := comparison{
		CompanyName:          ed.CompanyName,
		LegalName:            v.LegalName,
		IdentifierSuspicious: v.IdentifierSuspicious,
		Guarantees:           []comparisonEntry{},
	}
	trades := ed.Trades()
	for _, kind := range []model.InsuranceKind{model.InsuranceDecennale, model.InsuranceRCPro} {
		if !blocks.Insurance(kind) {
			continue
		}
		entry := comparisonEntry{Kind: kind, QuoteTrades: trades}
		if ref := ed.Insurance(kind); ref != nil {
			d := &declaredGuarantee{Insurer: ref.Insurer, PolicyNumber: ref.PolicyNumber, Activities: ref.Activities}
			if ref.ValidFrom != nil {
				d.ValidFrom = ref.ValidFrom.Format("2006-01-02")
			}
			if ref.ValidUntil != nil {
				d.ValidUntil = ref.ValidUntil.Format("2006-01-02")
			}
			entry.Declared = d
		}
		if chk := v.InsuranceLevel(kind); chk != nil {
			entry.Level, entry.Reason = chk.Level, chk.Reason
		} else {
			entry.Level = model.ScoreOrange
		}
		out.Guarantees = append(out.Guarantees, entry)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return raw
}

func worstInsurance(v *model.VerificationResult, blocks scorer.Blocks) model.Score {
	worst := model.ScoreVert
	checked := false
	for _, kind := range []model.InsuranceKind{model.InsuranceDecennale, model.InsuranceRCPro} {
		if !blocks.Insurance(kind) {
			continue
		}
		checked = true
		level := model.ScoreOrange
		if chk := v.InsuranceLevel(kind); chk != nil {
			level = chk.Level
		}
		if level.Rank() > worst.Rank() {
			worst = level
		}
	}
	if !checked {
		return ""
	}
	return worst
}
