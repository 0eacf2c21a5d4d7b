package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
)

type facetBuilder struct {
	f model.Facet
}

func newFacet(name model.FacetName, applicable bool) *facetBuilder {
	return &facetBuilder{f: model.Facet{Name: name, Severity: model.SeverityOK, Applicable: applicable}}
}

func (b *facetBuilder) ok(point string) {
	b.f.PointsOK = append(b.f.PointsOK, point)
}

func (b *facetBuilder) raise(sev model.Severity, alert, reco string) {
	b.f.Severity = b.f.Severity.Worse(sev)
	if alert != "" {
		b.f.Alertes = append(b.f.Alertes, alert)
	}
	if reco != "" {
		b.f.Recommandations = append(b.f.Recommandations, reco)
	}
}

func (b *facetBuilder) warn(alert, reco string) {
	b.raise(model.SeverityWarning, alert, reco)
}

func (b *facetBuilder) critical(alert, reco string) {
	b.raise(model.SeverityCritical, alert, reco)
}

// unknown records missing information. It only ever raises to WARNING.
func (b *facetBuilder) unknown(alert, reco string) {
	b.f.Unknown = true
	b.raise(model.SeverityWarning, alert, reco)
}

func (b *facetBuilder) done() model.Facet {
	return b.f
}

var mentionLabels = []struct {
	get   func(model.Mentions) bool
	label string
}{
	{func(m model.Mentions) bool { return m.Date }, "la date du devis"},
	{func(m model.Mentions) bool { return m.Validity }, "la durée de validité"},
	{func(m model.Mentions) bool { return m.ClientInfo }, "les coordonnées du client"},
	{func(m model.Mentions) bool { return m.PaymentTerms }, "les conditions de paiement"},
	{func(m model.Mentions) bool { return m.VATNumber }, "le numéro de TVA intracommunautaire"},
}

// TotalsConsistent reports whether totalHT matches the sum of the line
// amounts within max(pct % of the total, abs euros).
func TotalsConsistent(items []model.LineItem, totalHT, pct, abs float64) (bool, decimal.Decimal) {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(decimal.NewFromFloat(li.AmountHT))
	}
	total := decimal.NewFromFloat(totalHT)
	tol := total.Abs().Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	if floor := decimal.NewFromFloat(abs); tol.LessThan(floor) {
		tol = floor
	}
	return sum.Sub(total).Abs().LessThanOrEqual(tol), sum
}

func coherenceFacet(ed *model.ExtractedData, cfg config.ScorerConfig) model.Facet {
	b := newFacet(model.FacetCoherence, true)

	totalHT := ed.TotalHT
	if totalHT < 0 {
		zap.L().Warn("scorer: negative total clamped", zap.Float64("total_ht", totalHT))
		totalHT = 0
	}

	switch {
	case len(ed.LineItems) == 0:
		b.warn("Le devis ne détaille aucune ligne de prestation.",
			"Demandez un devis détaillé, poste par poste, avec quantités et prix unitaires.")
	case totalHT == 0:
		b.warn("Le montant total HT n'a pas pu être identifié sur le devis.",
			"Vérifiez que le devis mentionne clairement les totaux HT, TVA et TTC.")
	default:
		ok, sum := TotalsConsistent(ed.LineItems, totalHT, cfg.TotalsTolerancePct, cfg.TotalsToleranceAbs)
		if ok {
			b.ok("Le total HT correspond à la somme des lignes du devis.")
		} else {
			s, _ := sum.Float64()
			b.warn(fmt.Sprintf("Le total HT (%s) ne correspond pas à la somme des lignes (%s).", FormatEuro(totalHT), FormatEuro(s)),
				"Demandez à l'entreprise de corriger les totaux du devis.")
		}
	}

	if totalHT > 0 && ed.TotalTVA > 0 && ed.TotalTTC > 0 {
		ht := decimal.NewFromFloat(totalHT)
		ttc := ht.Add(decimal.NewFromFloat(ed.TotalTVA))
		if ttc.Sub(decimal.NewFromFloat(ed.TotalTTC)).Abs().GreaterThan(decimal.NewFromFloat(math.Max(cfg.TotalsToleranceAbs, 0))) {
			b.warn(fmt.Sprintf("Le total TTC (%s) ne correspond pas au total HT augmenté de la TVA.", FormatEuro(ed.TotalTTC)), "")
		}
	}

	var odd []string
	for _, r := range ed.VATRates {
		if !knownRate(r, cfg.VATRates) {
			odd = append(odd, formatPercent(r))
		}
	}
	if len(odd) > 0 {
		b.warn(fmt.Sprintf("Taux de TVA inhabituel : %s.", strings.Join(odd, ", ")),
			"Les taux de TVA applicables aux travaux sont 5,5 %, 10 % ou 20 % : faites préciser le taux retenu.")
	} else if len(ed.VATRates) > 0 {
		b.ok("Les taux de TVA appliqués sont conformes.")
	}

	var missing []string
	for _, m := range mentionLabels {
		if !m.get(ed.Mentions) {
			missing = append(missing, m.label)
		}
	}
	if len(missing) > 0 {
		b.warn(fmt.Sprintf("Mentions obligatoires absentes : %s.", strings.Join(missing, ", ")),
			"Un devis doit comporter toutes les mentions obligatoires : demandez un devis complet avant de signer.")
	} else {
		b.ok("Toutes les mentions obligatoires sont présentes.")
	}

	for _, inc := range ed.Inconsistencies {
		b.warn(inc, "")
	}
	return b.done()
}

func knownRate(r float64, rates []float64) bool {
	for _, k := range rates {
		if math.Abs(r-k) < 0.01 {
			return true
		}
	}
	return false
}

func entrepriseFacet(ed *model.ExtractedData, v *model.VerificationResult, cfg config.ScorerConfig) model.Facet {
	b := newFacet(model.FacetEntreprise, true)

	if v == nil || v.Siren == "" {
		b.unknown("Aucun numéro SIRET ou SIREN n'a été trouvé sur le devis.",
			"Demandez le numéro SIRET de l'entreprise et vérifiez-le sur annuaire-entreprises.data.gouv.fr.")
		return b.done()
	}

	if v.IdentifierSuspicious {
		reason := v.SuspicionReason
		if reason == "" {
			reason = "numéro incohérent"
		}
		b.critical(fmt.Sprintf("Le numéro d'identification %s semble invalide ou falsifié (%s).", v.Identifier, reason),
			"Ne versez aucun acompte avant d'avoir obtenu un extrait Kbis de l'entreprise.")
	}

	switch v.Exists {
	case model.PresenceNo:
		b.critical(fmt.Sprintf("Aucune entreprise n'est immatriculée sous le SIREN %s.", v.Siren),
			"Ne signez pas ce devis sans avoir vérifié l'identité de l'entreprise.")
	case model.PresenceUnknown:
		b.unknown("Le registre des entreprises n'a pas pu être consulté.",
			"Relancez l'analyse plus tard ou vérifiez l'entreprise sur annuaire-entreprises.data.gouv.fr.")
	}

	switch v.Status {
	case model.StatusInsolvency:
		label := "procédure collective"
		if v.Procedure != nil && v.Procedure.Label != "" {
			label = strings.ToLower(v.Procedure.Label)
		}
		msg := fmt.Sprintf("L'entreprise fait l'objet d'une procédure collective en cours (%s", label)
		if v.Procedure != nil && v.Procedure.Date != nil {
			msg += ", publiée le " + v.Procedure.Date.Format("02/01/2006")
		}
		b.critical(msg+").", "Évitez de verser un acompte à une entreprise en procédure collective.")
	case model.StatusCeased:
		b.critical("L'entreprise est radiée ou a cessé son activité.",
			"Ne signez pas ce devis : l'entreprise n'est plus en activité.")
	case model.StatusActive:
		name := v.LegalName
		if name == "" {
			name = "L'entreprise"
		}
		b.ok(fmt.Sprintf("%s est active au registre (SIREN %s).", name, v.Siren))
	}

	if src := v.Source(model.SourceProcedures); src != nil && src.State == model.SourceUnknown && v.Status != model.StatusInsolvency {
		b.unknown("Les annonces de procédures collectives (BODACC) n'ont pas pu être consultées.", "")
	} else if v.Exists == model.PresenceYes && v.Status != model.StatusInsolvency {
		b.ok("Aucune procédure collective publiée au BODACC.")
	}

	if v.AgeYears != nil {
		if *v.AgeYears < cfg.YoungCompanyYears {
			b.warn(fmt.Sprintf("L'entreprise a été créée il y a moins de %s ans.", FormatNumber(cfg.YoungCompanyYears, 0)),
				"Pour une entreprise récente, privilégiez un échéancier de paiement à l'avancement des travaux.")
		} else {
			b.ok(fmt.Sprintf("L'entreprise existe depuis %d ans.", int(*v.AgeYears)))
		}
	}

	switch v.FinancialTrend {
	case model.TrendDown:
		b.warn("Le chiffre d'affaires publié de l'entreprise est en baisse.", "")
	case model.TrendUp:
		b.ok("Le chiffre d'affaires publié de l'entreprise est en progression.")
	}

	if v.NameMatches != nil {
		if *v.NameMatches {
			b.ok("Le nom figurant sur le devis correspond au registre.")
		} else {
			b.warn(fmt.Sprintf("Le nom figurant sur le devis (%s) ne correspond pas au registre (%s).", ed.CompanyName, v.LegalName),
				"Vérifiez que le SIRET indiqué appartient bien à l'entreprise qui vous a remis le devis.")
		}
	}

	if v.Address.Matched {
		b.ok(fmt.Sprintf("L'adresse de l'entreprise a été localisée : %s.", v.Address.Label))
	}

	var down []string
	for _, src := range v.Sources {
		if src.State != model.SourceUnknown || src.Name == model.SourceRegistry || src.Name == model.SourceProcedures {
			continue
		}
		down = append(down, sourceLabels[src.Name])
	}
	if len(down) > 0 {
		b.unknown(fmt.Sprintf("Vérification incomplète, source indisponible : %s.", strings.Join(down, ", ")), "")
	}
	return b.done()
}

var sourceLabels = map[string]string{
	model.SourceRegistry:   "registre des entreprises",
	model.SourceProcedures: "BODACC",
	model.SourceIBAN:       "contrôle bancaire",
	model.SourceGeocode:    "base adresse nationale",
	model.SourceCache:      "cache",
}

func assurancesFacet(v *model.VerificationResult, blocks Blocks) model.Facet {
	b := newFacet(model.FacetAssurances, blocks.Decennale || blocks.RCPro)

	if v == nil {
		b.unknown("Les garanties d'assurance n'ont pas pu être vérifiées.", "")
		return b.done()
	}

	for _, kind := range []model.InsuranceKind{model.InsuranceDecennale, model.InsuranceRCPro} {
		if !blocks.Insurance(kind) {
			continue
		}
		label := insuranceLabel(kind)
		check := v.InsuranceLevel(kind)
		if check == nil {
			b.warn(fmt.Sprintf("Aucune attestation d'%s n'a été fournie.", label),
				fmt.Sprintf("Demandez l'attestation d'%s en cours de validité avant de signer.", label))
			continue
		}
		switch check.Level {
		case model.ScoreRouge:
			b.critical(fmt.Sprintf("Attestation d'%s incohérente : %s.", label, check.Reason),
				"Contactez directement l'assureur pour confirmer la validité du contrat.")
		case model.ScoreOrange:
			b.warn(fmt.Sprintf("Attestation d'%s à vérifier : %s.", label, check.Reason),
				fmt.Sprintf("Demandez une attestation d'%s à jour couvrant les travaux prévus.", label))
		default:
			msg := fmt.Sprintf("Attestation d'%s présente et cohérente", label)
			if check.Insurer != "" {
				msg += " (" + check.Insurer + ")"
			}
			b.ok(msg + ".")
		}
	}
	return b.done()
}

func insuranceLabel(kind model.InsuranceKind) string {
	if kind == model.InsuranceDecennale {
		return "assurance décennale"
	}
	return "assurance responsabilité civile professionnelle"
}

func prixFacet(m *model.MarketAssessment, blocks Blocks) model.Facet {
	b := newFacet(model.FacetPrix, blocks.Price)
	if !blocks.Price || m == nil {
		return b.done()
	}

	for _, line := range m.Lines {
		if !line.Available {
			continue
		}
		band := fmt.Sprintf("%s à %s", FormatNumber(line.Min, 2), formatUnitPrice(line.Max, line.Unit))
		declared := formatUnitPrice(line.DeclaredUnitPrice, line.Unit)
		switch line.Position {
		case model.PositionFarAbove:
			b.critical(fmt.Sprintf("Prix « %s » très supérieur au marché : %s pour une fourchette de %s.", line.JobType, declared, band),
				"Faites établir au moins deux devis concurrents avant de vous engager.")
		case model.PositionAbove:
			b.warn(fmt.Sprintf("Prix « %s » au-dessus du marché : %s pour une fourchette de %s.", line.JobType, declared, band),
				"Comparez avec d'autres devis ou négociez le prix de ce poste.")
		case model.PositionBelow:
			b.warn(fmt.Sprintf("Prix « %s » anormalement bas : %s pour une fourchette de %s.", line.JobType, declared, band),
				"Un prix très bas peut cacher des prestations manquantes : vérifiez le détail des travaux.")
		case model.PositionWithin:
			b.ok(fmt.Sprintf("Prix « %s » conforme au marché (%s pour une fourchette de %s).", line.JobType, declared, band))
		}
	}
	return b.done()
}

func paiementFacet(ed *model.ExtractedData, v *model.VerificationResult, cfg config.ScorerConfig) model.Facet {
	b := newFacet(model.FacetPaiement, true)

	if d := ed.Payment.DepositPercent; d != nil {
		pct := *d
		switch {
		case pct > cfg.DepositCriticalPct:
			b.critical(fmt.Sprintf("Acompte demandé de %s, supérieur à %s du montant.", formatPercent(pct), formatPercent(cfg.DepositCriticalPct)),
				"Ne versez pas un acompte aussi élevé : un acompte de 30 % au plus est d'usage.")
		case pct > cfg.DepositWarningPct:
			b.warn(fmt.Sprintf("Acompte demandé de %s, au-dessus de l'usage (%s).", formatPercent(pct), formatPercent(cfg.DepositWarningPct)),
				"Négociez un acompte plus faible ou un paiement à l'avancement.")
		default:
			b.ok(fmt.Sprintf("Acompte raisonnable (%s).", formatPercent(pct)))
		}
	}

	if v != nil && v.IBAN.Present {
		switch {
		case v.IBAN.Valid != nil && !*v.IBAN.Valid:
			b.warn("L'IBAN indiqué sur le devis est invalide.",
				"Faites confirmer les coordonnées bancaires par téléphone avant tout virement.")
		case v.IBAN.Country != "" && v.IBAN.Country != "FR":
			b.warn(fmt.Sprintf("L'IBAN indiqué est domicilié hors de France (%s).", v.IBAN.Country),
				"Méfiez-vous d'un compte bancaire étranger pour une entreprise française.")
		default:
			msg := "L'IBAN indiqué est valide"
			if v.IBAN.BankName != "" {
				msg += " (" + v.IBAN.BankName + ")"
			}
			b.ok(msg + ".")
		}
	}
	return b.done()
}
