package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/pkg/iban"
)

// amt matches a French amount: "1 234,56", "1.234,56", "1234,56", "1234.56", "1234".
const amt = `-?(?:\d{1,3}(?:[ .]\d{3})+(?:,\d{1,2})?|\d+(?:[,.]\d{1,2})?)`

const date = `\d{1,2}/\d{1,2}/\d{4}`

var (
	reSIRET = regexp.MustCompile(`\b\d{3}[ .]?\d{3}[ .]?\d{3}[ .]?(?:\d{5}|\d{3}[ .]\d{2})\b`)
	reSIREN = regexp.MustCompile(`\b\d{3}[ .]?\d{3}[ .]?\d{3}\b`)

	reTotalHT  = regexp.MustCompile(`(?i)\b(?:total|montant|sous[- ]total)\s*(?:net\s*)?(?:h\.?\s?t\b\.?|hors\s+taxes?)[^\d\n-]*(` + amt + `)`)
	reTotalTTC = regexp.MustCompile(`(?i)\b(?:total|montant|net)\s*(?:[àa]\s+payer\s*)?(?:t\.?\s?t\.?\s?c\b\.?|toutes\s+taxes\s+comprises)[^\d\n-]*(` + amt + `)`)
	reNetToPay = regexp.MustCompile(`(?i)\bnet\s+[àa]\s+payer\b[^\d\n-]*(` + amt + `)`)
	reTotalTVA = regexp.MustCompile(`(?im)^(.*?)\bt\.?v\.?a\b\.?(?:\s*(?:[àa]\s*)?\(?\s*\d{1,2}(?:[,.]\d{1,2})?\s*%\s*\)?)?\s*:?\s*(` + amt + `)\s*(?:€|eur)`)
	reVATRate  = regexp.MustCompile(`(?i)\bt\.?v\.?a\b\.?[^%\n\d]{0,15}(\d{1,2}(?:[,.]\d{1,2})?)\s*%`)

	reDepositPct    = regexp.MustCompile(`(?i)\bacompte\b[^%\n]{0,60}?(\d{1,3}(?:[,.]\d{1,2})?)\s*%`)
	reDepositPctRev = regexp.MustCompile(`(?i)(\d{1,3}(?:[,.]\d{1,2})?)\s*%\s*(?:d['’]\s*acompte|[àa]\s+la\s+(?:commande|signature))`)
	reDepositAmt    = regexp.MustCompile(`(?i)\bacompte\b[^\d\n%]{0,40}(` + amt + `)\s*(?:€|eur)`)

	reIBAN = regexp.MustCompile(`(?i)\biban\b\s*:?\s*([a-z]{2}\d{2}(?:\s?[a-z0-9]{4}){2,7}(?:\s?[a-z0-9]{1,3})?)`)

	reDecennale = regexp.MustCompile(`(?i)d[ée]cennale`)
	reRCPro     = regexp.MustCompile(`(?i)responsabilit[ée]\s+civile(?:\s+professionnelle)?|\bRC\s*Pro\b`)
	reInsurer   = regexp.MustCompile(`(?i)(?:assureur|compagnie\s+d['’]assurances?|compagnie|souscrite?\s+aupr[èe]s\s+de|aupr[èe]s\s+de|assur[ée]e?\s+par)\s*:?\s*([^\n,;(]{2,60})`)
	rePolicy    = regexp.MustCompile(`(?i)(?:police|contrat)\s*(?:n\s?[°ºo]\.?|num[ée]ro)?\s*:?\s*([A-Z0-9][A-Z0-9/.\-]{3,})`)
	reValidSpan = regexp.MustCompile(`(?i)\bdu\s+(` + date + `)\s+au\s+(` + date + `)`)
	reValidEnd  = regexp.MustCompile(`(?i)(?:jusqu['’]au|expire\s+le|expiration\s*:?|fin\s+de\s+validit[ée]\s*:?)\s*(` + date + `)`)
	reListSep   = regexp.MustCompile(`\s*(?:,|;|\bet\b)\s*`)
	reActivity  = regexp.MustCompile(`(?i)activit[ée]s?(?:\s+couvertes?|\s+garanties?|\s+assur[ée]es?)?\s*:\s*([^\n]+)`)

	reDateLabel = regexp.MustCompile(`(?i)\bdate\b[^\d\n]{0,20}(` + date + `)`)
	reDevisDu   = regexp.MustCompile(`(?i)\bdevis\b[^\n]{0,40}?\bdu\s+(` + date + `)`)
	reAnyDate   = regexp.MustCompile(date)

	reValidity   = regexp.MustCompile(`(?i)valable\s+\d+\s*(?:jours|mois)|dur[ée]e\s+de\s+validit[ée]|validit[ée]\s+de\s+l['’]offre|(?:offre|devis)\s+valable|valable\s+jusqu`)
	reVATNumber  = regexp.MustCompile(`(?i)\bFR\s?[0-9A-Z]{2}\s?\d{3}\s?\d{3}\s?\d{3}\b|tva\s+intra`)
	rePayTerms   = regexp.MustCompile(`(?i)(?:conditions?|modalit[ée]s?)\s+de\s+(?:paiement|r[èe]glement)|\bacompte\b|paiement\s+[àa]\s+\d+|r[èe]glement\s+(?:[àa]|par|comptant)`)
	reClientInfo = regexp.MustCompile(`(?i)\bclient\b|\bma[iî]tre\s+d['’]ouvrage\b|\bdestinataire\b|\b(?:M\.|Mme|Monsieur|Madame)\s+\p{L}`)

	reLegalForm = regexp.MustCompile(`\b(?:SARL|SAS|SASU|EURL|SA|SNC|EI|EIRL|SCOP|SELARL)\b`)
	rePostal    = regexp.MustCompile(`(?m)^(.*?)\b((?:0[1-9]|[1-8]\d|9[0-8])\d{3})\s+(\p{L}[\p{L}'’ \-]{1,40}?)\s*$`)
	reSite      = regexp.MustCompile(`(?im)(?:adresse\s+(?:du\s+)?chantier|lieu\s+(?:des\s+travaux|d['’]intervention|du\s+chantier)|chantier\s+situ[ée]\s+au|adresse\s+des\s+travaux)\s*:?\s*(.*)$`)
	reStreet    = regexp.MustCompile(`(?i)^\d|\b(?:rue|avenue|av\.|bd|boulevard|chemin|place|all[ée]e|impasse|route|quai|cours|lotissement|lieu[- ]dit)\b`)

	reLineItem = regexp.MustCompile(`(?i)^(.*?\p{L}.*?)\s+(\d+(?:[,.]\d+)?)\s*(m²|m2|ml|m\.l\.|m[èe]tres?\s+lin[ée]aires?|u\.?|unit[ée]s?|pce|pi[èe]ces?|ens\.?|ensemble|forfait|fft|ft|h|heures?|m)\s+(` + amt + `)\s*(?:€|eur)?\s+(?:\d{1,2}(?:[,.]\d{1,2})?\s*%\s+)?(` + amt + `)\s*(?:€|eur)?$`)
	reForfait  = regexp.MustCompile(`(?i)^(.*?\p{L}.*?)\s+(?:forfait|fft|ft)\s+(` + amt + `)\s*(?:€|eur)?(?:\s+(` + amt + `)\s*(?:€|eur)?)?$`)
	reThousand = regexp.MustCompile(`^-?\d{1,3}(?:\.\d{3})+$`)
)

var skipLinePrefixes = []string{"total", "sous total", "tva", "net a payer", "acompte", "montant", "reste a payer", "remise globale"}

var knownInsurers = []string{
	"SMABTP", "AXA", "MAAF", "MMA", "Allianz", "Generali", "MAIF", "MACIF", "Groupama", "L'Auxiliaire",
	"QBE", "Hiscox", "BTP Assurances", "Swiss Life", "CNA", "Abeille Assurances", "Covéa", "Thélem",
}

var notCities = map[string]bool{"euros": true, "euro": true, "eur": true, "ht": true, "ttc": true}

// ParseAmount parses a French-formatted amount. Spaces and non-breaking
// spaces are thousand separators, the comma is the decimal separator.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "€", "").Replace(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case reThousand.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func amountFloat(s string) (float64, bool) {
	d, ok := ParseAmount(s)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeText(text string) string {
	return strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\t", " ", "\r\n", "\n", "\r", "\n").Replace(text)
}

// ParseRules extracts quote fields from recognised text with patterns only.
func ParseRules(text string) *model.ExtractedData {
	text = normalizeText(text)
	ed := &model.ExtractedData{Source: "rules"}

	ed.Identifier, ed.IdentifierKind, ed.IdentifierCandidates = FindIdentifier(text)
	ed.CompanyName = findCompanyName(text)
	ed.Address, ed.PostalCode, ed.City = findCompanyAddress(text)
	ed.SiteAddress, ed.SitePostalCode, ed.SiteCity = findSiteAddress(text)

	if m := firstSubmatch(text, reDateLabel, reDevisDu); m != "" {
		ed.QuoteDate = parseDate(m)
	} else if m := reAnyDate.FindString(text); m != "" {
		ed.QuoteDate = parseDate(m)
	}

	ed.LineItems, ed.Inconsistencies = findLineItems(text)
	findTotals(text, ed)
	ed.VATRates = findVATRates(text)
	ed.Payment = findPayment(text, ed.TotalTTC)
	ed.Insurances = findInsurances(text)
	ed.Mentions = model.Mentions{
		Date:         ed.QuoteDate != nil,
		Validity:     reValidity.MatchString(text),
		VATNumber:    reVATNumber.MatchString(text),
		PaymentTerms: rePayTerms.MatchString(text),
		ClientInfo:   reClientInfo.MatchString(text),
	}
	return ed
}

// FindIdentifier returns the first 14-digit SIRET, else the first 9-digit
// SIREN, and every candidate in text order.
func FindIdentifier(text string) (string, model.IdentifierKind, []string) {
	type cand struct {
		pos    int
		digits string
	}
	var cands []cand
	siretSpans := reSIRET.FindAllStringIndex(text, -1)
	for _, sp := range siretSpans {
		cands = append(cands, cand{sp[0], digitsOnly(text[sp[0]:sp[1]])})
	}
	for _, sp := range reSIREN.FindAllStringIndex(text, -1) {
		inside := false
		for _, s := range siretSpans {
			if sp[0] < s[1] && sp[1] > s[0] {
				inside = true
				break
			}
		}
		if !inside {
			cands = append(cands, cand{sp[0], digitsOnly(text[sp[0]:sp[1]])})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].pos < cands[j].pos })

	var all []string
	seen := make(map[string]bool)
	for _, c := range cands {
		if !seen[c.digits] {
			seen[c.digits] = true
			all = append(all, c.digits)
		}
	}

	for _, d := range all {
		if len(d) == 14 {
			return d, model.IdentifierSIRET, all
		}
	}
	for _, d := range all {
		if len(d) == 9 {
			return d, model.IdentifierSIREN, all
		}
	}
	return "", model.IdentifierNone, all
}

func firstSubmatch(text string, res ...*regexp.Regexp) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

func parseDate(s string) *time.Time {
	t, err := time.Parse("2/1/2006", strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}

func findCompanyName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && reLegalForm.MatchString(line) && len(line) <= 120 {
			return cleanName(line)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "devis") || reAnyDate.MatchString(line) {
			continue
		}
		return cleanName(line)
	}
	return ""
}

func cleanName(line string) string {
	for _, sep := range []string{" - SIRET", " SIRET", " - SIREN", " SIREN", " – ", " | "} {
		if i := strings.Index(line, sep); i > 0 {
			line = line[:i]
		}
	}
	return strings.Trim(strings.TrimSpace(line), ",-")
}

type postalHit struct {
	street, postal, city string
	start                int
}

func postalHits(text string) []postalHit {
	lines := strings.Split(text, "\n")
	var hits []postalHit
	offset := 0
	for i, line := range lines {
		if m := rePostal.FindStringSubmatch(line); m != nil {
			city := strings.TrimSpace(m[3])
			if !notCities[strings.ToLower(city)] && !strings.Contains(strings.ToLower(m[1]), "capital") {
				street := strings.Trim(strings.TrimSpace(m[1]), ",-")
				if street == "" && i > 0 {
					prev := strings.TrimSpace(lines[i-1])
					if reStreet.MatchString(prev) {
						street = prev
					}
				}
				hits = append(hits, postalHit{street: street, postal: m[2], city: city, start: offset})
			}
		}
		offset += len(line) + 1
	}
	return hits
}

func findCompanyAddress(text string) (street, postal, city string) {
	siteStart := -1
	if loc := reSite.FindStringIndex(text); loc != nil {
		siteStart = loc[0]
	}
	for _, h := range postalHits(text) {
		if siteStart >= 0 && h.start >= siteStart && h.start <= siteStart+200 {
			continue
		}
		return h.street, h.postal, h.city
	}
	return "", "", ""
}

func findSiteAddress(text string) (street, postal, city string) {
	loc := reSite.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", "", ""
	}
	rest := strings.TrimSpace(text[loc[2]:loc[3]])
	if m := rePostal.FindStringSubmatch(rest); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), ",-"), m[2], strings.TrimSpace(m[3])
	}
	// Postal code on the following line.
	after := text[loc[1]:]
	after = strings.TrimPrefix(after, "\n")
	next, _, _ := strings.Cut(after, "\n")
	if m := rePostal.FindStringSubmatch(strings.TrimSpace(next)); m != nil {
		street := strings.Trim(strings.TrimSpace(m[1]), ",-")
		if street == "" {
			street = rest
		}
		return street, m[2], strings.TrimSpace(m[3])
	}
	return rest, "", ""
}

func unitCode(u string) string {
	f := strings.TrimSuffix(Fold(strings.TrimSpace(u)), ".")
	switch {
	case f == "m²" || f == "m2":
		return "m2"
	case f == "ml" || f == "m.l" || f == "m" || strings.HasPrefix(f, "metre"):
		return "ml"
	case f == "forfait" || f == "ft" || f == "fft" || f == "ens" || f == "ensemble":
		return "forfait"
	default:
		return "unite"
	}
}

func skipLine(line string) bool {
	w := strings.TrimSpace(words(line))
	for _, p := range skipLinePrefixes {
		if strings.HasPrefix(w, p) {
			return true
		}
	}
	return false
}

func findLineItems(text string) ([]model.LineItem, []string) {
	var items []model.LineItem
	var issues []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || skipLine(line) {
			continue
		}

		var li model.LineItem
		if m := reLineItem.FindStringSubmatch(line); m != nil {
			qty, _ := amountFloat(m[2])
			pu, _ := amountFloat(m[4])
			total, _ := amountFloat(m[5])
			li = model.LineItem{Label: strings.TrimSpace(m[1]), Quantity: qty, Unit: unitCode(m[3]), UnitPrice: pu, AmountHT: total}
		} else if m := reForfait.FindStringSubmatch(line); m != nil {
			pu, _ := amountFloat(m[2])
			total := pu
			if m[3] != "" {
				total, _ = amountFloat(m[3])
			}
			li = model.LineItem{Label: strings.TrimSpace(m[1]), Quantity: 1, Unit: "forfait", UnitPrice: pu, AmountHT: total}
		} else {
			continue
		}

		if li.AmountHT < 0 || li.UnitPrice < 0 {
			issues = append(issues, "Montant négatif ramené à zéro : "+li.Label+".")
			li.AmountHT = max(li.AmountHT, 0)
			li.UnitPrice = max(li.UnitPrice, 0)
		}
		li.JobType = CategorizeLine(li.Label)
		items = append(items, li)
	}
	return items, issues
}

func lastAmount(text string, re *regexp.Regexp) float64 {
	ms := re.FindAllStringSubmatch(text, -1)
	if len(ms) == 0 {
		return 0
	}
	v, _ := amountFloat(ms[len(ms)-1][len(ms[len(ms)-1])-1])
	return v
}

func findTotals(text string, ed *model.ExtractedData) {
	ed.TotalHT = lastAmount(text, reTotalHT)
	ed.TotalTTC = lastAmount(text, reTotalTTC)
	if ed.TotalTTC == 0 {
		ed.TotalTTC = lastAmount(text, reNetToPay)
	}

	// A "Total TVA" line wins; otherwise per-rate lines are summed.
	var sum, total decimal.Decimal
	hasTotal := false
	for _, m := range reTotalTVA.FindAllStringSubmatch(text, -1) {
		d, ok := ParseAmount(m[2])
		if !ok {
			continue
		}
		if strings.Contains(Fold(m[1]), "total") || strings.Contains(Fold(m[1]), "montant") {
			total, hasTotal = d, true
			continue
		}
		if !strings.Contains(Fold(m[1]), "intra") {
			sum = sum.Add(d)
		}
	}
	if hasTotal {
		ed.TotalTVA, _ = total.Float64()
	} else {
		ed.TotalTVA, _ = sum.Float64()
	}

	ht := decimal.NewFromFloat(ed.TotalHT)
	tva := decimal.NewFromFloat(ed.TotalTVA)
	ttc := decimal.NewFromFloat(ed.TotalTTC)
	switch {
	case ed.TotalHT == 0 && ed.TotalTTC > 0 && ed.TotalTVA > 0:
		ed.TotalHT, _ = ttc.Sub(tva).Float64()
	case ed.TotalTVA == 0 && ed.TotalTTC > ed.TotalHT && ed.TotalHT > 0:
		ed.TotalTVA, _ = ttc.Sub(ht).Float64()
	case ed.TotalTTC == 0 && ed.TotalHT > 0:
		ed.TotalTTC, _ = ht.Add(tva).Float64()
	}

	for _, p := range []*float64{&ed.TotalHT, &ed.TotalTVA, &ed.TotalTTC} {
		if *p < 0 {
			ed.Inconsistencies = append(ed.Inconsistencies, "Total négatif ramené à zéro.")
			*p = 0
		}
	}
}

func findVATRates(text string) []float64 {
	var out []float64
	seen := make(map[string]bool)
	for _, m := range reVATRate.FindAllStringSubmatch(text, -1) {
		d, ok := ParseAmount(m[1])
		if !ok || d.GreaterThan(decimal.NewFromInt(100)) {
			continue
		}
		if k := d.String(); !seen[k] {
			seen[k] = true
			f, _ := d.Float64()
			out = append(out, f)
		}
	}
	return out
}

func findPayment(text string, totalTTC float64) model.PaymentTerms {
	var p model.PaymentTerms
	if m := firstSubmatch(text, reDepositPct, reDepositPctRev); m != "" {
		if v, ok := amountFloat(m); ok && v >= 0 && v <= 100 {
			p.DepositPercent = &v
		}
	}
	if p.DepositPercent == nil && totalTTC > 0 {
		if m := reDepositAmt.FindStringSubmatch(text); m != nil {
			if d, ok := ParseAmount(m[1]); ok && d.IsPositive() {
				pct, _ := d.Div(decimal.NewFromFloat(totalTTC)).Mul(decimal.NewFromInt(100)).Round(1).Float64()
				p.DepositPercent = &pct
			}
		}
	}
	if m := reIBAN.FindStringSubmatch(text); m != nil {
		p.IBAN = iban.Normalize(m[1])
	}
	return p
}

func findInsurances(text string) []model.InsuranceRef {
	dec := reDecennale.FindStringIndex(text)
	rc := reRCPro.FindStringIndex(text)

	var out []model.InsuranceRef
	if dec != nil {
		out = append(out, insuranceAt(text, model.InsuranceDecennale, dec[0], rc))
	}
	if rc != nil {
		out = append(out, insuranceAt(text, model.InsuranceRCPro, rc[0], dec))
	}
	return out
}

// insuranceAt reads insurer, policy and validity from the text following a
// guarantee keyword, stopping at the other guarantee's keyword.
func insuranceAt(text string, kind model.InsuranceKind, start int, other []int) model.InsuranceRef {
	end := min(start+400, len(text))
	if other != nil && other[0] > start && other[0] < end {
		end = other[0]
	}
	for end < len(text) && !utf8Start(text[end]) {
		end++
	}
	win := text[start:end]

	ref := model.InsuranceRef{Kind: kind}
	if m := reInsurer.FindStringSubmatch(win); m != nil {
		ref.Insurer = cleanInsurer(m[1])
	}
	if ref.Insurer == "" {
		lw := strings.ToLower(win)
		for _, name := range knownInsurers {
			if strings.Contains(lw, strings.ToLower(name)) {
				ref.Insurer = name
				break
			}
		}
	}
	if m := rePolicy.FindStringSubmatch(win); m != nil {
		ref.PolicyNumber = strings.TrimRight(m[1], ".-")
	}
	if m := reValidSpan.FindStringSubmatch(win); m != nil {
		ref.ValidFrom = parseDate(m[1])
		ref.ValidUntil = parseDate(m[2])
	} else if m := reValidEnd.FindStringSubmatch(win); m != nil {
		ref.ValidUntil = parseDate(m[1])
	}
	if m := reActivity.FindStringSubmatch(win); m != nil {
		for _, a := range reListSep.Split(m[1], -1) {
			if a = strings.Trim(strings.TrimSpace(a), "."); a != "" {
				ref.Activities = append(ref.Activities, a)
			}
		}
	}
	return ref
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

func cleanInsurer(s string) string {
	lower := strings.ToLower(s)
	for _, stop := range []string{" police", " contrat", " n°", " sous le", " valable", " du "} {
		if i := strings.Index(lower, stop); i >= 0 {
			s = s[:i]
			lower = lower[:i]
		}
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ".:-"))
}
