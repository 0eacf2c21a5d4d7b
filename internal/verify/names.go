package verify

import (
	"strings"
	"unicode"

	"github.com/verifdevis/devis-cli/internal/extract"
)

// nameNoise are legal forms and filler words ignored when comparing names.
var nameNoise = map[string]bool{
	"sarl": true, "sas": true, "sasu": true, "eurl": true, "sa": true, "snc": true, "ei": true,
	"eirl": true, "scop": true, "selarl": true, "sci": true, "earl": true, "ets": true,
	"etablissements": true, "entreprise": true, "societe": true, "ste": true, "groupe": true,
	"de": true, "des": true, "du": true, "la": true, "le": true, "les": true, "l": true, "d": true, "et": true,
}

// nameTokens folds a company name and drops legal forms and filler words.
func nameTokens(name string) []string {
	fields := strings.FieldsFunc(extract.Fold(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !nameNoise[f] {
			out = append(out, f)
		}
	}
	return out
}

// NameMatch compares a quote name with a registry name by token overlap
// relative to the shorter name. ok is false when either name is empty after
// normalisation.
func NameMatch(quoted, registered string, threshold float64) (match, ok bool) {
	a, b := nameTokens(quoted), nameTokens(registered)
	if len(a) == 0 || len(b) == 0 {
		return false, false
	}
	if strings.Join(a, "") == strings.Join(b, "") {
		return true, true
	}

	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	common := 0
	for _, t := range a {
		if set[t] {
			common++
			delete(set, t)
		}
	}
	return float64(common)/float64(min(len(a), len(b))) >= threshold, true
}
