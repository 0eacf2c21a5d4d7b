package verify

import "strings"

// laPosteSiren is exempt from the Luhn rule on its SIRETs: their digits sum
// to a multiple of 5 instead.
const laPosteSiren = "356000000"

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidIdentifier checks the length and checksum of a SIREN (9 digits) or a
// SIRET (14 digits).
func ValidIdentifier(id string) bool {
	switch len(id) {
	case 9:
		return luhn(id)
	case 14:
		if !luhn(id[:9]) {
			return false
		}
		if id[:9] == laPosteSiren {
			sum := 0
			for i := range len(id) {
				sum += int(id[i] - '0')
			}
			return sum%5 == 0
		}
		return luhn(id)
	default:
		return false
	}
}

// identifierSuspicion returns why the identifier looks fabricated, or "".
func identifierSuspicion(id string) string {
	if id == "" {
		return ""
	}
	if strings.Count(id, id[:1]) == len(id) {
		return "numéro composé d'un seul chiffre répété"
	}
	if !ValidIdentifier(id) {
		return "clé de contrôle invalide"
	}
	return ""
}

// contradictingCandidate returns another checksum-valid SIREN found on the
// quote, or "".
func contradictingCandidate(siren string, candidates []string) string {
	for _, c := range candidates {
		if len(c) < 9 || c[:9] == siren {
			continue
		}
		if ValidIdentifier(c) {
			return c[:9]
		}
	}
	return ""
}
