package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/verifdevis/devis-cli/internal/extract"
	"github.com/verifdevis/devis-cli/internal/model"
)

// relatedTrades lists the activities that also cover a job type.
var relatedTrades = map[string][]string{
	"salle_de_bain": {"plomberie", "carrelage"},
	"cuisine":       {"menuiserie", "plomberie"},
	"facade":        {"maconnerie", "peinture"},
	"chauffage":     {"plomberie"},
	"carrelage":     {"maconnerie"},
}

var allTrades = []string{"tous corps d etat", "tce", "tous travaux", "entreprise generale"}

// covers reports whether the declared activities cover every trade of the quote.
func covers(activities, trades []string) (bool, []string) {
	declared := make(map[string]bool)
	for _, a := range activities {
		fa := " " + strings.Join(strings.Fields(strings.NewReplacer("'", " ", "-", " ").Replace(extract.Fold(a))), " ") + " "
		for _, w := range allTrades {
			if strings.Contains(fa, " "+w+" ") {
				return true, nil
			}
		}
		declared[extract.CategorizeLine(a)] = true
	}

	var missing []string
	for _, t := range trades {
		if declared[t] {
			continue
		}
		related := false
		for _, r := range relatedTrades[t] {
			if declared[r] {
				related = true
				break
			}
		}
		if !related {
			missing = append(missing, t)
		}
	}
	return len(missing) == 0, missing
}

// checkInsurance rates one declared guarantee against the analysis date and
// the quote's trades. A suspicious identifier makes every guarantee ROUGE.
func checkInsurance(ed *model.ExtractedData, kind model.InsuranceKind, suspicious bool, now time.Time) model.InsuranceCheck {
	chk := model.InsuranceCheck{Kind: kind, Level: model.ScoreVert}
	ref := ed.Insurance(kind)
	if ref != nil {
		chk.Insurer = ref.Insurer
		chk.ValidUntil = ref.ValidUntil
	}

	switch {
	case suspicious:
		chk.Level, chk.Reason = model.ScoreRouge, "l'identifiant de l'entreprise est incohérent"
	case ref == nil:
		chk.Level, chk.Reason = model.ScoreOrange, "aucune attestation mentionnée sur le devis"
	case ref.ValidUntil != nil && ref.ValidUntil.Before(now):
		chk.Level, chk.Reason = model.ScoreOrange, "attestation expirée le "+ref.ValidUntil.Format("02/01/2006")
	case ref.ValidFrom != nil && ref.ValidFrom.After(now):
		chk.Level, chk.Reason = model.ScoreOrange, "garantie en vigueur seulement à partir du "+ref.ValidFrom.Format("02/01/2006")
	default:
		if len(ref.Activities) > 0 {
			if ok, missing := covers(ref.Activities, ed.Trades()); !ok {
				chk.Level = model.ScoreOrange
				chk.Reason = fmt.Sprintf("les activités couvertes (%s) n'incluent pas : %s",
					strings.Join(ref.Activities, ", "), strings.Join(missing, ", "))
				return chk
			}
		}
		chk.Reason = "attestation en cours de validité"
	}
	return chk
}
