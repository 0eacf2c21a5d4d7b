package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/llm"
	"github.com/verifdevis/devis-cli/internal/scorer"
)

const narrativeSystem = `Tu rédiges le résumé d'une analyse de devis de travaux pour un particulier.
Écris en français, en 3 à 5 phrases, sans liste ni titre.
N'invente aucun fait : utilise uniquement les constats fournis et ne modifie jamais le verdict.`

const narrativeMaxTokens = 600

// Narrate asks the completer for a short French summary of the scored
// analysis. Callers fall back to Summary on error.
func Narrate(ctx context.Context, c llm.Completer, in Input) (string, error) {
	if c == nil || in.Scoring == nil {
		return "", eris.New("render: narrative unavailable")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Verdict : %s\n", in.Scoring.Score)
	if in.Extracted != nil {
		fmt.Fprintf(&b, "Entreprise : %s\n", orDash(in.Extracted.CompanyName))
		if in.Extracted.TotalTTC > 0 {
			fmt.Fprintf(&b, "Montant TTC : %s\n", scorer.FormatEuro(in.Extracted.TotalTTC))
		}
		if in.Extracted.DocumentType.Adapted() {
			fmt.Fprintf(&b, "Type de document : %s (analyse adaptée)\n", in.Extracted.DocumentType)
		}
	}
	writeList(&b, "Points positifs", in.Scoring.PointsOK)
	writeList(&b, "Alertes", in.Scoring.Alertes)
	writeList(&b, "Recommandations", in.Scoring.Recommandations)

	out, err := c.Complete(ctx, llm.Request{
		System:    narrativeSystem,
		Prompt:    b.String(),
		MaxTokens: narrativeMaxTokens,
		Phase:     "narrative",
	})
	if err != nil {
		return "", eris.Wrap(err, "render: narrative")
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", eris.New("render: empty narrative")
	}
	return out, nil
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s :\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
