package extract

import "github.com/verifdevis/devis-cli/internal/model"

// Keywords are written in folded, space-separated form (see words).
var (
	diagnosticKeywords = []string{
		"diagnostic", "diagnostics", "dpe", "performance energetique", "amiante", "plomb", "termites",
		"crep", "etat des risques", "loi carrez", "diagnostiqueur", "audit energetique", "erp",
		"gaz", "etat parasitaire",
	}
	prestationKeywords = []string{
		"etude", "bureau d etudes", "maitrise d oeuvre", "expertise", "controle technique", "releve",
		"geometre", "note de calcul", "honoraires", "assistance a maitrise d ouvrage", "conseil",
		"mission",
	}
	worksKeywords = []string{
		"travaux", "pose", "fourniture", "main d oeuvre", "chantier", "depose", "installation",
		"renovation", "remplacement", "evacuation des gravats",
	}
)

// ClassifyDocument labels the text as a standard quote, a diagnostic or a
// technical service by keyword scoring. Ties go to the standard quote.
func ClassifyDocument(text string) model.DocumentType {
	w := words(text)
	works := countWords(w, worksKeywords)
	diag := countWords(w, diagnosticKeywords)
	prest := countWords(w, prestationKeywords)

	switch {
	case diag > works && diag >= prest && diag >= 2:
		return model.DocumentDiagnostic
	case prest > works && prest > diag && prest >= 2:
		return model.DocumentPrestation
	default:
		return model.DocumentDevis
	}
}

type jobKeywords struct {
	jobType  string
	keywords []string
}

// jobTypeKeywords is checked in order; the first match wins, so specific
// rooms come before the trades they contain.
var jobTypeKeywords = []jobKeywords{
	{"salle_de_bain", []string{"salle de bain", "salle d eau", "douche", "baignoire", "vasque", "receveur"}},
	{"cuisine", []string{"cuisine", "plan de travail", "credence", "hotte"}},
	{"facade", []string{"facade", "ravalement", "crepi", "bardage", "enduit de facade"}},
	{"isolation", []string{"isolation", "isolant", "laine de verre", "laine de roche", "ite", "iti", "combles", "ouate", "polystyrene"}},
	{"chauffage", []string{"chauffage", "chaudiere", "pompe a chaleur", "pac", "radiateur", "poele", "plancher chauffant", "climatisation", "climatiseur"}},
	{"toiture", []string{"toiture", "toit", "couverture", "tuile", "ardoise", "zinguerie", "gouttiere", "charpente", "faitage", "ecran sous toiture"}},
	{"electricite", []string{"electricite", "electrique", "tableau electrique", "prise", "interrupteur", "eclairage", "cablage", "disjoncteur", "luminaire", "consuel"}},
	{"plomberie", []string{"plomberie", "robinet", "robinetterie", "mitigeur", "wc", "sanitaire", "tuyau", "tuyauterie", "ballon", "chauffe eau", "canalisation", "siphon"}},
	{"menuiserie", []string{"menuiserie", "fenetre", "porte", "volet", "baie vitree", "velux", "porte fenetre", "parquet", "placard", "escalier"}},
	{"carrelage", []string{"carrelage", "faience", "carreau", "plinthe", "sol souple", "revetement de sol"}},
	{"maconnerie", []string{"maconnerie", "beton", "parpaing", "mur porteur", "dalle", "chape", "demolition", "linteau", "ouverture de mur"}},
	{"peinture", []string{"peinture", "peindre", "enduit", "laque", "lasure", "papier peint", "tapisserie", "sous couche", "poncage"}},
}

// JobTypes is the closed set of job-type codes, "autres" included.
func JobTypes() []string {
	out := make([]string, 0, len(jobTypeKeywords)+1)
	for _, jk := range jobTypeKeywords {
		out = append(out, jk.jobType)
	}
	return append(out, model.JobTypeOther)
}

// CategorizeLine maps a line-item label to a job type, or "autres".
func CategorizeLine(label string) string {
	w := words(label)
	for _, jk := range jobTypeKeywords {
		for _, kw := range jk.keywords {
			if hasWord(w, kw) {
				return jk.jobType
			}
		}
	}
	return model.JobTypeOther
}

// validJobType reports whether jt is a known job-type code.
func validJobType(jt string) bool {
	if jt == model.JobTypeOther {
		return true
	}
	for _, jk := range jobTypeKeywords {
		if jk.jobType == jt {
			return true
		}
	}
	return false
}
