package model

// Score is the three-level trust score of an analysis.
type Score string

const (
	ScoreVert   Score = "VERT"
	ScoreOrange Score = "ORANGE"
	ScoreRouge  Score = "ROUGE"
)

// Severity is the tri-state outcome of one facet.
type Severity string

const (
	SeverityOK       Severity = "OK"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities: OK < WARNING < CRITICAL.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of s and o.
func (s Severity) Worse(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	if s == "" {
		return SeverityOK
	}
	return s
}

// Score maps a severity to the score it forces.
func (s Severity) Score() Score {
	switch s {
	case SeverityCritical:
		return ScoreRouge
	case SeverityWarning:
		return ScoreOrange
	default:
		return ScoreVert
	}
}

// Rank orders scores: VERT < ORANGE < ROUGE.
func (s Score) Rank() int {
	switch s {
	case ScoreRouge:
		return 2
	case ScoreOrange:
		return 1
	default:
		return 0
	}
}

// FacetName identifies a scoring facet.
type FacetName string

const (
	FacetCoherence  FacetName = "coherence"
	FacetEntreprise FacetName = "entreprise"
	FacetAssurances FacetName = "assurances"
	FacetPrix       FacetName = "prix"
	FacetPaiement   FacetName = "paiement"
)

// Facet is one independently evaluated dimension of the score.
type Facet struct {
	Name            FacetName `json:"name"`
	Severity        Severity  `json:"severity"`
	Unknown         bool      `json:"unknown,omitempty"`
	Applicable      bool      `json:"applicable"`
	PointsOK        []string  `json:"points_ok,omitempty"`
	Alertes         []string  `json:"alertes,omitempty"`
	Recommandations []string  `json:"recommandations,omitempty"`
}

// StrategicItem is one line of a strategic scoring query.
type StrategicItem struct {
	JobType  string  `json:"job_type" validate:"required"`
	AmountHT float64 `json:"amount_ht"`
}

// StrategicScore is the auxiliary investment-attractiveness index.
type StrategicScore struct {
	IVPScore             *int           `json:"ivp_score"`
	IPIScore             *int           `json:"ipi_score"`
	Label                string         `json:"label"`
	BreakdownOwner       map[string]int `json:"breakdown_owner"`
	BreakdownInvestor    map[string]int `json:"breakdown_investor"`
	WeightedRecoveryRate *float64       `json:"weighted_recovery_rate"`
}

// ScoringResult is the Scorer output.
type ScoringResult struct {
	Score           Score           `json:"score"`
	Facets          []Facet         `json:"facets"`
	PointsOK        []string        `json:"points_ok"`
	Alertes         []string        `json:"alertes"`
	Recommandations []string        `json:"recommandations"`
	Strategic       *StrategicScore `json:"strategic,omitempty"`
}

// Facet returns the facet with the given name, or nil.
func (r *ScoringResult) Facet(name FacetName) *Facet {
	for i := range r.Facets {
		if r.Facets[i].Name == name {
			return &r.Facets[i]
		}
	}
	return nil
}
