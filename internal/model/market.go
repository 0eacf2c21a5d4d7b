package model

// ZoneType is the urban tier used to normalise reference prices.
type ZoneType string

const (
	ZonePetiteVille  ZoneType = "petite_ville"
	ZoneVilleMoyenne ZoneType = "ville_moyenne"
	ZoneGrandeVille  ZoneType = "grande_ville"
)

// Label returns the French display label of the tier.
func (z ZoneType) Label() string {
	switch z {
	case ZonePetiteVille:
		return "Petite ville / rural"
	case ZoneGrandeVille:
		return "Grande agglomération"
	default:
		return "Ville moyenne"
	}
}

// ZoneInfo is the result of a postal-code zone lookup.
type ZoneInfo struct {
	Zone        ZoneType `json:"zone"`
	Coefficient float64  `json:"coefficient"`
	IsDefault   bool     `json:"isDefault"`
}

// PriceBand is a min/avg/max reference price per unit.
type PriceBand struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// Reliability is the sample-size tier of a reference price.
type Reliability string

const (
	ReliabilityGood   Reliability = "bon"
	ReliabilityMedium Reliability = "moyen"
	ReliabilityLow    Reliability = "faible"
)

// ReliabilityFor maps a number of observations to a reliability tier.
func ReliabilityFor(samples int) Reliability {
	switch {
	case samples >= 30:
		return ReliabilityGood
	case samples >= 10:
		return ReliabilityMedium
	default:
		return ReliabilityLow
	}
}

// PricePosition locates a declared unit price against the market band.
type PricePosition string

const (
	PositionBelow    PricePosition = "below"
	PositionWithin   PricePosition = "within"
	PositionAbove    PricePosition = "above"
	PositionFarAbove PricePosition = "far_above"
	PositionUnknown  PricePosition = "unknown"
)

// MarketPriceLine is a reference price band for one job type in one zone.
type MarketPriceLine struct {
	JobType           string        `json:"job_type"`
	Zone              ZoneType      `json:"zone"`
	Coefficient       float64       `json:"coefficient"`
	ZoneIsDefault     bool          `json:"zone_is_default"`
	Unit              string        `json:"unit,omitempty"`
	Min               float64       `json:"min"`
	Avg               float64       `json:"avg"`
	Max               float64       `json:"max"`
	SampleSize        int           `json:"sample_size"`
	Reliability       Reliability   `json:"reliability,omitempty"`
	Available         bool          `json:"available"`
	UnavailableReason string        `json:"unavailable_reason,omitempty"`
	Quantity          float64       `json:"quantity,omitempty"`
	DeclaredUnitPrice float64       `json:"declared_unit_price,omitempty"`
	Position          PricePosition `json:"position"`
}

// SiteContext is the property-market context of the work site.
type SiteContext struct {
	CodeINSEE      string      `json:"code_insee"`
	TypeBien       string      `json:"type_bien"`
	DVFAvailable   bool        `json:"dvf_available"`
	PrixM2         *float64    `json:"prix_m2"`
	Source         string      `json:"source"`
	ZoneLabel      string      `json:"zone_label"`
	Reliability    Reliability `json:"niveau_fiabilite,omitempty"`
	NbTransactions *int        `json:"nb_transactions,omitempty"`
}

// MarketAssessment is the Market Price Resolver output for one quote.
type MarketAssessment struct {
	Zone  ZoneInfo          `json:"zone"`
	Lines []MarketPriceLine `json:"lines"`
	Site  *SiteContext      `json:"site,omitempty"`
}
