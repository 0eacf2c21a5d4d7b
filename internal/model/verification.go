package model

import "time"

// Presence is a tri-state existence flag.
type Presence string

const (
	PresenceYes     Presence = "yes"
	PresenceNo      Presence = "no"
	PresenceUnknown Presence = "unknown"
)

// CompanyStatus is the administrative state of a company.
type CompanyStatus string

const (
	StatusActive     CompanyStatus = "active"
	StatusCeased     CompanyStatus = "ceased"
	StatusInsolvency CompanyStatus = "insolvency"
	StatusUnknown    CompanyStatus = "unknown"
)

// Trend summarises the direction of successive financial filings.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendStable  Trend = "stable"
	TrendUnknown Trend = "unknown"
)

// SourceState tells how an external source answered.
type SourceState string

const (
	SourceOK      SourceState = "ok"
	SourceUnknown SourceState = "unknown"
	SourceSkipped SourceState = "skipped"
)

// Verification source names.
const (
	SourceRegistry   = "registry"
	SourceProcedures = "procedures"
	SourceIBAN       = "iban"
	SourceGeocode    = "geocode"
	SourceCache      = "cache"
)

// SourceStatus records the provenance of one verification facet.
type SourceStatus struct {
	Name      string      `json:"name"`
	State     SourceState `json:"state"`
	Error     string      `json:"error,omitempty"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Procedure is a collective insolvency procedure published for a company.
type Procedure struct {
	Kind  string     `json:"kind"`
	Label string     `json:"label"`
	Date  *time.Time `json:"date,omitempty"`
	Court string     `json:"court,omitempty"`
}

// FinancialYear holds the published accounts of one fiscal year.
type FinancialYear struct {
	Year      int      `json:"year"`
	Revenue   *float64 `json:"revenue,omitempty"`
	NetIncome *float64 `json:"net_income,omitempty"`
}

// IBANCheck is the outcome of the bank details check.
type IBANCheck struct {
	Present  bool   `json:"present"`
	Valid    *bool  `json:"valid,omitempty"`
	Country  string `json:"country,omitempty"`
	BankName string `json:"bank_name,omitempty"`
	BIC      string `json:"bic,omitempty"`
}

// AddressCheck is the outcome of geocoding the declared address.
type AddressCheck struct {
	Declared   string   `json:"declared,omitempty"`
	Label      string   `json:"label,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	CityCode   string   `json:"city_code,omitempty"`
	Score      float64  `json:"score,omitempty"`
	Latitude   float64  `json:"latitude,omitempty"`
	Longitude  float64  `json:"longitude,omitempty"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
	Matched    bool     `json:"matched"`
}

// InsuranceCheck is the attestation consistency level for one guarantee.
type InsuranceCheck struct {
	Kind       InsuranceKind `json:"kind"`
	Level      Score         `json:"level"`
	Reason     string        `json:"reason"`
	Insurer    string        `json:"insurer,omitempty"`
	ValidUntil *time.Time    `json:"valid_until,omitempty"`
}

// CompanyFacts is the cacheable part of a verification: registry identity,
// procedures and accounts, keyed by SIREN.
type CompanyFacts struct {
	Siren      string          `json:"siren"`
	Exists     Presence        `json:"exists"`
	LegalName  string          `json:"legal_name,omitempty"`
	Status     CompanyStatus   `json:"status"`
	Procedure  *Procedure      `json:"procedure,omitempty"`
	CreatedOn  *time.Time      `json:"created_on,omitempty"`
	NAFCode    string          `json:"naf_code,omitempty"`
	SeatAddr   string          `json:"seat_address,omitempty"`
	SeatCode   string          `json:"seat_postal_code,omitempty"`
	SeatLat    *float64        `json:"seat_lat,omitempty"`
	SeatLon    *float64        `json:"seat_lon,omitempty"`
	Finances   []FinancialYear `json:"finances,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
	Registry   SourceState     `json:"registry_state"`
	Procedures SourceState     `json:"procedures_state"`
}

// Complete reports whether both registry and procedure lookups answered.
func (f *CompanyFacts) Complete() bool {
	return f.Registry == SourceOK && f.Procedures == SourceOK
}

// VerificationResult is the company verification record of one analysis.
type VerificationResult struct {
	Identifier           string           `json:"identifier,omitempty"`
	Siren                string           `json:"siren,omitempty"`
	IdentifierSuspicious bool             `json:"identifier_suspicious"`
	SuspicionReason      string           `json:"suspicion_reason,omitempty"`
	Exists               Presence         `json:"exists"`
	LegalName            string           `json:"legal_name,omitempty"`
	NameMatches          *bool            `json:"name_matches,omitempty"`
	Status               CompanyStatus    `json:"status"`
	Procedure            *Procedure       `json:"procedure,omitempty"`
	CreatedOn            *time.Time       `json:"created_on,omitempty"`
	AgeYears             *float64         `json:"age_years,omitempty"`
	NAFCode              string           `json:"naf_code,omitempty"`
	Finances             []FinancialYear  `json:"finances,omitempty"`
	FinancialTrend       Trend            `json:"financial_trend"`
	IBAN                 IBANCheck        `json:"iban"`
	Address              AddressCheck     `json:"address"`
	Insurance            []InsuranceCheck `json:"insurance"`
	Degraded             bool             `json:"degraded"`
	Sources              []SourceStatus   `json:"sources"`
	FetchedAt            time.Time        `json:"fetched_at"`
}

// Source returns the provenance entry for name, or nil.
func (v *VerificationResult) Source(name string) *SourceStatus {
	for i := range v.Sources {
		if v.Sources[i].Name == name {
			return &v.Sources[i]
		}
	}
	return nil
}

// InsuranceLevel returns the check for a guarantee kind, or nil.
func (v *VerificationResult) InsuranceLevel(kind InsuranceKind) *InsuranceCheck {
	for i := range v.Insurance {
		if v.Insurance[i].Kind == kind {
			return &v.Insurance[i]
		}
	}
	return nil
}
