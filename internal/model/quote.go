package model

import (
	"sort"
	"time"
)

// DocumentType classifies a submitted document.
type DocumentType string

const (
	DocumentDevis      DocumentType = "devis"
	DocumentDiagnostic DocumentType = "diagnostic"
	DocumentPrestation DocumentType = "prestation_technique"
)

// Adapted reports whether the document receives the adapted analysis
// (no price position, no décennale check).
func (d DocumentType) Adapted() bool {
	return d == DocumentDiagnostic || d == DocumentPrestation
}

// IdentifierKind tells which registry identifier was found in the text.
type IdentifierKind string

const (
	IdentifierSIRET IdentifierKind = "siret"
	IdentifierSIREN IdentifierKind = "siren"
	IdentifierNone  IdentifierKind = ""
)

// JobTypeOther is the catch-all category with no reference price band.
const JobTypeOther = "autres"

// LineItem is one priced line of a quote.
type LineItem struct {
	Label     string  `json:"label"`
	JobType   string  `json:"job_type"`
	Quantity  float64 `json:"quantity,omitempty"`
	Unit      string  `json:"unit,omitempty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
	AmountHT  float64 `json:"amount_ht"`
	AmountTTC float64 `json:"amount_ttc,omitempty"`
}

// InsuranceKind names a guarantee type.
type InsuranceKind string

const (
	InsuranceDecennale InsuranceKind = "decennale"
	InsuranceRCPro     InsuranceKind = "rc_pro"
)

// InsuranceRef is a guarantee declared on the quote or its attestation.
type InsuranceRef struct {
	Kind         InsuranceKind `json:"kind"`
	Insurer      string        `json:"insurer,omitempty"`
	PolicyNumber string        `json:"policy_number,omitempty"`
	ValidFrom    *time.Time    `json:"valid_from,omitempty"`
	ValidUntil   *time.Time    `json:"valid_until,omitempty"`
	Activities   []string      `json:"activities,omitempty"`
}

// PaymentTerms holds the deposit and bank details stated on the quote.
type PaymentTerms struct {
	DepositPercent *float64 `json:"deposit_percent,omitempty"`
	IBAN           string   `json:"iban,omitempty"`
}

// Mentions records which mandatory quote mentions were found.
type Mentions struct {
	Date         bool `json:"date"`
	Validity     bool `json:"validity"`
	VATNumber    bool `json:"vat_number"`
	PaymentTerms bool `json:"payment_terms"`
	ClientInfo   bool `json:"client_info"`
}

// ExtractedData is the structured content of one submitted quote.
type ExtractedData struct {
	CompanyName          string         `json:"company_name"`
	Identifier           string         `json:"identifier"`
	IdentifierKind       IdentifierKind `json:"identifier_kind"`
	IdentifierCandidates []string       `json:"identifier_candidates,omitempty"`
	Address              string         `json:"address,omitempty"`
	PostalCode           string         `json:"postal_code,omitempty"`
	City                 string         `json:"city,omitempty"`
	SiteAddress          string         `json:"site_address,omitempty"`
	SitePostalCode       string         `json:"site_postal_code,omitempty"`
	SiteCity             string         `json:"site_city,omitempty"`
	QuoteDate            *time.Time     `json:"quote_date,omitempty"`

	LineItems []LineItem `json:"line_items"`
	TotalHT   float64    `json:"total_ht"`
	TotalTVA  float64    `json:"total_tva"`
	TotalTTC  float64    `json:"total_ttc"`
	VATRates  []float64  `json:"vat_rates,omitempty"`

	Payment    PaymentTerms   `json:"payment"`
	Insurances []InsuranceRef `json:"guarantees"`
	Mentions   Mentions       `json:"mentions"`

	DocumentType    DocumentType `json:"document_type"`
	Inconsistencies []string     `json:"inconsistencies,omitempty"`
	Source          string       `json:"source"`
	RawText         string       `json:"-"`
}

// Siren returns the 9-digit company part of the identifier, or "".
func (e *ExtractedData) Siren() string {
	if len(e.Identifier) < 9 {
		return ""
	}
	return e.Identifier[:9]
}

// WorkPostalCode is the postal code of the work site, falling back to the
// company address when the quote does not state one.
func (e *ExtractedData) WorkPostalCode() string {
	if e.SitePostalCode != "" {
		return e.SitePostalCode
	}
	return e.PostalCode
}

// WorkCity pairs with WorkPostalCode.
func (e *ExtractedData) WorkCity() string {
	if e.SitePostalCode != "" {
		return e.SiteCity
	}
	return e.City
}

// Insurance returns the declared guarantee of the given kind, if any.
func (e *ExtractedData) Insurance(kind InsuranceKind) *InsuranceRef {
	for i := range e.Insurances {
		if e.Insurances[i].Kind == kind {
			return &e.Insurances[i]
		}
	}
	return nil
}

// Trades returns the distinct job types of the line items, largest amount first.
// "autres" is excluded.
func (e *ExtractedData) Trades() []string {
	totals := make(map[string]float64)
	for _, li := range e.LineItems {
		if li.JobType == "" || li.JobType == JobTypeOther {
			continue
		}
		totals[li.JobType] += li.AmountHT
	}
	out := make([]string, 0, len(totals))
	for jt := range totals {
		out = append(out, jt)
	}
	sort.Slice(out, func(i, j int) bool {
		if totals[out[i]] != totals[out[j]] {
			return totals[out[i]] > totals[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
