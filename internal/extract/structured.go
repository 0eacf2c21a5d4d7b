package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/llm"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/pkg/iban"
)

// maxPromptChars bounds the quote text sent to the model.
const maxPromptChars = 30000

const structureSystem = `Tu es un assistant qui extrait les données d'un devis de travaux français.
Réponds uniquement avec un objet JSON, sans texte autour.`

const structurePrompt = `Extrais les champs suivants du devis ci-dessous et réponds avec ce schéma JSON :
{
  "company_name": string,
  "identifier": string (SIRET 14 chiffres ou SIREN 9 chiffres, chiffres uniquement, "" si absent),
  "address": string, "postal_code": string, "city": string,
  "site_address": string, "site_postal_code": string, "site_city": string,
  "document_type": "devis" | "diagnostic" | "prestation_technique",
  "line_items": [{"label": string, "job_type": %s, "quantity": number, "unit": "m2" | "ml" | "unite" | "forfait", "unit_price": number, "amount_ht": number}],
  "total_ht": number, "total_tva": number, "total_ttc": number,
  "vat_rates": [number],
  "deposit_percent": number | null,
  "iban": string,
  "guarantees": [{"kind": "decennale" | "rc_pro", "insurer": string, "policy_number": string, "valid_from": "AAAA-MM-JJ", "valid_until": "AAAA-MM-JJ", "activities": [string]}]
}
N'invente aucune valeur : laisse vide ce qui n'apparaît pas dans le texte.

DEVIS :
%s`

type llmLine struct {
	Label     string  `json:"label" validate:"required,max=300"`
	JobType   string  `json:"job_type" validate:"omitempty,jobtype"`
	Quantity  float64 `json:"quantity" validate:"gte=0"`
	Unit      string  `json:"unit" validate:"omitempty,oneof=m2 ml unite forfait"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	AmountHT  float64 `json:"amount_ht" validate:"gte=0"`
}

type llmGuarantee struct {
	Kind         string   `json:"kind" validate:"required,oneof=decennale rc_pro"`
	Insurer      string   `json:"insurer" validate:"max=120"`
	PolicyNumber string   `json:"policy_number" validate:"max=60"`
	ValidFrom    string   `json:"valid_from" validate:"omitempty,datetime=2006-01-02"`
	ValidUntil   string   `json:"valid_until" validate:"omitempty,datetime=2006-01-02"`
	Activities   []string `json:"activities" validate:"dive,max=120"`
}

// llmQuote is the only shape accepted from the model.
type llmQuote struct {
	CompanyName    string         `json:"company_name" validate:"max=200"`
	Identifier     string         `json:"identifier" validate:"omitempty,numeric,len=9|len=14"`
	Address        string         `json:"address" validate:"max=300"`
	PostalCode     string         `json:"postal_code" validate:"omitempty,numeric,len=5"`
	City           string         `json:"city" validate:"max=120"`
	SiteAddress    string         `json:"site_address" validate:"max=300"`
	SitePostalCode string         `json:"site_postal_code" validate:"omitempty,numeric,len=5"`
	SiteCity       string         `json:"site_city" validate:"max=120"`
	DocumentType   string         `json:"document_type" validate:"omitempty,oneof=devis diagnostic prestation_technique"`
	LineItems      []llmLine      `json:"line_items" validate:"max=500,dive"`
	TotalHT        float64        `json:"total_ht" validate:"gte=0"`
	TotalTVA       float64        `json:"total_tva" validate:"gte=0"`
	TotalTTC       float64        `json:"total_ttc" validate:"gte=0"`
	VATRates       []float64      `json:"vat_rates" validate:"dive,gte=0,lte=100"`
	DepositPercent *float64       `json:"deposit_percent" validate:"omitempty,gte=0,lte=100"`
	IBAN           string         `json:"iban" validate:"max=42"`
	Guarantees     []llmGuarantee `json:"guarantees" validate:"max=10,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("jobtype", func(fl validator.FieldLevel) bool {
		return validJobType(fl.Field().String())
	})
	return v
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// decodeStructured strictly decodes and validates model output.
func decodeStructured(raw string) (*llmQuote, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(cleanJSON(raw))))
	dec.DisallowUnknownFields()

	var q llmQuote
	if err := dec.Decode(&q); err != nil {
		return nil, eris.Wrap(err, "extract: decode structured output")
	}
	if err := validate.Struct(&q); err != nil {
		return nil, eris.Wrap(err, "extract: validate structured output")
	}
	return &q, nil
}

// structure asks the model to structure the text and merges the validated
// answer over the rule-based result. Any failure leaves rules untouched.
func structure(ctx context.Context, c llm.Completer, text string, rules *model.ExtractedData) (*model.ExtractedData, error) {
	out, err := c.Complete(ctx, llm.Request{
		System: structureSystem,
		Prompt: sprintfPrompt(truncateRunes(text, maxPromptChars)),
		JSON:   true,
		Phase:  "extract",
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: llm completion")
	}

	q, err := decodeStructured(out)
	if err != nil {
		return nil, err
	}
	return merge(rules, q, text), nil
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sprintfPrompt(body string) string {
	jobTypes := `"` + strings.Join(JobTypes(), `" | "`) + `"`
	return strings.Replace(strings.Replace(structurePrompt, "%s", jobTypes, 1), "%s", body, 1)
}

// merge overlays validated model fields on the rule-based result. A pattern
// identifier found in the text always wins; a model identifier is kept only
// when its digits appear in the text. A model IBAN must also appear in the
// text.
func merge(rules *model.ExtractedData, q *llmQuote, text string) *model.ExtractedData {
	ed := *rules
	ed.Source = "llm+rules"

	if ed.Identifier == "" && q.Identifier != "" && strings.Contains(digitsOnly(text), q.Identifier) {
		ed.Identifier = q.Identifier
		ed.IdentifierKind = model.IdentifierSIREN
		if len(q.Identifier) == 14 {
			ed.IdentifierKind = model.IdentifierSIRET
		}
	}

	setString(&ed.CompanyName, q.CompanyName)
	if q.PostalCode != "" {
		ed.Address, ed.PostalCode, ed.City = q.Address, q.PostalCode, q.City
	}
	if q.SitePostalCode != "" {
		ed.SiteAddress, ed.SitePostalCode, ed.SiteCity = q.SiteAddress, q.SitePostalCode, q.SiteCity
	}
	if q.DocumentType != "" {
		ed.DocumentType = model.DocumentType(q.DocumentType)
	}

	if len(q.LineItems) > 0 {
		ed.LineItems = make([]model.LineItem, 0, len(q.LineItems))
		for _, l := range q.LineItems {
			jt := l.JobType
			if jt == "" {
				jt = CategorizeLine(l.Label)
			}
			ed.LineItems = append(ed.LineItems, model.LineItem{
				Label: l.Label, JobType: jt, Quantity: l.Quantity, Unit: l.Unit,
				UnitPrice: l.UnitPrice, AmountHT: l.AmountHT,
			})
		}
	}

	setFloat(&ed.TotalHT, q.TotalHT)
	setFloat(&ed.TotalTVA, q.TotalTVA)
	setFloat(&ed.TotalTTC, q.TotalTTC)
	if len(q.VATRates) > 0 {
		ed.VATRates = q.VATRates
	}
	if q.DepositPercent != nil {
		ed.Payment.DepositPercent = q.DepositPercent
	}
	if n := iban.Normalize(q.IBAN); n != "" && strings.Contains(iban.Normalize(text), n) {
		ed.Payment.IBAN = n
	}

	if len(q.Guarantees) > 0 {
		ed.Insurances = make([]model.InsuranceRef, 0, len(q.Guarantees))
		for _, g := range q.Guarantees {
			ed.Insurances = append(ed.Insurances, model.InsuranceRef{
				Kind:         model.InsuranceKind(g.Kind),
				Insurer:      g.Insurer,
				PolicyNumber: g.PolicyNumber,
				ValidFrom:    isoDate(g.ValidFrom),
				ValidUntil:   isoDate(g.ValidUntil),
				Activities:   g.Activities,
			})
		}
	}
	return &ed
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func isoDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
