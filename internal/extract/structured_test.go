package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/llm"
	"github.com/verifdevis/devis-cli/internal/model"
)

type fakeCompleter struct {
	out   string
	err   error
	calls int
	last  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.calls++
	f.last = req
	return f.out, f.err
}

const validStructured = `{
  "company_name": "Renov Plus",
  "identifier": "",
  "address": "12 rue des Lilas", "postal_code": "69003", "city": "Lyon",
  "site_address": "", "site_postal_code": "", "site_city": "",
  "document_type": "devis",
  "line_items": [
    {"label": "Peinture murs", "job_type": "peinture", "quantity": 50, "unit": "m2", "unit_price": 30, "amount_ht": 1500},
    {"label": "Débarras cave", "job_type": "", "quantity": 1, "unit": "forfait", "unit_price": 200, "amount_ht": 200}
  ],
  "total_ht": 1700, "total_tva": 170, "total_ttc": 1870,
  "vat_rates": [10],
  "deposit_percent": 40,
  "iban": "fr76 3000 6000 0112 3456 7890 189",
  "guarantees": [{"kind": "rc_pro", "insurer": "AXA", "policy_number": "RC-1", "valid_from": "2024-01-01", "valid_until": "2024-12-31", "activities": ["peinture"]}]
}`

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare_fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose", "Voici le résultat : {\"a\":1} Bonne journée", `{"a":1}`},
		{"no_object", "rien", "rien"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	q, err := decodeStructured("```json\n" + validStructured + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Renov Plus", q.CompanyName)
	assert.Len(t, q.LineItems, 2)

	bad := []struct {
		name string
		raw  string
	}{
		{"not_json", "je ne sais pas"},
		{"unknown_field", `{"company_name": "X", "score": "VERT"}`},
		{"short_identifier", `{"identifier": "12345"}`},
		{"letters_in_identifier", `{"identifier": "73282932A"}`},
		{"bad_unit", `{"line_items": [{"label": "x", "unit": "kg", "amount_ht": 1}]}`},
		{"bad_job_type", `{"line_items": [{"label": "x", "job_type": "jardinage", "amount_ht": 1}]}`},
		{"negative_amount", `{"line_items": [{"label": "x", "amount_ht": -5}]}`},
		{"bad_document_type", `{"document_type": "facture"}`},
		{"bad_date", `{"guarantees": [{"kind": "decennale", "valid_until": "31/12/2024"}]}`},
		{"bad_kind", `{"guarantees": [{"kind": "multirisque"}]}`},
		{"deposit_over_100", `{"deposit_percent": 130}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeStructured(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestDecodeStructured_AcceptsSiretAndSiren(t *testing.T) {
	for _, id := range []string{"732829320", "73282932000074"} {
		_, err := decodeStructured(`{"identifier": "` + id + `"}`)
		assert.NoError(t, err, id)
	}
}

func TestMerge(t *testing.T) {
	rules := ParseRules(sampleQuote)
	q, err := decodeStructured(validStructured)
	require.NoError(t, err)

	got := merge(rules, q, sampleQuote)

	assert.Equal(t, "llm+rules", got.Source)
	assert.Equal(t, "rules", rules.Source, "rules result must not be mutated")
	assert.Equal(t, "73282932000074", got.Identifier)
	assert.Equal(t, "Renov Plus", got.CompanyName)
	assert.Equal(t, "75011", got.SitePostalCode, "empty site fields keep the rule-based value")
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, "peinture", got.LineItems[0].JobType)
	assert.Equal(t, model.JobTypeOther, got.LineItems[1].JobType)
	assert.InDelta(t, 1700, got.TotalHT, 0.001)
	require.NotNil(t, got.Payment.DepositPercent)
	assert.InDelta(t, 40, *got.Payment.DepositPercent, 0.001)
	assert.Equal(t, "FR7630006000011234567890189", got.Payment.IBAN)
	require.Len(t, got.Insurances, 1)
	assert.Equal(t, model.InsuranceRCPro, got.Insurances[0].Kind)
	require.NotNil(t, got.Insurances[0].ValidUntil)
	assert.Equal(t, 2024, got.Insurances[0].ValidUntil.Year())
}

func TestMerge_IdentifierPrecedence(t *testing.T) {
	text := "Entreprise Martin\nRCS Tours 732 829 320 inscrit"
	tests := []struct {
		name     string
		rules    *model.ExtractedData
		llmID    string
		want     string
		wantKind model.IdentifierKind
	}{
		{
			name:     "rules_identifier_wins",
			rules:    &model.ExtractedData{Identifier: "73282932000074", IdentifierKind: model.IdentifierSIRET},
			llmID:    "552100554",
			want:     "73282932000074",
			wantKind: model.IdentifierSIRET,
		},
		{
			name:     "llm_identifier_present_in_text",
			rules:    &model.ExtractedData{},
			llmID:    "732829320",
			want:     "732829320",
			wantKind: model.IdentifierSIREN,
		},
		{
			name:     "llm_identifier_not_in_text",
			rules:    &model.ExtractedData{},
			llmID:    "552100554",
			want:     "",
			wantKind: model.IdentifierNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := merge(tt.rules, &llmQuote{Identifier: tt.llmID}, text)
			assert.Equal(t, tt.want, got.Identifier)
			assert.Equal(t, tt.wantKind, got.IdentifierKind)
		})
	}
}

func TestMerge_IBANMustAppearInText(t *testing.T) {
	text := "Règlement par virement\nIBAN : FR76 3000 6000 0112 3456 7890 189"
	tests := []struct {
		name    string
		rules   string
		llmIBAN string
		want    string
	}{
		{"llm_iban_in_text", "", "fr76 3000 6000 0112 3456 7890 189", "FR7630006000011234567890189"},
		{"llm_iban_not_in_text", "FR7630006000011234567890189", "FR1420041010050500013M02606", "FR7630006000011234567890189"},
		{"llm_iban_not_in_text_no_rules", "", "FR1420041010050500013M02606", ""},
		{"empty_llm_iban", "FR7630006000011234567890189", "", "FR7630006000011234567890189"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := &model.ExtractedData{Payment: model.PaymentTerms{IBAN: tt.rules}}
			got := merge(rules, &llmQuote{IBAN: tt.llmIBAN}, text)
			assert.Equal(t, tt.want, got.Payment.IBAN)
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	// "é" is two bytes; a cut inside it backs off to the rune start.
	assert.Equal(t, "d", truncateRunes("dé", 2))
	assert.Equal(t, "dé", truncateRunes("dé", 3))

	long := strings.Repeat("é", maxPromptChars)
	got := truncateRunes(long, maxPromptChars+1)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxPromptChars+1)
}

func TestStructure_LongTextStaysValidUTF8(t *testing.T) {
	fc := &fakeCompleter{out: validStructured}
	text := "x" + strings.Repeat("é", maxPromptChars)
	_, err := structure(context.Background(), fc, text, &model.ExtractedData{})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(fc.last.Prompt))
}

func TestStructure(t *testing.T) {
	rules := ParseRules(sampleQuote)

	t.Run("success", func(t *testing.T) {
		fc := &fakeCompleter{out: validStructured}
		got, err := structure(context.Background(), fc, sampleQuote, rules)
		require.NoError(t, err)
		assert.Equal(t, "llm+rules", got.Source)
		assert.True(t, fc.last.JSON)
		assert.Equal(t, "extract", fc.last.Phase)
		assert.Contains(t, fc.last.Prompt, "RENOV PLUS SARL")
		assert.Contains(t, fc.last.Prompt, `"salle_de_bain"`)
		assert.NotContains(t, fc.last.Prompt, "%s")
	})

	t.Run("completion_error", func(t *testing.T) {
		_, err := structure(context.Background(), &fakeCompleter{err: errors.New("boom")}, sampleQuote, rules)
		assert.Error(t, err)
	})

	t.Run("invalid_output", func(t *testing.T) {
		_, err := structure(context.Background(), &fakeCompleter{out: `{"identifier": "abc"}`}, sampleQuote, rules)
		assert.Error(t, err)
	})
}
