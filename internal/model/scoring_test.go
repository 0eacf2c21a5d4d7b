package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityWorse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Severity
		want Severity
	}{
		{"ok-ok", SeverityOK, SeverityOK, SeverityOK},
		{"ok-warning", SeverityOK, SeverityWarning, SeverityWarning},
		{"warning-ok", SeverityWarning, SeverityOK, SeverityWarning},
		{"warning-critical", SeverityWarning, SeverityCritical, SeverityCritical},
		{"critical-ok", SeverityCritical, SeverityOK, SeverityCritical},
		{"empty-ok", "", SeverityOK, SeverityOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Worse(tt.b))
		})
	}
}

func TestSeverityScore(t *testing.T) {
	assert.Equal(t, ScoreVert, SeverityOK.Score())
	assert.Equal(t, ScoreOrange, SeverityWarning.Score())
	assert.Equal(t, ScoreRouge, SeverityCritical.Score())
	assert.Less(t, ScoreVert.Rank(), ScoreOrange.Rank())
	assert.Less(t, ScoreOrange.Rank(), ScoreRouge.Rank())
}

func TestReliabilityFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		samples int
		want    Reliability
	}{
		{0, ReliabilityLow},
		{9, ReliabilityLow},
		{10, ReliabilityMedium},
		{29, ReliabilityMedium},
		{30, ReliabilityGood},
		{500, ReliabilityGood},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ReliabilityFor(tt.samples), "samples=%d", tt.samples)
	}
}

func TestExtractedDataTrades(t *testing.T) {
	d := &ExtractedData{LineItems: []LineItem{
		{JobType: "peinture", AmountHT: 500},
		{JobType: "plomberie", AmountHT: 1200},
		{JobType: "peinture", AmountHT: 900},
		{JobType: JobTypeOther, AmountHT: 5000},
		{JobType: "", AmountHT: 10},
	}}
	assert.Equal(t, []string{"peinture", "plomberie"}, d.Trades())
}

func TestExtractedDataSiren(t *testing.T) {
	assert.Equal(t, "732829320", (&ExtractedData{Identifier: "73282932000074"}).Siren())
	assert.Equal(t, "732829320", (&ExtractedData{Identifier: "732829320"}).Siren())
	assert.Equal(t, "", (&ExtractedData{}).Siren())
}

func TestDocumentTypeAdapted(t *testing.T) {
	assert.False(t, DocumentDevis.Adapted())
	assert.True(t, DocumentDiagnostic.Adapted())
	assert.True(t, DocumentPrestation.Adapted())
}
