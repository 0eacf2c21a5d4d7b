package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/pipeline"
)

func TestFormatAnalysesList(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	list := []model.Analysis{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			FileName:  "devis-peinture.pdf",
			Status:    model.AnalysisCompleted,
			Score:     model.ScoreVert,
			CreatedAt: now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			FilePath:  "devis/def/scan.jpg",
			Status:    model.AnalysisPending,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatAnalysesList(&buf, list)

	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "devis-peinture.pdf")
	assert.Contains(t, out, "VERT")
	assert.Contains(t, out, "devis/def/scan.jpg")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "2026-03-02 09:15")
}

func TestFormatAnalysis_Completed(t *testing.T) {
	a := &model.Analysis{
		ID:              "a1",
		Status:          model.AnalysisCompleted,
		Score:           model.ScoreOrange,
		Resume:          "Quelques points à vérifier.",
		PointsOK:        []string{"Entreprise active"},
		Alertes:         []string{"Acompte élevé"},
		Recommandations: []string{"Négocier l'acompte"},
	}

	var buf bytes.Buffer
	formatAnalysis(&buf, a)

	out := buf.String()
	assert.Contains(t, out, "Score : ORANGE")
	assert.Contains(t, out, "Quelques points à vérifier.")
	assert.Contains(t, out, "Points conformes :\n  - Entreprise active")
	assert.Contains(t, out, "Alertes :\n  - Acompte élevé")
	assert.Contains(t, out, "Recommandations :")
}

func TestFormatAnalysis_Error(t *testing.T) {
	var buf bytes.Buffer
	formatAnalysis(&buf, &model.Analysis{ID: "a2", Status: model.AnalysisError, ErrorMessage: "Format de fichier non supporté."})

	assert.Contains(t, buf.String(), "Erreur : Format de fichier non supporté.")
	assert.NotContains(t, buf.String(), "Score")
}

func TestWriteAnalysisResult_JSON(t *testing.T) {
	res := &pipeline.Result{
		Analysis: &model.Analysis{ID: "a3", Status: model.AnalysisCompleted, Score: model.ScoreVert},
		Phases:   []model.PhaseResult{{Name: "1_download", Status: model.PhaseStatusComplete, Duration: 12}},
	}

	var buf bytes.Buffer
	writeAnalysisResult(&buf, res, true)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "analysis")
	assert.Contains(t, decoded, "phases")
}

func TestWriteAnalysisResult_Text(t *testing.T) {
	res := &pipeline.Result{
		Analysis: &model.Analysis{ID: "a4", Status: model.AnalysisCompleted, Score: model.ScoreVert},
		Phases: []model.PhaseResult{
			{Name: "1_download", Status: model.PhaseStatusComplete, Duration: 12},
			{Name: "2_extract", Status: model.PhaseStatusFailed, Duration: 40, Error: "ocr down"},
		},
	}

	var buf bytes.Buffer
	writeAnalysisResult(&buf, res, false)

	out := buf.String()
	assert.Contains(t, out, "Analyse a4 (completed)")
	assert.Contains(t, out, "1_download")
	assert.Contains(t, out, "ocr down")
}

func TestFormatPriceLine(t *testing.T) {
	var buf bytes.Buffer
	formatPriceLine(&buf, model.MarketPriceLine{
		JobType: "peinture", Zone: model.ZoneGrandeVille, Coefficient: 1.15, Unit: "m2",
		Min: 23, Avg: 35, Max: 52, SampleSize: 184, Available: true,
		DeclaredUnitPrice: 30, Position: model.PositionWithin,
	})
	out := buf.String()
	assert.Contains(t, out, "peinture")
	assert.Contains(t, out, "grande_ville")
	assert.Contains(t, out, "184")
	assert.Contains(t, out, "within")

	buf.Reset()
	formatPriceLine(&buf, model.MarketPriceLine{JobType: "autres", UnavailableReason: "no_reference"})
	assert.Contains(t, buf.String(), "prix indisponible (no_reference)")
}

func TestParseStrategicItems(t *testing.T) {
	items, err := parseStrategicItems([]string{"isolation:8000", " pompe_a_chaleur : 12000,50 "})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.StrategicItem{JobType: "isolation", AmountHT: 8000}, items[0])
	assert.Equal(t, "pompe_a_chaleur", items[1].JobType)
	assert.InDelta(t, 12000.5, items[1].AmountHT, 1e-9)

	tests := []struct {
		name string
		raw  []string
	}{
		{"empty", nil},
		{"no separator", []string{"isolation"}},
		{"no job", []string{":100"}},
		{"bad amount", []string{"isolation:abc"}},
		{"negative", []string{"isolation:-5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseStrategicItems(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestUploadPath(t *testing.T) {
	assert.Equal(t, "devis/id1/devis.pdf", uploadPath("devis", "id1", "/tmp/x/devis.pdf"))
	assert.Equal(t, "id1/scan.jpg", uploadPath("", "id1", "scan.jpg"))
}
