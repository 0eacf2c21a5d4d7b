package model

import (
	"encoding/json"
	"time"
)

// AnalysisStatus is the lifecycle state of an analysis record.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisError      AnalysisStatus = "error"
)

// Terminal reports whether no further transition is expected.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisError
}

// Analysis is the persisted record of one quote analysis.
type Analysis struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id,omitempty"`
	FilePath              string          `json:"file_path"`
	FileName              string          `json:"file_name,omitempty"`
	MimeType              string          `json:"mime_type,omitempty"`
	Status                AnalysisStatus  `json:"status"`
	Score                 Score           `json:"score,omitempty"`
	Resume                string          `json:"resume,omitempty"`
	Banner                string          `json:"banner,omitempty"`
	PointsOK              []string        `json:"points_ok"`
	Alertes               []string        `json:"alertes"`
	Recommandations       []string        `json:"recommandations"`
	RawText               string          `json:"raw_text,omitempty"`
	SiteContext           json.RawMessage `json:"site_context,omitempty"`
	AttestationComparison json.RawMessage `json:"attestation_comparison,omitempty"`
	AssuranceLevel2Score  string          `json:"assurance_level2_score,omitempty"`
	ErrorMessage          string          `json:"error_message,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// AnalysisReport is the Renderer output written to a completed analysis.
type AnalysisReport struct {
	Score                 Score           `json:"score"`
	Resume                string          `json:"resume"`
	Banner                string          `json:"banner,omitempty"`
	PointsOK              []string        `json:"points_ok"`
	Alertes               []string        `json:"alertes"`
	Recommandations       []string        `json:"recommandations"`
	RawText               string          `json:"raw_text"`
	SiteContext           json.RawMessage `json:"site_context,omitempty"`
	AttestationComparison json.RawMessage `json:"attestation_comparison,omitempty"`
	AssuranceLevel2Score  string          `json:"assurance_level2_score,omitempty"`
}

// Reset drops the previous run's verdict and marks the analysis processing.
func (a *Analysis) Reset(now time.Time) {
	a.Apply(&AnalysisReport{PointsOK: []string{}, Alertes: []string{}, Recommandations: []string{}})
	a.Status = AnalysisProcessing
	a.UpdatedAt = now
}

// Apply copies a report onto the analysis and marks it completed.
func (a *Analysis) Apply(r *AnalysisReport) {
	a.Status = AnalysisCompleted
	a.Score = r.Score
	a.Resume = r.Resume
	a.Banner = r.Banner
	a.PointsOK = r.PointsOK
	a.Alertes = r.Alertes
	a.Recommandations = r.Recommandations
	a.RawText = r.RawText
	a.SiteContext = r.SiteContext
	a.AttestationComparison = r.AttestationComparison
	a.AssuranceLevel2Score = r.AssuranceLevel2Score
	a.ErrorMessage = ""
}
