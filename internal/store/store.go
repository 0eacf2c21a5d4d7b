// Package store persists analysis records and the company cache table.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/model"
)

// AnalysisFilter specifies criteria for listing analyses.
type AnalysisFilter struct {
	Status model.AnalysisStatus `json:"status,omitempty"`
	UserID string               `json:"user_id,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for quote analyses.
type Store interface {
	// Analyses
	CreateAnalysis(ctx context.Context, a model.Analysis) (*model.Analysis, error)
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	// StartAnalysis locks the analysis, clears any previous verdict and
	// moves it to processing. A record still inside its processing lease
	// is rejected with a conflict error.
	StartAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	CompleteAnalysis(ctx context.Context, id string, r *model.AnalysisReport) error
	FailAnalysis(ctx context.Context, id string, message string) error
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error)

	// Company cache
	GetCache(ctx context.Context, key string) ([]byte, error)
	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteExpiredCache(ctx context.Context) (int, error)
	PurgeCache(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// processingLease bounds how long a processing record blocks a new run.
// Older processing records belong to a crashed run and may be restarted.
const processingLease = 15 * time.Minute

// resetResultColumns clears every column a completed run writes.
const resetResultColumns = `score = NULL, resume = NULL, banner = NULL,
	points_ok = '[]', alertes = '[]', recommandations = '[]', raw_text = NULL,
	site_context = NULL, attestation_comparison = NULL, assurance_level2_score = NULL`

func inProcessingLease(a *model.Analysis, now time.Time) bool {
	return a.Status == model.AnalysisProcessing && now.Sub(a.UpdatedAt) < processingLease
}

// analysisColumns is the select list shared by every analysis query.
// Nullable text columns are coalesced so they scan into plain strings.
const analysisColumns = `id, COALESCE(user_id, ''), file_path, COALESCE(file_name, ''), COALESCE(mime_type, ''),
	status, COALESCE(score, ''), COALESCE(resume, ''), COALESCE(banner, ''),
	points_ok, alertes, recommandations, COALESCE(raw_text, ''),
	site_context, attestation_comparison, COALESCE(assurance_level2_score, ''), COALESCE(error_message, ''),
	created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

// scanAnalysis reads one row selected with analysisColumns. JSON columns
// arrive as raw bytes from both drivers.
func scanAnalysis(row scannable) (*model.Analysis, error) {
	var (
		a                                  model.Analysis
		status, score                      string
		pointsOK, alertes, recos           []byte
		siteContext, attestationComparison []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.FilePath, &a.FileName, &a.MimeType,
		&status, &score, &a.Resume, &a.Banner,
		&pointsOK, &alertes, &recos, &a.RawText,
		&siteContext, &attestationComparison, &a.AssuranceLevel2Score, &a.ErrorMessage,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = model.AnalysisStatus(status)
	a.Score = model.Score(score)
	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{{pointsOK, &a.PointsOK}, {alertes, &a.Alertes}, {recos, &a.Recommandations}} {
		*f.dst = []string{}
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, eris.Wrap(err, "store: decode list")
		}
	}
	if len(siteContext) > 0 {
		a.SiteContext = siteContext
	}
	if len(attestationComparison) > 0 {
		a.AttestationComparison = attestationComparison
	}
	return &a, nil
}

// listJSON encodes a message list, never as null.
func listJSON(s []string) string {
	if s == nil {
		s = []string{}
	}
	raw, _ := json.Marshal(s)
	return string(raw)
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
