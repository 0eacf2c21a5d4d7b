// Package monitoring watches analysis outcomes and upstream breakers and
// posts alerts to a webhook when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/resilience"
	"github.com/verifdevis/devis-cli/internal/store"
)

const maxScanned = 10000

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Analyses created within the lookback window.
	AnalysesTotal      int                 `json:"analyses_total"`
	AnalysesCompleted  int                 `json:"analyses_completed"`
	AnalysesFailed     int                 `json:"analyses_failed"`
	AnalysesPending    int                 `json:"analyses_pending"`
	AnalysesProcessing int                 `json:"analyses_processing"`
	FailRate           float64             `json:"fail_rate"`
	Scores             map[model.Score]int `json:"scores"`

	// Analyses left in processing longer than the stuck threshold.
	Stuck []string `json:"stuck,omitempty"`

	// Breakers that are not closed, by source name.
	OpenBreakers map[string]string `json:"open_breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// AnalysisLister is the store subset read by the collector.
type AnalysisLister interface {
	ListAnalyses(ctx context.Context, filter store.AnalysisFilter) ([]model.Analysis, error)
}

// BreakerStates reports circuit breaker states by name.
type BreakerStates interface {
	States() map[string]string
}

// Collector gathers metrics from the store and the breaker registry.
type Collector struct {
	analyses   AnalysisLister
	breakers   BreakerStates
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(analyses AnalysisLister, breakers BreakerStates, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	return &Collector{analyses: analyses, breakers: breakers, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Scores:        map[model.Score]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Newest first; stop at the cutoff.
	list, err := c.analyses.ListAnalyses(ctx, store.AnalysisFilter{Limit: maxScanned})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list analyses")
	}

	for _, a := range list {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		snap.AnalysesTotal++
		switch a.Status {
		case model.AnalysisCompleted:
			snap.AnalysesCompleted++
			if a.Score != "" {
				snap.Scores[a.Score]++
			}
		case model.AnalysisError:
			snap.AnalysesFailed++
		case model.AnalysisPending:
			snap.AnalysesPending++
		case model.AnalysisProcessing:
			snap.AnalysesProcessing++
			if now.Sub(a.UpdatedAt) > c.stuckAfter {
				snap.Stuck = append(snap.Stuck, a.ID)
			}
		}
	}

	if finished := snap.AnalysesCompleted + snap.AnalysesFailed; finished > 0 {
		snap.FailRate = float64(snap.AnalysesFailed) / float64(finished)
	}

	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			if state == resilience.CircuitClosed.String() {
				continue
			}
			if snap.OpenBreakers == nil {
				snap.OpenBreakers = map[string]string{}
			}
			snap.OpenBreakers[name] = state
		}
	}

	return snap, nil
}
