// Package pipeline runs the quote analysis for one analysis record:
// download, extraction, verification and market resolution, scoring and
// rendering.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/llm"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/ocr"
	"github.com/verifdevis/devis-cli/internal/render"
	"github.com/verifdevis/devis-cli/internal/scorer"
	"github.com/verifdevis/devis-cli/internal/storage"
	"github.com/verifdevis/devis-cli/internal/store"
)

// DocumentExtractor turns an uploaded document into structured quote data.
type DocumentExtractor interface {
	Extract(ctx context.Context, doc ocr.Document) (*model.ExtractedData, error)
}

// CompanyVerifier checks the issuing company against external registries.
type CompanyVerifier interface {
	Verify(ctx context.Context, ed *model.ExtractedData) (*model.VerificationResult, error)
}

// PriceResolver positions the quote's line items against market bands.
type PriceResolver interface {
	ResolveQuote(ctx context.Context, ed *model.ExtractedData) *model.MarketAssessment
}

const (
	defaultTimeout = 120 * time.Second
	// failWriteTimeout bounds the error write issued after the run context
	// has expired.
	failWriteTimeout = 5 * time.Second
)

// ErrTimeout is the cause recorded when a run exceeds its budget.
var ErrTimeout = eris.New("pipeline: analysis timed out")

// Result is the outcome of one run.
type Result struct {
	Analysis  *model.Analysis       `json:"analysis"`
	Strategic *model.StrategicScore `json:"strategic,omitempty"`
	Phases    []model.PhaseResult   `json:"phases"`
}

// Analyzer orchestrates the analysis stages. It keeps no per-run state and
// is safe for concurrent use.
type Analyzer struct {
	store     store.Store
	files     storage.Storage
	extractor DocumentExtractor
	verifier  CompanyVerifier
	market    PriceResolver
	scorer    *scorer.Scorer
	narrator  llm.Completer
	timeout   time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithNarrator enables the LLM-written summary.
func WithNarrator(c llm.Completer) Option { return func(a *Analyzer) { a.narrator = c } }

// New creates an Analyzer with all dependencies.
func New(
	cfg config.PipelineConfig,
	st store.Store,
	files storage.Storage,
	extractor DocumentExtractor,
	verifier CompanyVerifier,
	market PriceResolver,
	sc *scorer.Scorer,
	opts ...Option,
) *Analyzer {
	a := &Analyzer{
		store:     st,
		files:     files,
		extractor: extractor,
		verifier:  verifier,
		market:    market,
		scorer:    sc,
		timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run analyzes the record identified by id and leaves it in a terminal
// state. The returned analysis is the persisted record, completed or
// failed; the error is classified with a model.Error kind.
func (a *Analyzer) Run(ctx context.Context, id string) (*Result, error) {
	log := zap.L().With(zap.String("analysis_id", id))
	start := time.Now()

	runCtx, cancel := context.WithTimeoutCause(ctx, a.timeout, ErrTimeout)
	defer cancel()

	rec, err := a.store.StartAnalysis(runCtx, id)
	if err != nil {
		if model.IsNotFound(err) || model.IsConflict(err) {
			return nil, err
		}
		return nil, model.PersistenceError(eris.Wrap(err, "pipeline: start analysis"))
	}
	log.Info("pipeline: starting analysis", zap.String("file", rec.FilePath))

	res := &Result{Analysis: rec}
	report, err := a.analyze(runCtx, rec, res, log)
	if err == nil {
		if err = a.store.CompleteAnalysis(runCtx, id, report); err != nil {
			err = model.PersistenceError(eris.Wrap(err, "pipeline: complete analysis"))
		}
	}
	if err != nil {
		err = classify(runCtx, err)
		a.fail(ctx, rec, err, log)
		return res, err
	}

	rec.Apply(report)
	log.Info("pipeline: analysis complete",
		zap.String("score", string(report.Score)),
		zap.Int("alertes", len(report.Alertes)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, rec *model.Analysis, res *Result, log *zap.Logger) (*model.AnalysisReport, error) {
	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (map[string]any, error)) error {
		start := time.Now()
		meta, fnErr := fn()
		pr := model.PhaseResult{
			Name:     name,
			Status:   model.PhaseStatusComplete,
			Duration: time.Since(start).Milliseconds(),
			Metadata: meta,
		}
		if fnErr != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
			)
		}
		phasesMu.Lock()
		res.Phases = append(res.Phases, pr)
		phasesMu.Unlock()
		return fnErr
	}

	// ===== Phase 1: Download =====
	var doc ocr.Document
	err := trackPhase("1_download", func() (map[string]any, error) {
		obj, dlErr := a.files.Download(ctx, rec.FilePath)
		if dlErr != nil {
			return nil, dlErr
		}
		doc = obj.Document(rec.MimeType)
		if rec.FileName != "" {
			doc.Name = rec.FileName
		}
		return map[string]any{"bytes": len(doc.Data), "mime": doc.MimeType}, nil
	})
	if err != nil {
		return nil, err
	}

	// ===== Phase 2: Extraction =====
	var ed *model.ExtractedData
	err = trackPhase("2_extract", func() (map[string]any, error) {
		out, exErr := a.extractor.Extract(ctx, doc)
		if exErr != nil {
			return nil, exErr
		}
		ed = out
		return map[string]any{
			"source":        out.Source,
			"document_type": string(out.DocumentType),
			"line_items":    len(out.LineItems),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// ===== Phase 3: Verification and market (in parallel) =====
	var (
		verification *model.VerificationResult
		market       *model.MarketAssessment
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trackPhase("3a_verify", func() (map[string]any, error) {
			v, vErr := a.verifier.Verify(gCtx, ed)
			if vErr != nil {
				return nil, vErr
			}
			verification = v
			return map[string]any{
				"siren":    v.Siren,
				"status":   string(v.Status),
				"degraded": v.Degraded,
			}, nil
		})
	})
	g.Go(func() error {
		return trackPhase("3b_market", func() (map[string]any, error) {
			market = a.market.ResolveQuote(gCtx, ed)
			return map[string]any{
				"zone":  string(market.Zone.Zone),
				"lines": len(market.Lines),
			}, nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// ===== Phase 4: Scoring =====
	var scoring *model.ScoringResult
	_ = trackPhase("4_score", func() (map[string]any, error) {
		scoring = a.scorer.Score(scorer.Input{Extracted: ed, Verification: verification, Market: market})
		res.Strategic = scoring.Strategic
		return map[string]any{"score": string(scoring.Score), "alertes": len(scoring.Alertes)}, nil
	})

	in := render.Input{Extracted: ed, Verification: verification, Market: market, Scoring: scoring}

	// ===== Phase 5: Narrative (optional) =====
	if a.narrator != nil {
		_ = trackPhase("5_narrative", func() (map[string]any, error) {
			text, nErr := render.Narrate(ctx, a.narrator, in)
			if nErr != nil {
				// The template summary is used instead.
				log.Warn("pipeline: narrative failed", zap.Error(nErr))
				return map[string]any{"fallback": true}, nil
			}
			in.Narrative = text
			return map[string]any{"fallback": false}, nil
		})
	}

	// ===== Phase 6: Render =====
	var report *model.AnalysisReport
	_ = trackPhase("6_render", func() (map[string]any, error) {
		report = render.Render(in)
		return nil, nil
	})
	return report, nil
}

// fail records the failure on the analysis. The write uses a fresh budget so
// that a timed-out run still reaches the error state.
func (a *Analyzer) fail(ctx context.Context, rec *model.Analysis, err error, log *zap.Logger) {
	msg := model.UserMessage(err)
	rec.Status = model.AnalysisError
	rec.ErrorMessage = msg

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()
	if ferr := a.store.FailAnalysis(writeCtx, rec.ID, msg); ferr != nil {
		log.Error("pipeline: failed to record error status", zap.Error(ferr))
	}
	log.Warn("pipeline: analysis failed",
		zap.String("kind", string(model.KindOf(err))),
		zap.String("message", msg),
		zap.Error(err),
	)
}

// classify gives unclassified failures a kind and a French message.
func classify(ctx context.Context, err error) error {
	if eris.Is(context.Cause(ctx), ErrTimeout) {
		return model.UpstreamError("L'analyse a dépassé le délai imparti, veuillez réessayer.", err)
	}
	if _, ok := model.AsError(err); ok {
		return err
	}
	if eris.Is(err, context.Canceled) {
		return model.NewError(model.KindInternal, "L'analyse a été interrompue.", err)
	}
	return model.NewError(model.KindInternal, model.DefaultUserMessage, err)
}
