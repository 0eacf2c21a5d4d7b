// Package api exposes the analysis pipeline and its lookups over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/market"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/pipeline"
	"github.com/verifdevis/devis-cli/internal/resilience"
)

// Analyzer runs one analysis to a terminal state.
type Analyzer interface {
	Run(ctx context.Context, id string) (*pipeline.Result, error)
}

// AnalysisReader loads persisted analyses.
type AnalysisReader interface {
	GetAnalysis(ctx context.Context, id string) (*model.Analysis, error)
	Ping(ctx context.Context) error
}

// Router serves the HTTP API.
type Router struct {
	analyzer Analyzer
	resolver *market.Resolver
	analyses AnalysisReader
	breakers *resilience.Breakers
	validate *validator.Validate
}

// Option configures a Router.
type Option func(*Router)

// WithAnalyses enables GET /analyses/{id} and the store health check.
func WithAnalyses(r AnalysisReader) Option { return func(rt *Router) { rt.analyses = r } }

// WithBreakers reports circuit breaker states on /health.
func WithBreakers(b *resilience.Breakers) Option { return func(rt *Router) { rt.breakers = b } }

// NewRouter builds the HTTP handler.
func NewRouter(cfg config.ServerConfig, analyzer Analyzer, resolver *market.Resolver, opts ...Option) http.Handler {
	rt := &Router{
		analyzer: analyzer,
		resolver: resolver,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(rt)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "apikey", "x-client-info"},
		MaxAge:         300,
	}))

	mux.Get("/health", rt.handleHealth)
	mux.Post("/analyze", rt.wrap(rt.handleAnalyze))
	mux.Get("/analyses/{id}", rt.wrap(rt.handleGetAnalysis))
	mux.Post("/market-price", rt.wrap(rt.handleMarketPrice))
	mux.Post("/strategic-score", rt.wrap(rt.handleStrategicScore))
	mux.Get("/zones/{postalCode}", rt.wrap(rt.handleZone))
	mux.Get("/job-types", rt.wrap(rt.handleJobTypes))

	return mux
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
