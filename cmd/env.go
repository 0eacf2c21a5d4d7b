package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/cache"
	"github.com/verifdevis/devis-cli/internal/extract"
	"github.com/verifdevis/devis-cli/internal/llm"
	"github.com/verifdevis/devis-cli/internal/market"
	"github.com/verifdevis/devis-cli/internal/ocr"
	"github.com/verifdevis/devis-cli/internal/pipeline"
	"github.com/verifdevis/devis-cli/internal/resilience"
	"github.com/verifdevis/devis-cli/internal/scorer"
	"github.com/verifdevis/devis-cli/internal/storage"
	"github.com/verifdevis/devis-cli/internal/store"
	"github.com/verifdevis/devis-cli/internal/verify"
	"github.com/verifdevis/devis-cli/pkg/bodacc"
	"github.com/verifdevis/devis-cli/pkg/dvf"
	"github.com/verifdevis/devis-cli/pkg/entreprises"
	"github.com/verifdevis/devis-cli/pkg/geocode"
	"github.com/verifdevis/devis-cli/pkg/iban"
)

// analysisEnv holds the store, clients and the analyzer needed by the
// analyze and serve commands.
type analysisEnv struct {
	Store    store.Store
	Files    storage.Storage
	Cache    cache.Cache
	Resolver *market.Resolver
	Breakers *resilience.Breakers
	Analyzer *pipeline.Analyzer
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if r, ok := e.Cache.(*cache.Redis); ok {
		_ = r.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured database.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "devis.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("postgres store requires store.database_url")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initResolver loads the zone and reference tables and attaches the
// optional property-price and geocoding clients.
func initResolver() (*market.Resolver, error) {
	zones, err := market.LoadZones(cfg.Market.ZonesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load zones")
	}
	refs, err := market.LoadReferences(cfg.Market.ReferencesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load price references")
	}

	opts := []market.Option{market.WithGeocoder(newGeocoder())}
	if cfg.DVF.URL != "" {
		timeout := time.Duration(cfg.DVF.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		opts = append(opts, market.WithDVF(dvf.NewClient(cfg.DVF.URL,
			dvf.WithAPIKey(cfg.DVF.Key),
			dvf.WithHTTPClient(&http.Client{Timeout: timeout}),
		)))
		zap.L().Info("dvf market prices enabled")
	} else {
		zap.L().Debug("dvf.url not set, property context disabled")
	}
	return market.NewResolver(zones, refs, cfg.Market, opts...), nil
}

func newGeocoder() geocode.Client {
	return geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithRateLimit(cfg.Geocode.RateLimit),
	)
}

// initAnalysis sets up the store, file storage, clients and the Analyzer.
// Callers should defer env.Close().
func initAnalysis(ctx context.Context, mode string) (*analysisEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &analysisEnv{Store: st}

	fail := func(err error, msg string) (*analysisEnv, error) {
		env.Close()
		return nil, eris.Wrap(err, msg)
	}

	env.Files, err = storage.New(ctx, cfg.Storage)
	if err != nil {
		return fail(err, "init file storage")
	}
	env.Cache, err = cache.New(cfg.Cache, st)
	if err != nil {
		return fail(err, "init company cache")
	}

	ocrExtractor, err := ocr.NewExtractor(cfg)
	if err != nil {
		return fail(err, "init ocr")
	}

	var completer llm.Completer
	if cfg.Extract.UseLLM || cfg.LLM.Narrative {
		completer, err = llm.New(cfg)
		if err != nil {
			return fail(err, "init llm")
		}
	}

	extractOpts := []extract.Option{extract.WithPageCounter(ocr.PageCount)}
	if cfg.Extract.UseLLM {
		extractOpts = append(extractOpts, extract.WithLLM(completer))
	}
	extractor := extract.New(ocrExtractor, cfg.Extract, extractOpts...)

	env.Breakers = resilience.NewBreakers(resilience.BreakerConfigFrom(
		cfg.Verify.BreakerFailureThreshold, cfg.Verify.BreakerResetSecs))

	geocoder := newGeocoder()
	verifyOpts := []verify.Option{
		verify.WithGeocoder(geocoder),
		verify.WithCache(env.Cache),
		verify.WithBreakers(env.Breakers),
	}
	if cfg.IBAN.Enabled {
		verifyOpts = append(verifyOpts, verify.WithBank(iban.NewClient(iban.WithBaseURL(cfg.IBAN.BaseURL))))
	}
	verifier := verify.New(cfg.Verify,
		entreprises.NewClient(
			entreprises.WithBaseURL(cfg.Registry.BaseURL),
			entreprises.WithRateLimit(cfg.Registry.RateLimit),
		),
		bodacc.NewClient(
			bodacc.WithBaseURL(cfg.Bodacc.BaseURL),
			bodacc.WithRateLimit(cfg.Bodacc.RateLimit),
		),
		verifyOpts...,
	)

	env.Resolver, err = initResolver()
	if err != nil {
		return fail(err, "init market resolver")
	}

	if err := scorer.ValidateConfig(cfg.Scorer); err != nil {
		return fail(err, "scorer config")
	}

	var pipeOpts []pipeline.Option
	if cfg.LLM.Narrative {
		pipeOpts = append(pipeOpts, pipeline.WithNarrator(completer))
	}
	env.Analyzer = pipeline.New(cfg.Pipeline, st, env.Files, extractor, verifier, env.Resolver,
		scorer.New(cfg.Scorer), pipeOpts...)

	zap.L().Info("analysis environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("ocr", cfg.OCR.Provider),
		zap.Bool("llm_structuring", cfg.Extract.UseLLM),
		zap.Bool("narrative", cfg.LLM.Narrative),
	)
	return env, nil
}
