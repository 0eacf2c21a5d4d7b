package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Mistral    MistralConfig    `yaml:"mistral" mapstructure:"mistral"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Bodacc     BodaccConfig     `yaml:"bodacc" mapstructure:"bodacc"`
	IBAN       IBANConfig       `yaml:"iban" mapstructure:"iban"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	DVF        DVFConfig        `yaml:"dvf" mapstructure:"dvf"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Market     MarketConfig     `yaml:"market" mapstructure:"market"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// StorageConfig configures where uploaded quotes are read from.
type StorageConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	LocalDir  string `yaml:"local_dir" mapstructure:"local_dir"`
}

// CacheConfig configures the company verification cache.
type CacheConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	Prefix        string `yaml:"prefix" mapstructure:"prefix"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LLMConfig selects the provider used for structuring and narratives.
type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	Narrative bool   `yaml:"narrative" mapstructure:"narrative"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MistralConfig holds Mistral OCR credentials.
type MistralConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// RegistryConfig configures the company registry search API.
type RegistryConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BodaccConfig configures the collective-procedure announcements API.
type BodaccConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// IBANConfig configures the optional remote bank lookup.
type IBANConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GeocodeConfig configures the national address geocoder.
type GeocodeConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// DVFConfig configures the market-price query interface. An empty URL
// disables the property context.
type DVFConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExtractConfig configures the document extractor.
type ExtractConfig struct {
	MaxBytes      int64 `yaml:"max_bytes" mapstructure:"max_bytes"`
	MaxPages      int   `yaml:"max_pages" mapstructure:"max_pages"`
	MinTextLength int   `yaml:"min_text_length" mapstructure:"min_text_length"`
	UseLLM        bool  `yaml:"use_llm" mapstructure:"use_llm"`
}

// VerifyConfig configures the company verifier.
type VerifyConfig struct {
	SourceTimeoutSecs       int     `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	CacheTTLDays            int     `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	NameMatchThreshold      float64 `yaml:"name_match_threshold" mapstructure:"name_match_threshold"`
}

// MarketConfig configures the market price resolver.
type MarketConfig struct {
	ReferencesPath string  `yaml:"references_path" mapstructure:"references_path"`
	ZonesPath      string  `yaml:"zones_path" mapstructure:"zones_path"`
	MinSampleSize  int     `yaml:"min_sample_size" mapstructure:"min_sample_size"`
	FarAboveRatio  float64 `yaml:"far_above_ratio" mapstructure:"far_above_ratio"`
	TypeBien       string  `yaml:"type_bien" mapstructure:"type_bien"`
}

// ScorerConfig holds the scoring thresholds.
type ScorerConfig struct {
	TotalsTolerancePct float64   `yaml:"totals_tolerance_pct" mapstructure:"totals_tolerance_pct"`
	TotalsToleranceAbs float64   `yaml:"totals_tolerance_abs" mapstructure:"totals_tolerance_abs"`
	DepositWarningPct  float64   `yaml:"deposit_warning_pct" mapstructure:"deposit_warning_pct"`
	DepositCriticalPct float64   `yaml:"deposit_critical_pct" mapstructure:"deposit_critical_pct"`
	YoungCompanyYears  float64   `yaml:"young_company_years" mapstructure:"young_company_years"`
	VATRates           []float64 `yaml:"vat_rates" mapstructure:"vat_rates"`
}

// PipelineConfig configures the analysis run.
type PipelineConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background alert checker of the server.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEVIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// envOnlyKeys have no default, so AutomaticEnv alone would not surface them
// through Unmarshal.
var envOnlyKeys = []string{
	"store.database_url",
	"storage.endpoint", "storage.access_key", "storage.secret_key",
	"cache.redis_password", "cache.redis_db",
	"anthropic.key", "openai.key", "openai.base_url", "mistral.key",
	"dvf.url", "dvf.key",
	"market.references_path", "market.zones_path",
	"monitoring.webhook_url",
}

func bindEnv(v *viper.Viper) {
	for _, k := range envOnlyKeys {
		_ = v.BindEnv(k)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.bucket", "devis")
	v.SetDefault("storage.region", "eu-west-3")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.local_dir", "uploads")
	v.SetDefault("cache.driver", "store")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.prefix", "devis:")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.timeout_secs", 60)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.narrative", false)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("registry.base_url", "https://recherche-entreprises.api.gouv.fr")
	v.SetDefault("registry.rate_limit", 7)
	v.SetDefault("bodacc.base_url", "https://bodacc-datadila.opendatasoft.com/api/explore/v2.1")
	v.SetDefault("bodacc.rate_limit", 5)
	v.SetDefault("iban.enabled", false)
	v.SetDefault("iban.base_url", "https://openiban.com")
	v.SetDefault("geocode.base_url", "https://api-adresse.data.gouv.fr")
	v.SetDefault("geocode.rate_limit", 40)
	v.SetDefault("dvf.timeout_secs", 8)
	v.SetDefault("extract.max_bytes", 10*1024*1024)
	v.SetDefault("extract.max_pages", 30)
	v.SetDefault("extract.min_text_length", 100)
	v.SetDefault("extract.use_llm", false)
	v.SetDefault("verify.source_timeout_secs", 5)
	v.SetDefault("verify.cache_ttl_days", 30)
	v.SetDefault("verify.breaker_failure_threshold", 5)
	v.SetDefault("verify.breaker_reset_secs", 60)
	v.SetDefault("verify.name_match_threshold", 0.5)
	v.SetDefault("market.min_sample_size", 5)
	v.SetDefault("market.far_above_ratio", 2.0)
	v.SetDefault("market.type_bien", "maison")
	v.SetDefault("scorer.totals_tolerance_pct", 1.0)
	v.SetDefault("scorer.totals_tolerance_abs", 1.0)
	v.SetDefault("scorer.deposit_warning_pct", 30.0)
	v.SetDefault("scorer.deposit_critical_pct", 50.0)
	v.SetDefault("scorer.young_company_years", 2.0)
	v.SetDefault("scorer.vat_rates", []float64{0, 5.5, 10, 20})
	v.SetDefault("pipeline.timeout_secs", 120)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.stuck_after_mins", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the settings required by a command are present.
// Mode is one of "serve", "analyze" or "lookup".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "analyze":
		errs = append(errs, c.validateRuntime()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "lookup":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.TimeoutSecs <= 0 {
		errs = append(errs, "pipeline.timeout_secs must be > 0")
	}
	if c.Verify.SourceTimeoutSecs <= 0 {
		errs = append(errs, "verify.source_timeout_secs must be > 0")
	}
	if c.Verify.SourceTimeoutSecs >= c.Pipeline.TimeoutSecs && c.Pipeline.TimeoutSecs > 0 {
		errs = append(errs, "verify.source_timeout_secs must be below pipeline.timeout_secs")
	}
	if c.Scorer.DepositWarningPct > c.Scorer.DepositCriticalPct {
		errs = append(errs, "scorer.deposit_warning_pct must be <= scorer.deposit_critical_pct")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRuntime() []string {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (DEVIS_STORE_DATABASE_URL)")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch c.Storage.Driver {
	case "minio":
		if c.Storage.Endpoint == "" {
			errs = append(errs, "storage.endpoint is required (DEVIS_STORAGE_ENDPOINT)")
		}
		if c.Storage.Bucket == "" {
			errs = append(errs, "storage.bucket is required (DEVIS_STORAGE_BUCKET)")
		}
	case "local":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}

	switch c.OCR.Provider {
	case "mistral":
		if c.Mistral.Key == "" {
			errs = append(errs, "mistral.key is required for ocr.provider=mistral")
		}
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required for ocr.provider=anthropic")
		}
	}

	if c.Extract.UseLLM || c.LLM.Narrative {
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required for llm.provider=anthropic")
			}
		case "openai":
			if c.OpenAI.Key == "" {
				errs = append(errs, "openai.key is required for llm.provider=openai")
			}
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
		}
	}

	if c.Cache.Driver == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redis_addr is required for cache.driver=redis")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
