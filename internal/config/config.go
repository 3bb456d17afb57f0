// Package config loads and validates research pipeline configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/web-research-pipeline/internal/deeplink"
	"github.com/JakeFAU/web-research-pipeline/internal/dispatcher"
	"github.com/JakeFAU/web-research-pipeline/internal/extract"
	"github.com/JakeFAU/web-research-pipeline/internal/logging"
	"github.com/JakeFAU/web-research-pipeline/internal/pipeline"
	"github.com/JakeFAU/web-research-pipeline/internal/progress"
	"github.com/JakeFAU/web-research-pipeline/internal/retry"
	"github.com/JakeFAU/web-research-pipeline/internal/score"
	"github.com/JakeFAU/web-research-pipeline/internal/search"
	"github.com/JakeFAU/web-research-pipeline/internal/snapshot"
	"github.com/JakeFAU/web-research-pipeline/internal/storage/gcs"
	"github.com/JakeFAU/web-research-pipeline/internal/storage/local"
	"github.com/JakeFAU/web-research-pipeline/internal/telemetry"
	"github.com/JakeFAU/web-research-pipeline/internal/validate"
	"github.com/JakeFAU/web-research-pipeline/internal/virality"
)

// EnvPrefix prefixes every environment override, e.g. RESEARCH_HTTP_TIMEOUT_SECONDS.
const EnvPrefix = "RESEARCH"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     logging.Config              `mapstructure:"logging"`
	Run         pipeline.Config             `mapstructure:"run"`
	Search      SearchConfig                `mapstructure:"search"`
	HTTP        HTTPConfig                  `mapstructure:"http"`
	Extraction  ExtractionConfig            `mapstructure:"extraction"`
	Validation  validate.Config             `mapstructure:"validation"`
	Scoring     score.Config                `mapstructure:"scoring"`
	DeepLink    deeplink.Config             `mapstructure:"deeplink"`
	Virality    map[string]virality.Weights `mapstructure:"virality"`
	Snapshot    snapshot.Config             `mapstructure:"snapshot"`
	Headless    HeadlessConfig              `mapstructure:"headless"`
	Storage     StorageConfig               `mapstructure:"storage"`
	Publisher   PublisherConfig             `mapstructure:"publisher"`
	Dedup       DedupConfig                 `mapstructure:"dedup"`
	Progress    progress.Config             `mapstructure:"progress"`
	Metrics     MetricsConfig               `mapstructure:"metrics"`
	Tracing     telemetry.Config            `mapstructure:"tracing"`
	Credentials map[string][]string         `mapstructure:"credentials"`
}

// SearchConfig configures the fanout and its providers.
type SearchConfig struct {
	search.Config `mapstructure:",squash"`

	Providers         []ProviderConfig `mapstructure:"providers"`
	FeedTemplates     []string         `mapstructure:"feed_templates"`
	GoogleEngineID    string           `mapstructure:"google_engine_id"`
	ExaIncludeDomains []string         `mapstructure:"exa_include_domains"`
}

// ProviderConfig describes one search provider.
type ProviderConfig struct {
	ID                 string        `mapstructure:"id"`
	Kind               string        `mapstructure:"kind"`
	Endpoint           string        `mapstructure:"endpoint"`
	Priority           int           `mapstructure:"priority"`
	RateLimitPerMinute float64       `mapstructure:"rate_limit_per_minute"`
	TimeoutClass       string        `mapstructure:"timeout_class"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Disabled           bool          `mapstructure:"disabled"`
}

// Provider kinds.
const (
	KindWeb   = "web"
	KindVideo = "video"
)

// KnownProviders lists the provider IDs the application can build.
var KnownProviders = []string{"serper", "exa", "tavily", "google", "jina", "feed", "youtube"}

// DefaultProviders is the stock catalogue in priority order.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: "serper", Kind: KindWeb, Priority: 1, RateLimitPerMinute: 100, TimeoutClass: string(search.TimeoutFast)},
		{ID: "exa", Kind: KindWeb, Priority: 2, RateLimitPerMinute: 100, TimeoutClass: string(search.TimeoutStandard)},
		{ID: "tavily", Kind: KindWeb, Priority: 3, RateLimitPerMinute: 100, TimeoutClass: string(search.TimeoutStandard)},
		{ID: "google", Kind: KindWeb, Priority: 4, RateLimitPerMinute: 100, TimeoutClass: string(search.TimeoutFast)},
		{ID: "jina", Kind: KindWeb, Priority: 5, RateLimitPerMinute: 200, TimeoutClass: string(search.TimeoutCrawl)},
		{ID: "feed", Kind: KindWeb, Priority: 6, TimeoutClass: string(search.TimeoutStandard)},
		{ID: "youtube", Kind: KindVideo, Priority: 1, RateLimitPerMinute: 100, TimeoutClass: string(search.TimeoutStandard)},
	}
}

// HTTPConfig configures the document fetcher and provider clients.
type HTTPConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	AcceptLanguage   string  `mapstructure:"accept_language"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRedirects     int     `mapstructure:"max_redirects"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	TLSProfile       string  `mapstructure:"tls_profile"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	PerHostRPS       float64 `mapstructure:"per_host_rps"`
	PerHostBurst     int     `mapstructure:"per_host_burst"`
}

// ExtractionConfig configures the strategy chain and its worker pool.
type ExtractionConfig struct {
	Chain extract.Config    `mapstructure:",squash"`
	Pool  dispatcher.Config `mapstructure:",squash"`

	ScriptTextRatio float64 `mapstructure:"script_text_ratio"`
	ScriptMarkers   int     `mapstructure:"script_markers"`
}

// HeadlessConfig configures the headless Chrome engine.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ExecPath      string `mapstructure:"exec_path"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
	WindowWidth   int    `mapstructure:"window_width"`
	WindowHeight  int    `mapstructure:"window_height"`
}

// StorageConfig selects the screenshot artifact store.
type StorageConfig struct {
	Provider string       `mapstructure:"provider"`
	Local    local.Config `mapstructure:"local"`
	GCS      gcs.Config   `mapstructure:"gcs"`
}

// PublisherConfig selects the downstream publisher.
type PublisherConfig struct {
	Provider        string   `mapstructure:"provider"`
	ProjectID       string   `mapstructure:"project_id"`
	EventsTopic     string   `mapstructure:"events_topic"`
	EventCategories []string `mapstructure:"event_categories"`
}

// DedupConfig selects the shared seen-URL set.
type DedupConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection details for the Redis dedup set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig controls the operator endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	run := pipeline.DefaultConfig()
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.service", "research")
	v.SetDefault("run.max_results", run.MaxResults)
	v.SetDefault("run.top_k", run.TopK)
	v.SetDefault("run.deep_links_per_parent", run.DeepLinksPerParent)
	v.SetDefault("run.video_results", run.VideoResults)
	v.SetDefault("run.viral_top_k", run.ViralTopK)
	v.SetDefault("run.snapshot_max", run.SnapshotMax)
	v.SetDefault("run.documents_topic", run.DocumentsTopic)
	v.SetDefault("run.viral_topic", run.ViralTopic)

	v.SetDefault("search.irrelevant_threshold", search.DefaultConfig().IrrelevantThreshold)
	v.SetDefault("search.enhance_query", false)

	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; research-pipeline/0.1)")
	v.SetDefault("http.accept_language", "pt-BR,pt;q=0.9,en;q=0.8")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.tls_profile", "go")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.per_host_rps", 2)
	v.SetDefault("http.per_host_burst", 2)

	v.SetDefault("extraction.strategies", extract.DefaultOrder())
	v.SetDefault("extraction.max_chars", extract.DefaultMaxChars)
	v.SetDefault("extraction.concurrency", 5)
	v.SetDefault("extraction.queue_size", 64)
	v.SetDefault("extraction.script_text_ratio", 0.1)
	v.SetDefault("extraction.script_markers", 3)

	gate := validate.DefaultConfig()
	v.SetDefault("validation.min_length_general", gate.MinLengthGeneral)
	v.SetDefault("validation.min_length_binary", gate.MinLengthBinary)
	v.SetDefault("validation.min_words_general", gate.MinWordsGeneral)
	v.SetDefault("validation.min_words_binary", gate.MinWordsBinary)
	v.SetDefault("validation.error_phrase_min", gate.ErrorPhraseMin)
	v.SetDefault("validation.error_page_max_length", gate.ErrorPageMaxLength)
	v.SetDefault("validation.min_language_density", gate.MinLanguageDensity)
	v.SetDefault("validation.max_navigation_ratio", gate.MaxNavigationRatio)
	v.SetDefault("validation.language", gate.Language)

	scoring := score.DefaultConfig()
	v.SetDefault("scoring.size_cap", scoring.SizeCap)
	v.SetDefault("scoring.context_cap", scoring.ContextCap)
	v.SetDefault("scoring.domain_cap", scoring.DomainCap)
	v.SetDefault("scoring.density_cap", scoring.DensityCap)
	v.SetDefault("scoring.data_cap", scoring.DataCap)

	links := deeplink.DefaultConfig()
	v.SetDefault("deeplink.top_k", links.TopK)
	v.SetDefault("deeplink.links_per_parent", links.LinksPerPage)
	v.SetDefault("deeplink.disable_insecure_fallback", false)

	shots := snapshot.DefaultConfig()
	v.SetDefault("snapshot.max_items", shots.MaxItems)
	v.SetDefault("snapshot.page_timeout", shots.PageTimeout)
	v.SetDefault("snapshot.pause", shots.Pause)
	v.SetDefault("snapshot.prefix", shots.Prefix)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 2000)
	v.SetDefault("headless.window_width", 1366)
	v.SetDefault("headless.window_height", 768)

	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.local.base_dir", "artifacts")
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("publisher.events_topic", "")
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.redis.addr", "localhost:6379")
	v.SetDefault("dedup.redis.prefix", "research:seen")
	v.SetDefault("dedup.redis.ttl", 6*time.Hour)

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "web-research-pipeline")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// applyDefaults fills values that have no flat viper key.
func (c *Config) applyDefaults() {
	if len(c.Search.Providers) == 0 {
		c.Search.Providers = DefaultProviders()
	}
	for i := range c.Search.Providers {
		p := &c.Search.Providers[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.Kind == "" {
			p.Kind = KindWeb
			if p.ID == "youtube" {
				p.Kind = KindVideo
			}
		}
		if p.TimeoutClass == "" {
			p.TimeoutClass = string(search.TimeoutStandard)
		}
	}
	if len(c.Search.BlockedDomains) == 0 {
		c.Search.BlockedDomains = search.DefaultBlockedDomains()
	}
	if len(c.Search.BlockedPaths) == 0 {
		c.Search.BlockedPaths = search.DefaultBlockedPaths()
	}
	if len(c.Search.BlockedExtensions) == 0 {
		c.Search.BlockedExtensions = search.DefaultBlockedExtensions()
	}
	if len(c.Search.IrrelevantTerms) == 0 {
		c.Search.IrrelevantTerms = search.DefaultIrrelevantTerms()
	}
	if len(c.Scoring.PreferredDomains) == 0 {
		c.Scoring.PreferredDomains = append([]string(nil), score.DefaultPreferredDomains...)
	}
	if len(c.Search.AllowedDomains) == 0 {
		c.Search.AllowedDomains = append([]string(nil), c.Scoring.PreferredDomains...)
	}
	if len(c.Virality) == 0 {
		c.Virality = virality.DefaultWeights()
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Extraction.Pool.Workers <= 0 {
		return fmt.Errorf("extraction.concurrency must be > 0")
	}
	if c.Run.MaxResults <= 0 {
		return fmt.Errorf("run.max_results must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	for platform, w := range c.Virality {
		if w.Divisor <= 0 {
			return fmt.Errorf("virality.%s.divisor must be > 0", platform)
		}
	}
	return nil
}

func (c Config) validateProviders() error {
	seen := make(map[string]struct{}, len(c.Search.Providers))
	for i, p := range c.Search.Providers {
		if !slices.Contains(KnownProviders, p.ID) {
			return fmt.Errorf("search.providers[%d].id %q is not a known provider", i, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("search.providers[%d].id %q is listed twice", i, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Kind != KindWeb && p.Kind != KindVideo {
			return fmt.Errorf("search.providers[%d].kind must be %q or %q", i, KindWeb, KindVideo)
		}
		if p.Kind == KindVideo && p.ID != "youtube" {
			return fmt.Errorf("search.providers[%d]: %s has no video search", i, p.ID)
		}
		switch search.TimeoutClass(p.TimeoutClass) {
		case search.TimeoutFast, search.TimeoutStandard, search.TimeoutCrawl:
		default:
			return fmt.Errorf("search.providers[%d].timeout_class %q is invalid", i, p.TimeoutClass)
		}
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.provider is local")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("storage.provider %q must be memory, local or gcs", c.Storage.Provider)
	}
	switch c.Publisher.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("publisher.provider %q must be none, memory or pubsub", c.Publisher.Provider)
	}
	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if c.Dedup.Redis.Addr == "" {
			return fmt.Errorf("dedup.redis.addr must be set when dedup.backend is redis")
		}
	default:
		return fmt.Errorf("dedup.backend %q must be memory or redis", c.Dedup.Backend)
	}
	return nil
}

// RetryPolicy converts the HTTP retry knobs into a retry.Policy.
func (c Config) RetryPolicy(op string) retry.Policy {
	return retry.Policy{
		Op:          op,
		MaxAttempts: c.HTTP.MaxRetries + 1,
		BaseDelay:   time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond,
	}
}

// RequestTimeout is the per-request HTTP budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CredentialProviders returns the IDs of enabled providers that need keys.
func (c Config) CredentialProviders() []string {
	out := make([]string, 0, len(c.Search.Providers))
	for _, p := range c.Search.Providers {
		if p.Disabled || p.ID == "feed" {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}
