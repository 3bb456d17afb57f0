package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/web-research-pipeline/internal/virality"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
run:
  max_results: 12
  top_k: 3
search:
  concurrency: 4
  enhance_query: true
  google_engine_id: cse-123
  providers:
    - id: Serper
      priority: 2
      rate_limit_per_minute: 30
      timeout_class: fast
    - id: youtube
      kind: video
http:
  timeout_seconds: 45
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
  tls_profile: chrome
extraction:
  concurrency: 8
  strategies: [readability, aggressive]
validation:
  min_words_general: 200
headless:
  enabled: true
  max_parallel: 2
storage:
  provider: local
  local:
    base_dir: /tmp/shots
dedup:
  backend: redis
  redis:
    addr: redis:6379
    ttl: 1h
virality:
  youtube:
    views: 2
    divisor: 1000
credentials:
  serper: [k1, k2]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Run.MaxResults != 12 || cfg.Run.TopK != 3 || cfg.Run.ViralTopK != 5 {
		t.Fatalf("unexpected run config: %+v", cfg.Run)
	}
	if cfg.Search.Concurrency != 4 || !cfg.Search.EnhanceQuery || cfg.Search.GoogleEngineID != "cse-123" {
		t.Fatalf("expected search overrides to apply: %+v", cfg.Search.Config)
	}
	if len(cfg.Search.Providers) != 2 {
		t.Fatalf("expected two providers, got %+v", cfg.Search.Providers)
	}
	serper := cfg.Search.Providers[0]
	if serper.ID != "serper" || serper.Kind != KindWeb || serper.RateLimitPerMinute != 30 {
		t.Fatalf("expected normalized serper entry: %+v", serper)
	}
	if len(cfg.Search.BlockedDomains) == 0 {
		t.Fatalf("expected default blocked domains")
	}
	if cfg.Extraction.Pool.Workers != 8 || len(cfg.Extraction.Chain.Strategies) != 2 {
		t.Fatalf("unexpected extraction config: %+v", cfg.Extraction)
	}
	if cfg.Validation.MinWordsGeneral != 200 || cfg.Validation.MinLengthGeneral != 500 {
		t.Fatalf("unexpected validation config: %+v", cfg.Validation)
	}
	if cfg.Storage.Local.BaseDir != "/tmp/shots" {
		t.Fatalf("expected local base dir, got %q", cfg.Storage.Local.BaseDir)
	}
	if cfg.Dedup.Redis.Addr != "redis:6379" || cfg.Dedup.Redis.TTL != time.Hour {
		t.Fatalf("unexpected redis config: %+v", cfg.Dedup.Redis)
	}
	if w := cfg.Virality["youtube"]; w.Views != 2 || w.Divisor != 1000 {
		t.Fatalf("unexpected virality weights: %+v", w)
	}
	if keys := cfg.Credentials["serper"]; len(keys) != 2 {
		t.Fatalf("expected two serper keys, got %v", keys)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected request timeout 45s, got %v", got)
	}
	policy := cfg.RetryPolicy("fetch")
	if policy.MaxAttempts != 5 || policy.BaseDelay != 100*time.Millisecond || policy.MaxDelay != 500*time.Millisecond {
		t.Fatalf("unexpected retry policy: %+v", policy)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Search.Providers) != len(DefaultProviders()) {
		t.Fatalf("expected default provider catalogue, got %d", len(cfg.Search.Providers))
	}
	if cfg.Storage.Provider != "memory" || cfg.Dedup.Backend != "memory" || cfg.Publisher.Provider != "memory" {
		t.Fatalf("expected in-memory backends: %+v %+v %+v", cfg.Storage, cfg.Dedup, cfg.Publisher)
	}
	if len(cfg.Virality) == 0 {
		t.Fatalf("expected default virality table")
	}
	if strings.Join(cfg.Search.AllowedDomains, ",") != strings.Join(cfg.Scoring.PreferredDomains, ",") || len(cfg.Search.AllowedDomains) == 0 {
		t.Fatalf("expected allow-list to default to preferred domains, got %v", cfg.Search.AllowedDomains)
	}
	got := strings.Join(cfg.CredentialProviders(), ",")
	if got != "serper,exa,tavily,google,jina,youtube" {
		t.Fatalf("unexpected credential providers %q", got)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("RESEARCH_HTTP_TIMEOUT_SECONDS", "7")
	t.Setenv("RESEARCH_DEDUP_BACKEND", "redis")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.TimeoutSeconds != 7 {
		t.Fatalf("expected env timeout, got %d", cfg.HTTP.TimeoutSeconds)
	}
	if cfg.Dedup.Backend != "redis" {
		t.Fatalf("expected env dedup backend, got %q", cfg.Dedup.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative retries", mutate: func(c *Config) { c.HTTP.MaxRetries = -1 }, want: "http.max_retries"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Extraction.Pool.Workers = 0 }, want: "extraction.concurrency"},
		{name: "invalid max results", mutate: func(c *Config) { c.Run.MaxResults = 0 }, want: "run.max_results"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Search.Providers = []ProviderConfig{{ID: "bing", Kind: KindWeb, TimeoutClass: "fast"}}
			},
			want: "search.providers[0].id",
		},
		{
			name: "duplicate provider",
			mutate: func(c *Config) {
				p := ProviderConfig{ID: "exa", Kind: KindWeb, TimeoutClass: "fast"}
				c.Search.Providers = []ProviderConfig{p, p}
			},
			want: "listed twice",
		},
		{
			name: "video kind on web provider",
			mutate: func(c *Config) {
				c.Search.Providers = []ProviderConfig{{ID: "exa", Kind: KindVideo, TimeoutClass: "fast"}}
			},
			want: "no video search",
		},
		{
			name: "bad timeout class",
			mutate: func(c *Config) {
				c.Search.Providers = []ProviderConfig{{ID: "exa", Kind: KindWeb, TimeoutClass: "slow"}}
			},
			want: "timeout_class",
		},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Provider = "s3" }, want: "storage.provider"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Provider = "gcs" }, want: "storage.gcs.bucket"},
		{name: "pubsub without project", mutate: func(c *Config) { c.Publisher.Provider = "pubsub" }, want: "publisher.project_id"},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Dedup.Backend = "redis"
				c.Dedup.Redis.Addr = ""
			},
			want: "dedup.redis.addr",
		},
		{
			name: "zero virality divisor",
			mutate: func(c *Config) {
				c.Virality = map[string]virality.Weights{"youtube": {Views: 1}}
			},
			want: "virality.youtube.divisor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
