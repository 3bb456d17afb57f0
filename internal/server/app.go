// Package server builds the long-lived application services and runs research
// passes against them.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/api"
	"github.com/JakeFAU/web-research-pipeline/internal/clock/system"
	"github.com/JakeFAU/web-research-pipeline/internal/config"
	"github.com/JakeFAU/web-research-pipeline/internal/credentials"
	"github.com/JakeFAU/web-research-pipeline/internal/dedup"
	"github.com/JakeFAU/web-research-pipeline/internal/deeplink"
	"github.com/JakeFAU/web-research-pipeline/internal/dispatcher"
	"github.com/JakeFAU/web-research-pipeline/internal/extract"
	collyfetcher "github.com/JakeFAU/web-research-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/web-research-pipeline/internal/fetcher/fingerprint"
	headlessfetcher "github.com/JakeFAU/web-research-pipeline/internal/fetcher/headless"
	"github.com/JakeFAU/web-research-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/web-research-pipeline/internal/headless/detector"
	"github.com/JakeFAU/web-research-pipeline/internal/id/uuid"
	"github.com/JakeFAU/web-research-pipeline/internal/logging"
	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/pipeline"
	"github.com/JakeFAU/web-research-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/web-research-pipeline/internal/progress"
	progresssinks "github.com/JakeFAU/web-research-pipeline/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/web-research-pipeline/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/web-research-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/score"
	"github.com/JakeFAU/web-research-pipeline/internal/search"
	"github.com/JakeFAU/web-research-pipeline/internal/search/providers"
	"github.com/JakeFAU/web-research-pipeline/internal/snapshot"
	gcsstorage "github.com/JakeFAU/web-research-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/web-research-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/web-research-pipeline/internal/storage/memory"
	"github.com/JakeFAU/web-research-pipeline/internal/telemetry"
	"github.com/JakeFAU/web-research-pipeline/internal/validate"
	"github.com/JakeFAU/web-research-pipeline/internal/virality"
)

// App contains the application's long-lived dependencies. Components that
// record events are rebuilt per run so every event carries the run ID.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	creds     *credentials.Pool
	limiter   *ratelimit.Limiter
	web       []search.ProviderSpec
	video     []search.VideoSpec
	fetcher   *collyfetcher.Fetcher
	insecure  *collyfetcher.Fetcher
	engine    engine
	chrome    *headlessfetcher.Chrome
	gate      *validate.Gate
	detector  *detector.Heuristic
	scorer    *score.Scorer
	ranker    *virality.Ranker
	blobStore research.BlobStore
	publisher research.Publisher
	ids       research.IDGenerator
	clock     research.Clock
	hasher    research.Hasher

	progressHub  *progress.Hub
	redisClient  *redis.Client
	pubsubClient *pubsub.Client
	gcsPublisher *gcppublisher.Publisher
	storage      *storage.Client
	apiServer    *api.Server
	traceStop    telemetry.ShutdownFunc
}

type engine interface {
	research.Renderer
	research.Browser
}

// environment carries process-level inputs so tests can substitute them.
type environment struct {
	environ    []string
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, environment{
		environ:    os.Environ(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	})
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, env environment) (*App, error) {
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.NewUUIDGenerator(),
		clock:  system.New(),
		hasher: sha256.New(),
	}
	app.logger.Info("building application dependencies")

	steps := []func() error{
		func() error { return app.setupTracing(ctx) },
		func() error { return app.setupCredentials(env.environ) },
		app.setupFetchers,
		app.setupHeadless,
		app.setupProviders,
		func() error { return app.setupStorage(ctx) },
		func() error { return app.setupPublisher(ctx) },
		func() error { return app.setupDedup(ctx) },
		func() error { return app.setupProgress(ctx, env.registerer) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			app.closeInfrastructure(ctx)
			return nil, err
		}
	}

	app.gate = validate.New(cfg.Validation)
	app.detector = detector.NewHeuristic(cfg.Extraction.ScriptTextRatio, cfg.Extraction.ScriptMarkers)
	app.scorer = score.New(cfg.Scoring)
	app.ranker = virality.New(cfg.Virality)

	if cfg.Metrics.Addr != "" {
		app.apiServer = api.NewServer(api.Config{
			Addr:     cfg.Metrics.Addr,
			Gatherer: env.gatherer,
		}, app.readinessChecks(), logger)
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Credentials exposes the credential pool for reporting.
func (a *App) Credentials() *credentials.Pool { return a.creds }

// Publisher returns the configured downstream publisher, nil when disabled.
func (a *App) Publisher() research.Publisher { return a.publisher }

// BlobStore returns the screenshot artifact store.
func (a *App) BlobStore() research.BlobStore { return a.blobStore }

// Research executes one run. The operator endpoint, when configured, serves
// for the duration of the run.
func (a *App) Research(ctx context.Context, req pipeline.Request) (pipeline.Report, error) {
	if req.RunID == "" {
		id, err := a.ids.NewID()
		if err != nil {
			return pipeline.Report{}, fmt.Errorf("generate run id: %w", err)
		}
		req.RunID = id
	}
	runner, err := a.newRunner(ctx, req.RunID)
	if err != nil {
		return pipeline.Report{}, err
	}
	report, err := runner.Run(ctx, req)
	if err != nil {
		return report, fmt.Errorf("run %s: %w", req.RunID, err)
	}
	return report, nil
}

// Serve runs the operator endpoint until ctx is canceled. It returns
// immediately when no metrics address is configured.
func (a *App) Serve(ctx context.Context) error {
	if a.apiServer == nil {
		return nil
	}
	if err := a.apiServer.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("operator endpoint: %w", err)
	}
	return nil
}

func (a *App) newRunner(ctx context.Context, runID string) (*pipeline.Runner, error) {
	var recorder research.Recorder = research.NopRecorder{}
	if a.progressHub != nil {
		recorder = a.progressHub.ForRun(runID)
	}
	logger := a.logger.With(zap.String("run_id", runID))

	seen, err := a.seenSet(runID)
	if err != nil {
		return nil, err
	}

	coordinator, err := search.New(a.cfg.Search.Config, a.web, a.video, search.Deps{
		Limiter:  a.limiter,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("search coordinator init failed: %w", err)
	}

	extractor, err := extract.New(a.cfg.Extraction.Chain, extract.Deps{
		Fetcher:   a.fetcher,
		Validator: a.gate,
		Renderer:  a.engine,
		Detector:  a.detector,
		Recorder:  recorder,
		Clock:     a.clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction pipeline init failed: %w", err)
	}

	pool, err := dispatcher.New(a.cfg.Extraction.Pool, extractor, a.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	var insecure research.Fetcher
	if a.insecure != nil {
		insecure = a.insecure
	}
	explorer, err := deeplink.New(a.cfg.DeepLink, deeplink.Deps{
		Fetcher:  a.fetcher,
		Insecure: insecure,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("deep link explorer init failed: %w", err)
	}

	snapshots, err := snapshot.New(a.cfg.Snapshot, snapshot.Deps{
		Browser:  a.engine,
		Store:    a.blobStore,
		Hasher:   a.hasher,
		Clock:    a.clock,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot service init failed: %w", err)
	}

	runner, err := pipeline.New(a.cfg.Run, pipeline.Deps{
		Search:     coordinator,
		Extraction: pool,
		Scorer:     a.scorer,
		Explorer:   explorer.ForRun(seen),
		Ranker:     a.ranker,
		Snapshots:  snapshots,
		Publisher:  a.publisher,
		Seen:       seen,
		IDs:        a.ids,
		Recorder:   recorder,
		Clock:      a.clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("runner init failed: %w", err)
	}
	return runner, nil
}

func (a *App) seenSet(runID string) (research.SeenSet, error) {
	if a.redisClient == nil {
		return dedup.NewMemory(), nil
	}
	seen, err := dedup.NewRedis(a.redisClient, dedup.RedisConfig{
		Prefix: a.cfg.Dedup.Redis.Prefix,
		RunID:  runID,
		TTL:    a.cfg.Dedup.Redis.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("redis seen set init failed: %w", err)
	}
	return seen, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	stop, err := telemetry.Init(ctx, a.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.traceStop = stop
	if a.cfg.Tracing.Enabled {
		a.logger.Info("tracing enabled", zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio))
	}
	return nil
}

func (a *App) setupCredentials(environ []string) error {
	a.creds = credentials.NewPool()
	for provider, keys := range a.cfg.Credentials {
		if err := a.creds.Add(provider, keys...); err != nil {
			return fmt.Errorf("configured %s credentials: %w", provider, err)
		}
	}
	loaded, err := a.creds.LoadFromEnv(environ, a.cfg.CredentialProviders())
	if err != nil {
		return fmt.Errorf("credential init failed: %w", err)
	}
	for provider, n := range loaded {
		a.logger.Debug("credentials loaded from environment", zap.String("provider", provider), zap.Int("keys", n))
	}
	return nil
}

func (a *App) setupFetchers() error {
	profile, err := fingerprint.ParseProfile(a.cfg.HTTP.TLSProfile)
	if err != nil {
		return fmt.Errorf("http.tls_profile: %w", err)
	}
	a.limiter = ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.HTTP.PerHostRPS,
		DefaultBurst: a.cfg.HTTP.PerHostBurst,
	})
	a.fetcher, err = collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.HTTP.UserAgent,
		AcceptLanguage: a.cfg.HTTP.AcceptLanguage,
		Timeout:        a.cfg.RequestTimeout(),
		MaxRedirects:   a.cfg.HTTP.MaxRedirects,
		MaxBodyBytes:   a.cfg.HTTP.MaxBodyBytes,
		TLSProfile:     profile,
		Retry:          a.cfg.RetryPolicy("fetch"),
		Limiter:        a.limiter,
	})
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}
	if !a.cfg.DeepLink.DisableInsecureFallback {
		a.insecure, err = a.fetcher.Insecure()
		if err != nil {
			return fmt.Errorf("insecure fetcher init failed: %w", err)
		}
	}
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.HTTP.UserAgent),
		zap.String("tls_profile", a.cfg.HTTP.TLSProfile),
	)
	return nil
}

func (a *App) setupHeadless() error {
	if !a.cfg.Headless.Enabled {
		a.logger.Info("headless chrome disabled; dynamic extraction and snapshots are unavailable")
		a.engine = headlessfetcher.NewNoop()
		return nil
	}
	chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		ExecPath:          a.cfg.Headless.ExecPath,
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(a.cfg.Headless.SettleDelayMs) * time.Millisecond,
		WindowWidth:       a.cfg.Headless.WindowWidth,
		WindowHeight:      a.cfg.Headless.WindowHeight,
	})
	if err != nil {
		a.logger.Warn("headless engine init failed; continuing without it", zap.Error(err))
		a.engine = headlessfetcher.NewNoop()
		return nil
	}
	a.chrome = chrome
	a.engine = chrome
	a.logger.Info("using headless chrome", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	return nil
}

func (a *App) setupProviders() error {
	a.web, a.video = nil, nil
	for _, p := range a.cfg.Search.Providers {
		if p.Disabled {
			continue
		}
		opts := providers.Options{
			Endpoint:    p.Endpoint,
			Credentials: a.creds,
			Retry:       a.cfg.RetryPolicy(""),
			UserAgent:   a.cfg.HTTP.UserAgent,
		}
		class := search.TimeoutClass(p.TimeoutClass)
		if p.Kind == config.KindVideo {
			a.video = append(a.video, search.VideoSpec{
				Searcher:      providers.NewYouTube(opts),
				Priority:      p.Priority,
				TimeoutClass:  class,
				Timeout:       p.Timeout,
				RatePerMinute: p.RateLimitPerMinute,
			})
			continue
		}
		provider, err := a.webProvider(p.ID, opts)
		if err != nil {
			return err
		}
		a.web = append(a.web, search.ProviderSpec{
			Provider:      provider,
			Priority:      p.Priority,
			TimeoutClass:  class,
			Timeout:       p.Timeout,
			RatePerMinute: p.RateLimitPerMinute,
		})
	}
	if len(a.web) == 0 {
		return errors.New("no web search providers enabled")
	}
	a.logger.Info("search providers configured", zap.Int("web", len(a.web)), zap.Int("video", len(a.video)))
	return nil
}

func (a *App) webProvider(id string, opts providers.Options) (research.SearchProvider, error) {
	switch id {
	case "serper":
		return providers.NewSerper(opts), nil
	case "exa":
		return providers.NewExa(opts, a.cfg.Search.ExaIncludeDomains), nil
	case "tavily":
		return providers.NewTavily(opts), nil
	case "google":
		engineID := a.cfg.Search.GoogleEngineID
		if engineID == "" {
			engineID = os.Getenv("GOOGLE_CSE_ID")
		}
		return providers.NewGoogle(opts, engineID), nil
	case "jina":
		return providers.NewJina(opts), nil
	case "feed":
		templates := a.cfg.Search.FeedTemplates
		if len(templates) == 0 {
			templates = providers.DefaultFeedTemplates()
		}
		return providers.NewFeed(opts, templates), nil
	default:
		return nil, fmt.Errorf("unknown web provider %q", id)
	}
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = store
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		store, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = store
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobStore = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case "none":
		a.logger.Info("publishing disabled")
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		pub, err := gcppublisher.New(client)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.gcsPublisher = pub
		a.publisher = pub
		a.logger.Info("Pub/Sub publisher initialized", zap.String("project", a.cfg.Publisher.ProjectID))
	default:
		a.logger.Info("using in-memory publisher")
		a.publisher = memorypublisher.New()
	}
	return nil
}

func (a *App) setupDedup(ctx context.Context) error {
	if a.cfg.Dedup.Backend != "redis" {
		return nil
	}
	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Dedup.Redis.Addr,
		Password: a.cfg.Dedup.Redis.Password,
		DB:       a.cfg.Dedup.Redis.DB,
	})
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", a.cfg.Dedup.Redis.Addr, err)
	}
	a.logger.Info("using redis seen set", zap.String("addr", a.cfg.Dedup.Redis.Addr))
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger)}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if topic := a.cfg.Publisher.EventsTopic; topic != "" && a.publisher != nil {
		publishSink, err := progresssinks.NewPublishSink(a.publisher, topic, a.cfg.Publisher.EventCategories, a.logger)
		if err != nil {
			return fmt.Errorf("progress publish sink init failed: %w", err)
		}
		sinkList = append(sinkList, publishSink)
	}

	hubCfg := a.cfg.Progress
	hubCfg.BaseContext = ctx
	hubCfg.Clock = a.clock
	hubCfg.Logger = a.logger
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) readinessChecks() map[string]api.Check {
	checks := map[string]api.Check{}
	if a.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			if err := a.redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		}
	}
	if a.progressHub != nil {
		checks["progress"] = func(context.Context) error {
			if dropped := a.progressHub.Dropped(); dropped > 0 {
				a.logger.Debug("progress events dropped", zap.Int64("dropped", dropped))
			}
			return nil
		}
	}
	return checks
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.chrome != nil {
		a.chrome.Close()
	}
	if a.gcsPublisher != nil {
		if err := a.gcsPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.traceStop != nil {
		if err := a.traceStop(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
