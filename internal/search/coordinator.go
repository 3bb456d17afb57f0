// Package search fans a query out to every configured provider and merges
// the results into a deduplicated, filtered candidate list.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/JakeFAU/web-research-pipeline/internal/dedup"
	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/score"
)

// TimeoutClass groups providers by expected latency.
type TimeoutClass string

// Timeout classes.
const (
	TimeoutFast     TimeoutClass = "fast"
	TimeoutStandard TimeoutClass = "standard"
	TimeoutCrawl    TimeoutClass = "crawl"
)

// Duration returns the per-call budget of the class.
func (c TimeoutClass) Duration() time.Duration {
	switch c {
	case TimeoutFast:
		return 15 * time.Second
	case TimeoutCrawl:
		return 45 * time.Second
	default:
		return 30 * time.Second
	}
}

const eventCategory = "search"

// Config holds filter vocabularies and fanout bounds.
type Config struct {
	// Concurrency bounds simultaneous provider calls. Zero means one slot
	// per provider.
	Concurrency         int      `mapstructure:"concurrency"`
	AllowedDomains      []string `mapstructure:"allowed_domains"`
	BlockedDomains      []string `mapstructure:"blocked_domains"`
	BlockedPaths        []string `mapstructure:"blocked_paths"`
	BlockedExtensions   []string `mapstructure:"blocked_extensions"`
	IrrelevantTerms     []string `mapstructure:"irrelevant_terms"`
	IrrelevantThreshold int      `mapstructure:"irrelevant_threshold"`
	EnhanceQuery        bool     `mapstructure:"enhance_query"`
}

// DefaultConfig returns the stock filters. The soft allow-list defaults to
// the curated source list the scorer rewards.
func DefaultConfig() Config {
	return Config{
		AllowedDomains:      append([]string(nil), score.DefaultPreferredDomains...),
		BlockedDomains:      DefaultBlockedDomains(),
		BlockedPaths:        DefaultBlockedPaths(),
		BlockedExtensions:   DefaultBlockedExtensions(),
		IrrelevantTerms:     DefaultIrrelevantTerms(),
		IrrelevantThreshold: 2,
	}
}

// ProviderSpec binds a web provider to its scheduling parameters.
type ProviderSpec struct {
	Provider research.SearchProvider
	// Priority orders providers in merged output, lowest first.
	Priority     int
	TimeoutClass TimeoutClass
	// Timeout overrides the class budget when positive.
	Timeout time.Duration
	// RatePerMinute installs a token bucket awaited before each call.
	RatePerMinute float64
}

// VideoSpec binds a video searcher to its scheduling parameters.
type VideoSpec struct {
	Searcher      research.VideoSearcher
	Priority      int
	TimeoutClass  TimeoutClass
	Timeout       time.Duration
	RatePerMinute float64
}

// Deps are optional collaborators.
type Deps struct {
	Limiter  *ratelimit.Limiter
	Recorder research.Recorder
	Logger   *zap.Logger
}

// Coordinator runs fanouts. It holds no per-run state.
type Coordinator struct {
	cfg      Config
	web      []ProviderSpec
	video    []VideoSpec
	filter   *relevanceFilter
	limiter  *ratelimit.Limiter
	recorder research.Recorder
	logger   *zap.Logger
}

// New sorts providers by priority and prepares the filters.
func New(cfg Config, web []ProviderSpec, video []VideoSpec, deps Deps) (*Coordinator, error) {
	for i, spec := range web {
		if spec.Provider == nil {
			return nil, fmt.Errorf("search provider %d is nil", i)
		}
	}
	for i, spec := range video {
		if spec.Searcher == nil {
			return nil, fmt.Errorf("video searcher %d is nil", i)
		}
	}
	if deps.Recorder == nil {
		deps.Recorder = research.NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(ratelimit.Config{})
	}

	web = append([]ProviderSpec(nil), web...)
	sort.SliceStable(web, func(i, j int) bool { return web[i].Priority < web[j].Priority })
	video = append([]VideoSpec(nil), video...)
	sort.SliceStable(video, func(i, j int) bool { return video[i].Priority < video[j].Priority })

	for _, spec := range web {
		if spec.RatePerMinute > 0 {
			deps.Limiter.SetPerMinute(limiterKey(spec.Provider.ID()), spec.RatePerMinute)
		}
	}
	for _, spec := range video {
		if spec.RatePerMinute > 0 {
			deps.Limiter.SetPerMinute(limiterKey(spec.Searcher.ID()), spec.RatePerMinute)
		}
	}

	return &Coordinator{
		cfg:      cfg,
		web:      web,
		video:    video,
		filter:   newRelevanceFilter(cfg),
		limiter:  deps.Limiter,
		recorder: deps.Recorder,
		logger:   deps.Logger.Named("fanout"),
	}, nil
}

// Providers returns the web provider IDs in priority order.
func (c *Coordinator) Providers() []string {
	ids := make([]string, len(c.web))
	for i, spec := range c.web {
		ids[i] = spec.Provider.ID()
	}
	return ids
}

func limiterKey(id string) string { return "provider:" + id }

func timeoutFor(class TimeoutClass, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return class.Duration()
}

// Search queries every web provider concurrently and returns candidates in
// provider-priority order. seen is the run's shared dedup set; nil gives the
// fanout a private one. Provider failures only remove that provider's
// contribution.
func (c *Coordinator) Search(ctx context.Context, query string, qc research.QueryContext, maxResults int, seen research.SeenSet) ([]research.CandidateURL, Report) {
	started := time.Now()
	report := Report{Query: c.enhance(query, qc.Locale)}
	if len(c.web) == 0 {
		return nil, report
	}
	if seen == nil {
		seen = dedup.NewMemory()
	}
	share := perProviderShare(maxResults, len(c.web))

	batches := make([][]research.SearchResult, len(c.web))
	report.Providers = make([]ProviderReport, len(c.web))

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency(len(c.web)))
	for i, spec := range c.web {
		g.Go(func() error {
			id := spec.Provider.ID()
			timeout := timeoutFor(spec.TimeoutClass, spec.Timeout)
			_, pr := c.call(ctx, id, timeout, func(callCtx context.Context) (int, error) {
				res, err := spec.Provider.Search(callCtx, report.Query, share, qc.Locale)
				if err != nil {
					return 0, err
				}
				if len(res) > share {
					res = res[:share]
				}
				sort.SliceStable(res, func(a, b int) bool { return res[a].RawRank < res[b].RawRank })
				batches[i] = res
				return len(res), nil
			})
			report.Providers[i] = pr
			return nil
		})
	}
	_ = g.Wait()

	candidates := c.merge(ctx, batches, seen, &report)
	report.Candidates = len(candidates)
	report.Duration = time.Since(started)
	c.recorder.Record("fanout_completed", map[string]any{
		"query":      report.Query,
		"raw":        report.RawResults,
		"candidates": report.Candidates,
		"duplicates": report.Duplicates,
		"blocked":    report.Blocked,
		"irrelevant": report.Irrelevant,
		"elapsed_ms": report.Duration.Milliseconds(),
	}, eventCategory)
	return candidates, report
}

// call runs op under the provider's timeout and rate limit and classifies
// the outcome.
func (c *Coordinator) call(ctx context.Context, id string, timeout time.Duration, op func(ctx context.Context) (int, error)) (int, ProviderReport) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	pr := ProviderReport{Provider: id}
	count, err := func() (int, error) {
		if err := c.limiter.WaitKey(callCtx, limiterKey(id)); err != nil {
			return 0, err
		}
		return op(callCtx)
	}()
	pr.Latency = time.Since(start)
	pr.Results = count

	switch {
	case err == nil:
		pr.Outcome = OutcomeOK
	case errors.Is(err, research.ErrProviderAuthExhausted):
		pr.Outcome = OutcomeDisabled
		c.logger.Info("provider disabled for run", zap.String("provider", id), zap.Error(err))
	case errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil:
		pr.Outcome = OutcomeTimeout
		c.logger.Warn("provider timed out", zap.String("provider", id), zap.Duration("timeout", timeout))
	default:
		pr.Outcome = OutcomeError
		c.logger.Warn("provider failed", zap.String("provider", id), zap.Error(err))
	}
	if err != nil {
		pr.Error = err.Error()
	}

	metrics.ObserveProviderCall(id, string(pr.Outcome), count)
	c.recorder.Record("provider_call", map[string]any{
		"provider":   id,
		"outcome":    string(pr.Outcome),
		"results":    count,
		"latency_ms": pr.Latency.Milliseconds(),
		"error":      pr.Error,
	}, eventCategory)
	return count, pr
}

// merge concatenates batches in priority order, dedups by normalized URL,
// applies the relevance filters and moves allow-listed candidates first.
func (c *Coordinator) merge(ctx context.Context, batches [][]research.SearchResult, seen research.SeenSet, report *Report) []research.CandidateURL {
	local := make(map[string]struct{})
	var preferred, others []research.CandidateURL
	for _, batch := range batches {
		for _, r := range batch {
			report.RawResults++
			if !research.IsHTTPURL(r.URL) {
				report.Blocked++
				continue
			}
			normalized, err := research.NormalizeURL(r.URL)
			if err != nil {
				report.Blocked++
				continue
			}
			if _, dup := local[normalized]; dup {
				report.Duplicates++
				continue
			}
			local[normalized] = struct{}{}

			if reason := c.filter.blockReason(r.URL); reason != "" {
				report.Blocked++
				continue
			}
			if c.filter.irrelevant(r.Title, r.Snippet) {
				report.Irrelevant++
				continue
			}
			isNew, err := seen.MarkIfNew(ctx, normalized)
			if err != nil {
				c.logger.Warn("dedup set unavailable, admitting candidate", zap.String("url", normalized), zap.Error(err))
				isNew = true
			}
			if !isNew {
				report.Duplicates++
				continue
			}

			candidate := research.CandidateURL{SearchResult: r, NormalizedURL: normalized}
			if c.filter.preferred(r.URL) {
				candidate.Preferred = true
				candidate.Priority = 1
				preferred = append(preferred, candidate)
				continue
			}
			others = append(others, candidate)
		}
	}
	out := append(preferred, others...)
	for i := range out {
		out[i].Order = i
	}
	return out
}

func (c *Coordinator) concurrency(n int) int {
	if c.cfg.Concurrency > 0 && c.cfg.Concurrency < n {
		return c.cfg.Concurrency
	}
	return n
}

// perProviderShare is ceil(max/n), at least 1.
func perProviderShare(maxResults, n int) int {
	if n <= 0 {
		return 0
	}
	if maxResults <= 0 {
		return 1
	}
	share := (maxResults + n - 1) / n
	if share < 1 {
		share = 1
	}
	return share
}

// SearchVideos fans out to the video searchers and concatenates their
// candidates in priority order.
func (c *Coordinator) SearchVideos(ctx context.Context, query string, qc research.QueryContext, limit int) ([]research.ViralCandidate, Report) {
	started := time.Now()
	report := Report{Query: c.enhance(query, qc.Locale)}
	if len(c.video) == 0 {
		return nil, report
	}
	batches := make([][]research.ViralCandidate, len(c.video))
	report.Providers = make([]ProviderReport, len(c.video))

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency(len(c.video)))
	for i, spec := range c.video {
		g.Go(func() error {
			id := spec.Searcher.ID()
			_, pr := c.call(ctx, id, timeoutFor(spec.TimeoutClass, spec.Timeout), func(callCtx context.Context) (int, error) {
				res, err := spec.Searcher.SearchVideos(callCtx, report.Query, limit, qc.Locale)
				if err != nil {
					return 0, err
				}
				batches[i] = res
				return len(res), nil
			})
			report.Providers[i] = pr
			return nil
		})
	}
	_ = g.Wait()

	var out []research.ViralCandidate
	for _, batch := range batches {
		report.RawResults += len(batch)
		out = append(out, batch...)
	}
	report.Candidates = len(out)
	report.Duration = time.Since(started)
	return out, report
}

// enhance appends the locale's country name when the query lacks it.
func (c *Coordinator) enhance(query string, locale research.Locale) string {
	query = strings.TrimSpace(query)
	if !c.cfg.EnhanceQuery {
		return query
	}
	name := countryName(locale)
	if name == "" || strings.Contains(strings.ToLower(query), strings.ToLower(name)) {
		return query
	}
	return query + " " + name
}

// countryName renders the locale's region in the locale's language, so
// {pt, BR} gives "Brasil".
func countryName(locale research.Locale) string {
	region, err := language.ParseRegion(strings.TrimSpace(locale.Country))
	if err != nil {
		return ""
	}
	tag, err := language.Parse(strings.TrimSpace(locale.Language))
	if err != nil {
		tag = language.English
	}
	return display.Tags(tag).Name(region)
}
