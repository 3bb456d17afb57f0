package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/web-research-pipeline/internal/pipeline"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

type runOptions struct {
	query      string
	segment    string
	product    string
	audience   string
	language   string
	country    string
	maxResults int
	topK       int
	viralTopK  int
}

// summary is the JSON printed after a run.
type summary struct {
	RunID     string            `json:"run_id"`
	Query     string            `json:"query"`
	Duration  string            `json:"duration"`
	Stats     pipeline.Stats    `json:"stats"`
	Documents []documentLine    `json:"documents"`
	Viral     []viralLine       `json:"viral"`
	Providers map[string]string `json:"providers"`
	Error     string            `json:"error,omitempty"`
}

type documentLine struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Score     float64 `json:"quality_score"`
	Pass      string  `json:"pass"`
	Extractor string  `json:"extractor"`
	Chars     int     `json:"chars"`
}

type viralLine struct {
	URL        string  `json:"url"`
	Platform   string  `json:"platform"`
	Score      float64 `json:"virality_score"`
	Screenshot string  `json:"screenshot,omitempty"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one research pass and prints a JSON summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App) error {
				return runResearch(cmd, app, opts)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.query, "query", "q", "", "search query (required)")
	flags.StringVar(&opts.segment, "segment", "", "market segment used for relevance scoring")
	flags.StringVar(&opts.product, "product", "", "product used for relevance scoring")
	flags.StringVar(&opts.audience, "audience", "", "target audience used for relevance scoring")
	flags.StringVar(&opts.language, "language", "pt", "result language")
	flags.StringVar(&opts.country, "country", "br", "result country")
	flags.IntVar(&opts.maxResults, "max-results", 0, "maximum merged search results (0 uses config)")
	flags.IntVar(&opts.topK, "top-k", 0, "documents explored for deep links (0 uses config)")
	flags.IntVar(&opts.viralTopK, "viral-top-k", 0, "viral candidates kept (0 uses config)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func runResearch(cmd *cobra.Command, appInstance App, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := pipeline.Request{
		Query: opts.query,
		Context: research.QueryContext{
			Segment:  opts.segment,
			Product:  opts.product,
			Audience: opts.audience,
			Locale:   research.Locale{Language: opts.language, Country: opts.country},
		},
		MaxResults: opts.maxResults,
		TopK:       opts.topK,
		ViralTopK:  opts.viralTopK,
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return appInstance.Serve(serveCtx) })

	report, runErr := appInstance.Research(ctx, req)
	stopServe()
	if err := g.Wait(); err != nil {
		appInstance.Logger().Warn("operator endpoint stopped", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	out := newSummary(report)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if report.Err != "" && errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("run interrupted: %s", report.Err)
	}
	return nil
}

func newSummary(report pipeline.Report) summary {
	out := summary{
		RunID:     report.RunID,
		Query:     report.Query,
		Duration:  report.Duration.String(),
		Stats:     report.Stats,
		Documents: make([]documentLine, 0, len(report.Documents)),
		Viral:     make([]viralLine, 0, len(report.Viral)),
		Providers: map[string]string{},
		Error:     report.Err,
	}
	for _, p := range slices.Concat(report.Search.Providers, report.Videos.Providers) {
		out.Providers[p.Provider] = string(p.Outcome)
	}
	for _, d := range report.Documents {
		out.Documents = append(out.Documents, documentLine{
			URL:       d.URL,
			Title:     d.Title,
			Score:     d.QualityScore,
			Pass:      string(d.Pass),
			Extractor: d.ExtractorID,
			Chars:     d.CharLength,
		})
	}
	for _, v := range report.Viral {
		line := viralLine{URL: v.Candidate.URL, Platform: v.Candidate.Platform, Score: v.Candidate.ViralityScore}
		if v.Screenshot != nil {
			line.Screenshot = v.Screenshot.ArtifactRef
		}
		out.Viral = append(out.Viral, line)
	}
	return out
}
