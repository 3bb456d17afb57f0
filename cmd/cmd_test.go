package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/credentials"
	"github.com/JakeFAU/web-research-pipeline/internal/pipeline"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/search"
)

type fakeApp struct {
	report  pipeline.Report
	err     error
	req     pipeline.Request
	served  bool
	closed  bool
	creds   *credentials.Pool
	cfgPath string
}

func (f *fakeApp) Research(_ context.Context, req pipeline.Request) (pipeline.Report, error) {
	f.req = req
	return f.report, f.err
}

func (f *fakeApp) Serve(ctx context.Context) error {
	f.served = true
	<-ctx.Done()
	return nil
}

func (f *fakeApp) Credentials() *credentials.Pool { return f.creds }
func (f *fakeApp) Logger() *zap.Logger            { return zap.NewNop() }

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	prev := newApp
	newApp = func(_ context.Context, path string) (App, error) {
		app.cfgPath = path
		return app, nil
	}
	t.Cleanup(func() {
		newApp = prev
		cfgFile = ""
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandPrintsSummary(t *testing.T) {
	app := &fakeApp{report: pipeline.Report{
		RunID:    "run-1",
		Query:    "cafés",
		Duration: 3 * time.Second,
		Search: search.Report{Providers: []search.ProviderReport{
			{Provider: "serper", Outcome: search.OutcomeOK},
			{Provider: "exa", Outcome: search.OutcomeTimeout},
		}},
		Documents: []research.ExtractedDocument{{
			URL: "https://exame.com/a", Title: "A", QualityScore: 72.5,
			Pass: research.PassPrimary, ExtractorID: "readability", CharLength: 1200,
		}},
		Viral: []research.ViralRecord{{
			Candidate:  research.ViralCandidate{Platform: "youtube", URL: "https://youtube.com/watch?v=1", ViralityScore: 88},
			Screenshot: &research.Screenshot{ArtifactRef: "memory://screenshots/run-1/viral_01.png"},
		}},
		Stats: pipeline.Stats{APICalls: 2, Extracted: 1},
	}}
	withFakeApp(t, app)

	out, err := execute(t, "--config", "cfg.yaml", "run", "--query", "cafés", "--segment", "café", "--max-results", "7", "--country", "pt")
	require.NoError(t, err)
	require.True(t, app.closed)
	require.True(t, app.served)
	require.Equal(t, "cfg.yaml", app.cfgPath)
	require.Equal(t, "cafés", app.req.Query)
	require.Equal(t, "café", app.req.Context.Segment)
	require.Equal(t, "pt", app.req.Context.Locale.Country)
	require.Equal(t, 7, app.req.MaxResults)

	var got summary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "3s", got.Duration)
	require.Equal(t, map[string]string{"serper": "ok", "exa": "timeout"}, got.Providers)
	require.Len(t, got.Documents, 1)
	require.Equal(t, "primary", got.Documents[0].Pass)
	require.Len(t, got.Viral, 1)
	require.Equal(t, "memory://screenshots/run-1/viral_01.png", got.Viral[0].Screenshot)
	require.Equal(t, 2, got.Stats.APICalls)
}

func TestRunCommandRequiresQuery(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "run")
	require.ErrorContains(t, err, "query")
}

func TestRunCommandPropagatesRunError(t *testing.T) {
	app := &fakeApp{err: errors.New("boom")}
	withFakeApp(t, app)

	_, err := execute(t, "run", "-q", "x")
	require.ErrorContains(t, err, "boom")
}

func TestCredentialsCommandMasksSecrets(t *testing.T) {
	pool := credentials.NewPool()
	require.NoError(t, pool.Add("serper", "secret-key-1234", "other-key-9876"))
	withFakeApp(t, &fakeApp{creds: pool})

	out, err := execute(t, "credentials")
	require.NoError(t, err)
	require.Contains(t, out, "serper")
	require.Contains(t, out, "****1234")
	require.Contains(t, out, "****9876")
	require.NotContains(t, out, "secret-key")
}

func TestRootFailsWhenAppCannotBuild(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("bad config") }
	t.Cleanup(func() { newApp = prev })

	_, err := execute(t, "credentials")
	require.ErrorContains(t, err, "bad config")
}
