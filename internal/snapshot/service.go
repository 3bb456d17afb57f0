// Package snapshot captures page screenshots inside a single browser session
// and stores them as artifacts.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/clock/system"
	"github.com/JakeFAU/web-research-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/web-research-pipeline/internal/metrics"
	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

const eventCategory = "snapshot"

// Config controls batch size and pacing.
type Config struct {
	MaxItems    int           `mapstructure:"max_items"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	// Pause separates consecutive captures.
	Pause  time.Duration `mapstructure:"pause"`
	Prefix string        `mapstructure:"prefix"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		MaxItems:    10,
		PageTimeout: 30 * time.Second,
		Pause:       time.Second,
		Prefix:      "screenshots",
	}
}

// Deps are the service collaborators. Browser and Store are required.
type Deps struct {
	Browser  research.Browser
	Store    research.BlobStore
	Hasher   research.Hasher
	Clock    research.Clock
	Recorder research.Recorder
	Logger   *zap.Logger
}

// Service runs capture batches.
type Service struct {
	cfg      Config
	browser  research.Browser
	store    research.BlobStore
	hasher   research.Hasher
	clock    research.Clock
	recorder research.Recorder
	logger   *zap.Logger
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Browser == nil {
		return nil, errors.New("snapshot: browser is required")
	}
	if deps.Store == nil {
		return nil, errors.New("snapshot: blob store is required")
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		cfg.Prefix = "screenshots"
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Recorder == nil {
		deps.Recorder = research.NopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		browser:  deps.Browser,
		store:    deps.Store,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		recorder: deps.Recorder,
		logger:   deps.Logger.Named("snapshot"),
	}, nil
}

// MaxItems is the configured batch bound.
func (s *Service) MaxItems() int { return s.cfg.MaxItems }

// Capture screenshots urls in order within one session. It returns one
// Screenshot per input URL. maxItems <= 0 uses the configured bound.
func (s *Service) Capture(ctx context.Context, runID string, urls []string, maxItems int) []research.Screenshot {
	if maxItems <= 0 {
		maxItems = s.cfg.MaxItems
	}
	shots := make([]research.Screenshot, len(urls))
	for i, u := range urls {
		shots[i] = research.Screenshot{SourceURL: u, Status: research.CaptureSkipped}
	}
	if len(urls) == 0 {
		return shots
	}

	session, err := s.browser.Open(ctx)
	if err != nil {
		s.logger.Error("headless capture unavailable", zap.Error(err))
		s.recorder.Record("capture_unavailable", map[string]any{
			"error": err.Error(),
			"items": len(urls),
		}, eventCategory)
		for i := range shots {
			shots[i].Error = err.Error()
			shots[i].CapturedAt = s.clock.Now()
			metrics.ObserveSnapshot(string(research.CaptureSkipped))
		}
		return shots
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Warn("close capture session", zap.Error(cerr))
		}
	}()

	attempted := 0
	for i, rawURL := range urls {
		shot := &shots[i]
		shot.CapturedAt = s.clock.Now()
		switch {
		case i >= maxItems:
			shot.Error = "beyond batch limit"
		case !research.IsHTTPURL(rawURL):
			shot.Error = "not an http(s) url"
		case ctx.Err() != nil:
			shot.Error = ctx.Err().Error()
		default:
			if attempted > 0 && !s.pause(ctx) {
				shot.Error = ctx.Err().Error()
				break
			}
			attempted++
			s.captureOne(ctx, session, runID, i, shot)
		}
		metrics.ObserveSnapshot(string(shot.Status))
		s.recorder.Record("snapshot_"+strings.ToLower(string(shot.Status)), map[string]any{
			"url":          rawURL,
			"artifact_ref": shot.ArtifactRef,
			"bytes":        shot.Bytes,
			"error":        shot.Error,
		}, eventCategory)
	}
	return shots
}

// captureOne fills shot. A panic inside the session marks the item failed.
func (s *Service) captureOne(ctx context.Context, session research.Session, runID string, index int, shot *research.Screenshot) {
	defer func() {
		if r := recover(); r != nil {
			shot.Status = research.CaptureFailed
			shot.Error = fmt.Sprintf("capture panic: %v", r)
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	defer cancel()

	img, err := session.Capture(itemCtx, shot.SourceURL, s.cfg.PageTimeout)
	if err == nil && len(img) == 0 {
		err = errors.New("empty screenshot")
	}
	if err != nil {
		s.fail(shot, fmt.Errorf("capture: %w", err))
		return
	}

	name, err := s.artifactPath(runID, index, shot.SourceURL)
	if err != nil {
		s.fail(shot, err)
		return
	}
	uri, err := s.store.PutObject(ctx, name, "image/png", bytes.NewReader(img))
	if err != nil {
		s.fail(shot, fmt.Errorf("store screenshot: %w", err))
		return
	}
	shot.Status = research.CaptureSuccess
	shot.ArtifactRef = uri
	shot.Bytes = len(img)
	shot.Error = ""
	s.logger.Debug("screenshot stored", zap.String("url", shot.SourceURL), zap.String("artifact", uri))
}

func (s *Service) fail(shot *research.Screenshot, err error) {
	shot.Status = research.CaptureFailed
	shot.Error = err.Error()
	s.logger.Warn("screenshot failed", zap.String("url", shot.SourceURL), zap.Error(err))
}

// artifactPath is <prefix>/<run_id>/viral_<NN>_<sha256(url)[:12]>.png.
func (s *Service) artifactPath(runID string, index int, rawURL string) (string, error) {
	digest, err := s.hasher.Hash([]byte(rawURL))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	if len(digest) > 12 {
		digest = digest[:12]
	}
	if runID == "" {
		runID = "adhoc"
	}
	return path.Join(s.cfg.Prefix, runID, fmt.Sprintf("viral_%02d_%s.png", index+1, digest)), nil
}

func (s *Service) pause(ctx context.Context) bool {
	if s.cfg.Pause <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.cfg.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
