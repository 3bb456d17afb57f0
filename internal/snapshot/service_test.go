package snapshot

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/storage/memory"
)

type fakeSession struct {
	mu       sync.Mutex
	images   map[string][]byte
	errs     map[string]error
	panics   map[string]bool
	visited  []string
	closed   bool
	timeouts []time.Duration
}

func (f *fakeSession) Capture(_ context.Context, url string, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.visited = append(f.visited, url)
	f.timeouts = append(f.timeouts, timeout)
	f.mu.Unlock()
	if f.panics[url] {
		panic("renderer crashed")
	}
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if img, ok := f.images[url]; ok {
		return img, nil
	}
	return []byte("\x89PNG-" + url), nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeBrowser struct {
	session *fakeSession
	err     error
}

func (b *fakeBrowser) Open(context.Context) (research.Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (e *eventLog) Record(name string, _ map[string]any, _ string) {
	e.mu.Lock()
	e.names = append(e.names, name)
	e.mu.Unlock()
}

func newService(t *testing.T, browser research.Browser, store research.BlobStore, rec research.Recorder) *Service {
	t.Helper()
	svc, err := New(Config{MaxItems: 3, PageTimeout: time.Second, Pause: time.Millisecond}, Deps{
		Browser:  browser,
		Store:    store,
		Recorder: rec,
	})
	require.NoError(t, err)
	return svc
}

func TestNewRequiresBrowserAndStore(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultConfig(), Deps{Store: memory.NewBlobStore()})
	require.ErrorContains(t, err, "browser")
	_, err = New(DefaultConfig(), Deps{Browser: &fakeBrowser{}})
	require.ErrorContains(t, err, "store")

	svc, err := New(Config{}, Deps{Browser: &fakeBrowser{}, Store: memory.NewBlobStore()})
	require.NoError(t, err)
	require.Equal(t, 10, svc.MaxItems())
}

func TestCaptureStoresArtifacts(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	store := memory.NewBlobStore()
	events := &eventLog{}
	svc := newService(t, &fakeBrowser{session: session}, store, events)

	urls := []string{"https://youtube.com/watch?v=a", "https://youtube.com/watch?v=b"}
	shots := svc.Capture(context.Background(), "run-42", urls, 0)

	require.Len(t, shots, 2)
	pathRE := regexp.MustCompile(`^memory://screenshots/run-42/viral_0[12]_[0-9a-f]{12}\.png$`)
	for i, shot := range shots {
		require.Equal(t, research.CaptureSuccess, shot.Status, shot.Error)
		require.Equal(t, urls[i], shot.SourceURL)
		require.Regexp(t, pathRE, shot.ArtifactRef)
		require.Positive(t, shot.Bytes)
		require.Empty(t, shot.Error)
	}
	require.Contains(t, shots[0].ArtifactRef, "viral_01_")
	require.Contains(t, shots[1].ArtifactRef, "viral_02_")
	require.Len(t, store.Paths(), 2)
	require.True(t, session.closed)
	require.Equal(t, []time.Duration{time.Second, time.Second}, session.timeouts)
	require.Equal(t, []string{"snapshot_success", "snapshot_success"}, events.names)
}

func TestCaptureIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		images: map[string][]byte{"https://a.com/empty": {}},
		errs:   map[string]error{"https://a.com/timeout": context.DeadlineExceeded},
		panics: map[string]bool{"https://a.com/crash": true},
	}
	svc, err := New(Config{MaxItems: 10, Pause: time.Millisecond}, Deps{
		Browser: &fakeBrowser{session: session},
		Store:   memory.NewBlobStore(),
	})
	require.NoError(t, err)

	urls := []string{
		"https://a.com/empty",
		"https://a.com/timeout",
		"https://a.com/crash",
		"https://a.com/ok",
	}
	shots := svc.Capture(context.Background(), "run", urls, 0)

	require.Equal(t, research.CaptureFailed, shots[0].Status)
	require.Contains(t, shots[0].Error, "empty screenshot")
	require.Equal(t, research.CaptureFailed, shots[1].Status)
	require.Contains(t, shots[1].Error, "deadline")
	require.Equal(t, research.CaptureFailed, shots[2].Status)
	require.Contains(t, shots[2].Error, "panic")
	require.Equal(t, research.CaptureSuccess, shots[3].Status)
	require.Equal(t, urls, session.visited)
	require.True(t, session.closed)
}

func TestCaptureStoreErrorFailsItem(t *testing.T) {
	t.Parallel()

	svc := newService(t, &fakeBrowser{session: &fakeSession{}}, failingStore{}, nil)
	shots := svc.Capture(context.Background(), "run", []string{"https://a.com"}, 0)
	require.Equal(t, research.CaptureFailed, shots[0].Status)
	require.Contains(t, shots[0].Error, "bucket unavailable")
	require.Empty(t, shots[0].ArtifactRef)
}

func TestCaptureSkipsBeyondLimitAndNonHTTP(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	svc := newService(t, &fakeBrowser{session: session}, memory.NewBlobStore(), nil)
	urls := []string{"https://a.com/1", "ftp://a.com/2", "https://a.com/3", "https://a.com/4"}

	shots := svc.Capture(context.Background(), "run", urls, 2)

	require.Equal(t, research.CaptureSuccess, shots[0].Status)
	require.Equal(t, research.CaptureSkipped, shots[1].Status)
	require.Equal(t, "not an http(s) url", shots[1].Error)
	require.Equal(t, research.CaptureSkipped, shots[2].Status)
	require.Equal(t, "beyond batch limit", shots[2].Error)
	require.Equal(t, research.CaptureSkipped, shots[3].Status)
	require.Equal(t, []string{"https://a.com/1"}, session.visited)
}

func TestCaptureBrowserUnavailable(t *testing.T) {
	t.Parallel()

	events := &eventLog{}
	svc := newService(t, &fakeBrowser{err: research.ErrCaptureUnavailable}, memory.NewBlobStore(), events)
	shots := svc.Capture(context.Background(), "run", []string{"https://a.com", "https://b.com"}, 0)

	require.Len(t, shots, 2)
	for _, shot := range shots {
		require.Equal(t, research.CaptureSkipped, shot.Status)
		require.NotEmpty(t, shot.Error)
	}
	require.Equal(t, []string{"capture_unavailable"}, events.names)
}

func TestCaptureCanceledContextSkipsRemaining(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	svc := newService(t, &fakeBrowser{session: session}, memory.NewBlobStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	shots := svc.Capture(ctx, "run", []string{"https://a.com"}, 0)
	require.Equal(t, research.CaptureSkipped, shots[0].Status)
	require.Empty(t, session.visited)
	require.True(t, session.closed)
}

func TestCaptureEmptyInput(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{err: errors.New("must not open")}
	svc := newService(t, browser, memory.NewBlobStore(), nil)
	require.Empty(t, svc.Capture(context.Background(), "run", nil, 0))
}

func TestArtifactPathDefaultsRunID(t *testing.T) {
	t.Parallel()

	svc := newService(t, &fakeBrowser{}, memory.NewBlobStore(), nil)
	p, err := svc.artifactPath("", 0, "https://a.com")
	require.NoError(t, err)
	require.Regexp(t, `^screenshots/adhoc/viral_01_[0-9a-f]{12}\.png$`, p)
}
