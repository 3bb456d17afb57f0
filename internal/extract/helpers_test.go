package extract

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
	"github.com/JakeFAU/web-research-pipeline/internal/validate"
)

const ptParagraph = "O mercado de cafés especiais no Brasil cresceu de forma consistente nos últimos anos, " +
	"com a participação de pequenos produtores e de novas cooperativas que buscam qualidade para o consumidor."

func articleHTML(paragraphs int) string {
	var sb strings.Builder
	sb.WriteString("<html><head><title>Cafés especiais</title></head><body>")
	sb.WriteString("<nav><a href='/'>Home</a><a href='/sobre'>Sobre</a></nav><article>")
	for i := 0; i < paragraphs; i++ {
		sb.WriteString("<p>")
		sb.WriteString(ptParagraph)
		sb.WriteString("</p>")
	}
	sb.WriteString("</article><footer>Todos os direitos reservados</footer></body></html>")
	return sb.String()
}

type fakeFetcher struct {
	resp  research.FetchResponse
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (research.FetchResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return research.FetchResponse{}, f.err
	}
	resp := f.resp
	if resp.URL == "" {
		resp.URL = url
	}
	return resp, nil
}

func htmlResponse(body string) research.FetchResponse {
	return research.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []string
	last   map[string]map[string]any
}

func (r *recordingRecorder) Record(name string, payload map[string]any, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
	if r.last == nil {
		r.last = make(map[string]map[string]any)
	}
	r.last[name] = payload
}

func (r *recordingRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingRecorder) count(name string) int {
	n := 0
	for _, e := range r.names() {
		if e == name {
			n++
		}
	}
	return n
}

// scriptedStrategy returns fixed output and counts calls.
type scriptedStrategy struct {
	id    string
	text  string
	ok    bool
	panic bool
	calls *atomic.Int32
}

func (s scriptedStrategy) ID() string { return s.id }

func (s scriptedStrategy) Applies(Input) bool { return true }

func (s scriptedStrategy) TryExtract(context.Context, Input) (string, bool) {
	s.calls.Add(1)
	if s.panic {
		panic("strategy blew up")
	}
	return s.text, s.ok
}

func newGate() *validate.Gate {
	return validate.New(validate.DefaultConfig())
}
