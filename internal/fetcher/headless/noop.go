package headless

import (
	"context"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Noop stands in when headless Chrome is disabled. Every call reports
// research.ErrCaptureUnavailable.
type Noop struct{}

var (
	_ research.Renderer = Noop{}
	_ research.Browser  = Noop{}
)

// NewNoop creates a new Noop engine.
func NewNoop() Noop {
	return Noop{}
}

// Render implements research.Renderer.
func (Noop) Render(context.Context, string) ([]byte, error) {
	return nil, research.ErrCaptureUnavailable
}

// Open implements research.Browser.
func (Noop) Open(context.Context) (research.Session, error) {
	return nil, research.ErrCaptureUnavailable
}
