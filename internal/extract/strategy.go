package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Strategy identifiers.
const (
	StrategyPDFText     = "pdf_text"
	StrategyPDFPages    = "pdf_pages"
	StrategyReadability = "readability"
	StrategySemantic    = "semantic"
	StrategySelectors   = "selectors"
	StrategyDynamic     = "dynamic"
	StrategyAggressive  = "aggressive"
)

// DefaultOrder is the stock strategy chain.
func DefaultOrder() []string {
	return []string{
		StrategyPDFText,
		StrategyPDFPages,
		StrategyReadability,
		StrategySemantic,
		StrategySelectors,
		StrategyDynamic,
		StrategyAggressive,
	}
}

// Input is the fetched document handed to each strategy.
type Input struct {
	URL            string
	Body           []byte
	DocumentType   research.DocumentType
	ScriptRendered bool
}

// Strategy turns a fetched document into text. A false return means the
// strategy produced nothing usable and the next one should run.
type Strategy interface {
	ID() string
	Applies(in Input) bool
	TryExtract(ctx context.Context, in Input) (string, bool)
}

// BuildStrategies resolves ids into strategy values once, at construction.
// ids may drop strategies from DefaultOrder but never reorder them.
func BuildStrategies(ids []string, pdf research.DocumentExtractor, pages research.DocumentExtractor, renderer research.Renderer) ([]Strategy, error) {
	if len(ids) == 0 {
		ids = DefaultOrder()
	}
	rank := make(map[string]int, len(DefaultOrder()))
	for i, id := range DefaultOrder() {
		rank[id] = i
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]Strategy, 0, len(ids))
	prev := ""
	for _, raw := range ids {
		id := strings.ToLower(strings.TrimSpace(raw))
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("extraction strategy %q listed twice", id)
		}
		seen[id] = struct{}{}
		if r, known := rank[id]; known {
			if prev != "" && r < rank[prev] {
				return nil, fmt.Errorf("extraction strategy %q must come before %q", id, prev)
			}
			prev = id
		}

		var s Strategy
		switch id {
		case StrategyPDFText:
			s = binaryStrategy{id: id, extractor: pdf}
		case StrategyPDFPages:
			s = binaryStrategy{id: id, extractor: pages}
		case StrategyReadability:
			s = readabilityStrategy{}
		case StrategySemantic:
			s = semanticStrategy{}
		case StrategySelectors:
			s = selectorStrategy{}
		case StrategyDynamic:
			s = dynamicStrategy{renderer: renderer}
		case StrategyAggressive:
			s = aggressiveStrategy{}
		default:
			return nil, fmt.Errorf("unknown extraction strategy %q", raw)
		}
		out = append(out, s)
	}
	return out, nil
}

// binaryStrategy adapts a DocumentExtractor to the strategy chain.
type binaryStrategy struct {
	id        string
	extractor research.DocumentExtractor
}

func (s binaryStrategy) ID() string { return s.id }

func (s binaryStrategy) Applies(in Input) bool {
	return s.extractor != nil && in.DocumentType.IsBinary()
}

func (s binaryStrategy) TryExtract(ctx context.Context, in Input) (string, bool) {
	text, err := s.extractor.ExtractText(ctx, in.Body)
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}
