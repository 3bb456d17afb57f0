// Package score ranks extracted documents on a 0 to 100 scale.
package score

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Config sets the per-term caps. The caps double as weights.
type Config struct {
	SizeCap          float64  `mapstructure:"size_cap"`
	ContextCap       float64  `mapstructure:"context_cap"`
	DomainCap        float64  `mapstructure:"domain_cap"`
	DensityCap       float64  `mapstructure:"density_cap"`
	DataCap          float64  `mapstructure:"data_cap"`
	PreferredDomains []string `mapstructure:"preferred_domains"`
}

// DefaultConfig returns the stock caps (20/30/20/15/15) and curated domains.
func DefaultConfig() Config {
	return Config{
		SizeCap:          20,
		ContextCap:       30,
		DomainCap:        20,
		DensityCap:       15,
		DataCap:          15,
		PreferredDomains: append([]string(nil), DefaultPreferredDomains...),
	}
}

// DefaultPreferredDomains is the curated reputable-source list.
var DefaultPreferredDomains = []string{
	"g1.globo.com", "exame.com", "valor.globo.com", "estadao.com.br", "folha.uol.com.br",
	"canaltech.com.br", "tecmundo.com.br", "olhardigital.com.br", "infomoney.com.br",
	"startse.com", "revistapegn.globo.com", "epocanegocios.globo.com", "istoedinheiro.com.br",
	"convergenciadigital.com.br", "mobiletime.com.br", "teletime.com.br", "scielo.br",
	"ibge.gov.br", "fiocruz.br",
}

const maxScore = 100

// dataPatterns are the numeric/statistical families, each counted once.
var dataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s?%`),
	regexp.MustCompile(`(?:R\$|US\$|€|£|\$)\s*\d[\d.,]*`),
	regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*(?:mil|milhão|milhões|bilhão|bilhões|thousand|million|billion)\b`),
	regexp.MustCompile(`\b20\d{2}\b`),
	regexp.MustCompile(`(?i)\d+\s*(?:empresas|profissionais|clientes|usuários|consumidores|companies|professionals|customers|users)\b`),
}

// Scorer implements research.Scorer.
type Scorer struct {
	cfg       Config
	preferred *research.DomainMatcher
}

var _ research.Scorer = (*Scorer)(nil)

// New builds a Scorer, replacing non-positive caps with defaults.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.SizeCap <= 0 {
		cfg.SizeCap = def.SizeCap
	}
	if cfg.ContextCap <= 0 {
		cfg.ContextCap = def.ContextCap
	}
	if cfg.DomainCap <= 0 {
		cfg.DomainCap = def.DomainCap
	}
	if cfg.DensityCap <= 0 {
		cfg.DensityCap = def.DensityCap
	}
	if cfg.DataCap <= 0 {
		cfg.DataCap = def.DataCap
	}
	if cfg.PreferredDomains == nil {
		cfg.PreferredDomains = def.PreferredDomains
	}
	return &Scorer{cfg: cfg, preferred: research.NewDomainMatcher(cfg.PreferredDomains)}
}

// IsPreferred reports whether rawURL belongs to the curated domain list.
func (s *Scorer) IsPreferred(rawURL string) bool {
	return s.preferred.Matches(research.Hostname(rawURL))
}

// Score returns the capped sum of the five terms. Empty text scores 0.
func (s *Scorer) Score(text, rawURL string, qc research.QueryContext) float64 {
	return s.Breakdown(text, rawURL, qc).Total
}

// Breakdown exposes each term for logging and tests.
type Breakdown struct {
	Size    float64 `json:"size"`
	Context float64 `json:"context"`
	Domain  float64 `json:"domain"`
	Density float64 `json:"density"`
	Data    float64 `json:"data"`
	Total   float64 `json:"total"`
}

// Breakdown computes the individual terms.
func (s *Scorer) Breakdown(text, rawURL string, qc research.QueryContext) Breakdown {
	var b Breakdown
	if strings.TrimSpace(text) == "" {
		return b
	}
	b.Size = s.sizeTerm(utf8.RuneCountInString(text))
	b.Context = s.contextTerm(text, qc)
	b.Domain = s.domainTerm(rawURL)
	b.Density = s.densityTerm(len(strings.Fields(text)))
	b.Data = s.dataTerm(text)
	b.Total = min(b.Size+b.Context+b.Domain+b.Density+b.Data, maxScore)
	return b
}

func (s *Scorer) sizeTerm(chars int) float64 {
	var frac float64
	switch {
	case chars >= 2000:
		frac = 1
	case chars >= 1000:
		frac = 0.75
	case chars >= 500:
		frac = 0.5
	default:
		frac = 0.25
	}
	return s.cfg.SizeCap * frac
}

func (s *Scorer) contextTerm(text string, qc research.QueryContext) float64 {
	lower := strings.ToLower(text)
	per := s.cfg.ContextCap / 3
	seen := make(map[string]struct{}, 3)
	total := 0.0
	for _, term := range qc.Terms() {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		if strings.Contains(lower, term) {
			total += per
		}
	}
	return min(total, s.cfg.ContextCap)
}

func (s *Scorer) domainTerm(rawURL string) float64 {
	host := research.Hostname(rawURL)
	switch {
	case host != "" && s.preferred.Matches(host):
		return s.cfg.DomainCap
	case isInstitutional(host):
		return s.cfg.DomainCap * 0.75
	case isCountryOrg(host):
		return s.cfg.DomainCap * 0.5
	default:
		return s.cfg.DomainCap * 0.25
	}
}

func (s *Scorer) densityTerm(words int) float64 {
	switch {
	case words >= 500:
		return s.cfg.DensityCap
	case words >= 200:
		return s.cfg.DensityCap * 2 / 3
	default:
		return s.cfg.DensityCap / 3
	}
}

func (s *Scorer) dataTerm(text string) float64 {
	per := s.cfg.DataCap / float64(len(dataPatterns))
	total := 0.0
	for _, re := range dataPatterns {
		if re.MatchString(text) {
			total += per
		}
	}
	return min(total, s.cfg.DataCap)
}

// isInstitutional matches .gov, .edu and their country-code forms such as .gov.br.
func isInstitutional(host string) bool {
	labels := strings.Split(host, ".")
	n := len(labels)
	if n < 2 {
		return false
	}
	if last := labels[n-1]; last == "gov" || last == "edu" {
		return true
	}
	return n >= 3 && isCountryCode(labels[n-1]) && (labels[n-2] == "gov" || labels[n-2] == "edu")
}

func isCountryOrg(host string) bool {
	labels := strings.Split(host, ".")
	n := len(labels)
	return n >= 3 && isCountryCode(labels[n-1]) && labels[n-2] == "org"
}

func isCountryCode(label string) bool {
	if len(label) != 2 {
		return false
	}
	for _, r := range label {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
