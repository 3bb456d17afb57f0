package search

import (
	"net/url"
	"path"
	"strings"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// DefaultBlockedDomains are login walls and marketplaces that never carry
// research content.
func DefaultBlockedDomains() []string {
	return []string{
		"instagram.com", "facebook.com", "twitter.com", "x.com", "linkedin.com",
		"youtube.com", "tiktok.com", "pinterest.com", "reddit.com",
		"accounts.google.com", "login.microsoft.com", "login.live.com",
		"amazon.com.br", "mercadolivre.com.br", "olx.com.br", "booking.com", "airbnb.com",
	}
}

// DefaultBlockedPaths are path segments of auth, commerce and legal pages.
func DefaultBlockedPaths() []string {
	return []string{
		"/login", "/signin", "/register", "/cadastro", "/auth", "/account",
		"/profile", "/settings", "/admin", "/dashboard", "/api/", "/download",
		"/cart", "/checkout", "/payment", "/privacy", "/terms", "/cookies", "/sitemap",
	}
}

// DefaultBlockedExtensions are binary assets. PDFs are extracted, not blocked.
func DefaultBlockedExtensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif", ".mp4", ".zip", ".exe"}
}

// DefaultIrrelevantTerms flag titles and snippets of navigation pages.
func DefaultIrrelevantTerms() []string {
	return []string{
		"login", "signin", "register", "cadastro", "carrinho", "comprar", "checkout",
		"pagamento", "download", "baixar", "termos de uso", "política de privacidade",
		"cookies", "fale conosco", "sobre nós", "trabalhe conosco", "vagas", "careers", "jobs",
	}
}

// relevanceFilter applies the static block-list and the lexical filter.
type relevanceFilter struct {
	blocked    *research.DomainMatcher
	allowed    *research.DomainMatcher
	paths      []string
	prefixes   []string
	extensions map[string]struct{}
	terms      *ahocorasick.Matcher
	threshold  int
}

func newRelevanceFilter(cfg Config) *relevanceFilter {
	f := &relevanceFilter{
		blocked:    research.NewDomainMatcher(cfg.BlockedDomains),
		allowed:    research.NewDomainMatcher(cfg.AllowedDomains),
		extensions: make(map[string]struct{}, len(cfg.BlockedExtensions)),
		threshold:  cfg.IrrelevantThreshold,
	}
	for _, p := range cfg.BlockedPaths {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case strings.HasSuffix(p, "/"):
			f.prefixes = append(f.prefixes, p)
		default:
			f.paths = append(f.paths, strings.Trim(p, "/"))
		}
	}
	for _, ext := range cfg.BlockedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	terms := make([]string, 0, len(cfg.IrrelevantTerms))
	for _, t := range cfg.IrrelevantTerms {
		if t = tokenText(t); strings.TrimSpace(t) != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) > 0 {
		f.terms = ahocorasick.NewStringMatcher(terms)
	}
	return f
}

// blockReason returns why rawURL is blocked, or "".
func (f *relevanceFilter) blockReason(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unparseable"
	}
	if f.blocked.Matches(u.Hostname()) {
		return "blocked_domain"
	}
	p := strings.ToLower(u.Path)
	if _, ok := f.extensions[path.Ext(p)]; ok {
		return "blocked_extension"
	}
	for _, prefix := range f.prefixes {
		if strings.Contains(p+"/", prefix) {
			return "blocked_path"
		}
	}
	for _, segment := range strings.Split(p, "/") {
		name := strings.TrimSuffix(segment, path.Ext(segment))
		for _, blocked := range f.paths {
			if name == blocked {
				return "blocked_path"
			}
		}
	}
	return ""
}

// irrelevantHits counts distinct vocabulary entries in title and snippet.
// Entries match whole tokens only, so "jobs" does not hit "jobseekers".
func (f *relevanceFilter) irrelevantHits(title, snippet string) int {
	if f.terms == nil {
		return 0
	}
	return len(f.terms.Match([]byte(tokenText(title + " " + snippet))))
}

// tokenText lowercases s and rewrites it as space-separated letter/digit
// tokens with a leading and trailing space, so substring matches over it
// land on token boundaries.
func tokenText(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

func (f *relevanceFilter) irrelevant(title, snippet string) bool {
	return f.threshold > 0 && f.irrelevantHits(title, snippet) >= f.threshold
}

func (f *relevanceFilter) preferred(rawURL string) bool {
	return f.allowed.Matches(research.Hostname(rawURL))
}
