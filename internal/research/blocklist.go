package research

import "strings"

// DomainMatcher stores exact hosts and suffix wildcards derived from configuration.
type DomainMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainMatcher builds a matcher from entries such as "example.com",
// "*.example.com", or ".example.com". Bare entries also match their subdomains
// so "facebook.com" covers "m.facebook.com".
func NewDomainMatcher(patterns []string) *DomainMatcher {
	matcher := &DomainMatcher{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		value = strings.TrimPrefix(value, "www.")
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
			matcher.addSuffix(value)
		}
	}
	return matcher
}

func (m *DomainMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

// Matches reports whether host is listed.
func (m *DomainMatcher) Matches(host string) bool {
	if m == nil {
		return false
	}
	host = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(host)), "www.")
	if host == "" {
		return false
	}
	if _, exact := m.exact[host]; exact {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct entries.
func (m *DomainMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.suffixes)
}
