package credentials

import (
	"fmt"
	"strings"
)

// LoadFromEnv reads <PROVIDER>_API_KEY followed by <PROVIDER>_API_KEY_1..N
// from environ (os.Environ format), stopping at the first missing index.
// It returns the number of secrets loaded per provider.
func (p *Pool) LoadFromEnv(environ []string, providers []string) (map[string]int, error) {
	values := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		values[key] = value
	}

	loaded := make(map[string]int, len(providers))
	for _, provider := range providers {
		prefix := strings.ToUpper(normalizeProvider(provider)) + "_API_KEY"
		var secrets []string
		if v := strings.TrimSpace(values[prefix]); v != "" {
			secrets = append(secrets, v)
		}
		for i := 1; ; i++ {
			v, ok := values[fmt.Sprintf("%s_%d", prefix, i)]
			if !ok || strings.TrimSpace(v) == "" {
				break
			}
			secrets = append(secrets, v)
		}
		if len(secrets) == 0 {
			continue
		}
		if err := p.Add(provider, secrets...); err != nil {
			return nil, fmt.Errorf("load %s credentials: %w", provider, err)
		}
		loaded[normalizeProvider(provider)] = len(secrets)
	}
	return loaded, nil
}
