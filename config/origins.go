package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// sanitizeOrigins lowercases, deduplicates and sorts CORS origins, dropping
// blanks and trailing slashes. "*" is kept verbatim.
func sanitizeOrigins(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		origin := normalizeOrigin(raw)
		if origin == "" {
			continue
		}
		seen[origin] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for origin := range seen {
		out = append(out, origin)
	}
	sort.Strings(out)
	return out
}

func normalizeOrigin(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "*" {
		return value
	}
	return strings.TrimRight(value, "/")
}

func validateOrigins(values []string) error {
	for _, origin := range values {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return fmt.Errorf("server.allowed_origins: invalid origin %q", origin)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server.allowed_origins: origin %q must use http or https", origin)
		}
		if u.Path != "" {
			return fmt.Errorf("server.allowed_origins: origin %q must not carry a path", origin)
		}
	}
	return nil
}
