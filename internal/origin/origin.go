// Package origin implements the cross-origin allow-list policy for the
// propgate gateway. Patterns come from a single comma-separated
// configuration value and support three forms: the bare wildcard "*",
// an exact origin ("https://app.example.com"), and a suffix wildcard
// ("*.example.com") matching any subdomain over any scheme.
package origin

import "strings"

// Policy is an immutable, parsed origin allow-list.
type Policy struct {
	patterns []string
	allowAll bool
}

// ParsePolicy builds a Policy from a comma-separated pattern list.
// An empty list or a bare "*" allows every origin.
func ParsePolicy(raw string) *Policy {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return &Policy{allowAll: true}
	}

	var patterns []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item == "*" {
			return &Policy{allowAll: true}
		}
		patterns = append(patterns, item)
	}
	if len(patterns) == 0 {
		return &Policy{allowAll: true}
	}
	return &Policy{patterns: patterns}
}

// AllowAll reports whether the policy admits every origin.
func (p *Policy) AllowAll() bool {
	return p.allowAll
}

// Match returns the Access-Control-Allow-Origin value for the given
// request origin: "*" under an allow-all policy, the exact origin on a
// pattern match, or "" when the origin is not admitted.
func (p *Policy) Match(origin string) string {
	if origin == "" {
		return ""
	}
	if p.allowAll {
		return "*"
	}
	for _, pattern := range p.patterns {
		if pattern == origin {
			return origin
		}
		if strings.HasPrefix(pattern, "*.") {
			// keep the leading dot so "evilexample.com" does not
			// match "*.example.com"
			suffix := pattern[1:]
			if strings.HasSuffix(origin, suffix) {
				return origin
			}
		}
	}
	return ""
}

// Allowed reports whether the origin matches the policy. Suitable for
// cors.Options.AllowOriginFunc.
func (p *Policy) Allowed(origin string) bool {
	return p.Match(origin) != ""
}
