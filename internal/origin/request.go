package origin

import (
	"net/http"
	"strings"
)

// Policy applies the Origin allow-list to incoming HTTP requests.
//
// Allowed holds normalized origins (or "*"); when empty only same-host
// browser origins are accepted.
type Policy struct {
	Allowed []string
}

// Check reports whether r may proceed and returns its normalized Origin.
//
// Requests without an Origin header (non-browser clients) are allowed and
// return an empty origin. Requests that repeat the header are rejected.
func (p Policy) Check(r *http.Request) (normalizedOrigin string, ok bool) {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return "", true
	case 1:
	default:
		return "", false
	}

	raw := strings.TrimSpace(values[0])
	if raw == "" {
		return "", true
	}

	normalized, host, valid := NormalizeHeader(raw)
	if !valid || !p.allows(normalized, host, r.Host) {
		return "", false
	}
	return normalized, true
}

func (p Policy) allows(normalizedOrigin, originHost, requestHost string) bool {
	if len(p.Allowed) == 0 {
		return sameHost(normalizedOrigin, originHost, requestHost)
	}
	for _, allowed := range p.Allowed {
		if allowed == "*" || allowed == normalizedOrigin {
			return true
		}
	}
	return false
}
