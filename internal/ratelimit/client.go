package ratelimit

import (
	"net"
	"net/http"
)

// ClientKey returns the per-client limiter key for r: the host part of
// RemoteAddr. Forwarding headers are not trusted.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
