package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// AnonymousIdentity is shared by every client whose address cannot be determined.
const AnonymousIdentity = "anonymous"

// ClientIdentity derives the rate-limit key for a request: the first
// X-Forwarded-For entry, else the peer host, else AnonymousIdentity.
func ClientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}

	return AnonymousIdentity
}
