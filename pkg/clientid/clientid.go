// Package clientid derives a stable client identity from request
// headers without retaining personally identifying raw data.
package clientid

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// uaDigestChars is how many hex characters of the User-Agent digest are
// kept in the fingerprint.
const uaDigestChars = 16

// unknownAddr is used when neither forwarding header is present.
const unknownAddr = "unknown"

// FromHeaders builds the composite client fingerprint: the first
// X-Forwarded-For hop, or X-Real-IP, or "unknown", joined with a
// truncated SHA-256 digest of the User-Agent. The value is recomputed
// per request and never stored on its own.
func FromHeaders(h http.Header) string {
	addr := unknownAddr
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			addr = first
		}
	} else if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		addr = realIP
	}

	sum := sha256.Sum256([]byte(h.Get("User-Agent")))
	return addr + "-" + hex.EncodeToString(sum[:])[:uaDigestChars]
}

// FromRequest is a convenience wrapper over FromHeaders.
func FromRequest(r *http.Request) string {
	return FromHeaders(r.Header)
}
