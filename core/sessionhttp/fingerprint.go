package sessionhttp

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"slices"
	"strings"
)

// FingerprintAttribute holds the client fingerprint recorded when a session is created.
const FingerprintAttribute = "_sessionhttp.fingerprint"

const fingerprintVersion = "v1:"

// Fingerprinter derives a stable client identifier from a request.
type Fingerprinter func(r *http.Request) string

// WithFingerprint binds new sessions to the client that created them. A
// session presented by a client with a different fingerprint is treated as
// absent. Sessions without a recorded fingerprint are accepted.
func WithFingerprint(fp Fingerprinter) Option {
	return func(m *middleware) { m.fingerprint = fp }
}

// HeaderFingerprint hashes the User-Agent, the Accept headers and the set of
// stable browser headers present. The client IP is left out so that mobile
// and VPN users keep their sessions.
func HeaderFingerprint(r *http.Request) string {
	return fingerprint(r, true)
}

// UserAgentFingerprint hashes only the User-Agent and the header set, for API
// clients whose Accept headers vary with content negotiation.
func UserAgentFingerprint(r *http.Request) string {
	return fingerprint(r, false)
}

func fingerprint(r *http.Request, accept bool) string {
	components := []string{r.UserAgent()}
	if accept {
		components = append(components,
			r.Header.Get("Accept-Language"),
			r.Header.Get("Accept-Encoding"),
			r.Header.Get("Accept"),
		)
	}
	components = append(components, headerSet(r))

	// Pipe-joined so ["ab","c"] and ["a","bc"] differ.
	components = slices.DeleteFunc(components, func(s string) bool { return s == "" })
	hash := sha256.Sum256([]byte(strings.Join(components, "|")))
	return fingerprintVersion + hex.EncodeToString(hash[:16])
}

// headerSet lists which stable browser headers are present, not their values.
func headerSet(r *http.Request) string {
	var names []string
	for name := range r.Header {
		switch n := strings.ToLower(name); n {
		case "user-agent", "accept", "accept-language", "accept-encoding",
			"connection", "upgrade-insecure-requests", "sec-fetch-dest",
			"sec-fetch-mode", "sec-fetch-site", "cache-control":
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}
