package sessionhttp

import (
	"net/http"
	"strings"
)

// IDResolver moves session ids between requests and responses.
type IDResolver interface {
	// Resolve returns the session ids carried by r, most preferred first.
	Resolve(r *http.Request) []string
	// Set tells the client to use id from now on.
	Set(w http.ResponseWriter, r *http.Request, id string)
	// Expire tells the client to forget its session id.
	Expire(w http.ResponseWriter, r *http.Request)
}

// DefaultHeaderName is the header used by HeaderResolver unless configured otherwise.
const DefaultHeaderName = "X-Auth-Token"

// HeaderResolver carries the session id in a request and response header.
// It suits API clients that cannot keep cookies.
type HeaderResolver struct {
	name string
}

// NewHeaderResolver creates a resolver for the named header. An empty name
// selects DefaultHeaderName.
func NewHeaderResolver(name string) *HeaderResolver {
	if name == "" {
		name = DefaultHeaderName
	}
	return &HeaderResolver{name: http.CanonicalHeaderKey(name)}
}

// Resolve implements IDResolver.
func (h *HeaderResolver) Resolve(r *http.Request) []string {
	id := strings.TrimSpace(r.Header.Get(h.name))
	if id == "" {
		return nil
	}
	return []string{id}
}

// Set implements IDResolver.
func (h *HeaderResolver) Set(w http.ResponseWriter, _ *http.Request, id string) {
	w.Header().Set(h.name, id)
}

// Expire implements IDResolver by sending an empty header.
func (h *HeaderResolver) Expire(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(h.name, "")
}
