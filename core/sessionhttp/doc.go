// Package sessionhttp binds sessions from a session.Repository to HTTP requests.
//
// Middleware resolves the session id sent by the client, loads the session
// lazily on the first Get, and commits it before the response starts. New or
// renamed ids are written back through an IDResolver; an invalidated session,
// or an id the store no longer knows, has its id expired on the client.
//
//	repo, _ := session.NewRepository(store)
//	mux := http.NewServeMux()
//	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
//		sess, err := sessionhttp.Get(r.Context(), true)
//		if err != nil {
//			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
//			return
//		}
//		// Rotate the id on privilege change.
//		if _, err := sess.ChangeID(r.Context()); err != nil {
//			http.Error(w, err.Error(), http.StatusInternalServerError)
//			return
//		}
//		_ = sess.SetAttribute(r.Context(), session.PrincipalNameIndexName, "alice")
//	})
//	http.ListenAndServe(":8080", sessionhttp.Middleware(repo)(mux))
//
// # Resolvers
//
// CookieResolver is the default. It base64-encodes the id, optionally signs it
// with HMAC-SHA256 (WithSigningSecrets, rotation supported), and accepts every
// cookie with the configured name so that overlapping paths or domains do not
// hide a valid session. HeaderResolver carries the id in a request and response
// header, "X-Auth-Token" by default, for API clients.
//
// # Store failures
//
// When the store is unavailable, Get returns an error wrapping
// session.ErrStoreUnavailable, and a handler that wrote nothing gets a 503.
// With WithFailOpen(true) the request continues without a session and the
// client's id is left untouched, so the session is picked up again once the
// store recovers.
package sessionhttp
