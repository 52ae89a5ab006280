package sessionhttp

import (
	"bufio"
	"net"
	"net/http"

	"github.com/dmitrymomot/sessionkit/core/logger"
)

// responseWriter commits the session right before the response starts.
type responseWriter struct {
	http.ResponseWriter
	st          *state
	wroteHeader bool
	failed      bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true

	if err := rw.st.commit(rw.ResponseWriter); err != nil {
		rw.failed = true
		rw.st.m.logger.ErrorContext(rw.st.r.Context(), "failed to commit session before response",
			logger.StatusCode(code),
			logger.Error(err))
		rw.st.m.errorHandler(rw.ResponseWriter, rw.st.r, err)
		return
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write discards the body once a commit failure replaced the response.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if rw.failed {
		return len(b), nil
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if rw.failed {
		return
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack commits the session and hands the connection over, as needed for WebSocket upgrades.
// Headers set by the commit are not sent; the caller writes its own handshake.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	if !rw.wroteHeader {
		if err := rw.st.commit(rw.ResponseWriter); err != nil {
			return nil, nil, err
		}
		rw.wroteHeader = true
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
