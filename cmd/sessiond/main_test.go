package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/logger"
	"github.com/dmitrymomot/sessionkit/core/session"
)

func testConfig() Config {
	return Config{
		Store:           storeMemory,
		LogLevel:        "debug",
		LogFormat:       "json",
		HealthAddr:      "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		MongoTTLGrace:   -1,
		Session:         session.DefaultConfig(),
	}
}

func TestOpenBackend(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()

		b, err := openBackend(context.Background(), testConfig(), logger.Nop())
		require.NoError(t, err)
		assert.NotNil(t, b.store)
		assert.Nil(t, b.feed)
		assert.NoError(t, b.close(context.Background()))
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Store = "cassandra"
		_, err := openBackend(context.Background(), cfg, logger.Nop())
		assert.ErrorIs(t, err, errUnknownStore)
	})
}

func TestHealthMux(t *testing.T) {
	t.Parallel()

	failing := func(context.Context) error { return session.ErrStoreUnavailable }
	mux := healthMux(logger.Nop(), failing)

	tests := []struct {
		path string
		code int
	}{
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusServiceUnavailable},
		{"/ping", http.StatusNoContent},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, rec.Code, tt.path)
	}
}

func TestEventLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithJSONFormatter())

	snap := &event.Snapshot{
		ID:         "s1",
		Attributes: map[string]any{session.PrincipalNameIndexName: "alice"},
	}
	require.NoError(t, eventLogger(log).OnSessionEvent(context.Background(),
		event.New(event.Expired, "s1", snap, session.SourceSweeper)))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session event", entry["msg"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "expired", entry["kind"])
	assert.Equal(t, "alice", entry["principal"])
}

func TestRun_MemoryStore(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := run(ctx, testConfig(), logger.Nop())
	assert.NoError(t, err)
}
