package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/logger"
)

type ctxKey struct{}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithProduction("sessiond"),
		logger.WithOutput(&buf),
		logger.WithContextValue("request_id", ctxKey{}),
	)

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	log.InfoContext(ctx, "session created", logger.SessionID("s1"), logger.Error(nil))
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "session created", rec["msg"])
	assert.Equal(t, "sessiond", rec["service"])
	assert.Equal(t, "production", rec["env"])
	assert.Equal(t, "s1", rec["session_id"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.NotContains(t, rec, "error")
}

func TestNew_Development(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithDevelopment("sessiond"), logger.WithOutput(&buf))
	log.Debug("sweep finished", logger.Count("removed", 3))

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "removed=3")
	assert.Contains(t, out, "env=development")
}

func TestNew_ContextExtractorSurvivesWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithJSONFormatter(),
		logger.WithOutput(&buf),
		logger.WithContextExtractors(func(ctx context.Context) (slog.Attr, bool) {
			return slog.String("tenant", "acme"), true
		}),
	).With(logger.Component("bridge"))

	log.InfoContext(context.Background(), "started")
	assert.Contains(t, buf.String(), `"tenant":"acme"`)
	assert.Contains(t, buf.String(), `"component":"bridge"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := logger.ParseLevel("verbose")
	assert.Error(t, err)
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	t.Run("empty attrs for zero input", func(t *testing.T) {
		for _, attr := range []slog.Attr{
			logger.Error(nil),
			logger.Errors(nil, nil),
			logger.SessionID(""),
			logger.Principal(""),
			logger.EventID(""),
			logger.Source(""),
			logger.RequestID(""),
			logger.Key("k", nil),
		} {
			assert.True(t, attr.Equal(slog.Attr{}), attr.Key)
		}
	})

	t.Run("errors keep position", func(t *testing.T) {
		err1, err2 := errors.New("first"), errors.New("second")
		attr := logger.Errors(err1, nil, err2)
		require.Equal(t, slog.KindGroup, attr.Value.Kind())
		g := attr.Value.Group()
		require.Len(t, g, 2)
		assert.Equal(t, "0", g[0].Key)
		assert.Equal(t, "2", g[1].Key)
	})

	t.Run("values", func(t *testing.T) {
		assert.Equal(t, "s1", logger.SessionID("s1").Value.String())
		assert.Equal(t, "alice", logger.Principal("alice").Value.String())
		assert.Equal(t, time.Second, logger.Duration(time.Second).Value.Duration())
		assert.Equal(t, "expired", logger.EventKind(stringer("expired")).Value.String())
		assert.Equal(t, int64(404), logger.StatusCode(404).Value.Int64())
		assert.Equal(t, "cfg", logger.Group("cfg", slog.Int("n", 1)).Key)
	})
}

type stringer string

func (s stringer) String() string { return string(s) }
