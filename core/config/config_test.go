package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sessionkit/core/config"
	"github.com/dmitrymomot/sessionkit/core/session"
)

type storeConfig struct {
	Backend string        `env:"CFGTEST_STORE" envDefault:"memory" validate:"oneof=memory redis postgres mysql mongo"`
	Timeout time.Duration `env:"CFGTEST_TIMEOUT" envDefault:"5s"`
}

type cachedConfig struct {
	Name string `env:"CFGTEST_CACHED_NAME" envDefault:"first"`
}

type invalidConfig struct {
	Backend string `env:"CFGTEST_INVALID_STORE" validate:"required"`
}

type unparsableConfig struct {
	Size int `env:"CFGTEST_SIZE"`
}

func TestLoad(t *testing.T) {
	t.Setenv("CFGTEST_STORE", "redis")

	var cfg storeConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestLoad_Cached(t *testing.T) {
	var first cachedConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Name)

	t.Setenv("CFGTEST_CACHED_NAME", "second")
	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Name)
}

func TestLoad_Invalid(t *testing.T) {
	var cfg invalidConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "invalidConfig.Backend")
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("CFGTEST_SIZE", "big")

	var cfg unparsableConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParse)
}

func TestMustLoad(t *testing.T) {
	assert.Panics(t, func() {
		var cfg invalidConfig
		config.MustLoad(&cfg)
	})
}

func TestLoad_SessionConfig(t *testing.T) {
	t.Setenv("SESSION_MAX_INACTIVE_INTERVAL", "45m")
	t.Setenv("SESSION_FLUSH_MODE", "immediate")
	t.Setenv("SESSION_SAVE_MODE", "always")
	t.Setenv("SESSION_CLEANUP_CRON", "@every 30s")

	var cfg session.Config
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 45*time.Minute, cfg.MaxInactiveInterval)
	assert.Equal(t, session.FlushImmediate, cfg.FlushMode)
	assert.Equal(t, session.SaveAlways, cfg.SaveMode)
	assert.Equal(t, "session", cfg.Namespace)
	assert.Equal(t, "@every 30s", cfg.CleanupCron)
	assert.Equal(t, 100, cfg.CleanupBatchSize)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, config.Validate(session.DefaultConfig()))

	cfg := session.DefaultConfig()
	cfg.CleanupCron = ""
	assert.ErrorIs(t, config.Validate(cfg), config.ErrInvalid)

	assert.ErrorIs(t, config.Validate(42), config.ErrInvalid)
}
