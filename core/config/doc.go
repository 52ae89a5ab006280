// Package config loads typed configuration from environment variables.
// Each configuration type is parsed once, validated and cached.
//
// A .env file is read on first use. Parsing uses caarlos0/env tags and
// validation uses go-playground/validator tags.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/sessionkit/core/config"
//
//	type StoreConfig struct {
//		Backend string `env:"SESSION_STORE" envDefault:"memory" validate:"oneof=memory redis postgres mysql mongo"`
//		DSN     string `env:"SESSION_STORE_DSN"`
//	}
//
//	func main() {
//		var store StoreConfig
//
//		// Load with error handling
//		if err := config.Load(&store); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure (useful for startup)
//		config.MustLoad(&store)
//	}
//
// # Caching Behavior
//
// Each configuration type is loaded only once per application lifetime:
//
//	var cfg1 StoreConfig
//	config.Load(&cfg1) // Loads from environment
//
//	var cfg2 StoreConfig
//	config.Load(&cfg2) // Returns cached value, cfg1 == cfg2
//
// Different types are cached independently:
//
//	// Each type has its own cache entry
//	config.MustLoad(&session.Config{})
//	config.MustLoad(&redis.Config{})
//
// # Validation
//
// Validate checks values built in code with the same rules:
//
//	cfg := session.DefaultConfig()
//	cfg.CleanupBatchSize = 0
//	err := config.Validate(cfg) // errors.Is(err, config.ErrInvalid)
package config
