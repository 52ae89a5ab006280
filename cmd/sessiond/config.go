package main

import (
	"time"

	"github.com/dmitrymomot/sessionkit/core/session"
)

// Store kinds accepted by SESSIOND_STORE.
const (
	storeMemory   = "memory"
	storeRedis    = "redis"
	storePostgres = "postgres"
	storeMySQL    = "mysql"
	storeMongo    = "mongo"
)

// Config is the daemon configuration. Connection settings of the selected
// store are loaded separately so unused stores need no variables.
type Config struct {
	Store      string `env:"SESSIOND_STORE" envDefault:"memory" validate:"oneof=memory redis postgres mysql mongo"`
	LogLevel   string `env:"SESSIOND_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat  string `env:"SESSIOND_LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	HealthAddr string `env:"SESSIOND_HEALTH_ADDR" envDefault:":8081"`

	// ShutdownTimeout bounds the health server shutdown.
	ShutdownTimeout time.Duration `env:"SESSIOND_SHUTDOWN_TIMEOUT" envDefault:"15s" validate:"gte=0"`

	// MongoChangeStream subscribes to a change stream for Created, Expired and
	// Deleted events written by other processes. Requires a replica set.
	MongoChangeStream bool `env:"SESSIOND_MONGO_CHANGE_STREAM" envDefault:"false"`
	// MongoTTLGrace enables a TTL index that lets the server remove sessions
	// this long after expiry. Negative disables it.
	MongoTTLGrace time.Duration `env:"SESSIOND_MONGO_TTL_GRACE" envDefault:"-1s"`
	// RedisKeyspaceFeed subscribes to keyspace notifications for expiry events.
	RedisKeyspaceFeed bool `env:"SESSIOND_REDIS_KEYSPACE_FEED" envDefault:"true"`

	Session session.Config
}
