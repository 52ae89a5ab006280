// Package redis connects to Redis with retries and exposes a health check.
//
// Connect parses a redis:// or rediss:// URL, retries PING with exponential
// backoff and returns a ready client:
//
//	client, err := redis.Connect(ctx, redis.Config{
//		ConnectionURL: "redis://localhost:6379/0",
//		RetryAttempts: 3,
//		RetryInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// The session store relies on keyspace notifications for expiry events. Set
// NotifyKeyspaceEvents (REDIS_NOTIFY_KEYSPACE_EVENTS=Egx) to have Connect
// enable them, or configure the server directly.
//
// Healthcheck returns a probe suitable for readiness endpoints:
//
//	probe := redis.Healthcheck(client)
//	if err := probe(ctx); err != nil {
//		// errors.Is(err, redis.ErrHealthcheckFailed)
//	}
package redis
