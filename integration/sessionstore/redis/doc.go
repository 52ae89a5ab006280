// Package redis stores sessions in Redis and turns Redis notifications into
// session events.
//
// Each session is a hash holding metadata, serialized attributes and index
// values. A shadow key with the idle timeout as TTL marks liveness, while the
// hash itself lives five minutes longer so expiry listeners can read the final
// state. Index values are sets of ids, and a sorted set scored by expiry lets
// the sweeper find expired sessions without SCAN.
//
//	client, err := redisconn.Connect(ctx, cfg.Redis)
//	if err != nil {
//		return err
//	}
//	store := redis.New(client, redis.WithNamespace(cfg.Session.Namespace))
//	repo, err := session.NewRepository(store, session.WithPublisher(bridge))
//	bridge.Attach(redis.NewFeed(store))
//
// Saves write only the changed hash fields inside WATCH/MULTI, so concurrent
// writers of different attributes do not overwrite each other. Renames and
// conditional deletes run as Lua scripts.
//
// The feed needs keyspace notifications ("Egx" at least). It reports Created
// for sessions saved for the first time on any node, Expired when a shadow key
// expires and Deleted when one is removed explicitly.
package redis
