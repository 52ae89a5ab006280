package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/sessionkit/core/config"
	"github.com/dmitrymomot/sessionkit/core/event"
	"github.com/dmitrymomot/sessionkit/core/logger"
	"github.com/dmitrymomot/sessionkit/core/session"
	mongodb "github.com/dmitrymomot/sessionkit/integration/database/mongo"
	mysqldb "github.com/dmitrymomot/sessionkit/integration/database/mysql"
	"github.com/dmitrymomot/sessionkit/integration/database/pg"
	redisdb "github.com/dmitrymomot/sessionkit/integration/database/redis"
	"github.com/dmitrymomot/sessionkit/integration/sessionstore/memory"
	mongostore "github.com/dmitrymomot/sessionkit/integration/sessionstore/mongo"
	redisstore "github.com/dmitrymomot/sessionkit/integration/sessionstore/redis"
	"github.com/dmitrymomot/sessionkit/integration/sessionstore/sqlstore"
)

var errUnknownStore = errors.New("sessiond: unknown store kind")

// backend is an opened session store with everything needed to run and stop it.
type backend struct {
	store  session.Store
	feed   event.Feed // nil when the store has no native change feed
	checks []func(context.Context) error
	close  func(context.Context) error
}

func openBackend(ctx context.Context, cfg Config, log *slog.Logger) (*backend, error) {
	log = log.With(logger.Store(cfg.Store))
	ns := cfg.Session.Namespace

	switch cfg.Store {
	case storeMemory:
		return &backend{
			store: memory.New(memory.WithSerializer(session.NewJSONSerializer())),
			close: func(context.Context) error { return nil },
		}, nil

	case storeRedis:
		var rc redisdb.Config
		if err := config.Load(&rc); err != nil {
			return nil, err
		}
		client, err := redisdb.Connect(ctx, rc)
		if err != nil {
			return nil, err
		}
		store := redisstore.New(client, redisstore.WithNamespace(ns))
		b := &backend{
			store:  store,
			checks: []func(context.Context) error{redisdb.Healthcheck(client)},
			close:  func(context.Context) error { return client.Close() },
		}
		if cfg.RedisKeyspaceFeed {
			b.feed = redisstore.NewFeed(store, redisstore.WithFeedLogger(log))
		}
		return b, nil

	case storePostgres:
		var pc pg.Config
		if err := config.Load(&pc); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, pc)
		if err != nil {
			return nil, err
		}
		db := pg.OpenDB(pool)
		closeAll := func(context.Context) error {
			err := db.Close()
			pool.Close()
			return err
		}

		migrations, err := sqlstore.Migrations(sqlstore.Postgres, ns)
		if err == nil {
			err = pg.Migrate(ctx, db, pc, log, migrations...)
		}
		var store *sqlstore.Store
		if err == nil {
			store, err = sqlstore.New(db, sqlstore.Postgres, sqlstore.WithTable(ns))
		}
		if err != nil {
			return nil, errors.Join(err, closeAll(ctx))
		}
		return &backend{
			store:  store,
			checks: []func(context.Context) error{pg.Healthcheck(pool)},
			close:  closeAll,
		}, nil

	case storeMySQL:
		var mc mysqldb.Config
		if err := config.Load(&mc); err != nil {
			return nil, err
		}
		db, err := mysqldb.Connect(ctx, mc)
		if err != nil {
			return nil, err
		}
		closeDB := func(context.Context) error { return db.Close() }

		migrations, err := sqlstore.Migrations(sqlstore.MySQL, ns)
		if err == nil {
			err = mysqldb.Migrate(ctx, db, mc, log, migrations...)
		}
		var store *sqlstore.Store
		if err == nil {
			store, err = sqlstore.New(db, sqlstore.MySQL, sqlstore.WithTable(ns))
		}
		if err != nil {
			return nil, errors.Join(err, closeDB(ctx))
		}
		return &backend{
			store:  store,
			checks: []func(context.Context) error{mysqldb.Healthcheck(db)},
			close:  closeDB,
		}, nil

	case storeMongo:
		var mc mongodb.Config
		if err := config.Load(&mc); err != nil {
			return nil, err
		}
		db, err := mongodb.NewWithDatabase(ctx, mc)
		if err != nil {
			return nil, err
		}
		client := db.Client()
		disconnect := func(ctx context.Context) error { return client.Disconnect(ctx) }

		opts := []mongostore.Option{mongostore.WithCollection(ns)}
		if cfg.MongoTTLGrace >= 0 {
			opts = append(opts, mongostore.WithTTLIndex(cfg.MongoTTLGrace))
		}
		store := mongostore.New(db, opts...)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, errors.Join(err, disconnect(ctx))
		}

		b := &backend{
			store:  store,
			checks: []func(context.Context) error{mongodb.Healthcheck(client)},
			close:  disconnect,
		}
		if cfg.MongoChangeStream {
			if err := store.EnablePreImages(ctx); err != nil {
				log.WarnContext(ctx, "pre-images unavailable, delete events will carry no snapshot",
					logger.Error(err))
			}
			b.feed = mongostore.NewFeed(store, mongostore.WithFeedLogger(log))
		}
		return b, nil
	}

	return nil, fmt.Errorf("%w: %q", errUnknownStore, cfg.Store)
}
