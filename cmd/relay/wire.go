package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/outboxrelay/relay/internal/adapters/breaker"
	"github.com/outboxrelay/relay/internal/adapters/messaging"
	"github.com/outboxrelay/relay/internal/adapters/outbox"
	"github.com/outboxrelay/relay/internal/adapters/processor"
	"github.com/outboxrelay/relay/internal/adapters/supervisor"
	"github.com/outboxrelay/relay/internal/config"
	"github.com/outboxrelay/relay/internal/logging"
)

// app bundles the wired-up components a CLI subcommand needs. Built once
// per invocation in main, never as a package-level singleton.
type app struct {
	cfg   *config.Config
	db    *sql.DB
	store *outbox.Store
	pub   *messaging.Publisher
	cb    *breaker.Breaker
	proc  *processor.Processor
	sup   *supervisor.Supervisor
	log   logging.Logger
}

func wire(cfg *config.Config) (*app, error) {
	log := logging.For("relay")

	db, err := sql.Open("postgres", cfg.Store.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Store.PoolSize)
	db.SetConnMaxIdleTime(cfg.Store.IdleTimeout)

	var cache *outbox.WatermarkCache
	if cfg.Store.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Store.RedisAddr, Password: cfg.Store.RedisPassword, DB: cfg.Store.RedisDB,
		})
		cache = outbox.NewWatermarkCache(rdb, cfg.Store.IdleTimeout)
	}

	store := outbox.NewWithCache(db, cache)

	pub, err := messaging.New(cfg.Broker, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	cb := breaker.New("broker-publish", cfg.Breaker, log)

	proc := processor.New(store, pub, cb, cfg.Retry, cfg.Batch, cfg.Broker, cfg.Relay.ConsumerName, 0, log)
	sup := supervisor.New(proc, store, pub, cb, cfg.Relay, cfg.Batch, log)

	return &app{cfg: cfg, db: db, store: store, pub: pub, cb: cb, proc: proc, sup: sup, log: log}, nil
}

func (a *app) close() {
	a.pub.Close()
	a.db.Close()
}
