package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskwatch/internal/api"
	"taskwatch/internal/cache"
	"taskwatch/internal/config"
	"taskwatch/internal/crypto"
	"taskwatch/internal/database"
	"taskwatch/internal/events"
	"taskwatch/internal/services/scheduler"
	"taskwatch/internal/services/tasks"
	"taskwatch/internal/services/tracking"
)

const redisPingTimeout = 3 * time.Second

// App holds every service a command can need
type App struct {
	ctx       context.Context
	cfg       *config.Config
	log       *zap.SugaredLogger
	client    *api.Client
	db        *gorm.DB
	redis     *redis.Client
	publisher events.Publisher
	waiter    *tasks.Waiter
	tracking  *tracking.Service
	scheduler *scheduler.Service
}

// NewApp wires the services from cfg. Close releases what it opened.
func NewApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	a := &App{ctx: ctx, cfg: cfg, log: log}

	apiCfg := cfg.API
	if apiCfg.PasswordSealed != "" {
		password, err := openSealed(apiCfg.PasswordSealed, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open api.password_sealed: %w", err)
		}
		apiCfg.Password = password
	}
	a.client = api.NewClient(apiCfg, log)

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.db = db

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = publisher
		log.Infow("publishing wait events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		a.publisher = events.Discard{}
	}

	opts := []tasks.Option{
		tasks.WithLogger(log),
		tasks.WithDefaultPollInterval(cfg.Waiter.PollInterval),
		tasks.WithMaxInterval(cfg.Waiter.MaxInterval),
		tasks.WithChildTimeout(cfg.Waiter.ChildTimeout),
	}
	if stateCache := a.stateCache(); stateCache != nil {
		opts = append(opts, tasks.WithCache(stateCache))
	}
	a.waiter = tasks.NewWaiter(a.client, opts...)

	a.tracking = tracking.NewService(a.waiter, tracking.NewGormJournal(db), a.publisher, log)
	a.scheduler = scheduler.NewService(db, ctx, a.tracking, log)
	return a, nil
}

// stateCache returns nil unless caching is configured. A reachable Redis wins;
// otherwise waiter.cache_capacity above zero selects an in-process LRU.
func (a *App) stateCache() cache.StateCache {
	if addr := a.cfg.Cache.RedisAddress; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		})

		ctx, cancel := context.WithTimeout(a.ctx, redisPingTimeout)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			a.redis = client
			a.log.Infow("using redis state cache", "address", addr)
			prefix := cache.ScopedPrefix(a.cfg.Cache.Prefix, a.cfg.API.BaseURL)
			return cache.NewRedis(client, prefix, a.cfg.Cache.TTL, a.log)
		}
		a.log.Warnw("redis unreachable, using in-process cache", "address", addr, "error", err)
		_ = client.Close()
	}

	if a.cfg.Waiter.CacheCapacity <= 0 {
		return nil
	}
	return cache.NewLRU(a.cfg.Waiter.CacheCapacity)
}

// Close stops the scheduler and releases connections
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warnw("error closing event publisher", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warnw("error closing redis client", "error", err)
		}
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warnw("error closing database", "error", err)
	}
}

func openSealed(sealed string, log *zap.SugaredLogger) (string, error) {
	key, err := crypto.LoadKey(log)
	if err != nil {
		return "", err
	}
	c, err := crypto.NewCipher(key)
	if err != nil {
		return "", err
	}
	return c.Open(sealed)
}
