package container

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"hypogate/adapters/memory"
	"hypogate/adapters/postgres"
	"hypogate/adapters/postgres/migrations"
	"hypogate/adapters/redislock"
	"hypogate/domain/core"
	"hypogate/internal/config"
	"hypogate/internal/errors"
	gatesvc "hypogate/internal/gate"
	"hypogate/internal/governance"
	"hypogate/internal/ledger"
	"hypogate/internal/locks"
	"hypogate/internal/metrics"
	"hypogate/internal/registry"
	"hypogate/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  core.Clock

	// Infrastructure
	DB    *sqlx.DB
	Redis *redis.Client

	Store   ports.Store
	Locker  ports.LockerPort
	Metrics *metrics.Registry

	// Services
	Registry   *registry.Service
	Ledger     *ledger.Service
	Statistics *gatesvc.CohortStatistics
	Gate       *gatesvc.Gate
	Governance *governance.Service
}

// New creates a container. Call Init before using any service.
func New(cfg *config.Config, logger zerolog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Container{
		Config:  cfg,
		Logger:  logger,
		Clock:   core.SystemClock{},
		Metrics: metrics.NewRegistry(),
	}, nil
}

// Init opens the configured store and lock backend and builds the services
func (c *Container) Init(ctx context.Context) error {
	if err := c.initStore(ctx); err != nil {
		return err
	}
	if err := c.initLocker(ctx); err != nil {
		return err
	}
	return c.initServices()
}

func (c *Container) initStore(ctx context.Context) error {
	switch c.Config.Store {
	case config.StoreMemory:
		c.Store = memory.NewStore()
		c.Logger.Warn().Msg("using in-memory store; data is lost on exit")
		return nil
	case config.StorePostgres:
		db, err := OpenDatabase(ctx, c.Config.Database)
		if err != nil {
			return err
		}
		migrator := migrations.NewMigrator(db.DB).WithLogger(func(format string, args ...any) {
			c.Logger.Info().Msgf(format, args...)
		})
		if err := migrator.Up(ctx); err != nil {
			db.Close()
			return errors.DatabaseError("database migration failed", err)
		}
		c.DB = db
		c.Store = postgres.NewStore(db, c.Config.Database.QueryTimeout)
		return nil
	}
	return errors.ConfigInvalid(fmt.Sprintf("unknown store %q", c.Config.Store))
}

// OpenDatabase connects to PostgreSQL and applies the pool settings
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
	if err != nil {
		return nil, errors.DatabaseError("failed to connect to database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	return db, nil
}

func (c *Container) initLocker(ctx context.Context) error {
	if c.Config.Lock.Backend != config.LockRedis {
		c.Locker = locks.NewKeyedMutex()
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: c.Config.Lock.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.Wrap(err, "failed to reach redis for evaluation locks")
	}
	c.Redis = client
	c.Locker = redislock.New(client, c.Config.Lock.TTL, c.Logger)
	return nil
}

func (c *Container) initServices() error {
	c.Registry = registry.NewService(c.Store, c.Clock, c.Logger)
	c.Ledger = ledger.NewService(c.Store, c.Store, c.Clock, c.Metrics, c.Logger)
	c.Statistics = gatesvc.NewCohortStatistics(c.Store, c.Store, c.Config.Gate.PBOSplits, c.Config.Gate.ExitGrid)

	g, err := gatesvc.New(gatesvc.Deps{
		Registry:   c.Store,
		Ledger:     c.Store,
		Store:      c.Store,
		Locker:     c.Locker,
		Statistics: c.Statistics,
		Writer:     gatesvc.NewEligibilityWriter(c.Clock),
		Clock:      c.Clock,
		Metrics:    c.Metrics,
		Logger:     c.Logger,
	}, gatesvc.Config{
		Thresholds:       c.Config.Gate.Thresholds,
		BatchConcurrency: c.Config.Scheduler.Concurrency,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create promotion gate")
	}
	c.Gate = g
	c.Governance = governance.NewService(c.Store, c.Clock, c.Logger)
	return nil
}

// Health pings the backing services
func (c *Container) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Shutdown releases connections
func (c *Container) Shutdown() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("failed to close database")
		}
	}
}
