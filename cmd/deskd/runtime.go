package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/config"
	"github.com/example/desk-scheduler/internal/logging"
	"github.com/example/desk-scheduler/internal/notify"
	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/persistence/memory"
	"github.com/example/desk-scheduler/internal/persistence/postgres"
	"github.com/example/desk-scheduler/internal/persistence/sqlite"
	"github.com/example/desk-scheduler/internal/recurrence"
)

const availabilityCacheEntries = 256

// store is what every storage driver offers.
type store interface {
	persistence.DeskRepository
	persistence.ReservationRepository
	Migrate(ctx context.Context) error
	Close() error
}

// runtime holds the process wide dependencies built from the configuration.
type runtime struct {
	cfg       config.Config
	logger    *zap.Logger
	store     store
	publisher notify.Publisher
	redis     *redis.Client

	reservations *application.ReservationService
	desks        *application.DeskService
	sweeps       *application.SweepService
}

func loadConfig(opts *rootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "deskd")
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; reservations are lost on exit")
		return memory.New(), nil
	case config.StorePostgres:
		return postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN}, logger)
	case config.StoreSQLite:
		return sqlite.Open(sqlite.DefaultConfig(cfg.SQLitePath), logger)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// newRuntime opens the store and the publisher and wires the services.
func newRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	rt := &runtime{cfg: cfg, logger: logger, store: st}
	if cfg.Redis.Addr != "" {
		client := notify.NewRedisClient(cfg.Redis)
		if err := notify.Ping(ctx, client); err != nil {
			_ = client.Close()
			_ = st.Close()
			return nil, err
		}
		rt.redis = client
		rt.publisher = notify.NewRedisPublisher(client, cfg.Redis, logger)
	} else {
		rt.publisher = notify.NewLogPublisher(logger)
	}

	workdayStart, workdayEnd := cfg.Workday()
	cache := application.NewAvailabilityCache(cfg.AvailabilityCacheTTL, availabilityCacheEntries, nil)
	engine := recurrence.NewEngine(cfg.Location(), recurrence.WithMaxOccurrences(cfg.MaxOccurrences))
	settings := application.AvailabilitySettings{
		Location:     cfg.Location(),
		WorkdayStart: workdayStart,
		WorkdayEnd:   workdayEnd,
	}

	rt.reservations = application.NewReservationServiceWithLogger(st, st, engine, cache, uuid.NewString, nil, logger)
	rt.desks = application.NewDeskServiceWithLogger(st, st, cache, settings, uuid.NewString, nil, logger)
	rt.sweeps = application.NewSweepServiceWithLogger(st, st, cache, cfg.NoShowGrace, nil, logger)
	return rt, nil
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	_ = rt.logger.Sync()
	return errors.Join(errs...)
}
