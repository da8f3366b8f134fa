// Package di wires together the persistence layer, broker accounts, the
// rule engine, the worker queue, and the job manager into one running
// process. Concrete experts and broker providers are supplied by the
// embedding program; this package only wires the core.
package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmigette/tradecore/internal/apiserver"
	"github.com/bmigette/tradecore/internal/backup"
	"github.com/bmigette/tradecore/internal/broker"
	"github.com/bmigette/tradecore/internal/config"
	"github.com/bmigette/tradecore/internal/domain"
	"github.com/bmigette/tradecore/internal/jobmanager"
	"github.com/bmigette/tradecore/internal/queue"
	"github.com/bmigette/tradecore/internal/rules"
	"github.com/bmigette/tradecore/internal/store"
	"github.com/rs/zerolog"
)

// Container holds every long-lived component the running process needs,
// wired together by Wire.
type Container struct {
	DB       *store.DB
	Store    *store.Store
	Accounts *broker.AccountRegistry
	Experts  *jobmanager.ExpertRegistry
	Engine   *rules.Engine
	Queue    *queue.Manager
	Jobs     *jobmanager.Manager
	API      *apiserver.Server
	Backup   *backup.Service // nil when backup is not configured

	cache *broker.PriceCache
	log   zerolog.Logger
}

// executorSlot lets the queue.Manager and its jobmanager.Executor be
// constructed in either order despite the circular dependency between them
// (the executor needs the queue to resubmit expansion fan-out tasks; the
// queue needs an Executor at construction time).
type executorSlot struct {
	inner queue.Executor
}

func (s *executorSlot) Execute(ctx context.Context, task domain.PersistedQueueTask) error {
	return s.inner.Execute(ctx, task)
}

// Options carries everything Wire cannot construct itself: the broker
// providers per account and the expert factories per class tag, since
// concrete brokers and experts are out of scope.
type Options struct {
	Accounts       []AccountOption
	Experts        map[string]jobmanager.ExpertFactory
	Selector       domain.InstrumentSelector // optional; nil disables DYNAMIC expansion
	WorkerPoolSize int
}

// AccountOption binds one AccountDefinition to the broker.Provider that
// implements its I/O.
type AccountOption struct {
	Definition domain.AccountDefinition
	Provider   domain.BrokerProvider
}

// Wire initialises the database, persistence layer, broker/expert
// registries, rule engine, worker queue, and job manager, in that order.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*Container, error) {
	db, err := store.Open(store.Config{
		Path:    filepath.Join(cfg.DataDir, cfg.DBFile),
		Profile: store.ProfileLedger,
		Name:    "tradecore",
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	st := store.New(db)

	if err := cfg.UpdateFromSettings(ctx, st); err != nil {
		db.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}

	cache := broker.NewPriceCache(secondsToDuration(cfg.PriceCacheSeconds))
	accounts := broker.NewAccountRegistry()
	for _, a := range opts.Accounts {
		accounts.Register(broker.New(a.Definition, a.Provider, st, cache, log))
	}

	experts := jobmanager.NewExpertRegistry()
	for tag, factory := range opts.Experts {
		experts.Register(tag, factory)
	}

	engine := rules.New(st, log)

	poolSize := opts.WorkerPoolSize
	if poolSize < 1 {
		poolSize = 2
	}

	slot := &executorSlot{}
	q := queue.New(st, slot, poolSize, log)
	executor := jobmanager.NewExecutor(st, q, experts, accounts, opts.Selector, engine, log)
	slot.inner = executor

	jobs := jobmanager.New(st, q, experts, accounts, log)

	api := apiserver.New(apiserver.Config{
		Port:  cfg.Port,
		Queue: q,
		Store: st,
		Log:   log,
	})

	var backupSvc *backup.Service
	if cfg.BackupBucket != "" {
		backupSvc, err = backup.New(ctx, backup.Config{
			Bucket:          cfg.BackupBucket,
			Region:          cfg.BackupRegion,
			Endpoint:        cfg.BackupEndpoint,
			AccessKeyID:     cfg.BackupAccessKeyID,
			SecretAccessKey: cfg.BackupSecretAccessKey,
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("backup service not started")
		}
	}

	return &Container{
		DB:       db,
		Store:    st,
		Accounts: accounts,
		Experts:  experts,
		Engine:   engine,
		Queue:    q,
		Jobs:     jobs,
		API:      api,
		Backup:   backupSvc,
		cache:    cache,
		log:      log.With().Str("component", "di").Logger(),
	}, nil
}

// Start runs the startup reconciliation, then starts the
// worker pool and the job manager's scheduler.
func (c *Container) Start(ctx context.Context) error {
	if err := jobmanager.ReconcileStartup(ctx, c.Store); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	if err := c.Queue.ReconcileStartup(ctx); err != nil {
		return fmt.Errorf("queue startup reconciliation: %w", err)
	}

	for _, acct := range c.Accounts.All() {
		if err := c.cache.LoadSnapshot(ctx, c.Store, acct.Definition.ID); err != nil {
			c.log.Warn().Err(err).Int64("account_id", acct.Definition.ID).Msg("price cache warm-start failed")
		}
	}

	go c.Queue.Run(ctx)

	if err := c.Jobs.Start(ctx); err != nil {
		return fmt.Errorf("start job manager: %w", err)
	}

	if c.Backup != nil {
		err := c.Jobs.AddPeriodicFunc("backup_snapshot", 24*time.Hour, func(ctx context.Context) {
			if err := c.Backup.Snapshot(ctx, map[string]string{c.DB.Name(): c.DB.Path()}); err != nil {
				c.log.Error().Err(err).Msg("database backup failed")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule backup job: %w", err)
		}
	}

	go func() {
		if err := c.API.Start(); err != nil {
			c.log.Error().Err(err).Msg("apiserver stopped with error")
		}
	}()

	return nil
}

// Shutdown stops the job manager, worker queue, and HTTP server, then
// closes the database. Shutdown order matters: control plane first, then
// scheduler, then worker pool.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Jobs.Stop()
	c.Queue.Stop()
	if err := c.API.Shutdown(ctx); err != nil {
		c.log.Error().Err(err).Msg("apiserver shutdown error")
	}
	for _, acct := range c.Accounts.All() {
		if err := c.cache.SaveSnapshot(ctx, c.Store, acct.Definition.ID); err != nil {
			c.log.Warn().Err(err).Int64("account_id", acct.Definition.ID).Msg("price cache snapshot save failed")
		}
	}
	return c.DB.Close()
}

func secondsToDuration(seconds float64) (d time.Duration) {
	return time.Duration(seconds * float64(time.Second))
}
