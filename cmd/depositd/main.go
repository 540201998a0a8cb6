package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/coinhaven/depositd/command"
	"github.com/coinhaven/depositd/core"
	"github.com/coinhaven/depositd/deadletter"
	"github.com/coinhaven/depositd/ledger"
	depositmigrations "github.com/coinhaven/depositd/migrations"
	"github.com/coinhaven/depositd/ratelimit"
	"github.com/coinhaven/depositd/resolve"
	"github.com/coinhaven/depositd/server"
	sqlstore "github.com/coinhaven/depositd/store/sql"
	"github.com/coinhaven/depositd/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "depositd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "config/app.yaml", "path to the configuration file")
	retryDrain := flag.Bool("retry-dead-letters", false, "drain the dead letter queue and exit")
	sweepExpired := flag.Bool("sweep-expired", false, "expire aged dead letter events and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfig(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	_, logger := glog.Resolve(cfg.ServiceName, nil, nil)

	client, err := openPersistence(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}

	directory, err := buildAddressDirectory(factory)
	if err != nil {
		return err
	}
	resolver, err := resolve.New(directory, logger)
	if err != nil {
		return err
	}

	writer, err := ledger.NewWriter(
		factory.DepositTransactionStore(),
		factory.DepositStore(),
		factory.UserAssetStore(),
		factory.NotificationStore(),
		ledger.NewConfirmationPolicy(cfg.Confirmations),
		logger,
	)
	if err != nil {
		return err
	}

	limiter, err := buildLimiter(cfg, logger)
	if err != nil {
		return err
	}

	pipeline, err := webhook.NewPipeline(webhook.PipelineConfig{
		Secret:      cfg.Webhook.Secret,
		IdentityKey: cfg.RateLimit.IdentityKey,
		AuditLog:    cfg.Features.AuditLog,
	}, limiter, resolver, writer, nil, logger)
	if err != nil {
		return err
	}

	queue, err := deadletter.NewQueue(factory.DeadLetterStore(), pipeline, deadletter.Options{
		MaxRetries:    cfg.DeadLetter.MaxRetries,
		RetryBase:     cfg.DeadLetter.RetryDelayBase(),
		MaxRetryDelay: cfg.DeadLetter.MaxRetryDelay(),
		MaxAge:        cfg.DeadLetter.MaxAge(),
		BatchSize:     cfg.DeadLetter.BatchSize,
		Workers:       cfg.DeadLetter.Workers,
	}, logger)
	if err != nil {
		return err
	}
	pipeline.AttachQueue(queue)

	if *retryDrain || *sweepExpired {
		return runMaintenance(ctx, queue, logger, *retryDrain, *sweepExpired)
	}

	scheduler, err := deadletter.NewScheduler(queue, cfg.DeadLetter.RetrySchedule, cfg.DeadLetter.SweepSchedule, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		drained := scheduler.Stop()
		select {
		case <-drained.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("scheduler drain timed out")
		}
	}()

	srv, err := server.New(cfg.Server, pipeline, queue, client.DB(), logger)
	if err != nil {
		return err
	}

	logger.Info("starting deposit webhook service",
		"environment", cfg.Environment,
		"driver", cfg.Database.Driver,
		"distributed_rate_limit", cfg.Features.DistributedRateLimit,
	)
	return srv.Run(ctx)
}

// runMaintenance dispatches one-shot operator work through the command bus
// instead of calling the queue directly; the server stays down.
func runMaintenance(ctx context.Context, queue *deadletter.Queue, logger core.Logger, drain, sweep bool) error {
	if drain {
		collector := gocmd.NewResult[[]deadletter.RetryResult]()
		cmdCtx := gocmd.ContextWithResult(ctx, collector)
		if err := command.NewRetryAllDeadLettersCommand(queue).Execute(cmdCtx, command.RetryAllDeadLettersMessage{}); err != nil {
			return fmt.Errorf("retry dead letters: %w", err)
		}
		results, _ := collector.Load()
		succeeded := 0
		for _, result := range results {
			if result.Success {
				succeeded++
			}
		}
		logger.Info("dead letter drain finished",
			"attempted", len(results),
			"succeeded", succeeded,
		)
	}
	if sweep {
		collector := gocmd.NewResult[int]()
		cmdCtx := gocmd.ContextWithResult(ctx, collector)
		if err := command.NewSweepExpiredCommand(queue).Execute(cmdCtx, command.SweepExpiredMessage{}); err != nil {
			return fmt.Errorf("sweep expired: %w", err)
		}
		swept, _ := collector.Load()
		logger.Info("expired dead letter sweep finished", "swept", swept)
	}
	return nil
}

func openPersistence(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	var dialect schema.Dialect
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres":
		dialect = pgdialect.New()
	case "sqlite", "sqlite3":
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(driverName(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	target := depositmigrations.DialectPostgres
	if strings.HasPrefix(strings.ToLower(cfg.Driver), "sqlite") {
		target = depositmigrations.DialectSQLite
	}
	_, err = depositmigrations.Register(ctx, func(_ context.Context, dialect string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, depositmigrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func driverName(driver string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(driver)), "sqlite") {
		return "sqlite3"
	}
	return "postgres"
}

func buildAddressDirectory(factory *sqlstore.RepositoryFactory) (core.AddressDirectory, error) {
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = 5 * time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("address cache: %w", err)
	}
	return sqlstore.NewCachedAddressDirectory(factory.DepositAddressStore(), cacheService)
}

func buildLimiter(cfg core.Config, logger core.Logger) (ratelimit.Limiter, error) {
	local, err := ratelimit.NewLocalLimiter(cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	if err != nil {
		return nil, err
	}
	if !cfg.Features.DistributedRateLimit {
		return local, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RateLimit.RedisAddr,
		DB:   cfg.RateLimit.RedisDB,
	})
	distributed, err := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewFailoverLimiter(distributed, local, logger)
}
