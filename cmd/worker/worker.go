package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/broker"
	"github.com/Lutefd/botkit-telemetry/internal/cache"
	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/consumer"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/repository"
	"github.com/Lutefd/botkit-telemetry/internal/settings"
	"github.com/Lutefd/botkit-telemetry/internal/sink"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const settingsCachePrefix = "settings:"

type dependencies struct {
	cache     cache.Cache
	repo      repository.TelemetryRepository
	fileSink  io.Closer
	consumer  Consumer
	scheduler RotationScheduler
}

type Consumer interface {
	Run(ctx context.Context) error
}

type RotationScheduler interface {
	Start(ctx context.Context) error
}

func main() {
	envFile := pflag.String("env-file", ".env", "env file loaded before reading the configuration")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		logger.Infof("no env file loaded from %s: %v", *envFile, err)
	}

	config, err := commons.LoadConfig(commons.NeedBroker | commons.NeedPostgres | commons.NeedRedis | commons.NeedSettings)
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Configure(config.LogLevel, config.LogFormat); err != nil {
		logger.Log.Fatalf("Failed to configure logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := initDependencies(ctx, config)
	if err != nil {
		logger.Log.Fatalf("Failed to initialize dependencies: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- runWorker(ctx, deps)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Log.Fatalf("Worker failed: %v", err)
		}
	case <-signalChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		select {
		case <-errChan:
			logger.Info("Worker shut down gracefully")
		case <-time.After(commons.ShutdownTimeout):
			logger.Info("Shutdown timed out")
		}
	}
}

// initDependencies fetches the sink settings first; only the sinks they
// enable are constructed.
func initDependencies(ctx context.Context, config commons.Config) (*dependencies, error) {
	redisCache, err := cache.NewRedisCache(config.RedisAddr, config.RedisPass, settingsCachePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	deps := &dependencies{cache: redisCache}

	source := settings.NewCachedSource(settings.NewHTTPSource(config.SettingsURL), redisCache, commons.SettingsCacheExpiration)
	cfg, err := settings.Load(ctx, source)
	if err != nil {
		closeDependencies(deps)
		return nil, err
	}

	var sinks consumer.Sinks
	if cfg.Sinks.Console {
		sinks.Console = sink.NewConsole(os.Stdout, cfg.Console, cfg.TimezoneOffset)
	}

	if cfg.Sinks.File {
		fileSink, err := sink.NewFile(cfg.File, cfg.TimezoneOffset)
		if err != nil {
			closeDependencies(deps)
			return nil, fmt.Errorf("failed to initialize file sink: %w", err)
		}
		sinks.File = fileSink
		deps.fileSink = fileSink
		deps.scheduler = sink.NewRotationScheduler(fileSink, cfg.TimezoneOffset)
	}

	if cfg.Sinks.Database {
		repo, err := repository.NewPostgresTelemetryRepository(config.PostgresConn, nil)
		if err != nil {
			closeDependencies(deps)
			return nil, fmt.Errorf("failed to initialize telemetry repository: %w", err)
		}
		deps.repo = repo
		if err := repo.EnsureSchema(ctx); err != nil {
			closeDependencies(deps)
			return nil, err
		}
		sinks.Database = sink.NewDatabase(repo, sink.DefaultDatabaseTimeout)
	}

	logger.Infof("sinks enabled: console=%t file=%t database=%t", cfg.Sinks.Console, cfg.Sinks.File, cfg.Sinks.Database)

	fanout := consumer.NewFanout(cfg.Sinks, sinks)
	deps.consumer = consumer.New(broker.NewAMQPDialer(config.AMQPURL), fanout, consumer.Config{
		Prefetch: config.Prefetch,
	})
	return deps, nil
}

func runWorker(ctx context.Context, deps *dependencies) error {
	defer closeDependencies(deps)

	if deps.scheduler != nil {
		if err := deps.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start rotation scheduler: %w", err)
		}
	}

	if err := deps.consumer.Run(ctx); err != nil {
		return fmt.Errorf("consumer stopped: %w", err)
	}
	logger.Info("Worker shutting down...")
	return nil
}

func closeDependencies(deps *dependencies) {
	var errs []error
	if deps.fileSink != nil {
		if err := deps.fileSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing file sink: %w", err))
		}
	}
	if deps.repo != nil {
		if err := deps.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing telemetry repository: %w", err))
		}
	}
	if deps.cache != nil {
		if err := deps.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing cache: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Errorf("%v", err)
	}
}
