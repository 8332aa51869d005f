package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lutefd/botkit-telemetry/internal/broker"
	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/server"
	"github.com/Lutefd/botkit-telemetry/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env-file", ".env", "env file loaded before reading the configuration")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		logger.Infof("no env file loaded from %s: %v", *envFile, err)
	}

	config, err := commons.LoadConfig(commons.NeedBroker | commons.NeedServer)
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Configure(config.LogLevel, config.LogFormat); err != nil {
		logger.Log.Fatalf("Failed to configure logger: %v", err)
	}

	manager := telemetry.New(broker.NewAMQPDialer(config.AMQPURL), telemetry.Config{
		BufferSize: config.BufferSize,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := manager.Init(ctx); err != nil {
			logger.Errorf("telemetry broker not ready: %v", err)
		}
	}()

	srv := server.NewServer(config, manager)
	serveErr := srv.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), commons.ShutdownTimeout)
	defer shutdownCancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("telemetry shutdown: %v", err)
	}

	if serveErr != nil {
		logger.Log.Fatalf("Server failed: %v", serveErr)
	}
	logger.Info("API shut down gracefully")
}
