package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/repository"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

type dependencies struct {
	loadConfig func() (commons.Config, error)
	openDB     func(driverName, dataSourceName string) (*sql.DB, error)
	newUUID    func() uuid.UUID
	loadEnv    func(...string) error
	hashCost   int
	out        io.Writer
}

var defaultDeps = dependencies{
	loadConfig: func() (commons.Config, error) { return commons.LoadConfig(commons.NeedPostgres) },
	openDB:     sql.Open,
	newUUID:    uuid.New,
	loadEnv:    godotenv.Load,
	hashCost:   bcrypt.DefaultCost,
	out:        os.Stdout,
}

func main() {
	envFile := pflag.String("env-file", ".env", "env file loaded before reading the configuration")
	pflag.Parse()

	if err := run(context.Background(), *envFile, defaultDeps); err != nil {
		logger.Log.Fatal(err)
	}
}

func run(ctx context.Context, envFile string, deps dependencies) error {
	if err := deps.loadEnv(envFile); err != nil {
		logger.Infof("no env file loaded from %s: %v", envFile, err)
	}

	config, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	db, err := deps.openDB("postgres", config.PostgresConn)
	if err != nil {
		return fmt.Errorf("error opening database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("error connecting to the database: %w", err)
	}

	repo, err := repository.NewPostgresTelemetryRepository(config.PostgresConn, db)
	if err != nil {
		db.Close()
		return fmt.Errorf("error creating repository: %w", err)
	}
	defer repo.Close()

	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Fprintln(deps.out, "Telemetry schema is ready.")

	if err := createIngestToken(deps); err != nil {
		return fmt.Errorf("error creating ingest token: %w", err)
	}
	return nil
}

// createIngestToken prints a fresh token for producers and the hash the api
// expects in INGEST_TOKEN_HASH.
func createIngestToken(deps dependencies) error {
	token := deps.newUUID().String()

	hash, err := bcrypt.GenerateFromPassword([]byte(token), deps.hashCost)
	if err != nil {
		return fmt.Errorf("error hashing token: %w", err)
	}

	fmt.Fprintf(deps.out, "Ingest token: %s\n", token)
	fmt.Fprintf(deps.out, "INGEST_TOKEN_HASH='%s'\n", hash)
	return nil
}
