package commons

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/Lutefd/botkit-telemetry/internal/logger"
)

// Requirement selects which groups of variables a command needs.
type Requirement int

const (
	NeedBroker Requirement = 1 << iota
	NeedPostgres
	NeedRedis
	NeedSettings
	NeedServer
)

type Config struct {
	AMQPURL         string
	PostgresConn    string
	RedisAddr       string
	RedisPass       string
	SettingsURL     string
	ServerPort      uint16
	BufferSize      int
	Prefetch        int
	IngestTokenHash string
	LogLevel        string
	LogFormat       string
}

const (
	decimalBase = 10
	bitSize     = 16
)

func LoadConfig(needs Requirement) (Config, error) {
	config := Config{
		BufferSize: DefaultBufferSize,
		Prefetch:   DefaultPrefetch,
		LogLevel:   "info",
		LogFormat:  "text",
	}
	var errors []string

	require := func(key string) string {
		value := os.Getenv(key)
		if value == "" {
			errors = append(errors, key+" is not set")
		}
		return value
	}

	if needs&NeedBroker != 0 {
		user := require("RABBITMQ_USER")
		pass := require("RABBITMQ_PASSWORD")
		host := require("RABBITMQ_HOST")
		port := require("RABBITMQ_PORT")
		amqpURL := url.URL{
			Scheme: "amqp",
			User:   url.UserPassword(user, pass),
			Host:   host + ":" + port,
			Path:   "/" + os.Getenv("RABBITMQ_VHOST"),
		}
		config.AMQPURL = amqpURL.String()
	}

	if needs&NeedPostgres != 0 {
		pgUser := require("POSTGRES_USER")
		pgPass := require("POSTGRES_PASSWORD")
		pgHost := require("POSTGRES_HOST")
		pgPort := require("POSTGRES_PORT")
		pgDB := require("POSTGRES_NAME")
		config.PostgresConn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPass, pgHost, pgPort, pgDB)
	}

	if needs&NeedRedis != 0 {
		config.RedisAddr = require("REDIS_ADDR")
		config.RedisPass = os.Getenv("REDIS_PASSWORD")
	}

	if needs&NeedSettings != 0 {
		config.SettingsURL = require("SETTINGS_URL")
	}

	if needs&NeedServer != 0 {
		serverPort := require("SERVER_PORT")
		if serverPort != "" {
			parsedServerPort, err := strconv.ParseUint(serverPort, decimalBase, bitSize)
			if err != nil {
				errors = append(errors, fmt.Sprintf("invalid SERVER_PORT: %s", err))
			} else {
				config.ServerPort = uint16(parsedServerPort)
			}
		}
		config.IngestTokenHash = os.Getenv("INGEST_TOKEN_HASH")
	}

	config.BufferSize = optionalPositiveInt("TELEMETRY_BUFFER_SIZE", config.BufferSize, &errors)
	config.Prefetch = optionalPositiveInt("CONSUMER_PREFETCH", config.Prefetch, &errors)

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.LogFormat = format
	}

	if len(errors) > 0 {
		for _, err := range errors {
			logger.Errorf("configuration error: %s", err)
		}
		return Config{}, fmt.Errorf("configuration errors occurred: %s", strings.Join(errors, "; "))
	}

	return config, nil
}

func optionalPositiveInt(key string, def int, errors *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errors = append(*errors, fmt.Sprintf("invalid %s: must be a positive integer", key))
		return def
	}
	return n
}
