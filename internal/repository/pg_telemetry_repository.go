package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Lutefd/botkit-telemetry/internal/model"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	level VARCHAR(16) NOT NULL,
	module VARCHAR(64) NOT NULL,
	message TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs (timestamp);

CREATE TABLE IF NOT EXISTS telegram_query (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	user_id BIGINT NOT NULL,
	chat_id BIGINT NOT NULL,
	query_type VARCHAR(32) NOT NULL,
	query_text TEXT NOT NULL,
	response_time BIGINT,
	status_code INTEGER
);

CREATE INDEX IF NOT EXISTS idx_telegram_query_timestamp ON telegram_query (timestamp);
`

type PostgresTelemetryRepository struct {
	db *sql.DB
}

func NewPostgresTelemetryRepository(connURL string, db *sql.DB) (*PostgresTelemetryRepository, error) {
	if db == nil {
		var err error
		db, err = sql.Open("postgres", connURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		err = db.Ping()
		if err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	return &PostgresTelemetryRepository{db: db}, nil
}

func (r *PostgresTelemetryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create telemetry schema: %w", err)
	}
	return nil
}

// SaveLog lets the database assign the row timestamp.
func (r *PostgresTelemetryRepository) SaveLog(ctx context.Context, record model.LogRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO logs (level, module, message, status_code)
		VALUES ($1, $2, $3, $4)
	`, string(record.Level), record.Module, record.Message, record.StatusCode)
	if err != nil {
		return fmt.Errorf("failed to save log: %w", err)
	}
	return nil
}

// SaveQuery keeps the event timestamp. An unparseable timestamp falls back
// to the database clock.
func (r *PostgresTelemetryRepository) SaveQuery(ctx context.Context, event model.TraceEvent) error {
	var ts interface{}
	if parsed, err := model.ParseTimestamp(event.Timestamp); err == nil {
		ts = parsed
	}

	var responseTime, statusCode interface{}
	if event.ResponseTime != nil {
		responseTime = *event.ResponseTime
	}
	if event.StatusCode != nil {
		statusCode = *event.StatusCode
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telegram_query (timestamp, user_id, chat_id, query_type, query_text, response_time, status_code)
		VALUES (COALESCE($1, now()), $2, $3, $4, $5, $6, $7)
	`, ts, event.UserID, event.ChatID, event.QueryType, event.QueryText, responseTime, statusCode)
	if err != nil {
		return fmt.Errorf("failed to save query: %w", err)
	}
	return nil
}

func (r *PostgresTelemetryRepository) Close() error {
	return r.db.Close()
}
