package repository

import (
	"context"

	"github.com/Lutefd/botkit-telemetry/internal/model"
)

type TelemetryRepository interface {
	EnsureSchema(ctx context.Context) error
	SaveLog(ctx context.Context, record model.LogRecord) error
	SaveQuery(ctx context.Context, event model.TraceEvent) error
	Close() error
}
