package sink

import (
	"context"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/model"
)

const DefaultDatabaseTimeout = 5 * time.Second

type Store interface {
	SaveLog(ctx context.Context, record model.LogRecord) error
	SaveQuery(ctx context.Context, event model.TraceEvent) error
}

// Database inserts events on a best-effort basis. Log events lose their
// client timestamp; the store assigns its own.
type Database struct {
	store   Store
	timeout time.Duration
}

func NewDatabase(store Store, timeout time.Duration) *Database {
	if timeout <= 0 {
		timeout = DefaultDatabaseTimeout
	}
	return &Database{store: store, timeout: timeout}
}

func (d *Database) WriteLog(ctx context.Context, event model.LogEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.store.SaveLog(ctx, event.Record())
}

func (d *Database) WriteQuery(ctx context.Context, event model.TraceEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.store.SaveQuery(ctx, event)
}
