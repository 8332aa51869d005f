package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/Lutefd/botkit-telemetry/internal/broker"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/model"
	"github.com/Lutefd/botkit-telemetry/internal/settings"
	"github.com/sirupsen/logrus"
)

type LogSink interface {
	WriteLog(event model.LogEvent) error
}

type DatabaseSink interface {
	WriteLog(ctx context.Context, event model.LogEvent) error
	WriteQuery(ctx context.Context, event model.TraceEvent) error
}

// Sinks holds the available sinks. A nil sink is never invoked.
type Sinks struct {
	Console  LogSink
	File     LogSink
	Database DatabaseSink
}

type Stats struct {
	Logs         uint64
	Queries      uint64
	DecodeErrors uint64
	SinkFailures uint64
}

// Fanout routes decoded deliveries to the enabled sinks. Each sink runs in
// isolation: an error or panic in one is logged and counted, and the others
// still run.
type Fanout struct {
	console LogSink
	file    LogSink
	db      DatabaseSink

	logs         atomic.Uint64
	queries      atomic.Uint64
	decodeErrors atomic.Uint64
	sinkFailures atomic.Uint64
}

func NewFanout(toggles settings.SinkToggles, sinks Sinks) *Fanout {
	f := &Fanout{}
	if toggles.Console {
		f.console = sinks.Console
	}
	if toggles.File {
		f.file = sinks.File
	}
	if toggles.Database {
		f.db = sinks.Database
	}
	return f
}

// Handle is a broker.Handler. Only undecodable or unroutable messages are
// rejected; sink failures still acknowledge.
func (f *Fanout) Handle(ctx context.Context, d broker.Delivery) error {
	switch d.Queue {
	case broker.LogsQueue:
		return f.HandleLog(ctx, d.Body)
	case broker.QueriesQueue:
		return f.HandleQuery(ctx, d.Body)
	}
	return fmt.Errorf("no handler for queue %s", d.Queue)
}

func (f *Fanout) HandleLog(ctx context.Context, body []byte) error {
	var event model.LogEvent
	if err := json.Unmarshal(body, &event); err != nil {
		f.decodeErrors.Add(1)
		return fmt.Errorf("failed to decode log event: %w", err)
	}
	f.logs.Add(1)

	if f.console != nil {
		f.invoke(broker.LogsQueue, "console", func() error { return f.console.WriteLog(event) })
	}
	if f.file != nil {
		f.invoke(broker.LogsQueue, "file", func() error { return f.file.WriteLog(event) })
	}
	if f.db != nil {
		f.invoke(broker.LogsQueue, "database", func() error { return f.db.WriteLog(ctx, event) })
	}
	return nil
}

func (f *Fanout) HandleQuery(ctx context.Context, body []byte) error {
	var event model.TraceEvent
	if err := json.Unmarshal(body, &event); err != nil {
		f.decodeErrors.Add(1)
		return fmt.Errorf("failed to decode query event: %w", err)
	}
	f.queries.Add(1)

	if f.db != nil {
		f.invoke(broker.QueriesQueue, "database", func() error { return f.db.WriteQuery(ctx, event) })
	}
	return nil
}

func (f *Fanout) Stats() Stats {
	return Stats{
		Logs:         f.logs.Load(),
		Queries:      f.queries.Load(),
		DecodeErrors: f.decodeErrors.Load(),
		SinkFailures: f.sinkFailures.Load(),
	}
}

func (f *Fanout) invoke(queue, sink string, write func() error) {
	fields := logrus.Fields{"queue": queue, "sink": sink}
	defer func() {
		if r := recover(); r != nil {
			f.sinkFailures.Add(1)
			logger.WithFields(fields).Errorf("sink panicked: %v", r)
		}
	}()

	if err := write(); err != nil {
		f.sinkFailures.Add(1)
		logger.WithFields(fields).Errorf("sink failed: %v", err)
	}
}
