package telemetry

import (
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/model"
)

const dropReportInterval = 100

func (m *Manager) Info(message, module string, code int) {
	m.Log(model.LogLevelInfo, message, module, code)
}

func (m *Manager) Warning(message, module string, code int) {
	m.Log(model.LogLevelWarning, message, module, code)
}

func (m *Manager) Error(message, module string, code int) {
	m.Log(model.LogLevelError, message, module, code)
}

func (m *Manager) Critical(message, module string, code int) {
	m.Log(model.LogLevelCritical, message, module, code)
}

func (m *Manager) None(message, module string, code int) {
	m.Log(model.LogLevelNone, message, module, code)
}

// Log stamps and buffers a log event. It never blocks: when the buffer is
// full the event is dropped and counted.
func (m *Manager) Log(level model.LogLevel, message, module string, code int) {
	m.ensureInit()
	event := model.NewLogEvent(m.cfg.Now(), level, message, module, code)

	m.addPending()
	select {
	case m.logs <- event:
	default:
		m.drop("logs")
	}
}

// Trace buffers a query event. Its timestamp is overwritten with the
// enqueue time.
func (m *Manager) Trace(event model.TraceEvent) {
	m.ensureInit()
	event.Timestamp = model.FormatTimestamp(m.cfg.Now())

	m.addPending()
	select {
	case m.queries <- event:
	default:
		m.drop("queries")
	}
}

func (m *Manager) drop(buffer string) {
	m.markProcessed()
	n := m.dropped.Add(1)
	if n == 1 || n%dropReportInterval == 0 {
		logger.Warnf("telemetry %s buffer full, %d events dropped so far", buffer, n)
	}
}
