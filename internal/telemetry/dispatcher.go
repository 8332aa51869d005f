package telemetry

import (
	"context"
	"encoding/json"

	"github.com/Lutefd/botkit-telemetry/internal/broker"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/sirupsen/logrus"
)

// dispatch is the only reader of the buffers. select picks uniformly among
// ready channels, so neither buffer starves the other while each keeps its
// own FIFO order. It reports whether it stopped because the session was lost.
//
// Cancellation and session loss are checked before every dequeue: once either
// happened, queued events stay buffered for the next session.
func (m *Manager) dispatch(ctx context.Context, session broker.Session) (lost bool) {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-session.Done():
			return true
		default:
		}

		select {
		case <-ctx.Done():
			return false
		case <-session.Done():
			return true
		case event := <-m.logs:
			m.publish(ctx, session, broker.LogsQueue, event)
		case event := <-m.queries:
			m.publish(ctx, session, broker.QueriesQueue, event)
		}
	}
}

// publish makes exactly one attempt. Failed events are dropped.
func (m *Manager) publish(ctx context.Context, session broker.Session, queue string, event interface{}) {
	defer m.markProcessed()

	body, err := json.Marshal(event)
	if err != nil {
		m.publishFailures.Add(1)
		logger.WithFields(logrus.Fields{"queue": queue}).Errorf("failed to encode event: %v", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()

	if err := session.Publish(publishCtx, queue, body); err != nil {
		m.publishFailures.Add(1)
		logger.WithFields(logrus.Fields{"queue": queue}).Errorf("failed to publish event: %v", err)
	}
}
