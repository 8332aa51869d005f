package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/broker"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/model"
)

const (
	DefaultPrefetch       = 10
	DefaultReconnectDelay = 5 * time.Second
)

type Config struct {
	Prefetch       int
	Retry          broker.RetryPolicy
	ReconnectDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Prefetch:       DefaultPrefetch,
		Retry:          broker.DefaultRetryPolicy,
		ReconnectDelay: DefaultReconnectDelay,
	}
}

// Consumer subscribes to every pipeline queue and hands deliveries to a
// Fanout. Messages within one queue are handled in delivery order.
type Consumer struct {
	dialer broker.Dialer
	fanout *Fanout
	cfg    Config
}

func New(dialer broker.Dialer, fanout *Fanout, cfg Config) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = broker.DefaultRetryPolicy
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Consumer{dialer: dialer, fanout: fanout, cfg: cfg}
}

// Run blocks until ctx is done. A lost subscription reconnects; exhausting
// the dial retries returns model.ErrBrokerUnavailable.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, model.ErrBrokerUnavailable) {
			return err
		}

		logger.Warnf("consumer session ended: %v, reconnecting in %v", err, c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Consumer) runSession(ctx context.Context) error {
	session, err := broker.DialWithRetry(ctx, c.dialer, c.cfg.Retry)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := broker.DeclareQueues(session); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(broker.Queues))
	for _, queue := range broker.Queues {
		go func(queue string) {
			if err := session.Consume(ctx, queue, c.cfg.Prefetch, c.fanout.Handle); err != nil {
				errs <- fmt.Errorf("subscription to %s lost: %w", queue, err)
				return
			}
			errs <- nil
		}(queue)
	}
	logger.Infof("consuming queues %v with prefetch %d", broker.Queues, c.cfg.Prefetch)

	// The first subscription to end takes the session down with it.
	err = <-errs
	cancel()
	for i := 1; i < len(broker.Queues); i++ {
		if otherErr := <-errs; err == nil {
			err = otherErr
		}
	}
	return err
}
