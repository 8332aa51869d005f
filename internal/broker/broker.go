package broker

import (
	"context"
	"fmt"
	"time"
)

const (
	LogsQueue    = "logs"
	QueriesQueue = "queries"
	MessageTTL   = 30 * time.Second
)

var Queues = []string{LogsQueue, QueriesQueue}

type Delivery struct {
	Queue string
	Body  []byte
}

// Handler processes one delivery. A nil return acknowledges the message,
// an error rejects it without requeue.
type Handler func(ctx context.Context, d Delivery) error

// Session is an open connection plus channel to the broker.
type Session interface {
	DeclareQueue(name string, ttl time.Duration) error
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume blocks until ctx is done (returning nil) or the subscription
	// is lost (returning an error).
	Consume(ctx context.Context, queue string, prefetch int, handler Handler) error
	// Done is closed once the session ends, whether through Close or because
	// the broker dropped the connection. Err then reports the broker's reason,
	// or nil after Close.
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}

// DeclareQueues declares every pipeline queue as durable with the message TTL.
func DeclareQueues(s Session) error {
	for _, name := range Queues {
		if err := s.DeclareQueue(name, MessageTTL); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}
	return nil
}
