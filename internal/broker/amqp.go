package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	amqpHeartbeat      = 10 * time.Second
	amqpConnectTimeout = 5 * time.Second
)

var (
	ErrSubscriptionClosed = errors.New("subscription closed by broker")
	ErrConnectionLost     = errors.New("broker connection lost")
)

type AMQPDialer struct {
	URL string
}

func NewAMQPDialer(url string) *AMQPDialer {
	return &AMQPDialer{URL: url}
}

func (d *AMQPDialer) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(d.URL, amqp.Config{
		Heartbeat: amqpHeartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(amqpConnectTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	s := &amqpSession{conn: conn, ch: ch, done: make(chan struct{})}
	go s.watch(conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))
	return s, nil
}

type amqpSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// watch ends the session when either the connection or the publishing
// channel closes. A graceful close delivers no *amqp.Error.
func (s *amqpSession) watch(connClosed, chClosed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	s.mu.Lock()
	if reason != nil {
		s.err = fmt.Errorf("%w: %v", ErrConnectionLost, reason)
	}
	s.mu.Unlock()
	close(s.done)
}

func (s *amqpSession) Done() <-chan struct{} {
	return s.done
}

func (s *amqpSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *amqpSession) DeclareQueue(name string, ttl time.Duration) error {
	_, err := s.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl": int32(ttl / time.Millisecond),
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func (s *amqpSession) Publish(ctx context.Context, queue string, body []byte) error {
	err := s.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Consume runs on a dedicated channel so that prefetch applies to this
// subscription only.
func (s *amqpSession) Consume(ctx context.Context, queue string, prefetch int, handler Handler) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: %w", queue, ErrSubscriptionClosed)
			}
			if err := handler(ctx, Delivery{Queue: queue, Body: d.Body}); err != nil {
				if rejectErr := d.Reject(false); rejectErr != nil {
					return fmt.Errorf("failed to reject delivery on %s: %w", queue, rejectErr)
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("failed to ack delivery on %s: %w", queue, err)
			}
		}
	}
}

func (s *amqpSession) Close() error {
	if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		s.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
