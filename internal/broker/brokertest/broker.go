// Package brokertest provides an in-memory broker for tests.
package brokertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/broker"
)

var ErrSessionClosed = errors.New("session closed")

const queueCapacity = 4096

// Publish is a recorded publish attempt, successful or not.
type Publish struct {
	Queue string
	Body  []byte
	Err   error
}

type Broker struct {
	mu         sync.Mutex
	queues     map[string]*queue
	published  []Publish
	dials      int
	dialErr    error
	publishErr error
	acked      map[string]int
	rejected   map[string]int
	sessions   []*session
}

type queue struct {
	ttl  time.Duration
	msgs chan []byte
}

func New() *Broker {
	return &Broker{
		queues:   make(map[string]*queue),
		acked:    make(map[string]int),
		rejected: make(map[string]int),
	}
}

func (b *Broker) Dial(ctx context.Context) (broker.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	s := &session{broker: b, done: make(chan struct{})}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// Disconnect ends every open session as if the broker had restarted. Their
// Err reports broker.ErrConnectionLost.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = nil
	b.mu.Unlock()

	for _, s := range sessions {
		s.end(broker.ErrConnectionLost)
	}
}

// SetDialError makes every following Dial fail with err; nil restores it.
func (b *Broker) SetDialError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// SetPublishError makes every following Publish fail with err; nil restores it.
func (b *Broker) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *Broker) Published() []Publish {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Publish, len(b.published))
	copy(out, b.published)
	return out
}

func (b *Broker) PublishedTo(name string) []Publish {
	var out []Publish
	for _, p := range b.Published() {
		if p.Queue == name {
			out = append(out, p)
		}
	}
	return out
}

func (b *Broker) QueueTTL(name string) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return 0, false
	}
	return q.ttl, true
}

func (b *Broker) Acked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked[name]
}

func (b *Broker) Rejected(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected[name]
}

// Deliver places a raw message on a declared queue, bypassing Publish.
func (b *Broker) Deliver(name string, body []byte) bool {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return false
	}
	q.msgs <- body
	return true
}

type session struct {
	broker *Broker
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	err    error
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) DeclareQueue(name string, ttl time.Duration) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{ttl: ttl, msgs: make(chan []byte, queueCapacity)}
	}
	return nil
}

func (s *session) Publish(ctx context.Context, name string, body []byte) error {
	b := s.broker
	b.mu.Lock()
	err := b.publishErr
	if err == nil && s.isClosed() {
		err = ErrSessionClosed
	}
	if err == nil {
		err = ctx.Err()
	}
	b.published = append(b.published, Publish{Queue: name, Body: body, Err: err})
	q := b.queues[name]
	b.mu.Unlock()

	if err != nil {
		return err
	}
	if q != nil {
		q.msgs <- body
	}
	return nil
}

func (s *session) Consume(ctx context.Context, name string, prefetch int, handler broker.Handler) error {
	b := s.broker
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return errors.New("queue not declared: " + name)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return broker.ErrSubscriptionClosed
		case body := <-q.msgs:
			err := handler(ctx, broker.Delivery{Queue: name, Body: body})
			b.mu.Lock()
			if err != nil {
				b.rejected[name]++
			} else {
				b.acked[name]++
			}
			b.mu.Unlock()
		}
	}
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.end(nil)
	return nil
}

func (s *session) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}
