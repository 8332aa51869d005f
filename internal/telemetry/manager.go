package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/broker"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/model"
)

type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	BufferSize     int
	Retry          broker.RetryPolicy
	InitTimeout    time.Duration
	PublishTimeout time.Duration
	Now            func() time.Time
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     1024,
		Retry:          broker.DefaultRetryPolicy,
		InitTimeout:    2 * time.Minute,
		PublishTimeout: 5 * time.Second,
		Now:            time.Now,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = def.Retry
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = def.InitTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

type attempt struct {
	done chan struct{}
	err  error
}

// Manager owns the broker session, the producer buffers and the dispatcher
// goroutine. The zero value is not usable; construct it with New.
type Manager struct {
	dialer broker.Dialer
	cfg    Config

	mu       sync.Mutex
	state    State
	inflight *attempt
	ready    chan struct{}
	session  broker.Session
	cancel   context.CancelFunc
	done     chan struct{}

	logs    chan model.LogEvent
	queries chan model.TraceEvent

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	dropped         atomic.Uint64
	publishFailures atomic.Uint64
}

func New(dialer broker.Dialer, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	idle := make(chan struct{})
	close(idle)
	return &Manager{
		dialer:  dialer,
		cfg:     cfg,
		ready:   make(chan struct{}),
		logs:    make(chan model.LogEvent, cfg.BufferSize),
		queries: make(chan model.TraceEvent, cfg.BufferSize),
		idle:    idle,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready returns a channel closed once the manager reaches StateReady. Close
// replaces it, so callers should fetch it again after a Close.
func (m *Manager) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

func (m *Manager) PublishFailures() uint64 {
	return m.publishFailures.Load()
}

// Init connects to the broker, declares the queues and starts the dispatcher.
// Concurrent callers share a single attempt and all observe its outcome.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	if a := m.inflight; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", model.ErrBrokerUnavailable, ctx.Err())
		}
	}
	a := &attempt{done: make(chan struct{})}
	m.inflight = a
	m.state = StateInitializing
	m.mu.Unlock()

	a.err = m.connect(ctx)
	close(a.done)
	return a.err
}

func (m *Manager) connect(ctx context.Context) error {
	session, err := broker.DialWithRetry(ctx, m.dialer, m.cfg.Retry)
	if err == nil {
		if declareErr := broker.DeclareQueues(session); declareErr != nil {
			session.Close()
			session = nil
			err = fmt.Errorf("%w: %v", model.ErrBrokerUnavailable, declareErr)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = nil
	if err != nil {
		m.state = StateUninitialized
		logger.Errorf("failed to initialize telemetry: %v", err)
		return err
	}

	dispatchCtx, cancel := context.WithCancel(context.Background())
	m.session = session
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(dispatchCtx, session, m.done)

	m.state = StateReady
	close(m.ready)
	logger.Info("telemetry ready")
	return nil
}

func (m *Manager) run(ctx context.Context, session broker.Session, done chan struct{}) {
	lost := m.dispatch(ctx, session)
	close(done)
	if lost {
		m.sessionLost(session)
	}
}

// sessionLost returns the manager to StateUninitialized after the broker
// dropped the session, then redials in the background. A concurrent Close
// that already detached the session wins.
func (m *Manager) sessionLost(session broker.Session) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.session, m.cancel, m.done = nil, nil, nil
	m.state = StateUninitialized
	m.ready = make(chan struct{})
	m.mu.Unlock()

	if err := session.Close(); err != nil {
		logger.Warnf("failed to close lost broker session: %v", err)
	}
	logger.Warnf("telemetry broker session lost: %v, reconnecting", session.Err())
	m.ensureInit()
}

// ensureInit starts a background Init when nothing is connected or connecting.
func (m *Manager) ensureInit() {
	m.mu.Lock()
	start := m.state == StateUninitialized && m.inflight == nil
	m.mu.Unlock()
	if !start {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.InitTimeout)
		defer cancel()
		m.Init(ctx)
	}()
}

// Close stops the dispatcher, closes the broker session and returns the
// manager to StateUninitialized. Buffered events are kept for a later Init.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.inflight != nil {
		a := m.inflight
		m.mu.Unlock()
		<-a.done
		m.mu.Lock()
	}
	if m.state != StateReady {
		return nil
	}

	m.cancel()
	<-m.done

	err := m.session.Close()
	m.session, m.cancel, m.done = nil, nil, nil
	m.state = StateUninitialized
	m.ready = make(chan struct{})
	if err != nil {
		return fmt.Errorf("failed to close broker session: %w", err)
	}
	return nil
}

// Flush blocks until every event accepted so far has been handed to the
// broker, successfully or not.
func (m *Manager) Flush(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return err
	}

	m.pendingMu.Lock()
	idle := m.idle
	m.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to flush telemetry: %w", ctx.Err())
	}
}

func (m *Manager) Shutdown(ctx context.Context) error {
	flushErr := m.Flush(ctx)
	return errors.Join(flushErr, m.Close())
}

func (m *Manager) addPending() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pending == 0 {
		m.idle = make(chan struct{})
	}
	m.pending++
}

func (m *Manager) markProcessed() {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending--
	if m.pending == 0 {
		close(m.idle)
	}
}
