package session

import (
	"log/slog"
	"sync"
	"time"
)

// HeartbeatState is the per-connection liveness state.
type HeartbeatState int

const (
	StateAlive HeartbeatState = iota
	StateAwaitingPong
	StateDead
)

func (s HeartbeatState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateAwaitingPong:
		return "awaiting_pong"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Pinger is the connection surface the heartbeat monitor drives. Ping
// sends a liveness probe; Close force-closes the connection when the
// monitor declares it dead.
type Pinger interface {
	Ping() error
	Close() error
}

// Monitor runs the heartbeat state machine for one connection:
//
//	Alive --interval--> send ping --> AwaitingPong --timeout--> Dead
//	AwaitingPong --pong--> Alive
//
// Both transitions out of AwaitingPong disarm the timeout timer, and Stop
// disarms everything, so no timer can fire against a closed connection.
type Monitor struct {
	mu       sync.Mutex
	state    HeartbeatState
	conn     Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	tick    *time.Timer // armed while Alive
	pending *time.Timer // armed while AwaitingPong
	stopped bool

	// onDead, when set, runs after the connection is force-closed.
	onDead func()
}

// NewMonitor creates a heartbeat monitor for one connection. It is inert
// until Start is called.
func NewMonitor(conn Pinger, interval, timeout time.Duration, logger *slog.Logger, onDead func()) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		state:    StateAlive,
		conn:     conn,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		onDead:   onDead,
	}
}

// Start arms the first ping timer.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.state == StateDead {
		return
	}
	m.tick = time.AfterFunc(m.interval, m.sendPing)
}

// sendPing fires on the interval timer: send a ping and await the pong.
func (m *Monitor) sendPing() {
	m.mu.Lock()
	if m.stopped || m.state != StateAlive {
		m.mu.Unlock()
		return
	}

	if err := m.conn.Ping(); err != nil {
		// The write itself failed: the connection is already gone.
		m.logger.Debug("heartbeat ping failed", "error", err)
		m.dieLocked()
		return
	}

	m.state = StateAwaitingPong
	m.pending = time.AfterFunc(m.timeout, m.pongTimeout)
	m.mu.Unlock()
}

// Pong records a pong from the peer. Pongs while not awaiting one are
// ignored.
func (m *Monitor) Pong() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.state != StateAwaitingPong {
		return
	}

	m.state = StateAlive
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.tick = time.AfterFunc(m.interval, m.sendPing)
}

// pongTimeout fires when a ping went unanswered: the connection is
// half-open and gets force-closed.
func (m *Monitor) pongTimeout() {
	m.mu.Lock()
	if m.stopped || m.state != StateAwaitingPong {
		m.mu.Unlock()
		return
	}
	m.logger.Info("heartbeat timeout, closing half-open connection")
	m.dieLocked()
}

// dieLocked transitions to Dead, closes the connection, and runs the
// onDead callback. Caller holds the lock; dieLocked releases it before the
// callback so the callback may call back into the monitor.
func (m *Monitor) dieLocked() {
	m.state = StateDead
	m.disarmLocked()
	onDead := m.onDead
	m.mu.Unlock()

	// Close errors are expected here: the peer is gone.
	_ = m.conn.Close()
	if onDead != nil {
		onDead()
	}
}

// Stop disarms all timers. Called on connection close and session revoke;
// safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.disarmLocked()
}

// disarmLocked stops any armed timer. Caller holds the lock.
func (m *Monitor) disarmLocked() {
	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

// State returns the current heartbeat state.
func (m *Monitor) State() HeartbeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
