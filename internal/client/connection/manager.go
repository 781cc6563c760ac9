package connection

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/client/transport"
	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/pkg/clock"
	"github.com/takato23/sparkrelay/internal/pkg/ringbuf"
)

const maxPendingPings = 8

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRandom - источник jitter, значения в [0, 1)
func WithRandom(f func() float64) Option {
	return func(m *Manager) { m.random = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithDialer(d transport.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// Manager - подключение клиента к релею.
// Таймеры и горутины транспорта держат свое поколение и молчат, если оно устарело
type Manager struct {
	cfg    Config
	dialer transport.Dialer
	clock  clock.Clock
	random func() float64
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	destroyed  bool
	generation uint64
	tr         transport.Transport
	dialCancel context.CancelFunc

	attempt       int
	failureStreak int
	metrics       Metrics
	history       *ringbuf.Buffer[HistoryEntry]
	rtt           *ringbuf.Buffer[time.Duration]

	heartbeatTimer clock.Timer
	timeoutTimer   clock.Timer
	backoffTimer   clock.Timer

	nextID       int64
	pendingPings map[int64]time.Time

	nextListener   int
	stateListeners map[int]func(StateChange)
	handlers       map[string]map[int]func(events.Envelope)
	queue          []StateChange
	notifying      bool
}

// New создает менеджер в idle, dialer по cfg.Mode
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:            cfg,
		clock:          clock.Real(),
		random:         rand.Float64,
		logger:         slog.Default(),
		state:          StateIdle,
		pendingPings:   make(map[int64]time.Time),
		stateListeners: make(map[int]func(StateChange)),
		handlers:       make(map[string]map[int]func(events.Envelope)),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.dialer == nil {
		d, err := transport.NewDialer(cfg.Mode)
		if err != nil {
			return nil, fmt.Errorf("new dialer: %w", err)
		}
		m.dialer = d
	}

	m.history = ringbuf.New[HistoryEntry](cfg.HistorySize)
	m.rtt = ringbuf.New[time.Duration](cfg.RTTSamples)
	m.history.Push(HistoryEntry{State: StateIdle, At: m.clock.Now()})

	return m, nil
}

// Connect запускает подключение, работает только из idle
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.destroyed || m.state != StateIdle {
		m.mu.Unlock()
		return
	}

	m.setStateLocked(StateConnecting)
	m.startDialLocked()
	m.unlockAndNotify()
}

// Destroy останавливает все, после него переходов нет
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}

	m.destroyed = true
	m.generation++
	m.stopTimersLocked()
	if m.backoffTimer != nil {
		m.backoffTimer.Stop()
		m.backoffTimer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	tr := m.tr
	m.tr = nil
	m.stateListeners = make(map[int]func(StateChange))
	m.handlers = make(map[string]map[int]func(events.Envelope))
	m.queue = nil
	state := m.state
	m.mu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			m.logger.Debug("close transport on destroy", slog.Any(constant.Error, err))
		}
	}

	m.logger.Info("connection manager destroyed", slog.String(constant.State, state.String()))
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

func (m *Manager) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.destroyed
}

func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attempt
}

func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.metrics
	if m.metrics.RTT != nil {
		v := *m.metrics.RTT
		out.RTT = &v
	}
	if m.metrics.LastPingAt != nil {
		v := *m.metrics.LastPingAt
		out.LastPingAt = &v
	}
	if m.metrics.LastPongAt != nil {
		v := *m.metrics.LastPongAt
		out.LastPongAt = &v
	}

	return out
}

func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.history.Slice()
}

func (m *Manager) RTTSamples() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rtt.Slice()
}

// OnStateChange подписка на переходы, возвращает отписку
func (m *Manager) OnStateChange(fn func(StateChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return func() {}
	}

	m.nextListener++
	id := m.nextListener
	m.stateListeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.stateListeners, id)
	}
}

// On подписка на событие, обработчики идут в порядке прихода
func (m *Manager) On(event string, fn func(events.Envelope)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return func() {}
	}

	m.nextListener++
	id := m.nextListener
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]func(events.Envelope))
	}
	m.handlers[event][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	}
}

// Emit отправляет событие, после Destroy ничего не делает
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	env, err := events.New(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	if m.state != StateConnected || m.tr == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	tr, gen := m.tr, m.generation
	m.mu.Unlock()

	if err := tr.Send(ctx, env); err != nil {
		if ctx.Err() == nil {
			m.handleDisconnect(gen, tr, err)
		}
		return fmt.Errorf("emit %s: %w", event, err)
	}

	return nil
}

func (m *Manager) startDialLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	gen := m.generation
	url := m.cfg.URL

	go func() {
		tr, err := m.dialer.Dial(ctx, url)
		if err != nil {
			m.handleConnectError(gen, err)
			return
		}
		m.handleConnect(gen, tr)
	}()
}

func (m *Manager) handleConnect(gen uint64, tr transport.Transport) {
	m.mu.Lock()
	if m.destroyed || gen != m.generation {
		m.mu.Unlock()
		_ = tr.Close()
		return
	}

	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.tr = tr
	m.setStateLocked(StateConnected)
	m.attempt = 0
	m.failureStreak = 0
	m.startHeartbeatLocked()
	m.unlockAndNotify()

	go m.pump(gen, tr)
}

func (m *Manager) handleConnectError(gen uint64, err error) {
	m.mu.Lock()
	if m.destroyed || gen != m.generation {
		m.mu.Unlock()
		return
	}

	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.metrics.FailureCount++
	m.failureStreak++

	m.logger.Warn("connect error",
		slog.Any(constant.Error, err),
		slog.Int(constant.Attempt, m.attempt),
	)

	m.scheduleReconnectLocked()
	m.unlockAndNotify()
}

// handleDisconnect - падение чтения или записи
func (m *Manager) handleDisconnect(gen uint64, tr transport.Transport, err error) {
	m.mu.Lock()
	if m.destroyed || gen != m.generation || tr != m.tr || m.backoffTimer != nil {
		m.mu.Unlock()
		return
	}

	m.logger.Warn("transport disconnected", slog.Any(constant.Error, err))

	m.stopTimersLocked()
	m.scheduleReconnectLocked()
	m.unlockAndNotify()
}

func (m *Manager) scheduleReconnectLocked() {
	next := StateReconnecting
	if m.failureStreak >= m.cfg.OfflineThreshold {
		next = StateOffline
	}
	m.setStateLocked(next)

	delay := Backoff(m.attempt, m.cfg.MaxBackoff, m.random()*maxJitter)
	m.attempt++

	m.logger.Info("reconnect scheduled",
		slog.Int(constant.Attempt, m.attempt),
		slog.Duration(constant.Delay, delay),
	)

	gen := m.generation
	m.backoffTimer = m.clock.AfterFunc(delay, func() { m.onBackoff(gen) })
}

func (m *Manager) onBackoff(gen uint64) {
	m.mu.Lock()
	if m.destroyed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.backoffTimer = nil

	if m.tr != nil && m.tr.Connected() {
		m.setStateLocked(StateConnected)
		m.attempt = 0
		m.failureStreak = 0
		m.startHeartbeatLocked()
		m.unlockAndNotify()
		return
	}

	old := m.tr
	m.tr = nil
	m.generation++
	m.startDialLocked()
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

func (m *Manager) pump(gen uint64, tr transport.Transport) {
	for env := range tr.Incoming() {
		m.dispatch(gen, env)
	}

	m.handleDisconnect(gen, tr, tr.Err())
}

func (m *Manager) dispatch(gen uint64, env events.Envelope) {
	m.mu.Lock()
	if m.destroyed || gen != m.generation {
		m.mu.Unlock()
		return
	}

	switch env.Event {
	case events.Ack:
		if sentAt, ok := m.pendingPings[env.Ack]; ok {
			delete(m.pendingPings, env.Ack)
			m.recordRTTLocked(m.clock.Now().Sub(sentAt))
		}
	case events.Pong:
		if pong, err := events.Decode[events.PingEvent](env); err == nil && pong.T > 0 {
			m.recordRTTLocked(m.clock.Now().Sub(time.UnixMilli(pong.T)))
		}
	}

	handlers := make([]func(events.Envelope), 0, len(m.handlers[env.Event]))
	for _, h := range m.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

func (m *Manager) startHeartbeatLocked() {
	m.stopTimersLocked()

	gen := m.generation
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() { m.onHeartbeat(gen) })
}

func (m *Manager) onHeartbeat(gen uint64) {
	m.mu.Lock()
	if m.destroyed || gen != m.generation || m.state != StateConnected || m.tr == nil {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	m.nextID++
	id := m.nextID
	m.pendingPings[id] = now
	m.prunePendingLocked()
	m.metrics.LastPingAt = &now

	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() { m.onHeartbeat(gen) })
	// таймаут ставит первый неотвеченный ping
	if m.timeoutTimer == nil {
		m.timeoutTimer = m.clock.AfterFunc(m.cfg.PingInterval+m.cfg.PingTimeout, func() { m.onHeartbeatTimeout(gen) })
	}

	tr := m.tr
	m.mu.Unlock()

	env, err := events.New(events.Ping, events.PingEvent{T: now.UnixMilli()})
	if err != nil {
		return
	}
	env.ID = id

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PingTimeout)
	defer cancel()

	if err := tr.Send(ctx, env); err != nil {
		m.handleDisconnect(gen, tr, err)
	}
}

// onHeartbeatTimeout только считает пропуск, обрыв определяет транспорт
func (m *Manager) onHeartbeatTimeout(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed || gen != m.generation {
		return
	}

	m.timeoutTimer = nil
	m.metrics.MissedPongs++

	m.logger.Warn("heartbeat timeout",
		slog.Duration("timeout", m.cfg.PingInterval+m.cfg.PingTimeout),
		slog.Int("missed", m.metrics.MissedPongs),
	)
}

func (m *Manager) recordRTTLocked(rtt time.Duration) {
	if rtt < 0 {
		rtt = 0
	}

	now := m.clock.Now()
	m.metrics.RTT = &rtt
	m.metrics.LastPongAt = &now
	m.rtt.Push(rtt)

	if m.timeoutTimer != nil {
		m.timeoutTimer.Stop()
		m.timeoutTimer = nil
	}
}

func (m *Manager) prunePendingLocked() {
	for len(m.pendingPings) > maxPendingPings {
		var oldest int64
		for id := range m.pendingPings {
			if oldest == 0 || id < oldest {
				oldest = id
			}
		}
		delete(m.pendingPings, oldest)
	}
}

func (m *Manager) stopTimersLocked() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	if m.timeoutTimer != nil {
		m.timeoutTimer.Stop()
		m.timeoutTimer = nil
	}
}

func (m *Manager) setStateLocked(next State) {
	if m.destroyed || m.state == next {
		return
	}

	change := StateChange{From: m.state, To: next, At: m.clock.Now()}
	m.state = next
	m.history.Push(HistoryEntry{State: next, At: change.At})
	m.queue = append(m.queue, change)

	m.logger.Info("connection state changed",
		slog.String(constant.PreviousState, change.From.String()),
		slog.String(constant.State, change.To.String()),
	)
}

// unlockAndNotify отпускает m.mu и раздает переходы по порядку
func (m *Manager) unlockAndNotify() {
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true

	for len(m.queue) > 0 && !m.destroyed {
		change := m.queue[0]
		m.queue = m.queue[1:]

		listeners := make([]func(StateChange), 0, len(m.stateListeners))
		for _, l := range m.stateListeners {
			listeners = append(listeners, l)
		}
		m.mu.Unlock()

		for _, l := range listeners {
			l(change)
		}

		m.mu.Lock()
	}

	m.notifying = false
	m.mu.Unlock()
}
