package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/takato23/sparkrelay/internal/application/config"
	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/infra/ports/http/dto"
	"github.com/takato23/sparkrelay/internal/usecase"
)

// PollHandler - long-polling транспорт для клиентов без websocket
type PollHandler struct {
	cfg config.RelayConfig

	relayUsecase usecase.RelayUsecase

	// peers хранит map[sid]*pollPeer
	peers map[string]*pollPeer
	mu    sync.RWMutex
}

func NewPollHandler(cfg *config.Config, relayUsecase usecase.RelayUsecase) *PollHandler {
	return &PollHandler{
		cfg:          cfg.Relay,
		relayUsecase: relayUsecase,
		peers:        make(map[string]*pollPeer),
	}
}

// Open создает polling сессию и регистрирует ее в релее
func (h *PollHandler) Open(c echo.Context) error {
	sid := uuid.NewString()
	peer := newPollPeer(uuid.New(), h.cfg.OutboundBuffer)

	h.mu.Lock()
	h.peers[sid] = peer
	h.mu.Unlock()

	h.relayUsecase.Connect(context.WithoutCancel(c.Request().Context()), peer.id, peer)

	slog.Debug("polling session opened", slog.String(constant.SID, sid), slog.Any(constant.PeerID, peer.id))

	return c.JSON(http.StatusCreated, dto.PollOpenResponse{SID: sid})
}

// Poll держит запрос до появления событий или истечения PollHold
func (h *PollHandler) Poll(c echo.Context) error {
	sid := c.Param("sid")

	peer, ok := h.get(sid)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown polling session"})
	}

	peer.touch()
	batch, closed := peer.wait(c.Request().Context(), h.cfg.PollHold)
	peer.touch()

	if len(batch) > 0 {
		return c.JSON(http.StatusOK, batch)
	}

	if closed {
		h.remove(c.Request().Context(), sid)
		return c.JSON(http.StatusGone, map[string]string{"error": "polling session closed"})
	}

	return c.NoContent(http.StatusNoContent)
}

// Deliver принимает массив входящих событий
func (h *PollHandler) Deliver(c echo.Context) error {
	sid := c.Param("sid")

	peer, ok := h.get(sid)
	if !ok || peer.isClosed() {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown polling session"})
	}
	peer.touch()

	var batch []events.Envelope
	if err := json.NewDecoder(c.Request().Body).Decode(&batch); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid batch"})
	}

	ctx := context.WithoutCancel(c.Request().Context())

	for _, env := range batch {
		if err := h.relayUsecase.HandleEnvelope(ctx, peer.id, env); err != nil {
			slog.Debug("handle message", slog.Any(constant.Error, err), slog.String(constant.SID, sid))
		}
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *PollHandler) Close(c echo.Context) error {
	if !h.remove(c.Request().Context(), c.Param("sid")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown polling session"})
	}

	return c.NoContent(http.StatusNoContent)
}

// Run убирает сессии, которые клиент перестал опрашивать
func (h *PollHandler) Run(ctx context.Context) {
	interval := h.cfg.PollIdle / 2
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reap(ctx, time.Now())
		}
	}
}

func (h *PollHandler) reap(ctx context.Context, now time.Time) {
	h.mu.RLock()
	idle := make([]string, 0)
	for sid, peer := range h.peers {
		if now.Sub(peer.lastSeenAt()) > h.cfg.PollIdle {
			idle = append(idle, sid)
		}
	}
	h.mu.RUnlock()

	for _, sid := range idle {
		if h.remove(ctx, sid) {
			slog.Info("polling session expired", slog.String(constant.SID, sid))
		}
	}
}

// Sessions возвращает число открытых polling сессий
func (h *PollHandler) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.peers)
}

func (h *PollHandler) get(sid string) (*pollPeer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peer, ok := h.peers[sid]
	return peer, ok
}

func (h *PollHandler) remove(ctx context.Context, sid string) bool {
	h.mu.Lock()
	peer, ok := h.peers[sid]
	delete(h.peers, sid)
	h.mu.Unlock()

	if !ok {
		return false
	}

	peer.Close()
	h.relayUsecase.Disconnect(context.WithoutCancel(ctx), peer.id)

	return true
}

type pollPeer struct {
	id    uuid.UUID
	limit int

	mu       sync.Mutex
	queue    []events.Envelope
	closed   bool
	lastSeen time.Time

	// notify будит ожидающий Poll, емкость 1
	notify chan struct{}
}

func newPollPeer(id uuid.UUID, limit int) *pollPeer {
	return &pollPeer{
		id:       id,
		limit:    limit,
		lastSeen: time.Now(),
		notify:   make(chan struct{}, 1),
	}
}

func (p *pollPeer) Send(env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}

	if p.limit > 0 && len(p.queue) >= p.limit {
		return ErrSlowConsumer
	}
	p.queue = append(p.queue, env)

	p.wake()

	return nil
}

func (p *pollPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.wake()

	return nil
}

func (p *pollPeer) Transport() string {
	return transportPolling
}

func (p *pollPeer) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *pollPeer) take() ([]events.Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := p.queue
	p.queue = nil

	return batch, p.closed
}

func (p *pollPeer) wait(ctx context.Context, hold time.Duration) ([]events.Envelope, bool) {
	timer := time.NewTimer(hold)
	defer timer.Stop()

	for {
		batch, closed := p.take()
		if len(batch) > 0 || closed {
			return batch, closed
		}

		select {
		case <-p.notify:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (p *pollPeer) touch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastSeen = time.Now()
}

func (p *pollPeer) lastSeenAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastSeen
}

func (p *pollPeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}
