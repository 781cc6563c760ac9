package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/takato23/sparkrelay/internal/application/config"
	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/usecase"
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader
	cfg      config.RelayConfig

	relayUsecase usecase.RelayUsecase
}

func NewWebSocketHandler(cfg *config.Config, relayUsecase usecase.RelayUsecase) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				// нативные клиенты Origin не шлют
				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.Domain
			},
		},
		cfg:          cfg.Relay,
		relayUsecase: relayUsecase,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return nil
	}

	ctx := context.WithoutCancel(c.Request().Context())
	peerID := uuid.New()

	peer := newWSPeer(ws, h.cfg)
	go peer.writePump()
	defer peer.Close()

	h.relayUsecase.Connect(ctx, peerID, peer)
	defer h.relayUsecase.Disconnect(ctx, peerID)

	ws.SetReadLimit(maxMessageSize)

	if err = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		return nil
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			h.handleWebsocketError(peerID, err)

			return nil
		}

		// любое сообщение от клиента продлевает жизнь соединения
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var env events.Envelope
		if err = json.Unmarshal(msg, &env); err != nil {
			slog.Debug("unmarshal websocket message", slog.Any(constant.Error, err), slog.Any(constant.PeerID, peerID))

			continue
		}

		if err = h.relayUsecase.HandleEnvelope(ctx, peerID, env); err != nil {
			slog.Debug("handle message", slog.Any(constant.Error, err), slog.Any(constant.PeerID, peerID))
		}
	}
}

func (h *WebSocketHandler) handleWebsocketError(peerID uuid.UUID, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			slog.Info("peer disconnected from websocket", slog.Any(constant.PeerID, peerID))
		default:
			slog.Error("websocket close error", slog.Int("code", closeErr.Code), slog.Any(constant.PeerID, peerID))
		}
	} else if !errors.Is(err, net.ErrClosed) {
		slog.Error(
			"websocket read",
			slog.Any(constant.Error, err),
			slog.Any(constant.PeerID, peerID),
		)
	}
}

const maxMessageSize = 64 << 10

// wsPeer буферизует исходящие события; писать в соединение может только writePump
type wsPeer struct {
	conn *websocket.Conn
	cfg  config.RelayConfig

	out  chan events.Envelope
	done chan struct{}
	once sync.Once
}

func newWSPeer(conn *websocket.Conn, cfg config.RelayConfig) *wsPeer {
	return &wsPeer{
		conn: conn,
		cfg:  cfg,
		out:  make(chan events.Envelope, cfg.OutboundBuffer),
		done: make(chan struct{}),
	}
}

func (p *wsPeer) Send(env events.Envelope) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	select {
	case p.out <- env:
		return nil
	default:
		p.Close()
		return ErrSlowConsumer
	}
}

func (p *wsPeer) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *wsPeer) Transport() string {
	return transportWebSocket
}

func (p *wsPeer) writePump() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	defer p.conn.Close()

	for {
		select {
		case env := <-p.out:
			if err := p.write(env); err != nil {
				slog.Debug("websocket write", slog.Any(constant.Error, err))
				return
			}

		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.cfg.WriteWait)); err != nil {
				slog.Debug("ping failed", slog.Any(constant.Error, err))
				return
			}

		case <-p.done:
			p.flush()

			_ = p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(p.cfg.WriteWait),
			)
			return
		}
	}
}

// flush дописывает то, что успели поставить в очередь до закрытия (например kicked)
func (p *wsPeer) flush() {
	for {
		select {
		case env := <-p.out:
			if err := p.write(env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *wsPeer) write(env events.Envelope) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteWait)); err != nil {
		return err
	}

	return p.conn.WriteJSON(env)
}
