package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/domain/events"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	incomingBuffer   = 256
)

type webSocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebSocketDialer() Dialer {
	return &webSocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *webSocketDialer) Dial(ctx context.Context, baseURL string) (Transport, error) {
	target, err := endpoint(baseURL, "/ws", true)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, err
	}

	t := &webSocketTransport{
		conn:     conn,
		incoming: make(chan events.Envelope, incomingBuffer),
		done:     make(chan struct{}),
	}
	t.connected = true

	go t.readLoop()

	slog.Debug("websocket transport connected", slog.String(constant.URL, target))

	return t, nil
}

type webSocketTransport struct {
	conn     *websocket.Conn
	incoming chan events.Envelope
	done     chan struct{}

	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	closed    bool
	err       error
}

func (t *webSocketTransport) Send(ctx context.Context, env events.Envelope) error {
	if !t.Connected() {
		return ErrClosed
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return t.conn.WriteJSON(env)
}

func (t *webSocketTransport) Incoming() <-chan events.Envelope {
	return t.incoming
}

func (t *webSocketTransport) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.err
}

func (t *webSocketTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.connected
}

func (t *webSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	close(t.done)

	t.writeMu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *webSocketTransport) readLoop() {
	defer close(t.incoming)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if !t.closed {
				t.err = err
			}
			t.connected = false
			t.mu.Unlock()

			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("drop malformed envelope", slog.Any(constant.Error, err))
			continue
		}

		select {
		case t.incoming <- env:
		case <-t.done:
			return
		}
	}
}
