package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takato23/sparkrelay/internal/domain/events"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		wsScheme bool
		want     string
		wantErr  bool
	}{
		{name: "http to ws", base: "http://relay:3000", path: "/ws", wsScheme: true, want: "ws://relay:3000/ws"},
		{name: "https to wss", base: "https://relay/", path: "/ws", wsScheme: true, want: "wss://relay/ws"},
		{name: "ws to http for polling", base: "ws://relay:3000/api", path: "/poll", want: "http://relay:3000/api/poll"},
		{name: "relative url", base: "/relay", path: "/ws", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := endpoint(tt.base, tt.path, tt.wsScheme)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDialer(t *testing.T) {
	_, err := NewDialer(ModeWebSocket)
	assert.NoError(t, err)

	_, err = NewDialer(ModePolling)
	assert.NoError(t, err)

	_, err = NewDialer("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func newEchoWebSocketServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"event":"hangup"`) {
				return
			}
			_ = conn.WriteMessage(mt, []byte("not json"))
			_ = conn.WriteMessage(mt, data)
		}
	}))
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	srv := newEchoWebSocketServer(t)
	defer srv.Close()

	tr, err := NewWebSocketDialer().Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer tr.Close()

	env, err := events.New(events.Ping, events.PingEvent{T: 11})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), env))

	select {
	case got := <-tr.Incoming():
		assert.Equal(t, events.Ping, got.Event)
		ping, err := events.Decode[events.PingEvent](got)
		require.NoError(t, err)
		assert.Equal(t, int64(11), ping.T)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}

	assert.True(t, tr.Connected())
}

func TestWebSocketTransport_RemoteHangup(t *testing.T) {
	srv := newEchoWebSocketServer(t)
	defer srv.Close()

	tr, err := NewWebSocketDialer().Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), events.Envelope{Event: "hangup"}))

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-tr.Incoming():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, tr.Connected())
	assert.Error(t, tr.Err())
	assert.ErrorIs(t, tr.Send(context.Background(), events.Envelope{Event: events.Ping}), ErrClosed)
}

func TestWebSocketTransport_LocalCloseHasNoError(t *testing.T) {
	srv := newEchoWebSocketServer(t)
	defer srv.Close()

	tr, err := NewWebSocketDialer().Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.False(t, tr.Connected())
	assert.NoError(t, tr.Err())
}

// pollServer is a minimal relay polling endpoint that echoes every posted
// envelope back through the next poll.
type pollServer struct {
	mu      sync.Mutex
	queue   []events.Envelope
	deleted bool
}

func (p *pollServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/poll":
		_ = json.NewEncoder(w).Encode(PollOpenResponse{SID: "abc"})
	case r.URL.Path != "/poll/abc":
		http.NotFound(w, r)
	case r.Method == http.MethodPost:
		var batch []events.Envelope
		_ = json.NewDecoder(r.Body).Decode(&batch)
		p.mu.Lock()
		p.queue = append(p.queue, batch...)
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet:
		p.mu.Lock()
		if p.deleted {
			p.mu.Unlock()
			w.WriteHeader(http.StatusGone)
			return
		}
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()
		if len(batch) == 0 {
			time.Sleep(20 * time.Millisecond)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(batch)
	case r.Method == http.MethodDelete:
		p.mu.Lock()
		p.deleted = true
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestPollingTransport_RoundTrip(t *testing.T) {
	ps := &pollServer{}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	tr, err := NewPollingDialer(srv.Client()).Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	env, err := events.New(events.SubmitWord, events.SubmitWordEvent{Word: "go"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), env))

	select {
	case got := <-tr.Incoming():
		assert.Equal(t, events.SubmitWord, got.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope polled")
	}

	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())

	ps.mu.Lock()
	assert.True(t, ps.deleted)
	ps.mu.Unlock()
}

func TestPollingTransport_SessionGone(t *testing.T) {
	ps := &pollServer{}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	tr, err := NewPollingDialer(srv.Client()).Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	defer tr.Close()

	ps.mu.Lock()
	ps.deleted = true
	ps.mu.Unlock()

	require.Eventually(t, func() bool { return !tr.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, tr.Err(), ErrSessionGone)
}
