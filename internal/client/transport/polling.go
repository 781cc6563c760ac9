package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/domain/events"
)

// PollHold - сколько релей держит пустой poll
const PollHold = 25 * time.Second

var ErrSessionGone = errors.New("polling session gone")

type PollOpenResponse struct {
	SID string `json:"sid"`
}

type pollingDialer struct {
	client *http.Client
}

// NewPollingDialer - long-polling, без client таймаут больше PollHold
func NewPollingDialer(client *http.Client) Dialer {
	if client == nil {
		client = &http.Client{Timeout: PollHold + 10*time.Second}
	}

	return &pollingDialer{client: client}
}

func (d *pollingDialer) Dial(ctx context.Context, baseURL string) (Transport, error) {
	base, err := endpoint(baseURL, "/poll", false)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, nil)
	if err != nil {
		return nil, fmt.Errorf("build open request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open polling session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("open polling session: unexpected status %d", resp.StatusCode)
	}

	var open PollOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil {
		return nil, fmt.Errorf("decode open response: %w", err)
	}

	if open.SID == "" {
		return nil, fmt.Errorf("open polling session: empty sid")
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	t := &pollingTransport{
		client:   d.client,
		url:      base + "/" + open.SID,
		incoming: make(chan events.Envelope, incomingBuffer),
		cancel:   cancel,
	}
	t.connected = true

	go t.pollLoop(loopCtx)

	slog.Debug("polling transport connected", slog.String(constant.URL, base), slog.String(constant.SID, open.SID))

	return t, nil
}

type pollingTransport struct {
	client   *http.Client
	url      string
	incoming chan events.Envelope
	cancel   context.CancelFunc

	mu        sync.RWMutex
	connected bool
	closed    bool
	err       error
}

func (t *pollingTransport) Send(ctx context.Context, env events.Envelope) error {
	if !t.Connected() {
		return ErrClosed
	}

	body, err := json.Marshal([]events.Envelope{env})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send envelope: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusNotFound, http.StatusGone:
		t.fail(ErrSessionGone)
		return ErrSessionGone
	default:
		return fmt.Errorf("send envelope: unexpected status %d", resp.StatusCode)
	}
}

func (t *pollingTransport) Incoming() <-chan events.Envelope {
	return t.incoming
}

func (t *pollingTransport) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.err
}

func (t *pollingTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.connected
}

func (t *pollingTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	t.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()

	return nil
}

func (t *pollingTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed && t.err == nil {
		t.err = err
	}
	t.connected = false
	t.cancel()
}

func (t *pollingTransport) pollLoop(ctx context.Context) {
	defer close(t.incoming)

	for {
		batch, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() == nil {
				t.fail(err)
			}
			return
		}

		for _, env := range batch {
			select {
			case t.incoming <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *pollingTransport) poll(ctx context.Context) ([]events.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrSessionGone
	default:
		return nil, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}

	var batch []events.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		slog.Debug("drop malformed poll batch", slog.Any(constant.Error, err))
		return nil, nil
	}

	return batch, nil
}
