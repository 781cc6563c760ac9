// Package transport - websocket и long-polling до релея
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/takato23/sparkrelay/internal/domain/events"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrUnknownMode = errors.New("unknown transport mode")
)

type Mode string

const (
	ModeWebSocket Mode = "websocket"
	ModePolling   Mode = "polling"
)

// Transport - одно живое подключение
type Transport interface {
	Send(ctx context.Context, env events.Envelope) error
	// Incoming закрывается при обрыве, причина в Err
	Incoming() <-chan events.Envelope
	Err() error
	Connected() bool
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, baseURL string) (Transport, error)
}

type DialerFunc func(ctx context.Context, baseURL string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, baseURL string) (Transport, error) {
	return f(ctx, baseURL)
}

func NewDialer(mode Mode) (Dialer, error) {
	switch mode {
	case ModeWebSocket, "":
		return NewWebSocketDialer(), nil
	case ModePolling:
		return NewPollingDialer(nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// endpoint - base URL + path, при wsScheme http -> ws
func endpoint(baseURL, path string, wsScheme bool) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("relay url %q must be absolute", baseURL)
	}

	if wsScheme {
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
	} else {
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		}
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + path

	return u.String(), nil
}
