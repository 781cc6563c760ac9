package handlers

import "errors"

const (
	transportWebSocket = "websocket"
	transportPolling   = "polling"
)

var (
	ErrPeerClosed   = errors.New("peer closed")
	ErrSlowConsumer = errors.New("peer outbound buffer full")
)
