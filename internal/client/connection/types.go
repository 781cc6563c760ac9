package connection

import (
	"errors"
	"time"

	"github.com/takato23/sparkrelay/internal/client/transport"
)

var ErrNotConnected = errors.New("not connected")

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateOffline      State = "offline"
)

func (s State) String() string {
	return string(s)
}

type StateChange struct {
	From State
	To   State
	At   time.Time
}

// HistoryEntry - запись перехода для диагностики
type HistoryEntry struct {
	State State
	At    time.Time
}

type Metrics struct {
	RTT          *time.Duration
	LastPingAt   *time.Time
	LastPongAt   *time.Time
	FailureCount int // connect errors over the manager's life, never decreases
	MissedPongs  int // heartbeat timeouts, diagnostic only
}

// Config - настройки менеджера, нули берутся из DefaultConfig
type Config struct {
	URL              string         `yaml:"url"`
	Mode             transport.Mode `yaml:"mode"`
	PingInterval     time.Duration  `yaml:"ping_interval"`
	PingTimeout      time.Duration  `yaml:"ping_timeout"`
	MaxBackoff       time.Duration  `yaml:"max_backoff"`
	HistorySize      int            `yaml:"history_size"`
	RTTSamples       int            `yaml:"rtt_samples"`
	OfflineThreshold int            `yaml:"offline_threshold"`
}

func DefaultConfig() Config {
	return Config{
		Mode:             transport.ModeWebSocket,
		PingInterval:     10 * time.Second,
		PingTimeout:      5 * time.Second,
		MaxBackoff:       15 * time.Second,
		HistorySize:      20,
		RTTSamples:       20,
		OfflineThreshold: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.RTTSamples <= 0 {
		c.RTTSamples = d.RTTSamples
	}
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = d.OfflineThreshold
	}

	return c
}
