package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3000"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3000"`

	Relay    RelayConfig
	Postgres PostgresConfig
}

// RelayConfig - параметры транспорта и сессий релея
type RelayConfig struct {
	// LiveResults - показывать результаты во время show, а не только на reveal
	LiveResults bool `env:"LIVE_RESULTS" envDefault:"false"`

	PingInterval   time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	PongWait       time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	WriteWait      time.Duration `env:"WS_WRITE_WAIT" envDefault:"10s"`
	PollHold       time.Duration `env:"POLL_HOLD" envDefault:"25s"`
	PollIdle       time.Duration `env:"POLL_IDLE" envDefault:"60s"`
	OutboundBuffer int           `env:"OUTBOUND_BUFFER" envDefault:"256"`
}

type PostgresConfig struct {
	// URL пустой - сессии хранятся в памяти
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"sparkrelay"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`

	// пул соединений
	MaxOpenConns    int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"POSTGRES_CONNECT_TIMEOUT" envDefault:"10s"`

	// Enabled - использовать Postgres вместо памяти
	Enabled bool `env:"POSTGRES_ENABLED" envDefault:"false"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

// UsePostgres сообщает, настроено ли постоянное хранилище сессий
func (p *PostgresConfig) UsePostgres() bool {
	return p.Enabled || p.URL != ""
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.Relay.PongWait <= c.Relay.PingInterval {
		return nil, fmt.Errorf("WS_PONG_WAIT (%s) must exceed WS_PING_INTERVAL (%s)", c.Relay.PongWait, c.Relay.PingInterval)
	}

	return &c, nil
}
