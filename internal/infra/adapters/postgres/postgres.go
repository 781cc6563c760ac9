package postgres

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/takato23/sparkrelay/internal/application/config"
	"github.com/takato23/sparkrelay/internal/application/constant"
)

// NewPostgres открывает пул к хранилищу сессий и проверяет соединение
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	dbCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(dbCtx, "pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to session store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err = db.PingContext(dbCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping session store: %w", err)
	}

	slog.Info(
		"session store connected",
		slog.String(constant.Database, cfg.Name),
		slog.Int(constant.MaxConns, cfg.MaxOpenConns),
	)

	return db, nil
}

// Ready - проверка готовности для сервера метрик
func Ready(db *sqlx.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		return nil
	}
}
