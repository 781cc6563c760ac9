package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/takato23/sparkrelay/internal/domain/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session code already taken")
)

// SessionRepository - реестр кодов сессий
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByCode(ctx context.Context, code string) (*models.Session, error)
	End(ctx context.Context, code string) error
}

type sessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, session *models.Session) error {
	res, err := r.db.ExecContext(
		ctx,
		"INSERT INTO sessions (code, title, created_at) VALUES ($1, $2, $3) ON CONFLICT (code) DO NOTHING",
		session.Code,
		session.Title,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if aff, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("create session rows affected: %w", err)
	} else if aff == 0 {
		return ErrSessionExists
	}

	return nil
}

func (r *sessionRepo) GetByCode(ctx context.Context, code string) (*models.Session, error) {
	var session models.Session

	err := r.db.GetContext(ctx, &session, "SELECT code, title, created_at, ended_at FROM sessions WHERE code = $1", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &session, nil
}

func (r *sessionRepo) End(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE sessions SET ended_at = $1 WHERE code = $2 AND ended_at IS NULL",
		time.Now(),
		code,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	if aff, err := res.RowsAffected(); err == nil && aff == 0 {
		return ErrSessionNotFound
	}

	return nil
}
