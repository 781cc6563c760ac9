package memory

import (
	"context"
	"sync"
	"time"

	"github.com/takato23/sparkrelay/internal/domain/models"
	"github.com/takato23/sparkrelay/internal/infra/adapters/postgres/repository"
)

// sessionRepository - реестр сессий без Postgres, живет до перезапуска
type sessionRepository struct {
	sessions map[string]models.Session

	mu sync.RWMutex
}

func NewSessionRepository() repository.SessionRepository {
	return &sessionRepository{
		sessions: make(map[string]models.Session),
	}
}

func (r *sessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.Code]; exists {
		return repository.ErrSessionExists
	}
	r.sessions[session.Code] = *session

	return nil
}

func (r *sessionRepository) GetByCode(_ context.Context, code string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[code]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}

	return &session, nil
}

func (r *sessionRepository) End(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[code]
	if !ok || !session.Active() {
		return repository.ErrSessionNotFound
	}

	now := time.Now()
	session.EndedAt = &now
	r.sessions[code] = session

	return nil
}
