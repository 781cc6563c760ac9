package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/takato23/sparkrelay/internal/domain/models"
	"github.com/takato23/sparkrelay/internal/infra/adapters/postgres/repository"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6

	maxCodeAttempts = 5
)

var (
	ErrInvalidCode      = errors.New("invalid session code")
	ErrCodeSpaceExhaust = errors.New("could not allocate a free session code")
)

// SessionInfo - запись реестра вместе с живым состоянием
type SessionInfo struct {
	Session          *models.Session
	ParticipantCount int
}

type SessionUsecase interface {
	Create(ctx context.Context, title string) (*models.Session, error)
	Get(ctx context.Context, code string) (*SessionInfo, error)
	End(ctx context.Context, code string) error
}

type sessionUsecase struct {
	sessionRepo repository.SessionRepository
	relay       RelayUsecase

	newCode func() string
}

func NewSessionUsecase(sessionRepo repository.SessionRepository, relay RelayUsecase) SessionUsecase {
	return &sessionUsecase{
		sessionRepo: sessionRepo,
		relay:       relay,
		newCode:     NewSessionCode,
	}
}

// NewSessionCode возвращает код из codeAlphabet. 256 делится на 32 без
// остатка, поэтому символы распределены равномерно.
func NewSessionCode() string {
	id := uuid.New()

	var b strings.Builder
	b.Grow(codeLength)

	for i := range codeLength {
		b.WriteByte(codeAlphabet[int(id[i])%len(codeAlphabet)])
	}

	return b.String()
}

// NormalizeCode приводит введенный пользователем код к каноничному виду
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	if len(code) != codeLength {
		return "", ErrInvalidCode
	}

	for i := range len(code) {
		if strings.IndexByte(codeAlphabet, code[i]) < 0 {
			return "", ErrInvalidCode
		}
	}

	return code, nil
}

func (uc *sessionUsecase) Create(ctx context.Context, title string) (*models.Session, error) {
	for range maxCodeAttempts {
		session := models.NewSession(uc.newCode(), strings.TrimSpace(title))

		err := uc.sessionRepo.Create(ctx, session)
		if errors.Is(err, repository.ErrSessionExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}

		return session, nil
	}

	return nil, ErrCodeSpaceExhaust
}

func (uc *sessionUsecase) Get(ctx context.Context, code string) (*SessionInfo, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	session, err := uc.sessionRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &SessionInfo{
		Session:          session,
		ParticipantCount: uc.relay.ParticipantCount(code),
	}, nil
}

func (uc *sessionUsecase) End(ctx context.Context, code string) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}

	if err = uc.sessionRepo.End(ctx, code); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	uc.relay.CloseSession(ctx, code)

	return nil
}
