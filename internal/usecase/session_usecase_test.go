package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/domain/models"
	"github.com/takato23/sparkrelay/internal/infra/adapters/memory"
	"github.com/takato23/sparkrelay/internal/infra/adapters/postgres/repository"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ABC234", want: "ABC234"},
		{in: "  abc234 ", want: "ABC234"},
		{in: "ABC23", wantErr: true},
		{in: "ABC2345", wantErr: true},
		// 0 и 1 исключены из алфавита
		{in: "ABC230", wantErr: true},
		{in: "ABC-34", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeCode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSessionCode_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("generated codes normalize to themselves", prop.ForAll(
		func(int) bool {
			code := NewSessionCode()
			got, err := NormalizeCode(code)
			return err == nil && got == code && strings.ToUpper(code) == code
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}

func newSessionFixture(t *testing.T) (SessionUsecase, *relayFixture) {
	t.Helper()

	f := newRelayFixture(t, false)
	rel := f.relay.(*relayUsecase)

	return NewSessionUsecase(rel.sessionRepo, f.relay), f
}

func TestSessionUsecase_CreateGetEnd(t *testing.T) {
	ctx := context.Background()
	uc, f := newSessionFixture(t)

	session, err := uc.Create(ctx, "  Friday quiz ")
	require.NoError(t, err)
	assert.Equal(t, "Friday quiz", session.Title)

	f.code = session.Code
	_, alice := f.join(models.RoleParticipant, &models.Participant{ID: "alice", Name: "Alice"})

	info, err := uc.Get(ctx, strings.ToLower(session.Code))
	require.NoError(t, err)
	assert.Equal(t, session.Code, info.Session.Code)
	assert.Equal(t, 1, info.ParticipantCount)

	require.NoError(t, uc.End(ctx, session.Code))
	assert.True(t, alice.closed)
	assert.NotEmpty(t, alice.received(events.Error))

	assert.ErrorIs(t, uc.End(ctx, session.Code), repository.ErrSessionNotFound)

	_, err = uc.Get(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	_, err = uc.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestSessionUsecase_RetriesTakenCodes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository()
	require.NoError(t, repo.Create(ctx, models.NewSession("AAAAAA", "")))

	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	uc := &sessionUsecase{
		sessionRepo: repo,
		newCode: func() string {
			code := codes[0]
			codes = codes[1:]
			return code
		},
	}

	session, err := uc.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", session.Code)

	uc.newCode = func() string { return "AAAAAA" }
	_, err = uc.Create(ctx, "")
	assert.ErrorIs(t, err, ErrCodeSpaceExhaust)
}
