package slidestate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/domain/models"
)

type emitted struct {
	event   string
	payload any
}

type mockChannel struct {
	mu       sync.Mutex
	handlers map[string][]func(events.Envelope)
	emitted   []emitted
	emitErr   error
	destroyed bool
}

func newMockChannel() *mockChannel {
	return &mockChannel{handlers: make(map[string][]func(events.Envelope))}
}

func (m *mockChannel) On(event string, fn func(events.Envelope)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[event] = append(m.handlers[event], fn)
	idx := len(m.handlers[event]) - 1

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers[event][idx] = nil
	}
}

func (m *mockChannel) Emit(_ context.Context, event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emitErr != nil {
		return m.emitErr
	}
	m.emitted = append(m.emitted, emitted{event: event, payload: payload})

	return nil
}

func (m *mockChannel) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.destroyed
}

func (m *mockChannel) destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.destroyed = true
}

func (m *mockChannel) deliver(t *testing.T, event string, payload any) {
	t.Helper()

	env, err := events.New(event, payload)
	require.NoError(t, err)
	m.deliverRaw(env)
}

func (m *mockChannel) deliverRaw(env events.Envelope) {
	m.mu.Lock()
	handlers := slices.Clone(m.handlers[env.Event])
	m.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(env)
		}
	}
}

func (m *mockChannel) emittedEvents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.emitted))
	for _, e := range m.emitted {
		out = append(out, e.event)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

var quiz = models.Slide{ID: "s1", Type: "quiz", Title: "Capital?", Options: []string{"A", "B", "C"}, CorrectIndex: intPtr(1)}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.SlideState
		want     bool
	}{
		{models.SlideStateLobby, models.SlideStateShow, true},
		{models.SlideStateShow, models.SlideStateLocked, true},
		{models.SlideStateLocked, models.SlideStateReveal, true},
		{models.SlideStateReveal, models.SlideStateLobby, true},
		{models.SlideStateLocked, models.SlideStateLobby, true},
		{models.SlideStateShow, models.SlideStateReveal, false},
		{models.SlideStateReveal, models.SlideStateShow, false},
		{models.SlideStateLobby, models.SlideStateLocked, false},
		{models.SlideStateShow, "paused", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPresenter_DrivesLifecycle(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RolePresenter, WithLogger(quietLogger()))
	ctx := context.Background()

	assert.ErrorIs(t, c.SetState(ctx, models.SlideStateShow), ErrNoActiveSlide)

	require.NoError(t, c.ChangeSlide(ctx, quiz))
	v := c.View()
	assert.Equal(t, models.SlideStateShow, v.State)
	assert.True(t, v.AcceptingAnswers)
	assert.False(t, v.ShowResults)

	require.NoError(t, c.SetState(ctx, models.SlideStateLocked))
	assert.ErrorIs(t, c.SetState(ctx, models.SlideStateShow), ErrInvalidTransition)
	require.NoError(t, c.SetState(ctx, models.SlideStateReveal))

	v = c.View()
	assert.True(t, v.ShowResults)
	assert.True(t, v.HighlightCorrect)
	assert.False(t, v.AcceptingAnswers)

	next := models.Slide{ID: "s2", Options: []string{"x", "y"}}
	require.NoError(t, c.ChangeSlide(ctx, next))
	assert.Equal(t, models.SlideStateShow, c.View().State)
	assert.Nil(t, c.View().Results)

	require.NoError(t, c.SetState(ctx, models.SlideStateLobby))
	require.NoError(t, c.SetState(ctx, models.SlideStateLobby))

	assert.Equal(t, []string{
		events.ChangeSlide,
		events.SlideState,
		events.SlideState,
		events.ChangeSlide,
		events.SlideState,
	}, ch.emittedEvents())
}

func TestPresenter_EmitFailureKeepsState(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RolePresenter, WithLogger(quietLogger()))
	require.NoError(t, c.ChangeSlide(context.Background(), quiz))

	ch.emitErr = errors.New("not connected")
	err := c.SetState(context.Background(), models.SlideStateLocked)

	require.Error(t, err)
	assert.Equal(t, models.SlideStateShow, c.View().State)
}

func TestPresenter_IgnoresBroadcastState(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RolePresenter, WithLogger(quietLogger()))
	require.NoError(t, c.ChangeSlide(context.Background(), quiz))

	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateReveal})

	assert.Equal(t, models.SlideStateShow, c.View().State)
}

func TestObserver_CannotDrive(t *testing.T) {
	c := New(newMockChannel(), models.RoleProjector, WithLogger(quietLogger()))

	assert.ErrorIs(t, c.ChangeSlide(context.Background(), quiz), ErrNotPresenter)
	assert.ErrorIs(t, c.SetState(context.Background(), models.SlideStateShow), ErrNotPresenter)
	assert.ErrorIs(t, c.SubmitAnswer(context.Background(), 0), ErrNotParticipant)
}

func TestParticipant_ShowLockedReveal(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))
	ctx := context.Background()

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateShow, SlideID: "s1"})
	assert.True(t, c.View().AcceptingAnswers)

	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateLocked, SlideID: "s1"})
	assert.ErrorIs(t, c.SubmitAnswer(ctx, 1), ErrSubmissionsClosed)

	ch.deliver(t, events.ResultsUpdate, events.ResultsEvent{SlideID: "s1", Counts: []int{1, 4, 0}, Total: 5})
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateReveal, SlideID: "s1"})

	v := c.View()
	assert.Equal(t, models.SlideStateReveal, v.State)
	assert.True(t, v.ShowResults)
	assert.True(t, v.HighlightCorrect)
	require.NotNil(t, v.Results)
	assert.Equal(t, []int{1, 4, 0}, v.Results.Counts)
	assert.ErrorIs(t, c.SubmitAnswer(ctx, 1), ErrSubmissionsClosed)
	assert.Empty(t, ch.emittedEvents())
}

func TestParticipant_SubmitAnswerOncePerSlide(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))
	ctx := context.Background()

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})

	assert.ErrorIs(t, c.SubmitAnswer(ctx, 7), ErrInvalidOption)
	require.NoError(t, c.SubmitAnswer(ctx, 2))
	assert.ErrorIs(t, c.SubmitAnswer(ctx, 1), ErrAlreadyAnswered)
	assert.True(t, c.View().Answered)

	require.Len(t, ch.emitted, 1)
	assert.Equal(t, events.SubmitResponseEvent{SlideID: "s1", OptionIndex: 2}, ch.emitted[0].payload)

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &models.Slide{ID: "s2", Options: []string{"a", "b"}}})
	assert.False(t, c.View().Answered)
	require.NoError(t, c.SubmitAnswer(ctx, 0))
}

func TestParticipant_SameSlideRerun(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))
	ctx := context.Background()

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})
	require.NoError(t, c.SubmitAnswer(ctx, 1))
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateLocked, SlideID: "s1"})
	ch.deliver(t, events.ResultsUpdate, events.ResultsEvent{SlideID: "s1", Counts: []int{0, 1, 0}, Total: 1})
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateReveal, SlideID: "s1"})

	// презентер запускает тот же слайд снова
	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateShow, SlideID: "s1"})

	v := c.View()
	assert.Equal(t, models.SlideStateShow, v.State)
	assert.False(t, v.Answered)
	assert.Nil(t, v.Results)
	require.NoError(t, c.SubmitAnswer(ctx, 2))
}

func TestParticipant_RerunWithoutSlideChanged(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))
	ctx := context.Background()

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})
	require.NoError(t, c.SubmitAnswer(ctx, 0))
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateLobby})
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateShow, SlideID: "s1"})

	assert.False(t, c.View().Answered)
	require.NoError(t, c.SubmitAnswer(ctx, 0))
}

func TestPresenter_NoopAfterChannelDestroyed(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RolePresenter, WithLogger(quietLogger()))
	ctx := context.Background()

	notified := 0
	c.OnChange(func(View) { notified++ })

	ch.destroy()

	require.NoError(t, c.ChangeSlide(ctx, quiz))
	require.NoError(t, c.SetState(ctx, models.SlideStateShow))
	require.NoError(t, c.SetTeamScores(ctx, []models.TeamScore{{Name: "red", Score: 1}}))

	v := c.View()
	assert.Equal(t, models.SlideStateLobby, v.State)
	assert.Nil(t, v.Slide)
	assert.Empty(t, v.TeamScores)
	assert.Zero(t, notified)
	assert.Empty(t, ch.emittedEvents())
}

func TestParticipant_FailedSubmitCanRetry(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))
	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})

	ch.emitErr = errors.New("not connected")
	require.Error(t, c.SubmitAnswer(context.Background(), 0))

	ch.emitErr = nil
	require.NoError(t, c.SubmitAnswer(context.Background(), 0))
}

func TestObserver_LiveResultsFlag(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleProjector, WithLiveResults(true), WithLogger(quietLogger()))

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})

	v := c.View()
	assert.Equal(t, models.SlideStateShow, v.State)
	assert.True(t, v.ShowResults)
	assert.False(t, v.HighlightCorrect)
}

func TestObserver_ResultsIdempotent(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleProjector, WithLogger(quietLogger()))
	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})

	notified := 0
	c.OnChange(func(View) { notified++ })

	snapshot := events.ResultsEvent{SlideID: "s1", Counts: []int{2, 1, 0}, Total: 3}
	ch.deliver(t, events.ResultsUpdate, snapshot)
	ch.deliver(t, events.ResultsUpdate, snapshot)
	ch.deliver(t, events.ResultsUpdate, snapshot)

	assert.Equal(t, 1, notified)
	assert.Equal(t, 3, c.View().Results.Total)
}

func TestObserver_DropsStaleSlideEvents(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleProjector, WithLogger(quietLogger()))

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &models.Slide{ID: "s2"}})
	// results for the previous slide raced the slide change
	ch.deliver(t, events.ResultsUpdate, events.ResultsEvent{SlideID: "s1", Counts: []int{9}, Total: 9})
	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: models.SlideStateReveal, SlideID: "s1"})

	v := c.View()
	assert.Nil(t, v.Results)
	assert.Equal(t, models.SlideStateShow, v.State)
}

func TestObserver_IgnoresUnknownAndMalformed(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleProjector, WithLogger(quietLogger()))

	notified := 0
	c.OnChange(func(View) { notified++ })

	ch.deliver(t, events.SlideState, events.SlideStateEvent{State: "paused"})
	ch.deliverRaw(events.Envelope{Event: events.ResultsUpdate, Data: []byte(`{"counts": "x"}`)})
	ch.deliverRaw(events.Envelope{Event: events.SlideChanged, Data: []byte(`[`)})

	assert.Zero(t, notified)
	assert.Equal(t, models.SlideStateLobby, c.View().State)
}

func TestObserver_CountsFromAuthoritativeTotal(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleProjector, WithLogger(quietLogger()))

	for _, id := range []string{"p1", "p2", "p3"} {
		ch.deliver(t, events.ParticipantJoined, events.ParticipantJoinedEvent{
			Participant:       models.Participant{ID: id, Name: id},
			TotalParticipants: 5,
		})
	}

	v := c.View()
	assert.Equal(t, 5, v.TotalParticipants)
	assert.Len(t, v.Participants, 3)

	// duplicate join does not grow the roster
	ch.deliver(t, events.ParticipantJoined, events.ParticipantJoinedEvent{
		Participant:       models.Participant{ID: "p1", Name: "p1"},
		TotalParticipants: 5,
	})
	assert.Len(t, c.View().Participants, 3)

	four := 4
	ch.deliver(t, events.ParticipantLeft, events.ParticipantLeftEvent{ParticipantID: "p2", TotalParticipants: &four})
	v = c.View()
	assert.Equal(t, 4, v.TotalParticipants)
	assert.Len(t, v.Participants, 2)

	// older relays omit the total; the count stays authoritative
	ch.deliver(t, events.ParticipantLeft, events.ParticipantLeftEvent{ParticipantID: "p3"})
	v = c.View()
	assert.Equal(t, 4, v.TotalParticipants)
	assert.Len(t, v.Participants, 1)
}

func TestObserver_SessionJoinedSnapshot(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))

	ch.deliver(t, events.SessionJoined, events.SessionJoinedEvent{
		SessionCode:       "ABC123",
		Role:              models.RoleParticipant,
		TotalParticipants: 2,
		Participants:      []models.Participant{{ID: "p1"}, {ID: "p2"}},
		Slide:             &quiz,
		State:             models.SlideStateLocked,
	})

	v := c.View()
	assert.Equal(t, 2, v.TotalParticipants)
	assert.Equal(t, models.SlideStateLocked, v.State)
	assert.Equal(t, "s1", v.Slide.ID)
	assert.False(t, v.AcceptingAnswers)
}

func TestObserver_TeamScoresAndWordCloud(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleProjector, WithLogger(quietLogger()))

	ch.deliverRaw(events.Envelope{Event: events.TeamScoresUpdated, Data: []byte(`{"teamScores":[["red",10],["blue",7]]}`)})
	ch.deliver(t, events.WordCloudUpdate, events.WordCloudEvent{WordCounts: map[string]int{"go": 3, "rust": 1}})

	v := c.View()
	assert.Equal(t, []models.TeamScore{{Name: "red", Score: 10}, {Name: "blue", Score: 7}}, v.TeamScores)
	assert.Equal(t, map[string]int{"go": 3, "rust": 1}, v.WordCounts)

	// view is a snapshot
	v.WordCounts["go"] = 100
	assert.Equal(t, 3, c.View().WordCounts["go"])
}

func TestQna_Feed(t *testing.T) {
	ch := newMockChannel()
	presenter := New(ch, models.RolePresenter, WithLogger(quietLogger()))
	ctx := context.Background()

	ch.deliver(t, events.QnaMessage, models.QnaMessage{ID: "q1", Text: "why?"})
	ch.deliver(t, events.QnaMessage, models.QnaMessage{ID: "q2", Text: "how?"})
	ch.deliver(t, events.QnaMessage, models.QnaMessage{ID: "q1", Text: "dup"})
	require.Len(t, presenter.View().Questions, 2)

	require.NoError(t, presenter.Moderate(ctx, events.QnaApprove, "q1"))
	require.NoError(t, presenter.Moderate(ctx, events.QnaHighlight, "q2"))
	q := presenter.View().Questions
	assert.True(t, q[0].Approved)
	assert.True(t, q[1].Highlighted)

	ch.deliver(t, events.QnaClearHighlight, models.QnaMessage{})
	assert.False(t, presenter.View().Questions[1].Highlighted)

	ch.deliver(t, events.QnaDiscard, models.QnaMessage{ID: "q1"})
	q = presenter.View().Questions
	require.Len(t, q, 1)
	assert.Equal(t, "q2", q[0].ID)

	assert.Error(t, presenter.Moderate(ctx, events.Kicked, "q2"))
}

func TestParticipant_AskQuestionAndWord(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))
	ctx := context.Background()

	id, err := c.AskQuestion(ctx, "  what next? ", "ana")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.ErrorIs(t, c.SubmitWord(ctx, "   "), ErrEmptyWord)
	require.NoError(t, c.SubmitWord(ctx, " gopher "))

	require.Len(t, ch.emitted, 2)
	assert.Equal(t, models.QnaMessage{ID: id, Text: "what next?", Author: "ana"}, ch.emitted[0].payload)
	assert.Equal(t, events.SubmitWordEvent{Word: "gopher"}, ch.emitted[1].payload)
}

func TestCoordinator_KickedAndClose(t *testing.T) {
	ch := newMockChannel()
	c := New(ch, models.RoleParticipant, WithLogger(quietLogger()))

	ch.deliver(t, events.Kicked, events.KickedEvent{SessionCode: "ABC123"})
	assert.True(t, c.View().Kicked)

	c.Close()
	c.Close()

	ch.deliver(t, events.SlideChanged, events.SlideEvent{Slide: &quiz})
	assert.Nil(t, c.View().Slide)
	assert.ErrorIs(t, c.SubmitWord(context.Background(), "x"), ErrClosed)
}
