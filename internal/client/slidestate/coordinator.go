// Package slidestate - состояние слайдов сессии на клиенте
package slidestate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/domain/models"
)

var (
	ErrInvalidTransition = errors.New("invalid slide state transition")
	ErrNotPresenter      = errors.New("only the presenter can drive the session")
	ErrNotParticipant    = errors.New("only participants can respond")
	ErrSubmissionsClosed = errors.New("submissions are closed")
	ErrAlreadyAnswered   = errors.New("already answered this slide")
	ErrInvalidOption     = errors.New("option index out of range")
	ErrNoActiveSlide     = errors.New("no active slide")
	ErrEmptyWord         = errors.New("word is empty")
	ErrClosed            = errors.New("coordinator closed")
)

// Channel - канал событий, обычно *connection.Manager
type Channel interface {
	On(event string, fn func(events.Envelope)) func()
	Emit(ctx context.Context, event string, payload any) error
}

// destroyable каналы молча глотают Emit после уничтожения
type destroyable interface {
	Destroyed() bool
}

type Option func(*Coordinator)

// WithLiveResults - результаты видны уже в show
func WithLiveResults(enabled bool) Option {
	return func(c *Coordinator) { c.liveResults = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// View - снимок для отрисовки
type View struct {
	Role              models.SessionRole
	State             models.SlideState
	Slide             *models.Slide
	Results           *models.ResultsSnapshot
	ShowResults       bool
	HighlightCorrect  bool
	AcceptingAnswers  bool
	Answered          bool
	TotalParticipants int
	Participants      []models.Participant
	TeamScores        []models.TeamScore
	WordCounts        map[string]int
	Questions         []models.QnaMessage
	Kicked            bool
}

// Coordinator сводит события сессии в View. Презентер ведет состояние сам,
// остальные роли применяют рассылку релея
type Coordinator struct {
	ch          Channel
	role        models.SessionRole
	liveResults bool
	logger      *slog.Logger

	// операции презентера по одной
	driveMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	state        models.SlideState
	slide        *models.Slide
	results      *models.ResultsSnapshot
	answered     map[string]bool
	total        int
	participants []models.Participant
	teamScores   []models.TeamScore
	wordCounts   map[string]int
	questions    []models.QnaMessage
	kicked       bool

	nextListener int
	listeners    map[int]func(View)
	unsubscribes []func()
}

func New(ch Channel, role models.SessionRole, opts ...Option) *Coordinator {
	c := &Coordinator{
		ch:         ch,
		role:       role,
		logger:     slog.Default(),
		state:      models.SlideStateLobby,
		answered:   make(map[string]bool),
		wordCounts: make(map[string]int),
		listeners:  make(map[int]func(View)),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.subscribe(events.SessionJoined, c.onSessionJoined)
	c.subscribe(events.SlideChanged, c.onSlideChanged)
	c.subscribe(events.SlideState, c.onSlideState)
	c.subscribe(events.ResultsUpdate, c.onResults)
	c.subscribe(events.ParticipantJoined, c.onParticipantJoined)
	c.subscribe(events.ParticipantLeft, c.onParticipantLeft)
	c.subscribe(events.TeamScoresUpdated, c.onTeamScores)
	c.subscribe(events.WordCloudUpdate, c.onWordCloud)
	c.subscribe(events.Kicked, c.onKicked)
	for _, event := range []string{events.QnaMessage, events.QnaApprove, events.QnaDiscard, events.QnaHighlight, events.QnaClearHighlight} {
		c.subscribe(event, c.onQna)
	}

	return c
}

func (c *Coordinator) subscribe(event string, reduce func(events.Envelope) bool) {
	unsubscribe := c.ch.On(event, func(env events.Envelope) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		changed := reduce(env)
		c.mu.Unlock()

		if changed {
			c.notify()
		}
	})
	c.unsubscribes = append(c.unsubscribes, unsubscribe)
}

func (c *Coordinator) OnChange(fn func(View)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close отписывается от канала
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribes := c.unsubscribes
	c.unsubscribes = nil
	c.listeners = make(map[int]func(View))
	c.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.viewLocked()
}

func (c *Coordinator) viewLocked() View {
	v := View{
		Role:              c.role,
		State:             c.state,
		ShowResults:       c.state == models.SlideStateReveal || (c.state == models.SlideStateShow && c.liveResults),
		HighlightCorrect:  c.state == models.SlideStateReveal,
		AcceptingAnswers:  c.state == models.SlideStateShow && c.slide != nil,
		TotalParticipants: c.total,
		Participants:      slices.Clone(c.participants),
		TeamScores:        slices.Clone(c.teamScores),
		WordCounts:        maps.Clone(c.wordCounts),
		Questions:         slices.Clone(c.questions),
		Kicked:            c.kicked,
	}

	if c.slide != nil {
		s := *c.slide
		s.Options = slices.Clone(c.slide.Options)
		v.Slide = &s
		v.Answered = c.answered[s.ID]
	}
	if c.results != nil {
		r := *c.results
		r.Counts = slices.Clone(c.results.Counts)
		v.Results = &r
	}

	return v
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	listeners := make([]func(View), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	view := c.viewLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		l(view)
	}
}

// ChangeSlide - новый активный слайд в show
func (c *Coordinator) ChangeSlide(ctx context.Context, slide models.Slide) error {
	if c.role != models.RolePresenter {
		return ErrNotPresenter
	}
	if slide.ID == "" {
		return ErrNoActiveSlide
	}

	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if c.channelDestroyed() {
		return nil
	}

	if err := c.ch.Emit(ctx, events.ChangeSlide, events.SlideEvent{Slide: &slide}); err != nil {
		return fmt.Errorf("change slide: %w", err)
	}

	c.mu.Lock()
	c.setSlideLocked(&slide)
	c.state = models.SlideStateShow
	c.mu.Unlock()

	c.notify()

	return nil
}

func (c *Coordinator) SetState(ctx context.Context, next models.SlideState) error {
	if c.role != models.RolePresenter {
		return ErrNotPresenter
	}

	c.driveMu.Lock()
	defer c.driveMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	current, slide := c.state, c.slide
	c.mu.Unlock()

	if c.channelDestroyed() {
		return nil
	}

	if current == next && next == models.SlideStateLobby {
		return nil
	}
	if !CanTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	if next != models.SlideStateLobby && slide == nil {
		return ErrNoActiveSlide
	}

	payload := events.SlideStateEvent{State: next}
	if slide != nil {
		payload.SlideID = slide.ID
	}
	if err := c.ch.Emit(ctx, events.SlideState, payload); err != nil {
		return fmt.Errorf("set slide state: %w", err)
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	c.notify()

	return nil
}

// CanTransition - допустимые переходы SetState, reveal -> show только через ChangeSlide
func CanTransition(from, to models.SlideState) bool {
	if !to.Valid() {
		return false
	}
	if to == models.SlideStateLobby {
		return true
	}

	switch from {
	case models.SlideStateLobby:
		return to == models.SlideStateShow
	case models.SlideStateShow:
		return to == models.SlideStateLocked
	case models.SlideStateLocked:
		return to == models.SlideStateReveal
	default:
		return false
	}
}

// SubmitAnswer - один ответ на слайд
func (c *Coordinator) SubmitAnswer(ctx context.Context, optionIndex int) error {
	if c.role != models.RoleParticipant {
		return ErrNotParticipant
	}

	if c.channelDestroyed() {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != models.SlideStateShow || c.slide == nil {
		c.mu.Unlock()
		return ErrSubmissionsClosed
	}
	slide := c.slide
	if c.answered[slide.ID] {
		c.mu.Unlock()
		return ErrAlreadyAnswered
	}
	if optionIndex < 0 || (len(slide.Options) > 0 && optionIndex >= len(slide.Options)) {
		c.mu.Unlock()
		return ErrInvalidOption
	}
	c.answered[slide.ID] = true
	c.mu.Unlock()

	err := c.ch.Emit(ctx, events.SubmitResponse, events.SubmitResponseEvent{
		SlideID:     slide.ID,
		OptionIndex: optionIndex,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.answered, slide.ID)
		c.mu.Unlock()

		return fmt.Errorf("submit answer: %w", err)
	}

	c.notify()

	return nil
}

func (c *Coordinator) SubmitWord(ctx context.Context, word string) error {
	if c.role != models.RoleParticipant {
		return ErrNotParticipant
	}

	word = strings.TrimSpace(word)
	if word == "" {
		return ErrEmptyWord
	}
	if c.isClosed() {
		return ErrClosed
	}

	if err := c.ch.Emit(ctx, events.SubmitWord, events.SubmitWordEvent{Word: word}); err != nil {
		return fmt.Errorf("submit word: %w", err)
	}

	return nil
}

func (c *Coordinator) SetTeamScores(ctx context.Context, scores []models.TeamScore) error {
	if c.role != models.RolePresenter {
		return ErrNotPresenter
	}
	if c.isClosed() {
		return ErrClosed
	}
	if c.channelDestroyed() {
		return nil
	}

	if err := c.ch.Emit(ctx, events.TeamScores, events.TeamScoresEvent{TeamScores: scores}); err != nil {
		return fmt.Errorf("set team scores: %w", err)
	}

	c.mu.Lock()
	c.teamScores = slices.Clone(scores)
	c.mu.Unlock()

	c.notify()

	return nil
}

// AskQuestion возвращает id вопроса
func (c *Coordinator) AskQuestion(ctx context.Context, text, author string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyWord
	}
	if c.isClosed() {
		return "", ErrClosed
	}

	msg := models.QnaMessage{ID: uuid.NewString(), Text: text, Author: author}
	if err := c.ch.Emit(ctx, events.QnaMessage, msg); err != nil {
		return "", fmt.Errorf("ask question: %w", err)
	}

	return msg.ID, nil
}

// Moderate - модерация вопроса презентером
func (c *Coordinator) Moderate(ctx context.Context, event, id string) error {
	if c.role != models.RolePresenter {
		return ErrNotPresenter
	}

	switch event {
	case events.QnaApprove, events.QnaDiscard, events.QnaHighlight, events.QnaClearHighlight:
	default:
		return fmt.Errorf("moderate: unknown event %q", event)
	}
	if c.isClosed() {
		return ErrClosed
	}
	if c.channelDestroyed() {
		return nil
	}

	if err := c.ch.Emit(ctx, event, models.QnaMessage{ID: id}); err != nil {
		return fmt.Errorf("moderate %s: %w", event, err)
	}

	c.mu.Lock()
	changed := c.applyQnaLocked(event, models.QnaMessage{ID: id})
	c.mu.Unlock()

	if changed {
		c.notify()
	}

	return nil
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Coordinator) channelDestroyed() bool {
	d, ok := c.ch.(destroyable)
	return ok && d.Destroyed()
}

func (c *Coordinator) setSlideLocked(slide *models.Slide) {
	c.slide = slide
	c.results = nil
}

// rerunLocked сбрасывает ответы и итоги, когда слайд запускают заново
func (c *Coordinator) rerunLocked() {
	if c.slide != nil {
		delete(c.answered, c.slide.ID)
	}
	c.results = nil
}

// slideMismatchLocked - id чужого слайда
func (c *Coordinator) slideMismatchLocked(id string) bool {
	return id != "" && c.slide != nil && c.slide.ID != id
}

func (c *Coordinator) drop(env events.Envelope, err error) bool {
	c.logger.Debug("drop malformed event",
		slog.String(constant.Event, env.Event),
		slog.Any(constant.Error, err),
	)
	return false
}

func (c *Coordinator) onSessionJoined(env events.Envelope) bool {
	e, err := events.Decode[events.SessionJoinedEvent](env)
	if err != nil {
		return c.drop(env, err)
	}

	c.total = e.TotalParticipants
	c.participants = slices.Clone(e.Participants)
	if e.Slide != nil && c.role != models.RolePresenter {
		c.setSlideLocked(e.Slide)
	}
	if e.State.Valid() && c.role != models.RolePresenter {
		c.state = e.State
	}

	return true
}

func (c *Coordinator) onSlideChanged(env events.Envelope) bool {
	if c.role == models.RolePresenter {
		return false
	}

	e, err := events.Decode[events.SlideEvent](env)
	if err != nil {
		return c.drop(env, err)
	}
	if e.Slide == nil || e.Slide.ID == "" {
		return c.drop(env, ErrNoActiveSlide)
	}
	if c.slide != nil && c.slide.ID == e.Slide.ID {
		if c.state == models.SlideStateShow {
			return false
		}
		c.rerunLocked()
	}

	c.setSlideLocked(e.Slide)
	c.state = models.SlideStateShow

	return true
}

func (c *Coordinator) onSlideState(env events.Envelope) bool {
	if c.role == models.RolePresenter {
		return false
	}

	e, err := events.Decode[events.SlideStateEvent](env)
	if err != nil {
		return c.drop(env, err)
	}
	if !e.State.Valid() {
		c.logger.Debug("ignore unknown slide state", slog.String(constant.State, string(e.State)))
		return false
	}
	if c.slideMismatchLocked(e.SlideID) {
		c.logger.Debug("ignore stale slide state",
			slog.String(constant.SlideID, e.SlideID),
			slog.String(constant.State, string(e.State)),
		)
		return false
	}
	if c.state == e.State {
		return false
	}
	if e.State == models.SlideStateShow && (c.state == models.SlideStateReveal || c.state == models.SlideStateLobby) {
		c.rerunLocked()
	}

	c.state = e.State

	return true
}

func (c *Coordinator) onResults(env events.Envelope) bool {
	e, err := events.Decode[events.ResultsEvent](env)
	if err != nil {
		return c.drop(env, err)
	}
	if c.slideMismatchLocked(e.SlideID) {
		c.logger.Debug("ignore results for another slide", slog.String(constant.SlideID, e.SlideID))
		return false
	}
	if c.results != nil && c.results.Equal(e) {
		return false
	}

	c.results = &e

	return true
}

func (c *Coordinator) onParticipantJoined(env events.Envelope) bool {
	e, err := events.Decode[events.ParticipantJoinedEvent](env)
	if err != nil {
		return c.drop(env, err)
	}

	c.total = e.TotalParticipants
	if !slices.ContainsFunc(c.participants, func(p models.Participant) bool { return p.ID == e.Participant.ID }) {
		c.participants = append(c.participants, e.Participant)
	}

	return true
}

func (c *Coordinator) onParticipantLeft(env events.Envelope) bool {
	e, err := events.Decode[events.ParticipantLeftEvent](env)
	if err != nil {
		return c.drop(env, err)
	}

	if e.TotalParticipants != nil {
		c.total = *e.TotalParticipants
	}
	c.participants = slices.DeleteFunc(c.participants, func(p models.Participant) bool {
		return p.ID == e.ParticipantID
	})

	return true
}

func (c *Coordinator) onTeamScores(env events.Envelope) bool {
	e, err := events.Decode[events.TeamScoresEvent](env)
	if err != nil {
		return c.drop(env, err)
	}

	c.teamScores = e.TeamScores

	return true
}

func (c *Coordinator) onWordCloud(env events.Envelope) bool {
	e, err := events.Decode[events.WordCloudEvent](env)
	if err != nil {
		return c.drop(env, err)
	}
	if maps.Equal(c.wordCounts, e.WordCounts) {
		return false
	}

	c.wordCounts = e.WordCounts
	if c.wordCounts == nil {
		c.wordCounts = make(map[string]int)
	}

	return true
}

func (c *Coordinator) onKicked(events.Envelope) bool {
	if c.kicked {
		return false
	}
	c.kicked = true
	c.logger.Warn("kicked from session")

	return true
}

func (c *Coordinator) onQna(env events.Envelope) bool {
	e, err := events.Decode[events.QnaEvent](env)
	if err != nil {
		return c.drop(env, err)
	}

	return c.applyQnaLocked(env.Event, e)
}

func (c *Coordinator) applyQnaLocked(event string, msg models.QnaMessage) bool {
	idx := slices.IndexFunc(c.questions, func(q models.QnaMessage) bool { return q.ID == msg.ID })

	switch event {
	case events.QnaMessage:
		if msg.ID == "" || idx >= 0 {
			return false
		}
		c.questions = append(c.questions, msg)
	case events.QnaApprove:
		if idx < 0 || c.questions[idx].Approved {
			return false
		}
		c.questions[idx].Approved = true
	case events.QnaDiscard:
		if idx < 0 {
			return false
		}
		c.questions = slices.Delete(c.questions, idx, idx+1)
	case events.QnaHighlight:
		if idx < 0 || c.questions[idx].Highlighted {
			return false
		}
		for i := range c.questions {
			c.questions[i].Highlighted = i == idx
		}
	case events.QnaClearHighlight:
		changed := false
		for i := range c.questions {
			if c.questions[i].Highlighted {
				c.questions[i].Highlighted = false
				changed = true
			}
		}
		return changed
	default:
		return false
	}

	return true
}
