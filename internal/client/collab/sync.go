// Package collab - совместное редактирование презентации
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/domain/models"
	"github.com/takato23/sparkrelay/internal/pkg/clock"
)

const (
	MaxChanges     = 100
	PresenceWindow = 5 * time.Minute
	CursorInterval = 100 * time.Millisecond
)

var errMissingChangeID = errors.New("change without id")

// Channel - канал событий, обычно *connection.Manager
type Channel interface {
	On(event string, fn func(events.Envelope)) func()
	Emit(ctx context.Context, event string, payload any) error
}

type Option func(*Sync)

func WithClock(c clock.Clock) Option {
	return func(s *Sync) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sync) { s.logger = l }
}

// Snapshot отдается слушателям, менять нельзя
type Snapshot struct {
	Collaborators map[string]models.Collaborator
	Changes       []models.CollaborationChange
}

func Active(c models.Collaborator, now time.Time) bool {
	return c.IsActive && now.Sub(c.LastActiveAt) < PresenceWindow
}

// Sync хранит соавторов и журнал изменений.
// Карта и журнал не меняются на месте, каждая мутация создает новую копию
type Sync struct {
	ch             Channel
	presentationID string
	self           models.Collaborator
	doc            *Document
	clock          clock.Clock
	logger         *slog.Logger

	mu            sync.Mutex
	closed        bool
	joined        bool
	collaborators map[string]models.Collaborator
	changes       []models.CollaborationChange
	localPending  map[string]struct{}
	// unsent - локальные правки, которые не ушли в канал
	unsent        []models.CollaborationChange
	cursorLimiter *rate.Limiter

	nextListener int
	listeners    map[int]func(Snapshot)
	unsubscribes []func()
}

func New(ch Channel, presentationID string, self models.Collaborator, opts ...Option) *Sync {
	s := &Sync{
		ch:             ch,
		presentationID: presentationID,
		self:           self,
		doc:            NewDocument(),
		clock:          clock.Real(),
		logger:         slog.Default(),
		collaborators:  map[string]models.Collaborator{},
		localPending:   make(map[string]struct{}),
		cursorLimiter:  rate.NewLimiter(rate.Every(CursorInterval), 1),
		listeners:      make(map[int]func(Snapshot)),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.self.Color == "" {
		s.self.Color = ColorFor(s.self.UserID)
	}

	s.subscribe(events.CollaboratorJoined, s.onCollaboratorJoined)
	s.subscribe(events.CollaboratorLeft, s.onCollaboratorLeft)
	s.subscribe(events.CursorUpdate, s.onCursorUpdate)
	s.subscribe(events.ContentChange, s.onContentChange)

	return s
}

func (s *Sync) subscribe(event string, fn func(events.Envelope)) {
	s.unsubscribes = append(s.unsubscribes, s.ch.On(event, fn))
}

func (s *Sync) Document() *Document {
	return s.doc
}

// Collaborators - текущая карта, менять нельзя
func (s *Sync) Collaborators() map[string]models.Collaborator {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.collaborators
}

// ActiveCollaborators - активные соавторы по user id
func (s *Sync) ActiveCollaborators() []models.Collaborator {
	s.mu.Lock()
	collaborators := s.collaborators
	s.mu.Unlock()

	now := s.clock.Now()
	out := make([]models.Collaborator, 0, len(collaborators))
	for _, c := range collaborators {
		if Active(c, now) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b models.Collaborator) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		default:
			return 0
		}
	})

	return out
}

// Changes - журнал, старые первыми
func (s *Sync) Changes() []models.CollaborationChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.changes
}

func (s *Sync) OnChange(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Join объявляет себя и досылает неотправленные правки
func (s *Sync) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.joined = true
	s.mu.Unlock()

	err := s.ch.Emit(ctx, events.JoinCollaboration, events.JoinCollaborationEvent{
		PresentationID: s.presentationID,
		User:           s.self,
	})
	if err != nil {
		return fmt.Errorf("join collaboration: %w", err)
	}

	return s.resend(ctx)
}

// resend отправляет очередь unsent по порядку, остаток возвращается в очередь
func (s *Sync) resend(ctx context.Context) error {
	s.mu.Lock()
	queued := s.unsent
	s.unsent = nil
	s.mu.Unlock()

	for i, change := range queued {
		if err := s.ch.Emit(ctx, events.ContentChange, events.ContentChangeEvent{Change: change}); err != nil {
			s.mu.Lock()
			s.unsent = append(slices.Clone(queued[i:]), s.unsent...)
			s.mu.Unlock()

			return fmt.Errorf("resend change: %w", err)
		}
	}

	if len(queued) > 0 {
		s.logger.Debug("unsent changes resent", slog.Int("count", len(queued)))
	}

	return nil
}

// Disconnect выходит из комнаты и очищает состояние
func (s *Sync) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	wasJoined := s.joined
	s.joined = false
	s.collaborators = map[string]models.Collaborator{}
	s.changes = nil
	s.localPending = make(map[string]struct{})
	s.unsent = nil
	s.mu.Unlock()

	s.notify()

	if !wasJoined {
		return nil
	}

	err := s.ch.Emit(ctx, events.LeaveCollaboration, events.LeaveCollaborationEvent{PresentationID: s.presentationID})
	if err != nil {
		return fmt.Errorf("leave collaboration: %w", err)
	}

	return nil
}

// Close отписывается от канала
func (s *Sync) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	s.listeners = make(map[int]func(Snapshot))
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}

// AddCollaborator добавляет соавтора, себя не добавляет
func (s *Sync) AddCollaborator(c models.Collaborator) {
	if c.UserID == "" || c.UserID == s.self.UserID {
		return
	}

	c.Color = ColorFor(c.UserID)
	c.IsActive = true
	c.LastActiveAt = s.clock.Now()

	s.mutate(func() bool {
		next := maps.Clone(s.collaborators)
		next[c.UserID] = c
		s.collaborators = next
		return true
	})
}

func (s *Sync) RemoveCollaborator(userID string) {
	s.mutate(func() bool {
		if _, ok := s.collaborators[userID]; !ok {
			return false
		}
		next := maps.Clone(s.collaborators)
		delete(next, userID)
		s.collaborators = next
		return true
	})
}

// UpdateCollaboratorCursor - курсор известного соавтора
func (s *Sync) UpdateCollaboratorCursor(userID string, cursor models.Cursor) {
	now := s.clock.Now()

	s.mutate(func() bool {
		c, ok := s.collaborators[userID]
		if !ok {
			return false
		}
		c.Cursor = &cursor
		c.IsActive = true
		c.LastActiveAt = now

		next := maps.Clone(s.collaborators)
		next[userID] = c
		s.collaborators = next
		return true
	})
}

// AddChange - в журнал, не больше MaxChanges
func (s *Sync) AddChange(change models.CollaborationChange) {
	s.mutate(func() bool {
		s.appendChangeLocked(change)
		return true
	})
}

func (s *Sync) appendChangeLocked(change models.CollaborationChange) {
	start := 0
	if len(s.changes)+1 > MaxChanges {
		start = len(s.changes) + 1 - MaxChanges
	}

	next := make([]models.CollaborationChange, 0, len(s.changes)-start+1)
	next = append(next, s.changes[start:]...)
	next = append(next, change)
	s.changes = next
}

// MoveCursor - не чаще раза в CursorInterval, остальное отбрасывается
func (s *Sync) MoveCursor(ctx context.Context, cursor models.Cursor) (bool, error) {
	s.mu.Lock()
	if s.closed || !s.cursorLimiter.AllowN(s.clock.Now(), 1) {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	if err := s.ch.Emit(ctx, events.CursorMove, events.CursorMoveEvent{Cursor: cursor}); err != nil {
		return false, fmt.Errorf("move cursor: %w", err)
	}

	return true, nil
}

// RecordChange применяет правку сразу и рассылает ее.
// Эхо сверяется по id. Неотправленная правка ждет следующего Join
func (s *Sync) RecordChange(ctx context.Context, change models.CollaborationChange) (models.CollaborationChange, error) {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = s.clock.Now()
	}
	change.UserID = s.self.UserID
	change.UserName = s.self.Name

	applied := s.mutate(func() bool {
		s.localPending[change.ID] = struct{}{}
		s.appendChangeLocked(change)
		s.doc.Apply(change)
		return true
	})
	if !applied {
		return change, nil
	}

	if err := s.ch.Emit(ctx, events.ContentChange, events.ContentChangeEvent{Change: change}); err != nil {
		s.mu.Lock()
		if !s.closed {
			s.unsent = append(s.unsent, change)
		}
		s.mu.Unlock()

		return change, fmt.Errorf("record change: %w", err)
	}

	return change, nil
}

// Pending - сколько правок ждут эха
func (s *Sync) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.localPending)
}

func (s *Sync) mutate(fn func() bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	changed := fn()
	s.mu.Unlock()

	if changed {
		s.notify()
	}

	return changed
}

func (s *Sync) notify() {
	s.mu.Lock()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	snapshot := Snapshot{Collaborators: s.collaborators, Changes: s.changes}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}

func (s *Sync) drop(env events.Envelope, err error) {
	s.logger.Debug("drop malformed event",
		slog.String(constant.Event, env.Event),
		slog.Any(constant.Error, err),
	)
}

func (s *Sync) onCollaboratorJoined(env events.Envelope) {
	e, err := events.Decode[events.CollaboratorJoinedEvent](env)
	if err != nil {
		s.drop(env, err)
		return
	}

	s.AddCollaborator(e.Collaborator)
}

func (s *Sync) onCollaboratorLeft(env events.Envelope) {
	e, err := events.Decode[events.CollaboratorLeftEvent](env)
	if err != nil {
		s.drop(env, err)
		return
	}

	s.RemoveCollaborator(e.UserID)
}

func (s *Sync) onCursorUpdate(env events.Envelope) {
	e, err := events.Decode[events.CursorUpdateEvent](env)
	if err != nil {
		s.drop(env, err)
		return
	}

	s.UpdateCollaboratorCursor(e.UserID, e.Cursor)
}

func (s *Sync) onContentChange(env events.Envelope) {
	e, err := events.Decode[events.ContentChangeEvent](env)
	if err != nil {
		s.drop(env, err)
		return
	}

	change := e.Change
	if change.ID == "" {
		s.drop(env, errMissingChangeID)
		return
	}

	now := s.clock.Now()

	s.mutate(func() bool {
		if _, ok := s.localPending[change.ID]; ok {
			delete(s.localPending, change.ID)
			s.logger.Debug("local change confirmed", slog.String(constant.ChangeID, change.ID))
			return false
		}
		if slices.ContainsFunc(s.changes, func(c models.CollaborationChange) bool { return c.ID == change.ID }) {
			return false
		}

		s.appendChangeLocked(change)
		s.doc.Apply(change)
		if c, ok := s.collaborators[change.UserID]; ok {
			c.IsActive = true
			c.LastActiveAt = now
			next := maps.Clone(s.collaborators)
			next[change.UserID] = c
			s.collaborators = next
		}
		return true
	})
}
