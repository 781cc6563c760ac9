package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/takato23/sparkrelay/internal/application/config"
	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/application/metric"
	"github.com/takato23/sparkrelay/internal/domain/events"
	"github.com/takato23/sparkrelay/internal/domain/models"
	"github.com/takato23/sparkrelay/internal/domain/runtime"
	"github.com/takato23/sparkrelay/internal/infra/adapters/memory"
	"github.com/takato23/sparkrelay/internal/infra/adapters/postgres/repository"
)

var (
	ErrUnknownEvent        = errors.New("unknown event")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrNotJoined           = errors.New("join a session first")
	ErrNotPresenter        = errors.New("only the presenter can do this")
	ErrNotParticipant      = errors.New("only participants can do this")
	ErrSessionUnavailable  = errors.New("session not found or ended")
	ErrInvalidRole         = errors.New("invalid role")
	ErrParticipantRequired = errors.New("participant name is required")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotCollaborating    = errors.New("join a collaboration first")
	ErrInvalidState        = errors.New("invalid slide state")
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
)

// RelayUsecase маршрутизирует события между подключениями сессии
type RelayUsecase interface {
	Connect(ctx context.Context, peerID uuid.UUID, conn memory.PeerConn)
	HandleEnvelope(ctx context.Context, peerID uuid.UUID, env events.Envelope) error
	Disconnect(ctx context.Context, peerID uuid.UUID)

	CloseSession(ctx context.Context, code string)
	ParticipantCount(code string) int
}

type relayUsecase struct {
	cfg *config.Config

	sessionRepo repository.SessionRepository

	connRepo    memory.PeerConnectionRepository
	membersRepo memory.SessionMembersRepository
	liveRepo    memory.LiveSessionRepository
	roomRepo    memory.CollaborationRoomRepository
}

func NewRelayUsecase(
	cfg *config.Config,
	sessionRepo repository.SessionRepository,
	connRepo memory.PeerConnectionRepository,
	membersRepo memory.SessionMembersRepository,
	liveRepo memory.LiveSessionRepository,
	roomRepo memory.CollaborationRoomRepository,
) RelayUsecase {
	return &relayUsecase{
		cfg:         cfg,
		sessionRepo: sessionRepo,
		connRepo:    connRepo,
		membersRepo: membersRepo,
		liveRepo:    liveRepo,
		roomRepo:    roomRepo,
	}
}

func (r *relayUsecase) Connect(_ context.Context, peerID uuid.UUID, conn memory.PeerConn) {
	r.connRepo.Add(peerID, conn)

	slog.Debug("peer connected", slog.Any(constant.PeerID, peerID), slog.String("transport", conn.Transport()))
}

// HandleEnvelope обрабатывает одно входящее событие. Ошибка уже отправлена
// клиенту событием error, вызывающему остается только залогировать ее.
func (r *relayUsecase) HandleEnvelope(ctx context.Context, peerID uuid.UUID, env events.Envelope) error {
	err := r.dispatch(ctx, peerID, env)
	if err != nil {
		metric.RecordEvent(env.Event, outcomeRejected)
		r.sendError(peerID, err)

		return fmt.Errorf("handle %s: %w", env.Event, err)
	}

	metric.RecordEvent(env.Event, outcomeOK)

	if env.ID != 0 && env.Event != events.Ping {
		r.send(peerID, events.Ack, nil, env.ID)
	}

	return nil
}

func (r *relayUsecase) dispatch(ctx context.Context, peerID uuid.UUID, env events.Envelope) error {
	if !events.AcceptsFromClient(env.Event) {
		return ErrUnknownEvent
	}

	switch env.Event {
	case events.Ack:
		return nil

	case events.Ping:
		return r.handlePing(peerID, env)

	case events.JoinSession:
		return decodeAnd(env, func(e events.JoinSessionEvent) error { return r.handleJoinSession(ctx, peerID, e) })

	case events.ChangeSlide:
		return decodeAnd(env, func(e events.SlideEvent) error { return r.handleChangeSlide(peerID, e) })

	case events.SlideState:
		return decodeAnd(env, func(e events.SlideStateEvent) error { return r.handleSlideState(peerID, e) })

	case events.SubmitResponse:
		return decodeAnd(env, func(e events.SubmitResponseEvent) error { return r.handleSubmitResponse(peerID, e) })

	case events.TeamScores:
		return decodeAnd(env, func(e events.TeamScoresEvent) error { return r.handleTeamScores(peerID, e) })

	case events.SubmitWord:
		return decodeAnd(env, func(e events.SubmitWordEvent) error { return r.handleSubmitWord(peerID, e) })

	case events.QnaMessage:
		return decodeAnd(env, func(e events.QnaEvent) error { return r.handleQuestion(peerID, e) })

	case events.QnaApprove, events.QnaDiscard, events.QnaHighlight, events.QnaClearHighlight:
		return decodeAnd(env, func(e events.QnaEvent) error { return r.handleModeration(peerID, env.Event, e) })

	case events.KickParticipant:
		return decodeAnd(env, func(e events.KickParticipantEvent) error { return r.handleKick(peerID, e) })

	case events.JoinCollaboration:
		return decodeAnd(env, func(e events.JoinCollaborationEvent) error { return r.handleJoinCollaboration(peerID, e) })

	case events.LeaveCollaboration:
		r.leaveCollaboration(peerID)
		return nil

	case events.CursorMove:
		return decodeAnd(env, func(e events.CursorMoveEvent) error { return r.handleCursorMove(peerID, e) })

	case events.ContentChange:
		return decodeAnd(env, func(e events.ContentChangeEvent) error { return r.handleContentChange(peerID, e) })

	default:
		return ErrUnknownEvent
	}
}

func decodeAnd[T any](env events.Envelope, handle func(T) error) error {
	payload, err := events.Decode[T](env)
	if err != nil {
		slog.Debug("decode payload", slog.Any(constant.Error, err), slog.String(constant.Event, env.Event))
		return ErrInvalidPayload
	}

	return handle(payload)
}

func (r *relayUsecase) handlePing(peerID uuid.UUID, env events.Envelope) error {
	ping, err := events.Decode[events.PingEvent](env)
	if err != nil {
		return ErrInvalidPayload
	}

	if env.ID != 0 {
		r.send(peerID, events.Ack, ping, env.ID)
		return nil
	}

	r.send(peerID, events.Pong, ping, 0)

	return nil
}

func (r *relayUsecase) handleJoinSession(ctx context.Context, peerID uuid.UUID, e events.JoinSessionEvent) error {
	if !e.Role.Valid() {
		return ErrInvalidRole
	}

	code, err := NormalizeCode(e.SessionCode)
	if err != nil {
		return ErrSessionUnavailable
	}

	session, err := r.sessionRepo.GetByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			slog.Error("get session", slog.Any(constant.Error, err), slog.String(constant.SessionCode, e.SessionCode))
		}
		return ErrSessionUnavailable
	}
	if !session.Active() {
		return ErrSessionUnavailable
	}

	member := runtime.SessionMember{
		PeerID:      peerID,
		SessionCode: session.Code,
		Role:        e.Role,
	}

	if e.Role == models.RoleParticipant {
		if e.Participant == nil || e.Participant.Name == "" {
			return ErrParticipantRequired
		}

		participant := *e.Participant
		if participant.ID == "" {
			participant.ID = peerID.String()
		}
		member.Participant = &participant
	}

	if err = r.membersRepo.Join(member); err != nil {
		return err
	}

	total := r.membersRepo.ParticipantCount(session.Code)
	live, _ := r.liveRepo.Snapshot(session.Code)

	r.send(peerID, events.SessionJoined, events.SessionJoinedEvent{
		SessionCode:       session.Code,
		Role:              member.Role,
		TotalParticipants: total,
		Participants:      r.membersRepo.Participants(session.Code),
		Slide:             live.Slide,
		State:             live.State,
	}, 0)

	if member.IsParticipant() {
		r.broadcast(session.Code, peerID, events.ParticipantJoined, events.ParticipantJoinedEvent{
			Participant:       *member.Participant,
			TotalParticipants: total,
		})
	}

	slog.Info(
		"peer joined session",
		slog.Any(constant.PeerID, peerID),
		slog.String(constant.SessionCode, session.Code),
		slog.String(constant.Role, string(member.Role)),
	)

	return nil
}

func (r *relayUsecase) presenter(peerID uuid.UUID) (runtime.SessionMember, error) {
	member, ok := r.membersRepo.Get(peerID)
	if !ok {
		return runtime.SessionMember{}, ErrNotJoined
	}
	if !member.IsPresenter() {
		return runtime.SessionMember{}, ErrNotPresenter
	}

	return member, nil
}

func (r *relayUsecase) handleChangeSlide(peerID uuid.UUID, e events.SlideEvent) error {
	member, err := r.presenter(peerID)
	if err != nil {
		return err
	}

	if e.Slide == nil || e.Slide.ID == "" {
		return ErrInvalidPayload
	}

	live := r.liveRepo.SetSlide(member.SessionCode, e.Slide)

	r.broadcast(member.SessionCode, peerID, events.SlideChanged, events.SlideEvent{Slide: live.Slide})
	r.broadcast(member.SessionCode, peerID, events.SlideState, events.SlideStateEvent{
		State:   live.State,
		SlideID: live.Slide.ID,
	})

	return nil
}

func (r *relayUsecase) handleSlideState(peerID uuid.UUID, e events.SlideStateEvent) error {
	member, err := r.presenter(peerID)
	if err != nil {
		return err
	}

	if !e.State.Valid() {
		return ErrInvalidState
	}

	current, _ := r.liveRepo.Snapshot(member.SessionCode)
	if e.State != models.SlideStateLobby {
		if current.Slide == nil {
			return memory.ErrNoActiveSlide
		}
		if e.SlideID != "" && e.SlideID != current.Slide.ID {
			return memory.ErrSlideMismatch
		}
	}

	live := r.liveRepo.SetState(member.SessionCode, e.State)

	out := events.SlideStateEvent{State: live.State}
	if live.Slide != nil {
		out.SlideID = live.Slide.ID
	}
	r.broadcast(member.SessionCode, peerID, events.SlideState, out)

	if live.State == models.SlideStateReveal {
		if results, ok := r.liveRepo.Results(member.SessionCode); ok {
			r.broadcast(member.SessionCode, uuid.Nil, events.ResultsUpdate, results)
		}
	}

	return nil
}

func (r *relayUsecase) handleSubmitResponse(peerID uuid.UUID, e events.SubmitResponseEvent) error {
	member, ok := r.membersRepo.Get(peerID)
	if !ok {
		return ErrNotJoined
	}
	if !member.IsParticipant() {
		return ErrNotParticipant
	}

	results, err := r.liveRepo.RecordResponse(member.SessionCode, member.Participant.ID, e.SlideID, e.OptionIndex)
	if err != nil {
		return err
	}

	live, _ := r.liveRepo.Snapshot(member.SessionCode)
	everyone := r.cfg.Relay.LiveResults || live.State == models.SlideStateReveal

	env, err := events.New(events.ResultsUpdate, results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	for _, m := range r.membersRepo.Members(member.SessionCode) {
		if m.Role == models.RoleParticipant && !everyone {
			continue
		}
		r.connRepo.Write(m.PeerID, env)
	}

	return nil
}

func (r *relayUsecase) handleTeamScores(peerID uuid.UUID, e events.TeamScoresEvent) error {
	member, err := r.presenter(peerID)
	if err != nil {
		return err
	}

	r.broadcast(member.SessionCode, peerID, events.TeamScoresUpdated, e)

	return nil
}

func (r *relayUsecase) handleSubmitWord(peerID uuid.UUID, e events.SubmitWordEvent) error {
	member, ok := r.membersRepo.Get(peerID)
	if !ok {
		return ErrNotJoined
	}
	if !member.IsParticipant() {
		return ErrNotParticipant
	}

	counts, err := r.liveRepo.AddWord(member.SessionCode, e.Word)
	if err != nil {
		return err
	}

	r.broadcast(member.SessionCode, uuid.Nil, events.WordCloudUpdate, events.WordCloudEvent{WordCounts: counts})

	return nil
}

func (r *relayUsecase) handleQuestion(peerID uuid.UUID, e events.QnaEvent) error {
	member, ok := r.membersRepo.Get(peerID)
	if !ok {
		return ErrNotJoined
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Approved, e.Highlighted = false, false

	r.broadcast(member.SessionCode, uuid.Nil, events.QnaMessage, e)

	return nil
}

func (r *relayUsecase) handleModeration(peerID uuid.UUID, event string, e events.QnaEvent) error {
	member, err := r.presenter(peerID)
	if err != nil {
		return err
	}

	if e.ID == "" && event != events.QnaClearHighlight {
		return ErrInvalidPayload
	}

	r.broadcast(member.SessionCode, peerID, event, e)

	return nil
}

func (r *relayUsecase) handleKick(peerID uuid.UUID, e events.KickParticipantEvent) error {
	member, err := r.presenter(peerID)
	if err != nil {
		return err
	}

	if e.SessionCode != "" && e.SessionCode != member.SessionCode {
		return ErrNotPresenter
	}

	target, ok := r.membersRepo.FindParticipant(member.SessionCode, e.ParticipantID)
	if !ok {
		return ErrParticipantNotFound
	}

	r.send(target.PeerID, events.Kicked, events.KickedEvent{SessionCode: member.SessionCode}, 0)
	r.leaveSession(target.PeerID)
	r.connRepo.Close(target.PeerID)

	slog.Info(
		"participant kicked",
		slog.String(constant.SessionCode, member.SessionCode),
		slog.String(constant.ParticipantID, e.ParticipantID),
	)

	return nil
}

func (r *relayUsecase) handleJoinCollaboration(peerID uuid.UUID, e events.JoinCollaborationEvent) error {
	if e.PresentationID == "" || e.User.UserID == "" {
		return ErrInvalidPayload
	}

	r.leaveCollaboration(peerID)

	existing := r.roomRepo.Members(e.PresentationID)

	r.roomRepo.Join(runtime.RoomMember{
		PeerID:         peerID,
		PresentationID: e.PresentationID,
		Collaborator:   e.User,
	})

	for _, m := range existing {
		r.send(m.PeerID, events.CollaboratorJoined, events.CollaboratorJoinedEvent{Collaborator: e.User}, 0)
		r.send(peerID, events.CollaboratorJoined, events.CollaboratorJoinedEvent{Collaborator: m.Collaborator}, 0)
	}

	slog.Info(
		"collaborator joined",
		slog.String(constant.Presentation, e.PresentationID),
		slog.String(constant.UserID, e.User.UserID),
	)

	return nil
}

func (r *relayUsecase) handleCursorMove(peerID uuid.UUID, e events.CursorMoveEvent) error {
	room, ok := r.roomRepo.Room(peerID)
	if !ok {
		return ErrNotCollaborating
	}

	r.broadcastRoom(room.PresentationID, peerID, events.CursorUpdate, events.CursorUpdateEvent{
		UserID: room.Collaborator.UserID,
		Cursor: e.Cursor,
	})

	return nil
}

// handleContentChange рассылает правку всем редакторам, включая автора:
// эхо подтверждает отправителю локальную правку
func (r *relayUsecase) handleContentChange(peerID uuid.UUID, e events.ContentChangeEvent) error {
	room, ok := r.roomRepo.Room(peerID)
	if !ok {
		return ErrNotCollaborating
	}

	if e.Change.ID == "" {
		return ErrInvalidPayload
	}
	if e.Change.UserID == "" {
		e.Change.UserID = room.Collaborator.UserID
	}

	r.broadcastRoom(room.PresentationID, uuid.Nil, events.ContentChange, e)

	return nil
}

func (r *relayUsecase) leaveCollaboration(peerID uuid.UUID) {
	room, ok := r.roomRepo.Leave(peerID)
	if !ok {
		return
	}

	r.broadcastRoom(room.PresentationID, peerID, events.CollaboratorLeft, events.CollaboratorLeftEvent{
		UserID: room.Collaborator.UserID,
	})
}

func (r *relayUsecase) leaveSession(peerID uuid.UUID) {
	member, ok := r.membersRepo.Leave(peerID)
	if !ok || !member.IsParticipant() {
		return
	}

	total := r.membersRepo.ParticipantCount(member.SessionCode)

	r.broadcast(member.SessionCode, peerID, events.ParticipantLeft, events.ParticipantLeftEvent{
		ParticipantID:     member.Participant.ID,
		TotalParticipants: &total,
	})
}

func (r *relayUsecase) Disconnect(_ context.Context, peerID uuid.UUID) {
	r.leaveSession(peerID)
	r.leaveCollaboration(peerID)

	if r.connRepo.Remove(peerID) {
		slog.Debug("peer disconnected", slog.Any(constant.PeerID, peerID))
	}
}

// CloseSession отключает всех участников завершенной сессии
func (r *relayUsecase) CloseSession(_ context.Context, code string) {
	env, err := events.New(events.Error, events.ErrorEvent{Message: "session ended"})
	if err != nil {
		slog.Error("encode session ended", slog.Any(constant.Error, err))
	}

	for _, m := range r.membersRepo.Members(code) {
		if err == nil {
			r.connRepo.Write(m.PeerID, env)
		}
		r.membersRepo.Leave(m.PeerID)
		r.connRepo.Close(m.PeerID)
	}

	r.liveRepo.Drop(code)

	slog.Info("session closed", slog.String(constant.SessionCode, code))
}

func (r *relayUsecase) ParticipantCount(code string) int {
	return r.membersRepo.ParticipantCount(code)
}

func (r *relayUsecase) send(peerID uuid.UUID, event string, payload any, ack int64) {
	env, err := events.New(event, payload)
	if err != nil {
		slog.Error("encode event", slog.Any(constant.Error, err), slog.String(constant.Event, event))
		return
	}
	env.Ack = ack

	r.connRepo.Write(peerID, env)
}

func (r *relayUsecase) sendError(peerID uuid.UUID, err error) {
	r.send(peerID, events.Error, events.ErrorEvent{Message: err.Error()}, 0)
}

// broadcast рассылает событие сессии всем, кроме except
func (r *relayUsecase) broadcast(code string, except uuid.UUID, event string, payload any) {
	env, err := events.New(event, payload)
	if err != nil {
		slog.Error("encode event", slog.Any(constant.Error, err), slog.String(constant.Event, event))
		return
	}

	for _, m := range r.membersRepo.Members(code) {
		if m.PeerID == except {
			continue
		}
		r.connRepo.Write(m.PeerID, env)
	}
}

func (r *relayUsecase) broadcastRoom(presentationID string, except uuid.UUID, event string, payload any) {
	env, err := events.New(event, payload)
	if err != nil {
		slog.Error("encode event", slog.Any(constant.Error, err), slog.String(constant.Event, event))
		return
	}

	for _, m := range r.roomRepo.Members(presentationID) {
		if m.PeerID == except {
			continue
		}
		r.connRepo.Write(m.PeerID, env)
	}
}
