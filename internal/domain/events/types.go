package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/takato23/sparkrelay/internal/domain/models"
)

var ErrEmptyEvent = errors.New("event name is empty")

// Envelope - общее событие на проводе. ID запрашивает подтверждение,
// Ack несет ID подтверждаемого события.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    int64           `json:"id,omitempty"`
	Ack   int64           `json:"ack,omitempty"`
}

// New кодирует payload в конверт события
func New(event string, payload any) (Envelope, error) {
	if event == "" {
		return Envelope{}, ErrEmptyEvent
	}

	if payload == nil {
		return Envelope{Event: event}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}

	return Envelope{Event: event, Data: data}, nil
}

// Decode разбирает payload конверта. Пустой payload дает нулевое значение.
func Decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return v, nil
	}

	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("unmarshal %s payload: %w", env.Event, err)
	}

	return v, nil
}

// AckOf строит подтверждение для конверта с ID
func AckOf(env Envelope, payload any) (Envelope, error) {
	ack, err := New(Ack, payload)
	if err != nil {
		return Envelope{}, err
	}
	ack.Ack = env.ID

	return ack, nil
}

// PingEvent - t в миллисекундах unix времени отправителя
type PingEvent struct {
	T int64 `json:"t"`
}

type JoinSessionEvent struct {
	SessionCode string              `json:"sessionCode"`
	Role        models.SessionRole  `json:"role"`
	Participant *models.Participant `json:"participant,omitempty"`
}

type SessionJoinedEvent struct {
	SessionCode       string               `json:"sessionCode"`
	Role              models.SessionRole   `json:"role"`
	TotalParticipants int                  `json:"totalParticipants"`
	Participants      []models.Participant `json:"participants,omitempty"`
	Slide             *models.Slide        `json:"slide,omitempty"`
	State             models.SlideState    `json:"state,omitempty"`
}

type ParticipantJoinedEvent struct {
	Participant       models.Participant `json:"participant"`
	TotalParticipants int                `json:"totalParticipants"`
}

// ParticipantLeftEvent - TotalParticipants указатель, старые серверы поле не шлют
type ParticipantLeftEvent struct {
	ParticipantID     string `json:"participantId"`
	TotalParticipants *int   `json:"totalParticipants,omitempty"`
}

type SlideEvent struct {
	Slide *models.Slide `json:"slide"`
}

type SlideStateEvent struct {
	State   models.SlideState `json:"state"`
	SlideID string            `json:"slideId,omitempty"`
}

type SubmitResponseEvent struct {
	SlideID     string `json:"slideId"`
	OptionIndex int    `json:"optionIndex"`
}

type ResultsEvent = models.ResultsSnapshot

type TeamScoresEvent struct {
	TeamScores []models.TeamScore `json:"teamScores"`
}

type SubmitWordEvent struct {
	Word string `json:"word"`
}

type WordCloudEvent struct {
	WordCounts map[string]int `json:"wordCounts"`
}

type QnaEvent = models.QnaMessage

type KickParticipantEvent struct {
	SessionCode   string `json:"sessionCode"`
	ParticipantID string `json:"participantId"`
}

type KickedEvent struct {
	SessionCode string `json:"sessionCode"`
}

type JoinCollaborationEvent struct {
	PresentationID string              `json:"presentationId"`
	User           models.Collaborator `json:"user"`
}

type LeaveCollaborationEvent struct {
	PresentationID string `json:"presentationId"`
}

type CollaboratorJoinedEvent struct {
	Collaborator models.Collaborator `json:"collaborator"`
}

type CollaboratorLeftEvent struct {
	UserID string `json:"userId"`
}

type CursorMoveEvent struct {
	Cursor models.Cursor `json:"cursor"`
}

type CursorUpdateEvent struct {
	UserID string        `json:"userId"`
	Cursor models.Cursor `json:"cursor"`
}

type ContentChangeEvent struct {
	Change models.CollaborationChange `json:"change"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
