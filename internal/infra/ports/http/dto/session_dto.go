package dto

import (
	"time"

	"github.com/takato23/sparkrelay/internal/usecase"
)

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type SessionResponse struct {
	Code             string     `json:"code"`
	Title            string     `json:"title"`
	CreatedAt        time.Time  `json:"created_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Active           bool       `json:"active"`
	ParticipantCount int        `json:"participant_count"`
}

func NewSessionResponse(info *usecase.SessionInfo) SessionResponse {
	return SessionResponse{
		Code:             info.Session.Code,
		Title:            info.Session.Title,
		CreatedAt:        info.Session.CreatedAt,
		EndedAt:          info.Session.EndedAt,
		Active:           info.Session.Active(),
		ParticipantCount: info.ParticipantCount,
	}
}

// PollOpenResponse - ответ на открытие long-polling сессии
type PollOpenResponse struct {
	SID string `json:"sid"`
}
