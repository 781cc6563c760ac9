package runtime

import (
	"github.com/google/uuid"

	"github.com/takato23/sparkrelay/internal/domain/models"
)

// SessionMember - подключение, вошедшее в сессию
type SessionMember struct {
	PeerID      uuid.UUID
	SessionCode string
	Role        models.SessionRole

	// Participant заполнен только для роли participant
	Participant *models.Participant
}

func (m SessionMember) IsPresenter() bool {
	return m.Role == models.RolePresenter
}

func (m SessionMember) IsParticipant() bool {
	return m.Role == models.RoleParticipant && m.Participant != nil
}

// RoomMember - подключение, редактирующее презентацию
type RoomMember struct {
	PeerID         uuid.UUID
	PresentationID string
	Collaborator   models.Collaborator
}

// LiveSlide - текущий слайд сессии и его фаза
type LiveSlide struct {
	Slide *models.Slide
	State models.SlideState
}
