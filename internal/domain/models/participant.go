package models

// SessionRole - роль клиента в сессии
type SessionRole string

const (
	RolePresenter   SessionRole = "presenter"
	RoleParticipant SessionRole = "participant"
	RoleProjector   SessionRole = "projector"
)

func (r SessionRole) Valid() bool {
	switch r {
	case RolePresenter, RoleParticipant, RoleProjector:
		return true
	default:
		return false
	}
}

// Participant - участник сессии, каким его видят остальные
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Team string `json:"team,omitempty"`
}
