package constant

// Ключи структурных логов
const (
	Error         = "error"
	URL           = "url"
	SID           = "sid"
	PeerID        = "peer_id"
	SessionCode   = "session_code"
	Role          = "role"
	Event         = "event"
	State         = "state"
	PreviousState = "previous_state"
	Attempt       = "attempt"
	Delay         = "delay"
	ParticipantID = "participant_id"
	Presentation  = "presentation_id"
	UserID        = "user_id"
	RTT           = "rtt"
	SlideID       = "slide_id"
	ChangeID      = "change_id"
	Method        = "method"
	Path          = "path"
	Status        = "status"
	Latency       = "latency"
	Database      = "database"
	MaxConns      = "max_conns"
	Check         = "check"
)
