package events

// Имена событий протокола сессии
const (
	Ack = "ack"

	Ping = "ping"
	Pong = "pong"

	JoinSession       = "join-session"
	SessionJoined     = "session-joined"
	ParticipantJoined = "participant-joined"
	ParticipantLeft   = "participant-left"

	ChangeSlide  = "change-slide"
	SlideChanged = "slide-changed"
	SlideState   = "slide:state"

	SubmitResponse = "submit-response"
	ResultsUpdate  = "results:update"

	TeamScores        = "team-scores"
	TeamScoresUpdated = "team-scores-updated"

	SubmitWord      = "submit-word"
	WordCloudUpdate = "word-cloud-update"

	QnaMessage        = "qna-message"
	QnaApprove        = "qna-approve"
	QnaDiscard        = "qna-discard"
	QnaHighlight      = "qna-highlight"
	QnaClearHighlight = "qna-clear-highlight"

	KickParticipant = "kick-participant"
	Kicked          = "kicked"

	JoinCollaboration  = "join-collaboration"
	LeaveCollaboration = "leave-collaboration"
	CollaboratorJoined = "collaborator-joined"
	CollaboratorLeft   = "collaborator-left"
	CursorMove         = "cursor-move"
	CursorUpdate       = "cursor-update"
	ContentChange      = "content-change"

	Error = "error"
)

// Direction - кто имеет право отправлять событие
type Direction int

const (
	ClientToServer Direction = 1 << iota
	ServerToClient
	Bidirectional = ClientToServer | ServerToClient
)

var catalog = map[string]Direction{
	Ack:                Bidirectional,
	Ping:               ClientToServer,
	Pong:               ServerToClient,
	JoinSession:        ClientToServer,
	SessionJoined:      ServerToClient,
	ParticipantJoined:  ServerToClient,
	ParticipantLeft:    ServerToClient,
	ChangeSlide:        ClientToServer,
	SlideChanged:       ServerToClient,
	SlideState:         Bidirectional,
	SubmitResponse:     ClientToServer,
	ResultsUpdate:      ServerToClient,
	TeamScores:         ClientToServer,
	TeamScoresUpdated:  ServerToClient,
	SubmitWord:         ClientToServer,
	WordCloudUpdate:    ServerToClient,
	QnaMessage:         Bidirectional,
	QnaApprove:         Bidirectional,
	QnaDiscard:         Bidirectional,
	QnaHighlight:       Bidirectional,
	QnaClearHighlight:  Bidirectional,
	KickParticipant:    ClientToServer,
	Kicked:             ServerToClient,
	JoinCollaboration:  ClientToServer,
	LeaveCollaboration: ClientToServer,
	CollaboratorJoined: ServerToClient,
	CollaboratorLeft:   ServerToClient,
	CursorMove:         ClientToServer,
	CursorUpdate:       ServerToClient,
	ContentChange:      Bidirectional,
	Error:              ServerToClient,
}

// Known сообщает, есть ли событие в каталоге
func Known(event string) bool {
	_, ok := catalog[event]
	return ok
}

// AcceptsFromClient сообщает, может ли клиент отправить событие серверу
func AcceptsFromClient(event string) bool {
	return catalog[event]&ClientToServer != 0
}
