package memory

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/takato23/sparkrelay/internal/application/metric"
	"github.com/takato23/sparkrelay/internal/domain/models"
	"github.com/takato23/sparkrelay/internal/domain/runtime"
)

var (
	ErrPresenterTaken = errors.New("session already has a presenter")
	ErrAlreadyJoined  = errors.New("peer already joined a session")
	ErrParticipantID  = errors.New("participant id already in use")
)

// SessionMembersRepository хранит, кто в какой сессии находится
type SessionMembersRepository interface {
	Join(member runtime.SessionMember) error
	Leave(peerID uuid.UUID) (runtime.SessionMember, bool)

	Get(peerID uuid.UUID) (runtime.SessionMember, bool)
	Members(code string) []runtime.SessionMember
	Presenter(code string) (runtime.SessionMember, bool)
	FindParticipant(code, participantID string) (runtime.SessionMember, bool)
	Participants(code string) []models.Participant
	ParticipantCount(code string) int
	Sessions() int
}

type sessionMembersRepository struct {
	// byPeer хранит map[peer_id]member
	byPeer map[uuid.UUID]runtime.SessionMember
	// bySession хранит map[session_code]set[peer_id]
	bySession map[string]map[uuid.UUID]struct{}

	mu sync.RWMutex
}

func NewSessionMembersRepository() SessionMembersRepository {
	return &sessionMembersRepository{
		byPeer:    make(map[uuid.UUID]runtime.SessionMember),
		bySession: make(map[string]map[uuid.UUID]struct{}),
	}
}

func (r *sessionMembersRepository) Join(member runtime.SessionMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPeer[member.PeerID]; exists {
		return ErrAlreadyJoined
	}

	peers := r.bySession[member.SessionCode]

	for peerID := range peers {
		other := r.byPeer[peerID]

		if member.IsPresenter() && other.IsPresenter() {
			return ErrPresenterTaken
		}
		// id участника уникален в пределах сессии
		if member.IsParticipant() && other.IsParticipant() && other.Participant.ID == member.Participant.ID {
			return ErrParticipantID
		}
	}

	if peers == nil {
		peers = make(map[uuid.UUID]struct{})
		r.bySession[member.SessionCode] = peers
		metric.SetActiveSessions(len(r.bySession))
	}

	peers[member.PeerID] = struct{}{}
	r.byPeer[member.PeerID] = member

	return nil
}

func (r *sessionMembersRepository) Leave(peerID uuid.UUID) (runtime.SessionMember, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, exists := r.byPeer[peerID]
	if !exists {
		return runtime.SessionMember{}, false
	}
	delete(r.byPeer, peerID)

	if peers, ok := r.bySession[member.SessionCode]; ok {
		delete(peers, peerID)

		if len(peers) == 0 {
			delete(r.bySession, member.SessionCode)
			metric.SetActiveSessions(len(r.bySession))
		}
	}

	return member, true
}

func (r *sessionMembersRepository) Get(peerID uuid.UUID) (runtime.SessionMember, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.byPeer[peerID]
	return member, ok
}

func (r *sessionMembersRepository) Members(code string) []runtime.SessionMember {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]runtime.SessionMember, 0, len(r.bySession[code]))

	for peerID := range r.bySession[code] {
		members = append(members, r.byPeer[peerID])
	}

	return members
}

func (r *sessionMembersRepository) Presenter(code string) (runtime.SessionMember, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for peerID := range r.bySession[code] {
		if m := r.byPeer[peerID]; m.IsPresenter() {
			return m, true
		}
	}

	return runtime.SessionMember{}, false
}

func (r *sessionMembersRepository) FindParticipant(code, participantID string) (runtime.SessionMember, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for peerID := range r.bySession[code] {
		if m := r.byPeer[peerID]; m.IsParticipant() && m.Participant.ID == participantID {
			return m, true
		}
	}

	return runtime.SessionMember{}, false
}

func (r *sessionMembersRepository) Participants(code string) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := make([]models.Participant, 0, len(r.bySession[code]))

	for peerID := range r.bySession[code] {
		if m := r.byPeer[peerID]; m.IsParticipant() {
			participants = append(participants, *m.Participant)
		}
	}

	return participants
}

func (r *sessionMembersRepository) ParticipantCount(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for peerID := range r.bySession[code] {
		if r.byPeer[peerID].IsParticipant() {
			count++
		}
	}

	return count
}

func (r *sessionMembersRepository) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.bySession)
}
