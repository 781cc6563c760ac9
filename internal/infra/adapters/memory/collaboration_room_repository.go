package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/takato23/sparkrelay/internal/domain/runtime"
)

// CollaborationRoomRepository группирует редакторов по презентациям
type CollaborationRoomRepository interface {
	Join(member runtime.RoomMember)
	Leave(peerID uuid.UUID) (runtime.RoomMember, bool)

	Room(peerID uuid.UUID) (runtime.RoomMember, bool)
	Members(presentationID string) []runtime.RoomMember
}

type collaborationRoomRepository struct {
	// byPeer хранит map[peer_id]member, подключение редактирует одну презентацию
	byPeer map[uuid.UUID]runtime.RoomMember
	// rooms хранит map[presentation_id]set[peer_id]
	rooms map[string]map[uuid.UUID]struct{}

	mu sync.RWMutex
}

func NewCollaborationRoomRepository() CollaborationRoomRepository {
	return &collaborationRoomRepository{
		byPeer: make(map[uuid.UUID]runtime.RoomMember),
		rooms:  make(map[string]map[uuid.UUID]struct{}),
	}
}

// Join переводит подключение в комнату, предыдущая комната покидается
func (r *collaborationRoomRepository) Join(member runtime.RoomMember) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leave(member.PeerID)

	peers, ok := r.rooms[member.PresentationID]
	if !ok {
		peers = make(map[uuid.UUID]struct{})
		r.rooms[member.PresentationID] = peers
	}

	peers[member.PeerID] = struct{}{}
	r.byPeer[member.PeerID] = member
}

func (r *collaborationRoomRepository) Leave(peerID uuid.UUID) (runtime.RoomMember, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leave(peerID)
}

func (r *collaborationRoomRepository) leave(peerID uuid.UUID) (runtime.RoomMember, bool) {
	member, exists := r.byPeer[peerID]
	if !exists {
		return runtime.RoomMember{}, false
	}
	delete(r.byPeer, peerID)

	if peers, ok := r.rooms[member.PresentationID]; ok {
		delete(peers, peerID)

		if len(peers) == 0 {
			delete(r.rooms, member.PresentationID)
		}
	}

	return member, true
}

func (r *collaborationRoomRepository) Room(peerID uuid.UUID) (runtime.RoomMember, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.byPeer[peerID]
	return member, ok
}

func (r *collaborationRoomRepository) Members(presentationID string) []runtime.RoomMember {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]runtime.RoomMember, 0, len(r.rooms[presentationID]))

	for peerID := range r.rooms[presentationID] {
		members = append(members, r.byPeer[peerID])
	}

	return members
}
