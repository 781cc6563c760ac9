package memory

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/takato23/sparkrelay/internal/application/constant"
	"github.com/takato23/sparkrelay/internal/application/metric"
	"github.com/takato23/sparkrelay/internal/domain/events"
)

// PeerConn - канал до одного клиента релея (websocket или long-polling)
type PeerConn interface {
	Send(env events.Envelope) error
	Close() error
	Transport() string
}

// PeerConnectionRepository интерфейс для работы с активными подключениями в памяти
type PeerConnectionRepository interface {
	Add(uuid.UUID, PeerConn)
	Remove(uuid.UUID) bool

	Write(uuid.UUID, events.Envelope)
	Close(uuid.UUID)
	GetAllConnected() []uuid.UUID
	Count() int
}

type peerConnectionRepository struct {
	// conns хранит map[peer_id]PeerConn
	conns map[uuid.UUID]PeerConn

	mu sync.RWMutex
}

func NewPeerConnectionRepository() PeerConnectionRepository {
	return &peerConnectionRepository{
		conns: make(map[uuid.UUID]PeerConn, 10),
	}
}

func (r *peerConnectionRepository) Add(peerID uuid.UUID, conn PeerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.conns[peerID]; exists {
		metric.DecrementActiveConnections(old.Transport())
	}
	r.conns[peerID] = conn

	metric.IncrementActiveConnections(conn.Transport())
}

// Remove удаляет подключение и сообщает, было ли оно зарегистрировано
func (r *peerConnectionRepository) Remove(peerID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[peerID]
	if !exists {
		return false
	}
	delete(r.conns, peerID)

	metric.DecrementActiveConnections(conn.Transport())

	return true
}

func (r *peerConnectionRepository) Write(peerID uuid.UUID, env events.Envelope) {
	conn, ok := r.get(peerID)
	if !ok {
		return
	}

	if err := conn.Send(env); err != nil {
		slog.Error(
			"write to peer",
			slog.Any(constant.Error, err),
			slog.Any(constant.PeerID, peerID),
			slog.String(constant.Event, env.Event),
		)
	}
}

// Close закрывает транспорт; удаление из репозитория делает обработчик транспорта
func (r *peerConnectionRepository) Close(peerID uuid.UUID) {
	conn, ok := r.get(peerID)
	if !ok {
		return
	}

	if err := conn.Close(); err != nil {
		slog.Debug("close peer", slog.Any(constant.Error, err), slog.Any(constant.PeerID, peerID))
	}
}

func (r *peerConnectionRepository) get(peerID uuid.UUID) (PeerConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[peerID]
	return conn, ok
}

func (r *peerConnectionRepository) GetAllConnected() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peerIDs := make([]uuid.UUID, 0, len(r.conns))

	for peerID := range r.conns {
		peerIDs = append(peerIDs, peerID)
	}

	return peerIDs
}

func (r *peerConnectionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
