package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"interview/internal/metrics"
	"interview/internal/models"
)

// PresencePublisher mirrors join/leave events to other service instances.
// The in-memory hub stays authoritative for its own connections.
type PresencePublisher interface {
	Publish(event models.PresenceEvent) error
}

type Config struct {
	Capacity  int           // max participants per room
	Grace     time.Duration // reconnect window before a dropped participant is evicted
	Retention time.Duration // transform history kept for stale-edit rebasing
}

// Hub is the session registry: it exclusively owns room and participant
// lifecycle. The hub mutex guards only the room map; per-room and per-document
// state have their own locks, so rooms never contend with each other.
type Hub struct {
	cfg Config
	log *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Room

	presence PresencePublisher
}

func NewHub(cfg Config, log *zap.Logger) *Hub {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 8
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	return &Hub{
		cfg:   cfg,
		log:   log,
		rooms: make(map[string]*Room),
	}
}

func (h *Hub) SetPresencePublisher(pub PresencePublisher) { h.presence = pub }

func (h *Hub) Get(code string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[code]
	return r, ok
}

// Join registers a new participant, creating the room on first join. On
// success every other member receives a presence-joined broadcast. Creation
// and the capacity-checked add happen under the hub lock so a join can never
// land in a room that teardown is concurrently discarding.
func (h *Hub) Join(code, displayName string, role models.Role, client *Client) (*Room, *Participant, error) {
	if role != models.RoleHost {
		role = models.RoleCandidate
	}
	p := &Participant{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		Role:        role,
		state:       models.StateConnected,
		client:      client,
	}

	h.mu.Lock()
	room, ok := h.rooms[code]
	if !ok {
		room = NewRoom(code, h.cfg.Retention)
		h.rooms[code] = room
		metrics.ActiveRooms.Inc()
		h.log.Info("room created", zap.String("room", code))
	}
	err := room.add(p, h.cfg.Capacity)
	h.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	metrics.ActiveParticipants.Inc()

	room.Broadcast(client, models.WSFrame{Type: "presence-joined", Data: models.PresencePayload{Participant: p.Info()}})
	h.publishPresence("joined", code, p)
	h.log.Info("participant joined",
		zap.String("room", code),
		zap.String("participant", p.ID),
		zap.String("displayName", displayName))
	return room, p, nil
}

// Resume reattaches an identity that disconnected within the grace window.
// No presence events fire: as far as the room is concerned the participant
// never left, and their document ack state is intact.
func (h *Hub) Resume(code, participantID string, client *Client) (*Room, *Participant, bool) {
	room, ok := h.Get(code)
	if !ok {
		return nil, nil, false
	}
	p, ok := room.resume(participantID, client)
	if !ok {
		return nil, nil, false
	}
	h.log.Info("participant resumed", zap.String("room", code), zap.String("participant", participantID))
	return room, p, true
}

// Disconnect parks a participant after an abrupt connection loss and arms the
// grace timer. Expiry triggers a normal, idempotent Leave. old identifies the
// connection that failed: if the participant already resumed on a newer one,
// the call is a no-op.
func (h *Hub) Disconnect(room *Room, p *Participant, old *Client) {
	timer := time.AfterFunc(h.cfg.Grace, func() {
		h.Leave(room.Code, p.ID)
	})
	if !room.markDisconnected(p.ID, old, timer) {
		timer.Stop()
		return
	}
	h.log.Info("participant pending rejoin",
		zap.String("room", room.Code),
		zap.String("participant", p.ID),
		zap.Duration("grace", h.cfg.Grace))
}

// Leave removes a participant and broadcasts presence-left to the remaining
// members. Leaving twice is a no-op with no second broadcast. The last leave
// tears the room down: document and chat log are discarded, not persisted.
func (h *Hub) Leave(code, participantID string) {
	room, ok := h.Get(code)
	if !ok {
		return
	}
	p, remaining, ok := room.remove(participantID)
	if !ok {
		return
	}
	metrics.ActiveParticipants.Dec()
	room.Doc().RemoveParticipant(participantID)

	room.BroadcastAll(models.WSFrame{Type: "presence-left", Data: models.PresencePayload{Participant: p.Info()}})
	h.publishPresence("left", code, p)
	h.log.Info("participant left", zap.String("room", code), zap.String("participant", participantID))

	if remaining == 0 {
		h.reapIfEmpty(room)
	}
}

func (h *Hub) reapIfEmpty(room *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room.Count() != 0 {
		return
	}
	if _, ok := h.rooms[room.Code]; ok {
		delete(h.rooms, room.Code)
		metrics.ActiveRooms.Dec()
		h.log.Info("room discarded", zap.String("room", room.Code))
	}
}

func (h *Hub) publishPresence(eventType, code string, p *Participant) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Publish(models.PresenceEvent{
		Type:        eventType,
		RoomCode:    code,
		Participant: p.Info(),
	}); err != nil {
		h.log.Warn("presence publish failed", zap.String("room", code), zap.Error(err))
	}
}
