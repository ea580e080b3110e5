package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"interview/internal/docsync"
	"interview/internal/models"
)

var (
	// ErrRoomFull rejects a join once the room reached its participant cap.
	ErrRoomFull = errors.New("room_full")
	// ErrUnknownParticipant is surfaced when a signal names no usable target.
	ErrUnknownParticipant = errors.New("unknown_participant")
)

// Participant is one registered identity in a room. The session id is scoped
// to the connection lifecycle and never reused; it survives a disconnect only
// for the length of the grace window.
type Participant struct {
	ID          string
	DisplayName string
	Role        models.Role

	state      models.ParticipantState
	client     *Client
	graceTimer *time.Timer
}

func (p *Participant) Info() models.ParticipantInfo {
	return models.ParticipantInfo{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		State:       p.state,
	}
}

// Room owns the participant set, the shared document and the chat log for one
// room code. The Document carries its own mutex; the room mutex guards only
// membership and the chat log, so edit serialization never blocks on
// membership churn.
type Room struct {
	Code string

	mu           sync.Mutex
	participants map[string]*Participant
	doc          *docsync.Document
	chat         []models.ChatMessage
	chatSeq      int64
}

func NewRoom(code string, retention time.Duration) *Room {
	return &Room{
		Code:         code,
		participants: make(map[string]*Participant),
		doc:          docsync.NewDocument(retention),
	}
}

func (r *Room) Doc() *docsync.Document { return r.doc }

func (r *Room) add(p *Participant, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if capacity > 0 && len(r.participants) >= capacity {
		return ErrRoomFull
	}
	r.participants[p.ID] = p
	return nil
}

// remove is idempotent: a second removal of the same id reports ok=false and
// must not trigger another presence broadcast.
func (r *Room) remove(participantID string) (p *Participant, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok = r.participants[participantID]
	if !ok {
		return nil, len(r.participants), false
	}
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
	delete(r.participants, participantID)
	return p, len(r.participants), true
}

// resume reattaches a pending (or takeover) participant to a new connection
// within the grace window.
func (r *Room) resume(participantID string, client *Client) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok {
		return nil, false
	}
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
	p.client = client
	p.state = models.StateConnected
	return p, true
}

// markDisconnected parks a participant whose connection dropped. It no-ops
// when the participant has already resumed on a newer connection, so a stale
// teardown from the old reader cannot park a live participant.
func (r *Room) markDisconnected(participantID string, old *Client, timer *time.Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[participantID]
	if !ok || p.client != old {
		return false
	}
	p.state = models.StatePendingRejoin
	p.client = nil
	p.graceTimer = timer
	return true
}

func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Participants returns a stable-ordered membership snapshot.
func (r *Room) Participants() []models.ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ParticipantInfo, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyEdit funnels one edit through the shared document and broadcasts the
// accepted operation to the other participants before releasing the room
// mutex, so every receiver observes operations in revision order.
func (r *Room) ApplyEdit(from *Participant, e models.Edit) (docsync.Applied, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	applied, err := r.doc.Apply(e)
	if err != nil {
		return docsync.Applied{}, err
	}
	r.doc.SetAck(from.ID, applied.Revision)
	r.broadcastLocked(from.client, models.WSFrame{Type: "operation-applied", Data: models.OperationApplied{
		Revision: applied.Revision,
		Position: applied.Position,
		Deleted:  applied.Deleted,
		Inserted: applied.Inserted,
		From:     from.ID,
	}})
	return applied, nil
}

// Broadcast fans a frame out to every connected participant except sender.
// Sends to pending-rejoin participants are skipped, not queued. Sends happen
// while the room mutex is held: frames assigned a position in the room's
// order (chat sequence, document revision) arrive at every receiver in that
// order.
func (r *Room) Broadcast(sender *Client, frame models.WSFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(sender, frame)
}

func (r *Room) BroadcastAll(frame models.WSFrame) {
	r.Broadcast(nil, frame)
}

func (r *Room) broadcastLocked(except *Client, frame models.WSFrame) {
	for _, p := range r.participants {
		if p.client == nil || p.client == except {
			continue
		}
		p.client.Send(frame)
	}
}
