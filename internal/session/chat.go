package session

import (
	"time"

	"interview/internal/metrics"
	"interview/internal/models"
)

// SendChat assigns the next per-room sequence number, appends the message to
// the room log and fans it out to every participant, sender included, so the
// author renders their own message from the same authoritative path.
// Assignment, append and fan-out all happen under the room mutex: sequence
// numbers are gapless and every receiver observes them in increasing order.
func (r *Room) SendChat(from *Participant, text string) models.ChatMessage {
	r.mu.Lock()
	r.chatSeq++
	msg := models.ChatMessage{
		Seq:         r.chatSeq,
		From:        from.ID,
		DisplayName: from.DisplayName,
		Text:        text,
		SentAt:      time.Now().UTC(),
	}
	r.chat = append(r.chat, msg)
	r.broadcastLocked(nil, models.WSFrame{Type: "chat-message", Data: msg})
	r.mu.Unlock()

	metrics.ChatMessages.Inc()
	return msg
}

// ChatLog returns a copy of the room's chat history, replayed to late joiners.
func (r *Room) ChatLog() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}
