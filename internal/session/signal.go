package session

import (
	"interview/internal/metrics"
	"interview/internal/models"
)

// RelaySignal forwards a WebRTC signaling envelope verbatim to its target.
// Delivery is best-effort: a target that left or is pending rejoin is dropped
// (delivered=false, nil error) since WebRTC negotiation retries on its own.
// A signal naming no target, or the sender itself, is a caller mistake and
// returns ErrUnknownParticipant.
//
// FIFO per directed pair holds because relays run synchronously in the
// sender's reader goroutine and target writes serialize in Client.Send.
func (r *Room) RelaySignal(from *Participant, req models.SignalRequest) (delivered bool, err error) {
	if req.To == "" || req.To == from.ID {
		return false, ErrUnknownParticipant
	}

	r.mu.Lock()
	target, ok := r.participants[req.To]
	var client *Client
	if ok {
		client = target.client
	}
	r.mu.Unlock()

	if !ok || client == nil {
		metrics.SignalsDropped.Inc()
		return false, nil
	}

	client.Send(models.WSFrame{Type: "signal-received", Data: models.SignalReceived{
		From:    from.ID,
		Kind:    req.Kind,
		Payload: req.Payload,
	}})
	metrics.SignalsRelayed.Inc()
	return true, nil
}
