package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"interview/internal/config"
	"interview/internal/docsync"
	"interview/internal/exec"
	"interview/internal/metrics"
	"interview/internal/models"
	"interview/internal/session"
	"interview/internal/utils"
)

type Handlers struct {
	log          *zap.Logger
	hub          *session.Hub
	runner       *exec.Runner
	webrtcConfig webrtc.Configuration
}

func NewHandlers(log *zap.Logger, cfg *config.Config) *Handlers {
	hub := session.NewHub(session.Config{
		Capacity:  cfg.RoomCapacity,
		Grace:     cfg.ReconnectGrace,
		Retention: cfg.HistoryRetention,
	}, log)
	return NewHandlersWithDeps(log, hub, exec.NewRunner(cfg.ExecURL), utils.GetWebRTCConfig(cfg))
}

func NewHandlersWithDeps(log *zap.Logger, hub *session.Hub, runner *exec.Runner, webrtcConfig webrtc.Configuration) *Handlers {
	return &Handlers{log: log, hub: hub, runner: runner, webrtcConfig: webrtcConfig}
}

func (h *Handlers) Hub() *session.Hub { return h.hub }

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) GetWebRTCConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}{ICEServers: h.webrtcConfig.ICEServers})
}

func (h *Handlers) GetRoomStatus(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		http.Error(w, "room code is required", http.StatusBadRequest)
		return
	}
	room, ok := h.hub.Get(code)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	snap := room.Doc().Snapshot()
	writeJSON(w, models.RoomStatus{
		Code:         room.Code,
		Participants: room.Participants(),
		Revision:     snap.Revision,
	})
}

// Execute forwards the request body to the external execution service and
// passes the upstream response through unchanged.
func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	status, payload, err := h.runner.Execute(ctx, r.Body)
	if err != nil {
		h.log.Error("execution proxy failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

/*** Session gateway: one WebSocket per participant ***/

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// SessionWS is the single ingress for room traffic. A connection must join
// before any other room-scoped frame; errors are reported as frames and never
// close the connection. An abrupt disconnect parks the participant for the
// grace window instead of evicting immediately.
func (h *Handlers) SessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := session.NewClient(conn)
	var (
		room *session.Room
		p    *session.Participant
	)
	defer func() {
		if room != nil && p != nil {
			h.hub.Disconnect(room, p, client)
		}
	}()

	for {
		var frame models.WSFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "join-room":
			var req models.JoinRequest
			marshal(frame.Data, &req)
			if room != nil {
				// Duplicate join: re-send the authoritative snapshot.
				h.sendJoined(client, room, p, false)
				continue
			}
			if req.RoomCode == "" {
				client.Send(errFrame(models.ErrCodeMalformedOp, "roomCode is required"))
				continue
			}
			if req.ParticipantID != "" {
				if rm, pp, ok := h.hub.Resume(req.RoomCode, req.ParticipantID, client); ok {
					room, p = rm, pp
					h.sendJoined(client, room, p, true)
					continue
				}
				// Stale resume identity: grace window expired, fall through
				// to a fresh join.
			}
			rm, pp, err := h.hub.Join(req.RoomCode, req.DisplayName, req.Role, client)
			if err != nil {
				if errors.Is(err, session.ErrRoomFull) {
					client.Send(errFrame(models.ErrCodeRoomFull, "room is at capacity"))
				} else {
					client.Send(errFrame(models.ErrCodeMalformedOp, err.Error()))
				}
				continue
			}
			room, p = rm, pp
			h.sendJoined(client, room, p, false)

		case "leave-room":
			if p == nil {
				client.Send(notJoined())
				continue
			}
			h.hub.Leave(room.Code, p.ID)
			room, p = nil, nil

		case "edit":
			if p == nil {
				client.Send(notJoined())
				continue
			}
			var e models.Edit
			marshal(frame.Data, &e)
			h.handleEdit(client, room, p, e)

		case "signal":
			if p == nil {
				client.Send(notJoined())
				continue
			}
			var s models.SignalRequest
			marshal(frame.Data, &s)
			h.handleSignal(client, room, p, s)

		case "chat-send":
			if p == nil {
				client.Send(notJoined())
				continue
			}
			var c models.ChatSend
			marshal(frame.Data, &c)
			if c.Text == "" {
				continue
			}
			room.SendChat(p, c.Text)

		default:
			client.Send(errFrame(models.ErrCodeUnknownType, "unknown frame type: "+frame.Type))
		}
	}
}

// sendJoined acknowledges a join. A resume whose gap is still within retained
// history gets the operations accepted since its last acknowledged revision
// instead of a full snapshot, so the client keeps its local buffer.
func (h *Handlers) sendJoined(client *session.Client, room *session.Room, p *session.Participant, resumed bool) {
	doc := room.Doc()
	if resumed {
		ack := doc.Ack(p.ID)
		if ops, ok := doc.OperationsSince(ack); ok {
			last := ack
			out := make([]models.OperationApplied, 0, len(ops))
			for _, op := range ops {
				out = append(out, models.OperationApplied{
					Revision: op.Revision,
					Position: op.Position,
					Deleted:  op.Deleted,
					Inserted: op.Inserted,
				})
				last = op.Revision
			}
			doc.SetAck(p.ID, last)
			client.Send(models.WSFrame{Type: "joined", Data: models.JoinResponse{
				ParticipantID: p.ID,
				Ops:           out,
				Participants:  room.Participants(),
				Chat:          room.ChatLog(),
			}})
			return
		}
	}
	snap := doc.Snapshot()
	doc.SetAck(p.ID, snap.Revision)
	client.Send(models.WSFrame{Type: "joined", Data: models.JoinResponse{
		ParticipantID: p.ID,
		Doc:           &snap,
		Participants:  room.Participants(),
		Chat:          room.ChatLog(),
	}})
}

func (h *Handlers) handleEdit(client *session.Client, room *session.Room, p *session.Participant, e models.Edit) {
	applied, err := room.ApplyEdit(p, e)
	if err != nil {
		code := mapDocError(err)
		metrics.OperationsRejected.WithLabelValues(code).Inc()
		client.Send(errFrame(code, err.Error()))
		if errors.Is(err, docsync.ErrHistoryTooOld) {
			// The client's base fell out of retained history: force a full
			// resync, discarding whatever it had buffered locally.
			snap := room.Doc().Snapshot()
			room.Doc().SetAck(p.ID, snap.Revision)
			client.Send(models.WSFrame{Type: "doc", Data: snap})
		}
		return
	}
	metrics.OperationsApplied.Inc()
	client.Send(models.WSFrame{Type: "edit-ack", Data: models.EditAck{AcceptedRevision: applied.Revision}})
}

func (h *Handlers) handleSignal(client *session.Client, room *session.Room, p *session.Participant, s models.SignalRequest) {
	switch s.Kind {
	case models.SignalOffer, models.SignalAnswer, models.SignalICECandidate:
	default:
		client.Send(errFrame(models.ErrCodeMalformedOp, "unknown signal kind"))
		return
	}
	delivered, err := room.RelaySignal(p, s)
	if err != nil {
		client.Send(errFrame(models.ErrCodeUnknownPeer, err.Error()))
		return
	}
	if !delivered {
		// Best-effort relay: the target left or is pending rejoin.
		h.log.Debug("signal dropped",
			zap.String("room", room.Code),
			zap.String("from", p.ID),
			zap.String("to", s.To),
			zap.String("kind", string(s.Kind)))
	}
}

func mapDocError(err error) string {
	switch {
	case errors.Is(err, docsync.ErrHistoryTooOld):
		return models.ErrCodeHistoryTooOld
	case errors.Is(err, docsync.ErrMalformedOperation):
		return models.ErrCodeMalformedOp
	default:
		return models.ErrCodeMalformedOp
	}
}

func notJoined() models.WSFrame {
	return errFrame(models.ErrCodeNotJoined, "join a room first")
}

func errFrame(code, msg string) models.WSFrame {
	return models.WSFrame{Type: "error", Data: models.ErrorPayload{Code: code, Message: msg}}
}

func marshal(in any, out any) { b, _ := json.Marshal(in); _ = json.Unmarshal(b, out) }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
