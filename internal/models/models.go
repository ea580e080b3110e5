package models

import "time"

type Role string

const (
	RoleHost      Role = "host"
	RoleCandidate Role = "candidate"
)

// Connection states for a participant. A dropped connection parks the
// participant in StatePendingRejoin until the grace timer fires.
type ParticipantState string

const (
	StateConnected     ParticipantState = "connected"
	StatePendingRejoin ParticipantState = "disconnected-pending-rejoin"
)

type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// Wire error codes reported back on the originating connection.
const (
	ErrCodeRoomFull      = "room_full"
	ErrCodeNotJoined     = "not_joined"
	ErrCodeHistoryTooOld = "history_too_old"
	ErrCodeUnknownPeer   = "unknown_participant"
	ErrCodeMalformedOp   = "malformed_operation"
	ErrCodeUnknownType   = "unknown_type"
)

/*** Session gateway frames ***/

type WSFrame struct {
	Type string      `json:"type"` // "join-room","leave-room","edit","signal","chat-send","joined","doc","edit-ack","operation-applied","signal-received","chat-message","presence-joined","presence-left","error"
	Data interface{} `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type JoinRequest struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role,omitempty"`
	// ParticipantID resumes an existing identity within the reconnect grace
	// window. Empty for a fresh join.
	ParticipantID string `json:"participantId,omitempty"`
}

// JoinResponse acknowledges a join. A fresh join (and a resume whose gap fell
// out of retained history) carries Doc, the full snapshot. A resume within
// retained history omits Doc and carries Ops instead: the operations accepted
// since the participant's last acknowledged revision, applied to the buffer
// the client kept across the gap.
type JoinResponse struct {
	ParticipantID string             `json:"participantId"`
	Doc           *DocSnapshot       `json:"doc,omitempty"`
	Ops           []OperationApplied `json:"ops,omitempty"`
	Participants  []ParticipantInfo  `json:"participants"`
	Chat          []ChatMessage      `json:"chat,omitempty"`
}

type DocSnapshot struct {
	Text     string `json:"text"`
	Revision int64  `json:"revision"`
}

type ParticipantInfo struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	Role        Role             `json:"role"`
	State       ParticipantState `json:"state"`
}

type Edit struct {
	BaseRevision int64  `json:"baseRevision"`
	RangeStart   int    `json:"rangeStart"` // inclusive index
	RangeEnd     int    `json:"rangeEnd"`   // exclusive
	Text         string `json:"text"`
}

type EditAck struct {
	AcceptedRevision int64 `json:"acceptedRevision"`
}

// OperationApplied is the canonical form of an accepted edit, broadcast to
// every room member except the author.
type OperationApplied struct {
	Revision int64  `json:"revision"`
	Position int    `json:"position"`
	Deleted  int    `json:"deleted"`
	Inserted string `json:"inserted"`
	From     string `json:"from"`
}

type SignalRequest struct {
	To      string      `json:"to"`
	Kind    SignalKind  `json:"kind"`
	Payload interface{} `json:"payload"`
}

type SignalReceived struct {
	From    string      `json:"from"`
	Kind    SignalKind  `json:"kind"`
	Payload interface{} `json:"payload"`
}

type ChatSend struct {
	Text string `json:"text"`
}

type ChatMessage struct {
	Seq         int64     `json:"seq"`
	From        string    `json:"from"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sentAt"`
}

type PresencePayload struct {
	Participant ParticipantInfo `json:"participant"`
}

// PresenceEvent is the cross-instance form published over Redis.
type PresenceEvent struct {
	Type        string          `json:"type"` // "joined" | "left"
	RoomCode    string          `json:"roomCode"`
	Participant ParticipantInfo `json:"participant"`
	InstanceID  string          `json:"instanceId"`
	Timestamp   time.Time       `json:"timestamp"`
}

/*** Room status endpoint ***/

type RoomStatus struct {
	Code         string            `json:"code"`
	Participants []ParticipantInfo `json:"participants"`
	Revision     int64             `json:"revision"`
}
