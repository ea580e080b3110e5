package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"interview/internal/models"
)

type frameCapture struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func (f *frameCapture) hook(frame models.WSFrame) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
}

func (f *frameCapture) all() []models.WSFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.WSFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *frameCapture) ofType(frameType string) []models.WSFrame {
	var out []models.WSFrame
	for _, fr := range f.all() {
		if fr.Type == frameType {
			out = append(out, fr)
		}
	}
	return out
}

func newTestClient() (*Client, *frameCapture) {
	c := NewClient(nil)
	cap := &frameCapture{}
	c.SetSendHook(cap.hook)
	return c, cap
}

func newTestHub(cfg Config) *Hub {
	return NewHub(cfg, zap.NewNop())
}

func TestJoinCreatesRoomAndBroadcastsPresence(t *testing.T) {
	h := newTestHub(Config{})

	c1, cap1 := newTestClient()
	room, p1, err := h.Join("room-1", "alice", models.RoleHost, c1)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if room.Code != "room-1" || room.Count() != 1 {
		t.Fatalf("unexpected room state: code %s count %d", room.Code, room.Count())
	}
	if p1.ID == "" {
		t.Fatalf("expected generated participant id")
	}

	c2, cap2 := newTestClient()
	_, p2, err := h.Join("room-1", "bob", models.RoleCandidate, c2)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}

	// The existing member sees the newcomer; the newcomer does not see itself.
	joined := cap1.ofType("presence-joined")
	if len(joined) != 1 {
		t.Fatalf("expected 1 presence-joined for first member, got %d", len(joined))
	}
	payload := joined[0].Data.(models.PresencePayload)
	if payload.Participant.ID != p2.ID {
		t.Fatalf("presence-joined names %s, want %s", payload.Participant.ID, p2.ID)
	}
	if got := cap2.ofType("presence-joined"); len(got) != 0 {
		t.Fatalf("joiner should not receive its own presence-joined, got %d", len(got))
	}
}

func TestJoinRejectsWhenFull(t *testing.T) {
	h := newTestHub(Config{Capacity: 2})

	for i := 0; i < 2; i++ {
		c, _ := newTestClient()
		if _, _, err := h.Join("full", "p", models.RoleCandidate, c); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}

	c, _ := newTestClient()
	if _, _, err := h.Join("full", "late", models.RoleCandidate, c); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if room, _ := h.Get("full"); room.Count() != 2 {
		t.Fatalf("rejected join changed membership: %d", room.Count())
	}
}

func TestLeaveIsIdempotentAndReapsRoom(t *testing.T) {
	h := newTestHub(Config{})

	c1, cap1 := newTestClient()
	room, p1, err := h.Join("room-2", "alice", models.RoleHost, c1)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	c2, _ := newTestClient()
	_, p2, err := h.Join("room-2", "bob", models.RoleCandidate, c2)
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	h.Leave("room-2", p2.ID)
	h.Leave("room-2", p2.ID) // second leave is a no-op

	left := cap1.ofType("presence-left")
	if len(left) != 1 {
		t.Fatalf("expected exactly 1 presence-left, got %d", len(left))
	}
	if room.Count() != 1 {
		t.Fatalf("expected 1 remaining, got %d", room.Count())
	}

	h.Leave("room-2", p1.ID)
	if _, ok := h.Get("room-2"); ok {
		t.Fatalf("expected room discarded after last leave")
	}

	// A fresh join after teardown starts from a blank document.
	c3, _ := newTestClient()
	room2, _, err := h.Join("room-2", "carol", models.RoleCandidate, c3)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if snap := room2.Doc().Snapshot(); snap.Revision != 0 || snap.Text != "" {
		t.Fatalf("expected blank doc, got %q rev %d", snap.Text, snap.Revision)
	}
}

func TestChatSequenceIsGaplessAndReachesSender(t *testing.T) {
	h := newTestHub(Config{})

	c1, cap1 := newTestClient()
	room, p1, _ := h.Join("chat", "alice", models.RoleHost, c1)
	c2, cap2 := newTestClient()
	_, p2, _ := h.Join("chat", "bob", models.RoleCandidate, c2)

	room.SendChat(p1, "hello")
	room.SendChat(p2, "hi")
	room.SendChat(p1, "ready?")

	for name, cap := range map[string]*frameCapture{"sender": cap1, "peer": cap2} {
		msgs := cap.ofType("chat-message")
		if len(msgs) != 3 {
			t.Fatalf("%s: expected 3 chat messages, got %d", name, len(msgs))
		}
		for i, fr := range msgs {
			msg := fr.Data.(models.ChatMessage)
			if msg.Seq != int64(i+1) {
				t.Fatalf("%s: expected seq %d, got %d", name, i+1, msg.Seq)
			}
		}
	}

	log := room.ChatLog()
	if len(log) != 3 || log[0].Text != "hello" || log[2].Text != "ready?" {
		t.Fatalf("unexpected chat log: %+v", log)
	}
}

func TestSignalRelayOrderAndErrors(t *testing.T) {
	h := newTestHub(Config{})

	c1, _ := newTestClient()
	room, p1, _ := h.Join("sig", "alice", models.RoleHost, c1)
	c2, cap2 := newTestClient()
	_, p2, _ := h.Join("sig", "bob", models.RoleCandidate, c2)

	payloads := []string{"offer-sdp", "cand-1", "cand-2"}
	kinds := []models.SignalKind{models.SignalOffer, models.SignalICECandidate, models.SignalICECandidate}
	for i := range payloads {
		delivered, err := room.RelaySignal(p1, models.SignalRequest{To: p2.ID, Kind: kinds[i], Payload: payloads[i]})
		if err != nil || !delivered {
			t.Fatalf("relay %d: delivered=%v err=%v", i, delivered, err)
		}
	}

	got := cap2.ofType("signal-received")
	if len(got) != 3 {
		t.Fatalf("expected 3 signals, got %d", len(got))
	}
	for i, fr := range got {
		sig := fr.Data.(models.SignalReceived)
		if sig.From != p1.ID || sig.Payload != payloads[i] {
			t.Fatalf("signal %d out of order or mangled: %+v", i, sig)
		}
	}

	// No target or self target is a caller mistake.
	if _, err := room.RelaySignal(p1, models.SignalRequest{To: ""}); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant for empty target, got %v", err)
	}
	if _, err := room.RelaySignal(p1, models.SignalRequest{To: p1.ID}); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("expected ErrUnknownParticipant for self target, got %v", err)
	}

	// A departed target is dropped silently.
	h.Leave("sig", p2.ID)
	delivered, err := room.RelaySignal(p1, models.SignalRequest{To: p2.ID, Kind: models.SignalOffer})
	if err != nil || delivered {
		t.Fatalf("expected silent drop, got delivered=%v err=%v", delivered, err)
	}
}

func TestResumeWithinGracePreservesIdentity(t *testing.T) {
	h := newTestHub(Config{Grace: time.Minute})

	c1, _ := newTestClient()
	room, p1, _ := h.Join("resume", "alice", models.RoleHost, c1)
	c2, cap2 := newTestClient()
	_, _, _ = h.Join("resume", "bob", models.RoleCandidate, c2)

	room.Doc().SetAck(p1.ID, 4)
	h.Disconnect(room, p1, c1)

	infos := room.Participants()
	var found bool
	for _, info := range infos {
		if info.ID == p1.ID {
			found = true
			if info.State != models.StatePendingRejoin {
				t.Fatalf("expected pending-rejoin state, got %s", info.State)
			}
		}
	}
	if !found {
		t.Fatalf("disconnected participant vanished before grace expiry")
	}

	// Broadcasts skip the parked connection instead of queueing.
	before := len(cap2.all())
	room.BroadcastAll(models.WSFrame{Type: "chat-message"})
	if got := len(cap2.all()); got != before+1 {
		t.Fatalf("connected peer missed broadcast")
	}

	c3, _ := newTestClient()
	room2, resumed, ok := h.Resume("resume", p1.ID, c3)
	if !ok || room2 != room {
		t.Fatalf("expected resume to succeed in same room")
	}
	if resumed.ID != p1.ID {
		t.Fatalf("resume changed identity: %s != %s", resumed.ID, p1.ID)
	}
	if got := room.Doc().Ack(p1.ID); got != 4 {
		t.Fatalf("ack state lost across resume: %d", got)
	}
	if got := len(cap2.ofType("presence-left")); got != 0 {
		t.Fatalf("resume must not fire presence events, got %d presence-left", got)
	}
}

func TestGraceExpiryEvicts(t *testing.T) {
	h := newTestHub(Config{Grace: 20 * time.Millisecond})

	c1, _ := newTestClient()
	room, p1, _ := h.Join("expire", "alice", models.RoleHost, c1)
	c2, cap2 := newTestClient()
	_, _, _ = h.Join("expire", "bob", models.RoleCandidate, c2)

	h.Disconnect(room, p1, c1)

	deadline := time.Now().Add(2 * time.Second)
	for room.Count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("participant not evicted after grace expiry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := len(cap2.ofType("presence-left")); got != 1 {
		t.Fatalf("expected 1 presence-left after eviction, got %d", got)
	}
	if _, _, ok := h.Resume("expire", p1.ID, c1); ok {
		t.Fatalf("expected resume to fail after eviction")
	}
}

func TestStaleDisconnectAfterResumeIsIgnored(t *testing.T) {
	h := newTestHub(Config{Grace: 20 * time.Millisecond})

	c1, _ := newTestClient()
	room, p1, _ := h.Join("takeover", "alice", models.RoleHost, c1)

	// The client reconnects before the old connection's reader observes the
	// failure (half-open connection).
	c2, _ := newTestClient()
	if _, _, ok := h.Resume("takeover", p1.ID, c2); !ok {
		t.Fatalf("expected resume to succeed")
	}

	h.Disconnect(room, p1, c1)

	for _, info := range room.Participants() {
		if info.ID == p1.ID && info.State != models.StateConnected {
			t.Fatalf("resumed participant parked by stale disconnect: state=%s", info.State)
		}
	}

	// No grace timer was armed for the stale teardown, so nothing evicts.
	time.Sleep(60 * time.Millisecond)
	if room.Count() != 1 {
		t.Fatalf("resumed participant evicted by stale disconnect")
	}

	// Dropping the live connection still parks as usual.
	h.Disconnect(room, p1, c2)
	deadline := time.Now().Add(2 * time.Second)
	for room.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("live disconnect no longer evicts")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChatBroadcastOrderUnderContention(t *testing.T) {
	h := newTestHub(Config{})

	receiver, recCap := newTestClient()
	room, _, _ := h.Join("busy", "watcher", models.RoleHost, receiver)

	senders := make([]*Participant, 3)
	for i := range senders {
		c, _ := newTestClient()
		_, p, err := h.Join("busy", "sender", models.RoleCandidate, c)
		if err != nil {
			t.Fatalf("join sender %d: %v", i, err)
		}
		senders[i] = p
	}

	const perSender = 500
	var wg sync.WaitGroup
	for _, p := range senders {
		wg.Add(1)
		go func(p *Participant) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				room.SendChat(p, "m")
			}
		}(p)
	}
	wg.Wait()

	msgs := recCap.ofType("chat-message")
	if len(msgs) != len(senders)*perSender {
		t.Fatalf("expected %d messages, got %d", len(senders)*perSender, len(msgs))
	}
	last := int64(0)
	for i, fr := range msgs {
		seq := fr.Data.(models.ChatMessage).Seq
		if seq != last+1 {
			t.Fatalf("message %d arrived out of sequence order: seq %d after %d", i, seq, last)
		}
		last = seq
	}
}

func TestOperationBroadcastOrderUnderContention(t *testing.T) {
	h := newTestHub(Config{})

	receiver, recCap := newTestClient()
	room, _, _ := h.Join("edits", "watcher", models.RoleHost, receiver)

	editors := make([]*Participant, 3)
	for i := range editors {
		c, _ := newTestClient()
		_, p, err := h.Join("edits", "editor", models.RoleCandidate, c)
		if err != nil {
			t.Fatalf("join editor %d: %v", i, err)
		}
		editors[i] = p
	}

	const perEditor = 100
	var wg sync.WaitGroup
	for _, p := range editors {
		wg.Add(1)
		go func(p *Participant) {
			defer wg.Done()
			for i := 0; i < perEditor; i++ {
				// Concurrent same-base inserts get transformed; every accept
				// must still reach receivers in revision order.
				if _, err := room.ApplyEdit(p, models.Edit{BaseRevision: 0, Text: "x"}); err != nil {
					t.Errorf("apply: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	ops := recCap.ofType("operation-applied")
	if len(ops) != len(editors)*perEditor {
		t.Fatalf("expected %d operations, got %d", len(editors)*perEditor, len(ops))
	}
	for i, fr := range ops {
		rev := fr.Data.(models.OperationApplied).Revision
		if rev != int64(i)+1 {
			t.Fatalf("operation %d arrived out of revision order: revision %d", i, rev)
		}
	}
}

func TestResumeUnknownRoomOrParticipant(t *testing.T) {
	h := newTestHub(Config{})
	c, _ := newTestClient()

	if _, _, ok := h.Resume("nope", "p", c); ok {
		t.Fatalf("expected resume failure for unknown room")
	}

	_, _, _ = h.Join("known", "alice", models.RoleHost, c)
	if _, _, ok := h.Resume("known", "ghost", c); ok {
		t.Fatalf("expected resume failure for unknown participant")
	}
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.PresenceEvent
}

func (c *capturePublisher) Publish(e models.PresenceEvent) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func TestPresencePublisherReceivesLifecycle(t *testing.T) {
	h := newTestHub(Config{})
	pub := &capturePublisher{}
	h.SetPresencePublisher(pub)

	c, _ := newTestClient()
	_, p, _ := h.Join("pub", "alice", models.RoleHost, c)
	h.Leave("pub", p.ID)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 {
		t.Fatalf("expected joined+left events, got %d", len(pub.events))
	}
	if pub.events[0].Type != "joined" || pub.events[1].Type != "left" {
		t.Fatalf("unexpected event types: %+v", pub.events)
	}
	if pub.events[0].RoomCode != "pub" || pub.events[0].Participant.ID != p.ID {
		t.Fatalf("unexpected event payload: %+v", pub.events[0])
	}
}
