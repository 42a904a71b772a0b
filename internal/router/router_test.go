package router

import (
	"sync"
	"testing"

	"bitchatmesh/internal/session"
	"bitchatmesh/internal/state"
	"bitchatmesh/internal/wire"
)

type fakeRelay struct {
	mu       sync.Mutex
	forwards [][]byte
	lastLink string
	sent     map[string][][]byte
}

func (f *fakeRelay) Forward(fromLink string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, data)
	f.lastLink = fromLink
	return nil
}

func (f *fakeRelay) SendTo(linkID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][][]byte)
	}
	f.sent[linkID] = append(f.sent[linkID], data)
	return nil
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forwards)
}

func (f *fakeRelay) sentTo(linkID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[linkID]
}

func mkID(b byte) [wire.PeerIDSize]byte {
	var id [wire.PeerIDSize]byte
	for i := range id {
		id[i] = b
	}
	return id
}

func newTestRouter(me [wire.PeerIDSize]byte) (*Router, *fakeRelay, *state.Store) {
	st := state.New(me, "me")
	sessions := session.NewStore()
	relay := &fakeRelay{}
	r := New(st, sessions, relay, Callbacks{})
	return r, relay, st
}

func TestProcessSuppressesSelfEcho(t *testing.T) {
	me := mkID(0x01)
	r, relay, _ := newTestRouter(me)

	p := wire.NewPacket(wire.TypeAnnounce, me, []byte("me"), 1)
	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if relay.count() != 0 {
		t.Fatalf("expected no relay of a self-originated packet, got %d", relay.count())
	}
}

func TestProcessDedupsRepeatedPacket(t *testing.T) {
	me := mkID(0x01)
	other := mkID(0x02)
	r, relay, _ := newTestRouter(me)

	p := wire.NewPacket(wire.TypeAnnounce, other, []byte("bob"), 1)
	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if relay.count() != 1 {
		t.Fatalf("expected exactly one relay for a duplicate packet, got %d", relay.count())
	}
}

func TestProcessAnnounceUpsertsPeer(t *testing.T) {
	me := mkID(0x01)
	other := mkID(0x02)
	r, _, st := newTestRouter(me)

	p := wire.NewPacket(wire.TypeAnnounce, other, []byte("bob"), 1)
	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	rec, ok := st.Peer(other)
	if !ok {
		t.Fatalf("expected peer to be recorded")
	}
	if rec.Nickname != "bob" {
		t.Fatalf("nickname mismatch: got %q", rec.Nickname)
	}
}

func TestProcessLeaveRemovesPeer(t *testing.T) {
	me := mkID(0x01)
	other := mkID(0x02)
	r, _, st := newTestRouter(me)

	st.UpsertPeer(state.PeerRecord{PeerID: other, Nickname: "bob"})
	p := wire.NewPacket(wire.TypeLeave, other, nil, 1)
	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := st.Peer(other); ok {
		t.Fatalf("expected peer removed after LEAVE")
	}
}

func TestProcessMessageDeliversAndAppendsHistory(t *testing.T) {
	me := mkID(0x01)
	other := mkID(0x02)

	var delivered wire.ChatMessage
	st := state.New(me, "me")
	sessions := session.NewStore()
	relay := &fakeRelay{}
	r := New(st, sessions, relay, Callbacks{
		OnMessage: func(msg wire.ChatMessage, senderID [wire.PeerIDSize]byte, channel string) {
			delivered = msg
		},
	})

	st.SetCurrentChannel("#general")

	chatMsg := wire.ChatMessage{ID: "m1", SenderNickname: "bob", Content: "hi", Channel: "#general"}
	payload, err := wire.EncodeChatMessage(chatMsg)
	if err != nil {
		t.Fatalf("EncodeChatMessage: %v", err)
	}
	p := wire.NewPacket(wire.TypeMessage, other, payload, 1)
	p.HasRecipient = true
	p.RecipientID = wire.BroadcastRecipient

	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if delivered.Content != "hi" {
		t.Fatalf("expected message delivered, got %+v", delivered)
	}
	if got := len(st.History("#general")); got != 1 {
		t.Fatalf("expected 1 history entry, got %d", got)
	}
}

func TestProcessMessageOffChannelNotDeliveredButStillRelayed(t *testing.T) {
	me := mkID(0x01)
	other := mkID(0x02)

	delivered := false
	st := state.New(me, "me")
	st.SetCurrentChannel("#general")
	sessions := session.NewStore()
	relay := &fakeRelay{}
	r := New(st, sessions, relay, Callbacks{
		OnMessage: func(msg wire.ChatMessage, senderID [wire.PeerIDSize]byte, channel string) {
			delivered = true
		},
	})

	chatMsg := wire.ChatMessage{ID: "m1", SenderNickname: "bob", Content: "hi", Channel: "#random"}
	payload, err := wire.EncodeChatMessage(chatMsg)
	if err != nil {
		t.Fatalf("EncodeChatMessage: %v", err)
	}
	p := wire.NewPacket(wire.TypeMessage, other, payload, 1)
	p.HasRecipient = true
	p.RecipientID = wire.BroadcastRecipient

	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if delivered {
		t.Fatalf("expected message on a non-current channel not to be delivered locally")
	}
	if relay.count() != 1 {
		t.Fatalf("expected off-channel message to still be relayed, got %d", relay.count())
	}
	if got := len(st.History("#random")); got != 0 {
		t.Fatalf("expected no history recorded for off-channel message, got %d", got)
	}
}

func TestProcessPrivateMessageDeliveredByNicknameRegardlessOfChannel(t *testing.T) {
	me := mkID(0x01)
	other := mkID(0x02)

	var delivered wire.ChatMessage
	st := state.New(me, "me")
	st.SetCurrentChannel("#general")
	sessions := session.NewStore()
	relay := &fakeRelay{}
	r := New(st, sessions, relay, Callbacks{
		OnMessage: func(msg wire.ChatMessage, senderID [wire.PeerIDSize]byte, channel string) {
			delivered = msg
		},
	})

	chatMsg := wire.ChatMessage{
		ID: "m1", SenderNickname: "bob", Content: "psst",
		IsPrivate: true, RecipientNickname: "me",
	}
	payload, err := wire.EncodeChatMessage(chatMsg)
	if err != nil {
		t.Fatalf("EncodeChatMessage: %v", err)
	}
	p := wire.NewPacket(wire.TypeMessage, other, payload, 1)

	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if delivered.Content != "psst" {
		t.Fatalf("expected private message addressed to us to be delivered, got %+v", delivered)
	}
	if got := len(st.History("private")); got != 1 {
		t.Fatalf("expected private message filed under the synthetic 'private' bucket, got %d", got)
	}
}

func TestHandshakeRoundTripThroughRouter(t *testing.T) {
	aID, bID := mkID(0x01), mkID(0x02)
	aHex, bHex := wire.PeerIDHex(aID), wire.PeerIDHex(bID)

	aStore := state.New(aID, "a")
	aSessions := session.NewStore()
	aRelay := &fakeRelay{}
	a := New(aStore, aSessions, aRelay, Callbacks{})

	bStore := state.New(bID, "b")
	bSessions := session.NewStore()
	bRelay := &fakeRelay{}
	b := New(bStore, bSessions, bRelay, Callbacks{})

	// A is the lexicographically smaller id and initiates.
	if session.ResolveRole(aHex, bHex) != session.RoleInitiator {
		t.Fatalf("test fixture assumption broken: expected A to initiate")
	}

	aSession := aSessions.GetOrCreate(bID)
	ephPub, _, err := aSession.StartHandshake(aHex, bHex)
	if err != nil {
		t.Fatalf("A.StartHandshake: %v", err)
	}
	initPkt := wire.GenericMake(wire.TypeNoiseHandshakeInit, aID, ephPub, 1)

	// B processes the INIT: should stage but not establish, and must reply.
	if err := b.Process(initPkt, "link-a"); err != nil {
		t.Fatalf("B.Process(init): %v", err)
	}
	bSession, ok := bSessions.Get(aID)
	if !ok {
		t.Fatalf("expected B to have created a session for A")
	}
	if bSession.State != session.StateInProgress {
		t.Fatalf("expected B's session to remain InProgress after INIT, got %v", bSession.State)
	}
	replies := bRelay.sentTo("link-a")
	if len(replies) != 1 {
		t.Fatalf("expected B to send exactly one handshake reply, got %d", len(replies))
	}
	respPkt, err := wire.Decode(replies[0])
	if err != nil {
		t.Fatalf("decode B's reply: %v", err)
	}
	if respPkt.Type != wire.TypeNoiseHandshakeResp {
		t.Fatalf("expected B's reply to be NOISE_HANDSHAKE_RESP, got %v", respPkt.Type)
	}

	// A processes B's reply: A completes and sends a confirmation.
	if err := a.Process(respPkt, "link-b"); err != nil {
		t.Fatalf("A.Process(resp): %v", err)
	}
	if aSession.State != session.StateEstablished {
		t.Fatalf("expected A established after B's reply, got %v", aSession.State)
	}
	confirms := aRelay.sentTo("link-b")
	if len(confirms) != 1 {
		t.Fatalf("expected A to send exactly one confirmation, got %d", len(confirms))
	}
	confirmPkt, err := wire.Decode(confirms[0])
	if err != nil {
		t.Fatalf("decode A's confirmation: %v", err)
	}

	// B processes A's confirmation: B completes too.
	if err := b.Process(confirmPkt, "link-a"); err != nil {
		t.Fatalf("B.Process(confirm): %v", err)
	}
	if bSession.State != session.StateEstablished {
		t.Fatalf("expected B established after A's confirmation, got %v", bSession.State)
	}

	// With both sides established, an encrypted message round-trips.
	plaintext, err := wire.EncodeChatMessage(wire.ChatMessage{ID: "m1", SenderNickname: "a", Content: "hi", IsEncrypted: true})
	if err != nil {
		t.Fatalf("EncodeChatMessage: %v", err)
	}
	ct, counter, err := aSession.Seal(plaintext, aID[:])
	if err != nil {
		t.Fatalf("A.Seal: %v", err)
	}
	var payload []byte
	var counterBytes [8]byte
	for i := 0; i < 8; i++ {
		counterBytes[i] = byte(counter >> (56 - 8*i))
	}
	payload = append(payload, counterBytes[:]...)
	payload = append(payload, ct...)

	var delivered wire.ChatMessage
	b.callbacks.OnMessage = func(msg wire.ChatMessage, senderID [wire.PeerIDSize]byte, channel string) {
		delivered = msg
	}
	encPkt := wire.GenericMake(wire.TypeNoiseEncrypted, aID, payload, 2)
	if err := b.Process(encPkt, "link-a"); err != nil {
		t.Fatalf("B.Process(encrypted): %v", err)
	}
	if delivered.Content != "hi" {
		t.Fatalf("expected B to decrypt and deliver A's message, got %+v", delivered)
	}
}

func TestRelayDecrementsTTLAndStopsAtZero(t *testing.T) {
	me := mkID(0x01)
	other := mkID(0x02)
	r, relay, _ := newTestRouter(me)

	p := wire.NewPacket(wire.TypeAnnounce, other, []byte("bob"), 1)
	p.TTL = 1
	if err := r.Process(p, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if relay.count() != 1 {
		t.Fatalf("expected packet with TTL=1 to still relay once, got %d", relay.count())
	}

	p2 := wire.NewPacket(wire.TypeAnnounce, other, []byte("bob-2"), 2)
	p2.TTL = 0
	if err := r.Process(p2, "link-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if relay.count() != 1 {
		t.Fatalf("expected packet with TTL=0 not to relay, count stayed at %d", relay.count())
	}
}
