// Package router implements the mesh's Message Router and Mesh Relay: it
// dispatches each inbound packet by type, deduplicates flood traffic, and
// forwards surviving packets on to every neighbor except the one it came
// from, following the teacher's gossip forward/fanout pattern adapted to
// the mesh's flood-with-TTL model (fanout of "all neighbors", not a
// random subset).
package router

import (
	"time"

	"bitchatmesh/internal/logging"
	"bitchatmesh/internal/session"
	"bitchatmesh/internal/state"
	"bitchatmesh/internal/wire"
)

// Relay is the narrow outbound capability the router needs from a
// transport: forward raw wire bytes to every connected neighbor other
// than the one identified by fromLink, or send bytes to one specific link
// for handshake replies that must not fan out to every neighbor.
type Relay interface {
	Forward(fromLink string, data []byte) error
	SendTo(linkID string, data []byte) error
}

// Callbacks lets the application layer observe router-level events
// without the router depending on any UI or CLI package.
type Callbacks struct {
	OnMessage      func(msg wire.ChatMessage, senderID [wire.PeerIDSize]byte, channel string)
	OnPeerAnnounce func(state.PeerRecord)
	OnPeerLeave    func(peerID [wire.PeerIDSize]byte)
	OnDuplicate    func()
}

// Router owns dispatch for one node's inbound packet stream.
type Router struct {
	store     *state.Store
	sessions  *session.Store
	relay     Relay
	callbacks Callbacks
}

// New wires a Router to its shared state, session table, and outbound relay.
func New(store *state.Store, sessions *session.Store, relay Relay, cb Callbacks) *Router {
	return &Router{store: store, sessions: sessions, relay: relay, callbacks: cb}
}

// Process handles one packet received over link fromLink: dedup, self-echo
// suppression, per-type handling, then relay to other neighbors if TTL
// allows. Errors are non-fatal; a malformed or unwelcome packet is simply
// dropped.
func (r *Router) Process(p wire.Packet, fromLink string) error {
	if p.SenderID == r.store.MyPeerID() {
		return nil // self-echo: we originated this packet
	}
	fp := fingerprint(p)
	if r.store.SeenAndMark(fp) {
		if r.callbacks.OnDuplicate != nil {
			r.callbacks.OnDuplicate()
		}
		return nil // already processed this exact packet
	}

	switch p.Type {
	case wire.TypeAnnounce:
		r.handleAnnounce(p, fromLink)
	case wire.TypeChannelAnnounce:
		r.handleChannelAnnounce(p, fromLink)
	case wire.TypeLeave:
		r.store.RemovePeer(p.SenderID)
		if r.callbacks.OnPeerLeave != nil {
			r.callbacks.OnPeerLeave(p.SenderID)
		}
	case wire.TypeMessage:
		r.handleMessage(p)
	case wire.TypeNoiseIdentityAnnounce:
		r.handleIdentityAnnounce(p, fromLink)
	case wire.TypeNoiseHandshakeInit:
		r.handleHandshakeInit(p, fromLink)
	case wire.TypeNoiseHandshakeResp:
		r.handleHandshakeResp(p, fromLink)
	case wire.TypeNoiseEncrypted:
		r.handleNoiseEncrypted(p)
	default:
		// Other accepted types (delivery ack, read receipt, fragments,
		// channel metadata, version handshake) carry no local state
		// change the router owns; they are still deduped and relayed.
	}

	r.relayIfAlive(p, fromLink)
	return nil
}

// handleAnnounce records or refreshes a peer's presence: last-seen, the
// transport link it arrived on, and nickname, per spec.md §4.3 ("update
// last-seen, link id, nickname"). OnPeerAnnounce only fires for peers not
// previously seen, matching the teacher's join-vs-refresh distinction.
func (r *Router) handleAnnounce(p wire.Packet, fromLink string) {
	now := uint64(time.Now().UnixMilli())
	existing, known := r.store.Peer(p.SenderID)

	rec := state.PeerRecord{
		PeerID:      p.SenderID,
		LinkID:      fromLink,
		Nickname:    string(p.Payload),
		LastSeenMS:  now,
		FirstSeenMS: now,
		RSSI:        state.DefaultRSSI,
		Announced:   true,
	}
	if known {
		rec.Channel = existing.Channel
		rec.RSSI = existing.RSSI
	}
	r.store.UpsertPeer(rec)

	if !known && r.callbacks.OnPeerAnnounce != nil {
		out, _ := r.store.Peer(p.SenderID)
		r.callbacks.OnPeerAnnounce(out)
	}
}

// handleChannelAnnounce updates the sender's recorded channel membership.
// Per spec.md §4.3 this only ever touches the peer's channel field; it
// never treats the payload as a nickname.
func (r *Router) handleChannelAnnounce(p wire.Packet, fromLink string) {
	joining, channel, err := wire.DecodeChannelAnnounce(p.Payload)
	if err != nil {
		logging.Debugf("router: drop malformed CHANNEL_ANNOUNCE from %s: %v", wire.PeerIDHex(p.SenderID), err)
		return
	}

	now := uint64(time.Now().UnixMilli())
	rec, known := r.store.Peer(p.SenderID)
	if !known {
		rec = state.PeerRecord{PeerID: p.SenderID, FirstSeenMS: now, RSSI: state.DefaultRSSI}
	}
	rec.LinkID = fromLink
	rec.LastSeenMS = now
	if joining {
		rec.Channel = channel
	} else if rec.Channel == channel {
		rec.Channel = ""
	}
	r.store.UpsertPeer(rec)

	if !known && r.callbacks.OnPeerAnnounce != nil {
		out, _ := r.store.Peer(p.SenderID)
		r.callbacks.OnPeerAnnounce(out)
	}
}

// handleIdentityAnnounce implements spec.md §4.3's automatic session
// bootstrap: "if local-id < sender-id, initiate a handshake to the
// sender; otherwise wait. Drop if from self." Process already drops
// self-originated packets before dispatch reaches here, so only the
// role comparison remains.
func (r *Router) handleIdentityAnnounce(p wire.Packet, fromLink string) {
	localHex := wire.PeerIDHex(r.store.MyPeerID())
	remoteHex := wire.PeerIDHex(p.SenderID)
	if session.ResolveRole(localHex, remoteHex) != session.RoleInitiator {
		return // larger id waits for the peer to initiate
	}

	s := r.sessions.GetOrCreate(p.SenderID)
	if s.State != session.StateNone {
		return // handshake already under way or established
	}
	ephPub, _, err := s.StartHandshake(localHex, remoteHex)
	if err != nil {
		logging.Debugf("router: start handshake to %s: %v", remoteHex, err)
		return
	}
	initPkt := wire.GenericMake(wire.TypeNoiseHandshakeInit, r.store.MyPeerID(), ephPub, uint64(time.Now().UnixMilli()))
	data, err := wire.Encode(initPkt)
	if err != nil {
		logging.Debugf("router: encode handshake init to %s: %v", remoteHex, err)
		return
	}
	if err := r.relay.SendTo(fromLink, data); err != nil {
		logging.Debugf("router: send handshake init to %s: %v", remoteHex, err)
	}
}

// handleMessage applies spec.md §4.3's channel-scoped delivery gate: a
// message is surfaced to the callback/history only if (a) its channel
// matches our current channel, (b) both channels are empty, or (c) it is
// private and addressed to our nickname. Every other MESSAGE is still
// relayed by the caller, just not shown locally.
func (r *Router) handleMessage(p wire.Packet) {
	msg, err := wire.DecodeChatMessage(p.Payload)
	if err != nil {
		logging.Debugf("router: drop malformed MESSAGE from %s: %v", wire.PeerIDHex(p.SenderID), err)
		return
	}
	r.deliverIfScoped(msg, p.SenderID)
}

func (r *Router) deliverIfScoped(msg wire.ChatMessage, senderID [wire.PeerIDSize]byte) {
	current := r.store.CurrentChannel()

	forMe := msg.IsPrivate && msg.RecipientNickname != "" && msg.RecipientNickname == r.store.Nickname()
	sameChannel := msg.Channel == current
	bothEmpty := msg.Channel == "" && current == ""

	if !(sameChannel || bothEmpty || forMe) {
		return // out of scope for local display; still relayed by Process
	}

	if r.callbacks.OnMessage != nil {
		r.callbacks.OnMessage(msg, senderID, msg.Channel)
	}

	channel := msg.Channel
	if channel == "" {
		if msg.IsPrivate {
			channel = "private"
		} else {
			channel = "#public"
		}
	}
	r.store.AppendHistory(channel, state.HistoryEntry{Message: msg, Channel: channel})
}

// handleHandshakeInit is the responder side of the handshake: it stages
// the initiator's ephemeral key without completing yet (the session stays
// InProgress per spec.md §4.2) and replies with our own ephemeral key in a
// NOISE_HANDSHAKE_RESP sent directly back over fromLink. The session only
// reaches Established once the initiator's confirmation arrives, handled
// as a second NOISE_HANDSHAKE_RESP in handleHandshakeResp below.
func (r *Router) handleHandshakeInit(p wire.Packet, fromLink string) {
	s := r.sessions.GetOrCreate(p.SenderID)
	if s.State == session.StateEstablished {
		return
	}
	localHex := wire.PeerIDHex(r.store.MyPeerID())
	remoteHex := wire.PeerIDHex(p.SenderID)

	ephPub, _, err := s.StartHandshake(localHex, remoteHex)
	if err != nil {
		logging.Debugf("router: responder handshake to %s: %v", remoteHex, err)
		return
	}
	s.Role = session.RoleResponder
	s.StageRemoteEphemeral(p.Payload)

	respPkt := wire.GenericMake(wire.TypeNoiseHandshakeResp, r.store.MyPeerID(), ephPub, uint64(time.Now().UnixMilli()))
	data, err := wire.Encode(respPkt)
	if err != nil {
		logging.Debugf("router: encode handshake resp to %s: %v", remoteHex, err)
		return
	}
	if err := r.relay.SendTo(fromLink, data); err != nil {
		logging.Debugf("router: send handshake resp to %s: %v", remoteHex, err)
	}
}

// handleHandshakeResp is reached twice per handshake, distinguished by the
// local session's Role: the initiator receives the responder's genuine
// reply and completes immediately, then sends its own ephemeral key back
// as a confirmation (also wire-typed NOISE_HANDSHAKE_RESP); the responder
// receives that confirmation and completes using the key staged earlier
// by handleHandshakeInit.
func (r *Router) handleHandshakeResp(p wire.Packet, fromLink string) {
	s, ok := r.sessions.Get(p.SenderID)
	if !ok {
		logging.Debugf("router: handshake resp from unknown peer %s", wire.PeerIDHex(p.SenderID))
		return
	}

	switch s.Role {
	case session.RoleInitiator:
		if s.State != session.StateInProgress {
			return
		}
		if err := s.CompleteHandshake(p.Payload); err != nil {
			logging.Debugf("router: complete handshake from %s: %v", wire.PeerIDHex(p.SenderID), err)
			return
		}
		confirmPkt := wire.GenericMake(wire.TypeNoiseHandshakeResp, r.store.MyPeerID(), s.LocalEphemeralPub(), uint64(time.Now().UnixMilli()))
		data, err := wire.Encode(confirmPkt)
		if err != nil {
			logging.Debugf("router: encode handshake confirm to %s: %v", wire.PeerIDHex(p.SenderID), err)
			return
		}
		if err := r.relay.SendTo(fromLink, data); err != nil {
			logging.Debugf("router: send handshake confirm to %s: %v", wire.PeerIDHex(p.SenderID), err)
		}
	case session.RoleResponder:
		if s.State != session.StateInProgress {
			return
		}
		if err := s.CompleteHandshake(nil); err != nil {
			logging.Debugf("router: complete handshake from %s: %v", wire.PeerIDHex(p.SenderID), err)
		}
	default:
		logging.Debugf("router: handshake resp from %s with undetermined role", wire.PeerIDHex(p.SenderID))
	}
}

func (r *Router) handleNoiseEncrypted(p wire.Packet) {
	s, ok := r.sessions.Get(p.SenderID)
	if !ok || s.State != session.StateEstablished {
		logging.Debugf("router: encrypted packet from %s with no established session", wire.PeerIDHex(p.SenderID))
		return
	}
	if len(p.Payload) < 8 {
		return
	}
	counter := uint64(p.Payload[0])<<56 | uint64(p.Payload[1])<<48 | uint64(p.Payload[2])<<40 | uint64(p.Payload[3])<<32 |
		uint64(p.Payload[4])<<24 | uint64(p.Payload[5])<<16 | uint64(p.Payload[6])<<8 | uint64(p.Payload[7])
	plaintext, err := s.Open(counter, p.Payload[8:], p.SenderID[:])
	if err != nil {
		logging.Debugf("router: decrypt from %s: %v", wire.PeerIDHex(p.SenderID), err)
		return
	}
	msg, err := wire.DecodeChatMessage(plaintext)
	if err != nil {
		logging.Debugf("router: decode decrypted message from %s: %v", wire.PeerIDHex(p.SenderID), err)
		return
	}
	r.deliverIfScoped(msg, p.SenderID)
}

// relayIfAlive decrements TTL and forwards the packet to every neighbor
// except the sender's own link, unless TTL has already reached zero.
// Spec.md §4.4 defines the exclusion by the sender's peer id ("every
// currently connected neighbor except the peer whose hex id equals
// sender_id"), matching the original network_service.cpp's
// `peer.getPeerID() != senderID` check — so the excluded link is looked
// up from the peer table by p.SenderID rather than taken as fromLink
// verbatim. fromLink remains the fallback for a sender not yet in the
// peer table (e.g. its first packet, before any ANNOUNCE has recorded a
// LinkID for it).
func (r *Router) relayIfAlive(p wire.Packet, fromLink string) {
	if p.TTL == 0 {
		return
	}
	p.TTL--
	data, err := wire.Encode(p)
	if err != nil {
		logging.Debugf("router: re-encode for relay failed: %v", err)
		return
	}
	exceptLink := fromLink
	if rec, ok := r.store.Peer(p.SenderID); ok && rec.LinkID != "" {
		exceptLink = rec.LinkID
	}
	if err := r.relay.Forward(exceptLink, data); err != nil {
		logging.Debugf("router: relay forward failed: %v", err)
	}
}
