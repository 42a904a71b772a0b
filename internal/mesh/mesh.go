// Package mesh wires identity, shared state, sessions, the router, the
// background loops, and a transport into one running node, the way the
// teacher's Node/Runner pair wires its own peer store, session store, and
// connection manager together.
package mesh

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"bitchatmesh/internal/identity"
	"bitchatmesh/internal/loop"
	"bitchatmesh/internal/logging"
	"bitchatmesh/internal/router"
	"bitchatmesh/internal/session"
	"bitchatmesh/internal/state"
	"bitchatmesh/internal/transport"
	"bitchatmesh/internal/wire"
)

// MetricsFileName and PeersFileName are the on-disk snapshot files a
// running node keeps refreshed under IdentityDir, so the `status` and
// `peers` CLI subcommands can read a live node's state without an IPC
// connection to the daemon.
const (
	MetricsFileName = "metrics.json"
	PeersFileName   = "peers.json"
)

// Options configures a new Engine. Zero values fall back to sane
// defaults, following the teacher's Options-struct convention.
type Options struct {
	// IdentityDir is where the node's long-lived keys persist across
	// restarts. Empty means "in memory only, regenerate every start".
	IdentityDir string
	Nickname    string
	Transport   transport.Transport

	Callbacks router.Callbacks
}

// Engine is one running mesh node.
type Engine struct {
	id       *identity.Identity
	store    *state.Store
	sessions *session.Store
	router   *router.Router
	loops    *loop.Runner
	tr       transport.Transport
	metrics  *Metrics
	homeDir  string
}

type relayAdapter struct {
	tr      transport.Transport
	metrics *Metrics
}

func (r relayAdapter) Forward(fromLink string, data []byte) error {
	if err := r.tr.SendExcept(fromLink, data); err != nil {
		return err
	}
	r.metrics.IncPacketsRelayed()
	return nil
}

func (r relayAdapter) SendTo(linkID string, data []byte) error {
	return r.tr.SendTo(linkID, data)
}

// New builds an Engine from opts, loading or generating identity as needed.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("mesh: Options.Transport is required")
	}

	var id *identity.Identity
	var err error
	if opts.IdentityDir != "" {
		id, err = identity.LoadOrCreate(opts.IdentityDir)
	} else {
		id, err = identity.New()
	}
	if err != nil {
		return nil, fmt.Errorf("mesh: identity: %w", err)
	}

	nickname := opts.Nickname
	if nickname == "" {
		nickname = "anon-" + id.PeerIDHex()[:8]
	}

	store := state.New(id.PeerID, nickname)
	sessions := session.NewStore()
	metrics := NewMetrics()

	relay := relayAdapter{tr: opts.Transport, metrics: metrics}

	cb := opts.Callbacks
	userDuplicate := cb.OnDuplicate
	cb.OnDuplicate = func() {
		metrics.IncPacketsDedup()
		if userDuplicate != nil {
			userDuplicate()
		}
	}
	r := router.New(store, sessions, relay, cb)
	loops := loop.New(store, opts.Transport)
	loops.OnPeerEvicted = func(peerID [wire.PeerIDSize]byte) {
		metrics.IncPeersEvicted()
		sessions.Drop(peerID)
	}
	loops.EvictSessions = sessions.EvictExpired

	e := &Engine{id: id, store: store, sessions: sessions, router: r, loops: loops, tr: opts.Transport, metrics: metrics, homeDir: opts.IdentityDir}
	loops.OnCleanupTick = e.snapshotToDisk

	if err := opts.Transport.Init(transport.Callbacks{
		OnPacketReceived: e.handlePacket,
		OnPeerConnected: func(linkID string) {
			logging.Debugf("mesh: link connected %s", linkID)
			e.sendIdentityAnnounce(linkID)
		},
		OnPeerDisconnected: func(linkID string) {
			logging.Debugf("mesh: link disconnected %s", linkID)
		},
	}); err != nil {
		return nil, fmt.Errorf("mesh: transport init: %w", err)
	}

	return e, nil
}

// sendIdentityAnnounce emits a NOISE_IDENTITY_ANNOUNCE to a newly connected
// link, the mechanism spec.md §4.3 relies on for peers to bootstrap an
// encrypted session automatically rather than requiring a manual
// StartHandshake call: on receipt, the peer with the smaller id initiates.
func (e *Engine) sendIdentityAnnounce(linkID string) {
	p := wire.GenericMake(wire.TypeNoiseIdentityAnnounce, e.id.PeerID, nil, uint64(time.Now().UnixMilli()))
	data, err := wire.Encode(p)
	if err != nil {
		logging.Debugf("mesh: encode identity announce: %v", err)
		return
	}
	if err := e.tr.SendTo(linkID, data); err != nil {
		logging.Debugf("mesh: send identity announce to %s: %v", linkID, err)
	}
}

// snapshotToDisk writes the node's current metrics and peer table to
// IdentityDir, following the teacher's periodic on-disk snapshot pattern.
// A no-op when the engine was built without a persistent IdentityDir.
func (e *Engine) snapshotToDisk() {
	if e.homeDir == "" {
		return
	}
	if err := e.metrics.WriteSnapshot(filepath.Join(e.homeDir, MetricsFileName)); err != nil {
		logging.Debugf("mesh: write metrics snapshot: %v", err)
	}
	if err := WritePeersSnapshot(filepath.Join(e.homeDir, PeersFileName), e.store.Peers()); err != nil {
		logging.Debugf("mesh: write peers snapshot: %v", err)
	}
}

// Identity exposes the node's identity for callers that need the peer id
// or signing key (e.g. a CLI printing "you are <id>").
func (e *Engine) Identity() *identity.Identity { return e.id }

// Store exposes the shared state for read-only inspection (peer list,
// channel history) by a UI layer.
func (e *Engine) Store() *state.Store { return e.store }

// Metrics exposes the running counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

func (e *Engine) handlePacket(linkID string, data []byte) {
	p, err := wire.Decode(data)
	if err != nil {
		logging.Debugf("mesh: drop malformed packet from %s: %v", linkID, err)
		e.metrics.IncPacketsDropped()
		return
	}
	if err := e.router.Process(p, linkID); err != nil {
		logging.Debugf("mesh: process packet from %s: %v", linkID, err)
	}
}

// Run starts the transport and the background loops, blocking until ctx
// is canceled.
func (e *Engine) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.tr.Start(ctx)
	}()
	go e.loops.RunAnnounce(ctx)
	go e.loops.RunCleanup(ctx)

	select {
	case <-ctx.Done():
		_ = e.tr.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// SendChannelMessage broadcasts a plaintext MESSAGE to the given channel
// (empty channel means the public/default channel).
func (e *Engine) SendChannelMessage(channel, content string) error {
	msg := wire.ChatMessage{
		ID:             fmt.Sprintf("%x", time.Now().UnixNano()),
		SenderNickname: e.store.Nickname(),
		Content:        content,
		TimestampMS:    uint64(time.Now().UnixMilli()),
		Channel:        channel,
	}
	payload, err := wire.EncodeChatMessage(msg)
	if err != nil {
		return fmt.Errorf("mesh: encode message: %w", err)
	}
	p := wire.NewPacket(wire.TypeMessage, e.id.PeerID, payload, msg.TimestampMS)
	p.HasRecipient = true
	p.RecipientID = wire.BroadcastRecipient

	data, err := wire.Encode(p)
	if err != nil {
		return fmt.Errorf("mesh: encode packet: %w", err)
	}
	if err := e.tr.Send(data); err != nil {
		return fmt.Errorf("mesh: send: %w", err)
	}
	e.metrics.IncPacketsSent()
	if channel == "" {
		channel = "#public"
	}
	e.store.AppendHistory(channel, state.HistoryEntry{Message: msg, Channel: channel})
	return nil
}

// StartHandshake initiates a Noise-style handshake with peerID, sending
// the resulting NOISE_HANDSHAKE_INIT packet over the transport.
func (e *Engine) StartHandshake(peerID [wire.PeerIDSize]byte) error {
	rec, ok := e.store.Peer(peerID)
	if !ok || rec.LinkID == "" {
		return fmt.Errorf("mesh: start handshake: no known link for peer %s", wire.PeerIDHex(peerID))
	}
	s := e.sessions.GetOrCreate(peerID)
	ephPub, _, err := s.StartHandshake(e.id.PeerIDHex(), wire.PeerIDHex(peerID))
	if err != nil {
		e.metrics.IncHandshakesFailed()
		return fmt.Errorf("mesh: start handshake: %w", err)
	}
	p := wire.GenericMake(wire.TypeNoiseHandshakeInit, e.id.PeerID, ephPub, uint64(time.Now().UnixMilli()))
	p.HasRecipient = true
	p.RecipientID = peerID
	data, err := wire.Encode(p)
	if err != nil {
		return fmt.Errorf("mesh: encode handshake init: %w", err)
	}
	if err := e.tr.SendTo(rec.LinkID, data); err != nil {
		return fmt.Errorf("mesh: send handshake init: %w", err)
	}
	e.metrics.IncHandshakesOK()
	return nil
}
