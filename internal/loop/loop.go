// Package loop runs the mesh node's periodic background work: announcing
// presence and sweeping stale peers, following the teacher's
// ticker-plus-context.Done() connection-manager pattern.
package loop

import (
	"context"
	"time"

	"bitchatmesh/internal/logging"
	"bitchatmesh/internal/state"
	"bitchatmesh/internal/wire"
)

const (
	// AnnounceInterval is how often the node re-broadcasts its presence.
	AnnounceInterval = 15 * time.Second
	// CleanupInterval is how often the node sweeps its peer table for
	// entries that have gone stale.
	CleanupInterval = 30 * time.Second
	// StalePeerTTL is how long a peer may go without a fresh ANNOUNCE
	// before the cleanup loop evicts it.
	StalePeerTTL = 180 * time.Second
)

// Sender is the narrow capability the loops need to emit packets.
type Sender interface {
	Send(data []byte) error
}

// Runner drives the announce and cleanup loops for one node.
type Runner struct {
	store  *state.Store
	sender Sender

	OnPeerEvicted func(peerID [wire.PeerIDSize]byte)

	// EvictSessions, if set, is called once per cleanup cycle to sweep the
	// session table for sessions past their 24h TTL or 60s handshake
	// timeout (session.Store.EvictExpired), returning the number removed.
	EvictSessions func() int

	// OnCleanupTick fires once at the end of every cleanup cycle,
	// regardless of whether any peer was evicted, for callers that piggyback
	// periodic work (e.g. writing a metrics/peer snapshot to disk) on the
	// existing ticker rather than running one of their own.
	OnCleanupTick func()
}

// New wires a Runner to the node's shared state and outbound sender.
func New(store *state.Store, sender Sender) *Runner {
	return &Runner{store: store, sender: sender}
}

// RunAnnounce broadcasts an ANNOUNCE packet immediately, then every
// AnnounceInterval, until ctx is canceled.
func (r *Runner) RunAnnounce(ctx context.Context) {
	r.announce()
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.announce()
		}
	}
}

func (r *Runner) announce() {
	nickname := r.store.Nickname()
	p := wire.NewPacket(wire.TypeAnnounce, r.store.MyPeerID(), []byte(nickname), uint64(time.Now().UnixMilli()))
	data, err := wire.Encode(p)
	if err != nil {
		logging.Debugf("loop: encode announce failed: %v", err)
		return
	}
	if err := r.sender.Send(data); err != nil {
		logging.Debugf("loop: send announce failed: %v", err)
	}
}

// RunCleanup sweeps stale peers every CleanupInterval until ctx is canceled.
func (r *Runner) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *Runner) cleanup() {
	now := uint64(time.Now().UnixMilli())
	evicted := r.store.EvictStale(now, StalePeerTTL)
	for _, id := range evicted {
		logging.Debugf("loop: evicted stale peer %s", wire.PeerIDHex(id))
		if r.OnPeerEvicted != nil {
			r.OnPeerEvicted(id)
		}
	}
	if r.EvictSessions != nil {
		if n := r.EvictSessions(); n > 0 {
			logging.Debugf("loop: evicted %d expired/timed-out session(s)", n)
		}
	}
	if r.OnCleanupTick != nil {
		r.OnCleanupTick()
	}
}
