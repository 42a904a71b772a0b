package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"bitchatmesh/internal/state"
	"bitchatmesh/internal/wire"
)

// Metrics tracks node-level counters with atomics, following the
// teacher's pattern of lock-free counters plus a JSON snapshot for
// external inspection.
type Metrics struct {
	packetsSent      atomic.Uint64
	packetsRelayed   atomic.Uint64
	packetsDedup     atomic.Uint64
	packetsDropped   atomic.Uint64
	handshakesOK     atomic.Uint64
	handshakesFailed atomic.Uint64
	peersEvicted     atomic.Uint64
}

// Snapshot is the JSON-serializable view of a Metrics at a point in time.
type Snapshot struct {
	GeneratedAt      time.Time `json:"generated_at"`
	PacketsSent      uint64    `json:"packets_sent"`
	PacketsRelayed   uint64    `json:"packets_relayed"`
	PacketsDedup     uint64    `json:"packets_dedup"`
	PacketsDropped   uint64    `json:"packets_dropped"`
	HandshakesOK     uint64    `json:"handshakes_ok"`
	HandshakesFailed uint64    `json:"handshakes_failed"`
	PeersEvicted     uint64    `json:"peers_evicted"`
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncPacketsSent()      { m.packetsSent.Add(1) }
func (m *Metrics) IncPacketsRelayed()   { m.packetsRelayed.Add(1) }
func (m *Metrics) IncPacketsDedup()     { m.packetsDedup.Add(1) }
func (m *Metrics) IncPacketsDropped()   { m.packetsDropped.Add(1) }
func (m *Metrics) IncHandshakesOK()     { m.handshakesOK.Add(1) }
func (m *Metrics) IncHandshakesFailed() { m.handshakesFailed.Add(1) }
func (m *Metrics) IncPeersEvicted()     { m.peersEvicted.Add(1) }

// Snapshot renders the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt:      time.Now(),
		PacketsSent:      m.packetsSent.Load(),
		PacketsRelayed:   m.packetsRelayed.Load(),
		PacketsDedup:     m.packetsDedup.Load(),
		PacketsDropped:   m.packetsDropped.Load(),
		HandshakesOK:     m.handshakesOK.Load(),
		HandshakesFailed: m.handshakesFailed.Load(),
		PeersEvicted:     m.peersEvicted.Load(),
	}
}

// MarshalJSON lets a Metrics value be logged or served directly.
func (m *Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// WriteSnapshot marshals the current counters and writes them to path,
// following the teacher's metrics.WriteSnapshot pattern so a `status` CLI
// subcommand can read the node's counters off disk without a live IPC
// connection to the running daemon.
func (m *Metrics) WriteSnapshot(path string) error {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("mesh: marshal metrics snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("mesh: write metrics snapshot: %w", err)
	}
	return nil
}

// PeerSnapshot is a JSON-friendly rendering of state.PeerRecord for the
// `peers` CLI subcommand, hex-encoding the peer id rather than exposing
// the raw byte array.
type PeerSnapshot struct {
	PeerID     string `json:"peer_id"`
	LinkID     string `json:"link_id"`
	Nickname   string `json:"nickname"`
	Channel    string `json:"channel"`
	LastSeenMS uint64 `json:"last_seen_ms"`
	RSSI       int    `json:"rssi"`
	Announced  bool   `json:"announced"`
}

// WritePeersSnapshot renders peers as JSON and writes them to path.
func WritePeersSnapshot(path string, peers []state.PeerRecord) error {
	out := make([]PeerSnapshot, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerSnapshot{
			PeerID:     wire.PeerIDHex(p.PeerID),
			LinkID:     p.LinkID,
			Nickname:   p.Nickname,
			Channel:    p.Channel,
			LastSeenMS: p.LastSeenMS,
			RSSI:       p.RSSI,
			Announced:  p.Announced,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("mesh: marshal peers snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("mesh: write peers snapshot: %w", err)
	}
	return nil
}
