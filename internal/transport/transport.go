// Package transport defines the link-layer contract the mesh engine runs
// on top of, plus three implementations: an in-process MemoryTransport for
// tests, a QUIC-backed StreamTransport grounded on the teacher's dev-TLS
// QUIC networking code, and a length-prefixed TCPTransport for transports
// with no native message framing.
package transport

import "context"

// Callbacks are invoked by a Transport as link-level events occur. All
// three may be called concurrently from different goroutines.
type Callbacks struct {
	OnPacketReceived  func(linkID string, data []byte)
	OnPeerConnected   func(linkID string)
	OnPeerDisconnected func(linkID string)
}

// Transport is the mesh engine's view of the network: it doesn't know or
// care whether links are BLE GATT connections, QUIC streams, or in-memory
// channels, only that it can send bytes and be told when bytes arrive.
type Transport interface {
	// Init wires callbacks before Start is called.
	Init(cb Callbacks) error
	// Start begins accepting/establishing links. Blocks until ctx is
	// canceled or a fatal error occurs.
	Start(ctx context.Context) error
	// Stop tears down all links and releases resources.
	Stop() error
	// Send broadcasts data to every connected link.
	Send(data []byte) error
	// SendTo sends data to a single link, identified by the id passed to
	// OnPeerConnected/OnPacketReceived.
	SendTo(linkID string, data []byte) error
	// SendExcept broadcasts data to every connected link other than
	// exceptLinkID, used by the mesh relay to avoid echoing a packet back
	// to the neighbor it just arrived from.
	SendExcept(exceptLinkID string, data []byte) error
	// IsReady reports whether the transport can currently send.
	IsReady() bool
	// ConnectedCount reports the number of currently connected links.
	ConnectedCount() int
}
