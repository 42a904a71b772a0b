package router

import (
	"strconv"

	"bitchatmesh/internal/wire"
)

// fingerprint identifies a packet for dedup purposes: spec.md §4.3 defines
// the dedup key literally as hex(sender_id) + "_" + timestamp — ties are
// tolerated by design, since the router re-keys by sender+timestamp alone
// rather than folding in type or payload. Two distinct packets from the
// same sender sharing a timestamp collide on purpose; only the first is
// processed.
func fingerprint(p wire.Packet) string {
	return wire.PeerIDHex(p.SenderID) + "_" + strconv.FormatUint(p.TimestampMS, 10)
}
