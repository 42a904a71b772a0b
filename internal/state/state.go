// Package state holds the mesh node's shared in-memory state: the known
// peer table, per-channel message history, and the packet-dedup set. All
// of it lives behind a single mutex, following the teacher's peer store
// shape (an LRU list + map) but simplified: this mesh has no on-disk
// persistence requirement for peer identity, only bounded history/dedup.
package state

import (
	"container/list"
	"sync"
	"time"

	"bitchatmesh/internal/wire"
)

// PeerRecord is what the node remembers about a peer it has heard from.
type PeerRecord struct {
	PeerID      [wire.PeerIDSize]byte
	LinkID      string // transport-link id, assigned by the transport adapter
	Nickname    string
	Channel     string // current channel the peer has announced joining
	LastSeenMS  uint64
	FirstSeenMS uint64
	RSSI        int  // signal strength; DefaultRSSI until a transport reports one
	Announced   bool // set once the peer's ANNOUNCE has been seen
}

// HistoryEntry is one delivered chat message retained for a channel's
// scrollback.
type HistoryEntry struct {
	Message wire.ChatMessage
	Channel string
}

const (
	// DefaultPeerTTL is how long a peer record survives without a fresh
	// ANNOUNCE before the cleanup loop evicts it.
	DefaultPeerTTL = 180 * time.Second

	// historyCap bounds per-channel scrollback retention.
	historyCap = 1000

	// dedupCap bounds the fingerprint set; once it would be exceeded the
	// whole set is cleared, trading a short dedup blind spot for O(1)
	// bookkeeping instead of per-entry expiry.
	dedupCap = 1000

	// DefaultRSSI is the signal strength a newly discovered peer starts
	// at before any transport reports a real reading.
	DefaultRSSI = -100
)

// Store is the mutex-guarded shared state a mesh node's router, relay,
// and loops all read and mutate.
type Store struct {
	mu sync.Mutex

	myPeerID    [wire.PeerIDSize]byte
	nickname    string
	currentChan string

	peerOrder *list.List
	peerIndex map[[wire.PeerIDSize]byte]*list.Element

	history map[string][]HistoryEntry

	seen     map[string]struct{}
	seenList []string
}

type peerElem struct {
	rec PeerRecord
}

// New returns an empty Store for the local node identified by myPeerID.
func New(myPeerID [wire.PeerIDSize]byte, nickname string) *Store {
	return &Store{
		myPeerID:  myPeerID,
		nickname:  nickname,
		peerOrder: list.New(),
		peerIndex: make(map[[wire.PeerIDSize]byte]*list.Element),
		history:   make(map[string][]HistoryEntry),
		seen:      make(map[string]struct{}),
	}
}

// MyPeerID returns the local node's peer id.
func (s *Store) MyPeerID() [wire.PeerIDSize]byte {
	return s.myPeerID
}

// Nickname returns the local node's display nickname.
func (s *Store) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// SetNickname updates the local node's display nickname.
func (s *Store) SetNickname(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nickname = nick
}

// CurrentChannel returns the channel the local node is currently focused on.
func (s *Store) CurrentChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChan
}

// SetCurrentChannel updates the focused channel.
func (s *Store) SetCurrentChannel(ch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentChan = ch
}

// UpsertPeer records or refreshes a peer's announce info, moving it to the
// front of the LRU order.
func (s *Store) UpsertPeer(rec PeerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.peerIndex[rec.PeerID]; ok {
		existing := el.Value.(*peerElem)
		if existing.rec.FirstSeenMS != 0 {
			rec.FirstSeenMS = existing.rec.FirstSeenMS
		}
		existing.rec = rec
		s.peerOrder.MoveToFront(el)
		return
	}
	el := s.peerOrder.PushFront(&peerElem{rec: rec})
	s.peerIndex[rec.PeerID] = el
}

// Peer returns the record for peerID, if known.
func (s *Store) Peer(peerID [wire.PeerIDSize]byte) (PeerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.peerIndex[peerID]
	if !ok {
		return PeerRecord{}, false
	}
	return el.Value.(*peerElem).rec, true
}

// RemovePeer drops a peer's record, e.g. on receiving LEAVE.
func (s *Store) RemovePeer(peerID [wire.PeerIDSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.peerIndex[peerID]
	if !ok {
		return
	}
	s.peerOrder.Remove(el)
	delete(s.peerIndex, peerID)
}

// Peers returns a snapshot of every known peer record.
func (s *Store) Peers() []PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerRecord, 0, s.peerOrder.Len())
	for el := s.peerOrder.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*peerElem).rec)
	}
	return out
}

// EvictStale removes every peer whose LastSeenMS is older than ttl relative
// to nowMS, returning the evicted peer ids.
func (s *Store) EvictStale(nowMS uint64, ttl time.Duration) [][wire.PeerIDSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttlMS := uint64(ttl.Milliseconds())
	var evicted [][wire.PeerIDSize]byte
	var next *list.Element
	for el := s.peerOrder.Front(); el != nil; el = next {
		next = el.Next()
		rec := el.Value.(*peerElem).rec
		if nowMS > rec.LastSeenMS && nowMS-rec.LastSeenMS > ttlMS {
			s.peerOrder.Remove(el)
			delete(s.peerIndex, rec.PeerID)
			evicted = append(evicted, rec.PeerID)
		}
	}
	return evicted
}

// AppendHistory records a delivered message in channel's scrollback,
// evicting the oldest entry once historyCap is exceeded.
func (s *Store) AppendHistory(channel string, entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[channel]
	h = append(h, entry)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	s.history[channel] = h
}

// History returns a snapshot of channel's retained scrollback.
func (s *Store) History(channel string) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[channel]
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}

// SeenAndMark reports whether fingerprint has already been recorded, and
// if not, records it. Once the dedup set reaches dedupCap it is cleared
// wholesale rather than evicted piecewise.
func (s *Store) SeenAndMark(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[fingerprint]; ok {
		return true
	}
	if len(s.seenList) >= dedupCap {
		s.seen = make(map[string]struct{}, dedupCap)
		s.seenList = s.seenList[:0]
	}
	s.seen[fingerprint] = struct{}{}
	s.seenList = append(s.seenList, fingerprint)
	return false
}
