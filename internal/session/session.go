// Package session implements the per-peer Noise-style handshake and
// transport-encryption state machine: role resolution, X25519 ephemeral
// key agreement, XChaCha20-Poly1305 AEAD framing, and rekey triggers.
package session

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"bitchatmesh/internal/wire"
)

// State is a session's position in the handshake lifecycle.
type State int

const (
	StateNone State = iota
	StateInProgress
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInProgress:
		return "in_progress"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// Role is which side of the handshake a node plays, resolved
// deterministically so both peers agree without an extra round trip.
type Role int

const (
	RoleUndetermined Role = iota
	RoleInitiator
	RoleResponder
)

// ResolveRole compares two hex-encoded peer ids lexicographically: the
// smaller id always initiates. Both peers compute this locally and always
// agree, since the comparison is symmetric. Used both for the handshake's
// own role assignment and, standalone, for NOISE_IDENTITY_ANNOUNCE's
// "smaller id initiates" rule.
func ResolveRole(localHex, remoteHex string) Role {
	switch strings.Compare(localHex, remoteHex) {
	case -1:
		return RoleInitiator
	case 1:
		return RoleResponder
	default:
		return RoleUndetermined
	}
}

// rekeyMessageThreshold is the soft limit past which NeedsRenegotiation
// reports true, prompting the caller to start a fresh handshake before the
// hard limit below is reached: 0.9 * 10^9 messages.
const rekeyMessageThreshold = 900_000_000

// rekeyHardLimit is the point past which Seal refuses to encrypt further
// messages under the same key: 10^9 messages/session.
const rekeyHardLimit = 1_000_000_000

// sessionTTL bounds how long an established session may live, regardless
// of activity, before it is considered expired and must be re-established:
// 24h per spec.md §5.
const sessionTTL = 24 * time.Hour

// handshakeTimeout bounds how long a handshake may sit InProgress without
// completing before it is abandoned, per spec.md §5: "Handshake messages
// older than 60s since session creation without progress are abandoned."
const handshakeTimeout = 60 * time.Second

// Session is one peer's established (or in-progress) encrypted channel.
type Session struct {
	mu sync.Mutex

	PeerID [wire.PeerIDSize]byte
	State  State
	Role   Role

	localEphemeral  *ecdh.PrivateKey
	localEphPub     []byte
	remoteEphPub    []byte
	transcript      []byte
	createdAt       time.Time
	establishedAt   time.Time
	lastActivity    time.Time

	sendKey   []byte
	recvKey   []byte
	nonceSend []byte
	nonceRecv []byte

	sendCounter uint64
	recvCounter uint64
	haveRecv    bool
}

// NewSession begins tracking peerID with no handshake material yet.
// createdAt starts here and never resets, since it is the "session
// creation" instant the 60s handshake timeout is measured from; the 24h
// session TTL is measured from establishedAt instead.
func NewSession(peerID [wire.PeerIDSize]byte) *Session {
	now := time.Now()
	return &Session{PeerID: peerID, State: StateNone, createdAt: now, lastActivity: now}
}

// StartHandshake generates a fresh local ephemeral X25519 keypair and moves
// the session to InProgress. Returns the ephemeral public key to embed in
// the outgoing NOISE_HANDSHAKE_INIT/RESP payload.
func (s *Session) StartHandshake(localPeerIDHex, remotePeerHex string) ([]byte, Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, RoleUndetermined, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}
	s.localEphemeral = priv
	s.localEphPub = priv.PublicKey().Bytes()
	s.Role = ResolveRole(localPeerIDHex, remotePeerHex)
	s.State = StateInProgress
	s.lastActivity = time.Now()
	return s.localEphPub, s.Role, nil
}

// LocalEphemeralPub returns the ephemeral public key generated by
// StartHandshake, for embedding in the outgoing handshake packet.
func (s *Session) LocalEphemeralPub() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.localEphPub...)
}

// StageRemoteEphemeral records the peer's ephemeral public key without
// deriving keys or leaving InProgress. A responder uses this to remember
// the initiator's key material from NOISE_HANDSHAKE_INIT while it waits
// for the initiator's final confirmation message, per spec.md §4.2's
// InProgress row: the responder does not reach Established on the first
// message alone.
func (s *Session) StageRemoteEphemeral(remoteEphPub []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteEphPub = append([]byte(nil), remoteEphPub...)
}

// CompleteHandshake consumes the remote party's ephemeral public key,
// derives the directional AEAD keys from the shared secret, and moves the
// session to Established. If remoteEphPub is nil, the key previously
// staged by StageRemoteEphemeral is used instead.
func (s *Session) CompleteHandshake(remoteEphPub []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateInProgress {
		return ErrInvalidState
	}
	if len(remoteEphPub) == 0 {
		remoteEphPub = s.remoteEphPub
	}
	if len(remoteEphPub) == 0 {
		return ErrInvalidHandshakeMessage
	}

	pub, err := ecdh.X25519().NewPublicKey(remoteEphPub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHandshakeMessage, err)
	}
	shared, err := s.localEphemeral.ECDH(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHandshakeMessage, err)
	}

	s.remoteEphPub = append([]byte(nil), remoteEphPub...)
	// Both sides hash the ephemeral keys in initiator-then-responder order,
	// so they arrive at the same transcript and the same master key.
	var transcript []byte
	if s.Role == RoleInitiator {
		transcript = append(append([]byte(nil), s.localEphPub...), remoteEphPub...)
	} else {
		transcript = append(append([]byte(nil), remoteEphPub...), s.localEphPub...)
	}
	s.transcript = transcript

	keys := deriveKeys(shared, transcript)
	if s.Role == RoleInitiator {
		s.sendKey, s.recvKey = keys.aToB, keys.bToA
		s.nonceSend, s.nonceRecv = keys.nonceAToB, keys.nonceBToA
	} else {
		s.sendKey, s.recvKey = keys.bToA, keys.aToB
		s.nonceSend, s.nonceRecv = keys.nonceBToA, keys.nonceAToB
	}

	s.State = StateEstablished
	s.establishedAt = time.Now()
	s.lastActivity = s.establishedAt
	s.localEphemeral = nil
	return nil
}

// Expired reports whether the session has passed sessionTTL since it was
// established, regardless of how recently it was used: spec.md §5 states
// sessions expire at 24h "regardless of activity", so this is measured
// from establishedAt, not lastActivity.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked()
}

func (s *Session) expiredLocked() bool {
	return s.State == StateEstablished && time.Since(s.establishedAt) > sessionTTL
}

// HandshakeTimedOut reports whether the session has sat InProgress past
// handshakeTimeout without completing.
func (s *Session) HandshakeTimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeTimedOutLocked()
}

func (s *Session) handshakeTimedOutLocked() bool {
	return s.State == StateInProgress && time.Since(s.createdAt) > handshakeTimeout
}

// LivenessError reports the reason, if any, a session should be dropped:
// ErrSessionExpired once an Established session passes sessionTTL, or
// ErrHandshakeTimeout once a handshake has stayed InProgress past
// handshakeTimeout, per spec.md §5. Returns nil for a healthy session.
func (s *Session) LivenessError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.expiredLocked():
		return ErrSessionExpired
	case s.handshakeTimedOutLocked():
		return ErrHandshakeTimeout
	default:
		return nil
	}
}

// NeedsRenegotiation reports whether the session has carried enough
// traffic, or lived long enough, that a fresh handshake should be started
// proactively: spec.md §8's rekey trigger is count >= 0.9e9 OR age >= 24h.
func (s *Session) NeedsRenegotiation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendCounter >= rekeyMessageThreshold {
		return true
	}
	return s.State == StateEstablished && time.Since(s.establishedAt) >= sessionTTL
}

// Seal encrypts plaintext under the session's send key, returning the
// ciphertext (with appended AEAD tag) and the monotonic counter it was
// sealed under; the caller must transmit that counter alongside the
// ciphertext so the peer's Open call can reconstruct the nonce. aad binds
// the ciphertext to out-of-band context such as the wire header.
func (s *Session) Seal(plaintext, aad []byte) (ciphertext []byte, counter uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateEstablished {
		return nil, 0, ErrInvalidState
	}
	if s.expiredLocked() {
		return nil, 0, ErrSessionExpired
	}
	if s.sendCounter >= rekeyHardLimit {
		return nil, 0, ErrMessageLimitExceeded
	}
	aead, err := chacha20poly1305.NewX(s.sendKey)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	counter = s.sendCounter
	nonce := nonceFromBase(s.nonceSend, counter)
	s.sendCounter++
	s.lastActivity = time.Now()
	return aead.Seal(nil, nonce, plaintext, aad), counter, nil
}

// Open decrypts a ciphertext produced by the peer's Seal call using
// counter, the monotonic sequence number the peer attached out of band.
// Rejects counters at or before the highest one already accepted.
//
// A session that has not yet completed its handshake has no AEAD keys to
// decrypt with at all, so per spec.md §8 scenario 4 ("attempting decrypt
// before completion yields InvalidCiphertext") this reports
// ErrInvalidCiphertext rather than ErrInvalidState — there is no
// ciphertext this session could ever have produced a valid one for.
func (s *Session) Open(counter uint64, ciphertext, aad []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateEstablished {
		return nil, ErrInvalidCiphertext
	}
	if s.expiredLocked() {
		return nil, ErrSessionExpired
	}
	if s.haveRecv && counter <= s.recvCounter {
		return nil, ErrInvalidCiphertext
	}
	aead, err := chacha20poly1305.NewX(s.recvKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	nonce := nonceFromBase(s.nonceRecv, counter)
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	s.recvCounter = counter
	s.haveRecv = true
	s.lastActivity = time.Now()
	return plaintext, nil
}

