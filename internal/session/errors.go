package session

import "errors"

// Sentinel errors for the handshake and transport-encryption state machine.
var (
	ErrInvalidHandshakeMessage = errors.New("session: invalid handshake message")
	ErrInvalidPeerID           = errors.New("session: invalid peer id")
	ErrKeyGenerationFailed     = errors.New("session: key generation failed")
	ErrSessionExpired          = errors.New("session: session expired")
	ErrMessageLimitExceeded    = errors.New("session: message limit exceeded, rekey required")
	ErrInvalidCiphertext       = errors.New("session: invalid ciphertext")
	ErrHandshakeTimeout        = errors.New("session: handshake timed out")
	ErrInvalidState            = errors.New("session: operation invalid in current state")
	ErrUnsupportedAlgorithm    = errors.New("session: unsupported algorithm")
)
