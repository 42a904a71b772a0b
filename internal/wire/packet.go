// Package wire implements the bitchat-mesh binary packet format: header
// layout, optional LZ4 payload compression, and PKCS#7-style padding to a
// fixed set of block sizes for traffic-analysis resistance.
package wire

import (
	"encoding/hex"
	"regexp"
)

// PacketType is the single-byte wire discriminant for a Packet.
type PacketType uint8

const (
	TypeAnnounce PacketType = 0x01
	TypeLeave    PacketType = 0x03
	TypeMessage  PacketType = 0x04

	TypeFragmentStart    PacketType = 0x05
	TypeFragmentContinue PacketType = 0x06
	TypeFragmentEnd      PacketType = 0x07

	TypeChannelAnnounce      PacketType = 0x08
	TypeDeliveryAck          PacketType = 0x0A
	TypeDeliveryStatusReq    PacketType = 0x0B
	TypeReadReceipt          PacketType = 0x0C
	TypeNoiseHandshakeInit   PacketType = 0x10
	TypeNoiseHandshakeResp   PacketType = 0x11
	TypeNoiseEncrypted       PacketType = 0x12
	TypeNoiseIdentityAnnounce PacketType = 0x13

	TypeChannelKeyVerifyRequest  PacketType = 0x14
	TypeChannelKeyVerifyResponse PacketType = 0x15
	TypeChannelKeyUpdate         PacketType = 0x16
	TypeChannelMetadata          PacketType = 0x17

	TypeVersionHello PacketType = 0x20
	TypeVersionAck   PacketType = 0x21
)

// String returns a human-readable label for logging only; it is never
// part of the wire representation. Mirrors BitchatPacket::getTypeString
// from the reference implementation.
func (t PacketType) String() string {
	switch t {
	case TypeAnnounce:
		return "ANNOUNCE"
	case TypeLeave:
		return "LEAVE"
	case TypeMessage:
		return "MESSAGE"
	case TypeFragmentStart:
		return "FRAGMENT_START"
	case TypeFragmentContinue:
		return "FRAGMENT_CONTINUE"
	case TypeFragmentEnd:
		return "FRAGMENT_END"
	case TypeChannelAnnounce:
		return "CHANNEL_ANNOUNCE"
	case TypeDeliveryAck:
		return "DELIVERY_ACK"
	case TypeDeliveryStatusReq:
		return "DELIVERY_STATUS_REQUEST"
	case TypeReadReceipt:
		return "READ_RECEIPT"
	case TypeNoiseHandshakeInit:
		return "NOISE_HANDSHAKE_INIT"
	case TypeNoiseHandshakeResp:
		return "NOISE_HANDSHAKE_RESP"
	case TypeNoiseEncrypted:
		return "NOISE_ENCRYPTED"
	case TypeNoiseIdentityAnnounce:
		return "NOISE_IDENTITY_ANNOUNCE"
	case TypeChannelKeyVerifyRequest:
		return "CHANNEL_KEY_VERIFY_REQUEST"
	case TypeChannelKeyVerifyResponse:
		return "CHANNEL_KEY_VERIFY_RESPONSE"
	case TypeChannelKeyUpdate:
		return "CHANNEL_PASSWORD_UPDATE"
	case TypeChannelMetadata:
		return "CHANNEL_METADATA"
	case TypeVersionHello:
		return "VERSION_HELLO"
	case TypeVersionAck:
		return "VERSION_ACK"
	default:
		return "UNKNOWN"
	}
}

// Flag bits within the header's single flags byte.
const (
	FlagHasRecipient byte = 1 << 0
	FlagHasSignature byte = 1 << 1
	FlagIsCompressed byte = 1 << 2
)

const (
	// Version is the only wire version this codec accepts.
	Version = 1

	// PeerIDSize is the fixed width of sender/recipient id fields on the wire.
	PeerIDSize = 8

	// SignatureSize is the fixed width of an Ed25519 signature.
	SignatureSize = 64

	// HeaderSize covers version+type+ttl+timestamp+flags+payload-length,
	// before the sender id.
	HeaderSize = 1 + 1 + 1 + 8 + 1 + 2

	// MinPacketSize is HeaderSize + sender id, the smallest legal unpadded packet.
	MinPacketSize = HeaderSize + PeerIDSize

	// DefaultTTL is used by newly originated ANNOUNCE-class packets.
	DefaultTTL = 7

	// GenericTTL is used by GenericMake for arbitrary node-originated packets.
	GenericTTL = 6
)

// BroadcastRecipient is the all-ones recipient id meaning "everyone".
var BroadcastRecipient = [PeerIDSize]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Packet is the decoded form of one wire unit.
type Packet struct {
	Version       uint8
	Type          PacketType
	TTL           uint8
	TimestampMS   uint64
	SenderID      [PeerIDSize]byte
	HasRecipient  bool
	RecipientID   [PeerIDSize]byte
	Payload       []byte
	HasSignature  bool
	Signature     [SignatureSize]byte
}

// NewPacket builds a packet with sane defaults (version 1, TTL 7).
func NewPacket(typ PacketType, sender [PeerIDSize]byte, payload []byte, timestampMS uint64) Packet {
	return Packet{
		Version:     Version,
		Type:        typ,
		TTL:         DefaultTTL,
		TimestampMS: timestampMS,
		SenderID:    sender,
		Payload:     payload,
	}
}

// GenericMake mirrors "packets this node originates via generic make-packet"
// from the spec: TTL 6 instead of the announce-class default of 7.
func GenericMake(typ PacketType, sender [PeerIDSize]byte, payload []byte, timestampMS uint64) Packet {
	p := NewPacket(typ, sender, payload, timestampMS)
	p.TTL = GenericTTL
	return p
}

// IsBroadcast reports whether the recipient field is the all-ones sentinel.
func (p Packet) IsBroadcast() bool {
	return p.HasRecipient && p.RecipientID == BroadcastRecipient
}

// PeerIDHex renders an 8-byte peer id as its 16-character lowercase hex form.
func PeerIDHex(id [PeerIDSize]byte) string {
	return hex.EncodeToString(id[:])
}

// ParsePeerIDHex parses a 16-character hex peer id string.
func ParsePeerIDHex(s string) ([PeerIDSize]byte, bool) {
	var out [PeerIDSize]byte
	if len(s) != PeerIDSize*2 {
		return out, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

var (
	channelNameRe = regexp.MustCompile(`^#[A-Za-z0-9_-]{0,49}$`)
	nicknameRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
)

// ValidChannelName reports whether s satisfies the channel-name grammar:
// starts with '#', total length <= 50, body alphanumeric/_/-.
func ValidChannelName(s string) bool {
	return channelNameRe.MatchString(s)
}

// ValidNickname reports whether s satisfies the nickname grammar:
// non-empty, length <= 32, alphanumeric/_/-.
func ValidNickname(s string) bool {
	return nicknameRe.MatchString(s)
}

// ValidPeerIDHex reports whether s is exactly 16 hex digits.
func ValidPeerIDHex(s string) bool {
	_, ok := ParsePeerIDHex(s)
	return ok
}
