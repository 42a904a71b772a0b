package wire

import (
	"encoding/binary"
)

// Encode serializes p to its wire form: header, sender/recipient ids,
// optionally-compressed payload, optional signature, then padding.
func Encode(p Packet) ([]byte, error) {
	flags := byte(0)
	if p.HasRecipient {
		flags |= FlagHasRecipient
	}
	if p.HasSignature {
		flags |= FlagHasSignature
	}

	payloadField := p.Payload
	if compressed, ok := maybeCompress(p.Payload); ok {
		payloadField = compressed
		flags |= FlagIsCompressed
	}

	size := HeaderSize + PeerIDSize
	if p.HasRecipient {
		size += PeerIDSize
	}
	size += len(payloadField)
	if p.HasSignature {
		size += SignatureSize
	}

	buf := make([]byte, size)
	off := 0
	buf[off] = p.Version
	off++
	buf[off] = byte(p.Type)
	off++
	buf[off] = p.TTL
	off++
	binary.BigEndian.PutUint64(buf[off:off+8], p.TimestampMS)
	off += 8
	buf[off] = flags
	off++
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(payloadField)))
	off += 2

	copy(buf[off:off+PeerIDSize], p.SenderID[:])
	off += PeerIDSize

	if p.HasRecipient {
		copy(buf[off:off+PeerIDSize], p.RecipientID[:])
		off += PeerIDSize
	}

	copy(buf[off:off+len(payloadField)], payloadField)
	off += len(payloadField)

	if p.HasSignature {
		copy(buf[off:off+SignatureSize], p.Signature[:])
		off += SignatureSize
	}

	return pad(buf), nil
}

// Decode parses the wire form back into a Packet, stripping padding first.
func Decode(data []byte) (Packet, error) {
	unpadded := unpad(data)
	if len(unpadded) < MinPacketSize {
		return Packet{}, decodeErr(ErrTooShort, 0)
	}

	off := 0
	version := unpadded[off]
	off++
	if version != Version {
		return Packet{}, decodeErr(ErrUnsupportedVersion, off-1)
	}
	typ := PacketType(unpadded[off])
	off++
	ttl := unpadded[off]
	off++
	ts := binary.BigEndian.Uint64(unpadded[off : off+8])
	off += 8
	flags := unpadded[off]
	off++
	payloadLen := int(binary.BigEndian.Uint16(unpadded[off : off+2]))
	off += 2

	hasRecipient := flags&FlagHasRecipient != 0
	hasSignature := flags&FlagHasSignature != 0
	isCompressed := flags&FlagIsCompressed != 0

	expected := HeaderSize + PeerIDSize
	if hasRecipient {
		expected += PeerIDSize
	}
	expected += payloadLen
	if hasSignature {
		expected += SignatureSize
	}
	if expected != len(unpadded) {
		return Packet{}, decodeErr(ErrSizeMismatch, off)
	}

	if off+PeerIDSize > len(unpadded) {
		return Packet{}, decodeErr(ErrTruncatedField, off)
	}
	var sender [PeerIDSize]byte
	copy(sender[:], unpadded[off:off+PeerIDSize])
	off += PeerIDSize

	var recipient [PeerIDSize]byte
	if hasRecipient {
		if off+PeerIDSize > len(unpadded) {
			return Packet{}, decodeErr(ErrTruncatedField, off)
		}
		copy(recipient[:], unpadded[off:off+PeerIDSize])
		off += PeerIDSize
	}

	if off+payloadLen > len(unpadded) {
		return Packet{}, decodeErr(ErrTruncatedField, off)
	}
	payloadField := unpadded[off : off+payloadLen]
	off += payloadLen

	var payload []byte
	if isCompressed {
		if payloadLen < 2 {
			return Packet{}, decodeErr(ErrTruncatedField, off)
		}
		originalSize := int(binary.BigEndian.Uint16(payloadField[:2]))
		decoded, err := DefaultCompressor.Decompress(payloadField[2:], originalSize)
		if err != nil {
			return Packet{}, decodeErr(ErrDecompressionFailed, off)
		}
		payload = decoded
	} else {
		payload = make([]byte, len(payloadField))
		copy(payload, payloadField)
	}

	var sig [SignatureSize]byte
	if hasSignature {
		if off+SignatureSize > len(unpadded) {
			return Packet{}, decodeErr(ErrTruncatedField, off)
		}
		copy(sig[:], unpadded[off:off+SignatureSize])
		off += SignatureSize
	}

	return Packet{
		Version:      version,
		Type:         typ,
		TTL:          ttl,
		TimestampMS:  ts,
		SenderID:     sender,
		HasRecipient: hasRecipient,
		RecipientID:  recipient,
		Payload:      payload,
		HasSignature: hasSignature,
		Signature:    sig,
	}, nil
}
