package wire

import "crypto/rand"

// blockSizes are the fixed buckets padding rounds up to. Order matters:
// the first bucket the data fits in wins.
var blockSizes = [...]int{256, 512, 1024, 2048}

// encryptionHeadroom accounts for AEAD tag + nonce overhead a caller may
// still add after padding (e.g. wrapping the padded packet in a
// NOISE_ENCRYPTED envelope), so padding leaves room for it up front.
const encryptionHeadroom = 16

// pad appends PKCS#7-style filler so the total length lands on the
// smallest block size that still fits data+encryptionHeadroom. If no
// block size fits without exceeding 255 bytes of filler, data is
// returned unchanged (padding is skipped, never truncated).
func pad(data []byte) []byte {
	target := 0
	for _, sz := range blockSizes {
		if len(data)+encryptionHeadroom <= sz {
			target = sz
			break
		}
	}
	if target == 0 {
		return data
	}
	needed := target - len(data)
	if needed <= 0 {
		return data
	}
	if needed > 255 {
		return data
	}
	out := make([]byte, len(data), target)
	copy(out, data)
	if needed > 1 {
		filler := make([]byte, needed-1)
		_, _ = rand.Read(filler)
		out = append(out, filler...)
	}
	out = append(out, byte(needed))
	return out
}

// unpad strips the trailing PKCS#7-style filler in place. If the last
// byte does not look like a valid padding length (0 or larger than the
// buffer) the input is returned unchanged, since it wasn't padded.
func unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	n := int(data[len(data)-1])
	if n == 0 || n > len(data) {
		return data
	}
	return data[:len(data)-n]
}
