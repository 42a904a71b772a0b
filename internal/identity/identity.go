// Package identity holds a node's long-lived cryptographic material: an
// Ed25519 signing keypair, a static X25519 keypair for Noise-style session
// establishment, and the random 8-byte peer id derived from neither.
package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"bitchatmesh/internal/wire"
)

// Identity is a node's full set of long-lived keys.
type Identity struct {
	PeerID [wire.PeerIDSize]byte

	SigningPub  ed25519.PublicKey
	signingPriv ed25519.PrivateKey

	staticPriv *ecdh.PrivateKey
	StaticPub  []byte // X25519 public key bytes
}

// New generates a fresh Identity: a random peer id plus fresh Ed25519 and
// X25519 keypairs. The peer id is not derived from either public key, per
// the wire format's definition of peer id as opaque random bytes.
func New() (*Identity, error) {
	var peerID [wire.PeerIDSize]byte
	if _, err := rand.Read(peerID[:]); err != nil {
		return nil, fmt.Errorf("identity: generate peer id: %w", err)
	}

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}

	staticPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate static key: %w", err)
	}

	return &Identity{
		PeerID:      peerID,
		SigningPub:  signPub,
		signingPriv: signPriv,
		staticPriv:  staticPriv,
		StaticPub:   staticPriv.PublicKey().Bytes(),
	}, nil
}

// PeerIDHex renders the peer id as its 16-char lowercase hex form.
func (id *Identity) PeerIDHex() string {
	return wire.PeerIDHex(id.PeerID)
}

// Sign produces a 64-byte Ed25519 signature over msg, matching the wire
// format's fixed-width signature field.
func (id *Identity) Sign(msg []byte) [wire.SignatureSize]byte {
	var out [wire.SignatureSize]byte
	sig := ed25519.Sign(id.signingPriv, msg)
	copy(out[:], sig)
	return out
}

// Verify checks a signature produced by Sign against the given public key.
func Verify(pub ed25519.PublicKey, msg []byte, sig [wire.SignatureSize]byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig[:])
}

// ECDH performs the X25519 agreement against a peer's static public key.
func (id *Identity) ECDH(peerStaticPub []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(peerStaticPub)
	if err != nil {
		return nil, fmt.Errorf("identity: bad peer static key: %w", err)
	}
	shared, err := id.staticPriv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("identity: ecdh: %w", err)
	}
	return shared, nil
}

// KeyFileName is the single PEM-encoded file an identity is persisted to,
// per spec.md §6: "The core persists only the local static key to a file
// named bitchat-pk.pem". Alongside the static X25519 key, this file also
// carries the Ed25519 signing key and the peer id itself as separate PEM
// blocks, so a restart keeps the same identity instead of only the same
// static key; losing peer-id continuity across restarts would break every
// peer's existing view of this node for no benefit spec.md asks for.
const KeyFileName = "bitchat-pk.pem"

const (
	blockTypeStaticKey  = "X25519 PRIVATE KEY"
	blockTypeSigningKey = "ED25519 PRIVATE KEY"
	blockTypePeerID     = "PEER ID"
)

// Save writes id's key material to dir/bitchat-pk.pem as three PEM
// blocks, creating dir if needed. File permissions restrict the whole
// file to the owner, since it carries private key material.
func Save(dir string, id *Identity) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("identity: mkdir %s: %w", dir, err)
	}

	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: blockTypeStaticKey, Bytes: id.staticPriv.Bytes()})...)
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: blockTypeSigningKey, Bytes: id.signingPriv})...)
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: blockTypePeerID, Bytes: id.PeerID[:]})...)

	path := filepath.Join(dir, KeyFileName)
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

// Load reads an Identity previously written by Save.
func Load(dir string) (*Identity, error) {
	path := filepath.Join(dir, KeyFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var staticPrivBytes, signPriv []byte
	var peerID [wire.PeerIDSize]byte
	var havePeerID bool

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case blockTypeStaticKey:
			staticPrivBytes = block.Bytes
		case blockTypeSigningKey:
			signPriv = block.Bytes
		case blockTypePeerID:
			if len(block.Bytes) != wire.PeerIDSize {
				return nil, fmt.Errorf("identity: bad %s block in %s", blockTypePeerID, path)
			}
			copy(peerID[:], block.Bytes)
			havePeerID = true
		}
	}
	if staticPrivBytes == nil {
		return nil, fmt.Errorf("identity: missing %s block in %s", blockTypeStaticKey, path)
	}
	if signPriv == nil {
		return nil, fmt.Errorf("identity: missing %s block in %s", blockTypeSigningKey, path)
	}
	if !havePeerID {
		return nil, fmt.Errorf("identity: missing %s block in %s", blockTypePeerID, path)
	}

	staticPriv, err := ecdh.X25519().NewPrivateKey(staticPrivBytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse static key: %w", err)
	}
	signingPriv := ed25519.PrivateKey(signPriv)

	return &Identity{
		PeerID:      peerID,
		SigningPub:  signingPriv.Public().(ed25519.PublicKey),
		signingPriv: signingPriv,
		staticPriv:  staticPriv,
		StaticPub:   staticPriv.PublicKey().Bytes(),
	}, nil
}

// LoadOrCreate loads an Identity from dir if present, otherwise generates
// and persists a fresh one.
func LoadOrCreate(dir string) (*Identity, error) {
	if _, err := os.Stat(filepath.Join(dir, KeyFileName)); err == nil {
		return Load(dir)
	}
	id, err := New()
	if err != nil {
		return nil, err
	}
	if err := Save(dir, id); err != nil {
		return nil, err
	}
	return id, nil
}
