package opdata

import (
	"crypto/sha512"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"
)

// KeyPairSize is the raw length of a cipher+auth key pair.
const KeyPairSize = 2 * KeySize

// KeyPair holds one cipher/auth key pair of the hierarchy. The first 32
// bytes are the cipher key, the last 32 the auth key. The pair owns its
// backing array; Wipe zeroes it and every path that finishes with a pair
// must call it, including error paths.
type KeyPair struct {
	raw []byte
}

// NewKeyPair takes ownership of a 64-byte buffer. The caller must not
// retain or reuse raw after the call.
func NewKeyPair(raw []byte) (*KeyPair, error) {
	if len(raw) != KeyPairSize {
		return nil, fmt.Errorf("key pair must be %d bytes, got %d", KeyPairSize, len(raw))
	}
	return &KeyPair{raw: raw}, nil
}

// CipherKey returns the encryption half. The slice aliases the pair's
// backing array and dies with it on Wipe.
func (k *KeyPair) CipherKey() []byte { return k.raw[:KeySize] }

// AuthKey returns the authentication half.
func (k *KeyPair) AuthKey() []byte { return k.raw[KeySize:] }

// Raw returns the full 64-byte backing buffer.
func (k *KeyPair) Raw() []byte { return k.raw }

// Wipe overwrites the key material with zeros. Safe to call more than once.
func (k *KeyPair) Wipe() {
	memguard.WipeBytes(k.raw)
}

// Derive turns a master password, salt and iteration count into a key
// pair using PBKDF2 with HMAC-SHA512 as the pseudorandom function. The
// derivation is deterministic; identical inputs always yield identical
// pairs, which is what makes the downstream HMAC check meaningful.
func Derive(password, salt []byte, iterations int) *KeyPair {
	raw := pbkdf2.Key(password, salt, iterations, KeyPairSize, sha512.New)
	return &KeyPair{raw: raw}
}

// HashToKeyPair derives a final vault-level key pair from unwrapped seed
// material by hashing it with SHA-512 and splitting the digest. The format
// requires this extra step at the vault level; it is not optional.
func HashToKeyPair(seed []byte) *KeyPair {
	sum := sha512.Sum512(seed)
	raw := make([]byte, KeyPairSize)
	copy(raw, sum[:])
	memguard.WipeBytes(sum[:])
	return &KeyPair{raw: raw}
}
