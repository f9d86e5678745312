package opvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/awnumar/memguard"
	"southwinds.dev/opvault/internal/opdata"
)

// Key hierarchy resolver. Three unwrap stages chain the password-derived
// key pair down to item plaintext:
//
//	derived keys -> vault master / overview key pairs
//	master keys  -> per-item key pair
//	item keys    -> item payload JSON
//
// Every failure in here, whatever the stage, surfaces as ErrAuthFailed.
// A wrong password and tampered data are indistinguishable on purpose so
// callers cannot probe which layer rejected them.

// unwrapVaultKey unwraps an encrypted vault-level key blob (master or
// overview) with the password-derived keys. The unwrapped plaintext is a
// seed, not the keys themselves: the format derives the final pair by
// hashing the seed with SHA-512 and splitting the digest. That extra step
// is mandatory.
func unwrapVaultKey(blob string, derived *opdata.KeyPair) (*opdata.KeyPair, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrAuthFailed
	}

	seed, err := opdata.Open(raw, derived.CipherKey(), derived.AuthKey())
	if err != nil {
		return nil, ErrAuthFailed
	}

	pair := opdata.HashToKeyPair(seed)
	memguard.WipeBytes(seed)
	return pair, nil
}

// itemKeyBlobSize is IV(16) + ciphertext(64) + tag(32): the item-key blob
// is not a general envelope but a fixed-size raw construction.
const itemKeyBlobSize = aes.BlockSize + opdata.KeyPairSize + sha256.Size

// unwrapItemKey unwraps one item's key blob with the vault master keys.
// The tag covers IV plus ciphertext and is checked before decryption. The
// ciphertext is already exactly the final key-pair length, so unlike the
// general envelope there is no declared length and no trim step, and the
// decrypted 64 bytes split directly into cipher/auth keys with no hashing.
func unwrapItemKey(blob string, master *opdata.KeyPair) (*opdata.KeyPair, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrAuthFailed
	}
	if len(raw) != itemKeyBlobSize {
		return nil, ErrAuthFailed
	}

	body := raw[:itemKeyBlobSize-sha256.Size]
	tag := raw[itemKeyBlobSize-sha256.Size:]

	mac := hmac.New(sha256.New, master.AuthKey())
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, ErrAuthFailed
	}

	block, err := aes.NewCipher(master.CipherKey())
	if err != nil {
		return nil, ErrAuthFailed
	}

	iv := body[:aes.BlockSize]
	keyBytes := make([]byte, opdata.KeyPairSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(keyBytes, body[aes.BlockSize:])

	pair, err := opdata.NewKeyPair(keyBytes)
	if err != nil {
		memguard.WipeBytes(keyBytes)
		return nil, ErrAuthFailed
	}
	return pair, nil
}

// unwrapItemPayload opens an item's overview or detail blob with the given
// keys and returns the plaintext JSON bytes. The caller owns the returned
// buffer; for detail payloads it should be wiped once parsed.
func unwrapItemPayload(blob string, keys *opdata.KeyPair) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrAuthFailed
	}

	plaintext, err := opdata.Open(raw, keys.CipherKey(), keys.AuthKey())
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
