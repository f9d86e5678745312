// Package opdata implements the authenticated binary envelope used at every
// level of the container's key hierarchy, plus the password key derivation
// that bootstraps it.
//
// Envelope layout (all offsets fixed):
//
//	[ 8 bytes] magic "opdata01"
//	[ 8 bytes] plaintext length, little-endian (low 32 bits meaningful)
//	[16 bytes] AES initialization vector
//	[N bytes ] AES-256-CBC ciphertext, block aligned
//	[32 bytes] HMAC-SHA256 tag over every byte preceding it
//
// The codec is encrypt-then-MAC: the tag is verified before any decryption
// runs, and a failed verification is indistinguishable from a wrong
// password by design. The format pads the front of the plaintext with
// random filler rather than using a standard trailing padding scheme, so
// the true plaintext is the last declared-length bytes of the decrypted
// buffer.
package opdata

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic is the fixed 8-byte tag opening every envelope.
	Magic = "opdata01"

	headerSize = 8 + 8 + 16 // magic + declared length + IV
	tagSize    = sha256.Size

	// MinEnvelopeSize is the smallest byte count Open will even look at.
	MinEnvelopeSize = headerSize + tagSize

	// KeySize is the length of a single cipher or auth key.
	KeySize = 32
)

var (
	// ErrTooShort indicates the envelope is smaller than header plus tag.
	ErrTooShort = errors.New("encrypted data too short")

	// ErrBadMagic indicates the envelope does not open with the magic tag.
	ErrBadMagic = errors.New("unrecognized data header")

	// ErrAuthFailed indicates tag verification failed. It covers both a
	// wrong password and tampered data; the two are deliberately merged so
	// callers cannot be used as an oracle for which layer failed.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrLengthOverflow indicates the declared plaintext length exceeds the
	// decrypted buffer.
	ErrLengthOverflow = errors.New("declared length exceeds data")
)

// Open verifies and decrypts an envelope, failing closed.
//
// Verification order is security-critical and fixed: size, magic, MAC,
// and only then decryption. The returned slice is freshly allocated and
// owned by the caller; callers holding secrets should wipe it after use.
func Open(envelope, cipherKey, authKey []byte) ([]byte, error) {
	if len(envelope) < MinEnvelopeSize {
		return nil, ErrTooShort
	}
	if !bytes.Equal(envelope[:8], []byte(Magic)) {
		return nil, ErrBadMagic
	}

	body := envelope[:len(envelope)-tagSize]
	tag := envelope[len(envelope)-tagSize:]

	mac := hmac.New(sha256.New, authKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, ErrAuthFailed
	}

	// The full 8 bytes are read so the IV offset stays correct even though
	// only the low 32 bits of the length are ever meaningful.
	declared := binary.LittleEndian.Uint64(envelope[8:16])
	iv := envelope[16:headerSize]
	ciphertext := body[headerSize:]

	// An authenticated envelope always carries block-aligned ciphertext;
	// anything else is treated the same as a verification failure.
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrAuthFailed
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	decrypted := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, ciphertext)

	if declared > uint64(len(decrypted)) {
		wipe(decrypted)
		return nil, ErrLengthOverflow
	}

	plaintext := make([]byte, declared)
	copy(plaintext, decrypted[uint64(len(decrypted))-declared:])
	wipe(decrypted)

	return plaintext, nil
}

// Seal builds a well-formed envelope around plaintext. The front of the
// plaintext is padded with 1-16 random filler bytes up to a block boundary,
// matching the convention Open expects.
func Seal(plaintext, cipherKey, authKey []byte) ([]byte, error) {
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	if padLen == 0 {
		padLen = aes.BlockSize
	}

	padded := make([]byte, padLen+len(plaintext))
	if _, err := rand.Read(padded[:padLen]); err != nil {
		return nil, fmt.Errorf("failed to generate padding: %w", err)
	}
	copy(padded[padLen:], plaintext)
	defer wipe(padded)

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	envelope := make([]byte, headerSize+len(padded)+tagSize)
	copy(envelope[:8], Magic)
	binary.LittleEndian.PutUint64(envelope[8:16], uint64(len(plaintext)))
	copy(envelope[16:headerSize], iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(envelope[headerSize:headerSize+len(padded)], padded)

	mac := hmac.New(sha256.New, authKey)
	mac.Write(envelope[:headerSize+len(padded)])
	copy(envelope[headerSize+len(padded):], mac.Sum(nil))

	return envelope, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
