package opdata

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"
)

// retag recomputes the trailing MAC after a test mutates the header.
func retag(envelope, authKey []byte) {
	mac := hmac.New(sha256.New, authKey)
	mac.Write(envelope[:len(envelope)-tagSize])
	copy(envelope[len(envelope)-tagSize:], mac.Sum(nil))
}

func testKeys(t *testing.T) (cipherKey, authKey []byte) {
	t.Helper()
	cipherKey = make([]byte, KeySize)
	authKey = make([]byte, KeySize)
	if _, err := rand.Read(cipherKey); err != nil {
		t.Fatalf("Failed to generate cipher key: %v", err)
	}
	if _, err := rand.Read(authKey); err != nil {
		t.Fatalf("Failed to generate auth key: %v", err)
	}
	return cipherKey, authKey
}

func TestSealOpenRoundTrip(t *testing.T) {
	cipherKey, authKey := testKeys(t)

	testCases := [][]byte{
		[]byte("x"),                           // Below one block
		[]byte("exactly sixteen!"),            // Exactly one block
		[]byte("Hello, World! This is a longer plaintext spanning blocks"),
		[]byte("Unicode: こんにちは"),
		make([]byte, 4096), // Large payload
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("Case_%d", i), func(t *testing.T) {
			envelope, err := Seal(tc, cipherKey, authKey)
			if err != nil {
				t.Fatalf("Failed to seal: %v", err)
			}

			plaintext, err := Open(envelope, cipherKey, authKey)
			if err != nil {
				t.Fatalf("Failed to open: %v", err)
			}

			if !bytes.Equal(plaintext, tc) {
				t.Errorf("Round trip mismatch.\nExpected: %q\nGot: %q", tc, plaintext)
			}
		})
	}
}

func TestOpenTooShort(t *testing.T) {
	cipherKey, authKey := testKeys(t)

	// Any buffer under header+tag must fail the same way, content aside.
	for _, size := range []int{0, 1, 8, 32, MinEnvelopeSize - 1} {
		buf := make([]byte, size)
		copy(buf, Magic)
		if _, err := Open(buf, cipherKey, authKey); !errors.Is(err, ErrTooShort) {
			t.Errorf("size %d: expected ErrTooShort, got %v", size, err)
		}
	}
}

func TestOpenBadMagic(t *testing.T) {
	cipherKey, authKey := testKeys(t)

	envelope, err := Seal([]byte("payload"), cipherKey, authKey)
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}
	envelope[0] ^= 0xFF

	if _, err = Open(envelope, cipherKey, authKey); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
}

func TestOpenTamperDetection(t *testing.T) {
	cipherKey, authKey := testKeys(t)

	original, err := Seal([]byte("tamper detection payload"), cipherKey, authKey)
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	// Flipping any single byte after the magic must surface as an
	// authentication failure, never as a decrypted-but-wrong result.
	for offset := 8; offset < len(original); offset++ {
		tampered := make([]byte, len(original))
		copy(tampered, original)
		tampered[offset] ^= 0x01

		if _, err = Open(tampered, cipherKey, authKey); !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("offset %d: expected ErrAuthFailed, got %v", offset, err)
		}
	}
}

func TestOpenWrongKeys(t *testing.T) {
	cipherKey, authKey := testKeys(t)
	wrongCipher, wrongAuth := testKeys(t)

	envelope, err := Seal([]byte("secret"), cipherKey, authKey)
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	if _, err = Open(envelope, wrongCipher, wrongAuth); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong keys: expected ErrAuthFailed, got %v", err)
	}
	if _, err = Open(envelope, cipherKey, wrongAuth); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong auth key: expected ErrAuthFailed, got %v", err)
	}
}

func TestOpenLengthOverflow(t *testing.T) {
	cipherKey, authKey := testKeys(t)

	envelope, err := Seal([]byte("short"), cipherKey, authKey)
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	// Rewrite the declared length to exceed the ciphertext, then re-tag so
	// the MAC check passes and the length check is actually reached.
	envelope[8] = 0xFF
	envelope[9] = 0xFF
	retag(envelope, authKey)

	if _, err = Open(envelope, cipherKey, authKey); !errors.Is(err, ErrLengthOverflow) {
		t.Errorf("expected ErrLengthOverflow, got %v", err)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	kp1 := Derive([]byte("correct horse battery staple"), salt, 1000)
	kp2 := Derive([]byte("correct horse battery staple"), salt, 1000)
	defer kp1.Wipe()
	defer kp2.Wipe()

	if !bytes.Equal(kp1.Raw(), kp2.Raw()) {
		t.Error("identical inputs produced different key pairs")
	}
	if len(kp1.CipherKey()) != KeySize || len(kp1.AuthKey()) != KeySize {
		t.Errorf("unexpected key sizes: %d/%d", len(kp1.CipherKey()), len(kp1.AuthKey()))
	}
}

func TestDeriveDiverges(t *testing.T) {
	salt := []byte("0123456789abcdef")

	base := Derive([]byte("password-one"), salt, 1000)
	otherPassword := Derive([]byte("password-two"), salt, 1000)
	otherSalt := Derive([]byte("password-one"), []byte("fedcba9876543210"), 1000)
	otherIterations := Derive([]byte("password-one"), salt, 1001)
	defer base.Wipe()
	defer otherPassword.Wipe()
	defer otherSalt.Wipe()
	defer otherIterations.Wipe()

	if bytes.Equal(base.Raw(), otherPassword.Raw()) {
		t.Error("different passwords produced identical keys")
	}
	if bytes.Equal(base.Raw(), otherSalt.Raw()) {
		t.Error("different salts produced identical keys")
	}
	if bytes.Equal(base.Raw(), otherIterations.Raw()) {
		t.Error("different iteration counts produced identical keys")
	}
}

func TestKeyPairWipe(t *testing.T) {
	raw := make([]byte, KeyPairSize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("Failed to generate key material: %v", err)
	}

	kp, err := NewKeyPair(raw)
	if err != nil {
		t.Fatalf("Failed to create key pair: %v", err)
	}

	kp.Wipe()
	for i, b := range kp.Raw() {
		if b != 0 {
			t.Fatalf("byte %d not zeroed after Wipe", i)
		}
	}

	// Wiping twice must be safe.
	kp.Wipe()
}

func TestHashToKeyPair(t *testing.T) {
	seed := []byte("seed material for vault keys")

	kp1 := HashToKeyPair(seed)
	kp2 := HashToKeyPair(seed)
	defer kp1.Wipe()
	defer kp2.Wipe()

	if !bytes.Equal(kp1.Raw(), kp2.Raw()) {
		t.Error("hashing the same seed produced different pairs")
	}
	if bytes.Equal(kp1.CipherKey(), kp1.AuthKey()) {
		t.Error("cipher and auth halves should differ")
	}
}
