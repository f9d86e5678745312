package opvault

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"southwinds.dev/opvault/internal/opdata"
)

func derivedFixtureKeys() *opdata.KeyPair {
	return opdata.Derive([]byte(fixturePassword), patternBytes(0x5A, 16), fixtureIterations)
}

func TestUnwrapVaultKey(t *testing.T) {
	derived := derivedFixtureKeys()
	seed := patternBytes(0xC3, 256)

	envelope, err := opdata.Seal(seed, derived.CipherKey(), derived.AuthKey())
	require.NoError(t, err)
	blob := base64.StdEncoding.EncodeToString(envelope)

	pair, err := unwrapVaultKey(blob, derived)
	require.NoError(t, err)

	// The unwrapped pair is the hash of the seed, not the seed itself.
	want := opdata.HashToKeyPair(patternBytes(0xC3, 256))
	assert.Equal(t, want.CipherKey(), pair.CipherKey())
	assert.Equal(t, want.AuthKey(), pair.AuthKey())
}

func TestUnwrapVaultKeyWrongKeys(t *testing.T) {
	derived := derivedFixtureKeys()
	seed := patternBytes(0xC3, 256)

	envelope, err := opdata.Seal(seed, derived.CipherKey(), derived.AuthKey())
	require.NoError(t, err)
	blob := base64.StdEncoding.EncodeToString(envelope)

	other := opdata.Derive([]byte("another password"), patternBytes(0x5A, 16), fixtureIterations)
	_, err = unwrapVaultKey(blob, other)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestUnwrapVaultKeyBadEncoding(t *testing.T) {
	_, err := unwrapVaultKey("!!! not base64 !!!", derivedFixtureKeys())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestUnwrapItemKey(t *testing.T) {
	v := newTestVault(t)
	itemKey := patternBytes(0x77, opdata.KeyPairSize)
	blob := v.wrapItemKey(t, itemKey)

	pair, err := unwrapItemKey(blob, v.masterPair)
	require.NoError(t, err)
	assert.Equal(t, itemKey[:opdata.KeySize], pair.CipherKey())
	assert.Equal(t, itemKey[opdata.KeySize:], pair.AuthKey())
}

func TestUnwrapItemKeyWrongMaster(t *testing.T) {
	v := newTestVault(t)
	blob := v.wrapItemKey(t, patternBytes(0x77, opdata.KeyPairSize))

	other := opdata.HashToKeyPair(patternBytes(0xEE, 256))
	_, err := unwrapItemKey(blob, other)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestUnwrapItemKeyWrongSize(t *testing.T) {
	v := newTestVault(t)

	short := base64.StdEncoding.EncodeToString(patternBytes(0x01, 64))
	_, err := unwrapItemKey(short, v.masterPair)
	assert.ErrorIs(t, err, ErrAuthFailed)

	long := base64.StdEncoding.EncodeToString(patternBytes(0x01, 128))
	_, err = unwrapItemKey(long, v.masterPair)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestUnwrapItemKeyTampered(t *testing.T) {
	v := newTestVault(t)
	blob := v.wrapItemKey(t, patternBytes(0x77, opdata.KeyPairSize))

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	for _, offset := range []int{0, 20, len(raw) - 1} {
		tampered := append([]byte(nil), raw...)
		tampered[offset] ^= 0x01
		_, err := unwrapItemKey(base64.StdEncoding.EncodeToString(tampered), v.masterPair)
		assert.ErrorIs(t, err, ErrAuthFailed, "offset %d", offset)
	}
}

func TestUnwrapItemPayload(t *testing.T) {
	keys := opdata.HashToKeyPair(patternBytes(0x42, 256))
	doc := map[string]interface{}{"password": "pw", "notesPlain": "n"}
	plaintext, err := json.Marshal(doc)
	require.NoError(t, err)

	envelope, err := opdata.Seal(plaintext, keys.CipherKey(), keys.AuthKey())
	require.NoError(t, err)
	blob := base64.StdEncoding.EncodeToString(envelope)

	got, err := unwrapItemPayload(blob, keys)
	require.NoError(t, err)
	assert.JSONEq(t, string(plaintext), string(got))
}

func TestUnwrapItemPayloadWrongKeys(t *testing.T) {
	keys := opdata.HashToKeyPair(patternBytes(0x42, 256))
	envelope, err := opdata.Seal([]byte(`{"password":"pw"}`), keys.CipherKey(), keys.AuthKey())
	require.NoError(t, err)
	blob := base64.StdEncoding.EncodeToString(envelope)

	other := opdata.HashToKeyPair(patternBytes(0x43, 256))
	_, err = unwrapItemPayload(blob, other)
	assert.ErrorIs(t, err, ErrAuthFailed)
}
