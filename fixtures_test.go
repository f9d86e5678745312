package opvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"southwinds.dev/opvault/internal/opdata"
)

// Fixture container builder. Tests construct a complete synthetic vault on
// disk with known keys so the unlock and query paths run end to end against
// real files, real envelopes and a real password derivation. Iterations are
// kept low to keep the derivation fast.
const (
	fixturePassword   = "correct horse battery staple"
	fixtureIterations = 1000
	fixtureVaultUUID  = "2B894A18997C4638BACC55F2D56A4890"
)

type testVault struct {
	path         string
	salt         []byte
	masterPair   *opdata.KeyPair
	overviewPair *opdata.KeyPair
	profile      map[string]interface{}
}

// fixtureItem describes one item to place in a band shard. Overview and
// detail are the plaintext JSON documents to encrypt.
type fixtureItem struct {
	uuid     string
	category Category
	trashed  bool
	overview map[string]interface{}
	detail   map[string]interface{}
}

// patternBytes fills a buffer with a per-fixture byte pattern so distinct
// keys and seeds never collide.
func patternBytes(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// newTestVault builds a valid container on disk under a temp directory and
// returns the vault-level key pairs needed to author items into it.
func newTestVault(t *testing.T) *testVault {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "default"), 0o755))

	salt := patternBytes(0x5A, 16)
	derived := opdata.Derive([]byte(fixturePassword), salt, fixtureIterations)

	masterSeed := patternBytes(0xA1, 256)
	overviewSeed := patternBytes(0xB2, 256)

	masterBlob, err := opdata.Seal(masterSeed, derived.CipherKey(), derived.AuthKey())
	require.NoError(t, err)
	overviewBlob, err := opdata.Seal(overviewSeed, derived.CipherKey(), derived.AuthKey())
	require.NoError(t, err)

	v := &testVault{
		path:         dir,
		salt:         salt,
		masterPair:   opdata.HashToKeyPair(masterSeed),
		overviewPair: opdata.HashToKeyPair(overviewSeed),
	}

	v.profile = map[string]interface{}{
		"uuid":        fixtureVaultUUID,
		"profileName": "default",
		"salt":        base64.StdEncoding.EncodeToString(salt),
		"iterations":  fixtureIterations,
		"masterKey":   base64.StdEncoding.EncodeToString(masterBlob),
		"overviewKey": base64.StdEncoding.EncodeToString(overviewBlob),
		"createdAt":   1373753414,
		"updatedAt":   1373753414,
	}
	v.writeProfile(t, v.profile)
	return v
}

// writeProfile serializes a profile map inside the assignment-style wrapper.
func (v *testVault) writeProfile(t *testing.T, profile map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(profile)
	require.NoError(t, err)
	content := profilePrefix + string(data) + profileSuffix
	path := filepath.Join(v.path, "default", "profile.js")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// wrapItemKey encrypts a 64-byte item key pair under the vault master keys:
// IV plus raw CBC ciphertext plus a tag over both, with no length header.
func (v *testVault) wrapItemKey(t *testing.T, itemKey []byte) string {
	t.Helper()
	require.Len(t, itemKey, opdata.KeyPairSize)

	iv := patternBytes(0x11, aes.BlockSize)
	block, err := aes.NewCipher(v.masterPair.CipherKey())
	require.NoError(t, err)

	ct := make([]byte, len(itemKey))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, itemKey)

	mac := hmac.New(sha256.New, v.masterPair.AuthKey())
	mac.Write(iv)
	mac.Write(ct)

	blob := make([]byte, 0, len(iv)+len(ct)+sha256.Size)
	blob = append(blob, iv...)
	blob = append(blob, ct...)
	blob = append(blob, mac.Sum(nil)...)
	return base64.StdEncoding.EncodeToString(blob)
}

// sealJSON marshals a document and seals it with the given key halves.
func sealJSON(t *testing.T, doc map[string]interface{}, cipherKey, authKey []byte) string {
	t.Helper()
	plaintext, err := json.Marshal(doc)
	require.NoError(t, err)
	envelope, err := opdata.Seal(plaintext, cipherKey, authKey)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(envelope)
}

// encodeItem builds the on-disk record for one fixture item. The item key
// is derived from the UUID so every item gets a distinct key pair.
func (v *testVault) encodeItem(t *testing.T, it fixtureItem) map[string]interface{} {
	t.Helper()

	itemKey := patternBytes(it.uuid[0], opdata.KeyPairSize)
	category := it.category
	if category == "" {
		category = CategoryLogin
	}

	record := map[string]interface{}{
		"category": string(category),
		"k":        v.wrapItemKey(t, itemKey),
		"o":        sealJSON(t, it.overview, v.overviewPair.CipherKey(), v.overviewPair.AuthKey()),
		"d":        sealJSON(t, it.detail, itemKey[:opdata.KeySize], itemKey[opdata.KeySize:]),
		"created":  1373753600,
		"updated":  1373753600,
		"tx":       1373753600,
	}
	if it.trashed {
		record["trashed"] = true
	}
	return record
}

// writeBandRaw writes a shard of pre-encoded records, for tests that need
// to corrupt a record after encoding.
func (v *testVault) writeBandRaw(t *testing.T, name string, shard map[string]map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(shard)
	require.NoError(t, err)
	content := bandPrefix + string(data) + bandSuffix
	path := filepath.Join(v.path, "default", name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// writeBand writes one shard file containing the given items.
func (v *testVault) writeBand(t *testing.T, name string, items ...fixtureItem) {
	t.Helper()

	shard := make(map[string]map[string]interface{}, len(items))
	for _, it := range items {
		shard[it.uuid] = v.encodeItem(t, it)
	}

	data, err := json.Marshal(shard)
	require.NoError(t, err)
	content := bandPrefix + string(data) + bandSuffix
	path := filepath.Join(v.path, "default", name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// loginItem is the common case: one login with a website, username hint and
// top-level password.
func loginItem(uuid, title, site, username, password string) fixtureItem {
	return fixtureItem{
		uuid:     uuid,
		category: CategoryLogin,
		overview: map[string]interface{}{
			"title": title,
			"url":   site,
			"ainfo": username,
		},
		detail: map[string]interface{}{
			"password": password,
		},
	}
}
