package opvault

import (
	"context"
	"encoding/json"
	"time"
)

// Category is the two-or-three digit category code stored on every item.
type Category string

const (
	CategoryLogin           Category = "001"
	CategoryCreditCard      Category = "002"
	CategorySecureNote      Category = "003"
	CategoryIdentity        Category = "004"
	CategoryPassword        Category = "005"
	CategoryTombstone       Category = "099"
	CategorySoftwareLicense Category = "100"
	CategoryBankAccount     Category = "101"
	CategoryDatabase        Category = "102"
	CategoryDriverLicense   Category = "103"
	CategoryOutdoorLicense  Category = "104"
	CategoryMembership      Category = "105"
	CategoryPassport        Category = "106"
	CategoryRewardProgram   Category = "107"
	CategorySSN             Category = "108"
	CategoryWirelessRouter  Category = "109"
	CategoryServer          Category = "110"
	CategoryEmailAccount    Category = "111"
	CategoryAPICredential   Category = "112"
)

var categoryNames = map[Category]string{
	CategoryLogin:           "Login",
	CategoryCreditCard:      "Credit Card",
	CategorySecureNote:      "Secure Note",
	CategoryIdentity:        "Identity",
	CategoryPassword:        "Password",
	CategoryTombstone:       "Tombstone",
	CategorySoftwareLicense: "Software License",
	CategoryBankAccount:     "Bank Account",
	CategoryDatabase:        "Database",
	CategoryDriverLicense:   "Driver License",
	CategoryOutdoorLicense:  "Outdoor License",
	CategoryMembership:      "Membership",
	CategoryPassport:        "Passport",
	CategoryRewardProgram:   "Reward Program",
	CategorySSN:             "Social Security Number",
	CategoryWirelessRouter:  "Wireless Router",
	CategoryServer:          "Server",
	CategoryEmailAccount:    "Email Account",
	CategoryAPICredential:   "API Credential",
}

// DisplayName returns a human-readable name for the category, or "Unknown"
// for codes outside the known table.
func (c Category) DisplayName() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "Unknown"
}

// Profile holds the vault-wide cryptographic parameters parsed from the
// profile descriptor. All binary values are base64 strings exactly as they
// appear on disk; nothing in a Profile is secret on its own.
type Profile struct {
	UUID          string `json:"uuid"`
	ProfileName   string `json:"profileName"`
	Salt          string `json:"salt"`
	Iterations    int    `json:"iterations"`
	MasterKey     string `json:"masterKey"`
	OverviewKey   string `json:"overviewKey"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
	LastUpdatedBy string `json:"lastUpdatedBy"`
}

// RawItem is one encrypted record exactly as stored in a band shard. The
// UUID is the item's key in the shard map on disk, reattached at load time.
type RawItem struct {
	UUID     string   `json:"-"`
	Category Category `json:"category"`
	Overview string   `json:"o"`
	ItemKey  string   `json:"k"`
	Detail   string   `json:"d"`
	HMAC     string   `json:"hmac"`
	Created  int64    `json:"created"`
	Updated  int64    `json:"updated"`
	Tx       int64    `json:"tx"`
	Trashed  bool     `json:"trashed"`
	Fave     int64    `json:"fave"`
	Folder   string   `json:"folder"`
}

// URLEntry is one of the alternate URLs an overview may carry.
type URLEntry struct {
	URL   string `json:"u"`
	Label string `json:"l,omitempty"`
}

// ItemOverview is the decrypted lightweight metadata for an item. The
// on-disk JSON shape is loosely defined and varies by category, so the
// known attributes are named fields and everything else passes through
// untouched in Extra. Overviews carry no secret fields by format
// convention and are safe to cache for the unlocked session's lifetime.
type ItemOverview struct {
	Title string
	URL   string
	URLs  []URLEntry
	Ainfo string // account info hint, typically the username
	Tags  []string
	PS    int // password strength score

	Extra map[string]json.RawMessage
}

// UnmarshalJSON picks the known overview attributes and keeps unknown keys
// in Extra rather than dropping them.
func (o *ItemOverview) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known := func(key string, target interface{}) {
		if v, ok := raw[key]; ok {
			// Individually malformed attributes are tolerated; the rest of
			// the overview is still usable.
			_ = json.Unmarshal(v, target)
			delete(raw, key)
		}
	}

	known("title", &o.Title)
	known("url", &o.URL)
	known("URLs", &o.URLs)
	known("ainfo", &o.Ainfo)
	known("tags", &o.Tags)
	known("ps", &o.PS)

	if len(raw) > 0 {
		o.Extra = raw
	}
	return nil
}

// Field is one structured entry of an item's detail payload. Designation
// tags ("username", "password") mark the fields the credential resolution
// rule prefers over top-level defaults.
type Field struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Value       string `json:"value,omitempty"`
	Designation string `json:"designation,omitempty"`
}

// SectionField is one entry inside a detail section. Section fields use
// the single-letter keys of the container format (kind, name, title,
// value), unlike the top-level web-form fields.
type SectionField struct {
	Kind  string `json:"k,omitempty"`
	Name  string `json:"n,omitempty"`
	Title string `json:"t,omitempty"`
	Value string `json:"v,omitempty"`
}

// Section groups related structured fields in a detail payload.
type Section struct {
	Name   string         `json:"name,omitempty"`
	Title  string         `json:"title,omitempty"`
	Fields []SectionField `json:"fields,omitempty"`
}

// ItemDetail is the decrypted secret payload of an item. Details are never
// cached; every request re-derives the item key and re-decrypts.
type ItemDetail struct {
	Password   string
	NotesPlain string
	Fields     []Field
	Sections   []Section

	Extra map[string]json.RawMessage
}

// UnmarshalJSON mirrors ItemOverview: named attributes plus pass-through.
func (d *ItemDetail) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known := func(key string, target interface{}) {
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, target)
			delete(raw, key)
		}
	}

	known("password", &d.Password)
	known("notesPlain", &d.NotesPlain)
	known("fields", &d.Fields)
	known("sections", &d.Sections)

	if len(raw) > 0 {
		d.Extra = raw
	}
	return nil
}

// ItemSummary is a query result row sourced entirely from the cached
// overview index; producing one never touches detail ciphertext.
type ItemSummary struct {
	UUID     string `json:"uuid"`
	Title    string `json:"title"`
	Category string `json:"category"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
}

// Credentials is the resolved secret output of a fill/copy request.
type Credentials struct {
	UUID     string `json:"uuid"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Totp     string `json:"totp,omitempty"`
}

// Item is the full decrypted record returned by GetItem.
type Item struct {
	UUID     string       `json:"uuid"`
	Category string       `json:"category"`
	Overview ItemOverview `json:"-"`
	Detail   ItemDetail   `json:"-"`
}

// Service is the query/decrypt surface a transport layer sits in front of.
// Implementations return plain data structures only; key pairs and raw
// envelopes never cross this boundary.
type Service interface {
	// Unlock opens the vault at path with the master password and builds
	// the in-memory overview index. A non-zero idleTimeout arms auto-lock.
	Unlock(ctx context.Context, path, password string, idleTimeout time.Duration) error

	// Lock wipes all key material and discards the index. Idempotent.
	Lock()

	// IsUnlocked reports whether the session currently holds vault keys.
	IsUnlocked() bool

	// VaultPath returns the path of the currently unlocked vault, or "".
	VaultPath() string

	// ItemCount returns the number of indexed items, or 0 when locked.
	ItemCount() int

	// ListAll returns a summary row for every indexed item.
	ListAll() ([]ItemSummary, error)

	// FindByURL returns the summaries whose overview URL matches the query
	// under the domain-matching rule.
	FindByURL(url string) ([]ItemSummary, error)

	// GetCredentials decrypts one item's detail payload and resolves its
	// effective username and password.
	GetCredentials(uuid string) (*Credentials, error)

	// GetItem decrypts and returns one item's full detail payload.
	GetItem(uuid string) (*Item, error)
}
