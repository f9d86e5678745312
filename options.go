package opvault

import (
	"fmt"

	"southwinds.dev/opvault/audit"
	"southwinds.dev/opvault/persist"
)

// Options configures a Session at construction time.
//
// Sessions never hold a master password: the password arrives per Unlock
// call and is consumed by key derivation immediately, so there is nothing
// secret to configure here and the whole structure is safe to serialize.
type Options struct {
	// Audit receives one event per session operation. A nil logger is
	// replaced with a no-op implementation so audit calls never fail on
	// nil access.
	Audit audit.Logger `json:"-"`

	// StoreFactory turns the vault path handed to Unlock into a container
	// store. When nil, the path is treated as a local filesystem
	// directory. Callers reading containers out of object storage supply
	// a factory returning a persist.S3Store instead.
	StoreFactory func(path string) (persist.Store, error) `json:"-"`

	// EnableMemoryLock controls the best-effort attempt to lock process
	// memory so key material cannot be swapped to disk. Failure to lock
	// is a warning, not an error; enclave protection still applies.
	EnableMemoryLock bool `json:"enable_memory_lock"`
}

// Validate validates the Options configuration
func (o Options) Validate() error {
	// No field is mandatory today; construction still fails fast here if
	// that ever changes.
	return nil
}

func defaultStoreFactory(path string) (persist.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("vault path cannot be empty")
	}
	return persist.NewFileSystemStore(path)
}
