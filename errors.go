package opvault

import (
	"errors"

	"southwinds.dev/opvault/internal/opdata"
)

// Error kinds surfaced by the reader, the key hierarchy and the session.
// Each is a distinct sentinel so callers and tests can tell the failure
// modes apart; the messages are the only diagnostic detail that ever
// crosses a transport boundary (no file paths, offsets or stack frames).
var (
	// ErrMalformedWrapper indicates a profile or band file whose text
	// envelope matched neither the assignment nor the call-like form.
	ErrMalformedWrapper = errors.New("unrecognized container wrapper")

	// ErrMalformedProfile indicates a profile descriptor missing one of
	// its required fields (salt, iterations, master key, overview key).
	ErrMalformedProfile = errors.New("malformed vault profile")

	// ErrTooShort indicates an envelope smaller than its header plus tag.
	ErrTooShort = opdata.ErrTooShort

	// ErrBadMagic indicates an envelope without the opdata01 magic tag.
	ErrBadMagic = opdata.ErrBadMagic

	// ErrAuthFailed covers both a wrong master password and tampered
	// data at any level of the key hierarchy. The two are merged on
	// purpose; distinguishing them would hand an oracle to callers.
	ErrAuthFailed = opdata.ErrAuthFailed

	// ErrLengthOverflow indicates an envelope declaring more plaintext
	// than its ciphertext can hold.
	ErrLengthOverflow = opdata.ErrLengthOverflow

	// ErrItemNotFound indicates a lookup for a UUID the vault does not hold.
	ErrItemNotFound = errors.New("item not found")

	// ErrLocked indicates an operation that requires an unlocked session.
	ErrLocked = errors.New("vault is locked")
)
