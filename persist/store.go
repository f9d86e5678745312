package persist

import (
	"errors"
	"regexp"
)

// ProfileFileName is the name of the vault's profile descriptor.
const ProfileFileName = "profile.js"

// DefaultProfileDir is the subdirectory holding the profile and its shards.
const DefaultProfileDir = "default"

// bandFilePattern matches the shard files of a vault: one hex digit each.
var bandFilePattern = regexp.MustCompile(`^band_[0-9A-Fa-f]\.js$`)

// IsBandFileName reports whether name is a valid shard file name.
func IsBandFileName(name string) bool {
	return bandFilePattern.MatchString(name)
}

// ErrProfileNotFound indicates the container has no profile descriptor at
// the expected location.
var ErrProfileNotFound = errors.New("vault profile not found")

// Store defines the read-only interface for fetching container artifacts.
// The container format is read-only by design, so the interface exposes no
// write operations. All returned bytes are still encrypted or wrapped; the
// reader layer above is responsible for unwrapping and decryption.
type Store interface {

	// Ping tests the connectivity for remote backends.
	Ping() error

	// GetType retrieves the type of store being used.
	GetType() string

	// LoadProfile returns the raw bytes of the profile descriptor.
	// Returns ErrProfileNotFound if the container holds none.
	LoadProfile() ([]byte, error)

	// ListBandFiles returns the names of all shard files present, in
	// lexical order. A container with no shards returns an empty list.
	ListBandFiles() ([]string, error)

	// LoadBandFile returns the raw bytes of one shard file by name.
	LoadBandFile(name string) ([]byte, error)
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

const (
	// StoreTypeFileSystem indicates that the file system should be used for storage.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 indicates that an S3-compatible object store should be used.
	StoreTypeS3 StoreType = "s3"
)

// StoreConfig provides configuration for different storage backends.
type StoreConfig struct {
	// Type must be one of the predefined StoreType constants.
	Type StoreType `json:"type"`

	// Config holds backend-specific parameters, e.g. "base_path" for the
	// filesystem store or the S3Config fields for the S3 store.
	Config map[string]interface{} `json:"config"`
}

// S3Config holds the connection parameters for an S3-compatible backend.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
}
