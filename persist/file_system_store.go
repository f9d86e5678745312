package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileSystemStore implements Store for a vault container on the local
// filesystem. The expected layout is the container's on-disk format:
//
//	<basePath>/
//	└── default/
//	    ├── profile.js          # profile descriptor
//	    ├── band_0.js           # item shards, one hex digit each
//	    └── band_7.js
type FileSystemStore struct {
	basePath   string
	profileDir string // basePath/default/
}

// NewFileSystemStore initializes and returns a new instance of FileSystemStore
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required for filesystem store")
	}

	return &FileSystemStore{
		basePath:   basePath,
		profileDir: filepath.Join(basePath, DefaultProfileDir),
	}, nil
}

// Ping verifies the container directory exists and is readable
func (fs *FileSystemStore) Ping() error {
	info, err := os.Stat(fs.profileDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("vault container not found at %s", fs.basePath)
		}
		return fmt.Errorf("failed to access vault container: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault container path is not a directory")
	}
	return nil
}

// GetType returns the store type identifier
func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// LoadProfile returns the raw profile descriptor bytes
func (fs *FileSystemStore) LoadProfile() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(fs.profileDir, ProfileFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return data, nil
}

// ListBandFiles enumerates the shard files present in the container
func (fs *FileSystemStore) ListBandFiles() ([]string, error) {
	entries, err := os.ReadDir(fs.profileDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read container directory: %w", err)
	}

	var bands []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsBandFileName(entry.Name()) {
			bands = append(bands, entry.Name())
		}
	}

	sort.Strings(bands)
	return bands, nil
}

// LoadBandFile returns the raw bytes of one shard file
func (fs *FileSystemStore) LoadBandFile(name string) ([]byte, error) {
	// Reject anything outside the shard naming pattern so a caller can
	// never turn this into an arbitrary file read.
	if !IsBandFileName(name) {
		return nil, fmt.Errorf("invalid band file name")
	}

	data, err := os.ReadFile(filepath.Join(fs.profileDir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read band file: %w", err)
	}
	return data, nil
}
