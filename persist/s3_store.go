package persist

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Store implements the Store interface against an S3-compatible object
// store holding an exported vault container. The object layout mirrors the
// filesystem container exactly:
//
//	bucketName/
//	└── [keyPrefix/]default/
//	    ├── profile.js
//	    ├── band_0.js
//	    └── band_a.js
//
// The store is strictly read-only: containers are exports produced
// elsewhere and uploaded as-is, so no write or delete operation exists.
type S3Store struct {
	// client is the MinIO client used to interact with the object store.
	client *minio.Client

	// bucketName is the bucket holding the container objects.
	bucketName string

	// keyPrefix is an optional prefix for the keys in the bucket, allowing
	// for namespace separation if multiple containers share one bucket.
	keyPrefix string
}

// NewS3Store initializes a new S3Store instance using the provided S3
// configuration. It establishes a connection and verifies the bucket
// exists; it never creates one, since the store has no write path.
func NewS3Store(config S3Config) (*S3Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", config.Bucket)
	}

	return store, nil
}

// NewS3StoreFromConfig creates an S3Store from a generic StoreConfig
func NewS3StoreFromConfig(config StoreConfig) (*S3Store, error) {
	s3Config := S3Config{}

	if v, ok := config.Config["endpoint"].(string); ok {
		s3Config.Endpoint = v
	}
	if v, ok := config.Config["access_key_id"].(string); ok {
		s3Config.AccessKeyID = v
	}
	if v, ok := config.Config["secret_access_key"].(string); ok {
		s3Config.SecretAccessKey = v
	}
	if v, ok := config.Config["use_ssl"].(bool); ok {
		s3Config.UseSSL = v
	}
	if v, ok := config.Config["region"].(string); ok {
		s3Config.Region = v
	}
	if v, ok := config.Config["bucket"].(string); ok {
		s3Config.Bucket = v
	}
	if v, ok := config.Config["key_prefix"].(string); ok {
		s3Config.KeyPrefix = v
	}

	if s3Config.Endpoint == "" {
		return nil, fmt.Errorf("s3 storage requires 'endpoint' in config")
	}
	if s3Config.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires 'bucket' in config")
	}

	return NewS3Store(s3Config)
}

// objectKey builds the object key for a file inside the profile directory
func (s *S3Store) objectKey(name string) string {
	return path.Join(s.keyPrefix, DefaultProfileDir, name)
}

// Ping verifies connectivity and bucket accessibility
func (s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach object store: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucketName)
	}
	return nil
}

// GetType returns the store type identifier
func (s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

// LoadProfile returns the raw profile descriptor bytes
func (s *S3Store) LoadProfile() ([]byte, error) {
	data, err := s.getObject(s.objectKey(ProfileFileName))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return data, nil
}

// ListBandFiles enumerates the shard objects under the profile prefix
func (s *S3Store) ListBandFiles() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	prefix := path.Join(s.keyPrefix, DefaultProfileDir) + "/"

	var bands []string
	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix: prefix,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list container objects: %w", object.Err)
		}
		name := path.Base(object.Key)
		if IsBandFileName(name) {
			bands = append(bands, name)
		}
	}

	sort.Strings(bands)
	return bands, nil
}

// LoadBandFile returns the raw bytes of one shard object by name
func (s *S3Store) LoadBandFile(name string) ([]byte, error) {
	if !IsBandFileName(name) {
		return nil, fmt.Errorf("invalid band file name")
	}

	data, err := s.getObject(s.objectKey(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load band file: %w", err)
	}
	return data, nil
}

// getObject fetches a whole object into memory
func (s *S3Store) getObject(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// isNotFound reports whether err is the backend's missing-object error
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
