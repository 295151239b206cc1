package dataset

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config locates the bucket prefix records are written under.
type S3Config struct {
	Endpoint  string // host:port, or a URL whose scheme selects TLS
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// S3Store writes each record to <prefix>/<custom_id>.json in an S3-compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store builds the object storage client. No request is made until first use.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	endpoint, secure, err := splitEndpoint(cfg.Endpoint, cfg.Secure)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ProcessedIDs lists every .json object below the prefix.
func (s *S3Store) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	opts := minio.ListObjectsOptions{Prefix: listPrefix(s.prefix), Recursive: true}
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list s3 objects: %w", obj.Err)
		}
		if id, ok := recordIDFromKey(obj.Key); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (s *S3Store) Write(ctx context.Context, record ResponseRecord) error {
	if err := validateRecordID(record.CustomID); err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.CustomID, err)
	}

	key := objectKey(s.prefix, record.CustomID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put s3 object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }

func splitEndpoint(raw string, secure bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimRight(raw, "/"), secure, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("s3 endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

func objectKey(prefix, id string) string {
	if prefix == "" {
		return id + recordExt
	}
	return prefix + "/" + id + recordExt
}

func listPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func recordIDFromKey(key string) (string, bool) {
	name := path.Base(key)
	if path.Ext(name) != recordExt {
		return "", false
	}
	id := strings.TrimSuffix(name, recordExt)
	return id, id != ""
}
