package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/example/dxscan/internal/engine"
)

// Config points at an S3 compatible bucket.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectPutter is the subset of the minio client used to store results.
type ObjectPutter interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store uploads scan results as JSON objects.
type Store struct {
	client ObjectPutter
	bucket string
	region string

	initOnce sync.Once
	initErr  error
}

// New connects to the bucket described by cfg. The bucket is created lazily
// on the first upload.
func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("archive access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init archive client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, region)
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectPutter, bucket, region string) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	return &Store{client: client, bucket: bucket, region: region}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey returns "<service>/<target>/<date>/<id>.json" for res. Target
// names are reduced to characters that are safe in object keys.
func ObjectKey(res engine.ScanResult) string {
	name := res.Target.Slug()
	if name == "" {
		name = res.Target.Raw
		if res.Target.Local {
			name = path.Base(strings.ReplaceAll(res.Target.Path, "\\", "/"))
		}
	}
	name = strings.Trim(unsafeKeyChars.ReplaceAllString(name, "-"), "-")
	if name == "" {
		name = "unnamed"
	}
	service := string(res.Target.Service)
	if service == "" {
		service = "none"
	}
	return path.Join(service, name, res.StartedAt.UTC().Format("2006-01-02"), res.ID+".json")
}

// Upload stores res as indented JSON and returns the object key.
func (s *Store) Upload(ctx context.Context, res engine.ScanResult) (string, error) {
	if res.ID == "" {
		return "", fmt.Errorf("scan result has no id")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}

	key := ObjectKey(res)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}
