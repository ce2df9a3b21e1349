package agent

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/karthikpremaram/mills-new/internal/domain"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// KBObjectStore uploads knowledge-base documents to object storage. The
// returned object key doubles as the file id handed to the assistant API.
type KBObjectStore struct {
	db       *minio.Client
	bucket   string
	basePath string
}

type KBStoreConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	BasePath        string
}

func NewKBObjectStore(ctx context.Context, cfg KBStoreConfig) (*KBObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("kb store: empty endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("kb store: empty bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("kb store: create client: %w", err)
	}

	if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, err
	}

	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	return &KBObjectStore{
		db:       client,
		bucket:   cfg.Bucket,
		basePath: basePath,
	}, nil
}

func (s *KBObjectStore) Upload(ctx context.Context, name, text string) (string, error) {
	clean := path.Base(strings.TrimSpace(name))
	if clean == "" || clean == "." || clean == "/" {
		return "", domain.Permanent(fmt.Errorf("kb store: invalid object name %q", name))
	}

	key := s.basePath + uuid.NewString() + "-" + clean

	reader := strings.NewReader(text)
	_, err := s.db.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return "", domain.Transient(fmt.Errorf("kb store: put %s: %w", key, err))
	}

	return key, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("kb store: check bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("kb store: create bucket: %w", err)
	}
	return nil
}
