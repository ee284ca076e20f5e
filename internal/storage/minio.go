package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/myrjola/amlnarrator/internal/errors"
)

type MinIOConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStore keeps objects in an S3 compatible bucket, creating the bucket on first use.
type MinIOStore struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
	logger   *slog.Logger
}

func NewMinIOStore(cfg MinIOConfig, logger *slog.Logger) (*MinIOStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, errors.New("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init s3 client", slog.String("endpoint", endpoint))
	}

	return &MinIOStore{
		client:   client,
		bucket:   bucket,
		region:   region,
		initOnce: sync.Once{},
		initErr:  nil,
		logger:   logger.With("source", "MinIOStore"),
	}, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, "creating bucket", slog.String("bucket", s.bucket))
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	if s.initErr != nil {
		return errors.Wrap(s.initErr, "ensure bucket", slog.String("bucket", s.bucket))
	}
	return nil
}

func (s *MinIOStore) List(ctx context.Context, folder string) ([]string, error) {
	prefix, err := folderPrefix(folder)
	if err != nil {
		return nil, err
	}
	if err = s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	paths := make([]string, 0, 32)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, "list objects", slog.String("prefix", prefix))
		}
		if obj.Key == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		paths = append(paths, obj.Key)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *MinIOStore) Read(ctx context.Context, path string) ([]byte, error) {
	key, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if err = s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "get object", slog.String("key", key))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, errors.Wrap(ErrNotFound, "read object", slog.String("key", key))
		}
		return nil, errors.Wrap(err, "read object", slog.String("key", key))
	}
	return data, nil
}

func (s *MinIOStore) Write(ctx context.Context, path string, data []byte) error {
	key, err := cleanPath(path)
	if err != nil {
		return err
	}
	if err = s.ensureBucket(ctx); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return errors.Wrap(err, "put object", slog.String("key", key))
	}
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(key, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
