package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/storage"
	"github.com/ssuji15/trainpool/internal/util"
)

// MinioClient wraps the MinIO SDK client for a single bucket.
type MinioClient struct {
	client    *minio.Client
	bucket    string
	transport *http.Transport
}

var (
	m         *MinioClient
	once      sync.Once
	initError error
)

// NewMinioClient returns the process-wide client, creating the datasets
// bucket on first use.
func NewMinioClient(ctx context.Context) (*MinioClient, error) {
	once.Do(func() {
		cfg, err := config.GetMinioConfig()
		if err != nil {
			initError = err
			return
		}
		c, err := newMinioClient(cfg)
		if err != nil {
			initError = err
			return
		}
		if err := c.ensureBucket(ctx); err != nil {
			c.Close()
			initError = err
			return
		}
		m = c
	})
	return m, initError
}

func newMinioClient(cfg *config.MinioConfig) (*MinioClient, error) {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: true,
		DisableKeepAlives:  false,
	}

	cli, err := minio.New(cfg.URL, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.ACCESS_KEY, cfg.SECRET_KEY, ""),
		Secure:    cfg.USE_SSL,
		Transport: transport,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{client: cli, bucket: cfg.DATASETS_BUCKET, transport: transport}, nil
}

func (c *MinioClient) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("unable to check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("unable to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *MinioClient) Upload(ctx context.Context, objectPath string, data []byte) error {
	ctx, span := job_tracer.GetTracer().Start(ctx, "MinIO/Upload")
	defer span.End()

	_, err := c.client.PutObject(ctx, c.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/msgpack",
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (c *MinioClient) Download(ctx context.Context, objectPath string) ([]byte, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "MinIO/Download")
	defer span.End()

	object, err := c.client.GetObject(ctx, c.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer object.Close()

	if _, err := object.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, storage.ErrNotFound
		}
		util.RecordSpanError(span, err)
		return nil, err
	}

	data, err := io.ReadAll(object)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return data, nil
}

func (c *MinioClient) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := job_tracer.GetTracer().Start(ctx, "MinIO/List")
	defer span.End()

	var names []string
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			util.RecordSpanError(span, obj.Err)
			return nil, obj.Err
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

func (c *MinioClient) Close() {
	c.transport.CloseIdleConnections()
}

func resetMinioClient() {
	m = nil
	initError = nil
	once = sync.Once{}
}
