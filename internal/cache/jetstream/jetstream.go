package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/ssuji15/trainpool/internal/cache"
	"github.com/ssuji15/trainpool/internal/component/jetstream"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/job_tracer"
	"github.com/ssuji15/trainpool/internal/service/logger"
	"github.com/ssuji15/trainpool/internal/util"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const objectPrefix = "dataset_"

// JetStreamCache stores each dataset as one object in a JetStream object
// store bucket.
type JetStreamCache struct {
	connection *nats.Conn
	bucket     nats.ObjectStore
	ttl        int
}

var (
	jcc       *JetStreamCache
	once      sync.Once
	initError error
)

func NewJetStreamCache() (*JetStreamCache, error) {
	once.Do(func() {
		nc, err := jetstream.NewJetStreamClient()
		if err != nil {
			initError = err
			return
		}
		cfg, err := config.GetNatsConfig()
		if err != nil {
			initError = err
			return
		}
		js, err := nc.JetStream()
		if err != nil {
			initError = err
			return
		}
		os, err := createOrGetObjectStore(js, cfg.BUCKET_NAME, cfg.TTL, cfg.BUCKET_SIZE_BYTES)
		if err != nil {
			initError = err
			return
		}
		jcc = &JetStreamCache{
			connection: nc,
			bucket:     os,
			ttl:        cfg.TTL,
		}
	})
	return jcc, initError
}

func (j *JetStreamCache) Find(ctx context.Context, h model.Hash) (*model.Dataset, error) {
	_, span := job_tracer.GetTracer().Start(ctx, "Nats/Find")
	defer span.End()
	name := util.GetDatasetObjectName(h)
	span.AddEvent("nats.context",
		trace.WithAttributes(attribute.String("object", name)),
	)

	b, err := j.bucket.GetBytes(name)
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		err := fmt.Errorf("failed to retrieve dataset %s: %w", h, err)
		util.RecordSpanError(span, err)
		return nil, err
	}
	d, err := cache.Decode(h, b)
	if err != nil {
		util.RecordSpanError(span, err)
		logger.Log.Warn().Err(err).Str("hash", h.String()).Msg("ignoring corrupt jetstream object")
		return nil, nil
	}
	return d, nil
}

func (j *JetStreamCache) Store(ctx context.Context, d *model.Dataset) error {
	_, span := job_tracer.GetTracer().Start(ctx, "Nats/Store")
	defer span.End()

	b, err := cache.Encode(d)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	name := util.GetDatasetObjectName(d.Hash)
	span.AddEvent("nats.context",
		trace.WithAttributes(attribute.String("object", name), attribute.Int("bytes", len(b))),
	)
	if _, err := j.bucket.GetInfo(name); err == nil {
		return nil
	}
	if _, err := j.bucket.PutBytes(name, b); err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to store dataset %s: %w", d.Hash, err)
	}
	return nil
}

func (j *JetStreamCache) Hashes(ctx context.Context) ([]model.Hash, error) {
	infos, err := j.bucket.List()
	if errors.Is(err, nats.ErrNoObjectsFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	hashes := make([]model.Hash, 0, len(infos))
	for _, info := range infos {
		if h, ok := cache.HashFromKey(info.Name, objectPrefix, ""); ok {
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

func (j *JetStreamCache) GetDefaultTTL() int {
	return j.ttl
}

func (j *JetStreamCache) Close() error {
	return j.connection.Drain()
}

func createOrGetObjectStore(js nats.JetStreamContext, bucket string, ttlSeconds int, bucketSizeBytes int) (nats.ObjectStore, error) {
	os, err := js.ObjectStore(bucket)
	if err == nil {
		return os, nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("error retrieving nats bucket instance: %v", err)
	}
	os, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Content-addressed training datasets",
		TTL:         time.Duration(ttlSeconds) * time.Second,
		MaxBytes:    int64(bucketSizeBytes),
		Storage:     nats.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create nats bucket: %v", err)
	}
	return os, nil
}

func (j *JetStreamCache) ShutDown(ctx context.Context) {
	done := make(chan struct{})
	j.connection.SetClosedHandler(func(_ *nats.Conn) {
		close(done)
	})

	if err := j.Close(); err != nil {
		logger.Log.Err(err).Msg("unable to close nats connection")
	}

	select {
	case <-done:
		return
	case <-ctx.Done():
		j.connection.Close()
	}
}
