// Package store persists camera frames and event descriptors in a NATS
// JetStream object store bucket. Keys are opaque strings here; the framekey
// package owns their structure.
package store

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/errors"
)

// FrameStore wraps a JetStream object store bucket. Safe for concurrent use.
type FrameStore struct {
	bucket string
	os     jetstream.ObjectStore
	logger *slog.Logger
}

// New binds to the configured bucket, creating it if it does not exist yet.
func New(ctx context.Context, js jetstream.JetStream, cfg config.StoreConfig, logger *slog.Logger) (*FrameStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	os, err := js.ObjectStore(ctx, cfg.Bucket)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapTransient(err, "FrameStore", "New", "bind bucket "+cfg.Bucket)
		}
		os, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      cfg.Bucket,
			Description: cfg.Description,
		})
		if err != nil {
			return nil, errors.WrapTransient(err, "FrameStore", "New", "create bucket "+cfg.Bucket)
		}
		logger.Info("Created object store bucket", "bucket", cfg.Bucket)
	}

	return &FrameStore{
		bucket: cfg.Bucket,
		os:     os,
		logger: logger,
	}, nil
}

// Bucket returns the bucket name this store is bound to.
func (s *FrameStore) Bucket() string {
	return s.bucket
}

// Put writes data under key with the given content type. An existing object
// under the same key is replaced.
func (s *FrameStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	meta := jetstream.ObjectMeta{
		Name: key,
	}
	if contentType != "" {
		meta.Headers = nats.Header{"Content-Type": []string{contentType}}
	}

	if _, err := s.os.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		return errors.WrapTransient(err, "FrameStore", "Put", "write "+key)
	}
	return nil
}

// Get returns the object stored under key.
func (s *FrameStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.os.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, errors.WrapNotFound(errors.ErrKeyNotFound, "FrameStore", "Get", key)
		}
		return nil, errors.WrapTransient(err, "FrameStore", "Get", "read "+key)
	}
	return data, nil
}

// List returns the keys in the bucket that start with any of the given
// prefixes, sorted lexicographically. JetStream object stores only support
// full enumeration, so the bucket is walked exactly once no matter how many
// prefixes are asked for. No prefixes means every key; an empty bucket
// yields an empty slice, not an error.
func (s *FrameStore) List(ctx context.Context, prefixes ...string) ([]string, error) {
	infos, err := s.os.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "FrameStore", "List", "list bucket "+s.bucket)
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		if matchesAny(info.Name, prefixes) {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func matchesAny(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Delete removes the object stored under key.
func (s *FrameStore) Delete(ctx context.Context, key string) error {
	if err := s.os.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return errors.WrapNotFound(errors.ErrKeyNotFound, "FrameStore", "Delete", key)
		}
		return errors.WrapTransient(err, "FrameStore", "Delete", "delete "+key)
	}
	return nil
}
