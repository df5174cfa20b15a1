// Package blobstore is the content-addressed artifact store. Blobs are keyed
// by the hex sha256 of their plaintext and grouped into namespaces; per-file
// cache artifacts live under cache/<file_id>/.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"docpipe/internal/domain"
	"docpipe/internal/port"
)

// Store wraps an ObjectStorage backend with the namespace layout, the
// optional encryption envelope and optional read verification.
type Store struct {
	backend  port.ObjectStorage
	envelope *envelope
	verify   bool
}

// Option configures a Store.
type Option func(*Store) error

// WithEncryptionKey enables the envelope with a hex-encoded 32-byte key.
// An empty key leaves payloads in plaintext.
func WithEncryptionKey(hexKey string) Option {
	return func(s *Store) error {
		if hexKey == "" {
			return nil
		}
		env, err := newEnvelope(hexKey)
		if err != nil {
			return err
		}
		s.envelope = env
		return nil
	}
}

// WithVerifyOnRead re-hashes content-addressed blobs on every read.
func WithVerifyOnRead(verify bool) Option {
	return func(s *Store) error {
		s.verify = verify
		return nil
	}
}

// New creates a Store over backend.
func New(backend port.ObjectStorage, opts ...Option) (*Store, error) {
	s := &Store{backend: backend}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// HashBytes returns the lowercase hex sha256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key returns the backend key of a content-addressed blob.
func Key(ns domain.Namespace, hash string) string {
	if len(hash) < 3 {
		return string(ns) + "/" + hash
	}
	shard := hash[:2] + "/" + hash[2:]
	if ns == domain.NSOriginal {
		return shard
	}
	return string(ns) + "/" + shard
}

// CacheKey returns the backend key of a per-file cache artifact.
func CacheKey(fileID int64, name string) string {
	return "cache/" + strconv.FormatInt(fileID, 10) + "/" + name
}

// Put stores data under (hash, ns). Re-putting an existing key is a no-op.
func (s *Store) Put(ctx context.Context, hash string, ns domain.Namespace, data []byte) error {
	key := Key(ns, hash)
	exists, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.write(ctx, key, data)
}

// Get returns the plaintext of (hash, ns).
func (s *Store) Get(ctx context.Context, hash string, ns domain.Namespace) ([]byte, error) {
	data, err := s.read(ctx, Key(ns, hash))
	if err != nil {
		return nil, err
	}
	if s.verify && HashBytes(data) != hash {
		return nil, domain.NewPipelineError(domain.KindIntegrityViolation, string(ns),
			fmt.Errorf("blob %s does not match its key", Key(ns, hash)))
	}
	return data, nil
}

// Exists reports whether (hash, ns) is stored.
func (s *Store) Exists(ctx context.Context, hash string, ns domain.Namespace) (bool, error) {
	return s.exists(ctx, Key(ns, hash))
}

// Stat returns size and modification time of (hash, ns).
func (s *Store) Stat(ctx context.Context, hash string, ns domain.Namespace) (*port.ObjectInfo, error) {
	return s.backend.Stat(ctx, Key(ns, hash))
}

// Delete removes (hash, ns).
func (s *Store) Delete(ctx context.Context, hash string, ns domain.Namespace) error {
	return s.backend.Delete(ctx, Key(ns, hash))
}

// Open streams (hash, ns). Plaintext backends stream directly; encrypted or
// verified blobs are materialized first. The reader is an io.ReadSeeker when
// the backend's reader is, or when the blob was materialized.
func (s *Store) Open(ctx context.Context, hash string, ns domain.Namespace) (io.ReadCloser, error) {
	if s.envelope == nil && !s.verify {
		return s.backend.Open(ctx, Key(ns, hash))
	}
	data, err := s.Get(ctx, hash, ns)
	if err != nil {
		return nil, err
	}
	return readSeekNopCloser{bytes.NewReader(data)}, nil
}

// PutCache writes a per-file cache artifact, replacing any previous one.
func (s *Store) PutCache(ctx context.Context, fileID int64, name string, data []byte) error {
	return s.write(ctx, CacheKey(fileID, name), data)
}

// GetCache reads a per-file cache artifact.
func (s *Store) GetCache(ctx context.Context, fileID int64, name string) ([]byte, error) {
	return s.read(ctx, CacheKey(fileID, name))
}

// CacheExists reports whether a per-file cache artifact is stored.
func (s *Store) CacheExists(ctx context.Context, fileID int64, name string) (bool, error) {
	return s.exists(ctx, CacheKey(fileID, name))
}

// DeleteCache removes a per-file cache artifact.
func (s *Store) DeleteCache(ctx context.Context, fileID int64, name string) error {
	return s.backend.Delete(ctx, CacheKey(fileID, name))
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.backend.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("blobstore.exists %s: %w", key, err)
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	payload := data
	if s.envelope != nil {
		sealed, err := s.envelope.seal(data)
		if err != nil {
			return fmt.Errorf("blobstore.write %s: %w", key, err)
		}
		payload = sealed
	}
	if err := s.backend.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("blobstore.write %s: %w", key, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("blobstore.read %s: %w", key, err)
	}
	// without a key every blob is plaintext, whatever its first bytes
	if s.envelope == nil || !isSealed(payload) {
		return payload, nil
	}
	data, err := s.envelope.open(payload)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindIntegrityViolation, "decrypt", fmt.Errorf("%s: %w", key, err))
	}
	return data, nil
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }
