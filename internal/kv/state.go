// Package kv wraps a NATS KV bucket with revision-checked writes and maps
// bucket errors onto core error codes.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// Store provides typed access to a NATS KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore wraps a NATS KV bucket.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value and its revision. A missing key is a not_found error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, core.NewNotFoundError("Key", key)
		}
		return nil, 0, core.NewTransientError("kv get "+key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

// Create stores a value only if the key does not exist.
// An existing key is a duplicate error.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, core.NewDuplicateError("Key", key)
		}
		return 0, core.NewTransientError("kv create "+key, err)
	}
	return rev, nil
}

// Update stores a value only if the key is still at revision.
// A revision mismatch is a conflict error.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := s.kv.Update(ctx, key, value, revision)
	if err != nil {
		if isRevisionMismatch(err) {
			return 0, core.NewConflictError("Key was modified concurrently.", map[string]any{
				"key":      key,
				"revision": revision,
			})
		}
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return 0, core.NewNotFoundError("Key", key)
		}
		return 0, core.NewTransientError("kv update "+key, err)
	}
	return rev, nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return core.NewNotFoundError("Key", key)
		}
		return core.NewTransientError("kv delete "+key, err)
	}
	return nil
}

// Keys returns all keys in the bucket.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		// If no keys exist, NATS returns an error
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, core.NewTransientError("kv keys", err)
	}
	return keys, nil
}

// FormatRevision renders a revision as an ETag.
func FormatRevision(rev uint64) string {
	return strconv.FormatUint(rev, 10)
}

// ParseRevision parses an ETag written by FormatRevision.
func ParseRevision(etag string) (uint64, error) {
	rev, err := strconv.ParseUint(etag, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid revision %q: %w", etag, err)
	}
	return rev, nil
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
