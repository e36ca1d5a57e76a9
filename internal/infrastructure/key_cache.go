package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yourusername/course-extract-go/internal/domain"
	"golang.org/x/sync/singleflight"
)

// KeyFetchFunc downloads the raw bytes of a key URI
type KeyFetchFunc func(ctx context.Context, uri string) ([]byte, error)

// KeyCache fetches each key URI at most once per job. Concurrent first
// requests coalesce and both outcomes are remembered.
type KeyCache struct {
	mu      sync.Mutex
	entries map[string]keyEntry
	group   singleflight.Group
	fetch   KeyFetchFunc
}

type keyEntry struct {
	key *domain.CipherKey
	err error
}

// NewKeyCache creates an empty cache backed by fetch
func NewKeyCache(fetch KeyFetchFunc) *KeyCache {
	return &KeyCache{
		entries: make(map[string]keyEntry),
		fetch:   fetch,
	}
}

// Get returns the key for a segment descriptor
func (c *KeyCache) Get(ctx context.Context, d domain.SegmentDescriptor) (*domain.CipherKey, error) {
	uri := d.KeyURI
	if uri == "" {
		return nil, nil
	}

	c.mu.Lock()
	entry, ok := c.entries[uri]
	c.mu.Unlock()
	if ok {
		return entry.key, entry.err
	}

	source := domain.IVFromSequence
	if len(d.IV) == 16 {
		source = domain.IVExplicit
	}

	v, err, _ := c.group.Do(uri, func() (interface{}, error) {
		c.mu.Lock()
		entry, ok := c.entries[uri]
		c.mu.Unlock()
		if ok {
			return entry.key, entry.err
		}

		raw, err := c.fetch(ctx, uri)
		if err != nil {
			if errors.Is(err, context.Canceled) || domain.KindOf(err) == domain.KindCancelled {
				return nil, err
			}
			err = domain.WrapError(domain.KindSegmentFetchFailed, "fetch key", err)
			c.store(uri, keyEntry{err: err})
			return nil, err
		}
		if len(raw) != 16 {
			err := domain.NewError(domain.KindSegmentDecryptFailed, "fetch key",
				fmt.Sprintf("key must be 16 bytes, got %d", len(raw)))
			c.store(uri, keyEntry{err: err})
			return nil, err
		}
		key := &domain.CipherKey{IVSource: source}
		copy(key.Bytes[:], raw)
		c.store(uri, keyEntry{key: key})
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CipherKey), nil
}

// Len returns the number of cached outcomes
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *KeyCache) store(uri string, e keyEntry) {
	c.mu.Lock()
	c.entries[uri] = e
	c.mu.Unlock()
}
