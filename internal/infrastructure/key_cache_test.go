package infrastructure

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/course-extract-go/internal/domain"
)

func TestKeyCache_CoalescesConcurrentFetches(t *testing.T) {
	var calls atomic.Int32
	cache := NewKeyCache(func(ctx context.Context, uri string) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return testKey, nil
	})

	d := domain.SegmentDescriptor{KeyURI: "https://keys.example.com/k1"}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := cache.Get(context.Background(), d)
			assert.NoError(t, err)
			assert.Equal(t, testKey, key.Bytes[:])
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	_, err := cache.Get(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestKeyCache_CachesFailure(t *testing.T) {
	var calls atomic.Int32
	cache := NewKeyCache(func(ctx context.Context, uri string) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("403")
	})

	d := domain.SegmentDescriptor{KeyURI: "https://keys.example.com/k1"}
	_, err := cache.Get(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, domain.KindSegmentFetchFailed, domain.KindOf(err))

	_, err = cache.Get(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestKeyCache_RejectsWrongKeySize(t *testing.T) {
	cache := NewKeyCache(func(ctx context.Context, uri string) ([]byte, error) {
		return []byte("<html>login</html>"), nil
	})

	_, err := cache.Get(context.Background(), domain.SegmentDescriptor{KeyURI: "https://k/1"})
	require.Error(t, err)
	assert.Equal(t, domain.KindSegmentDecryptFailed, domain.KindOf(err))
}

func TestKeyCache_IVSource(t *testing.T) {
	cache := NewKeyCache(func(ctx context.Context, uri string) ([]byte, error) {
		return testKey, nil
	})

	key, err := cache.Get(context.Background(), domain.SegmentDescriptor{KeyURI: "https://k/seq"})
	require.NoError(t, err)
	assert.Equal(t, domain.IVFromSequence, key.IVSource)

	key, err = cache.Get(context.Background(), domain.SegmentDescriptor{KeyURI: "https://k/explicit", IV: make([]byte, 16)})
	require.NoError(t, err)
	assert.Equal(t, domain.IVExplicit, key.IVSource)

	key, err = cache.Get(context.Background(), domain.SegmentDescriptor{})
	assert.NoError(t, err)
	assert.Nil(t, key)
	assert.Equal(t, 2, cache.Len())
}
