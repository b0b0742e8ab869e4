package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockpress/mockpress/pkg/metering"
	"github.com/mockpress/mockpress/storage/memory"
)

// flakyStore wraps a KeyValueStore and fails operations on demand.
type flakyStore struct {
	metering.KeyValueStore

	mu      sync.Mutex
	failSet bool
	failGet bool
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return "", errors.New("store unavailable")
	}
	return f.KeyValueStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return f.KeyValueStore.Set(ctx, key, value)
}

func TestNew_RequiresBothTiers(t *testing.T) {
	_, err := New(Config{Hot: memory.New()})
	assert.Error(t, err)

	_, err = New(Config{Cold: memory.New()})
	assert.Error(t, err)

	store, err := New(Config{Hot: memory.New(), Cold: memory.New()})
	require.NoError(t, err)
	defer store.Close()
}

func TestStore_WriteThrough(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	cold := memory.New()

	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "credential:client-1", "abc"))

	hotValue, err := hot.Get(ctx, "credential:client-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", hotValue)

	coldValue, err := cold.Get(ctx, "credential:client-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", coldValue)
}

func TestStore_ReadThroughBackfillsHot(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	cold := memory.New()

	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer store.Close()

	// Simulate a hot tier restart: the value only lives in cold storage
	require.NoError(t, cold.Set(ctx, "trial:client-1", "2"))

	value, err := store.Get(ctx, "trial:client-1")
	require.NoError(t, err)
	assert.Equal(t, "2", value)

	hotValue, err := hot.Get(ctx, "trial:client-1")
	require.NoError(t, err)
	assert.Equal(t, "2", hotValue, "cold hit should backfill the hot tier")
}

func TestStore_GetMissingKey(t *testing.T) {
	store, err := New(Config{Hot: memory.New(), Cold: memory.New()})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, metering.ErrKeyNotFound)
}

func TestStore_HotFailureFallsBackToCold(t *testing.T) {
	ctx := context.Background()
	cold := memory.New()
	require.NoError(t, cold.Set(ctx, "k", "v"))

	hot := &flakyStore{KeyValueStore: memory.New(), failGet: true}

	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer store.Close()

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	cold := memory.New()

	store, err := New(Config{Hot: hot, Cold: cold})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err = hot.Get(ctx, "k")
	assert.ErrorIs(t, err, metering.ErrKeyNotFound)
	_, err = cold.Get(ctx, "k")
	assert.ErrorIs(t, err, metering.ErrKeyNotFound)
}

func TestStore_AsyncColdWrites(t *testing.T) {
	ctx := context.Background()
	hot := memory.New()
	cold := memory.New()

	store, err := New(Config{
		Hot:             hot,
		Cold:            cold,
		AsyncColdWrites: true,
	})
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k", "v"))

	// Hot is written synchronously
	hotValue, err := hot.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", hotValue)

	// Close drains the worker queue
	require.NoError(t, store.Close())

	coldValue, err := cold.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", coldValue)
}

func TestStore_AsyncErrorHandler(t *testing.T) {
	ctx := context.Background()
	cold := &flakyStore{KeyValueStore: memory.New(), failSet: true}

	errCh := make(chan error, 1)
	store, err := New(Config{
		Hot:             memory.New(),
		Cold:            cold,
		AsyncColdWrites: true,
		AsyncErrorHandler: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "k", "v"))

	select {
	case handlerErr := <-errCh:
		assert.Contains(t, handlerErr.Error(), "store unavailable")
	case <-time.After(2 * time.Second):
		t.Fatal("async error handler was not invoked")
	}
}
