package metering_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mockpress/mockpress/pkg/metering"
)

// fakeClock is a settable Clock shared by the tests in this package
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now.UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

var errStoreDown = errors.New("store down")

// downCounterStore fails every operation, simulating a storage outage
type downCounterStore struct{}

func (downCounterStore) Increment(context.Context, metering.CounterKey, time.Time, int) (int, error) {
	return 0, errStoreDown
}

func (downCounterStore) Count(context.Context, metering.CounterKey, time.Time) (int, error) {
	return 0, errStoreDown
}

// downKVStore fails every operation
type downKVStore struct{}

func (downKVStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (downKVStore) Set(context.Context, string, string) error   { return errStoreDown }
func (downKVStore) Delete(context.Context, string) error        { return errStoreDown }
