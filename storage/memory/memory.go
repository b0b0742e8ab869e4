// Package memory provides in-memory implementations of the metering storage
// interfaces. This is the reference single-process backend; a mutex guards
// every read-modify-write so per-key check-and-consume stays linearizable.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mockpress/mockpress/pkg/metering"
)

type counter struct {
	count       int
	windowStart time.Time
}

// Store implements metering.CounterStore and metering.KeyValueStore using
// in-memory maps
type Store struct {
	mu       sync.Mutex
	counters map[metering.CounterKey]*counter
	values   map[string]string
}

// New creates a new in-memory storage adapter
func New() *Store {
	return &Store{
		counters: make(map[metering.CounterKey]*counter),
		values:   make(map[string]string),
	}
}

// Increment implements metering.CounterStore
func (s *Store) Increment(
	_ context.Context, key metering.CounterKey, windowStart time.Time, limit int,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.windowStart.Before(windowStart) {
		c = &counter{windowStart: windowStart}
		s.counters[key] = c
	}

	if c.count >= limit {
		return c.count, metering.ErrLimitReached
	}

	c.count++
	return c.count, nil
}

// Count implements metering.CounterStore
func (s *Store) Count(
	_ context.Context, key metering.CounterKey, windowStart time.Time,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.windowStart.Before(windowStart) {
		return 0, nil
	}
	return c.count, nil
}

// Get implements metering.KeyValueStore
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", metering.ErrKeyNotFound
	}
	return value, nil
}

// Set implements metering.KeyValueStore
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Delete implements metering.KeyValueStore
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = make(map[metering.CounterKey]*counter)
	s.values = make(map[string]string)
}
