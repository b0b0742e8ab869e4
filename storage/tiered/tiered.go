// Package tiered provides a Hot/Cold tiered key-value store that orchestrates
// fast ephemeral storage (Hot) with durable persistent storage (Cold).
// Reads go through the hot tier and backfill it on a cold hit; writes go to
// the cold tier first, synchronously or through a background worker.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mockpress/mockpress/pkg/metering"
)

// Config configures the tiered store behavior
type Config struct {
	// Hot is the L1 store (e.g., memory) for high-frequency reads
	Hot metering.KeyValueStore

	// Cold is the L2 store (e.g., Postgres, Redis) as the source of truth
	Cold metering.KeyValueStore

	// AsyncColdWrites enables non-blocking cold-tier writes. If false,
	// writes are synchronous (slower but safer).
	AsyncColdWrites bool

	// SyncBufferSize is the size of the buffered channel for async writes.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when an async cold write fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Store implements metering.KeyValueStore over a hot and a cold tier.
type Store struct {
	hot  metering.KeyValueStore
	cold metering.KeyValueStore
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a new tiered store.
func New(config Config) (*Store, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered store: both hot and cold stores are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Store{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncColdWrites {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Store) Close() error {
	if s.conf.AsyncColdWrites {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background synchronization loop.
// Sequential processing keeps cold writes in submission order.
func (s *Store) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case op := <-s.syncQueue:
				s.runOp(op)
			case <-s.shutdown:
				// Drain pending operations before exiting
				for {
					select {
					case op := <-s.syncQueue:
						s.runOp(op)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Store) runOp(op func() error) {
	if err := op(); err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

func (s *Store) enqueue(op func() error) {
	select {
	case s.syncQueue <- op:
	default:
		// Queue full: fall back to a synchronous write rather than drop it
		s.runOp(op)
	}
}

// Get reads through the hot tier, backfilling it on a cold hit.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.hot.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, metering.ErrKeyNotFound) {
		// Hot tier unhealthy: the cold tier is still authoritative
		value, coldErr := s.cold.Get(ctx, key)
		if coldErr != nil {
			return "", coldErr
		}
		return value, nil
	}

	value, err = s.cold.Get(ctx, key)
	if err != nil {
		return "", err
	}

	// Backfill is best effort
	_ = s.hot.Set(ctx, key, value)
	return value, nil
}

// Set writes to the cold tier (synchronously or via the worker) and the hot tier.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.conf.AsyncColdWrites {
		s.enqueue(func() error {
			if err := s.cold.Set(context.Background(), key, value); err != nil {
				return fmt.Errorf("tiered store: async set %q: %w", key, err)
			}
			return nil
		})
	} else {
		if err := s.cold.Set(ctx, key, value); err != nil {
			return err
		}
	}

	return s.hot.Set(ctx, key, value)
}

// Delete removes the key from both tiers. The cold delete always runs
// synchronously so the source of truth never resurrects a deleted key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.cold.Delete(ctx, key); err != nil && !errors.Is(err, metering.ErrKeyNotFound) {
		return err
	}
	if err := s.hot.Delete(ctx, key); err != nil && !errors.Is(err, metering.ErrKeyNotFound) {
		return err
	}
	return nil
}
