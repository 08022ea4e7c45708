// Package bolt provides a BoltDB-backed store.Store.
//
// BoltDB is an embedded key/value store: all data lives in a single file and
// no external database process is required. Each entity has its own bucket
// keyed by id; the value is the JSON document, which carries its version.
//
// Compare-and-set runs inside a bolt update transaction, so the version read
// and the write cannot interleave with another writer. WithTx binds all four
// repositories to one update transaction.
package bolt

import (
	"context"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/transfer"
)

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) a BoltDB database at path and ensures every
// entity bucket exists.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range store.Tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Repos() store.Repos {
	return reposFor(func(writable bool, fn func(*bolt.Tx) error) error {
		if writable {
			return s.db.Update(fn)
		}
		return s.db.View(fn)
	})
}

// WithTx runs fn inside a single bolt update transaction.
func (s *Store) WithTx(_ context.Context, fn func(store.Repos) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(reposFor(func(_ bool, op func(*bolt.Tx) error) error {
			return op(tx)
		}))
	})
}

// runner executes op in a read or write transaction.
type runner func(writable bool, op func(*bolt.Tx) error) error

func reposFor(run runner) store.Repos {
	return store.Repos{
		Contracts: &bucket[contract.Contract]{name: store.Contracts, run: run},
		Bookings:  &bucket[booking.Booking]{name: store.Bookings, run: run},
		Transfers: &bucket[transfer.Request]{name: store.Transfers, run: run},
		Rewards:   &bucket[rewards.CommitmentReward]{name: store.Rewards, run: run},
	}
}

// =============================================================================
// BUCKET
// =============================================================================

type bucket[T generic.Document[T]] struct {
	name string
	run  runner
}

// load decodes the stored document; values are only valid inside tx.
func (b *bucket[T]) load(tx *bolt.Tx, id string) (T, bool, error) {
	var zero T
	v := tx.Bucket([]byte(b.name)).Get([]byte(id))
	if v == nil {
		return zero, false, nil
	}
	doc, err := store.Decode[T](v)
	return doc, err == nil, err
}

func (b *bucket[T]) save(tx *bolt.Tx, doc T) error {
	data, err := store.Encode(doc)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(b.name)).Put([]byte(doc.DocumentID()), data)
}

func (b *bucket[T]) Get(_ context.Context, id string) (T, error) {
	var out T
	err := b.run(false, func(tx *bolt.Tx) error {
		doc, ok, err := b.load(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return generic.NotFound(b.name, id)
		}
		out = doc
		return nil
	})
	return out, err
}

// Find walks the bucket in key order, which is id order.
func (b *bucket[T]) Find(_ context.Context, match func(T) bool) ([]T, error) {
	out := []T{}
	err := b.run(false, func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(b.name)).ForEach(func(_, v []byte) error {
			doc, err := store.Decode[T](v)
			if err != nil {
				return err
			}
			if match(doc) {
				out = append(out, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *bucket[T]) Insert(_ context.Context, doc T) (T, error) {
	doc = doc.WithVersion(1)
	err := b.run(true, func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(b.name)).Get([]byte(doc.DocumentID())) != nil {
			return generic.ErrAlreadyExists
		}
		return b.save(tx, doc)
	})
	return doc, err
}

func (b *bucket[T]) Update(_ context.Context, doc T) (T, error) {
	next := doc.WithVersion(doc.DocumentVersion() + 1)
	err := b.run(true, func(tx *bolt.Tx) error {
		stored, ok, err := b.load(tx, doc.DocumentID())
		if err != nil {
			return err
		}
		if !ok {
			return generic.NotFound(b.name, doc.DocumentID())
		}
		if stored.DocumentVersion() != doc.DocumentVersion() {
			return generic.ErrConcurrentModification
		}
		return b.save(tx, next)
	})
	if err != nil {
		return doc, err
	}
	return next, nil
}

func (b *bucket[T]) Delete(_ context.Context, id string, version int64) error {
	return b.run(true, func(tx *bolt.Tx) error {
		stored, ok, err := b.load(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return generic.NotFound(b.name, id)
		}
		if stored.DocumentVersion() != version {
			return generic.ErrConcurrentModification
		}
		return tx.Bucket([]byte(b.name)).Delete([]byte(id))
	})
}
