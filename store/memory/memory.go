// Package memory provides an in-memory Store (for testing/dev).
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/transfer"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps documents as JSON so callers never share memory with it.
type Store struct {
	mu        sync.RWMutex
	contracts *table[contract.Contract]
	bookings  *table[booking.Booking]
	transfers *table[transfer.Request]
	rewards   *table[rewards.CommitmentReward]
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		contracts: newTable[contract.Contract](store.Contracts),
		bookings:  newTable[booking.Booking](store.Bookings),
		transfers: newTable[transfer.Request](store.Transfers),
		rewards:   newTable[rewards.CommitmentReward](store.Rewards),
	}
}

func (s *Store) Close() error { return nil }

// Repos returns repositories that each take the store lock per call.
func (s *Store) Repos() store.Repos {
	return store.Repos{
		Contracts: locked[contract.Contract]{mu: &s.mu, t: s.contracts},
		Bookings:  locked[booking.Booking]{mu: &s.mu, t: s.bookings},
		Transfers: locked[transfer.Request]{mu: &s.mu, t: s.transfers},
		Rewards:   locked[rewards.CommitmentReward]{mu: &s.mu, t: s.rewards},
	}
}

// WithTx holds the write lock for the whole of fn and restores every table
// if fn fails.
func (s *Store) WithTx(_ context.Context, fn func(store.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := []func(){
		s.contracts.snapshot(),
		s.bookings.snapshot(),
		s.transfers.snapshot(),
		s.rewards.snapshot(),
	}
	err := fn(store.Repos{
		Contracts: s.contracts,
		Bookings:  s.bookings,
		Transfers: s.transfers,
		Rewards:   s.rewards,
	})
	if err != nil {
		for _, restore := range snapshots {
			restore()
		}
		return err
	}
	return nil
}

// =============================================================================
// TABLE
// =============================================================================

type row struct {
	version int64
	doc     []byte
}

// table is unsynchronized; callers hold the store lock.
type table[T generic.Document[T]] struct {
	name string
	rows map[string]row
}

func newTable[T generic.Document[T]](name string) *table[T] {
	return &table[T]{name: name, rows: make(map[string]row)}
}

func (t *table[T]) snapshot() func() {
	saved := maps.Clone(t.rows)
	return func() { t.rows = saved }
}

func (t *table[T]) Get(_ context.Context, id string) (T, error) {
	r, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, generic.NotFound(t.name, id)
	}
	return store.Decode[T](r.doc)
}

func (t *table[T]) Find(_ context.Context, match func(T) bool) ([]T, error) {
	ids := slices.Sorted(maps.Keys(t.rows))
	out := []T{}
	for _, id := range ids {
		doc, err := store.Decode[T](t.rows[id].doc)
		if err != nil {
			return nil, err
		}
		if match(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (t *table[T]) Insert(_ context.Context, doc T) (T, error) {
	id := doc.DocumentID()
	if _, ok := t.rows[id]; ok {
		return doc, generic.ErrAlreadyExists
	}
	return t.put(doc.WithVersion(1))
}

func (t *table[T]) Update(_ context.Context, doc T) (T, error) {
	r, ok := t.rows[doc.DocumentID()]
	if !ok {
		return doc, generic.NotFound(t.name, doc.DocumentID())
	}
	if r.version != doc.DocumentVersion() {
		return doc, generic.ErrConcurrentModification
	}
	return t.put(doc.WithVersion(r.version + 1))
}

func (t *table[T]) Delete(_ context.Context, id string, version int64) error {
	r, ok := t.rows[id]
	if !ok {
		return generic.NotFound(t.name, id)
	}
	if r.version != version {
		return generic.ErrConcurrentModification
	}
	delete(t.rows, id)
	return nil
}

func (t *table[T]) put(doc T) (T, error) {
	b, err := store.Encode(doc)
	if err != nil {
		return doc, err
	}
	t.rows[doc.DocumentID()] = row{version: doc.DocumentVersion(), doc: b}
	return doc, nil
}

// =============================================================================
// LOCKED VIEW
// =============================================================================

type locked[T generic.Document[T]] struct {
	mu *sync.RWMutex
	t  *table[T]
}

func (l locked[T]) Get(ctx context.Context, id string) (T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.t.Get(ctx, id)
}

func (l locked[T]) Find(ctx context.Context, match func(T) bool) ([]T, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.t.Find(ctx, match)
}

func (l locked[T]) Insert(ctx context.Context, doc T) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t.Insert(ctx, doc)
}

func (l locked[T]) Update(ctx context.Context, doc T) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t.Update(ctx, doc)
}

func (l locked[T]) Delete(ctx context.Context, id string, version int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t.Delete(ctx, id, version)
}
