/*
Package store defines the persistence contract of the engine.

PURPOSE:
  Every entity the engine mutates is a versioned document stored in its own
  repository. A Store bundles the four repositories and a transaction
  boundary so that multi-entity writes (contract activation, cascades)
  commit together or not at all.

IMPLEMENTATIONS:
  memory/  maps of JSON documents, snapshot and rollback
  sqlite/  one table per entity, SQL transaction
  bolt/    one bucket per entity, bolt update transaction
  dynamo/  one table per entity, TransactWriteItems

  Every implementation applies compare-and-set on the version column:
  Update and Delete fail with generic.ErrConcurrentModification when the
  stored version differs from the version the caller read.

SEE ALSO:
  - generic/store.go: Document and Repository
  - storetest/: behaviour shared by every implementation
*/
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/transfer"
)

// Repos groups the repositories of one store or one transaction.
type Repos struct {
	Contracts generic.Repository[contract.Contract]
	Bookings  generic.Repository[booking.Booking]
	Transfers generic.Repository[transfer.Request]
	Rewards   generic.Repository[rewards.CommitmentReward]
}

// Store is a set of repositories with a transaction boundary.
type Store interface {
	// Repos returns repositories that commit every write on its own.
	Repos() Repos

	// WithTx runs fn against repositories bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Repos) error) error

	Close() error
}

// Entity names, also used as table and bucket names.
const (
	Contracts = "contracts"
	Bookings  = "bookings"
	Transfers = "transfers"
	Rewards   = "rewards"
)

// Tables lists every entity table in creation order.
var Tables = []string{Contracts, Bookings, Transfers, Rewards}

// Encode serializes a document for storage.
func Encode[T any](doc T) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b, nil
}

// Decode restores a stored document.
func Decode[T any](b []byte) (T, error) {
	var doc T
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
