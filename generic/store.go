/*
store.go - Persistence contracts for versioned documents

PURPOSE:
  Defines the interface between domain logic and the database. Every entity
  is stored as a whole document (a plain value record) together with a
  version number. Backends differ in how they store bytes, not in semantics.

KEY INTERFACES:
  Document:   a value record that knows its id and version
  Repository: load-by-id, query-by-predicate, insert, compare-and-set update,
              compare-and-set delete

COMPARE-AND-SET CONTRACT:
  Update(doc) succeeds only if the stored version equals doc's version, i.e.
  nobody committed since doc was read. The stored copy gets version+1 and is
  returned. Otherwise ErrConcurrentModification is returned and nothing is
  written. Delete follows the same rule.

IMPLEMENTATIONS:
  - store/memory: maps + snapshot/rollback, for tests and demos
  - store/sqlite: one table per entity, version column checked in UPDATE
  - store/bolt:   one bucket per entity, checked inside db.Update
  - store/dynamo: conditional writes on a version attribute

SEE ALSO:
  - engine/store.go: groups the four entity repositories + transactions
*/
package generic

import "context"

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is implemented by every persisted entity. T is the entity's own
// type so WithVersion can return a copy without type assertions.
type Document[T any] interface {
	DocumentID() string
	DocumentVersion() int64
	WithVersion(v int64) T
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository stores documents of one entity type.
type Repository[T Document[T]] interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, id string) (T, error)

	// Find returns every document matching the predicate, ordered by id.
	Find(ctx context.Context, match func(T) bool) ([]T, error)

	// Insert stores a new document at version 1. Fails with ErrAlreadyExists.
	Insert(ctx context.Context, doc T) (T, error)

	// Update replaces the document if its stored version equals doc's version.
	Update(ctx context.Context, doc T) (T, error)

	// Delete removes the document if its stored version equals version.
	Delete(ctx context.Context, id string, version int64) error
}

// All matches every document.
func All[T any](T) bool { return true }
