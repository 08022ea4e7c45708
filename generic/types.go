/*
Package generic provides the shared kernel of the lease engine.

PURPOSE:
  This package contains the domain-agnostic building blocks every other
  package leans on: money arithmetic, calendar helpers, actor identity,
  the error taxonomy, versioned repositories and domain events. Nothing in
  here knows what a contract, booking or reward is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money:  decimal amounts (never float64) plus a few helpers
  - Actor:  who is performing an operation and in which role
  - NewID:  prefixed, collision-free identifiers

DESIGN PRINCIPLES:
  1. Immutability: entities are plain value records, mutated by returning copies
  2. Precision: uses decimal.Decimal to avoid floating-point errors
  3. Explicit concurrency: every write carries the version it was read at

SEE ALSO:
  - errors.go: NotFound / Validation / Authorization / Conflict / Invariant
  - store.go:  Document and Repository contracts
  - events.go: Event and Dispatcher contracts
*/
package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a non-currency-aware monetary amount.
type Money = decimal.Decimal

// NewMoney builds an amount from whole units.
func NewMoney(units int64) Money { return decimal.NewFromInt(units) }

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator" // administrative overrides
	RoleSystem   Role = "system"   // scheduler, gateway callbacks
)

// Actor identifies the caller of an engine operation.
// Authentication happens outside the engine; the engine only checks ownership.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsOperator() bool { return a.Role == RoleOperator || a.Role == RoleSystem }

// SystemActor is used for operations triggered by timers and gateway callbacks.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a random identifier with a readable prefix, e.g. "ctr-9f1c...".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
