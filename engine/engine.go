/*
Package engine orchestrates the contract, booking, transfer and reward
transitions against a store.

PURPOSE:
  The domain packages (contract, booking, ledger, transfer, rewards) are
  pure: each transition takes a value and returns the next one. The engine
  loads the values, applies the transitions, checks who is asking, and
  writes the results back with compare-and-set.

OPERATION FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  caller ──▶ authorize ──▶ Store.WithTx ──▶ commit ──▶ dispatch    │
  │                             │                          events    │
  │                   load ─▶ transition ─▶ CAS write                │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

  Every operation that touches more than one entity runs inside a single
  Store.WithTx, so a rejected call leaves every entity as it was. Events
  are queued on an outbox during the transaction and dispatched only
  after commit. A failed dispatch is logged and never undoes the commit.

ACTIVATION:
  The second signature writes, in one transaction:
  - the contract (status active, booking and reward ids)
  - the booking, already active, with its ledger (installment 1 settled
    at signing when the contract asks for it)
  - the commitment reward (rent contracts only)

CASCADES:
  Cancelling or terminating a contract cancels its live booking and the
  booking's unpaid installments, and forfeits an earning reward.

SEE ALSO:
  - contracts.go, bookings.go, transfers.go, rewards.go: operations
  - sweep.go: overdue sweep
  - store/: persistence backends
*/
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/directory"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/store"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine exposes every lifecycle operation.
type Engine struct {
	store      store.Store
	catalog    catalog.Catalog
	directory  directory.Directory
	dispatcher generic.Dispatcher
	logger     *slog.Logger
	clock      generic.Clock
}

type Option func(*Engine)

// WithDispatcher sets where committed events go. Defaults to discarding them.
func WithDispatcher(d generic.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source, mostly for tests.
func WithClock(c generic.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an engine over a store and its collaborators.
func New(s store.Store, units catalog.Catalog, users directory.Directory, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		catalog:    units,
		directory:  users,
		dispatcher: generic.DiscardDispatcher{},
		logger:     slog.Default(),
		clock:      generic.SystemClock,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time { return e.clock() }

// =============================================================================
// TRANSACTIONS AND EVENTS
// =============================================================================

// outbox collects the events of one transaction.
type outbox struct {
	events []generic.Event
}

func (o *outbox) add(t generic.EventType, entityID string, at time.Time, attrs map[string]string) {
	o.events = append(o.events, generic.NewEvent(t, entityID, at, attrs))
}

// tx runs fn in one store transaction and dispatches its events after commit.
func (e *Engine) tx(ctx context.Context, fn func(r store.Repos, out *outbox) error) error {
	out := &outbox{}
	err := e.store.WithTx(ctx, func(r store.Repos) error {
		out.events = out.events[:0]
		return fn(r, out)
	})
	if err != nil {
		return err
	}
	e.dispatch(ctx, out.events)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, events []generic.Event) {
	for _, ev := range events {
		if err := e.dispatcher.Dispatch(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "event dispatch failed",
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
				slog.String("entity_id", ev.EntityID),
				slog.Any("error", err),
			)
		}
	}
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

// authorize passes operators and the listed user ids.
func authorize(actor generic.Actor, entity, id string, allowed ...string) error {
	if actor.IsOperator() {
		return nil
	}
	for _, a := range allowed {
		if a != "" && actor.ID == a {
			return nil
		}
	}
	return generic.Forbidden(entity, id, "user %q may not act on this %s", actor.ID, entity)
}

func requireOperator(actor generic.Actor, entity, id string) error {
	if actor.IsOperator() {
		return nil
	}
	return generic.Forbidden(entity, id, "operator role required")
}
