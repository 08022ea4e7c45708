/*
Package notify delivers domain events.

PURPOSE:
  The engine emits a generic.Event after every committed transition and
  hands it to a single generic.Dispatcher. This package provides the
  dispatchers a deployment composes:

    Log            structured log line per event (slog)
    SQS            JSON message per event on an AWS SQS queue
    CatalogRelease flips a unit back to available on ResourceReleased
    Multi          fan-out to several dispatchers
    Recorder       keeps events in memory (tests, admin inspection)

  Delivery is fire-and-forget from the engine's point of view: errors are
  returned so the engine can log them, never to undo a transition.
*/
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/generic"
)

// =============================================================================
// LOG
// =============================================================================

type Log struct {
	Logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log { return &Log{Logger: logger} }

func (d *Log) Dispatch(ctx context.Context, e generic.Event) error {
	attrs := make([]any, 0, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	d.Logger.InfoContext(ctx, "domain event",
		slog.String("event_id", e.ID),
		slog.String("type", string(e.Type)),
		slog.String("entity_id", e.EntityID),
		slog.Time("occurred_at", e.OccurredAt),
		slog.Group("attributes", attrs...),
	)
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi dispatches to every target and joins their errors.
type Multi []generic.Dispatcher

func (m Multi) Dispatch(ctx context.Context, e generic.Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// CATALOG RELEASE
// =============================================================================

// UnitUpdater is the part of a catalog that can change availability.
type UnitUpdater interface {
	SetStatus(ctx context.Context, unitID string, status catalog.Status) error
}

// CatalogRelease applies ResourceReleased events to the catalog.
type CatalogRelease struct {
	Units UnitUpdater
}

func (d CatalogRelease) Dispatch(ctx context.Context, e generic.Event) error {
	if e.Type != generic.EventResourceReleased {
		return nil
	}
	unitID := e.Attributes["unit_id"]
	if unitID == "" {
		return generic.Invalid("event", "resource_released without unit_id")
	}
	return d.Units.SetStatus(ctx, unitID, catalog.StatusAvailable)
}

// =============================================================================
// RECORDER
// =============================================================================

type Recorder struct {
	mu     sync.Mutex
	events []generic.Event
}

func (r *Recorder) Dispatch(_ context.Context, e generic.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []generic.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]generic.Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []generic.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]generic.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
