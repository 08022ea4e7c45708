/*
Package catalog is the unit catalog collaborator.

PURPOSE:
  The engine only needs two questions answered about a unit: does it exist
  (and what does it cost), and is it available right now. The real catalog
  lives elsewhere; Memory is the in-process implementation used by the
  server in development and by tests.

  The engine never flips availability itself. Releasing a unit after a
  completed booking is a ResourceReleased event, applied here by
  notify.CatalogRelease.
*/
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusOccupied    Status = "occupied"
	StatusMaintenance Status = "maintenance"
)

// Unit is the catalog projection the engine reads.
type Unit struct {
	ID        string           `json:"id"`
	Name      string           `json:"name,omitempty"`
	Status    Status           `json:"status"`
	RentPrice *decimal.Decimal `json:"rent_price,omitempty"`
	SalePrice *decimal.Decimal `json:"sale_price,omitempty"`
}

// Catalog answers unit lookups.
type Catalog interface {
	GetUnit(ctx context.Context, unitID string) (Unit, error)
	IsAvailable(ctx context.Context, unitID string) (bool, error)
}

// =============================================================================
// MEMORY CATALOG
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	units map[string]Unit
}

func NewMemory(units ...Unit) *Memory {
	m := &Memory{units: make(map[string]Unit)}
	for _, u := range units {
		m.units[u.ID] = u
	}
	return m
}

// Register adds or replaces a unit.
func (m *Memory) Register(u Unit) error {
	if u.ID == "" {
		return generic.Invalid("unit", "id is required")
	}
	if u.Status == "" {
		u.Status = StatusAvailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[u.ID] = u
	return nil
}

// SetStatus changes the availability of a known unit.
func (m *Memory) SetStatus(_ context.Context, unitID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[unitID]
	if !ok {
		return generic.NotFound("unit", unitID)
	}
	u.Status = status
	m.units[unitID] = u
	return nil
}

func (m *Memory) GetUnit(_ context.Context, unitID string) (Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[unitID]
	if !ok {
		return Unit{}, generic.NotFound("unit", unitID)
	}
	return u, nil
}

func (m *Memory) IsAvailable(ctx context.Context, unitID string) (bool, error) {
	u, err := m.GetUnit(ctx, unitID)
	if err != nil {
		return false, err
	}
	return u.Status == StatusAvailable, nil
}

// List returns every unit ordered by id.
func (m *Memory) List() []Unit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
