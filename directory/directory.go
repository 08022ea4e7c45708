// Package directory is the user directory collaborator. The engine uses it
// to confirm that the parties of a contract exist; it holds no business rules.
package directory

import (
	"context"
	"sync"

	"github.com/warp/lease-engine/generic"
)

type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// Memory is an in-process directory.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
	open  bool
}

func NewMemory(users ...User) *Memory {
	m := &Memory{users: make(map[string]User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

// Open returns a directory that knows every id, for deployments where the
// identity provider sits in front of the engine.
func Open() *Memory {
	return &Memory{users: make(map[string]User), open: true}
}

func (m *Memory) Add(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) GetUser(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	if m.open && id != "" {
		return User{ID: id}, nil
	}
	return User{}, generic.NotFound("user", id)
}
