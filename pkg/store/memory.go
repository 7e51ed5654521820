package store

import (
	"context"
	"sort"
	"sync"

	"github.com/praxisflow/praxis/pkg/core"
)

// MemoryStore is a mutex-guarded in-memory role-binding store. It
// implements core.Storage and is intended for tests and development.
type MemoryStore struct {
	mu       sync.RWMutex
	bindings map[bindingKey]core.RoleBinding
}

type bindingKey struct {
	thingID string
	roleID  string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[bindingKey]core.RoleBinding)}
}

// GetAllRoleBindings implements core.Storage. Bindings are returned in
// ascending start-time order to match the SQLite store.
func (s *MemoryStore) GetAllRoleBindings(_ context.Context) ([]core.RoleBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bindings := make([]core.RoleBinding, 0, len(s.bindings))
	for _, b := range s.bindings {
		bindings = append(bindings, b)
	}
	sort.SliceStable(bindings, func(i, j int) bool {
		return bindings[i].Witness.StartTime.Before(bindings[j].Witness.StartTime)
	})
	return bindings, nil
}

// UpdateRoleBinding implements core.Storage with upsert semantics on
// (thing id, role id).
func (s *MemoryStore) UpdateRoleBinding(_ context.Context, binding core.RoleBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[bindingKey{thingID: binding.ThingID, roleID: binding.RoleID}] = binding
	return nil
}

// Len returns the number of stored bindings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}
