package core

import "sync"

// Store is the storage seam behind every registry. The in-memory
// implementation is the only one shipped; callers hold per-key locks
// around read-modify-write cycles.
type Store[T any] interface {
	Get(id string) (T, bool)
	Put(id string, v T)
	Keys() []string
	Len() int
}

// MemoryStore keeps values in insertion order. Overwriting an existing key
// keeps its original position.
type MemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{items: make(map[string]T)}
}

func (s *MemoryStore[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok
}

func (s *MemoryStore[T]) Put(id string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		s.order = append(s.order, id)
	}
	s.items[id] = v
}

func (s *MemoryStore[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
