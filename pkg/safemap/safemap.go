// Package safemap provides a mutex-guarded map shared by concurrently
// running requests.
package safemap

import "sync"

// Map is a string-keyed map safe for concurrent use. The zero value is ready.
type Map[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// New creates an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{m: make(map[string]V)}
}

// Set stores value under key, replacing any previous value.
func (s *Map[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]V)
	}
	s.m[key] = value
}

// Get returns the value stored under key.
func (s *Map[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

// Pop removes key and returns its value. Only one of several concurrent
// callers for the same key observes ok == true.
func (s *Map[V]) Pop(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return v, ok
}

// Len returns the number of entries.
func (s *Map[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Range calls fn for a snapshot of the entries.
func (s *Map[V]) Range(fn func(key string, value V)) {
	s.mu.Lock()
	snapshot := make(map[string]V, len(s.m))
	for k, v := range s.m {
		snapshot[k] = v
	}
	s.mu.Unlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}
