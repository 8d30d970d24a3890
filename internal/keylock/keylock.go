// Package keylock serializes work per key while letting unrelated keys run in parallel.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set is a collection of mutexes addressed by string key. Entries are
// reference counted and dropped once no goroutine holds or waits on them.
// The zero value is ready to use.
type Set struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty Set.
func New() *Set {
	return &Set{locks: make(map[string]*entry)}
}

// Lock blocks until the key is held and returns the matching unlock func.
func (s *Set) Lock(key string) func() {
	s.mu.Lock()
	e := s.acquire(key)
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return s.releaser(key, e)
}

// TryLock takes the key only if nobody holds it right now.
func (s *Set) TryLock(key string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.acquire(key)
	if !e.mu.TryLock() {
		return nil, false
	}
	e.refs++
	return s.releaser(key, e), true
}

// Len reports how many keys are currently held or awaited.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// acquire must be called with s.mu held.
func (s *Set) acquire(key string) *entry {
	if s.locks == nil {
		s.locks = make(map[string]*entry)
	}
	e, ok := s.locks[key]
	if !ok {
		e = &entry{}
		s.locks[key] = e
	}
	return e
}

func (s *Set) releaser(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			s.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(s.locks, key)
			}
			s.mu.Unlock()
		})
	}
}
