package auth

import (
	"sync"

	"github.com/erp/docsync/internal/domain/identity"
)

// Session is a mutable identity.Provider. Signing in or out notifies every
// watcher synchronously, in registration order.
type Session struct {
	mu       sync.Mutex
	current  identity.Identity
	signedIn bool
	nextID   int
	watchers map[int]func(identity.Identity, bool)
	order    []int
}

// NewSession creates a signed-out session
func NewSession() *Session {
	return &Session{watchers: make(map[int]func(identity.Identity, bool))}
}

// NewSessionFor creates a session already signed in as id
func NewSessionFor(id identity.Identity) *Session {
	s := NewSession()
	if !id.IsZero() {
		s.current = id
		s.signedIn = true
	}
	return s
}

// Current returns the signed-in identity
func (s *Session) Current() (identity.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.signedIn
}

// SetIdentity signs in as id. A zero identity signs out.
func (s *Session) SetIdentity(id identity.Identity) {
	if id.IsZero() {
		s.Clear()
		return
	}
	s.mu.Lock()
	if s.signedIn && s.current == id {
		s.mu.Unlock()
		return
	}
	s.current = id
	s.signedIn = true
	fns := s.snapshotWatchers()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id, true)
	}
}

// Clear signs out
func (s *Session) Clear() {
	s.mu.Lock()
	if !s.signedIn {
		s.mu.Unlock()
		return
	}
	s.current = identity.Identity{}
	s.signedIn = false
	fns := s.snapshotWatchers()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(identity.Identity{}, false)
	}
}

// Watch registers fn for identity changes and returns its cancel func
func (s *Session) Watch(fn func(identity.Identity, bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
			for i, w := range s.order {
				if w == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// snapshotWatchers copies the watcher list. Callers hold s.mu.
func (s *Session) snapshotWatchers() []func(identity.Identity, bool) {
	fns := make([]func(identity.Identity, bool), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.watchers[id])
	}
	return fns
}

var _ identity.Provider = (*Session)(nil)
