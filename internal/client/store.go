// Package client implements the client half of the synchronization layer:
// the local diagram store and the bridge that couples it to one relay
// connection.
package client

import (
	"sync"

	"collaborative-diagram/internal/domain"
)

// Source tags where a mutation entered the store. The bridge forwards only
// locally originated changes, which is what breaks the echo loop.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

// Change is the store's notification unit. It carries the complete current
// diagram rather than a diff; at this system's scale (dozens of entities)
// simplicity wins over bandwidth.
type Change struct {
	Diagram  domain.UMLDiagram
	Mutation domain.Mutation // nil for a wholesale Replace
	Source   Source
}

// Store is the single mutable source of truth for the diagram on one client.
// Local UI actions and inbound remote mutations reach the same merge logic;
// only the Source tag differs.
type Store struct {
	mu      sync.Mutex
	diagram domain.UMLDiagram
	subs    []func(Change)
}

// NewStore creates a store with a fresh empty diagram.
func NewStore() *Store {
	return &Store{diagram: domain.NewDiagram("New Diagram")}
}

// Subscribe registers a change listener. Listeners run synchronously on the
// goroutine that applied the mutation and must not block.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Apply merges a locally originated mutation. Returns whether the diagram
// changed; no-ops (duplicate adds, updates to missing ids) produce no
// notification.
func (s *Store) Apply(m domain.Mutation) bool {
	return s.apply(m, SourceLocal)
}

// ApplyRemote merges a mutation received from the relay.
func (s *Store) ApplyRemote(m domain.Mutation) bool {
	return s.apply(m, SourceRemote)
}

func (s *Store) apply(m domain.Mutation, src Source) bool {
	s.mu.Lock()
	changed := s.diagram.Apply(m)
	var snapshot domain.UMLDiagram
	var subs []func(Change)
	if changed {
		snapshot = s.diagram.Clone()
		subs = append(([]func(Change))(nil), s.subs...)
	}
	s.mu.Unlock()

	if !changed {
		return false
	}
	change := Change{Diagram: snapshot, Mutation: m, Source: src}
	for _, fn := range subs {
		fn(change)
	}
	return true
}

// Replace swaps the entire diagram for a server snapshot. This is the one
// path where remote data overwrites local state unconditionally: the seed
// after joining a room.
func (s *Store) Replace(d domain.UMLDiagram) {
	s.mu.Lock()
	s.diagram = d.Clone()
	snapshot := s.diagram.Clone()
	subs := append(([]func(Change))(nil), s.subs...)
	s.mu.Unlock()

	change := Change{Diagram: snapshot, Mutation: nil, Source: SourceRemote}
	for _, fn := range subs {
		fn(change)
	}
}

// Snapshot returns a deep copy of the current diagram.
func (s *Store) Snapshot() domain.UMLDiagram {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagram.Clone()
}
