// Package cache provides the client-side caches for object store data.
//
// Everything cached here is content-addressed and therefore never goes
// stale; entries are kept for the lifetime of the cache and there is no
// invalidation.
package cache

import (
	"sync"

	"github.com/shatterbird/birdfs/pkg/models"
)

// Level is how much of a node the cache holds.
type Level int

const (
	// LevelNone means the node is not cached.
	LevelNone Level = iota
	// LevelInfo means only id and kind are cached.
	LevelInfo
	// LevelFull means the node's content is cached.
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelFull:
		return "full"
	}
	return "none"
}

func levelOf(n *models.Node) Level {
	if n.Full() {
		return LevelFull
	}
	return LevelInfo
}

// Store caches commits by oid and nodes by id.
//
// Node completeness is monotonic: once a node is held at LevelFull, putting
// an info-only copy of it is ignored. A Store is safe for concurrent use and
// is meant to be created per client and passed in explicitly.
type Store struct {
	mu      sync.RWMutex
	commits map[string]*models.Commit
	nodes   map[string]*models.Node
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		commits: make(map[string]*models.Commit),
		nodes:   make(map[string]*models.Node),
	}
}

// Commit returns the commit cached under oid.
func (s *Store) Commit(oid string) (*models.Commit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commits[oid]
	return c, ok
}

// PutCommit caches c under its oid.
func (s *Store) PutCommit(c *models.Commit) {
	if c == nil || c.OID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[c.OID] = c
}

// Node returns whatever is cached for id, and at which level.
func (s *Store) Node(id models.ID) (*models.Node, Level) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id.String()]
	if !ok {
		return nil, LevelNone
	}
	return n, levelOf(n)
}

// FullNode returns the node only if its content is cached.
func (s *Store) FullNode(id models.ID) (*models.Node, bool) {
	n, level := s.Node(id)
	if level != LevelFull {
		return nil, false
	}
	return n, true
}

// PutNode caches n and returns the entry the cache now holds, which is the
// existing full entry when n is info-only and a full entry is present.
func (s *Store) PutNode(n *models.Node) *models.Node {
	if n == nil || n.ID.IsZero() {
		return n
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := n.ID.String()
	if existing, ok := s.nodes[key]; ok && levelOf(existing) > levelOf(n) {
		return existing
	}
	s.nodes[key] = n
	return n
}

// Stats returns the number of cached commits and nodes per level.
func (s *Store) Stats() (commits, infoNodes, fullNodes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.Full() {
			fullNodes++
		} else {
			infoNodes++
		}
	}
	return len(s.commits), infoNodes, fullNodes
}
