package refresh

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bull/csa-content-sync/internal/hashstore"
)

// SyncState is the mutable state owned by one Orchestrator: the hash map,
// the pass lock and the outcome of the last pass.
type SyncState struct {
	pass    sync.Mutex
	running atomic.Bool

	mu         sync.RWMutex
	hashes     hashstore.Hashes
	updates    hashstore.Hashes
	lastResult *Result
}

// NewSyncState seeds the state with previously persisted hashes.
func NewSyncState(hashes hashstore.Hashes) *SyncState {
	if hashes == nil {
		hashes = hashstore.Hashes{}
	}
	return &SyncState{hashes: hashes.Clone(), updates: hashstore.Hashes{}}
}

// tryBegin acquires the pass lock without blocking.
func (s *SyncState) tryBegin() bool {
	if !s.pass.TryLock() {
		return false
	}
	s.running.Store(true)
	return true
}

func (s *SyncState) end() {
	s.running.Store(false)
	s.pass.Unlock()
}

// Running reports whether a pass is in flight.
func (s *SyncState) Running() bool {
	return s.running.Load()
}

func (s *SyncState) Hash(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[id]
	return h, ok
}

func (s *SyncState) setHash(id, hash string) {
	s.mu.Lock()
	s.hashes[id] = hash
	s.updates[id] = hash
	s.mu.Unlock()
}

// replaceHashes swaps in a freshly loaded map.
func (s *SyncState) replaceHashes(hashes hashstore.Hashes) {
	if hashes == nil {
		hashes = hashstore.Hashes{}
	}
	s.mu.Lock()
	s.hashes = hashes.Clone()
	s.mu.Unlock()
}

// takeUpdates returns the hashes set since the last call and clears them.
func (s *SyncState) takeUpdates() hashstore.Hashes {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.updates
	s.updates = hashstore.Hashes{}
	return out
}

// Hashes returns a copy of the hash map.
func (s *SyncState) Hashes() hashstore.Hashes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashes.Clone()
}

func (s *SyncState) LastResult() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

func (s *SyncState) setLastResult(r *Result) {
	s.mu.Lock()
	s.lastResult = r
	s.mu.Unlock()
}

// Result summarizes one refresh pass.
type Result struct {
	Started   time.Time
	Duration  time.Duration
	Forced    bool
	Checked   int
	Unchanged int
	Refreshed int
	Skipped   int
	Chunks    int
	Failed    []FailedSource
}

// FailedSource records a source whose fetch, embed or store step failed.
type FailedSource struct {
	ID     string
	Reason string
}
