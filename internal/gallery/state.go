package gallery

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the mutable state of a Syncer: the pass lock, per-folder
// cursors and the outcome of the last pass.
type State struct {
	pass    sync.Mutex
	running atomic.Bool

	mu         sync.RWMutex
	cursors    map[string]Cursor
	lastResult *Result
}

// Cursor records when a folder was last reconciled and how many images it had.
type Cursor struct {
	LastSync time.Time
	Images   int
}

func newState() *State {
	return &State{cursors: make(map[string]Cursor)}
}

func (s *State) tryBegin() bool {
	if !s.pass.TryLock() {
		return false
	}
	s.running.Store(true)
	return true
}

func (s *State) end() {
	s.running.Store(false)
	s.pass.Unlock()
}

// Running reports whether a pass is in flight.
func (s *State) Running() bool {
	return s.running.Load()
}

// Cursor returns the cursor of a folder.
func (s *State) Cursor(folder string) (Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[folder]
	return c, ok
}

func (s *State) setCursor(folder string, c Cursor) {
	s.mu.Lock()
	s.cursors[folder] = c
	s.mu.Unlock()
}

func (s *State) LastResult() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

func (s *State) setLastResult(r *Result) {
	s.mu.Lock()
	s.lastResult = r
	s.mu.Unlock()
}

// Result summarizes one gallery pass.
type Result struct {
	Started  time.Time
	Duration time.Duration
	Trigger  string
	Folders  []FolderResult
	Synced   int
	Skipped  int
	Failed   int
	Deleted  int
}

func (r *Result) add(fr FolderResult) {
	r.Folders = append(r.Folders, fr)
	r.Synced += fr.Synced
	r.Skipped += fr.Skipped
	r.Failed += fr.Failed
	r.Deleted += fr.Deleted
}

// FolderResult holds the reconciliation counts of one folder.
type FolderResult struct {
	Folder  string
	EventID string
	Synced  int
	Skipped int
	Failed  int
	Deleted int
	Err     string
}
