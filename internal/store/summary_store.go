package store

import (
	"sync"
	"time"

	"github.com/prohosp/flow-monitor/internal/models"
)

// State is what readers observe: the held Summary, the last error message and
// whether the first cycle is still outstanding. SyncedAt is nil until a
// Summary has been applied.
type State struct {
	Summary  models.Summary `json:"summary"`
	Error    string         `json:"error,omitempty"`
	Loading  bool           `json:"loading"`
	SyncedAt *time.Time     `json:"synced_at,omitempty"`
}

// SummaryStore holds the single canonical Summary and the last error.
type SummaryStore struct {
	mu       sync.RWMutex
	summary  models.Summary
	err      string
	loading  bool
	syncedAt time.Time
	now      func() time.Time
}

// NewSummaryStore returns an empty store in the loading state.
func NewSummaryStore() *SummaryStore {
	return &SummaryStore{loading: true, now: time.Now}
}

// Update replaces the held Summary as a whole and clears any error.
func (s *SummaryStore) Update(summary models.Summary) {
	summary = summary.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.err = ""
	s.loading = false
	s.syncedAt = s.now()
}

// SetError records message and leaves the held Summary untouched.
func (s *SummaryStore) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = message
	s.loading = false
}

// Read returns a copy of the current state.
func (s *SummaryStore) Read() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{
		Summary: s.summary.Clone(),
		Error:   s.err,
		Loading: s.loading,
	}
	if !s.syncedAt.IsZero() {
		synced := s.syncedAt
		st.SyncedAt = &synced
	}
	return st
}
