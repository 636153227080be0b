// Package observability tracks per-database operation statistics for
// performance monitoring.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the service.
const (
	OpExport = "export"
	OpImport = "import"
	OpSave   = "save"
	OpLoad   = "load"
)

// OperationStats holds statistics for one operation on one database.
type OperationStats struct {
	Database  string        `json:"database"`
	Operation string        `json:"operation"`
	Count     int64         `json:"count"`
	Failures  int64         `json:"failures"`
	Changes   int64         `json:"changes"`
	TotalTime time.Duration `json:"total_time_ns"`
	MaxTime   time.Duration `json:"max_time_ns"`
	LastSeen  time.Time     `json:"last_seen"`
	LastError string        `json:"last_error,omitempty"`
}

// MeanTime returns the average duration of the operation.
func (o OperationStats) MeanTime() time.Duration {
	if o.Count == 0 {
		return 0
	}
	return o.TotalTime / time.Duration(o.Count)
}

// Stats tracks operation statistics. Entries not seen within the window
// are dropped by Prune.
type Stats struct {
	mu     sync.RWMutex
	ops    map[string]*OperationStats
	window time.Duration
	now    func() time.Time
}

// NewStats creates a statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewStats(window time.Duration) *Stats {
	return &Stats{
		ops:    make(map[string]*OperationStats),
		window: window,
		now:    time.Now,
	}
}

func statsKey(database, operation string) string {
	return database + "\x00" + operation
}

// Record records one run of operation on database. A non-nil err counts
// as a failure; changes only count for successful runs.
// This method is O(1) and thread-safe.
func (s *Stats) Record(database, operation string, elapsed time.Duration, changes int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statsKey(database, operation)
	st, ok := s.ops[key]
	if !ok {
		st = &OperationStats{Database: database, Operation: operation}
		s.ops[key] = st
	}

	st.Count++
	st.TotalTime += elapsed
	if elapsed > st.MaxTime {
		st.MaxTime = elapsed
	}
	st.LastSeen = s.now()
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
		return
	}
	st.Changes += changes
}

// Top returns copies of the n most frequent entries, sorted by count
// (descending), then by database and operation.
func (s *Stats) Top(n int) []OperationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.ops) == 0 {
		return []OperationStats{}
	}
	out := s.collect(func(*OperationStats) bool { return true })
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Database returns copies of the entries of one database.
func (s *Stats) Database(name string) []OperationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(st *OperationStats) bool { return st.Database == name })
}

func (s *Stats) collect(keep func(*OperationStats) bool) []OperationStats {
	out := make([]OperationStats, 0, len(s.ops))
	for _, st := range s.ops {
		if keep(st) {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Database != out[j].Database {
			return out[i].Database < out[j].Database
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (s *Stats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-s.window)
	for key, st := range s.ops {
		if st.LastSeen.Before(threshold) {
			delete(s.ops, key)
		}
	}
}
