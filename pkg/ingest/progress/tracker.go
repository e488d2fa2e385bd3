// Package progress tracks the aggregate counters of a producer run and broadcasts
// point-in-time snapshots of them to observers.
package progress

import (
	"maps"
	"sync"
	"time"

	"github.com/stackvity/stack-ingest/pkg/ingest/classify"
)

// Outcome is the final accounting result for one file.
type Outcome int

const (
	// OutcomeAccepted means a record was built and published.
	OutcomeAccepted Outcome = iota
	// OutcomeSkipped means the category is not retained.
	OutcomeSkipped
	// OutcomeFailed means processing the file failed; it is counted as skipped.
	OutcomeFailed
)

// Snapshot is a point-in-time copy of the run counters.
//
// TotalRemaining starts at the number of discovered files and is decremented only
// for Archive and Email files; Text files leave it untouched. Consumers that depend
// on the historical meaning of this counter rely on that asymmetry.
type Snapshot struct {
	Accepted       int       `json:"accepted"`
	Skipped        int       `json:"skipped"`
	TotalRemaining int       `json:"totalRemaining"`
	Failed         int       `json:"failed"`
	Discovered     int       `json:"discovered"`
	Final          bool      `json:"final"`
	Cancelled      bool      `json:"cancelled"`
	At             time.Time `json:"at"`
}

// Processed returns the number of files whose outcome has been recorded.
func (s Snapshot) Processed() int { return s.Accepted + s.Skipped }

// Tracker owns the counters for a run. Record is expected to be called from a
// single producer goroutine; Snapshot and Subscribe are safe from any goroutine.
type Tracker struct {
	mu         sync.Mutex
	snap       Snapshot
	byCategory map[classify.Category]int
	broadcast  *Broadcaster[Snapshot]
}

// NewTracker creates a Tracker with zeroed counters.
func NewTracker() *Tracker {
	return &Tracker{
		byCategory: make(map[classify.Category]int),
		broadcast:  NewBroadcaster[Snapshot](),
	}
}

// Reset zeroes the counters for a new run over total discovered files.
func (t *Tracker) Reset(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{Discovered: total, TotalRemaining: total}
	t.byCategory = make(map[classify.Category]int)
}

// Record applies the outcome for one file and returns the updated snapshot.
// An empty category (classification itself failed) is counted but not attributed.
func (t *Tracker) Record(category classify.Category, outcome Outcome) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch outcome {
	case OutcomeAccepted:
		t.snap.Accepted++
	case OutcomeSkipped:
		t.snap.Skipped++
	case OutcomeFailed:
		t.snap.Skipped++
		t.snap.Failed++
	}
	if category == classify.CategoryArchive || category == classify.CategoryEmail {
		t.snap.TotalRemaining--
	}
	if category != "" {
		t.byCategory[category]++
	}
	s := t.snap
	s.At = time.Now()
	return s
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snap
	s.At = time.Now()
	return s
}

// Categories returns a copy of the per-category file counts.
func (t *Tracker) Categories() map[classify.Category]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.byCategory)
}

// Publish broadcasts the current snapshot to all subscribers and returns it.
func (t *Tracker) Publish(final, cancelled bool) Snapshot {
	t.mu.Lock()
	s := t.snap
	t.mu.Unlock()
	s.Final = final
	s.Cancelled = cancelled
	s.At = time.Now()
	t.broadcast.Publish(s)
	return s
}

// Subscribe attaches a new observer. See Broadcaster.Subscribe.
func (t *Tracker) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return t.broadcast.Subscribe(buffer)
}

// Close closes all subscriber channels. The Tracker must not be published to afterwards.
func (t *Tracker) Close() {
	t.broadcast.Close()
}
