package explore

import (
	"sync"

	"github.com/op/go-logging"

	"labyrinth.ai/internal/geo"
)

var log = logging.MustGetLogger("explore")

const (
	DefaultCapacity = 8
	DefaultLoopMin  = 5

	alertMin = 3
)

// Tracker records visit counts and a bounded recent history for one agent.
type Tracker struct {
	capacity int
	loopMin  int

	mu      sync.Mutex
	visits  map[geo.Position]int
	history []geo.Position
	last    geo.Direction
	hasLast bool
}

func NewTracker(capacity, loopMin int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if loopMin <= 0 {
		loopMin = DefaultLoopMin
	}
	return &Tracker{
		capacity: capacity,
		loopMin:  loopMin,
		visits:   map[geo.Position]int{},
		history:  make([]geo.Position, 0, capacity),
	}
}

// MarkPosition counts a visit to pos, appends it to the history and records dir.
func (t *Tracker) MarkPosition(pos geo.Position, dir geo.Direction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.visits[pos]++
	t.history = append(t.history, pos)
	if over := len(t.history) - t.capacity; over > 0 {
		copy(t.history, t.history[over:])
		t.history = t.history[:t.capacity]
	}
	t.last = dir
	t.hasLast = true

	if len(t.history) >= alertMin && containsPos(t.history[:len(t.history)-1], pos) {
		log.Debugf("loop alert at %v (visits=%d)", pos, t.visits[pos])
	}
}

// IsRecentlyVisited is false until loopMin positions are recorded; then it reports whether
// pos appears in the history other than the latest entry.
func (t *Tracker) IsRecentlyVisited(pos geo.Position) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) < t.loopMin {
		return false
	}
	return containsPos(t.history[:len(t.history)-1], pos)
}

func (t *Tracker) Visits(pos geo.Position) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visits[pos]
}

func (t *Tracker) History() []geo.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]geo.Position(nil), t.history...)
}

func (t *Tracker) LastDirection() (geo.Direction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

// VisitCounts returns a copy of the visit map.
func (t *Tracker) VisitCounts() map[geo.Position]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[geo.Position]int, len(t.visits))
	for p, n := range t.visits {
		out[p] = n
	}
	return out
}

// Restore seeds visit counts, e.g. from a snapshot. History is left empty.
func (t *Tracker) Restore(counts map[geo.Position]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, n := range counts {
		if n > t.visits[p] {
			t.visits[p] = n
		}
	}
}

func containsPos(ps []geo.Position, p geo.Position) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}
