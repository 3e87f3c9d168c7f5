package team

import (
	"sync"
	"sync/atomic"

	"github.com/op/go-logging"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/nav"
	"labyrinth.ai/internal/radar"
)

var log = logging.MustGetLogger("team")

// Role decides which decision path an agent runs for a turn.
type Role int

const (
	// RoleSolo runs the leader algorithm without being the elected leader.
	RoleSolo Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	}
	return "solo"
}

// State is the coordination state shared by every agent of a team.
// Each field has its own lock; reads across fields are not atomic.
type State struct {
	leaderMu  sync.Mutex
	leader    string
	hasLeader bool

	actionMu     sync.Mutex
	leaderAction *geo.Direction

	compassMu sync.Mutex
	compass   *float64

	gridMu sync.Mutex
	grid   *geo.GridSize

	exitMu sync.Mutex
	exit   *geo.Position

	mapMu sync.RWMutex
	cells map[geo.Position]radar.Cell

	connected atomic.Int32
}

func NewState() *State {
	return &State{cells: map[geo.Position]radar.Cell{}}
}

func (s *State) Leader() (string, bool) {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	return s.leader, s.hasLeader
}

// ElectOnCompass makes id the leader if no leader is set. It reports whether id holds the role.
func (s *State) ElectOnCompass(id string) bool {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()
	if !s.hasLeader {
		s.leader = id
		s.hasLeader = true
		log.Noticef("%s elected leader", id)
	}
	return s.leader == id
}

func (s *State) ResetLeader() {
	s.leaderMu.Lock()
	s.leader = ""
	s.hasLeader = false
	s.leaderMu.Unlock()

	s.actionMu.Lock()
	s.leaderAction = nil
	s.actionMu.Unlock()
}

// RoleFor reports how id should decide this turn.
func (s *State) RoleFor(id string) Role {
	leader, ok := s.Leader()
	switch {
	case !ok:
		return RoleSolo
	case leader == id:
		return RoleLeader
	case s.Connected() > 1:
		return RoleFollower
	}
	return RoleSolo
}

func (s *State) SetLeaderAction(d geo.Direction) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	s.leaderAction = &d
}

func (s *State) LeaderAction() *geo.Direction {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	if s.leaderAction == nil {
		return nil
	}
	d := *s.leaderAction
	return &d
}

func (s *State) SetCompass(angle float64) {
	s.compassMu.Lock()
	defer s.compassMu.Unlock()
	s.compass = &angle
}

func (s *State) Compass() *float64 {
	s.compassMu.Lock()
	defer s.compassMu.Unlock()
	if s.compass == nil {
		return nil
	}
	a := *s.compass
	return &a
}

func (s *State) SetGrid(g geo.GridSize) {
	s.gridMu.Lock()
	defer s.gridMu.Unlock()
	s.grid = &g
}

func (s *State) Grid() *geo.GridSize {
	s.gridMu.Lock()
	defer s.gridMu.Unlock()
	if s.grid == nil {
		return nil
	}
	g := *s.grid
	return &g
}

// SetExit records the exit once. It reports whether this call set it.
// p is in the coordinate frame of the agent that saw the exit; agents do not share an origin,
// so other agents read it against their own frame as an approximation.
func (s *State) SetExit(p geo.Position) bool {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	if s.exit != nil {
		return false
	}
	s.exit = &p
	return true
}

func (s *State) Exit() *geo.Position {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	if s.exit == nil {
		return nil
	}
	p := *s.exit
	return &p
}

// RecordCell overwrites the last observation for p.
func (s *State) RecordCell(p geo.Position, c radar.Cell) {
	s.mapMu.Lock()
	s.cells[p] = c
	s.mapMu.Unlock()
}

func (s *State) Cell(p geo.Position) (radar.Cell, bool) {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	c, ok := s.cells[p]
	return c, ok
}

// Map returns a copy of the labyrinth map.
func (s *State) Map() map[geo.Position]radar.Cell {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	out := make(map[geo.Position]radar.Cell, len(s.cells))
	for p, c := range s.cells {
		out[p] = c
	}
	return out
}

func (s *State) MapSize() int {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	return len(s.cells)
}

func (s *State) Connect() int { return int(s.connected.Add(1)) }

// Disconnect drops one agent; when a single agent remains the leader role is cleared.
func (s *State) Disconnect() int {
	n := int(s.connected.Add(-1))
	if n == 1 {
		s.ResetLeader()
		log.Notice("one agent left, leader reset")
	}
	return n
}

func (s *State) Connected() int { return int(s.connected.Load()) }

// Hints copies the shared hints field by field.
func (s *State) Hints() nav.Hints {
	return nav.Hints{
		Compass: s.Compass(),
		Grid:    s.Grid(),
		Exit:    s.Exit(),
	}
}
