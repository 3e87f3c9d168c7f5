package nav

import (
	"github.com/op/go-logging"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/radar"
)

// Branch names the decision step that produced a move.
type Branch string

const (
	BranchLoopEscape   Branch = "loop_escape"
	BranchExit         Branch = "exit"
	BranchGrid         Branch = "grid"
	BranchCompass      Branch = "compass"
	BranchLeastVisited Branch = "least_visited"
	BranchRuleOfThumb  Branch = "rule_of_thumb"
	BranchFollowLeader Branch = "follow_leader"
)

// LoopEscape selects what a detected loop does to the leader decision.
type LoopEscape string

const (
	// LoopEscapeAdvisory logs the least-visited alternative and keeps evaluating.
	LoopEscapeAdvisory LoopEscape = "advisory"
	// LoopEscapeOverride returns the least-visited alternative immediately.
	LoopEscapeOverride LoopEscape = "override"
)

const DefaultVisitThreshold = 3

type Config struct {
	VisitThreshold int
	LoopEscape     LoopEscape

	// ExitCheckAccess makes exit-seeking fall through when the exit direction is blocked.
	ExitCheckAccess bool
}

// Memory is the exploration state the engine reads.
type Memory interface {
	Visits(pos geo.Position) int
	IsRecentlyVisited(pos geo.Position) bool
}

// Hints is a copy of the shared hints taken before deciding. Nil means unknown.
type Hints struct {
	Compass *float64
	Grid    *geo.GridSize
	Exit    *geo.Position
}

type Decision struct {
	Direction geo.Direction `json:"direction"`
	Branch    Branch        `json:"branch"`
}

type Engine struct {
	cfg Config
	log *logging.Logger
}

func NewEngine(cfg Config, logger *logging.Logger) *Engine {
	if cfg.VisitThreshold <= 0 {
		cfg.VisitThreshold = DefaultVisitThreshold
	}
	if cfg.LoopEscape == "" {
		cfg.LoopEscape = LoopEscapeAdvisory
	}
	if logger == nil {
		logger = logging.MustGetLogger("nav")
	}
	return &Engine{cfg: cfg, log: logger}
}

func (e *Engine) Config() Config { return e.cfg }

// LeaderChooseAction runs the layered leader policy; it always produces a move.
func (e *Engine) LeaderChooseAction(v radar.View, mem Memory, pos geo.Position, h Hints) Decision {
	if mem.IsRecentlyVisited(pos) {
		alt, ok := ChooseLeastVisitedDirection(v, mem, pos)
		if ok {
			e.log.Infof("loop detected at %v, least visited is %v", pos, alt)
			if e.cfg.LoopEscape == LoopEscapeOverride {
				return Decision{Direction: alt, Branch: BranchLoopEscape}
			}
		} else {
			e.log.Infof("loop detected at %v, no accessible alternative", pos)
		}
	}

	if h.Exit != nil {
		d := FindPathToExit(pos, *h.Exit)
		if !e.cfg.ExitCheckAccess || IsAccessible(v, d) {
			e.log.Debugf("heading to exit %v via %v", *h.Exit, d)
			return Decision{Direction: d, Branch: BranchExit}
		}
		e.log.Debugf("exit direction %v blocked", d)
	}

	if h.Grid != nil {
		if d, ok := e.chooseGuided(v, mem, pos, FromGridSize(h.Grid)); ok {
			return Decision{Direction: d, Branch: BranchGrid}
		}
	}

	if h.Compass != nil {
		if d, ok := e.chooseGuided(v, mem, pos, FromAngle(*h.Compass)); ok {
			return Decision{Direction: d, Branch: BranchCompass}
		}
	}

	if d, ok := ChooseLeastVisitedDirection(v, mem, pos); ok {
		return Decision{Direction: d, Branch: BranchLeastVisited}
	}

	return Decision{Direction: DecideAction(v), Branch: BranchRuleOfThumb}
}

// FollowerChooseAction mirrors the leader's last move when possible. leader is nil when unknown.
func (e *Engine) FollowerChooseAction(v radar.View, leader *geo.Direction) Decision {
	if leader != nil {
		order := FollowLeaderDirection(*leader)
		if d, ok := ChooseAccessibleDirection(v, order[:]); ok {
			return Decision{Direction: d, Branch: BranchFollowLeader}
		}
		e.log.Debugf("leader move %v blocked in every substitute", *leader)
	}
	return Decision{Direction: DecideAction(v), Branch: BranchRuleOfThumb}
}

func (e *Engine) chooseGuided(v radar.View, mem Memory, pos geo.Position, order Order) (geo.Direction, bool) {
	for _, d := range order {
		if !IsAccessible(v, d) {
			continue
		}
		if mem.Visits(geo.Move(pos, d)) < e.cfg.VisitThreshold {
			return d, true
		}
	}
	return 0, false
}

// ChooseLeastVisitedDirection picks the accessible direction whose target has the fewest visits.
// Ties go to the earlier direction in Front, Right, Left, Back order.
func ChooseLeastVisitedDirection(v radar.View, mem Memory, pos geo.Position) (geo.Direction, bool) {
	var (
		best      geo.Direction
		bestCount int
		found     bool
	)
	for _, d := range geo.All {
		if !IsAccessible(v, d) {
			continue
		}
		n := mem.Visits(geo.Move(pos, d))
		if !found || n < bestCount {
			best, bestCount, found = d, n, true
		}
	}
	return best, found
}

// DecideAction is the rule of thumb: Right, Front, Left, and Back when nothing else is open.
func DecideAction(v radar.View) geo.Direction {
	for _, d := range [3]geo.Direction{geo.Right, geo.Front, geo.Left} {
		if IsAccessible(v, d) {
			return d
		}
	}
	return geo.Back
}

// FindPathToExit steps along the axis with the larger distance; ties go vertical.
func FindPathToExit(pos, exit geo.Position) geo.Direction {
	dx := exit.X - pos.X
	dy := exit.Y - pos.Y
	if abs(dx) > abs(dy) {
		if dx > 0 {
			return geo.Right
		}
		return geo.Left
	}
	if dy > 0 {
		return geo.Back
	}
	return geo.Front
}

// ComputeAbsolutePosition maps a 3x3 radar index to absolute coordinates around pos.
// Indexes outside 0..8 return pos.
func ComputeAbsolutePosition(pos geo.Position, index int) geo.Position {
	if index < 0 || index >= radar.GridCells {
		return pos
	}
	return pos.Add(index%3-1, index/3-1)
}

// DetectNearBorder lists the directions pointing away from any grid edge pos touches.
func DetectNearBorder(pos geo.Position, grid geo.GridSize) []geo.Direction {
	var out []geo.Direction
	if pos.X == 0 {
		out = append(out, geo.Right)
	}
	if pos.X == grid.Columns-1 {
		out = append(out, geo.Left)
	}
	if pos.Y == 0 {
		out = append(out, geo.Back)
	}
	if pos.Y == grid.Rows-1 {
		out = append(out, geo.Front)
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
