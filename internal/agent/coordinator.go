package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/op/go-logging"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/nav"
	"labyrinth.ai/internal/observerproto"
	"labyrinth.ai/internal/persistence/indexdb"
	plog "labyrinth.ai/internal/persistence/log"
	"labyrinth.ai/internal/radar"
)

var clog = logging.MustGetLogger("coord")

type ReportKind uint8

const (
	ReportTurn ReportKind = iota + 1
	ReportHint
	ReportExit
	ReportLeader
	ReportChallenge
	ReportCollision
	ReportDecodeError
)

func (k ReportKind) String() string {
	switch k {
	case ReportTurn:
		return "turn"
	case ReportHint:
		return "hint"
	case ReportExit:
		return "exit"
	case ReportLeader:
		return "leader"
	case ReportChallenge:
		return "challenge"
	case ReportCollision:
		return "collision"
	case ReportDecodeError:
		return "decode_error"
	}
	return "unknown"
}

// MapCell is one radar cell projected to absolute coordinates.
type MapCell struct {
	Position geo.Position
	Cell     radar.Cell
}

type ChallengeResult struct {
	Modulo   string
	Answer   string
	Attempts int
	Solved   bool
}

// Report is what an agent tells the coordinator. Kind selects the meaningful fields; for turns
// Position is where the agent stood before the move.
type Report struct {
	Kind  ReportKind
	Agent string
	Time  time.Time

	Turn     uint64
	Position geo.Position
	Action   geo.Direction
	Leader   bool
	Branch   nav.Branch
	Radar    string
	Cells    []MapCell

	Hint  string
	Angle *float64
	Grid  *geo.GridSize
	Exit  *geo.Position

	Challenge *ChallengeResult
}

// Counters are per-agent totals.
type Counters struct {
	Turns            uint64            `json:"turns"`
	LeaderTurns      uint64            `json:"leader_turns"`
	Hints            uint64            `json:"hints"`
	Challenges       uint64            `json:"challenges"`
	ChallengesSolved uint64            `json:"challenges_solved"`
	Collisions       uint64            `json:"collisions"`
	DecodeErrors     uint64            `json:"decode_errors"`
	Branches         map[string]uint64 `json:"branches"`
}

// Journal receives one record per decided turn.
type Journal interface {
	WriteTurn(plog.TurnRecord) error
}

type Index interface {
	WriteTurn(indexdb.TurnRow)
	WriteCell(indexdb.CellRow)
	WriteChallenge(indexdb.ChallengeRow)
}

type Observer interface {
	PublishReport(observerproto.ReportMsg)
	PublishHint(observerproto.HintMsg)
}

type Publisher interface {
	PublishJSON(sub string, v any, retained bool)
}

// Sinks are the optional report consumers. Leave a field nil to disable it.
type Sinks struct {
	Journal  Journal
	Index    Index
	Observer Observer
	MQTT     Publisher
}

// Coordinator drains the team report channel and fans every report out to the sinks.
type Coordinator struct {
	runID string
	ch    chan Report
	sinks Sinks

	mu       sync.Mutex
	counters map[string]*Counters
}

func NewCoordinator(runID string, buffer int, sinks Sinks) *Coordinator {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Coordinator{
		runID:    runID,
		ch:       make(chan Report, buffer),
		sinks:    sinks,
		counters: map[string]*Counters{},
	}
}

func (c *Coordinator) Reports() chan<- Report { return c.ch }

// Run handles reports until ctx is done, then drains what is already queued.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case r := <-c.ch:
			c.Handle(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-c.ch:
					c.Handle(r)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) Handle(r Report) {
	c.count(r)
	switch r.Kind {
	case ReportTurn:
		c.turn(r)
	case ReportHint:
		clog.Infof("%s hint %s", r.Agent, r.Hint)
		c.publishHint(r, r.Hint)
	case ReportExit:
		clog.Noticef("%s exit at %v", r.Agent, *r.Exit)
		c.publishHint(r, "Exit")
		if c.sinks.MQTT != nil {
			c.sinks.MQTT.PublishJSON("exit", map[string]any{"agent": r.Agent, "x": r.Exit.X, "y": r.Exit.Y}, true)
		}
	case ReportLeader:
		clog.Noticef("%s leads the team", r.Agent)
		if c.sinks.MQTT != nil {
			c.sinks.MQTT.PublishJSON("leader", map[string]any{"agent": r.Agent, "time": r.Time}, true)
		}
	case ReportChallenge:
		ch := r.Challenge
		clog.Infof("%s challenge mod %s answer=%s attempts=%d solved=%v", r.Agent, ch.Modulo, ch.Answer, ch.Attempts, ch.Solved)
		if c.sinks.Index != nil {
			c.sinks.Index.WriteChallenge(indexdb.ChallengeRow{
				RunID:    c.runID,
				Agent:    r.Agent,
				Modulo:   ch.Modulo,
				Answer:   ch.Answer,
				Attempts: ch.Attempts,
				Solved:   ch.Solved,
				At:       r.Time,
			})
		}
	case ReportCollision:
		clog.Debugf("%s collision, position %v", r.Agent, r.Position)
	case ReportDecodeError:
		clog.Warningf("%s undecodable radar %q", r.Agent, r.Radar)
	}
}

func (c *Coordinator) turn(r Report) {
	clog.Debugf("%s turn %d %v -> %s (%s)", r.Agent, r.Turn, r.Position, r.Action, r.Branch)

	if c.sinks.Journal != nil {
		rec := plog.TurnRecord{
			RunID:    c.runID,
			Agent:    r.Agent,
			Turn:     r.Turn,
			Time:     r.Time,
			Radar:    r.Radar,
			Position: r.Position,
			Action:   r.Action,
			Leader:   r.Leader,
			Branch:   string(r.Branch),
		}
		if err := c.sinks.Journal.WriteTurn(rec); err != nil {
			clog.Errorf("journal: %v", err)
		}
	}
	if c.sinks.Index != nil {
		c.sinks.Index.WriteTurn(indexdb.TurnRow{
			RunID:  c.runID,
			Agent:  r.Agent,
			Turn:   r.Turn,
			X:      r.Position.X,
			Y:      r.Position.Y,
			Action: r.Action.String(),
			Leader: r.Leader,
			Branch: string(r.Branch),
			Radar:  r.Radar,
			At:     r.Time,
		})
		for _, mc := range r.Cells {
			c.sinks.Index.WriteCell(indexdb.CellRow{
				RunID:  c.runID,
				X:      mc.Position.X,
				Y:      mc.Position.Y,
				Kind:   mc.Cell.Kind.String(),
				Code:   mc.Cell.Code,
				SeenBy: r.Agent,
				At:     r.Time,
			})
		}
	}
	if c.sinks.Observer != nil {
		c.sinks.Observer.PublishReport(observerproto.ReportMsg{
			Type:            observerproto.TypeReport,
			ProtocolVersion: observerproto.Version,
			RunID:           c.runID,
			Agent:           r.Agent,
			Turn:            r.Turn,
			Time:            r.Time,
			Position:        r.Position,
			Action:          r.Action,
			Leader:          r.Leader,
			Branch:          string(r.Branch),
			Radar:           r.Radar,
		})
	}
	if c.sinks.MQTT != nil {
		c.sinks.MQTT.PublishJSON("actions", map[string]any{
			"agent":  r.Agent,
			"turn":   r.Turn,
			"action": r.Action,
			"leader": r.Leader,
		}, false)
	}
}

func (c *Coordinator) publishHint(r Report, kind string) {
	if c.sinks.Observer == nil {
		return
	}
	c.sinks.Observer.PublishHint(observerproto.HintMsg{
		Type:            observerproto.TypeHint,
		ProtocolVersion: observerproto.Version,
		Agent:           r.Agent,
		Kind:            kind,
		Angle:           r.Angle,
		Grid:            r.Grid,
		Exit:            r.Exit,
	})
}

func (c *Coordinator) count(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct := c.counters[r.Agent]
	if ct == nil {
		ct = &Counters{Branches: map[string]uint64{}}
		c.counters[r.Agent] = ct
	}
	switch r.Kind {
	case ReportTurn:
		ct.Turns++
		if r.Leader {
			ct.LeaderTurns++
		}
		ct.Branches[string(r.Branch)]++
	case ReportHint:
		ct.Hints++
	case ReportChallenge:
		ct.Challenges++
		if r.Challenge.Solved {
			ct.ChallengesSolved++
		}
	case ReportCollision:
		ct.Collisions++
	case ReportDecodeError:
		ct.DecodeErrors++
	}
}

// Counters returns a copy of the per-agent counters.
func (c *Coordinator) Counters() map[string]Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Counters, len(c.counters))
	for name, ct := range c.counters {
		cp := *ct
		cp.Branches = make(map[string]uint64, len(ct.Branches))
		for b, n := range ct.Branches {
			cp.Branches[b] = n
		}
		out[name] = cp
	}
	return out
}

// AgentNames lists agents that have reported, sorted.
func (c *Coordinator) AgentNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
