// Package agent runs one player against the game server and reports its turns to the team
// coordinator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/op/go-logging"

	"labyrinth.ai/internal/explore"
	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/nav"
	"labyrinth.ai/internal/persistence/snapshot"
	"labyrinth.ai/internal/protocol"
	"labyrinth.ai/internal/radar"
	"labyrinth.ai/internal/team"
)

var log = logging.MustGetLogger("agent")

const inboxSize = 64

// Conn is the framed server connection of one player.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, v any) error
	Close() error
}

type Config struct {
	Name            string
	HistoryCapacity int
	LoopMinHistory  int
	SendBackoff     time.Duration
}

// Agent owns one connection and decides one move per radar view. Team-wide knowledge lives in
// the shared team.State; the tracker and position are private to the agent.
type Agent struct {
	name        string
	conn        Conn
	state       *team.State
	secrets     *team.Secrets
	engine      *nav.Engine
	solver      *team.Solver
	tracker     *explore.Tracker
	reports     chan<- Report
	sendBackoff time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	inbox   chan inbound
	pending []protocol.Message
	// readErr is the error that ended readLoop, once Receive has seen it.
	readErr error

	mu       sync.Mutex
	pos      geo.Position
	turns    uint64
	lastMove *geo.Direction
	leading  bool
}

type inbound struct {
	msg protocol.Message
	err error
}

// New builds an agent. reports may be nil when nothing observes the team.
func New(cfg Config, conn Conn, st *team.State, secrets *team.Secrets, engine *nav.Engine, solver *team.Solver, reports chan<- Report) *Agent {
	return &Agent{
		name:        cfg.Name,
		conn:        conn,
		state:       st,
		secrets:     secrets,
		engine:      engine,
		solver:      solver,
		tracker:     explore.NewTracker(cfg.HistoryCapacity, cfg.LoopMinHistory),
		reports:     reports,
		sendBackoff: cfg.SendBackoff,
		now:         time.Now,
		sleep:       sleepCtx,
		inbox:       make(chan inbound, inboxSize),
	}
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) Position() geo.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

func (a *Agent) Turns() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turns
}

// Snapshot captures the agent's exploration state.
func (a *Agent) Snapshot() snapshot.AgentV1 {
	a.mu.Lock()
	pos, turns := a.pos, a.turns
	a.mu.Unlock()
	return snapshot.AgentV1{
		Name:     a.name,
		Position: pos,
		Turns:    turns,
		Visits:   snapshot.VisitsFromMap(a.tracker.VisitCounts()),
		History:  a.tracker.History(),
	}
}

// Restore seeds position, turn counter and visit counts from a previous run.
func (a *Agent) Restore(s snapshot.AgentV1) {
	a.mu.Lock()
	a.pos = s.Position
	a.turns = s.Turns
	a.lastMove = nil
	a.mu.Unlock()
	a.tracker.Restore(s.VisitMap())
	log.Infof("%s restored at %v (turns=%d visits=%d)", a.name, s.Position, s.Turns, len(s.Visits))
}

// Run processes server messages until ctx is done or the connection fails. The agent counts
// as connected for the duration of the call.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := a.state.Connect()
	log.Infof("%s connected (team=%d)", a.name, n)
	defer func() {
		n := a.state.Disconnect()
		log.Infof("%s disconnected (team=%d)", a.name, n)
	}()

	go a.readLoop(ctx)

	for {
		m, err := a.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", a.name, err)
		}
		if err := a.HandleMessage(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", a.name, err)
		}
	}
}

func (a *Agent) readLoop(ctx context.Context) {
	for {
		b, err := a.conn.ReadMessage(ctx)
		if err != nil {
			select {
			case a.inbox <- inbound{err: err}:
			case <-ctx.Done():
			}
			return
		}
		m, err := protocol.Decode(b)
		if err != nil {
			log.Warningf("%s dropping message %q: %v", a.name, truncate(b, 120), err)
			continue
		}
		select {
		case a.inbox <- inbound{msg: m}:
		case <-ctx.Done():
			return
		}
	}
}

// next returns messages deferred by the challenge solver before reading new ones.
func (a *Agent) next(ctx context.Context) (protocol.Message, error) {
	if len(a.pending) > 0 {
		m := a.pending[0]
		a.pending = a.pending[1:]
		return m, nil
	}
	return a.Receive(ctx)
}

// Receive returns the next message read from the server. After the reader has failed it keeps
// returning that error.
func (a *Agent) Receive(ctx context.Context) (protocol.Message, error) {
	if a.readErr != nil {
		return protocol.Message{}, a.readErr
	}
	select {
	case in := <-a.inbox:
		if in.err != nil {
			a.readErr = in.err
		}
		return in.msg, in.err
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (a *Agent) SendAnswer(ctx context.Context, answer string) error {
	return a.conn.WriteMessage(ctx, protocol.NewSolveChallenge(answer))
}

// HandleMessage runs one message through the agent. A non-nil error means the connection is
// gone and the agent must stop.
func (a *Agent) HandleMessage(ctx context.Context, m protocol.Message) error {
	log.Debugf("%s <- %s", a.name, m)
	switch m.Type {
	case protocol.TypeRadarView:
		a.handleRadar(ctx, m.Radar)
	case protocol.TypeHint:
		a.handleHint(ctx, m.Hint)
	case protocol.TypeChallenge:
		return a.handleChallenge(ctx, m.Challenge)
	case protocol.TypeActionError:
		a.handleActionError(ctx, m.ActionError)
	case protocol.TypeWelcome:
		log.Infof("%s welcomed", a.name)
	default:
		log.Debugf("%s ignoring %s", a.name, m.Type)
	}
	return nil
}

func (a *Agent) handleRadar(ctx context.Context, encoded string) {
	v, err := radar.Decode(encoded)
	if err != nil {
		log.Warningf("%s radar %q: %v; turn skipped", a.name, encoded, err)
		a.report(ctx, Report{Kind: ReportDecodeError, Radar: encoded})
		return
	}
	pos := a.Position()

	var seen [radar.GridCells]MapCell
	for i, c := range v.Cells {
		abs := nav.ComputeAbsolutePosition(pos, i)
		a.state.RecordCell(abs, c)
		seen[i] = MapCell{Position: abs, Cell: c}
		if c.Kind == radar.CellExit && a.state.SetExit(abs) {
			log.Noticef("%s found the exit at %v", a.name, abs)
			exit := abs
			a.report(ctx, Report{Kind: ReportExit, Exit: &exit})
		}
	}

	if g := a.state.Grid(); g != nil {
		if away := nav.DetectNearBorder(pos, *g); len(away) > 0 {
			log.Debugf("%s near border at %v, away=%v", a.name, pos, away)
		}
	}

	role := a.state.RoleFor(a.name)
	var d nav.Decision
	if role == team.RoleFollower {
		d = a.engine.FollowerChooseAction(v, a.state.LeaderAction())
	} else {
		d = a.engine.LeaderChooseAction(v, a.tracker, pos, a.state.Hints())
	}

	next := geo.Move(pos, d.Direction)
	a.tracker.MarkPosition(next, d.Direction)
	a.mu.Lock()
	a.pos = next
	a.turns++
	turn := a.turns
	move := d.Direction
	a.lastMove = &move
	a.mu.Unlock()
	log.Debugf("%s turn %d %s at %v via %s (%s)", a.name, turn, d.Direction, pos, d.Branch, role)

	if err := a.conn.WriteMessage(ctx, protocol.NewMoveTo(d.Direction)); err != nil {
		log.Errorf("%s send move: %v", a.name, err)
		a.rollback()
		a.sleep(ctx, a.sendBackoff)
		return
	}
	if role == team.RoleLeader {
		a.state.SetLeaderAction(d.Direction)
	}

	a.report(ctx, Report{
		Kind:     ReportTurn,
		Turn:     turn,
		Position: pos,
		Action:   d.Direction,
		Leader:   role == team.RoleLeader,
		Branch:   d.Branch,
		Radar:    encoded,
		Cells:    seen[:],
	})
}

// rollback undoes the last speculative move. Visit counts stay as recorded.
func (a *Agent) rollback() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastMove == nil {
		return false
	}
	a.pos = geo.Undo(a.pos, *a.lastMove)
	a.lastMove = nil
	return true
}

func (a *Agent) handleHint(ctx context.Context, h *protocol.Hint) {
	if h == nil {
		return
	}
	switch h.Kind {
	case protocol.HintRelativeCompass:
		a.state.SetCompass(h.Angle)
		angle := h.Angle
		a.report(ctx, Report{Kind: ReportHint, Hint: h.Kind, Angle: &angle})
		if id, ok := a.state.Leader(); !ok || id != a.name {
			a.mu.Lock()
			a.leading = false
			a.mu.Unlock()
		}
		if a.state.ElectOnCompass(a.name) {
			a.mu.Lock()
			first := !a.leading
			a.leading = true
			a.mu.Unlock()
			if first {
				a.report(ctx, Report{Kind: ReportLeader, Leader: true})
			}
		}
	case protocol.HintGridSize:
		a.state.SetGrid(h.Grid)
		g := h.Grid
		a.report(ctx, Report{Kind: ReportHint, Hint: h.Kind, Grid: &g})
	case protocol.HintSecret:
		a.secrets.Update(a.name, h.Secret)
		log.Debugf("%s secret updated (team secrets=%d)", a.name, a.secrets.Len())
	case protocol.HintSOSHelper:
		log.Infof("%s SOS helper hint", a.name)
	default:
		log.Debugf("%s unhandled hint %s", a.name, h.Kind)
	}
}

func (a *Agent) handleChallenge(ctx context.Context, c *protocol.Challenge) error {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case protocol.ChallengeSecretSumModulo:
		out, err := a.solver.Solve(ctx, a.name, c.Modulo, a)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warningf("%s challenge mod %s: %v", a.name, c.Modulo, err)
		}
		a.report(ctx, Report{Kind: ReportChallenge, Challenge: &ChallengeResult{
			Modulo:   c.Modulo.String(),
			Answer:   out.Answer,
			Attempts: out.Attempts,
			Solved:   out.Solved,
		}})
		a.pending = append(a.pending, out.Deferred...)
		if out.Radar != nil {
			a.pending = append(a.pending, *out.Radar)
		}
		if a.readErr != nil {
			return a.readErr
		}
	case protocol.ChallengeSOS:
		log.Infof("%s SOS challenge", a.name)
	default:
		log.Debugf("%s unhandled challenge %s", a.name, c.Kind)
	}
	return nil
}

func (a *Agent) handleActionError(ctx context.Context, kind string) {
	switch kind {
	case protocol.ErrCannotPassThroughWall:
		if a.rollback() {
			log.Infof("%s hit a wall, back at %v", a.name, a.Position())
			a.report(ctx, Report{Kind: ReportCollision, Position: a.Position()})
		}
	default:
		if !protocol.IsKnownActionError(kind) {
			log.Warningf("%s unknown action error %q", a.name, kind)
			return
		}
		log.Infof("%s action error %s", a.name, kind)
	}
}

func (a *Agent) report(ctx context.Context, r Report) {
	if a.reports == nil {
		return
	}
	r.Agent = a.name
	r.Time = a.now()
	select {
	case a.reports <- r:
	case <-ctx.Done():
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
