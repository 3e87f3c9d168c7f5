package agent

import (
	"sync"
	"time"

	"labyrinth.ai/internal/observerproto"
	"labyrinth.ai/internal/persistence/snapshot"
	"labyrinth.ai/internal/team"
)

// Roster is the set of agents of one run together with their shared state.
type Roster struct {
	Team  string
	RunID string
	State *team.State

	mu       sync.Mutex
	agents   []*Agent
	restored map[string]snapshot.AgentV1
}

func NewRoster(teamName, runID string, st *team.State) *Roster {
	return &Roster{Team: teamName, RunID: runID, State: st}
}

// Add registers a and, after Restore, seeds it with its previous exploration state.
func (r *Roster) Add(a *Agent) {
	r.mu.Lock()
	r.agents = append(r.agents, a)
	prev, ok := r.restored[a.Name()]
	r.mu.Unlock()
	if ok {
		a.Restore(prev)
	}
}

func (r *Roster) Agents() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Agent(nil), r.agents...)
}

// Restore loads the shared state of a snapshot and keeps per-agent state for later Add calls.
// The leader is not restored; it is elected again on the first compass hint.
func (r *Roster) Restore(s snapshot.SnapshotV1) {
	for p, c := range s.Map() {
		r.State.RecordCell(p, c)
	}
	if s.Exit != nil {
		r.State.SetExit(*s.Exit)
	}
	if s.Compass != nil {
		r.State.SetCompass(*s.Compass)
	}
	if s.Grid != nil {
		r.State.SetGrid(*s.Grid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restored = make(map[string]snapshot.AgentV1, len(s.Agents))
	for _, a := range s.Agents {
		r.restored[a.Name] = a
	}
	log.Infof("restored run %s: cells=%d agents=%d", s.Header.RunID, len(s.Cells), len(s.Agents))
}

func (r *Roster) Snapshot(now time.Time) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RunID:   r.RunID,
			Team:    r.Team,
			TakenAt: now.UTC(),
		},
		Exit:    r.State.Exit(),
		Compass: r.State.Compass(),
		Grid:    r.State.Grid(),
		Cells:   snapshot.CellsFromMap(r.State.Map()),
	}
	if leader, ok := r.State.Leader(); ok {
		snap.Leader = leader
	}
	for _, a := range r.Agents() {
		snap.Agents = append(snap.Agents, a.Snapshot())
	}
	return snap
}

// ObserverState summarizes the team for observers. The map is always rendered; the hub strips
// it for sessions that did not ask for it.
func (r *Roster) ObserverState() observerproto.StateMsg {
	m := observerproto.StateMsg{
		Type:            observerproto.TypeState,
		ProtocolVersion: observerproto.Version,
		RunID:           r.RunID,
		Team:            r.Team,
		Connected:       r.State.Connected(),
		Exit:            r.State.Exit(),
		Compass:         r.State.Compass(),
		Grid:            r.State.Grid(),
	}
	if leader, ok := r.State.Leader(); ok {
		m.Leader = leader
	}
	cells := r.State.Map()
	m.MapCells = len(cells)
	m.Map = team.RenderMap(cells)
	for _, a := range r.Agents() {
		m.Agents = append(m.Agents, observerproto.AgentState{
			Name:     a.Name(),
			Position: a.Position(),
			Turns:    a.Turns(),
			Role:     r.State.RoleFor(a.Name()).String(),
		})
	}
	return m
}
