package team

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/protocol"
	"labyrinth.ai/internal/radar"
)

func TestState_ElectOnCompass(t *testing.T) {
	s := NewState()
	s.Connect()
	s.Connect()
	if got := s.RoleFor("Player_0"); got != RoleSolo {
		t.Fatalf("role before election=%v want solo", got)
	}
	if !s.ElectOnCompass("Player_1") {
		t.Fatalf("first reporter should become leader")
	}
	if s.ElectOnCompass("Player_0") {
		t.Fatalf("second reporter must not take over")
	}
	if !s.ElectOnCompass("Player_1") {
		t.Fatalf("leader reporting again should keep the role")
	}
	if got := s.RoleFor("Player_1"); got != RoleLeader {
		t.Fatalf("leader role=%v", got)
	}
	if got := s.RoleFor("Player_0"); got != RoleFollower {
		t.Fatalf("follower role=%v", got)
	}
}

func TestState_LoneAgentResetsLeader(t *testing.T) {
	s := NewState()
	for i := 0; i < 3; i++ {
		s.Connect()
	}
	s.ElectOnCompass("Player_0")
	s.SetLeaderAction(geo.Left)

	if n := s.Disconnect(); n != 2 {
		t.Fatalf("connected=%d want=2", n)
	}
	if _, ok := s.Leader(); !ok {
		t.Fatalf("leader should survive with two agents")
	}
	if n := s.Disconnect(); n != 1 {
		t.Fatalf("connected=%d want=1", n)
	}
	if _, ok := s.Leader(); ok {
		t.Fatalf("leader should reset with one agent")
	}
	if s.LeaderAction() != nil {
		t.Fatalf("leader action should reset with the leader")
	}
	if got := s.RoleFor("Player_2"); got != RoleSolo {
		t.Fatalf("lone role=%v want solo", got)
	}
}

func TestState_FollowerNeedsCompany(t *testing.T) {
	s := NewState()
	s.Connect()
	s.ElectOnCompass("Player_0")
	if got := s.RoleFor("Player_1"); got != RoleSolo {
		t.Fatalf("role with one connected agent=%v want solo", got)
	}
}

func TestState_HintsAndExit(t *testing.T) {
	s := NewState()
	h := s.Hints()
	if h.Compass != nil || h.Grid != nil || h.Exit != nil {
		t.Fatalf("fresh hints=%+v", h)
	}
	s.SetCompass(90)
	s.SetCompass(180)
	s.SetGrid(geo.GridSize{Columns: 4, Rows: 6})
	if !s.SetExit(geo.Position{X: 2, Y: -3}) {
		t.Fatalf("first exit should be recorded")
	}
	if s.SetExit(geo.Position{X: 9, Y: 9}) {
		t.Fatalf("exit must be set once")
	}
	h = s.Hints()
	if *h.Compass != 180 || *h.Grid != (geo.GridSize{Columns: 4, Rows: 6}) || *h.Exit != (geo.Position{X: 2, Y: -3}) {
		t.Fatalf("hints=%v %v %v", *h.Compass, *h.Grid, *h.Exit)
	}

	*h.Compass = 1
	if *s.Compass() != 180 {
		t.Fatalf("Hints must return copies")
	}
}

func TestState_MapOverwrite(t *testing.T) {
	s := NewState()
	p := geo.Position{X: 1, Y: 1}
	s.RecordCell(p, radar.Cell{Kind: radar.CellUndefined})
	s.RecordCell(p, radar.Cell{Kind: radar.CellOpen})
	if c, ok := s.Cell(p); !ok || c.Kind != radar.CellOpen {
		t.Fatalf("cell=%v,%v want Open", c, ok)
	}
	if n := s.MapSize(); n != 1 {
		t.Fatalf("MapSize=%d want=1", n)
	}
}

func TestState_ConcurrentAccess(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordCell(geo.Position{X: i, Y: j}, radar.Cell{Kind: radar.CellOpen})
				s.SetCompass(float64(j))
				s.SetLeaderAction(geo.Front)
				_ = s.Hints()
				_ = s.Map()
			}
		}(i)
	}
	wg.Wait()
	if n := s.MapSize(); n != 800 {
		t.Fatalf("MapSize=%d want=800", n)
	}
}

func TestSecrets_SumModulo(t *testing.T) {
	s := NewSecrets()
	s.Update("Player_0", big.NewInt(10))
	s.Update("Player_1", big.NewInt(15))
	s.Update("Player_2", big.NewInt(25))

	got, err := s.SumModulo(big.NewInt(7))
	if err != nil || got.Int64() != 1 {
		t.Fatalf("sum mod 7=%v err=%v want=1", got, err)
	}
	got, err = s.SumModulo(big.NewInt(10))
	if err != nil || got.Int64() != 0 {
		t.Fatalf("sum mod 10=%v err=%v want=0", got, err)
	}

	s.Update("Player_0", big.NewInt(11))
	got, _ = s.SumModulo(big.NewInt(7))
	if got.Int64() != 2 {
		t.Fatalf("after overwrite sum mod 7=%v want=2", got)
	}

	if _, err := s.SumModulo(big.NewInt(0)); !errors.Is(err, ErrZeroModulo) {
		t.Fatalf("err=%v want ErrZeroModulo", err)
	}
}

func TestSecrets_LargeValues(t *testing.T) {
	s := NewSecrets()
	max128, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	s.Update("Player_0", max128)
	s.Update("Player_1", max128)
	got, err := s.SumModulo(big.NewInt(1000))
	if err != nil {
		t.Fatalf("SumModulo: %v", err)
	}
	// 2 * (2^128 - 1) = 680564733841876926926749214863536422910
	if got.Int64() != 910 {
		t.Fatalf("sum mod 1000=%v want=910", got)
	}
}

type scriptedExchange struct {
	answers []string
	// replies[i] is delivered after the i-th answer; before the first answer pre is used.
	pre     []protocol.Message
	replies [][]protocol.Message
	queue   []protocol.Message
}

func (e *scriptedExchange) SendAnswer(_ context.Context, answer string) error {
	i := len(e.answers)
	e.answers = append(e.answers, answer)
	if i < len(e.replies) {
		e.queue = append(e.queue, e.replies[i]...)
	}
	return nil
}

func (e *scriptedExchange) Receive(ctx context.Context) (protocol.Message, error) {
	if len(e.pre) > 0 {
		m := e.pre[0]
		e.pre = e.pre[1:]
		return m, nil
	}
	if len(e.queue) > 0 {
		m := e.queue[0]
		e.queue = e.queue[1:]
		return m, nil
	}
	<-ctx.Done()
	return protocol.Message{}, ctx.Err()
}

func secretHint(v int64) protocol.Message {
	return protocol.Message{Type: protocol.TypeHint, Hint: &protocol.Hint{Kind: protocol.HintSecret, Secret: big.NewInt(v)}}
}

func actionError(kind string) protocol.Message {
	return protocol.Message{Type: protocol.TypeActionError, ActionError: kind}
}

func TestSolver_RetriesWithLateSecret(t *testing.T) {
	secrets := NewSecrets()
	secrets.Update("Player_1", big.NewInt(15))
	solver := NewSolver(SolverConfig{MaxAttempts: 3, ResponseTimeout: 200 * time.Millisecond, SecretGrace: 20 * time.Millisecond}, secrets)

	compass := protocol.Message{Type: protocol.TypeHint, Hint: &protocol.Hint{Kind: protocol.HintRelativeCompass, Angle: 12}}
	ex := &scriptedExchange{
		pre: []protocol.Message{secretHint(10), compass},
		replies: [][]protocol.Message{
			{actionError(protocol.ErrInvalidChallengeSolution)},
			{secretHint(25), {Type: protocol.TypeRadarView, Radar: "ieysGjGO8papd/a"}},
		},
	}
	out, err := solver.Solve(context.Background(), "Player_0", big.NewInt(7), ex)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !out.Solved || out.Attempts != 2 {
		t.Fatalf("outcome=%+v", out)
	}
	if len(ex.answers) != 2 || ex.answers[0] != "4" || ex.answers[1] != "4" {
		t.Fatalf("answers=%v want [4 4]", ex.answers)
	}
	if out.Radar == nil || out.Radar.Radar != "ieysGjGO8papd/a" {
		t.Fatalf("radar=%+v", out.Radar)
	}
	if len(out.Deferred) != 1 || out.Deferred[0].Hint.Kind != protocol.HintRelativeCompass {
		t.Fatalf("deferred=%+v", out.Deferred)
	}
	// The secret that arrived after the second answer replaced Player_0's value.
	got, _ := secrets.SumModulo(big.NewInt(100))
	if got.Int64() != 40 {
		t.Fatalf("secrets sum=%v want=40", got)
	}
}

func TestSolver_GivesUpAfterMaxAttempts(t *testing.T) {
	secrets := NewSecrets()
	secrets.Update("Player_0", big.NewInt(9))
	solver := NewSolver(SolverConfig{MaxAttempts: 3, ResponseTimeout: 20 * time.Millisecond}, secrets)
	ex := &scriptedExchange{
		replies: [][]protocol.Message{
			{actionError(protocol.ErrInvalidChallengeSolution)},
			{},
			{actionError(protocol.ErrInvalidChallengeSolution)},
			{{Type: protocol.TypeRadarView, Radar: "x"}},
		},
	}
	out, err := solver.Solve(context.Background(), "Player_0", big.NewInt(5), ex)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out.Solved || out.Attempts != 3 || len(ex.answers) != 3 {
		t.Fatalf("outcome=%+v answers=%v", out, ex.answers)
	}
	if out.Answer != "4" {
		t.Fatalf("answer=%s want=4", out.Answer)
	}
}

func TestSolver_NoRunningChallenge(t *testing.T) {
	secrets := NewSecrets()
	solver := NewSolver(SolverConfig{MaxAttempts: 3, ResponseTimeout: time.Second}, secrets)
	ex := &scriptedExchange{replies: [][]protocol.Message{{actionError(protocol.ErrNoRunningChallenge)}}}
	out, err := solver.Solve(context.Background(), "Player_0", big.NewInt(5), ex)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if out.Solved || out.Attempts != 1 || out.Answer != "0" {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestSolver_ContextCancelled(t *testing.T) {
	solver := NewSolver(SolverConfig{MaxAttempts: 3, ResponseTimeout: time.Second}, NewSecrets())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := solver.Solve(ctx, "Player_0", big.NewInt(5), &scriptedExchange{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestRenderMap(t *testing.T) {
	cells := map[geo.Position]radar.Cell{
		{X: -1, Y: -1}: {Kind: radar.CellUndefined},
		{X: 0, Y: -1}:  {Kind: radar.CellOpen},
		{X: 1, Y: -1}:  {Kind: radar.CellUndefined},
		{X: 0, Y: 0}:   {Kind: radar.CellOpen},
		{X: 1, Y: 0}:   {Kind: radar.CellExit},
		{X: -1, Y: 1}:  {Kind: radar.CellUnknown, Code: "0110"},
	}
	want := "#.#\n .E\n?\n"
	if got := RenderMap(cells); got != want {
		t.Fatalf("RenderMap=%q want=%q", got, want)
	}
	if got := RenderMap(nil); got != "" {
		t.Fatalf("empty map=%q", got)
	}
}
