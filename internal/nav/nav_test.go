package nav

import (
	"reflect"
	"testing"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/radar"
)

const (
	radarAllOpen  = "aeeaabqa8paa8pa" // Front, Right, Left, Back accessible
	radarBackOnly = "aaeaaaaa//8p8pa"
	radarClosed   = "aaaaaaaa8paa8pa" // open cells, every passage closed
	radarFrontLft = "ieysGjGO8papd/a" // Front, Left
	radarLeftBack = "jiucAjGa//cpapa" // Left, Back; standing on an exit
)

func mustView(t *testing.T, s string) radar.View {
	t.Helper()
	v, err := radar.Decode(s)
	if err != nil {
		t.Fatalf("Decode(%q): %v", s, err)
	}
	return v
}

type fakeMemory struct {
	visits map[geo.Position]int
	loop   bool
}

func (m fakeMemory) Visits(p geo.Position) int { return m.visits[p] }

func (m fakeMemory) IsRecentlyVisited(geo.Position) bool { return m.loop }

func newMemory(visits map[geo.Position]int) fakeMemory { return fakeMemory{visits: visits} }

func ptr[T any](v T) *T { return &v }

func TestIsAccessible_Radars(t *testing.T) {
	cases := []struct {
		radar string
		want  []geo.Direction
	}{
		{radarAllOpen, []geo.Direction{geo.Front, geo.Right, geo.Left, geo.Back}},
		{radarBackOnly, []geo.Direction{geo.Back}},
		{radarClosed, nil},
		{radarFrontLft, []geo.Direction{geo.Front, geo.Left}},
		{radarLeftBack, []geo.Direction{geo.Left, geo.Back}},
	}
	for _, tc := range cases {
		got := Accessible(mustView(t, tc.radar))
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Accessible(%s)=%v want=%v", tc.radar, got, tc.want)
		}
	}
}

func TestChooseAccessibleDirection(t *testing.T) {
	all := []geo.Direction{geo.Front, geo.Right, geo.Left, geo.Back}
	d, ok := ChooseAccessibleDirection(mustView(t, radarBackOnly), all)
	if !ok || d != geo.Back {
		t.Fatalf("got %v,%v want Back,true", d, ok)
	}
	if d, ok := ChooseAccessibleDirection(mustView(t, radarClosed), all); ok {
		t.Fatalf("got %v want none", d)
	}
	if d, ok := ChooseAccessibleDirection(mustView(t, radarFrontLft), []geo.Direction{geo.Back}); ok {
		t.Fatalf("got %v want none", d)
	}
}

func TestChooseLeastVisitedDirection(t *testing.T) {
	v := mustView(t, radarAllOpen)
	pos := geo.Position{X: 5, Y: 5}
	mem := newMemory(map[geo.Position]int{
		geo.Move(pos, geo.Front): 3,
		geo.Move(pos, geo.Right): 5,
		geo.Move(pos, geo.Left):  2,
		geo.Move(pos, geo.Back):  1,
	})
	d, ok := ChooseLeastVisitedDirection(v, mem, pos)
	if !ok || d != geo.Back {
		t.Fatalf("got %v,%v want Back", d, ok)
	}

	d, ok = ChooseLeastVisitedDirection(v, newMemory(nil), pos)
	if !ok || d != geo.Front {
		t.Fatalf("tie-break got %v,%v want Front", d, ok)
	}

	// Inaccessible directions never win, even with fewer visits.
	mem = newMemory(map[geo.Position]int{geo.Move(pos, geo.Left): 4})
	d, ok = ChooseLeastVisitedDirection(mustView(t, radarFrontLft), mem, pos)
	if !ok || d != geo.Front {
		t.Fatalf("got %v,%v want Front", d, ok)
	}

	if _, ok := ChooseLeastVisitedDirection(mustView(t, radarClosed), mem, pos); ok {
		t.Fatalf("closed radar should yield nothing")
	}
}

func TestDecideAction(t *testing.T) {
	cases := map[string]geo.Direction{
		radarAllOpen:  geo.Right,
		radarFrontLft: geo.Front,
		radarLeftBack: geo.Left,
		radarBackOnly: geo.Back,
		radarClosed:   geo.Back,
	}
	for s, want := range cases {
		if got := DecideAction(mustView(t, s)); got != want {
			t.Fatalf("DecideAction(%s)=%v want=%v", s, got, want)
		}
	}
	if got := DecideAction(radar.View{}); got != geo.Back {
		t.Fatalf("DecideAction(zero view)=%v want Back", got)
	}
}

func TestFindPathToExit(t *testing.T) {
	pos := geo.Position{X: 5, Y: 5}
	cases := []struct {
		exit geo.Position
		want geo.Direction
	}{
		{geo.Position{X: 7, Y: 5}, geo.Right},
		{geo.Position{X: 5, Y: 3}, geo.Front},
		{geo.Position{X: 5, Y: 7}, geo.Back},
		{geo.Position{X: 3, Y: 5}, geo.Left},
		{geo.Position{X: 7, Y: 7}, geo.Back},
		{geo.Position{X: 5, Y: 5}, geo.Front},
	}
	for _, tc := range cases {
		if got := FindPathToExit(pos, tc.exit); got != tc.want {
			t.Fatalf("FindPathToExit(%v,%v)=%v want=%v", pos, tc.exit, got, tc.want)
		}
	}
}

func TestComputeAbsolutePosition(t *testing.T) {
	pos := geo.Position{X: 5, Y: 5}
	want := []geo.Position{
		{X: 4, Y: 4}, {X: 5, Y: 4}, {X: 6, Y: 4},
		{X: 4, Y: 5}, {X: 5, Y: 5}, {X: 6, Y: 5},
		{X: 4, Y: 6}, {X: 5, Y: 6}, {X: 6, Y: 6},
	}
	for i, w := range want {
		if got := ComputeAbsolutePosition(pos, i); got != w {
			t.Fatalf("index %d: got %v want %v", i, got, w)
		}
	}
	for _, i := range []int{9, 42, -1} {
		if got := ComputeAbsolutePosition(pos, i); got != pos {
			t.Fatalf("index %d: got %v want %v", i, got, pos)
		}
	}
}

func TestFromAngle(t *testing.T) {
	cases := []struct {
		angle float64
		first geo.Direction
	}{
		{0, geo.Front}, {45, geo.Front}, {45.5, geo.Right}, {135, geo.Right},
		{180, geo.Back}, {225, geo.Back}, {270, geo.Left}, {315, geo.Left},
		{316, geo.Front}, {-90, geo.Left}, {450, geo.Right}, {-360, geo.Front},
	}
	for _, tc := range cases {
		got := FromAngle(tc.angle)
		if got[0] != tc.first {
			t.Fatalf("FromAngle(%v)=%v want first=%v", tc.angle, got, tc.first)
		}
		seen := map[geo.Direction]bool{}
		for _, d := range got {
			seen[d] = true
		}
		if len(seen) != 4 {
			t.Fatalf("FromAngle(%v)=%v is not a total order", tc.angle, got)
		}
	}
	if got := FromAngle(100); got != (Order{geo.Right, geo.Front, geo.Back, geo.Left}) {
		t.Fatalf("FromAngle(100)=%v", got)
	}
}

func TestFromGridSize(t *testing.T) {
	if got := FromGridSize(&geo.GridSize{Columns: 10, Rows: 5}); got != (Order{geo.Right, geo.Left, geo.Front, geo.Back}) {
		t.Fatalf("wide grid=%v", got)
	}
	if got := FromGridSize(&geo.GridSize{Columns: 5, Rows: 5}); got != (Order{geo.Front, geo.Back, geo.Right, geo.Left}) {
		t.Fatalf("square grid=%v", got)
	}
	if got := FromGridSize(nil); got != (Order{geo.Front, geo.Right, geo.Left, geo.Back}) {
		t.Fatalf("unknown grid=%v", got)
	}
}

func TestFollowLeaderDirection(t *testing.T) {
	for _, d := range geo.All {
		o := FollowLeaderDirection(d)
		if o[0] != d || o[3] != d.Opposite() {
			t.Fatalf("FollowLeaderDirection(%v)=%v", d, o)
		}
	}
}

func TestLeaderChooseAction_Layers(t *testing.T) {
	e := NewEngine(Config{}, nil)
	origin := geo.Position{}

	d := e.LeaderChooseAction(mustView(t, radarClosed), newMemory(nil), origin, Hints{Exit: &geo.Position{X: 3}})
	if d.Direction != geo.Right || d.Branch != BranchExit {
		t.Fatalf("exit: got %+v", d)
	}

	grid := &geo.GridSize{Columns: 10, Rows: 5}
	d = e.LeaderChooseAction(mustView(t, radarAllOpen), newMemory(nil), origin, Hints{Grid: grid, Compass: ptr(180.0)})
	if d.Direction != geo.Right || d.Branch != BranchGrid {
		t.Fatalf("grid: got %+v", d)
	}

	busy := newMemory(map[geo.Position]int{{X: 1}: 3})
	d = e.LeaderChooseAction(mustView(t, radarAllOpen), busy, origin, Hints{Grid: grid})
	if d.Direction != geo.Left || d.Branch != BranchGrid {
		t.Fatalf("grid threshold: got %+v", d)
	}

	d = e.LeaderChooseAction(mustView(t, radarAllOpen), newMemory(nil), origin, Hints{Compass: ptr(180.0)})
	if d.Direction != geo.Back || d.Branch != BranchCompass {
		t.Fatalf("compass: got %+v", d)
	}

	worn := newMemory(map[geo.Position]int{{Y: -1}: 4, {X: 1}: 4, {X: -1}: 4, {Y: 1}: 3})
	d = e.LeaderChooseAction(mustView(t, radarAllOpen), worn, origin, Hints{Compass: ptr(0.0)})
	if d.Direction != geo.Back || d.Branch != BranchLeastVisited {
		t.Fatalf("least visited: got %+v", d)
	}

	d = e.LeaderChooseAction(mustView(t, radarClosed), newMemory(nil), origin, Hints{})
	if d.Direction != geo.Back || d.Branch != BranchRuleOfThumb {
		t.Fatalf("rule of thumb: got %+v", d)
	}
}

func TestLeaderChooseAction_ExitAccessCheck(t *testing.T) {
	e := NewEngine(Config{ExitCheckAccess: true}, nil)
	d := e.LeaderChooseAction(mustView(t, radarFrontLft), newMemory(nil), geo.Position{}, Hints{Exit: &geo.Position{X: 3}})
	if d.Branch == BranchExit {
		t.Fatalf("blocked exit direction should fall through: %+v", d)
	}
	if d.Direction != geo.Front || d.Branch != BranchLeastVisited {
		t.Fatalf("got %+v want Front least_visited", d)
	}
}

func TestLeaderChooseAction_LoopEscape(t *testing.T) {
	origin := geo.Position{}
	mem := fakeMemory{
		visits: map[geo.Position]int{{Y: -1}: 2, {Y: 1}: 2, {X: -1}: 2},
		loop:   true,
	}
	hints := Hints{Grid: &geo.GridSize{Columns: 5, Rows: 10}}

	advisory := NewEngine(Config{LoopEscape: LoopEscapeAdvisory}, nil)
	d := advisory.LeaderChooseAction(mustView(t, radarAllOpen), mem, origin, hints)
	if d.Direction != geo.Front || d.Branch != BranchGrid {
		t.Fatalf("advisory: got %+v want Front grid", d)
	}

	override := NewEngine(Config{LoopEscape: LoopEscapeOverride}, nil)
	d = override.LeaderChooseAction(mustView(t, radarAllOpen), mem, origin, hints)
	if d.Direction != geo.Right || d.Branch != BranchLoopEscape {
		t.Fatalf("override: got %+v want Right loop_escape", d)
	}
}

func TestFollowerChooseAction(t *testing.T) {
	e := NewEngine(Config{}, nil)
	d := e.FollowerChooseAction(mustView(t, radarFrontLft), ptr(geo.Right))
	if d.Direction != geo.Front || d.Branch != BranchFollowLeader {
		t.Fatalf("got %+v want Front follow_leader", d)
	}
	d = e.FollowerChooseAction(mustView(t, radarFrontLft), ptr(geo.Left))
	if d.Direction != geo.Left || d.Branch != BranchFollowLeader {
		t.Fatalf("got %+v want Left follow_leader", d)
	}
	d = e.FollowerChooseAction(mustView(t, radarFrontLft), nil)
	if d.Direction != geo.Front || d.Branch != BranchRuleOfThumb {
		t.Fatalf("no leader move: got %+v", d)
	}
	d = e.FollowerChooseAction(mustView(t, radarClosed), ptr(geo.Back))
	if d.Direction != geo.Back || d.Branch != BranchRuleOfThumb {
		t.Fatalf("blocked: got %+v", d)
	}
}

func TestDetectNearBorder(t *testing.T) {
	grid := geo.GridSize{Columns: 10, Rows: 10}
	if got := DetectNearBorder(geo.Position{}, grid); !reflect.DeepEqual(got, []geo.Direction{geo.Right, geo.Back}) {
		t.Fatalf("corner=%v", got)
	}
	if got := DetectNearBorder(geo.Position{X: 9, Y: 9}, grid); !reflect.DeepEqual(got, []geo.Direction{geo.Left, geo.Front}) {
		t.Fatalf("far corner=%v", got)
	}
	if got := DetectNearBorder(geo.Position{X: 4, Y: 4}, grid); len(got) != 0 {
		t.Fatalf("interior=%v", got)
	}
}
