package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/persistence/snapshot"
)

func TestSQLiteIndex_WritesTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := idx.UpsertRun("run-1", "curious_broccoli", at, map[string]int{"visit_threshold": 3}); err != nil {
		t.Fatalf("UpsertRun: %v", err)
	}
	idx.WriteTurn(TurnRow{RunID: "run-1", Agent: "Player_0", Turn: 1, Action: "Front", Leader: true, Branch: "rule_of_thumb", Radar: "ieysGjGO8papd/a", At: at})
	idx.WriteTurn(TurnRow{RunID: "run-1", Agent: "Player_0", Turn: 2, Y: -1, Action: "Left", Branch: "least_visited", Radar: "jiucAjGa//cpapa", At: at})
	idx.WriteCell(CellRow{RunID: "run-1", X: 0, Y: -1, Kind: "Open", SeenBy: "Player_0", At: at})
	idx.WriteCell(CellRow{RunID: "run-1", X: 0, Y: -1, Kind: "Exit", SeenBy: "Player_1", At: at})
	idx.WriteChallenge(ChallengeRow{RunID: "run-1", Agent: "Player_0", Modulo: "7", Answer: "1", Attempts: 1, Solved: true, At: at})
	idx.WriteChallenge(ChallengeRow{RunID: "run-1", Agent: "Player_0", Modulo: "10", Answer: "0", Attempts: 3, At: at})
	exit := geo.Position{X: 0, Y: -1}
	idx.RecordSnapshot("/data/team-run-1.snap.zst", snapshot.SnapshotV1{
		Header: snapshot.Header{RunID: "run-1", TakenAt: at},
		Exit:   &exit,
		Cells:  []snapshot.CellV1{{X: 0, Y: -1}},
	})

	// Close drains the queue and commits.
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	count := func(q string, args ...any) int {
		t.Helper()
		var n int
		if err := db.QueryRow(q, args...).Scan(&n); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		return n
	}
	if n := count(`SELECT COUNT(*) FROM runs WHERE run_id='run-1'`); n != 1 {
		t.Fatalf("runs=%d want=1", n)
	}
	if n := count(`SELECT COUNT(*) FROM turns WHERE run_id='run-1'`); n != 2 {
		t.Fatalf("turns=%d want=2", n)
	}
	if n := count(`SELECT COUNT(*) FROM cells`); n != 1 {
		t.Fatalf("cells=%d want=1 (upsert)", n)
	}
	var kind, seenBy string
	if err := db.QueryRow(`SELECT kind, seen_by FROM cells WHERE x=0 AND y=-1`).Scan(&kind, &seenBy); err != nil {
		t.Fatal(err)
	}
	if kind != "Exit" || seenBy != "Player_1" {
		t.Fatalf("cell kind=%s seen_by=%s", kind, seenBy)
	}
	if n := count(`SELECT MAX(seq) FROM challenges WHERE agent='Player_0'`); n != 2 {
		t.Fatalf("challenge seq=%d want=2", n)
	}
	if n := count(`SELECT solved FROM challenges WHERE seq=1`); n != 1 {
		t.Fatalf("first challenge solved=%d want=1", n)
	}
	if n := count(`SELECT exit_y FROM snapshots WHERE run_id='run-1'`); n != -1 {
		t.Fatalf("exit_y=%d want=-1", n)
	}
}

func TestSQLiteIndex_CloseIsIdempotent(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "i.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	idx.WriteTurn(TurnRow{Turn: 1})
	if st := idx.Stats(); st.DropTurnTotal != 0 {
		t.Fatalf("writes after close should be ignored, drops=%d", st.DropTurnTotal)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error")
	}
}
