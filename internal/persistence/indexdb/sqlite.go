package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
	_ "modernc.org/sqlite"

	"labyrinth.ai/internal/persistence/snapshot"
)

var log = logging.MustGetLogger("store")

const defaultQueue = 65536

// SQLiteIndex is a secondary, queryable index of a run. Writes are queued and applied by one
// goroutine; when the queue is full they are dropped and counted. The turn journal stays the
// source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTurn      atomic.Uint64
	dropCell      atomic.Uint64
	dropChallenge atomic.Uint64
	dropSnapshot  atomic.Uint64
	writeErrors   atomic.Uint64
}

type Stats struct {
	DropTurnTotal      uint64 `json:"drop_turn_total"`
	DropCellTotal      uint64 `json:"drop_cell_total"`
	DropChallengeTotal uint64 `json:"drop_challenge_total"`
	DropSnapshotTotal  uint64 `json:"drop_snapshot_total"`
	WriteErrorTotal    uint64 `json:"write_error_total"`
	QueueDepth         int    `json:"queue_depth"`
	QueueCapacity      int    `json:"queue_capacity"`
}

type reqKind int

const (
	reqTurn reqKind = iota + 1
	reqCell
	reqChallenge
	reqSnapshot
)

type req struct {
	kind reqKind

	turn      TurnRow
	cell      CellRow
	challenge ChallengeRow
	snapshot  snapshotRow
}

type TurnRow struct {
	RunID  string
	Agent  string
	Turn   uint64
	X, Y   int
	Action string
	Leader bool
	Branch string
	Radar  string
	At     time.Time
}

// CellRow is the latest observation of one absolute map square.
type CellRow struct {
	RunID  string
	X, Y   int
	Kind   string
	Code   string
	SeenBy string
	At     time.Time
}

type ChallengeRow struct {
	RunID    string
	Agent    string
	Modulo   string
	Answer   string
	Attempts int
	Solved   bool
	At       time.Time
}

type snapshotRow struct {
	RunID   string
	TakenAt time.Time
	Path    string
	Cells   int
	Agents  int
	Leader  string
	HasExit bool
	ExitX   int
	ExitY   int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, defaultQueue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			started_at TEXT NOT NULL,
			config_digest TEXT NOT NULL,
			config_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			run_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			turn INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			action TEXT NOT NULL,
			leader INTEGER NOT NULL,
			branch TEXT NOT NULL,
			radar TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, agent, turn)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_pos ON turns(run_id, x, y);`,
		`CREATE TABLE IF NOT EXISTS cells (
			run_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			kind TEXT NOT NULL,
			code TEXT,
			seen_by TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (run_id, x, y)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cells_kind ON cells(run_id, kind);`,
		`CREATE TABLE IF NOT EXISTS challenges (
			run_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			seq INTEGER NOT NULL,
			modulo TEXT NOT NULL,
			answer TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			solved INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, agent, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			taken_at TEXT NOT NULL,
			path TEXT NOT NULL,
			cells INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			leader TEXT,
			exit_x INTEGER,
			exit_y INTEGER,
			PRIMARY KEY (run_id, taken_at)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTurnTotal:      s.dropTurn.Load(),
		DropCellTotal:      s.dropCell.Load(),
		DropChallengeTotal: s.dropChallenge.Load(),
		DropSnapshotTotal:  s.dropSnapshot.Load(),
		WriteErrorTotal:    s.writeErrors.Load(),
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
	}
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
		return
	default:
	}
	switch r.kind {
	case reqTurn:
		s.dropTurn.Add(1)
	case reqCell:
		s.dropCell.Add(1)
	case reqChallenge:
		s.dropChallenge.Add(1)
	case reqSnapshot:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) WriteTurn(r TurnRow) { s.enqueue(req{kind: reqTurn, turn: r}) }

func (s *SQLiteIndex) WriteCell(r CellRow) { s.enqueue(req{kind: reqCell, cell: r}) }

func (s *SQLiteIndex) WriteChallenge(r ChallengeRow) {
	s.enqueue(req{kind: reqChallenge, challenge: r})
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	r := snapshotRow{
		RunID:   snap.Header.RunID,
		TakenAt: snap.Header.TakenAt,
		Path:    path,
		Cells:   len(snap.Cells),
		Agents:  len(snap.Agents),
		Leader:  snap.Leader,
	}
	if snap.Exit != nil {
		r.HasExit = true
		r.ExitX, r.ExitY = snap.Exit.X, snap.Exit.Y
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r})
}

// UpsertRun stores the run row synchronously, with the effective configuration as canonical JSON.
func (s *SQLiteIndex) UpsertRun(runID, team string, startedAt time.Time, cfg any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO runs(run_id,team,started_at,config_digest,config_json) VALUES(?,?,?,?,?)`,
		runID, team, startedAt.UTC().Format(time.RFC3339Nano), digest, string(b)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(run_id,agent,turn,x,y,action,leader,branch,radar,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	upsertCell, _ := s.db.Prepare(`INSERT OR REPLACE INTO cells(run_id,x,y,kind,code,seen_by,updated_at) VALUES(?,?,?,?,?,?,?)`)
	insertChallenge, _ := s.db.Prepare(`INSERT INTO challenges(run_id,agent,seq,modulo,answer,attempts,solved,recorded_at)
		VALUES(?,?,(SELECT COALESCE(MAX(seq),0)+1 FROM challenges WHERE run_id=? AND agent=?),?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,taken_at,path,cells,agents,leader,exit_x,exit_y) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTurn, upsertCell, insertChallenge, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			log.Warningf("index begin: %v", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
			log.Warningf("index commit: %v", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.writeErrors.Add(1)
		log.Warningf("index write: %v", err)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback(err)
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			continue
		}
		switch r.kind {
		case reqTurn:
			t := r.turn
			exec(insertTurn, t.RunID, t.Agent, int64(t.Turn), t.X, t.Y, t.Action, boolInt(t.Leader), t.Branch, t.Radar, stamp(t.At))
		case reqCell:
			c := r.cell
			exec(upsertCell, c.RunID, c.X, c.Y, c.Kind, nullString(c.Code), c.SeenBy, stamp(c.At))
		case reqChallenge:
			c := r.challenge
			exec(insertChallenge, c.RunID, c.Agent, c.RunID, c.Agent, c.Modulo, c.Answer, c.Attempts, boolInt(c.Solved), stamp(c.At))
		case reqSnapshot:
			sn := r.snapshot
			var ex, ey any
			if sn.HasExit {
				ex, ey = sn.ExitX, sn.ExitY
			}
			exec(insertSnapshot, sn.RunID, stamp(sn.TakenAt), sn.Path, sn.Cells, sn.Agents, nullString(sn.Leader), ex, ey)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
