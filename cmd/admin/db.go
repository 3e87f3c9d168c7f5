package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/labyrinth.sqlite)")
	runID := fs.String("run", "", "run_id filter (optional)")
	agentName := fs.String("agent", "", "agent filter for turns and challenges (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	switch q {
	case "runs", "turns", "cells", "challenges", "snapshots":
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "labyrinth.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := queryDB(os.Stdout, db, q, filter{run: *runID, agent: *agentName, limit: *limit}); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

type filter struct {
	run   string
	agent string
	limit int
}

// queryDB prints the newest rows of one index table as JSON lines.
func queryDB(w io.Writer, db *sql.DB, q string, f filter) error {
	if f.limit <= 0 {
		f.limit = 20
	}
	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,team,started_at,config_digest FROM runs ORDER BY started_at DESC LIMIT ?`, f.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID        string `json:"run_id"`
				Team         string `json:"team"`
				StartedAt    string `json:"started_at"`
				ConfigDigest string `json:"config_digest"`
			}
			if err := rows.Scan(&r.RunID, &r.Team, &r.StartedAt, &r.ConfigDigest); err != nil {
				return err
			}
			writeJSON(w, r)
		}
		return rows.Err()

	case "turns":
		rows, err := db.Query(`SELECT run_id,agent,turn,x,y,action,leader,branch,radar,recorded_at FROM turns
			WHERE (?='' OR run_id=?) AND (?='' OR agent=?)
			ORDER BY recorded_at DESC, turn DESC LIMIT ?`, f.run, f.run, f.agent, f.agent, f.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID      string `json:"run_id"`
				Agent      string `json:"agent"`
				Turn       int64  `json:"turn"`
				X          int    `json:"x"`
				Y          int    `json:"y"`
				Action     string `json:"action"`
				Leader     bool   `json:"leader"`
				Branch     string `json:"branch"`
				Radar      string `json:"radar"`
				RecordedAt string `json:"recorded_at"`
			}
			var leader int
			if err := rows.Scan(&r.RunID, &r.Agent, &r.Turn, &r.X, &r.Y, &r.Action, &leader, &r.Branch, &r.Radar, &r.RecordedAt); err != nil {
				return err
			}
			r.Leader = leader != 0
			writeJSON(w, r)
		}
		return rows.Err()

	case "cells":
		rows, err := db.Query(`SELECT run_id,x,y,kind,COALESCE(code,''),seen_by,updated_at FROM cells
			WHERE (?='' OR run_id=?)
			ORDER BY y, x LIMIT ?`, f.run, f.run, f.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID     string `json:"run_id"`
				X         int    `json:"x"`
				Y         int    `json:"y"`
				Kind      string `json:"kind"`
				Code      string `json:"code,omitempty"`
				SeenBy    string `json:"seen_by"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.RunID, &r.X, &r.Y, &r.Kind, &r.Code, &r.SeenBy, &r.UpdatedAt); err != nil {
				return err
			}
			writeJSON(w, r)
		}
		return rows.Err()

	case "challenges":
		rows, err := db.Query(`SELECT run_id,agent,seq,modulo,answer,attempts,solved,recorded_at FROM challenges
			WHERE (?='' OR run_id=?) AND (?='' OR agent=?)
			ORDER BY recorded_at DESC LIMIT ?`, f.run, f.run, f.agent, f.agent, f.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID      string `json:"run_id"`
				Agent      string `json:"agent"`
				Seq        int    `json:"seq"`
				Modulo     string `json:"modulo"`
				Answer     string `json:"answer"`
				Attempts   int    `json:"attempts"`
				Solved     bool   `json:"solved"`
				RecordedAt string `json:"recorded_at"`
			}
			var solved int
			if err := rows.Scan(&r.RunID, &r.Agent, &r.Seq, &r.Modulo, &r.Answer, &r.Attempts, &solved, &r.RecordedAt); err != nil {
				return err
			}
			r.Solved = solved != 0
			writeJSON(w, r)
		}
		return rows.Err()

	case "snapshots":
		rows, err := db.Query(`SELECT run_id,taken_at,path,cells,agents,COALESCE(leader,''),exit_x,exit_y FROM snapshots
			WHERE (?='' OR run_id=?)
			ORDER BY taken_at DESC LIMIT ?`, f.run, f.run, f.limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID   string `json:"run_id"`
				TakenAt string `json:"taken_at"`
				Path    string `json:"path"`
				Cells   int    `json:"cells"`
				Agents  int    `json:"agents"`
				Leader  string `json:"leader,omitempty"`
				ExitX   *int64 `json:"exit_x,omitempty"`
				ExitY   *int64 `json:"exit_y,omitempty"`
			}
			var ex, ey sql.NullInt64
			if err := rows.Scan(&r.RunID, &r.TakenAt, &r.Path, &r.Cells, &r.Agents, &r.Leader, &ex, &ey); err != nil {
				return err
			}
			if ex.Valid && ey.Valid {
				r.ExitX, r.ExitY = &ex.Int64, &ey.Int64
			}
			writeJSON(w, r)
		}
		return rows.Err()
	}
	return fmt.Errorf("unknown query %q", q)
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
