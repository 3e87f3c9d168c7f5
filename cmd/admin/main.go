package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "labyrinth.ai/internal/persistence/log"
	"labyrinth.ai/internal/persistence/snapshot"
	"labyrinth.ai/internal/team"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "list":
			listCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listRuns(os.Stdout, *dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
}

type runListing struct {
	RunID        string `json:"run_id"`
	Team         string `json:"team,omitempty"`
	TakenAt      string `json:"snapshot_taken_at,omitempty"`
	Snapshot     string `json:"snapshot,omitempty"`
	JournalFiles int    `json:"journal_files"`
}

// listRuns prints one JSON line per run directory under <data>/runs.
func listRuns(w io.Writer, dataDir string) error {
	base := filepath.Join(dataDir, "runs")
	entries, err := os.ReadDir(base)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		runDir := filepath.Join(base, name)
		l := runListing{RunID: name}
		if files, err := persistlog.JournalFiles(filepath.Join(runDir, "turns")); err == nil {
			l.JournalFiles = len(files)
		}
		snapPath := filepath.Join(runDir, "snapshots", snapshot.FileName(name))
		if h, err := snapshot.ReadHeader(snapPath); err == nil {
			l.Team = h.Team
			l.TakenAt = h.TakenAt.Format("2006-01-02T15:04:05Z07:00")
			l.Snapshot = snapPath
		}
		writeJSON(w, l)
	}
	return nil
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("path", "", "team snapshot path (.snap.zst)")
	noMap := fs.Bool("no_map", false, "skip the ASCII map")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "missing -path")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printSnapshot(os.Stdout, snap, !*noMap)
}

func printSnapshot(w io.Writer, snap snapshot.SnapshotV1, withMap bool) {
	fmt.Fprintf(w, "snapshot v%d run=%s team=%s taken_at=%s\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Team, snap.Header.TakenAt.Format("2006-01-02T15:04:05Z07:00"))
	leader := snap.Leader
	if leader == "" {
		leader = "-"
	}
	fmt.Fprintf(w, "leader=%s cells=%d agents=%d\n", leader, len(snap.Cells), len(snap.Agents))
	if snap.Exit != nil {
		fmt.Fprintf(w, "exit=%v\n", *snap.Exit)
	}
	if snap.Compass != nil {
		fmt.Fprintf(w, "compass=%.1f\n", *snap.Compass)
	}
	if snap.Grid != nil {
		fmt.Fprintf(w, "grid=%dx%d\n", snap.Grid.Columns, snap.Grid.Rows)
	}
	for _, a := range snap.Agents {
		fmt.Fprintf(w, "agent %s position=%v turns=%d visited=%d\n", a.Name, a.Position, a.Turns, len(a.Visits))
	}
	if withMap && len(snap.Cells) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, team.RenderMap(snap.Map()))
	}
}
