package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/nav"
	persistlog "labyrinth.ai/internal/persistence/log"
	"labyrinth.ai/internal/persistence/snapshot"
	"labyrinth.ai/internal/radar"
)

func main() {
	var (
		journalDir = flag.String("journal", "", "turn journal dir containing turns-*.jsonl.zst")
		snapPath   = flag.String("snapshot", "", "path to team .snap.zst to summarize first (optional)")
		agentName  = flag.String("agent", "", "only check turns of this agent (optional)")
		quiet      = flag.Bool("quiet", false, "print only the summary")
	)
	flag.Parse()

	if *journalDir == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d run=%s team=%s cells=%d agents=%d leader=%q exit=%v\n",
			snap.Header.Version, snap.Header.RunID, snap.Header.Team, len(snap.Cells), len(snap.Agents), snap.Leader, snap.Exit)
	}

	files, err := persistlog.JournalFiles(*journalDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *journalDir)
		os.Exit(1)
	}

	out := io.Writer(os.Stdout)
	if *quiet {
		out = io.Discard
	}
	var sum summary
	for _, path := range files {
		if err := replayFile(path, *agentName, out, &sum); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay: checked=%d mismatches=%d decode_failures=%d files=%d\n", sum.Checked, sum.Mismatches, sum.DecodeFailures, len(files))
	if sum.DecodeFailures > 0 {
		os.Exit(1)
	}
}

type summary struct {
	Checked        int
	Mismatches     int
	DecodeFailures int
}

func replayFile(path, agentName string, out io.Writer, sum *summary) error {
	return persistlog.ReadTurns(path, func(r persistlog.TurnRecord) error {
		if agentName != "" && r.Agent != agentName {
			return nil
		}
		sum.Checked++
		problem, err := checkTurn(r)
		switch {
		case err != nil:
			sum.DecodeFailures++
			fmt.Fprintf(out, "%s turn %d: decode %q: %v\n", r.Agent, r.Turn, r.Radar, err)
		case problem != "":
			sum.Mismatches++
			fmt.Fprintf(out, "%s turn %d at %v: %s\n", r.Agent, r.Turn, r.Position, problem)
		}
		return nil
	})
}

// checkTurn re-decodes the radar of r and reports a move the radar did not allow: anything
// other than an accessible direction, or Back when nothing is accessible.
func checkTurn(r persistlog.TurnRecord) (string, error) {
	v, err := radar.Decode(r.Radar)
	if err != nil {
		return "", err
	}
	if nav.IsAccessible(v, r.Action) {
		return "", nil
	}
	open := nav.Accessible(v)
	if len(open) == 0 && r.Action == geo.Back {
		return "", nil
	}
	return fmt.Sprintf("%s not accessible (open=%v branch=%s)", r.Action, open, r.Branch), nil
}
