package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"labyrinth.ai/internal/agent"
	"labyrinth.ai/internal/observerproto"
	"labyrinth.ai/internal/persistence/indexdb"
	"labyrinth.ai/internal/team"
	"labyrinth.ai/internal/transport/mqtt"
	"labyrinth.ai/internal/transport/observer"
)

func newHTTPServer(addr string, hub *observer.Hub, roster *agent.Roster, coord *agent.Coordinator, idx *indexdb.SQLiteIndex, pub *mqtt.Publisher) *http.Server {
	st := roster.State
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, coord, st, idx, hub, pub)
	})
	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			observerproto.StateMsg
			Counters map[string]agent.Counters `json:"counters"`
		}{
			StateMsg: roster.ObserverState(),
			Counters: coord.Counters(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/v1/observe", hub.WSHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, coord *agent.Coordinator, st *team.State, idx *indexdb.SQLiteIndex, hub *observer.Hub, pub *mqtt.Publisher) {
	counters := coord.Counters()
	names := coord.AgentNames()

	fmt.Fprintf(w, "# HELP labyrinth_agent_turns_total Turns decided per agent.\n")
	fmt.Fprintf(w, "# TYPE labyrinth_agent_turns_total counter\n")
	for _, name := range names {
		fmt.Fprintf(w, "labyrinth_agent_turns_total{agent=%q} %d\n", name, counters[name].Turns)
	}

	fmt.Fprintf(w, "# HELP labyrinth_agent_leader_turns_total Turns decided as leader.\n")
	fmt.Fprintf(w, "# TYPE labyrinth_agent_leader_turns_total counter\n")
	for _, name := range names {
		fmt.Fprintf(w, "labyrinth_agent_leader_turns_total{agent=%q} %d\n", name, counters[name].LeaderTurns)
	}

	fmt.Fprintf(w, "# HELP labyrinth_agent_branch_total Decision step that produced each move.\n")
	fmt.Fprintf(w, "# TYPE labyrinth_agent_branch_total counter\n")
	for _, name := range names {
		branches := counters[name].Branches
		keys := make([]string, 0, len(branches))
		for b := range branches {
			keys = append(keys, b)
		}
		sort.Strings(keys)
		for _, b := range keys {
			fmt.Fprintf(w, "labyrinth_agent_branch_total{agent=%q,branch=%q} %d\n", name, b, branches[b])
		}
	}

	fmt.Fprintf(w, "# HELP labyrinth_agent_events_total Non-move events per agent.\n")
	fmt.Fprintf(w, "# TYPE labyrinth_agent_events_total counter\n")
	for _, name := range names {
		c := counters[name]
		fmt.Fprintf(w, "labyrinth_agent_events_total{agent=%q,event=%q} %d\n", name, "hint", c.Hints)
		fmt.Fprintf(w, "labyrinth_agent_events_total{agent=%q,event=%q} %d\n", name, "challenge", c.Challenges)
		fmt.Fprintf(w, "labyrinth_agent_events_total{agent=%q,event=%q} %d\n", name, "challenge_solved", c.ChallengesSolved)
		fmt.Fprintf(w, "labyrinth_agent_events_total{agent=%q,event=%q} %d\n", name, "collision", c.Collisions)
		fmt.Fprintf(w, "labyrinth_agent_events_total{agent=%q,event=%q} %d\n", name, "decode_error", c.DecodeErrors)
	}

	fmt.Fprintf(w, "# HELP labyrinth_team_connected Connected agents.\n")
	fmt.Fprintf(w, "# TYPE labyrinth_team_connected gauge\n")
	fmt.Fprintf(w, "labyrinth_team_connected %d\n", st.Connected())

	fmt.Fprintf(w, "# HELP labyrinth_team_map_cells Known labyrinth cells.\n")
	fmt.Fprintf(w, "# TYPE labyrinth_team_map_cells gauge\n")
	fmt.Fprintf(w, "labyrinth_team_map_cells %d\n", st.MapSize())

	exit := 0
	if st.Exit() != nil {
		exit = 1
	}
	fmt.Fprintf(w, "# HELP labyrinth_team_exit_known Whether the exit has been seen.\n")
	fmt.Fprintf(w, "# TYPE labyrinth_team_exit_known gauge\n")
	fmt.Fprintf(w, "labyrinth_team_exit_known %d\n", exit)

	if idx != nil {
		s := idx.Stats()
		fmt.Fprintf(w, "# HELP labyrinth_index_drop_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(w, "# TYPE labyrinth_index_drop_total counter\n")
		fmt.Fprintf(w, "labyrinth_index_drop_total{kind=%q} %d\n", "turn", s.DropTurnTotal)
		fmt.Fprintf(w, "labyrinth_index_drop_total{kind=%q} %d\n", "cell", s.DropCellTotal)
		fmt.Fprintf(w, "labyrinth_index_drop_total{kind=%q} %d\n", "challenge", s.DropChallengeTotal)
		fmt.Fprintf(w, "labyrinth_index_drop_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)

		fmt.Fprintf(w, "# HELP labyrinth_index_write_errors_total Failed index statements.\n")
		fmt.Fprintf(w, "# TYPE labyrinth_index_write_errors_total counter\n")
		fmt.Fprintf(w, "labyrinth_index_write_errors_total %d\n", s.WriteErrorTotal)

		fmt.Fprintf(w, "# HELP labyrinth_index_queue_depth Index queue backlog.\n")
		fmt.Fprintf(w, "# TYPE labyrinth_index_queue_depth gauge\n")
		fmt.Fprintf(w, "labyrinth_index_queue_depth %d\n", s.QueueDepth)
	}

	if hub != nil {
		fmt.Fprintf(w, "# HELP labyrinth_observer_sessions Open observer sessions.\n")
		fmt.Fprintf(w, "# TYPE labyrinth_observer_sessions gauge\n")
		fmt.Fprintf(w, "labyrinth_observer_sessions %d\n", hub.Sessions())
		fmt.Fprintf(w, "# HELP labyrinth_observer_dropped_total Observer messages dropped on full session buffers.\n")
		fmt.Fprintf(w, "# TYPE labyrinth_observer_dropped_total counter\n")
		fmt.Fprintf(w, "labyrinth_observer_dropped_total %d\n", hub.Dropped())
	}

	if pub != nil {
		fmt.Fprintf(w, "# HELP labyrinth_mqtt_pending Messages queued until the broker connects.\n")
		fmt.Fprintf(w, "# TYPE labyrinth_mqtt_pending gauge\n")
		fmt.Fprintf(w, "labyrinth_mqtt_pending %d\n", pub.Pending())
		fmt.Fprintf(w, "# HELP labyrinth_mqtt_failed_total Publishes that returned an error.\n")
		fmt.Fprintf(w, "# TYPE labyrinth_mqtt_failed_total counter\n")
		fmt.Fprintf(w, "labyrinth_mqtt_failed_total %d\n", pub.Failed())
	}
}
