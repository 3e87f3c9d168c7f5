package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"labyrinth.ai/internal/agent"
	"labyrinth.ai/internal/logging"
	"labyrinth.ai/internal/nav"
	"labyrinth.ai/internal/persistence/indexdb"
	persistlog "labyrinth.ai/internal/persistence/log"
	"labyrinth.ai/internal/persistence/snapshot"
	"labyrinth.ai/internal/team"
	"labyrinth.ai/internal/transport/frame"
	"labyrinth.ai/internal/transport/mqtt"
	"labyrinth.ai/internal/transport/observer"
	"labyrinth.ai/internal/tuning"
)

const statePushEvery = 2 * time.Second

func main() {
	var (
		configPath = flag.String("config", "./configs/labyrinth.yaml", "path to labyrinth.yaml")
		addr       = flag.String("addr", "", "game server address (overrides server.addr)")
		teamName   = flag.String("team", "", "team name (overrides team.name)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides data.dir)")
		logLevel   = flag.String("log_level", "", "debug|info|notice|warning|error|critical (overrides log.level)")
		resume     = flag.String("resume", "", "team snapshot to resume the map and visit counts from (optional)")
	)
	flag.Parse()

	cfg, err := tuning.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *teamName != "" {
		cfg.Team.Name = *teamName
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if err := logging.Init(cfg.Log.Level, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "log:", err)
		os.Exit(2)
	}
	logger := logging.For("bot")

	runID := uuid.NewString()
	runDir := filepath.Join(cfg.Data.Dir, "runs", runID)
	snapPath := filepath.Join(runDir, "snapshots", snapshot.FileName(runID))
	logger.Noticef("run %s team=%s server=%s data=%s", runID, cfg.Team.Name, cfg.Server.Addr, runDir)

	st := team.NewState()
	secrets := team.NewSecrets()
	roster := agent.NewRoster(cfg.Team.Name, runID, st)
	if *resume != "" {
		snap, err := snapshot.ReadSnapshot(*resume)
		if err != nil {
			logger.Fatalf("resume: %v", err)
		}
		roster.Restore(snap)
	}

	journal := persistlog.NewTurnLogger(runDir)
	defer journal.Close()
	sinks := agent.Sinks{Journal: journal}

	var idx *indexdb.SQLiteIndex
	if !cfg.Data.DisableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.Data.Dir, "index", "labyrinth.sqlite"))
		if err != nil {
			logger.Errorf("index disabled: %v", err)
			idx = nil
		} else {
			defer idx.Close()
			if err := idx.UpsertRun(runID, cfg.Team.Name, time.Now(), cfg); err != nil {
				logger.Warningf("index run row: %v", err)
			}
			sinks.Index = idx
		}
	}

	var hub *observer.Hub
	if cfg.Observer.Listen != "" {
		hub = observer.NewHub(roster.ObserverState)
		sinks.Observer = hub
	}

	var pub *mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		pub, err = mqtt.Dial(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Team:        cfg.Team.Name,
		})
		if err != nil {
			logger.Errorf("mqtt disabled: %v", err)
			pub = nil
		} else {
			defer pub.Close()
			sinks.MQTT = pub
		}
	}

	// The coordinator outlives the agents so their last reports still reach the sinks.
	coord := agent.NewCoordinator(runID, 1024, sinks)
	coordCtx, stopCoord := context.WithCancel(context.Background())
	coordDone := make(chan struct{})
	go func() {
		coord.Run(coordCtx)
		close(coordDone)
	}()

	ctx, cancel := signalContext()
	defer cancel()

	if hub != nil {
		srv := newHTTPServer(cfg.Observer.Listen, hub, roster, coord, idx, pub)
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Infof("observer listening on %s", cfg.Observer.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("observer: %v", err)
			}
		}()
	}

	writeSnap := func() {
		snap := roster.Snapshot(time.Now())
		if err := snapshot.WriteSnapshot(snapPath, snap); err != nil {
			logger.Errorf("snapshot write: %v", err)
			return
		}
		if idx != nil {
			idx.RecordSnapshot(snapPath, snap)
		}
		logger.Debugf("snapshot %s cells=%d", snapPath, len(snap.Cells))
	}
	go func() {
		snapTick := time.NewTicker(cfg.Data.SnapshotEvery)
		defer snapTick.Stop()
		stateTick := time.NewTicker(statePushEvery)
		defer stateTick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-snapTick.C:
				writeSnap()
			case <-stateTick.C:
				if hub != nil {
					hub.PublishState(roster.ObserverState())
				}
			}
		}
	}()

	players, token, err := register(ctx, cfg)
	if err != nil {
		logger.Errorf("register: %v", err)
		stopCoord()
		<-coordDone
		return
	}

	engine := nav.NewEngine(cfg.EngineConfig(), logging.For("nav"))
	solver := team.NewSolver(cfg.SolverConfig(), secrets)

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		name := fmt.Sprintf("%s%d", cfg.Team.PlayerPrefix, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runPlayer(ctx, cfg, name, token, roster, secrets, engine, solver, coord.Reports()); err != nil {
				logger.Errorf("%s stopped: %v", name, err)
			}
		}()
	}
	wg.Wait()
	cancel()

	writeSnap()
	stopCoord()
	<-coordDone
	logger.Noticef("run %s done: %d agents, %d map cells", runID, players, st.MapSize())
}

// register opens the bootstrap connection, registers the team and closes it again.
func register(ctx context.Context, cfg tuning.Config) (int, string, error) {
	conn, err := frame.Dial(ctx, cfg.Server.Addr, cfg.Server.RetryInterval, cfg.Server.MaxFrameBytes)
	if err != nil {
		return 0, "", err
	}
	defer conn.Close()
	res, err := agent.RegisterTeam(ctx, conn, cfg.Team.Name)
	if err != nil {
		return 0, "", err
	}
	return res.ExpectedPlayers, res.Token, nil
}

func runPlayer(ctx context.Context, cfg tuning.Config, name, token string, roster *agent.Roster, secrets *team.Secrets, engine *nav.Engine, solver *team.Solver, reports chan<- agent.Report) error {
	conn, err := frame.Dial(ctx, cfg.Server.Addr, cfg.Server.RetryInterval, cfg.Server.MaxFrameBytes)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := agent.SubscribePlayer(ctx, conn, name, token); err != nil {
		return err
	}

	a := agent.New(agent.Config{
		Name:            name,
		HistoryCapacity: cfg.Navigation.HistoryCapacity,
		LoopMinHistory:  cfg.Navigation.LoopMinHistory,
		SendBackoff:     cfg.Transport.SendBackoff,
	}, conn, roster.State, secrets, engine, solver, reports)
	roster.Add(a)
	return a.Run(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
