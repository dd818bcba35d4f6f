package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"evoclimb.io/internal/persistence/encyclopedia"
	persistlog "evoclimb.io/internal/persistence/log"
	"evoclimb.io/internal/sim/catalogs"
	"evoclimb.io/internal/sim/evolution"
	"evoclimb.io/internal/sim/physics/cpworld"
	"evoclimb.io/internal/sim/stage"
	"evoclimb.io/internal/sim/tuning"
	"evoclimb.io/internal/sim/world"
	"evoclimb.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		seed       = flag.Int64("seed", 1337, "run seed (offer shuffles)")
		configDir  = flag.String("configs", "./configs", "config directory")
		stageName  = flag.String("stage", "tower", "stage name under <configs>/stages")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dbPath     = flag.String("db", "", "encyclopedia sqlite path (default: <data>/encyclopedia.db)")
		disableDB  = flag.Bool("disable_db", false, "disable the encyclopedia store")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	cat, err := catalogs.LoadEvolution(filepath.Join(*configDir, tune.EvolutionCatalog))
	if err != nil {
		logger.Fatalf("load evolution catalog: %v", err)
	}
	st, err := stage.Load(filepath.Join(*configDir, "stages", *stageName+".json"))
	if err != nil {
		logger.Fatalf("load stage: %v", err)
	}

	phys := cpworld.New(cpworld.Config{Gravity: tune.Physics.Gravity, Iterations: tune.Physics.Iterations})
	w, err := world.New(world.WorldConfig{Tuning: tune, Evolution: cat, Stage: st, Seed: *seed}, phys)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	// Each process logs into its own session dir so replays start from tick 0.
	sessionDir := filepath.Join(*dataDir, "sessions", time.Now().UTC().Format("20060102T150405Z"))
	if err := writeSession(sessionDir, w); err != nil {
		logger.Fatalf("session: %v", err)
	}
	tickLog := persistlog.NewTickLogger(sessionDir)
	runLog := persistlog.NewRunLogger(sessionDir, func(err error) { logger.Printf("run log: %v", err) })
	defer tickLog.Close()
	defer runLog.Close()

	var store encyclopedia.Store = encyclopedia.Nop{}
	if !*disableDB {
		p := strings.TrimSpace(*dbPath)
		if p == "" {
			p = filepath.Join(*dataDir, "encyclopedia.db")
		}
		store, err = encyclopedia.Open(p)
		if err != nil {
			logger.Printf("encyclopedia disabled: %v", err)
		}
		if s, ok := store.(*encyclopedia.SQLiteStore); ok {
			s.OnError(func(err error) { logger.Printf("encyclopedia: %v", err) })
		}
	}
	defer store.Close()

	w.SetTickLogger(tickLog)
	w.SetRunRecorder(multiRecorder{runLog, store})
	w.SetEvolutionSink(unlockLogger{logger})

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := w.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP evoclimb_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE evoclimb_world_tick gauge\n")
		fmt.Fprintf(rw, "evoclimb_world_tick{stage=%q} %d\n", st.Name, m.Tick)

		fmt.Fprintf(rw, "# HELP evoclimb_world_run Current run number.\n")
		fmt.Fprintf(rw, "# TYPE evoclimb_world_run gauge\n")
		fmt.Fprintf(rw, "evoclimb_world_run{stage=%q} %d\n", st.Name, m.Run)

		fmt.Fprintf(rw, "# HELP evoclimb_world_subscribers Connected frame subscribers.\n")
		fmt.Fprintf(rw, "# TYPE evoclimb_world_subscribers gauge\n")
		fmt.Fprintf(rw, "evoclimb_world_subscribers{stage=%q} %d\n", st.Name, m.Subscribers)

		fmt.Fprintf(rw, "# HELP evoclimb_world_queue_depth Input inbox backlog.\n")
		fmt.Fprintf(rw, "# TYPE evoclimb_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "evoclimb_world_queue_depth{stage=%q,queue=%q} %d\n", st.Name, "inbox", m.InboxDepth)

		fmt.Fprintf(rw, "# HELP evoclimb_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE evoclimb_world_step_ms gauge\n")
		fmt.Fprintf(rw, "evoclimb_world_step_ms{stage=%q} %.3f\n", st.Name, m.StepMS)
	})
	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Params  any                `json:"params"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{Params: w.Params(), Metrics: w.Metrics()}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/v1/encyclopedia", func(rw http.ResponseWriter, r *http.Request) {
		sum, err := store.Summary(r.Context())
		if err != nil {
			logger.Printf("encyclopedia summary: %v", err)
			sum = encyclopedia.Summary{}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(sum)
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds)).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("stage=%s mode=%s seed=%d session=%s", st.Name, tune.ProgressionMode, *seed, sessionDir)
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
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

// writeSession records what cmd/replay needs to rebuild the world.
func writeSession(dir string, w *world.World) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(persistlog.Session{Params: w.Params(), Digests: w.Digests()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, persistlog.SessionFile), b, 0o644)
}

type multiRecorder []world.RunRecorder

func (m multiRecorder) RecordRun(r world.RunRecord) {
	for _, rec := range m {
		if rec != nil {
			rec.RecordRun(r)
		}
	}
}

type unlockLogger struct{ log *log.Logger }

func (l unlockLogger) Unlocked(u evolution.Unlock) {
	l.log.Printf("unlock #%d %s (%s tier %d)", u.Order, u.Node.ID, u.Node.Branch, u.Node.Tier)
}
