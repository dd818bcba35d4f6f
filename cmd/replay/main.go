package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "evoclimb.io/internal/persistence/log"
	"evoclimb.io/internal/protocol"
	"evoclimb.io/internal/sim/catalogs"
	"evoclimb.io/internal/sim/physics/cpworld"
	"evoclimb.io/internal/sim/stage"
	"evoclimb.io/internal/sim/tuning"
	"evoclimb.io/internal/sim/world"
)

var errStop = errors.New("stop")

func main() {
	var (
		sessionDir = flag.String("session", "", "session dir written by the server (contains session.json and ticks/)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *sessionDir == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}

	sess, err := persistlog.ReadSession(*sessionDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read session:", err)
		os.Exit(1)
	}
	fmt.Printf("session stage=%s mode=%s seed=%d tick_rate=%d\n",
		sess.Params.Stage, sess.Params.ProgressionMode, sess.Params.Seed, sess.Params.TickRateHz)

	w, err := buildWorld(*configDir, *tuningPath, sess)
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}

	files, err := persistlog.TickSegments(*sessionDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick segments found in", *sessionDir)
		os.Exit(1)
	}

	var checked uint64
	for _, path := range files {
		err := replayFile(w, path, *fromTick, *toTick, &checked)
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d ticks\n", checked)
}

// buildWorld rebuilds the recorded world. Configs must be byte-identical to the recording.
func buildWorld(configDir, tuningPath string, sess persistlog.Session) (*world.World, error) {
	if tuningPath == "" {
		tuningPath = filepath.Join(configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tuningPath)
	if err != nil {
		return nil, err
	}
	if tune.TickRateHz != sess.Params.TickRateHz {
		return nil, fmt.Errorf("tick_rate_hz mismatch: tuning=%d session=%d", tune.TickRateHz, sess.Params.TickRateHz)
	}
	tune.ProgressionMode = sess.Params.ProgressionMode

	cat, err := catalogs.LoadEvolution(filepath.Join(configDir, tune.EvolutionCatalog))
	if err != nil {
		return nil, err
	}
	if cat.Digest != sess.Digests.Evolution {
		return nil, fmt.Errorf("evolution catalog digest mismatch: have=%s session=%s", cat.Digest, sess.Digests.Evolution)
	}
	st, err := stage.Load(filepath.Join(configDir, "stages", sess.Params.Stage+".json"))
	if err != nil {
		return nil, err
	}
	if st.Digest != sess.Digests.Stage {
		return nil, fmt.Errorf("stage digest mismatch: have=%s session=%s", st.Digest, sess.Digests.Stage)
	}

	phys := cpworld.New(cpworld.Config{Gravity: tune.Physics.Gravity, Iterations: tune.Physics.Iterations})
	return world.New(world.WorldConfig{Tuning: tune, Evolution: cat, Stage: st, Seed: sess.Params.Seed}, phys)
}

func replayFile(w *world.World, path string, verifyFrom, toTick uint64, checked *uint64) error {
	return persistlog.ReadJSONL(path, func(entry world.TickLogEntry) error {
		if toTick != 0 && entry.Tick > toTick {
			return errStop
		}
		if entry.Tick != w.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
		}

		var in protocol.InputMsg
		if entry.Input != nil {
			in = *entry.Input
		}
		tick, gotDigest := w.StepOnce(in)

		// Sanity check: StepOnce should have stepped the same tick.
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", tick, entry.Tick, filepath.Base(path))
		}
		if tick >= verifyFrom {
			*checked++
			if gotDigest != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
			}
		}
		return nil
	})
}
