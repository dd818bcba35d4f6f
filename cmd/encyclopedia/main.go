package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"evoclimb.io/internal/persistence/encyclopedia"
	persistlog "evoclimb.io/internal/persistence/log"
	"evoclimb.io/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "sessions":
			sessionsCmd(os.Args[2:])
			return
		case "runs":
			runsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "summary":
			summaryCmd(os.Args[2:])
			return
		}
	}
	summaryCmd(os.Args[1:])
}

func summaryCmd(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "encyclopedia sqlite path (default: <data>/encyclopedia.db)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "encyclopedia.db")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	store, err := encyclopedia.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer store.Close()

	sum, err := store.Summary(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "summary:", err)
		os.Exit(1)
	}
	printJSON(sum)
}

func sessionsCmd(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "sessions"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

// runsCmd prints the run log of one session, one JSON object per run.
func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	session := fs.String("session", "", "session name (required)")
	clearedOnly := fs.Bool("cleared", false, "only print cleared runs")
	_ = fs.Parse(args)

	if strings.TrimSpace(*session) == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}
	dir := filepath.Join(*dataDir, "sessions", *session, "runs")
	segs, err := persistlog.Segments(dir, "runs")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list runs:", err)
		os.Exit(1)
	}
	for _, p := range segs {
		err := persistlog.ReadJSONL(p, func(r world.RunRecord) error {
			if *clearedOnly && !r.Cleared {
				return nil
			}
			printJSON(r)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
