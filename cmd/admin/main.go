package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mechgrid.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "audits":
			auditsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID, "snapshots")
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// inspectCmd prints a snapshot's header and a per-kind block census.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used when -snapshot is empty)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	blocks := fs.Bool("blocks", false, "print every block")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = snapshot.Latest(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(summarize(path, snap))
	if *blocks {
		for _, b := range snap.Blocks {
			printJSON(b)
		}
	}
}

type snapshotSummary struct {
	Path            string         `json:"path"`
	WorldID         string         `json:"world_id"`
	Tick            uint64         `json:"tick"`
	TickRateHz      int            `json:"tick_rate_hz"`
	BoundaryR       int            `json:"boundary_r"`
	MaxEditsPerTick int            `json:"max_edits_per_tick"`
	Blocks          int            `json:"blocks"`
	ByKind          map[string]int `json:"by_kind"`
	RateWindows     int            `json:"rate_windows"`
}

func summarize(path string, snap snapshot.SnapshotV1) snapshotSummary {
	s := snapshotSummary{
		Path:            filepath.Base(path),
		WorldID:         snap.Header.WorldID,
		Tick:            snap.Header.Tick,
		TickRateHz:      snap.TickRate,
		BoundaryR:       snap.BoundaryR,
		MaxEditsPerTick: snap.MaxEditsPerTick,
		Blocks:          len(snap.Blocks),
		ByKind:          map[string]int{},
		RateWindows:     len(snap.RateWindows),
	}
	for _, b := range snap.Blocks {
		s.ByKind[b.ID]++
	}
	return s
}
