package world

import (
	"fmt"
	"sort"

	"mechgrid.ai/internal/persistence/snapshot"
	"mechgrid.ai/internal/sim/kinetics"
)

// ExportSnapshot captures placed blocks and loop state. World loop goroutine only.
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    w.tick.Load(),
		},
		TickRate:        w.cfg.TickRateHz,
		BoundaryR:       w.cfg.BoundaryR,
		MaxEditsPerTick: w.cfg.MaxEditsPerTick,
		RateLimits: snapshot.RateLimitsV1{
			EditWindowTicks: w.cfg.RateLimits.EditWindowTicks,
			EditMax:         w.cfg.RateLimits.EditMax,
		},
		Counters: snapshot.CountersV1{
			NextNetwork: w.mgr.NextNetworkID(),
			Networks:    len(w.mgr.Networks()),
		},
	}
	if len(w.rates) > 0 {
		snap.RateWindows = make(map[string]snapshot.RateWindowV1, len(w.rates))
		for id, rw := range w.rates {
			snap.RateWindows[id] = snapshot.RateWindowV1{StartTick: rw.start, Count: rw.count}
		}
	}

	positions := w.mgr.Positions()
	snap.Blocks = make([]snapshot.BlockV1, 0, len(positions))
	for _, p := range positions {
		b := w.blocks[p]
		bv := snapshot.BlockV1{
			Pos:     [3]int{p.X, p.Y, p.Z},
			ID:      b.ID,
			Facing:  b.Facing.String(),
			Turn:    b.Turn.String(),
			Engaged: b.Engaged,
		}
		if b.Faces != kinetics.NoFaces {
			for _, d := range b.Faces.Dirs() {
				bv.Faces = append(bv.Faces, d.String())
			}
		}
		snap.Blocks = append(snap.Blocks, bv)
	}
	return snap
}

// ImportSnapshot replaces the world state. Sources are placed first, then the
// remaining blocks, each group in position order, so network ids come out the
// same for a given snapshot.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world %q does not match %q", snap.Header.WorldID, w.cfg.ID)
	}

	type placed struct {
		pos   kinetics.Pos
		block Block
		node  kinetics.Node
	}
	var sources, rest []placed
	seen := map[kinetics.Pos]bool{}
	for i, bv := range snap.Blocks {
		pos := kinetics.Pos{X: bv.Pos[0], Y: bv.Pos[1], Z: bv.Pos[2]}
		if seen[pos] {
			return fmt.Errorf("block %d: duplicate position %s", i, pos)
		}
		seen[pos] = true
		b, err := blockFromSnapshot(bv)
		if err != nil {
			return fmt.Errorf("block %d at %s: %w", i, pos, err)
		}
		n, err := w.catalogs.Node(pos, b.placement())
		if err != nil {
			return fmt.Errorf("block %d at %s: %w", i, pos, err)
		}
		if n.IsSource() {
			sources = append(sources, placed{pos, b, n})
		} else {
			rest = append(rest, placed{pos, b, n})
		}
	}
	byPos := func(ps []placed) {
		sort.Slice(ps, func(i, j int) bool { return ps[i].pos.Less(ps[j].pos) })
	}
	byPos(sources)
	byPos(rest)

	mgr := kinetics.NewManager()
	blocks := make(map[kinetics.Pos]Block, len(snap.Blocks))
	for _, p := range sources {
		if !mgr.AddSource(p.node) {
			return fmt.Errorf("source %s at %s conflicts", p.block.ID, p.pos)
		}
		blocks[p.pos] = p.block
	}
	for _, p := range rest {
		if !mgr.Add(p.node) {
			return fmt.Errorf("%s at %s conflicts", p.block.ID, p.pos)
		}
		blocks[p.pos] = p.block
	}

	if snap.TickRate > 0 {
		w.cfg.TickRateHz = snap.TickRate
	}
	if snap.BoundaryR > 0 {
		w.cfg.BoundaryR = snap.BoundaryR
	}
	if snap.MaxEditsPerTick > 0 {
		w.cfg.MaxEditsPerTick = snap.MaxEditsPerTick
	}
	w.cfg.RateLimits = RateLimitConfig{
		EditWindowTicks: snap.RateLimits.EditWindowTicks,
		EditMax:         snap.RateLimits.EditMax,
	}
	w.rates = map[string]*rateWindow{}
	for id, rw := range snap.RateWindows {
		w.rates[id] = &rateWindow{start: rw.StartTick, count: rw.Count}
	}

	if w.mgr != nil {
		mgr.SetObserver(w.mgr.Observer())
	}
	w.mgr = mgr
	w.blocks = blocks
	w.tick.Store(snap.Header.Tick)
	w.view.Store(emptyView())
	w.publishView()
	return nil
}

func blockFromSnapshot(bv snapshot.BlockV1) (Block, error) {
	b := Block{ID: bv.ID, Engaged: bv.Engaged}
	var ok bool
	if b.Facing, ok = kinetics.ParseDirection(bv.Facing); !ok {
		return b, fmt.Errorf("bad facing %q", bv.Facing)
	}
	if bv.Turn != "" {
		if b.Turn, ok = kinetics.ParseDirection(bv.Turn); !ok {
			return b, fmt.Errorf("bad turn %q", bv.Turn)
		}
	}
	if len(bv.Faces) > 0 {
		f, err := kinetics.ParseFaces(bv.Faces)
		if err != nil {
			return b, err
		}
		b.Faces = f
	}
	return b, nil
}
