package world

import (
	"maps"

	"mechgrid.ai/internal/sim/kinetics"
)

// Placed is a block together with its kinetic entry.
type Placed struct {
	Block Block
	Entry kinetics.Entry
}

// View is an immutable copy of the world published after each tick. Readers
// on other goroutines never see a half-applied edit.
type View struct {
	tick     uint64
	placed   map[kinetics.Pos]Placed
	networks []kinetics.NetworkInfo
}

func emptyView() *View {
	return &View{placed: map[kinetics.Pos]Placed{}}
}

func (v *View) Tick() uint64 { return v.tick }

func (v *View) Len() int { return len(v.placed) }

func (v *View) Get(pos kinetics.Pos) (Placed, bool) {
	p, ok := v.placed[pos]
	return p, ok
}

// Networks returns the networks ordered by id. The slice is shared; do not modify.
func (v *View) Networks() []kinetics.NetworkInfo { return v.networks }

// publishView copies the previous view and refreshes only the positions the
// manager reports as dirty.
func (w *World) publishView() {
	prev := w.view.Load()
	dirty := w.mgr.TakeDirty()
	if len(dirty) == 0 && prev.tick == w.tick.Load() {
		return
	}
	next := &View{tick: w.tick.Load(), networks: prev.networks}
	if len(dirty) == 0 {
		next.placed = prev.placed
	} else {
		next.placed = maps.Clone(prev.placed)
		for _, p := range dirty {
			ent, ok := w.mgr.Get(p)
			if !ok {
				delete(next.placed, p)
				continue
			}
			next.placed[p] = Placed{Block: w.blocks[p], Entry: ent}
		}
		next.networks = w.mgr.Networks()
	}
	w.view.Store(next)
}
