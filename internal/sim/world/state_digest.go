package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"mechgrid.ai/internal/sim/kinetics"
)

// StateDigest hashes every placed block with its derived kinetic state in
// position order. Networks are identified by their source position, since ids
// are reassigned when a snapshot is replayed.
func (w *World) StateDigest() string {
	sources := map[uint64]kinetics.Pos{}
	for _, nw := range w.mgr.Networks() {
		sources[nw.ID] = nw.Source
	}

	h := sha256.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	putPos := func(p kinetics.Pos) {
		putInt(int64(p.X))
		putInt(int64(p.Y))
		putInt(int64(p.Z))
	}
	putStr := func(s string) {
		putInt(int64(len(s)))
		h.Write([]byte(s))
	}

	putInt(int64(w.tick.Load()))
	for _, p := range w.mgr.Positions() {
		ent, _ := w.mgr.Get(p)
		b := w.blocks[p]
		putPos(p)
		putStr(b.ID)
		putInt(int64(ent.Node.Faces))
		if !ent.State.Connected {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		putPos(sources[ent.State.NetworkID])
		if d, ok := ent.State.EntryDirection(); ok {
			h.Write([]byte{1, byte(d)})
		} else {
			h.Write([]byte{0, 0})
		}
		if r, ok := ent.Output(); ok {
			h.Write([]byte{1, byte(r.Direction)})
			putInt(int64(math.Float32bits(r.Speed)))
		} else {
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
