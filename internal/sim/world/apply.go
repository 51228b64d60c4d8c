package world

import (
	"errors"
	"fmt"
	"strings"

	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/kinetics"
)

type editError struct {
	code string
	msg  string
}

func (e *editError) Error() string { return e.code + ": " + e.msg }

func fail(code, format string, args ...any) *editError {
	return &editError{code: code, msg: fmt.Sprintf(format, args...)}
}

// Apply validates and applies one edit at the current tick. It is called from
// the world loop; tests and replay call it through StepEdits.
func (w *World) Apply(clientID string, e protocol.EditMsg) protocol.EditResultMsg {
	res := protocol.EditResultMsg{
		Type:            protocol.TypeEditResult,
		ProtocolVersion: protocol.Version,
		EditID:          e.EditID,
		Tick:            w.tick.Load(),
	}
	pos := kinetics.Pos{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}

	var err error
	if err = w.allowEdit(clientID); err == nil {
		err = w.checkBounds(pos)
	}
	if err == nil {
		switch e.Op {
		case protocol.OpPlace:
			err = w.place(pos, e)
		case protocol.OpBreak:
			err = w.breakBlock(pos)
		case protocol.OpConfigure:
			err = w.configure(pos, e)
		default:
			err = fail(protocol.ErrBadRequest, "unknown op %q", e.Op)
		}
	}

	if err != nil {
		var ee *editError
		if !errors.As(err, &ee) {
			ee = fail(protocol.ErrInternal, "%v", err)
		}
		res.Code = ee.code
		res.Message = ee.msg
		w.observeEdit(e.Op, ee.code)
		return res
	}

	res.OK = true
	if ent, ok := w.mgr.Get(pos); ok && ent.State.Connected {
		id := ent.State.NetworkID
		res.NetworkID = &id
	}
	w.observeEdit(e.Op, "")
	w.audit(clientID, e.Op, pos)
	return res
}

func (w *World) observeEdit(op, code string) {
	if w.metrics != nil {
		w.metrics.ObserveEdit(op, code)
	}
}

func (w *World) audit(actor, action string, pos kinetics.Pos) {
	if w.auditLogger == nil {
		return
	}
	ent := AuditEntry{
		Tick:   w.tick.Load(),
		Actor:  actor,
		Action: action,
		Pos:    [3]int{pos.X, pos.Y, pos.Z},
	}
	if b, ok := w.blocks[pos]; ok {
		ent.Block = b.ID
	}
	if got, ok := w.mgr.Get(pos); ok && got.State.Connected {
		ent.NetworkID = got.State.NetworkID
		ent.Connected = true
	}
	if err := w.auditLogger.WriteAudit(ent); err != nil {
		w.log.Printf("audit write: %v", err)
	}
}

// allowEdit enforces the per-client sliding window. A zero EditMax disables it.
func (w *World) allowEdit(clientID string) error {
	rl := w.cfg.RateLimits
	if rl.EditMax <= 0 || rl.EditWindowTicks <= 0 {
		return nil
	}
	now := w.tick.Load()
	rw := w.rates[clientID]
	if rw == nil || now-rw.start >= uint64(rl.EditWindowTicks) {
		rw = &rateWindow{start: now}
		w.rates[clientID] = rw
	}
	if rw.count >= rl.EditMax {
		return fail(protocol.ErrRateLimit, "client %s exceeded %d edits per %d ticks", clientID, rl.EditMax, rl.EditWindowTicks)
	}
	rw.count++
	return nil
}

func (w *World) checkBounds(p kinetics.Pos) error {
	r := w.cfg.BoundaryR
	if abs(p.X) > r || abs(p.Y) > r || abs(p.Z) > r {
		return fail(protocol.ErrOutOfBounds, "%s outside boundary %d", p, r)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func parseDir(field, s string) (kinetics.Direction, error) {
	d, ok := kinetics.ParseDirection(s)
	if !ok {
		return 0, fail(protocol.ErrBadRequest, "bad %s %q", field, s)
	}
	return d, nil
}

func (w *World) place(pos kinetics.Pos, e protocol.EditMsg) error {
	if _, ok := w.blocks[pos]; ok {
		return fail(protocol.ErrOccupied, "%s already holds %s", pos, w.blocks[pos].ID)
	}
	b := Block{ID: strings.ToUpper(strings.TrimSpace(e.Block))}
	if b.ID == "" {
		return fail(protocol.ErrBadRequest, "missing block")
	}
	var err error
	if b.Facing, err = parseDir("facing", e.Facing); err != nil {
		return err
	}
	if e.Turn != "" {
		if b.Turn, err = parseDir("turn", e.Turn); err != nil {
			return err
		}
	}
	if len(e.Faces) > 0 {
		if b.Faces, err = kinetics.ParseFaces(e.Faces); err != nil {
			return fail(protocol.ErrBadRequest, "%v", err)
		}
	}
	if e.Engaged != nil {
		b.Engaged = *e.Engaged
	}

	n, err := w.catalogs.Node(pos, b.placement())
	if err != nil {
		return fail(protocol.ErrBadRequest, "%v", err)
	}
	var ok bool
	if n.IsSource() {
		ok = w.mgr.AddSource(n)
	} else {
		ok = w.mgr.Add(n)
	}
	if !ok {
		return fail(protocol.ErrConflict, "%s at %s would join two driven networks", b.ID, pos)
	}
	w.blocks[pos] = b
	return nil
}

func (w *World) breakBlock(pos kinetics.Pos) error {
	if _, ok := w.blocks[pos]; !ok {
		return fail(protocol.ErrInvalidTarget, "nothing at %s", pos)
	}
	if err := w.mgr.Remove(pos); err != nil {
		return err
	}
	delete(w.blocks, pos)
	return nil
}

// configure changes a placed block in place. A faces-only edit goes through
// Update; anything else rebuilds the node and goes through Replace.
func (w *World) configure(pos kinetics.Pos, e protocol.EditMsg) error {
	old, ok := w.blocks[pos]
	if !ok {
		return fail(protocol.ErrInvalidTarget, "nothing at %s", pos)
	}
	if e.Block != "" && !strings.EqualFold(strings.TrimSpace(e.Block), old.ID) {
		return fail(protocol.ErrBadRequest, "configure cannot change %s into %s", old.ID, e.Block)
	}
	if len(e.Faces) == 0 && e.Facing == "" && e.Turn == "" && e.Engaged == nil {
		return fail(protocol.ErrBadRequest, "nothing to configure")
	}

	b := old
	var err error
	if e.Facing != "" {
		if b.Facing, err = parseDir("facing", e.Facing); err != nil {
			return err
		}
	}
	if e.Turn != "" {
		if b.Turn, err = parseDir("turn", e.Turn); err != nil {
			return err
		}
	}
	if len(e.Faces) > 0 {
		if b.Faces, err = kinetics.ParseFaces(e.Faces); err != nil {
			return fail(protocol.ErrBadRequest, "%v", err)
		}
	}
	if e.Engaged != nil {
		b.Engaged = *e.Engaged
	}

	n, err := w.catalogs.Node(pos, b.placement())
	if err != nil {
		return fail(protocol.ErrBadRequest, "%v", err)
	}

	if b.Facing == old.Facing && b.Turn == old.Turn && b.Engaged == old.Engaged {
		ok, err = w.mgr.Update(pos, func(kinetics.Faces) kinetics.Faces { return n.Faces })
	} else {
		ok, err = w.mgr.Replace(n)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fail(protocol.ErrConflict, "reconfiguring %s at %s would join two driven networks", old.ID, pos)
	}
	w.blocks[pos] = b
	return nil
}
