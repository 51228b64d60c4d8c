package world

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mechgrid.ai/internal/protocol"
)

func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(w.cfg.TickRateHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case sub := <-w.subscribe:
			w.subs[sub.ID] = sub.Out
		case id := <-w.unsubscribe:
			delete(w.subs, id)
		case resp := <-w.snapshotReq:
			resp <- w.emitSnapshot()
		case <-ticker.C:
			w.step()
		}
	}
}

// Step runs one tick with whatever is waiting in the inbox.
func (w *World) Step() { w.step() }

func (w *World) step() {
	var pending []EditEnvelope
	for {
		select {
		case env := <-w.inbox:
			pending = append(pending, env)
			continue
		default:
		}
		break
	}
	w.StepEdits(pending)
}

// StepEdits applies edits in order as one tick and advances the tick counter.
// Edits past MaxEditsPerTick are rejected with E_RATE_LIMIT.
func (w *World) StepEdits(edits []EditEnvelope) {
	start := time.Now()
	tick := w.tick.Load()

	var recorded []RecordedEdit
	for i, env := range edits {
		var res protocol.EditResultMsg
		if i < w.cfg.MaxEditsPerTick {
			res = w.Apply(env.ClientID, env.Edit)
		} else {
			res = protocol.EditResultMsg{
				Type:            protocol.TypeEditResult,
				ProtocolVersion: protocol.Version,
				EditID:          env.Edit.EditID,
				Tick:            tick,
				Code:            protocol.ErrRateLimit,
				Message:         "tick edit budget exhausted",
			}
			w.observeEdit(env.Edit.Op, res.Code)
		}
		recorded = append(recorded, RecordedEdit{ClientID: env.ClientID, Edit: env.Edit, OK: res.OK, Code: res.Code})
		if env.Resp != nil {
			select {
			case env.Resp <- res:
			default:
			}
		}
	}

	if w.tickLogger != nil && len(recorded) > 0 {
		entry := TickLogEntry{Tick: tick, Edits: recorded, Digest: w.StateDigest()}
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.Printf("tick log write: %v", err)
		}
	}

	w.tick.Store(tick + 1)
	w.publishView()

	if n := w.cfg.ObsEveryTicks; n > 0 && len(w.subs) > 0 && (tick+1)%uint64(n) == 0 {
		w.broadcastObs()
	}
	if n := w.cfg.SnapshotEveryTicks; n > 0 && (tick+1)%uint64(n) == 0 {
		w.emitSnapshot()
	}
	if w.metrics != nil {
		w.metrics.ObserveTick(time.Since(start), len(w.view.Load().networks), len(w.blocks))
	}
}

// RequestSnapshot asks the world loop to export a snapshot to the sink now and
// returns the snapshot tick.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	if w.snapshotSink == nil {
		return 0, errors.New("no snapshot sink")
	}
	resp := make(chan uint64, 1)
	select {
	case w.snapshotReq <- resp:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case tick := <-resp:
		return tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) emitSnapshot() uint64 {
	tick := w.tick.Load()
	if w.snapshotSink == nil {
		return tick
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot():
	default:
		w.log.Printf("snapshot sink full, skipping tick %d", tick)
	}
	return tick
}

func (w *World) broadcastObs() {
	v := w.view.Load()
	msg := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            v.tick,
		Blocks:          v.Len(),
		Networks:        make([]protocol.NetworkObs, 0, len(v.networks)),
	}
	for _, nw := range v.networks {
		msg.Networks = append(msg.Networks, protocol.NetworkObs{
			ID:        nw.ID,
			Source:    [3]int{nw.Source.X, nw.Source.Y, nw.Source.Z},
			Direction: nw.Drive.Direction.String(),
			Speed:     nw.Drive.Speed,
			Members:   nw.Members,
		})
	}
	b, err := json.Marshal(msg)
	if err != nil {
		w.log.Printf("obs marshal: %v", err)
		return
	}
	for id, out := range w.subs {
		select {
		case out <- b:
		default:
			w.log.Printf("obs subscriber %s slow, dropping tick %d", id, v.tick)
		}
	}
}
