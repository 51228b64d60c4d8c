package main

import (
	"strings"
	"testing"

	"mechgrid.ai/internal/persistence/log"
	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/catalogs"
	"mechgrid.ai/internal/sim/world"
)

func edit(op string, x int, block, facing string) world.EditEnvelope {
	return world.EditEnvelope{
		ClientID: "c1",
		Edit:     protocol.EditMsg{Type: protocol.TypeEdit, Op: op, Pos: [3]int{x, 0, 0}, Block: block, Facing: facing},
	}
}

func TestReplay_MatchesRecordedDigests(t *testing.T) {
	dir := t.TempDir()
	cats := catalogs.Defaults()

	w, err := world.New(world.WorldConfig{ID: "w1"}, cats)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := w.ExportSnapshot()

	tl := log.NewTickLogger(dir)
	w.SetTickLogger(tl)
	w.StepEdits([]world.EditEnvelope{
		edit(protocol.OpPlace, 0, "WINDMILL", "EAST"),
		edit(protocol.OpPlace, 1, "AXLE", "EAST"),
	})
	w.StepEdits(nil)
	w.StepEdits([]world.EditEnvelope{
		edit(protocol.OpPlace, 2, "SMALL_COG", "EAST"),
		edit(protocol.OpPlace, 1, "AXLE", "EAST"), // occupied
	})
	w.StepEdits([]world.EditEnvelope{edit(protocol.OpBreak, 1, "", "")})
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := restore(snap, cats)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	checked, err := replay(r, dir, 0, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 3 {
		t.Fatalf("checked=%d, want 3", checked)
	}
	if r.StateDigest() != w.StateDigest() {
		t.Fatalf("final digest differs: %s vs %s", r.StateDigest(), w.StateDigest())
	}
}

func TestReplay_DetectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	cats := catalogs.Defaults()

	w, err := world.New(world.WorldConfig{ID: "w1"}, cats)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := w.ExportSnapshot()

	tl := log.NewTickLogger(dir)
	if err := tl.WriteTick(world.TickLogEntry{
		Tick:   0,
		Edits:  []world.RecordedEdit{{ClientID: "c1", Edit: edit(protocol.OpPlace, 0, "WINDMILL", "EAST").Edit, OK: true}},
		Digest: "not-a-digest",
	}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := restore(snap, cats)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	_, err = replay(r, dir, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 0") {
		t.Fatalf("err=%v, want digest mismatch", err)
	}
}

func TestReplay_StopsAtToTick(t *testing.T) {
	dir := t.TempDir()
	cats := catalogs.Defaults()

	w, err := world.New(world.WorldConfig{ID: "w1"}, cats)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := w.ExportSnapshot()
	tl := log.NewTickLogger(dir)
	w.SetTickLogger(tl)
	w.StepEdits([]world.EditEnvelope{edit(protocol.OpPlace, 0, "WINDMILL", "EAST")})
	w.StepEdits([]world.EditEnvelope{edit(protocol.OpPlace, 1, "AXLE", "EAST")})
	w.StepEdits([]world.EditEnvelope{edit(protocol.OpPlace, 2, "AXLE", "EAST")})
	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := restore(snap, cats)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	checked, err := replay(r, dir, 1, 1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 1 {
		t.Fatalf("checked=%d, want 1", checked)
	}
	if r.CurrentTick() != 2 || r.View().Len() != 2 {
		t.Fatalf("tick=%d blocks=%d, want 2/2", r.CurrentTick(), r.View().Len())
	}
}
