package log

import (
	"encoding/json"
	"testing"

	"mechgrid.ai/internal/protocol"
	"mechgrid.ai/internal/sim/world"
)

func TestTickLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for tick := uint64(3); tick < 6; tick++ {
		e := world.TickLogEntry{
			Tick:   tick,
			Edits:  []world.RecordedEdit{{ClientID: "c1", Edit: protocol.EditMsg{Op: protocol.OpPlace, Pos: [3]int{int(tick), 0, 0}}, OK: true}},
			Digest: "d",
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []uint64
	err := ReadTicks(dir, func(e world.TickLogEntry) error {
		got = append(got, e.Tick)
		if len(e.Edits) != 1 || e.Edits[0].Edit.Pos[0] != int(e.Tick) {
			t.Fatalf("entry=%+v", e)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("ticks=%v, want [3 4 5]", got)
	}
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	if err := l.WriteAudit(world.AuditEntry{Tick: 1, Actor: "c1", Action: "PLACE", Block: "AXLE"}); err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	_ = l.Close()

	files, err := ListFiles(dir+"/audit", "audit")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	n := 0
	err = ReadJSONL(files[0], func(line []byte) error {
		var e world.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		if e.Actor != "c1" || e.Block != "AXLE" {
			t.Fatalf("audit=%+v", e)
		}
		n++
		return nil
	})
	if err != nil || n != 1 {
		t.Fatalf("read n=%d err=%v", n, err)
	}
}

func TestListFiles_MissingDir(t *testing.T) {
	files, err := ListFiles(t.TempDir()+"/nope", "ticks")
	if err != nil || files != nil {
		t.Fatalf("files=%v err=%v", files, err)
	}
}
