package main

import (
	"testing"

	"mechgrid.ai/internal/persistence/snapshot"
)

func TestSummarizeCountsKinds(t *testing.T) {
	snap := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 40},
		TickRate: 20,
		Blocks: []snapshot.BlockV1{
			{Pos: [3]int{0, 0, 0}, ID: "WINDMILL", Facing: "EAST"},
			{Pos: [3]int{1, 0, 0}, ID: "AXLE", Facing: "EAST"},
			{Pos: [3]int{2, 0, 0}, ID: "AXLE", Facing: "EAST"},
		},
	}
	s := summarize("/tmp/40.snap.zst", snap)
	if s.Path != "40.snap.zst" || s.Tick != 40 || s.Blocks != 3 {
		t.Fatalf("summary=%+v", s)
	}
	if s.ByKind["AXLE"] != 2 || s.ByKind["WINDMILL"] != 1 {
		t.Fatalf("by_kind=%v", s.ByKind)
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1, -2 ,3")
	if err != nil || v != [3]int{1, -2, 3} {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if _, err := parseVec3("1,2"); err == nil {
		t.Fatalf("expected error for short vector")
	}
}

func TestAdminURL(t *testing.T) {
	if got := adminURL("http://h:1/ ", "/admin/v1/state", nil); got != "http://h:1/admin/v1/state" {
		t.Fatalf("url=%q", got)
	}
}
