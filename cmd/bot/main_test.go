package main

import (
	"testing"

	"mechgrid.ai/internal/protocol"
)

func TestDrivePlan(t *testing.T) {
	edits := drivePlan([3]int{5, 1, -2}, 3)
	if len(edits) != 5 {
		t.Fatalf("len=%d, want 5", len(edits))
	}
	if edits[0].Block != "WINDMILL" || edits[4].Block != "SMALL_COG" {
		t.Fatalf("ends=%s/%s", edits[0].Block, edits[4].Block)
	}
	for i, e := range edits {
		if e.Op != protocol.OpPlace || e.Pos != [3]int{5 + i, 1, -2} || e.Facing != "EAST" {
			t.Fatalf("edit %d=%+v", i, e)
		}
	}
	if edits[2].EditID != "E2" {
		t.Fatalf("edit id=%q", edits[2].EditID)
	}
}

func TestDrivePlanZeroLength(t *testing.T) {
	edits := drivePlan([3]int{}, -1)
	if len(edits) != 2 || edits[1].Pos != [3]int{1, 0, 0} {
		t.Fatalf("edits=%+v", edits)
	}
}
