package kinetics

import "testing"

func TestDirection_OppositeIsInvolution(t *testing.T) {
	for _, d := range Directions {
		if d.Opposite() == d {
			t.Fatalf("%s is its own opposite", d)
		}
		if d.Opposite().Opposite() != d {
			t.Fatalf("%s.Opposite().Opposite()=%s", d, d.Opposite().Opposite())
		}
		v, o := d.Vector(), d.Opposite().Vector()
		if v.X+o.X != 0 || v.Y+o.Y != 0 || v.Z+o.Z != 0 {
			t.Fatalf("%s and its opposite do not cancel: %v %v", d, v, o)
		}
		if got, ok := ParseDirection(d.String()); !ok || got != d {
			t.Fatalf("ParseDirection(%q)=%v,%v", d.String(), got, ok)
		}
	}
}

func TestFaces_SetOps(t *testing.T) {
	f := FacesOf(North, Up)
	if !f.Has(North) || !f.Has(Up) || f.Has(South) || f.Len() != 2 {
		t.Fatalf("FacesOf=%s", f)
	}
	f = f.With(South).Without(Up)
	if got := f.String(); got != "{NORTH,SOUTH}" {
		t.Fatalf("String=%q", got)
	}
	if _, err := ParseFaces([]string{"north", "sideways"}); err == nil {
		t.Fatalf("ParseFaces accepted an unknown direction")
	}
	if Horizontal.Len() != 4 || Horizontal.Has(Up) {
		t.Fatalf("Horizontal=%s", Horizontal)
	}
}

func TestPassThrough_KeepsExitDirection(t *testing.T) {
	n := NewTransform(Pos{}, AllFaces, nil)
	in := Rotation{Direction: East, Speed: -3}
	for _, d := range n.Faces.Dirs() {
		got := n.Rotation(d, in)
		if got.Direction != d || got.Speed != in.Speed {
			t.Fatalf("Rotation(%s)=%v", d, got)
		}
	}
}

func TestTransforms(t *testing.T) {
	in := Rotation{Direction: North, Speed: 4}
	cases := []struct {
		name string
		n    Node
		exit Direction
		want Rotation
	}{
		{"corner", NewTransform(Pos{}, FacesOf(South, East), RightAngle{A: South, B: East}), North, Rotation{Direction: East, Speed: 4}},
		{"corner reverse", NewTransform(Pos{}, FacesOf(South, East), RightAngle{A: South, B: East}), West, Rotation{Direction: South, Speed: 4}},
		{"gearbox", NewTransform(Pos{}, AxisFaces(North), Gearbox{}), North, Rotation{Direction: North, Speed: -4}},
		{"gear up", NewTransform(Pos{}, AxisFaces(North), Gear{Ratio: 2}), North, Rotation{Direction: North, Speed: 8}},
		{"clutch off", NewTransform(Pos{}, AxisFaces(North), Clutch{}), North, Rotation{Direction: North}},
		{"clutch on", NewTransform(Pos{}, AxisFaces(North), Clutch{Engaged: true}), North, Rotation{Direction: North, Speed: 4}},
		{"func", NewTransform(Pos{}, AxisFaces(North), TransformFunc(func(exit Direction, in Rotation) Rotation {
			return Rotation{Direction: exit.Opposite(), Speed: in.Speed + 1}
		})), North, Rotation{Direction: South, Speed: 5}},
	}
	for _, tc := range cases {
		if got := tc.n.Rotation(tc.exit, in); got != tc.want {
			t.Fatalf("%s: Rotation=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRotation_ContractViolationPanics(t *testing.T) {
	expectPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}
	expectPanic("no face on axis", func() {
		NewTransform(Pos{}, AxisFaces(North), nil).Rotation(East, Rotation{})
	})
	expectPanic("source", func() {
		NewSource(Pos{}, AllFaces, Rotation{}).Rotation(North, Rotation{})
	})
}

func TestRightAngle_PropagatesAroundCorner(t *testing.T) {
	m := NewManager()
	m.AddSource(NewSource(Pos{}, FacesOf(North), Rotation{Direction: North, Speed: 2}))
	corner := Pos{Z: -1}
	mustAdd(t, m, NewTransform(corner, FacesOf(South, East), RightAngle{A: South, B: East}))
	mustAdd(t, m, shaft(Pos{X: 1, Z: -1}, East, West))

	e, _ := m.Get(corner)
	if rot, _ := e.State.Rotation(); rot.Direction != East {
		t.Fatalf("corner propagated %v, want EAST", rot)
	}
	e, _ = m.Get(Pos{X: 1, Z: -1})
	if rot, _ := e.State.Rotation(); rot.Direction != East || rot.Speed != 2 {
		t.Fatalf("after corner %v, want EAST@2", rot)
	}
	mustValid(t, m)
}
