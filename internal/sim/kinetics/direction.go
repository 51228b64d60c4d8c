package kinetics

import (
	"fmt"
	"strings"
)

// Pos is a grid-aligned block position.
type Pos struct {
	X int
	Y int
	Z int
}

func (p Pos) Offset(d Direction) Pos {
	o := d.Vector()
	return Pos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Less orders positions by X, then Y, then Z.
func (p Pos) Less(q Pos) bool {
	if p.X != q.X {
		return p.X < q.X
	}
	if p.Y != q.Y {
		return p.Y < q.Y
	}
	return p.Z < q.Z
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// Direction is one of the six axis-aligned faces of a block.
// Opposite pairs differ only in the lowest bit.
type Direction uint8

const (
	Up Direction = iota
	Down
	North
	South
	East
	West
)

// Directions lists every direction in neighbour expansion order.
var Directions = [6]Direction{Up, Down, North, South, East, West}

var directionNames = [6]string{"UP", "DOWN", "NORTH", "SOUTH", "EAST", "WEST"}

func (d Direction) Valid() bool { return d <= West }

func (d Direction) Opposite() Direction { return d ^ 1 }

// Vector returns the unit offset: +Y is up, -Z is north, +X is east.
func (d Direction) Vector() Pos {
	switch d {
	case Up:
		return Pos{Y: 1}
	case Down:
		return Pos{Y: -1}
	case North:
		return Pos{Z: -1}
	case South:
		return Pos{Z: 1}
	case East:
		return Pos{X: 1}
	case West:
		return Pos{X: -1}
	}
	return Pos{}
}

// Axis returns 0 for Y, 1 for Z, 2 for X.
func (d Direction) Axis() int { return int(d) >> 1 }

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
	return directionNames[d]
}

func ParseDirection(s string) (Direction, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range directionNames {
		if name == s {
			return Direction(i), true
		}
	}
	return 0, false
}

// Faces is a set of directions.
type Faces uint8

const (
	NoFaces    Faces = 0
	AllFaces   Faces = 1<<6 - 1
	Horizontal Faces = 1<<North | 1<<South | 1<<East | 1<<West
)

func FacesOf(dirs ...Direction) Faces {
	var f Faces
	for _, d := range dirs {
		f = f.With(d)
	}
	return f
}

// AxisFaces returns d and its opposite.
func AxisFaces(d Direction) Faces { return FacesOf(d, d.Opposite()) }

func (f Faces) Has(d Direction) bool { return d.Valid() && f&(1<<d) != 0 }

func (f Faces) With(d Direction) Faces {
	if !d.Valid() {
		return f
	}
	return f | 1<<d
}

func (f Faces) Without(d Direction) Faces { return f &^ (1 << d) }

func (f Faces) Len() int {
	n := 0
	for _, d := range Directions {
		if f.Has(d) {
			n++
		}
	}
	return n
}

// Dirs returns the members in expansion order.
func (f Faces) Dirs() []Direction {
	out := make([]Direction, 0, 6)
	for _, d := range Directions {
		if f.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (f Faces) String() string {
	dirs := f.Dirs()
	names := make([]string, len(dirs))
	for i, d := range dirs {
		names[i] = d.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// ParseFaces parses direction names; an unknown name is an error.
func ParseFaces(names []string) (Faces, error) {
	var f Faces
	for _, n := range names {
		d, ok := ParseDirection(n)
		if !ok {
			return 0, fmt.Errorf("unknown direction %q", n)
		}
		f = f.With(d)
	}
	return f, nil
}
