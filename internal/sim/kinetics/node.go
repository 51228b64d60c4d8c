package kinetics

import "fmt"

// Rotation is rotational motion: the direction it travels and a signed
// angular speed whose sign is the rotational sense.
type Rotation struct {
	Direction Direction `json:"direction"`
	Speed     float32   `json:"speed"`
}

func (r Rotation) String() string { return fmt.Sprintf("%s@%g", r.Direction, r.Speed) }

type Kind uint8

const (
	KindTransform Kind = iota
	KindSource
)

func (k Kind) String() string {
	if k == KindSource {
		return "SOURCE"
	}
	return "TRANSFORM"
}

// Transform describes how a non-source block re-expresses the rotation it
// receives (in) as it leaves through exit. Implementations must be pure.
type Transform interface {
	Rotation(exit Direction, in Rotation) Rotation
}

type TransformFunc func(exit Direction, in Rotation) Rotation

func (f TransformFunc) Rotation(exit Direction, in Rotation) Rotation { return f(exit, in) }

// Node is the per-position capability registered with a Manager.
// Sources carry Drive; transforms carry Transform.
type Node struct {
	Pos       Pos
	Faces     Faces
	Kind      Kind
	Drive     Rotation
	Transform Transform
}

func NewSource(pos Pos, faces Faces, drive Rotation) Node {
	return Node{Pos: pos, Faces: faces, Kind: KindSource, Drive: drive}
}

// NewTransform builds a transmitting node. A nil t passes rotation straight through.
func NewTransform(pos Pos, faces Faces, t Transform) Node {
	if t == nil {
		t = PassThrough{}
	}
	return Node{Pos: pos, Faces: faces, Kind: KindTransform, Transform: t}
}

func (n Node) IsSource() bool { return n.Kind == KindSource }

// WithFaces returns a copy of n declaring faces instead.
func (n Node) WithFaces(faces Faces) Node {
	n.Faces = faces
	return n
}

// Rotation computes what n delivers through exit given the upstream rotation.
// Calling it on a source, or with an exit on an axis n has no face on, is a
// programming error and panics.
func (n Node) Rotation(exit Direction, in Rotation) Rotation {
	if n.IsSource() {
		panic(fmt.Sprintf("kinetics: Rotation(exit) called on source at %s", n.Pos))
	}
	if !n.Faces.Has(exit) && !n.Faces.Has(exit.Opposite()) {
		panic(fmt.Sprintf("kinetics: node at %s has no face toward %s (faces=%s)", n.Pos, exit, n.Faces))
	}
	t := n.Transform
	if t == nil {
		t = PassThrough{}
	}
	return t.Rotation(exit, in)
}

// PassThrough keeps the speed and leaves in the exit direction.
type PassThrough struct{}

func (PassThrough) Rotation(exit Direction, in Rotation) Rotation {
	return Rotation{Direction: exit, Speed: in.Speed}
}

// RightAngle joins two perpendicular faces: power entering one leaves the other.
type RightAngle struct {
	A Direction
	B Direction
}

func (c RightAngle) Rotation(exit Direction, in Rotation) Rotation {
	switch exit.Opposite() {
	case c.A:
		return Rotation{Direction: c.B, Speed: in.Speed}
	case c.B:
		return Rotation{Direction: c.A, Speed: in.Speed}
	}
	return Rotation{Direction: exit, Speed: in.Speed}
}

// Gearbox reverses the rotational sense.
type Gearbox struct{}

func (Gearbox) Rotation(exit Direction, in Rotation) Rotation {
	return Rotation{Direction: exit, Speed: -in.Speed}
}

// Gear scales speed by Ratio. A negative ratio also reverses the sense.
type Gear struct {
	Ratio float32
}

func (g Gear) Rotation(exit Direction, in Rotation) Rotation {
	return Rotation{Direction: exit, Speed: in.Speed * g.Ratio}
}

// Clutch passes rotation through while engaged and reports zero speed otherwise.
type Clutch struct {
	Engaged bool
}

func (c Clutch) Rotation(exit Direction, in Rotation) Rotation {
	if !c.Engaged {
		return Rotation{Direction: exit}
	}
	return Rotation{Direction: exit, Speed: in.Speed}
}
