package kinetics

import "sort"

// State is the derived propagation state of a registered node.
// The zero value means "not connected to any source".
//
// A source's state is Connected with HasEntry false: it receives nothing from
// the network. Every other member has HasEntry set, Entry pointing back to the
// neighbour it was reached from, and Propagated = node.Rotation(Entry.Opposite(), upstream).
type State struct {
	Connected  bool
	NetworkID  uint64
	HasEntry   bool
	Entry      Direction
	Propagated Rotation
}

func (s State) Network() (uint64, bool) { return s.NetworkID, s.Connected }

func (s State) EntryDirection() (Direction, bool) { return s.Entry, s.HasEntry }

func (s State) Rotation() (Rotation, bool) { return s.Propagated, s.HasEntry }

// Entry is the result of Manager.Get.
type Entry struct {
	Node  Node
	State State
}

// Output is the rotation present at the position: the drive for a connected
// source, the propagated rotation for any other member.
func (e Entry) Output() (Rotation, bool) {
	if !e.State.Connected {
		return Rotation{}, false
	}
	if e.Node.IsSource() {
		return e.Node.Drive, true
	}
	return e.State.Propagated, e.State.HasEntry
}

type network struct {
	id      uint64
	source  Pos
	members map[Pos]struct{}
}

// NetworkInfo summarises one live network.
type NetworkInfo struct {
	ID      uint64   `json:"id"`
	Source  Pos      `json:"source"`
	Drive   Rotation `json:"drive"`
	Members int      `json:"members"`
}

func sortPositions(ps []Pos) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}
