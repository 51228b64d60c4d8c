package kinetics

// trial evaluates one proposed mutation (node at pos; nil means removed)
// without touching the registry. run fills states and sources with the new
// derived state of every position in the affected region; commit swaps them in.
type trial struct {
	m    *Manager
	pos  Pos
	node *Node

	states  map[Pos]State
	sources map[Pos]uint64
	newIDs  uint64
	visited int
}

func (t *trial) lookup(p Pos) (Node, bool) {
	if p == t.pos {
		if t.node == nil {
			return Node{}, false
		}
		return *t.node, true
	}
	s, ok := t.m.nodes[p]
	if !ok {
		return Node{}, false
	}
	return s.node, true
}

// link reports the neighbour of p (node n) through d when both ends declare
// the shared face.
func (t *trial) link(p Pos, n Node, d Direction) (Pos, Node, bool) {
	if !n.Faces.Has(d) {
		return Pos{}, Node{}, false
	}
	q := p.Offset(d)
	nq, ok := t.lookup(q)
	if !ok || !nq.Faces.Has(d.Opposite()) {
		return Pos{}, Node{}, false
	}
	return q, nq, true
}

// seeds is the changed position, its registered neighbours, and every member
// of a network any of them belonged to before the change.
func (t *trial) seeds() []Pos {
	seen := map[Pos]struct{}{}
	var out []Pos
	add := func(p Pos) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	addNetwork := func(p Pos) {
		s, ok := t.m.nodes[p]
		if !ok || !s.state.Connected {
			return
		}
		nw := t.m.networks[s.state.NetworkID]
		if nw == nil {
			return
		}
		for q := range nw.members {
			add(q)
		}
	}

	add(t.pos)
	addNetwork(t.pos)
	for _, d := range Directions {
		q := t.pos.Offset(d)
		if _, ok := t.m.nodes[q]; !ok {
			continue
		}
		add(q)
		addNetwork(q)
	}
	return out
}

func (t *trial) run() bool {
	t.states = map[Pos]State{}
	t.sources = map[Pos]uint64{}

	seen := map[Pos]bool{}
	for _, p := range t.seeds() {
		if seen[p] {
			continue
		}
		if _, ok := t.lookup(p); !ok {
			continue
		}
		members, sources := t.component(p, seen, true)
		switch len(sources) {
		case 0:
			for _, q := range members {
				t.states[q] = State{}
			}
		case 1:
			t.propagate(sources[0])
		default:
			return false
		}
	}
	return true
}

// component collects the connected component containing start. With stopAtConflict
// it returns as soon as a second source is found.
func (t *trial) component(start Pos, seen map[Pos]bool, stopAtConflict bool) (members []Pos, sources []Pos) {
	seen[start] = true
	queue := []Pos{start}
	for i := 0; i < len(queue); i++ {
		p := queue[i]
		n, _ := t.lookup(p)
		t.visited++
		if n.IsSource() {
			sources = append(sources, p)
			if stopAtConflict && len(sources) > 1 {
				return queue, sources
			}
		}
		for _, d := range Directions {
			q, _, ok := t.link(p, n, d)
			if !ok || seen[q] {
				continue
			}
			seen[q] = true
			queue = append(queue, q)
		}
	}
	return queue, sources
}

// propagate walks breadth-first from src. Each node is assigned once, from the
// first neighbour that reaches it in Directions order.
func (t *trial) propagate(src Pos) {
	id, ok := t.m.bySource[src]
	if !ok {
		id = t.m.nextID + t.newIDs
		t.newIDs++
	}
	t.sources[src] = id

	sn, _ := t.lookup(src)
	out := map[Pos]Rotation{src: sn.Drive}
	t.states[src] = State{Connected: true, NetworkID: id}

	queue := []Pos{src}
	for i := 0; i < len(queue); i++ {
		p := queue[i]
		n, _ := t.lookup(p)
		t.visited++
		for _, d := range Directions {
			q, nq, ok := t.link(p, n, d)
			if !ok {
				continue
			}
			if _, done := out[q]; done {
				continue
			}
			rot := nq.Rotation(d, out[p])
			out[q] = rot
			t.states[q] = State{
				Connected:  true,
				NetworkID:  id,
				HasEntry:   true,
				Entry:      d.Opposite(),
				Propagated: rot,
			}
			queue = append(queue, q)
		}
	}
}
