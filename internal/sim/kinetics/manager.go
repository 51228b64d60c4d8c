package kinetics

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoNode is returned by Update, Replace and Remove for a position with no
// registered node.
var ErrNoNode = errors.New("kinetics: no node at position")

// Observer receives one call per mutation attempt. visited is the number of
// node visits the connectivity pass performed.
type Observer interface {
	ObserveMutation(op string, ok bool, visited int)
}

// Manager owns the position -> node registry and the derived network state.
//
// A Manager is not safe for concurrent use: all calls, reads included, must
// come from one goroutine (the world loop). Every mutation is evaluated as a
// trial against the proposed graph and either committed whole or discarded.
type Manager struct {
	nodes    map[Pos]*slot
	networks map[uint64]*network
	bySource map[Pos]uint64
	nextID   uint64

	obs   Observer
	dirty map[Pos]struct{}
}

type slot struct {
	node  Node
	state State
}

func NewManager() *Manager {
	return &Manager{
		nodes:    map[Pos]*slot{},
		networks: map[uint64]*network{},
		bySource: map[Pos]uint64{},
		dirty:    map[Pos]struct{}{},
	}
}

func (m *Manager) SetObserver(o Observer) { m.obs = o }

func (m *Manager) Observer() Observer { return m.obs }

// AddSource registers a source at an empty position and gives it the next
// network id. Unsourced neighbours it connects to join the new network. It
// returns false, leaving everything unchanged, when the position is taken or
// the source would share a component with another source.
func (m *Manager) AddSource(n Node) bool {
	if !n.IsSource() {
		return false
	}
	if _, ok := m.nodes[n.Pos]; ok {
		return false
	}
	return m.mutate("add_source", n.Pos, &n)
}

// Add registers a transmitting node at an empty position. It returns false,
// leaving everything unchanged, when the position is taken, n is a source, or
// the node would bridge two sourced networks.
func (m *Manager) Add(n Node) bool {
	if n.IsSource() {
		return false
	}
	if _, ok := m.nodes[n.Pos]; ok {
		return false
	}
	return m.mutate("add", n.Pos, &n)
}

// Update rewrites the faces of the node at pos and re-derives connectivity
// with the same rollback-on-conflict contract as Add.
func (m *Manager) Update(pos Pos, mutate func(Faces) Faces) (bool, error) {
	s, ok := m.nodes[pos]
	if !ok {
		return false, fmt.Errorf("update %s: %w", pos, ErrNoNode)
	}
	faces := s.node.Faces
	if mutate != nil {
		faces = mutate(faces)
	}
	n := s.node.WithFaces(faces)
	return m.mutate("update", pos, &n), nil
}

// Replace swaps the node at n.Pos for n (for example a clutch changing state)
// with the same rollback-on-conflict contract as Add.
func (m *Manager) Replace(n Node) (bool, error) {
	if _, ok := m.nodes[n.Pos]; !ok {
		return false, fmt.Errorf("replace %s: %w", n.Pos, ErrNoNode)
	}
	return m.mutate("replace", n.Pos, &n), nil
}

// Remove deletes the node at pos. Removing a source dissolves its network;
// removing a member re-derives what is still reachable from the source.
func (m *Manager) Remove(pos Pos) error {
	if _, ok := m.nodes[pos]; !ok {
		return fmt.Errorf("remove %s: %w", pos, ErrNoNode)
	}
	// Removal never joins components, so the trial cannot conflict.
	m.mutate("remove", pos, nil)
	return nil
}

func (m *Manager) Get(pos Pos) (Entry, bool) {
	s, ok := m.nodes[pos]
	if !ok {
		return Entry{}, false
	}
	return Entry{Node: s.node, State: s.state}, true
}

func (m *Manager) Len() int { return len(m.nodes) }

// Positions returns every registered position in X, Y, Z order.
func (m *Manager) Positions() []Pos {
	out := make([]Pos, 0, len(m.nodes))
	for p := range m.nodes {
		out = append(out, p)
	}
	sortPositions(out)
	return out
}

// Networks returns the live networks ordered by id.
func (m *Manager) Networks() []NetworkInfo {
	out := make([]NetworkInfo, 0, len(m.networks))
	for _, nw := range m.networks {
		info := NetworkInfo{ID: nw.id, Source: nw.source, Members: len(nw.members)}
		if s, ok := m.nodes[nw.source]; ok {
			info.Drive = s.node.Drive
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TakeDirty returns the positions whose node or state may have changed since
// the previous call, in X, Y, Z order, and resets the set.
func (m *Manager) TakeDirty() []Pos {
	if len(m.dirty) == 0 {
		return nil
	}
	out := make([]Pos, 0, len(m.dirty))
	for p := range m.dirty {
		out = append(out, p)
	}
	m.dirty = map[Pos]struct{}{}
	sortPositions(out)
	return out
}

// NextNetworkID is the id the next new network will receive.
func (m *Manager) NextNetworkID() uint64 { return m.nextID }

func (m *Manager) mutate(op string, pos Pos, n *Node) bool {
	t := trial{m: m, pos: pos, node: n}
	ok := t.run()
	if ok {
		m.commit(&t)
	}
	if m.obs != nil {
		m.obs.ObserveMutation(op, ok, t.visited)
	}
	return ok
}

func (m *Manager) commit(t *trial) {
	m.dirty[t.pos] = struct{}{}
	for p := range t.states {
		m.dirty[p] = struct{}{}
	}

	if old, ok := m.nodes[t.pos]; ok && old.state.Connected {
		if nw := m.networks[old.state.NetworkID]; nw != nil {
			delete(nw.members, t.pos)
		}
	}
	if id, wasSource := m.bySource[t.pos]; wasSource && (t.node == nil || !t.node.IsSource()) {
		delete(m.networks, id)
		delete(m.bySource, t.pos)
	}

	if t.node == nil {
		delete(m.nodes, t.pos)
	} else if s, ok := m.nodes[t.pos]; ok {
		s.node = *t.node
		s.state = State{}
	} else {
		m.nodes[t.pos] = &slot{node: *t.node}
	}

	for src, id := range t.sources {
		if _, ok := m.networks[id]; ok {
			continue
		}
		m.networks[id] = &network{id: id, source: src, members: map[Pos]struct{}{}}
		m.bySource[src] = id
	}
	m.nextID += t.newIDs

	for p, st := range t.states {
		s, ok := m.nodes[p]
		if !ok {
			continue
		}
		if s.state.Connected {
			if nw := m.networks[s.state.NetworkID]; nw != nil {
				delete(nw.members, p)
			}
		}
		s.state = st
		if st.Connected {
			m.networks[st.NetworkID].members[p] = struct{}{}
		}
	}
}

// Validate checks edge symmetry, single-source components and propagation
// consistency over the whole registry. It is meant for tests and replay
// verification, not the tick path.
func (m *Manager) Validate() error {
	seen := map[Pos]bool{}
	for _, p := range m.Positions() {
		if seen[p] {
			continue
		}
		t := trial{m: m, pos: p, node: &m.nodes[p].node}
		members, sources := t.component(p, seen, false)
		if len(sources) > 1 {
			return fmt.Errorf("component at %s has %d sources", p, len(sources))
		}
		if len(sources) == 0 {
			for _, q := range members {
				if st := m.nodes[q].state; st != (State{}) {
					return fmt.Errorf("unsourced node %s has state %+v", q, st)
				}
			}
			continue
		}
		src := m.nodes[sources[0]]
		id, ok := m.bySource[sources[0]]
		if !ok || !src.state.Connected || src.state.NetworkID != id || src.state.HasEntry {
			return fmt.Errorf("source %s state %+v inconsistent (network %d registered=%v)", sources[0], src.state, id, ok)
		}
		nw := m.networks[id]
		if nw == nil || len(nw.members) != len(members) {
			return fmt.Errorf("network %d membership mismatch", id)
		}
		for _, q := range members {
			s := m.nodes[q]
			if !s.state.Connected || s.state.NetworkID != id {
				return fmt.Errorf("node %s not in network %d", q, id)
			}
			if _, ok := nw.members[q]; !ok {
				return fmt.Errorf("node %s missing from network %d members", q, id)
			}
			if q == sources[0] {
				continue
			}
			up, ok := m.nodes[q.Offset(s.state.Entry)]
			if !ok || !s.state.HasEntry || !s.node.Faces.Has(s.state.Entry) || !up.node.Faces.Has(s.state.Entry.Opposite()) {
				return fmt.Errorf("node %s entry %s is not an edge", q, s.state.Entry)
			}
			in, _ := Entry{Node: up.node, State: up.state}.Output()
			if want := s.node.Rotation(s.state.Entry.Opposite(), in); want != s.state.Propagated {
				return fmt.Errorf("node %s propagated %s, want %s", q, s.state.Propagated, want)
			}
		}
	}
	if len(m.bySource) != len(m.networks) {
		return fmt.Errorf("%d sources indexed for %d networks", len(m.bySource), len(m.networks))
	}
	return nil
}
