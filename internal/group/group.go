// Package group tracks the streams of one presentation. The streams of a
// group are synchronized against the group's shared reference clock.
package group

import (
	"errors"
	"sort"
	"sync"

	"github.com/saker-ai/audiosync/pkg/clock"
	"github.com/saker-ai/audiosync/pkg/stream"
)

var (
	// ErrGroupExists is returned when a group id is taken.
	ErrGroupExists = errors.New("group: already exists")
	// ErrGroupNotFound is returned for unknown group ids.
	ErrGroupNotFound = errors.New("group: not found")
	// ErrStreamExists is returned when a stream id is already registered.
	ErrStreamExists = errors.New("group: stream already registered")
)

// Member is a stream that can report its counters.
type Member interface {
	stream.Stream
	Stats() stream.Stats
	SetDrop(drop bool)
}

// Group is a set of streams sharing a reference clock.
type Group struct {
	ID      string
	Clock   clock.Clock
	Members map[string]Member
}

// Snapshot is the JSON view of a group.
type Snapshot struct {
	ID      string         `json:"id" yaml:"id"`
	Clock   float64        `json:"clock" yaml:"clock"`
	Streams []stream.Stats `json:"streams" yaml:"streams"`
}

// Manager keeps groups and the stream to group index.
type Manager struct {
	mu           sync.Mutex
	streamGroups map[string]string
	groups       map[string]*Group
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		streamGroups: make(map[string]string),
		groups:       make(map[string]*Group),
	}
}

// Create registers a group with its clock.
func (m *Manager) Create(groupID string, clk clock.Clock) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; ok {
		return nil, ErrGroupExists
	}
	g := &Group{ID: groupID, Clock: clk, Members: make(map[string]Member)}
	m.groups[groupID] = g
	return g, nil
}

// Clock returns the reference clock of a group.
func (m *Manager) Clock(groupID string) (clock.Clock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, false
	}
	return g.Clock, true
}

// AddStream adds s to a group.
func (m *Manager) AddStream(groupID string, s Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := m.streamGroups[s.ID()]; ok {
		return ErrStreamExists
	}
	g.Members[s.ID()] = s
	m.streamGroups[s.ID()] = groupID
	return nil
}

// RemoveStream drops a stream and returns the ids still in its group. An
// emptied group is removed.
func (m *Manager) RemoveStream(streamID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	groupID, ok := m.streamGroups[streamID]
	if !ok {
		return nil
	}
	delete(m.streamGroups, streamID)
	g, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	delete(g.Members, streamID)
	if len(g.Members) == 0 {
		delete(m.groups, groupID)
		return nil
	}
	return memberIDs(g)
}

// Stream looks a stream up by id.
func (m *Manager) Stream(streamID string) (Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.groups[m.streamGroups[streamID]]
	if g == nil {
		return nil, false
	}
	s, ok := g.Members[streamID]
	return s, ok
}

// SetDrop toggles the drop flag of every stream in a group.
func (m *Manager) SetDrop(groupID string, drop bool) error {
	m.mu.Lock()
	g, ok := m.groups[groupID]
	var members []Member
	if ok {
		for _, s := range g.Members {
			members = append(members, s)
		}
	}
	m.mu.Unlock()
	if !ok {
		return ErrGroupNotFound
	}
	for _, s := range members {
		s.SetDrop(drop)
	}
	return nil
}

// Members returns the sorted stream ids of a group.
func (m *Manager) Members(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.groups[groupID]
	if g == nil {
		return nil
	}
	return memberIDs(g)
}

// Snapshot returns every group sorted by id.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	members := make(map[string][]Member, len(groups))
	for _, g := range groups {
		for _, s := range g.Members {
			members[g.ID] = append(members[g.ID], s)
		}
	}
	m.mu.Unlock()

	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	out := make([]Snapshot, 0, len(groups))
	for _, g := range groups {
		snap := Snapshot{ID: g.ID}
		if g.Clock != nil {
			snap.Clock = g.Clock.Read()
		}
		for _, s := range members[g.ID] {
			snap.Streams = append(snap.Streams, s.Stats())
		}
		sort.Slice(snap.Streams, func(i, j int) bool { return snap.Streams[i].Index < snap.Streams[j].Index })
		out = append(out, snap)
	}
	return out
}

func memberIDs(g *Group) []string {
	ids := make([]string, 0, len(g.Members))
	for id := range g.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
