// Package kb holds the in-memory knowledge base of the simulated sensor
// network: nodes, the sink and the neighbor relation between them.
package kb

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

var (
	// ErrNodeExists is returned when adding a node whose ID is taken.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound is returned for lookups of unknown node IDs.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeInvalid is returned for nodes that fail basic validation.
	ErrNodeInvalid = errors.New("invalid node")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
	EventEnergyUpdated
	EventReputationUpdated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type       EventType
	NodeID     string
	Energy     float64
	Reputation float64
}

// KnowledgeBase is an in-memory, thread-safe store for nodes and their
// adjacency.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes map[string]*model.Node
	sink  *model.Sink
	adj   map[string]map[string]struct{}

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes: make(map[string]*model.Node),
		adj:   make(map[string]map[string]struct{}),
		subs:  make(map[int]func(Event)),
	}
}

// AddNode adds a new sensor node. The pointer is stored so energy and
// reputation updates are visible to every holder.
func (kb *KnowledgeBase) AddNode(n *model.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: missing id", ErrNodeInvalid)
	}
	if n.ID == model.SinkID {
		return fmt.Errorf("%w: id %q is reserved for the sink", ErrNodeInvalid, n.ID)
	}
	if n.Radius <= 0 || n.Energy < 0 || math.IsNaN(n.Energy) {
		return fmt.Errorf("%w: %q has radius %v energy %v", ErrNodeInvalid, n.ID, n.Radius, n.Energy)
	}

	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	kb.nodes[n.ID] = n
	ev := Event{Type: EventNodeAdded, NodeID: n.ID, Energy: n.Energy, Reputation: n.Reputation}
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// SetSink installs the sink.
func (kb *KnowledgeBase) SetSink(s *model.Sink) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.sink = s
}

// Sink returns the sink, or nil if none has been set.
func (kb *KnowledgeBase) Sink() *model.Sink {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.sink
}

// GetNode returns the node with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetNode(id string) *model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.nodes[id]
}

// ListNodes returns a snapshot slice of all nodes sorted by ID.
func (kb *KnowledgeBase) ListNodes() []*model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Node, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// NodeCount returns the number of sensor nodes (the sink excluded).
func (kb *KnowledgeBase) NodeCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// Connect records a symmetric neighbor relation between two nodes.
func (kb *KnowledgeBase) Connect(a, b string) error {
	if a == b {
		return fmt.Errorf("%w: self link on %q", ErrNodeInvalid, a)
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for _, id := range []string{a, b} {
		if _, ok := kb.nodes[id]; !ok {
			return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
	}
	kb.link(a, b)
	kb.link(b, a)
	return nil
}

func (kb *KnowledgeBase) link(from, to string) {
	set, ok := kb.adj[from]
	if !ok {
		set = make(map[string]struct{})
		kb.adj[from] = set
	}
	set[to] = struct{}{}
}

// Neighbors returns the sorted neighbor IDs of a node.
func (kb *KnowledgeBase) Neighbors(id string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	set := kb.adj[id]
	res := make([]string, 0, len(set))
	for n := range set {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// IsNeighbor reports whether a and b are linked.
func (kb *KnowledgeBase) IsNeighbor(a, b string) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	_, ok := kb.adj[a][b]
	return ok
}

// DebitEnergy subtracts cost from the node's energy reserve, flooring at
// zero, and returns the remaining energy.
func (kb *KnowledgeBase) DebitEnergy(id string, cost float64) (float64, error) {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return 0, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	n.Energy = math.Max(0, n.Energy-cost)
	ev := Event{Type: EventEnergyUpdated, NodeID: id, Energy: n.Energy, Reputation: n.Reputation}
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, ev)
	return ev.Energy, nil
}

// SetReputation publishes the sink's verdict on a node.
func (kb *KnowledgeBase) SetReputation(id string, rec model.ReputationRecord) error {
	kb.mu.Lock()
	n, ok := kb.nodes[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	n.Reputation = rec.PV
	n.Gamma = rec.Gamma
	n.K = rec.K
	ev := Event{Type: EventReputationUpdated, NodeID: id, Energy: n.Energy, Reputation: n.Reputation}
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// SetFailure installs a failure injection on a node. Intended for tests
// and scenario setup.
func (kb *KnowledgeBase) SetFailure(id string, f model.FailureInjection) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	n, ok := kb.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	n.Failure = f
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) snapshotSubsLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

// notify runs subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
