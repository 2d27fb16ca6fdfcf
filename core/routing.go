package core

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ErrRoutingInvariant is returned by Validate when a table breaks one of
// the path invariants.
var ErrRoutingInvariant = errors.New("routing invariant violated")

// RoutingEntry is one node's view of the way to the sink. Every path
// starts at the node, ends at model.SinkID and gets strictly closer to the
// sink at every hop.
type RoutingEntry struct {
	Paths [][]string
	// P bounds the hop count of every path in Paths.
	P int
	// HasBound is false for nodes the sink's broadcast never reached.
	HasBound bool
}

// RoutingTable maps node IDs to their routing entries.
type RoutingTable map[string]*RoutingEntry

// RoutingOptions tunes the routing-table builder.
type RoutingOptions struct {
	// MaxPathsPerNode caps the number of paths kept per node. Zero means
	// no cap.
	MaxPathsPerNode int
}

// Entry returns the routing entry of a node. Unknown nodes get an empty
// unbounded entry.
func (rt RoutingTable) Entry(id string) *RoutingEntry {
	if e, ok := rt[id]; ok {
		return e
	}
	return &RoutingEntry{}
}

// LowerBound returns the largest hop bound P assigned to any node.
func (rt RoutingTable) LowerBound() int {
	lb := 0
	for _, e := range rt {
		if e.HasBound && e.P > lb {
			lb = e.P
		}
	}
	return lb
}

// hops returns the number of hops in a path of node IDs.
func hops(path []string) int { return len(path) - 1 }

// BuildRoutingTable computes hop bounds and loop-free multi-hop paths to
// the sink for every node in store.
//
// Nodes within the sink's broadcast range are seeded with the single-hop
// path [node, sink]. Seeds then relay their path sets outward. A node v
// accepts paths from a neighbor u only if v is strictly farther from the
// sink than u, which rules out cycles and bounds the propagation.
func BuildRoutingTable(store *kb.KnowledgeBase, opts RoutingOptions) (RoutingTable, error) {
	sink := store.Sink()
	if sink == nil {
		return nil, ErrNoSink
	}
	nodes := store.ListNodes()
	dist := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		dist[n.ID] = Distance(n.Location, sink.Location)
	}

	rt := make(RoutingTable, len(nodes))
	for _, n := range nodes {
		rt[n.ID] = &RoutingEntry{}
	}

	// Seed.
	var seeds []string
	var seedDist []float64
	for _, n := range nodes {
		if dist[n.ID] <= sink.SeedRange() {
			seeds = append(seeds, n.ID)
			seedDist = append(seedDist, dist[n.ID])
		}
	}
	avg := 1.0
	if len(seedDist) > 0 {
		if m := stat.Mean(seedDist, nil); m > 0 {
			avg = m
		}
	}
	bound := func(n int, d float64) int {
		return n + int(math.Ceil(d/avg))
	}

	type relay struct{ from, to string }
	var queue []relay
	enqueue := func(from string, except string) {
		for _, nbr := range store.Neighbors(from) {
			if nbr != except {
				queue = append(queue, relay{from: from, to: nbr})
			}
		}
	}

	for _, id := range seeds {
		rt[id] = &RoutingEntry{
			Paths:    [][]string{{id, model.SinkID}},
			P:        bound(1, dist[id]),
			HasBound: true,
		}
	}
	for _, id := range seeds {
		enqueue(id, "")
	}

	// Propagate.
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		u, v := rt[item.from], rt[item.to]
		if u == nil || v == nil || dist[item.to] <= dist[item.from] {
			continue
		}

		changed := false
		if !v.HasBound {
			longest := 0
			for _, p := range u.Paths {
				longest = max(longest, hops(p))
			}
			v.P = bound(longest, dist[item.to])
			v.HasBound = true
			for _, p := range u.Paths {
				if opts.MaxPathsPerNode > 0 && len(v.Paths) >= opts.MaxPathsPerNode {
					break
				}
				v.Paths = append(v.Paths, extend(item.to, p))
			}
			changed = true
		} else {
			for _, p := range u.Paths {
				if opts.MaxPathsPerNode > 0 && len(v.Paths) >= opts.MaxPathsPerNode {
					break
				}
				if hops(p)+1 > v.P {
					continue
				}
				ext := extend(item.to, p)
				if containsPath(v.Paths, ext) {
					continue
				}
				v.Paths = append(v.Paths, ext)
				changed = true
			}
		}
		if changed {
			enqueue(item.to, item.from)
		}
	}

	for _, e := range rt {
		sortPaths(e.Paths)
	}
	return rt, nil
}

// Validate checks every entry against the routing invariants: paths
// start at their node, end at the sink, stay within P+1 nodes and get
// strictly closer to the sink at every hop.
func (rt RoutingTable) Validate(store *kb.KnowledgeBase) error {
	sink := store.Sink()
	if sink == nil {
		return ErrNoSink
	}
	distOf := func(id string) (float64, error) {
		if id == model.SinkID {
			return 0, nil
		}
		n := store.GetNode(id)
		if n == nil {
			return 0, fmt.Errorf("%w: unknown node %q on path", ErrRoutingInvariant, id)
		}
		return Distance(n.Location, sink.Location), nil
	}

	ids := make([]string, 0, len(rt))
	for id := range rt {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := rt[id]
		if !e.HasBound {
			if len(e.Paths) > 0 {
				return fmt.Errorf("%w: %s has paths but no bound", ErrRoutingInvariant, id)
			}
			continue
		}
		for _, p := range e.Paths {
			if len(p) < 2 || p[0] != id || p[len(p)-1] != model.SinkID {
				return fmt.Errorf("%w: %s path %v does not run from node to sink", ErrRoutingInvariant, id, p)
			}
			if len(p) > e.P+1 {
				return fmt.Errorf("%w: %s path %v longer than P=%d", ErrRoutingInvariant, id, p, e.P)
			}
			prev, err := distOf(p[0])
			if err != nil {
				return err
			}
			for _, hop := range p[1 : len(p)-1] {
				d, err := distOf(hop)
				if err != nil {
					return err
				}
				if d >= prev {
					return fmt.Errorf("%w: %s path %v does not approach the sink at %s", ErrRoutingInvariant, id, p, hop)
				}
				prev = d
			}
		}
	}
	return nil
}

func extend(head string, p []string) []string {
	out := make([]string, 0, len(p)+1)
	out = append(out, head)
	return append(out, p...)
}

func containsPath(paths [][]string, p []string) bool {
	for _, q := range paths {
		if slices.Equal(q, p) {
			return true
		}
	}
	return false
}

// sortPaths orders paths shortest first, then lexically, so callers see a
// stable order regardless of propagation order.
func sortPaths(paths [][]string) {
	sort.SliceStable(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return slices.Compare(paths[i], paths[j]) < 0
	})
}
