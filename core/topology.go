package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/sensornet-simulator/kb"
)

// ErrNoSink is returned when an operation needs the sink but none is set.
var ErrNoSink = errors.New("no sink configured")

// BuildNeighbors links every pair of nodes whose distance is within the
// smaller of their two radii. It returns the number of links created.
func BuildNeighbors(store *kb.KnowledgeBase) (int, error) {
	nodes := store.ListNodes()
	links := 0
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			if !InMutualRange(a.Location, b.Location, a.Radius, b.Radius) {
				continue
			}
			if err := store.Connect(a.ID, b.ID); err != nil {
				return links, fmt.Errorf("connect %s-%s: %w", a.ID, b.ID, err)
			}
			links++
		}
	}
	return links, nil
}

// SinkInRange reports whether node id and the sink can hear each other.
func SinkInRange(store *kb.KnowledgeBase, id string) bool {
	sink := store.Sink()
	n := store.GetNode(id)
	if sink == nil || n == nil {
		return false
	}
	return InMutualRange(n.Location, sink.Location, n.Radius, sink.Radius)
}

// DistanceToSink returns the node's distance to the sink.
func DistanceToSink(store *kb.KnowledgeBase, id string) (float64, error) {
	sink := store.Sink()
	if sink == nil {
		return 0, ErrNoSink
	}
	n := store.GetNode(id)
	if n == nil {
		return 0, fmt.Errorf("%w: %q", kb.ErrNodeNotFound, id)
	}
	return Distance(n.Location, sink.Location), nil
}
