package core

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// PlacementConfig describes a random heterogeneous deployment over a
// square field of side Area.
type PlacementConfig struct {
	Nodes     int
	Area      float64
	E0        float64 // base energy; nodes draw from [E0, (1+Theta)·E0]
	Theta     float64
	RadiusMin float64
	RadiusMax float64
}

// NodeID formats the ID of the i-th placed node.
func NodeID(i int) string { return fmt.Sprintf("n%03d", i) }

// RandomPlacement adds cfg.Nodes nodes with uniformly random positions,
// energy and radius to store, then links neighbors. The same seed yields
// the same deployment.
func RandomPlacement(store *kb.KnowledgeBase, cfg PlacementConfig, seed uint64) (*Topology, error) {
	if cfg.Nodes <= 0 || cfg.Area <= 0 {
		return nil, fmt.Errorf("RandomPlacement: need positive node count and area, got %d and %v", cfg.Nodes, cfg.Area)
	}
	if cfg.RadiusMin <= 0 || cfg.RadiusMax < cfg.RadiusMin {
		return nil, fmt.Errorf("RandomPlacement: invalid radius range [%v,%v]", cfg.RadiusMin, cfg.RadiusMax)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	result := &Topology{NodeIDs: make([]string, 0, cfg.Nodes)}
	for i := 0; i < cfg.Nodes; i++ {
		id := NodeID(i)
		loc := r2.Vec{X: uniform(0, cfg.Area), Y: uniform(0, cfg.Area)}
		energy := uniform(cfg.E0, (1+cfg.Theta)*cfg.E0)
		radius := uniform(cfg.RadiusMin, cfg.RadiusMax)
		if err := store.AddNode(model.NewNode(id, loc, energy, radius)); err != nil {
			return nil, fmt.Errorf("RandomPlacement: %w", err)
		}
		result.NodeIDs = append(result.NodeIDs, id)
	}
	links, err := BuildNeighbors(store)
	if err != nil {
		return nil, fmt.Errorf("RandomPlacement: %w", err)
	}
	result.Links = links
	return result, nil
}
