package core

import (
	"testing"

	"github.com/signalsfoundry/sensornet-simulator/kb"
)

func TestRandomPlacementReproducible(t *testing.T) {
	cfg := PlacementConfig{Nodes: 25, Area: 100, E0: 50, Theta: 0.5, RadiusMin: 5, RadiusMax: 20}

	a, b := kb.NewKnowledgeBase(), kb.NewKnowledgeBase()
	if _, err := RandomPlacement(a, cfg, 42); err != nil {
		t.Fatalf("RandomPlacement error: %v", err)
	}
	if _, err := RandomPlacement(b, cfg, 42); err != nil {
		t.Fatalf("RandomPlacement error: %v", err)
	}

	na, nb := a.ListNodes(), b.ListNodes()
	if len(na) != 25 || len(nb) != 25 {
		t.Fatalf("got %d and %d nodes, want 25", len(na), len(nb))
	}
	for i := range na {
		if na[i].ID != nb[i].ID || na[i].Location != nb[i].Location || na[i].Energy != nb[i].Energy || na[i].Radius != nb[i].Radius {
			t.Fatalf("node %d differs between runs with the same seed", i)
		}
		if na[i].Energy < 50 || na[i].Energy > 75 {
			t.Fatalf("%s energy %v outside [50,75]", na[i].ID, na[i].Energy)
		}
		if na[i].Radius < 5 || na[i].Radius > 20 {
			t.Fatalf("%s radius %v outside [5,20]", na[i].ID, na[i].Radius)
		}
		for _, nbr := range a.Neighbors(na[i].ID) {
			o := a.GetNode(nbr)
			if !InMutualRange(na[i].Location, o.Location, na[i].Radius, o.Radius) {
				t.Fatalf("%s-%s linked but out of mutual range", na[i].ID, nbr)
			}
		}
	}
}

func TestRandomPlacementRejectsBadConfig(t *testing.T) {
	bad := []PlacementConfig{
		{Nodes: 0, Area: 10, RadiusMin: 1, RadiusMax: 2},
		{Nodes: 3, Area: 0, RadiusMin: 1, RadiusMax: 2},
		{Nodes: 3, Area: 10, RadiusMin: 0, RadiusMax: 2},
		{Nodes: 3, Area: 10, RadiusMin: 3, RadiusMax: 2},
	}
	for _, cfg := range bad {
		if _, err := RandomPlacement(kb.NewKnowledgeBase(), cfg, 1); err == nil {
			t.Fatalf("RandomPlacement(%+v) expected error", cfg)
		}
	}
}
