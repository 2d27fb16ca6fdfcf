package core

import (
	"math"
	"testing"
)

func TestTransmitCostRegimes(t *testing.T) {
	m := DefaultEnergyModel()

	// Free space: 8·0.1 + 8·0.01·10² = 0.8 + 8
	if got := m.TransmitCost(10, 8); math.Abs(got-8.8) > 1e-9 {
		t.Fatalf("TransmitCost(10, 8) = %v, want 8.8", got)
	}
	// Crossover distance still uses the free-space term.
	if got, want := m.TransmitCost(50, 1), 0.1+0.01*2500; math.Abs(got-want) > 1e-9 {
		t.Fatalf("TransmitCost(50, 1) = %v, want %v", got, want)
	}
	// Multipath: 0.1 + 0.001·60⁴
	if got, want := m.TransmitCost(60, 1), 0.1+0.001*math.Pow(60, 4); math.Abs(got-want) > 1e-6 {
		t.Fatalf("TransmitCost(60, 1) = %v, want %v", got, want)
	}
}

func TestTransmitCostGrowsWithDistanceAndBits(t *testing.T) {
	m := DefaultEnergyModel()
	prev := 0.0
	for d := 0.0; d <= 100; d += 5 {
		c := m.TransmitCost(d, 64)
		if c < prev {
			t.Fatalf("cost decreased at d=%v: %v < %v", d, c, prev)
		}
		prev = c
	}
	if m.TransmitCost(10, 16) <= m.TransmitCost(10, 8) {
		t.Fatalf("more bits must cost more")
	}
	if PayloadBits(3) != 24 {
		t.Fatalf("PayloadBits(3) = %d, want 24", PayloadBits(3))
	}
}
