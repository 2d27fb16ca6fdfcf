package core

import "math"

// EnergyModel is the first-order radio model: every transmitted bit costs
// Eelec in the electronics plus an amplifier term that grows with d² up to
// the crossover distance D0 and with d⁴ beyond it.
type EnergyModel struct {
	Eelec float64 // per-bit electronics cost
	Efs   float64 // free-space amplifier coefficient (d <= D0)
	Emp   float64 // multipath amplifier coefficient (d > D0)
	D0    float64 // crossover distance
}

// DefaultEnergyModel returns the radio constants used by the simulator.
func DefaultEnergyModel() EnergyModel {
	return EnergyModel{
		Eelec: 0.1,
		Efs:   0.01,
		Emp:   0.001,
		D0:    50,
	}
}

// TransmitCost returns the energy needed to send bits over distance d.
// The same cost is charged to the sender and used for relay scoring.
func (m EnergyModel) TransmitCost(d float64, bits int) float64 {
	l := float64(bits)
	if d <= m.D0 {
		return l*m.Eelec + l*m.Efs*d*d
	}
	return l*m.Eelec + l*m.Emp*math.Pow(d, 4)
}

// PayloadBits returns the number of bits in a payload of n bytes.
func PayloadBits(n int) int { return n * 8 }
