package model

import (
	"crypto/ecdh"

	"gonum.org/v1/gonum/spatial/r2"
)

// SinkID is the identifier of the sink and the terminal marker of every
// routing path.
const SinkID = "sink"

// HashFunc names the content hash H published by the sink.
type HashFunc string

const (
	HashSHA256 HashFunc = "sha256"
	HashBLAKE3 HashFunc = "blake3"
)

// DefaultLambda is the weight given to relays on a share's suggested path.
const DefaultLambda = 2.0

// Sink is the data collector. It publishes its location, key material and
// the protocol parameters every sensor node uses.
type Sink struct {
	ID       string
	Location r2.Vec
	// Radius is the sink's communication radius used for mutual-range checks.
	Radius float64
	// BroadcastRange is the initial broadcast range D0 used to seed routing.
	// Zero means Radius.
	BroadcastRange float64
	MaxHops        int
	// Lambda weights candidates that lie on a share's suggested path.
	Lambda float64
	Hash   HashFunc

	PublicKey  *ecdh.PublicKey
	PrivateKey *ecdh.PrivateKey
}

// SeedRange returns the sink's initial broadcast range.
func (s *Sink) SeedRange() float64 {
	if s.BroadcastRange > 0 {
		return s.BroadcastRange
	}
	return s.Radius
}
