package model

import (
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// FailureBehavior selects how a relay misbehaves when it is handed a share.
type FailureBehavior int

const (
	BehaviorNone    FailureBehavior = iota // forwards and acknowledges immediately
	BehaviorSilent                         // never acknowledges
	BehaviorDelayed                        // acknowledges after FailureInjection.Delay
	BehaviorTamper                         // acknowledges with altered content
)

// String returns the lower-case name used in scenario files and logs.
func (b FailureBehavior) String() string {
	switch b {
	case BehaviorSilent:
		return "silent"
	case BehaviorDelayed:
		return "delayed"
	case BehaviorTamper:
		return "tamper"
	default:
		return "none"
	}
}

// ParseFailureBehavior maps a scenario string onto a FailureBehavior.
// Unknown values map to BehaviorNone.
func ParseFailureBehavior(s string) FailureBehavior {
	switch s {
	case "silent":
		return BehaviorSilent
	case "delayed", "delay":
		return BehaviorDelayed
	case "tamper", "tampered":
		return BehaviorTamper
	default:
		return BehaviorNone
	}
}

// FailureInjection configures adversarial behaviour for test scenarios.
// The zero value is an honest node.
type FailureInjection struct {
	Behavior FailureBehavior
	Delay    time.Duration // only meaningful for BehaviorDelayed
}

// Node is a sensor node in the simulated network.
//
// Nodes are created when the topology is built and live for the whole
// simulation. Energy, reputation and the suspicion counters are mutated
// through the knowledge base; a Node must not be copied once in use.
type Node struct {
	ID       string
	Location r2.Vec
	Energy   float64
	Radius   float64

	// Reputation is the node's globally published trust score (pv).
	Reputation float64
	// Gamma and K are the suspicion counters behind Reputation.
	Gamma int
	K     int

	Failure FailureInjection

	lastSent     atomic.Pointer[Message]
	lastReceived atomic.Pointer[Message]
}

// NewNode returns a node with default reputation state.
func NewNode(id string, loc r2.Vec, energy, radius float64) *Node {
	return &Node{
		ID:         id,
		Location:   loc,
		Energy:     energy,
		Radius:     radius,
		Reputation: 1.0,
		Gamma:      1,
		K:          0,
	}
}

// LastSent returns the last message this node transmitted, or nil.
func (n *Node) LastSent() *Message { return n.lastSent.Load() }

// SetLastSent records the last transmitted message.
func (n *Node) SetLastSent(m *Message) { n.lastSent.Store(m) }

// LastReceived returns the last message delivered to this node, or nil.
// It may be written from a timer goroutine for delayed nodes.
func (n *Node) LastReceived() *Message { return n.lastReceived.Load() }

// SetLastReceived records the last delivered message.
func (n *Node) SetLastReceived(m *Message) { n.lastReceived.Store(m) }
