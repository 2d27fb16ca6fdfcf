package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a relay does not acknowledge a share
	// within the monitor timeout.
	ErrTimeout = errors.New("relay timeout")
	// ErrTampered is returned when a relay echoes a different content hash.
	ErrTampered = errors.New("relay tampered with share")
	// ErrDeliveryFailed is returned when a hop runs out of candidates or
	// retries.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrHopLimitExceeded is returned when a share exhausts the global hop
	// budget before reaching the sink.
	ErrHopLimitExceeded = errors.New("hop limit exceeded")
	// ErrUnreachableSource is returned for sources the routing table never
	// reached.
	ErrUnreachableSource = errors.New("source unreachable")
)

// HopError carries the node and hop context of a transmission failure.
type HopError struct {
	Share     int
	Node      string
	Candidate string
	Hop       int
	Err       error
}

func (e *HopError) Error() string {
	if e.Candidate == "" {
		return fmt.Sprintf("share %d hop %d at %s: %v", e.Share, e.Hop, e.Node, e.Err)
	}
	return fmt.Sprintf("share %d hop %d %s->%s: %v", e.Share, e.Hop, e.Node, e.Candidate, e.Err)
}

func (e *HopError) Unwrap() error { return e.Err }
