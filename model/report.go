package model

import (
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// AnomalyKind classifies what an observer saw a relay do wrong.
type AnomalyKind string

const (
	AnomalyTimeout  AnomalyKind = "timeout"
	AnomalyTampered AnomalyKind = "tampered"
)

// AnomalyReport flags a suspect relay to the sink.
type AnomalyReport struct {
	ID              string
	Kind            AnomalyKind
	Reporter        string
	Suspect         string
	SuspectLocation r2.Vec
	ShareIndex      int
	Timestamp       time.Time
	// Route is the hop sequence the report took toward the sink.
	Route []string
}

// ReputationRecord is the sink's view of one reported node.
type ReputationRecord struct {
	Gamma int
	K     int
	PV    float64
}
