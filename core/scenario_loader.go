// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Topology is a small summary of what was loaded from JSON.
// It's mainly useful for logging or debugging from main().
type Topology struct {
	NodeIDs []string
	Links   int
}

// internal JSON shapes, unexported so we're free to evolve them.
type topologyJSON struct {
	Sink  sinkJSON   `json:"sink"`
	Nodes []nodeJSON `json:"nodes"`
	// Links is optional. When absent the neighbor relation is derived
	// from positions and radii.
	Links [][2]string `json:"links"`
}

type sinkJSON struct {
	ID             string  `json:"id"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Radius         float64 `json:"radius"`
	BroadcastRange float64 `json:"broadcast_range"`
	MaxHops        int     `json:"max_hops"`
	Lambda         float64 `json:"lambda"`
	Hash           string  `json:"hash"`
}

type nodeJSON struct {
	ID      string       `json:"id"`
	X       float64      `json:"x"`
	Y       float64      `json:"y"`
	Energy  float64      `json:"energy"`
	Radius  float64      `json:"radius"`
	Failure *failureJSON `json:"failure"`
}

type failureJSON struct {
	Behavior string `json:"behavior"` // "none" | "silent" | "delayed" | "tamper"
	Delay    string `json:"delay"`    // Go duration, e.g. "1.5s"
}

// LoadTopology reads a JSON topology from r, populates store with the sink
// and nodes, links neighbors and returns a summary of what was loaded.
func LoadTopology(store *kb.KnowledgeBase, r io.Reader) (*Topology, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadTopology: kb is nil")
	}

	var payload topologyJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadTopology: decode failed: %w", err)
	}

	sink, err := payload.Sink.toModel()
	if err != nil {
		return nil, fmt.Errorf("LoadTopology: %w", err)
	}
	store.SetSink(sink)

	result := &Topology{NodeIDs: make([]string, 0, len(payload.Nodes))}
	for _, jsN := range payload.Nodes {
		n := model.NewNode(jsN.ID, r2.Vec{X: jsN.X, Y: jsN.Y}, jsN.Energy, jsN.Radius)
		if jsN.Failure != nil {
			f, err := jsN.Failure.toModel()
			if err != nil {
				return nil, fmt.Errorf("LoadTopology: node %q: %w", jsN.ID, err)
			}
			n.Failure = f
		}
		if err := store.AddNode(n); err != nil {
			return nil, fmt.Errorf("LoadTopology: %w", err)
		}
		result.NodeIDs = append(result.NodeIDs, jsN.ID)
	}

	if payload.Links == nil {
		links, err := BuildNeighbors(store)
		if err != nil {
			return nil, fmt.Errorf("LoadTopology: %w", err)
		}
		result.Links = links
		return result, nil
	}
	for _, l := range payload.Links {
		if err := store.Connect(l[0], l[1]); err != nil {
			return nil, fmt.Errorf("LoadTopology: link %s-%s: %w", l[0], l[1], err)
		}
		result.Links++
	}
	return result, nil
}

func (s sinkJSON) toModel() (*model.Sink, error) {
	if s.Radius <= 0 {
		return nil, fmt.Errorf("sink radius must be positive, got %v", s.Radius)
	}
	id := s.ID
	if id == "" {
		id = model.SinkID
	}
	if id != model.SinkID {
		return nil, fmt.Errorf("sink id must be %q, got %q", model.SinkID, id)
	}
	lambda := s.Lambda
	if lambda == 0 {
		lambda = model.DefaultLambda
	}
	hash, err := parseHash(s.Hash)
	if err != nil {
		return nil, err
	}
	return &model.Sink{
		ID:             id,
		Location:       r2.Vec{X: s.X, Y: s.Y},
		Radius:         s.Radius,
		BroadcastRange: s.BroadcastRange,
		MaxHops:        s.MaxHops,
		Lambda:         lambda,
		Hash:           hash,
	}, nil
}

func (f failureJSON) toModel() (model.FailureInjection, error) {
	out := model.FailureInjection{Behavior: model.ParseFailureBehavior(strings.ToLower(strings.TrimSpace(f.Behavior)))}
	if f.Delay != "" {
		d, err := time.ParseDuration(f.Delay)
		if err != nil {
			return out, fmt.Errorf("failure delay: %w", err)
		}
		out.Delay = d
	}
	return out, nil
}

func parseHash(s string) (model.HashFunc, error) {
	switch v := model.HashFunc(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return model.HashSHA256, nil
	case model.HashSHA256, model.HashBLAKE3:
		return v, nil
	default:
		return "", fmt.Errorf("unknown hash %q", s)
	}
}
