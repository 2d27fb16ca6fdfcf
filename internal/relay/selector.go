package relay

import (
	"context"
	"math"
	"slices"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// DefaultEpsilon keeps the interest function finite for relays sitting on
// top of the sink.
const DefaultEpsilon = 1e-3

// Reputations is the trust view the selector and orchestrator consult.
// *reputation.Service implements it.
type Reputations interface {
	Reputation(observer, candidate string) float64
	IsFlagged(observer, candidate string) bool
	Report(ctx context.Context, reporter, suspect string, kind model.AnomalyKind, shareIndex int) bool
}

// Candidate is a scored next-hop relay.
type Candidate struct {
	ID       string
	Score    float64
	Distance float64 // from the sender
}

// Selector ranks the neighbors of a sender by interest:
//
//	IF(u,v) = rep(v) · bonus(v) · energy(v) / (ET(u,v) · (d(v,sink)+ε)²)
//
// where bonus(v) is the sink's λ when v lies on the share's suggested path.
type Selector struct {
	store   *kb.KnowledgeBase
	rep     Reputations
	energy  core.EnergyModel
	epsilon float64
}

// NewSelector returns a selector over store. A non-positive epsilon selects
// DefaultEpsilon.
func NewSelector(store *kb.KnowledgeBase, rep Reputations, energy core.EnergyModel, epsilon float64) *Selector {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Selector{store: store, rep: rep, energy: energy, epsilon: epsilon}
}

// Rank returns the eligible next hops of from, best first. A neighbor is
// eligible if the share has not visited it, it is not in exclude and from
// does not consider it malicious. Equal scores keep neighbor ID order.
func (s *Selector) Rank(from string, share *model.Share, exclude map[string]bool) []Candidate {
	sender := s.store.GetNode(from)
	sink := s.store.Sink()
	if sender == nil || sink == nil {
		return nil
	}
	lambda := sink.Lambda
	bits := core.PayloadBits(len(share.Payload))

	var out []Candidate
	for _, id := range s.store.Neighbors(from) {
		if exclude[id] || share.Visited(id) {
			continue
		}
		if s.rep != nil && s.rep.IsFlagged(from, id) {
			continue
		}
		v := s.store.GetNode(id)
		if v == nil {
			continue
		}
		duv := core.Distance(sender.Location, v.Location)
		out = append(out, Candidate{
			ID:       id,
			Score:    s.score(from, v, share, duv, core.Distance(v.Location, sink.Location), bits, lambda),
			Distance: duv,
		})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

// Best returns the highest-interest eligible next hop.
func (s *Selector) Best(from string, share *model.Share, exclude map[string]bool) (Candidate, bool) {
	ranked := s.Rank(from, share, exclude)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}

func (s *Selector) score(from string, v *model.Node, share *model.Share, duv, dvs float64, bits int, lambda float64) float64 {
	rep := 1.0
	if s.rep != nil {
		rep = s.rep.Reputation(from, v.ID)
	}
	bonus := 1.0
	if share.OnSuggestedPath(v.ID) {
		bonus = lambda
	}
	et := s.energy.TransmitCost(duv, bits)
	if et <= 0 {
		return math.Inf(1)
	}
	d := dvs + s.epsilon
	return rep * bonus * v.Energy / (et * d * d)
}
