package relay

import (
	"context"
	"testing"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

type stubReputations struct {
	rep     map[string]float64
	flagged map[string]bool
}

func (s stubReputations) Reputation(_, candidate string) float64 {
	if v, ok := s.rep[candidate]; ok {
		return v
	}
	return 1
}

func (s stubReputations) IsFlagged(_, candidate string) bool { return s.flagged[candidate] }

func (stubReputations) Report(context.Context, string, string, model.AnomalyKind, int) bool {
	return true
}

func rankedIDs(cands []Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}

func TestSelectorTieKeepsNeighborOrder(t *testing.T) {
	store := detourStore(t)
	sel := NewSelector(store, stubReputations{}, core.DefaultEnergyModel(), 0)

	got := rankedIDs(sel.Rank("n0", testShare("n0"), nil))
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Rank = %v, want [a b]", got)
	}
}

func TestSelectorPrefersTrustedRelay(t *testing.T) {
	store := detourStore(t)
	sel := NewSelector(store, stubReputations{rep: map[string]float64{"a": 0.5}}, core.DefaultEnergyModel(), 0)

	best, ok := sel.Best("n0", testShare("n0"), nil)
	if !ok || best.ID != "b" {
		t.Fatalf("Best = %+v, want b", best)
	}
}

func TestSelectorPrefersEnergy(t *testing.T) {
	store := detourStore(t)
	if _, err := store.DebitEnergy("a", 60); err != nil {
		t.Fatalf("DebitEnergy: %v", err)
	}
	sel := NewSelector(store, stubReputations{}, core.DefaultEnergyModel(), 0)

	if best, _ := sel.Best("n0", testShare("n0"), nil); best.ID != "b" {
		t.Fatalf("Best = %q, want b", best.ID)
	}
}

func TestSelectorSuggestedPathWeight(t *testing.T) {
	store := detourStore(t)
	store.Sink().Lambda = 2
	sel := NewSelector(store, stubReputations{}, core.DefaultEnergyModel(), 0)

	share := testShare("n0")
	share.SuggestedPath = []string{"n0", "b", "c", model.SinkID}
	ranked := sel.Rank("n0", share, nil)
	if got := rankedIDs(ranked); got[0] != "b" {
		t.Fatalf("Rank = %v, want b first", got)
	}
	if ranked[0].Score != 2*ranked[1].Score {
		t.Fatalf("scores = %v, %v, want a factor of lambda", ranked[0].Score, ranked[1].Score)
	}
}

func TestSelectorSkipsIneligible(t *testing.T) {
	store := detourStore(t)
	sel := NewSelector(store, stubReputations{flagged: map[string]bool{"a": true}}, core.DefaultEnergyModel(), 0)

	share := testShare("b")
	if got := rankedIDs(sel.Rank("b", share, nil)); len(got) != 2 || got[0] != "c" || got[1] != "n0" {
		t.Fatalf("Rank = %v, want [c n0]", got)
	}
	share.Traversed = append(share.Traversed, "n0")
	if got := rankedIDs(sel.Rank("b", share, map[string]bool{"c": true})); len(got) != 0 {
		t.Fatalf("Rank = %v, want none", got)
	}
	if _, ok := sel.Best("b", share, map[string]bool{"c": true}); ok {
		t.Fatalf("Best found a relay with none eligible")
	}
}

func TestSelectorScoreFormula(t *testing.T) {
	store := lineStore(t)
	sel := NewSelector(store, stubReputations{rep: map[string]float64{"n0": 0.25}}, core.DefaultEnergyModel(), 1e-3)

	ranked := sel.Rank("n1", testShare("n1"), nil)
	if len(ranked) != 2 || ranked[0].ID != "n2" {
		t.Fatalf("Rank = %+v", ranked)
	}
	et := core.DefaultEnergyModel().TransmitCost(10, core.PayloadBits(4))
	d := 30 + 1e-3
	want := 100 / (et * d * d)
	if diff := ranked[0].Score - want; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("score = %v, want %v", ranked[0].Score, want)
	}
}
