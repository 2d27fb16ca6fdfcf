package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

func newNode(id string) *model.Node {
	return model.NewNode(id, r2.Vec{}, 10, 5)
}

func TestAddAndGetNode(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(newNode("n1")); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	got := store.GetNode("n1")
	if got == nil || got.Reputation != 1.0 || got.Gamma != 1 || got.K != 0 {
		t.Fatalf("GetNode returned %#v, want default reputation state", got)
	}
}

func TestAddNodeDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddNode(newNode("n1")); err != nil {
		t.Fatalf("first AddNode error: %v", err)
	}
	if err := store.AddNode(newNode("n1")); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("duplicate AddNode error = %v, want ErrNodeExists", err)
	}
}

func TestAddNodeValidation(t *testing.T) {
	store := NewKnowledgeBase()
	cases := []*model.Node{
		nil,
		{ID: ""},
		model.NewNode(model.SinkID, r2.Vec{}, 1, 1),
		model.NewNode("zero-radius", r2.Vec{}, 1, 0),
		model.NewNode("negative-energy", r2.Vec{}, -1, 1),
	}
	for _, n := range cases {
		if err := store.AddNode(n); !errors.Is(err, ErrNodeInvalid) {
			t.Fatalf("AddNode(%v) error = %v, want ErrNodeInvalid", n, err)
		}
	}
}

func TestListNodesSorted(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []string{"c", "a", "b"} {
		if err := store.AddNode(newNode(id)); err != nil {
			t.Fatalf("AddNode(%s) error: %v", id, err)
		}
	}
	nodes := store.ListNodes()
	if len(nodes) != 3 || store.NodeCount() != 3 {
		t.Fatalf("ListNodes len = %d, NodeCount = %d, want 3", len(nodes), store.NodeCount())
	}
	for i, want := range []string{"a", "b", "c"} {
		if nodes[i].ID != want {
			t.Fatalf("ListNodes[%d] = %s, want %s", i, nodes[i].ID, want)
		}
	}
}

func TestConnectIsSymmetric(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []string{"a", "b", "c"} {
		_ = store.AddNode(newNode(id))
	}
	if err := store.Connect("a", "c"); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if err := store.Connect("a", "b"); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if !store.IsNeighbor("c", "a") || !store.IsNeighbor("a", "c") {
		t.Fatalf("expected symmetric neighbor relation")
	}
	if store.IsNeighbor("b", "c") {
		t.Fatalf("b and c should not be neighbors")
	}
	got := store.Neighbors("a")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("Neighbors(a) = %v, want [b c]", got)
	}
	if err := store.Connect("a", "missing"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("Connect to missing node error = %v, want ErrNodeNotFound", err)
	}
	if err := store.Connect("a", "a"); !errors.Is(err, ErrNodeInvalid) {
		t.Fatalf("self Connect error = %v, want ErrNodeInvalid", err)
	}
}

func TestDebitEnergyFloorsAtZero(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.AddNode(newNode("n1"))

	left, err := store.DebitEnergy("n1", 4)
	if err != nil || left != 6 {
		t.Fatalf("DebitEnergy = %v, %v, want 6, nil", left, err)
	}
	left, err = store.DebitEnergy("n1", 100)
	if err != nil || left != 0 {
		t.Fatalf("DebitEnergy = %v, %v, want 0, nil", left, err)
	}
	if store.GetNode("n1").Energy != 0 {
		t.Fatalf("node energy = %v, want 0", store.GetNode("n1").Energy)
	}
	if _, err := store.DebitEnergy("missing", 1); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("DebitEnergy(missing) error = %v, want ErrNodeNotFound", err)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	store := NewKnowledgeBase()

	var got []Event
	unsub := store.Subscribe(func(e Event) { got = append(got, e) })

	_ = store.AddNode(newNode("n1"))
	_, _ = store.DebitEnergy("n1", 1)
	_ = store.SetReputation("n1", model.ReputationRecord{Gamma: 2, K: 1, PV: 0.5})

	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Type != EventNodeAdded || got[1].Type != EventEnergyUpdated || got[2].Type != EventReputationUpdated {
		t.Fatalf("unexpected event order: %+v", got)
	}
	if got[2].Reputation != 0.5 {
		t.Fatalf("reputation event = %v, want 0.5", got[2].Reputation)
	}
	n := store.GetNode("n1")
	if n.Gamma != 2 || n.K != 1 {
		t.Fatalf("node counters = (%d,%d), want (2,1)", n.Gamma, n.K)
	}

	unsub()
	_, _ = store.DebitEnergy("n1", 1)
	if len(got) != 3 {
		t.Fatalf("received event after unsubscribe")
	}
}

func TestSetFailure(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.AddNode(newNode("n1"))
	f := model.FailureInjection{Behavior: model.BehaviorSilent}
	if err := store.SetFailure("n1", f); err != nil {
		t.Fatalf("SetFailure error: %v", err)
	}
	if store.GetNode("n1").Failure.Behavior != model.BehaviorSilent {
		t.Fatalf("failure not applied")
	}
	if err := store.SetFailure("nope", f); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("SetFailure(nope) error = %v, want ErrNodeNotFound", err)
	}
}

func TestConcurrentReaders(t *testing.T) {
	store := NewKnowledgeBase()
	for i := range 10 {
		_ = store.AddNode(newNode(fmt.Sprintf("n-%d", i)))
	}

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.ListNodes()
			_ = store.Neighbors(fmt.Sprintf("n-%d", i))
			_, _ = store.DebitEnergy(fmt.Sprintf("n-%d", i), 0.5)
		}(i)
	}
	wg.Wait()
}
