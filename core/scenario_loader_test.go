// core/scenario_loader_test.go
package core

import (
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

func TestLoadTopology_PopulatesKB(t *testing.T) {
	jsonData := `
{
  "sink": { "x": 50, "y": 0, "radius": 12, "lambda": 0.7, "hash": "blake3" },
  "nodes": [
    { "id": "n0", "x": 30, "y": 0, "energy": 100, "radius": 12 },
    { "id": "n1", "x": 40, "y": 0, "energy": 90,  "radius": 12,
      "failure": { "behavior": "delayed", "delay": "1500ms" } },
    { "id": "n2", "x": 40, "y": 30, "energy": 80, "radius": 5,
      "failure": { "behavior": "Silent" } }
  ]
}
`
	store := kb.NewKnowledgeBase()
	topo, err := LoadTopology(store, strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("LoadTopology returned error: %v", err)
	}
	if len(topo.NodeIDs) != 3 || topo.Links != 1 {
		t.Fatalf("summary = %+v, want 3 nodes and 1 link", topo)
	}

	sink := store.Sink()
	if sink == nil || sink.ID != model.SinkID || sink.Lambda != 0.7 || sink.Hash != model.HashBLAKE3 {
		t.Fatalf("sink = %+v", sink)
	}
	n1 := store.GetNode("n1")
	if n1.Failure.Behavior != model.BehaviorDelayed || n1.Failure.Delay != 1500*time.Millisecond {
		t.Fatalf("n1 failure = %+v, want delayed 1.5s", n1.Failure)
	}
	if store.GetNode("n2").Failure.Behavior != model.BehaviorSilent {
		t.Fatalf("n2 should be silent")
	}
	if !store.IsNeighbor("n0", "n1") || store.IsNeighbor("n1", "n2") {
		t.Fatalf("unexpected adjacency: n0-n1=%v n1-n2=%v", store.IsNeighbor("n0", "n1"), store.IsNeighbor("n1", "n2"))
	}
}

func TestLoadTopology_ExplicitLinks(t *testing.T) {
	jsonData := `
{
  "sink": { "radius": 10 },
  "nodes": [
    { "id": "a", "x": 0, "y": 0, "energy": 1, "radius": 1 },
    { "id": "b", "x": 100, "y": 0, "energy": 1, "radius": 1 }
  ],
  "links": [["a", "b"]]
}
`
	store := kb.NewKnowledgeBase()
	topo, err := LoadTopology(store, strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("LoadTopology returned error: %v", err)
	}
	if topo.Links != 1 || !store.IsNeighbor("a", "b") {
		t.Fatalf("explicit link not applied")
	}
	if store.Sink().Lambda != model.DefaultLambda || store.Sink().Hash != model.HashSHA256 {
		t.Fatalf("sink defaults not applied: %+v", store.Sink())
	}
}

func TestLoadTopology_Errors(t *testing.T) {
	cases := map[string]string{
		"bad json":      `{`,
		"unknown field": `{"sink":{"radius":1},"bogus":1}`,
		"no radius":     `{"sink":{}}`,
		"wrong sink id": `{"sink":{"id":"base","radius":1}}`,
		"bad hash":      `{"sink":{"radius":1,"hash":"md5"}}`,
		"duplicate":     `{"sink":{"radius":1},"nodes":[{"id":"a","energy":1,"radius":1},{"id":"a","energy":1,"radius":1}]}`,
		"bad delay":     `{"sink":{"radius":1},"nodes":[{"id":"a","energy":1,"radius":1,"failure":{"behavior":"delayed","delay":"soon"}}]}`,
		"dangling link": `{"sink":{"radius":1},"nodes":[{"id":"a","energy":1,"radius":1}],"links":[["a","b"]]}`,
	}
	for name, data := range cases {
		if _, err := LoadTopology(kb.NewKnowledgeBase(), strings.NewReader(data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadTopology(nil, strings.NewReader(`{}`)); err == nil {
		t.Fatalf("expected error for nil kb")
	}
}
