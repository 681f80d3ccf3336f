package types

import (
	"encoding/json"
	"testing"
)

func TestMergeRequest_TupleBlocks(t *testing.T) {
	r := Recipe{
		Model1Name:       "svamp",
		Model2Name:       "tinystories",
		Layers:           []Layer{{{SourceLayer: 1, SourceModel: 0, Weight: 1}}, {{SourceLayer: 4, SourceModel: 1, Weight: 0.25}, {SourceLayer: 2, SourceModel: 0, Weight: 0.75}}},
		EmbeddingWeights: WeightPair{0.5, 0.5},
		LinearWeights:    WeightPair{0.3, 0.7},
		MergedName:       "merged",
	}
	b, err := json.Marshal(NewMergeRequest(r))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"model1_name":"svamp","model2_name":"tinystories","layer_recipe":[[[1,0,1]],[[4,1,0.25],[2,0,0.75]]],"embedding_lambdas":[0.5,0.5],"linear_lambdas":[0.3,0.7],"merged_name":"merged"}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}

	var back MergeRequest
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := Block(back.LayerRecipe[1][0]); got != (Block{SourceLayer: 4, SourceModel: 1, Weight: 0.25}) {
		t.Fatalf("block mismatch: %+v", got)
	}
}

func TestWireBlock_RejectsWrongArity(t *testing.T) {
	var b WireBlock
	if err := json.Unmarshal([]byte(`[1,0]`), &b); err == nil {
		t.Fatal("expected error for 2-element tuple")
	}
}

func TestLayerCountJSON(t *testing.T) {
	b, _ := json.Marshal(LayerCounts{Model1: 24})
	if string(b) != `{"model1":24,"model2":"N/A"}` {
		t.Fatalf("got %s", b)
	}
	var lc LayerCounts
	if err := json.Unmarshal(b, &lc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if lc.Model1 != 24 || lc.Model2.Known() {
		t.Fatalf("unexpected: %+v", lc)
	}
	if lc.Model2.Bound() != 1 {
		t.Fatalf("N/A bound=%d", lc.Model2.Bound())
	}
}

func TestFailureReason(t *testing.T) {
	cases := map[string]string{
		``:          "Task failed",
		`null`:      "Task failed",
		`""`:        "Task failed",
		`"OOM"`:     "OOM",
		`{"x":1}`:   `{"x":1}`,
	}
	for raw, want := range cases {
		s := TaskStatus{Status: TaskFailure, Result: json.RawMessage(raw)}
		if got := s.FailureReason(); got != want {
			t.Fatalf("%q -> %q, want %q", raw, got, want)
		}
	}
}

func TestRecipeCloneDoesNotAlias(t *testing.T) {
	r := Recipe{Layers: []Layer{{{SourceLayer: 1, Weight: 1}}}}
	c := r.Clone()
	c.Layers[0][0].Weight = 0.1
	if r.Layers[0][0].Weight != 1 {
		t.Fatal("clone aliases original layers")
	}
}
