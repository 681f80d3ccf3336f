package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Source model indices used by Block.SourceModel.
const (
	Model1 = 0
	Model2 = 1
)

// Block is one weighted contribution to an output layer.
type Block struct {
	// 1-based index of the layer taken from the source model.
	// example: 3
	SourceLayer int `json:"source_layer" yaml:"source_layer" example:"3"`
	// Which source model the layer comes from (0 or 1).
	// example: 0
	SourceModel int `json:"source_model" yaml:"source_model" example:"0"`
	// Blend weight as a fraction (0.0–1.0).
	// example: 0.5
	Weight float64 `json:"weight" yaml:"weight" example:"0.5"`
}

// Layer is the ordered list of blocks that make up one output layer.
type Layer []Block

// WeightPair holds one weight per source model.
type WeightPair [2]float64

// Recipe describes how a merged model is assembled from two source models.
type Recipe struct {
	Model1Name       string     `json:"model1_name" yaml:"model1_name"`
	Model2Name       string     `json:"model2_name" yaml:"model2_name"`
	Layers           []Layer    `json:"layers" yaml:"layers"`
	EmbeddingWeights WeightPair `json:"embedding_weights" yaml:"embedding_weights"`
	LinearWeights    WeightPair `json:"linear_weights" yaml:"linear_weights"`
	MergedName       string     `json:"merged_name" yaml:"merged_name"`
}

// Clone returns a deep copy so callers can edit without aliasing layers.
func (r Recipe) Clone() Recipe {
	out := r
	if r.Layers != nil {
		out.Layers = make([]Layer, len(r.Layers))
		for i, l := range r.Layers {
			out.Layers[i] = append(Layer(nil), l...)
		}
	}
	return out
}

// ModelName returns the name of the source model at index idx.
func (r Recipe) ModelName(idx int) string {
	if idx == Model2 {
		return r.Model2Name
	}
	return r.Model1Name
}

// LayerCount is a known transformer layer count. Zero means the model is not
// selected and renders as "N/A".
type LayerCount int

// NotApplicable marks an unselected model.
const NotApplicable LayerCount = 0

// Known reports whether the count refers to a selected model.
func (c LayerCount) Known() bool { return c > 0 }

// Bound is the highest valid 1-based source layer; unknown counts clamp to 1.
func (c LayerCount) Bound() int {
	if c <= 0 {
		return 1
	}
	return int(c)
}

func (c LayerCount) String() string {
	if !c.Known() {
		return "N/A"
	}
	return strconv.Itoa(int(c))
}

func (c LayerCount) MarshalJSON() ([]byte, error) {
	if !c.Known() {
		return []byte(`"N/A"`), nil
	}
	return []byte(strconv.Itoa(int(c))), nil
}

func (c *LayerCount) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n < 0 {
			n = 0
		}
		*c = LayerCount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("layer count: %w", err)
	}
	if s != "N/A" {
		return fmt.Errorf("layer count: unexpected value %q", s)
	}
	*c = NotApplicable
	return nil
}

// LayerCounts pairs the counts of the two selected models.
type LayerCounts struct {
	Model1 LayerCount `json:"model1"`
	Model2 LayerCount `json:"model2"`
}

// For returns the count of source model idx.
func (lc LayerCounts) For(idx int) LayerCount {
	if idx == Model2 {
		return lc.Model2
	}
	return lc.Model1
}
