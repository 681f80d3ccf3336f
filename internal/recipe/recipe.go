// Package recipe implements the editing operations on a merge recipe.
//
// Every operation takes a recipe by value and returns a new one; the input
// is never modified, so a caller holding the previous value can keep using
// it. Source layer bounds come from an injected CountSource (normally the
// hints store) keyed by the recipe's model names.
package recipe

import (
	"math"
	"math/rand/v2"
	"sync"

	"evopanel/pkg/types"
)

// Maximum number of blocks Randomize puts in one layer.
const maxRandomBlocks = 5

// Weight given to blocks added with AddBlock.
const addedBlockWeight = 0.5

// CountSource reports the layer counts of the two selected models.
type CountSource interface {
	PairCounts(model1, model2 string) types.LayerCounts
}

// Defaults controls the single block each new layer starts with.
type Defaults struct {
	// Weight of the initial block (1.0 or 0.5 depending on taste).
	Weight float64 `json:"weight" yaml:"weight" toml:"weight"`
	// MatchIndex makes output layer i start from source layer i+1 instead of 1.
	MatchIndex bool `json:"match_index" yaml:"match_index" toml:"match_index"`
}

// DefaultDefaults starts every layer as source layer 1 of model 1 at full weight.
func DefaultDefaults() Defaults { return Defaults{Weight: 1.0} }

// Editor applies recipe operations.
type Editor struct {
	counts   CountSource
	defaults Defaults

	mu  sync.Mutex // guards rnd
	rnd *rand.Rand
}

// Option configures an Editor.
type Option func(*Editor)

// WithRand sets the random source used by AddBlock and Randomize.
func WithRand(r *rand.Rand) Option { return func(e *Editor) { e.rnd = r } }

// NewEditor returns an Editor. A nil CountSource treats every model as unknown.
func NewEditor(counts CountSource, d Defaults, opts ...Option) *Editor {
	if d.Weight <= 0 {
		d.Weight = DefaultDefaults().Weight
	}
	e := &Editor{counts: counts, defaults: d}
	for _, o := range opts {
		o(e)
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// Counts returns the layer counts for the recipe's selected models.
func (e *Editor) Counts(r types.Recipe) types.LayerCounts {
	if e.counts == nil {
		return types.LayerCounts{}
	}
	return e.counts.PairCounts(r.Model1Name, r.Model2Name)
}

func (e *Editor) defaultLayer(i int, counts types.LayerCounts) types.Layer {
	src := 1
	if e.defaults.MatchIndex {
		src = clamp(i+1, 1, counts.Model1.Bound())
	}
	return types.Layer{{SourceLayer: src, SourceModel: types.Model1, Weight: e.defaults.Weight}}
}

// Initialize replaces the layers of r with n default single-block layers.
func (e *Editor) Initialize(r types.Recipe, n int) types.Recipe {
	out := r.Clone()
	counts := e.Counts(r)
	out.Layers = make([]types.Layer, 0, max(n, 0))
	for i := 0; i < n; i++ {
		out.Layers = append(out.Layers, e.defaultLayer(i, counts))
	}
	return out
}

// Resize grows r by appending default layers or shrinks it by truncating
// from the end. Existing layers within the new length are kept as they are;
// truncated layers are discarded.
func (e *Editor) Resize(r types.Recipe, n int) types.Recipe {
	if n < 0 {
		n = 0
	}
	out := r.Clone()
	if n <= len(out.Layers) {
		out.Layers = out.Layers[:n]
		return out
	}
	counts := e.Counts(r)
	for i := len(out.Layers); i < n; i++ {
		out.Layers = append(out.Layers, e.defaultLayer(i, counts))
	}
	return out
}

// AddBlock appends a block (source layer 1, random model, weight 0.5) to the
// given layer. Existing weights are not renormalized.
func (e *Editor) AddBlock(r types.Recipe, layer int) (types.Recipe, error) {
	if err := checkLayer(r, layer); err != nil {
		return r, err
	}
	out := r.Clone()
	out.Layers[layer] = append(out.Layers[layer], types.Block{
		SourceLayer: 1,
		SourceModel: e.randIntN(2),
		Weight:      addedBlockWeight,
	})
	return out, nil
}

// RemoveBlock deletes one block. Removing the only block of a layer is a no-op.
func (e *Editor) RemoveBlock(r types.Recipe, layer, block int) (types.Recipe, error) {
	if err := checkBlock(r, layer, block); err != nil {
		return r, err
	}
	out := r.Clone()
	l := out.Layers[layer]
	if len(l) <= 1 {
		return out, nil
	}
	out.Layers[layer] = append(l[:block:block], l[block+1:]...)
	return out, nil
}

// Field names one editable attribute of a block.
type Field string

const (
	FieldModel       Field = "model"
	FieldSourceLayer Field = "sourceLayer"
	FieldPercentage  Field = "percentage"
)

// UpdateBlock changes one field of a block.
//
//   - model: sets the source model (0 or 1) and resets the source layer to 1.
//   - sourceLayer: clamps value into [1, count of the block's model]; an
//     unknown count clamps to 1.
//   - percentage: stores value/100, with value clamped to [0, 100].
func (e *Editor) UpdateBlock(r types.Recipe, layer, block int, field Field, value float64) (types.Recipe, error) {
	if err := checkBlock(r, layer, block); err != nil {
		return r, err
	}
	if math.IsNaN(value) {
		return r, &ValidationError{Field: string(field), Msg: "value is not a number"}
	}
	out := r.Clone()
	b := &out.Layers[layer][block]
	switch field {
	case FieldModel:
		m := int(value)
		if float64(m) != value || (m != types.Model1 && m != types.Model2) {
			return r, &ValidationError{Field: string(field), Msg: "source model must be 0 or 1"}
		}
		b.SourceModel = m
		b.SourceLayer = 1
	case FieldSourceLayer:
		bound := e.Counts(r).For(b.SourceModel).Bound()
		b.SourceLayer = int(math.Max(1, math.Min(float64(bound), math.Round(value))))
	case FieldPercentage:
		b.Weight = math.Max(0, math.Min(100, value)) / 100
	default:
		return r, &ValidationError{Field: string(field), Msg: "unknown block field"}
	}
	return out, nil
}

// Randomize builds n random layers. Each layer gets 1–5 blocks whose weights
// are a normalized random partition summing to 1; each block references a
// random model and a random source layer within that model's bound. The
// embedding and linear pairs are drawn as (x, 1-x).
func (e *Editor) Randomize(r types.Recipe, n int) types.Recipe {
	out := r.Clone()
	counts := e.Counts(r)

	x := e.randFloat()
	out.EmbeddingWeights = types.WeightPair{x, 1 - x}
	x = e.randFloat()
	out.LinearWeights = types.WeightPair{x, 1 - x}

	out.Layers = make([]types.Layer, 0, max(n, 0))
	for i := 0; i < n; i++ {
		nb := e.randIntN(maxRandomBlocks) + 1
		weights := e.partition(nb)
		layer := make(types.Layer, nb)
		for j := range layer {
			m := e.randIntN(2)
			layer[j] = types.Block{
				SourceLayer: e.randIntN(counts.For(m).Bound()) + 1,
				SourceModel: m,
				Weight:      weights[j],
			}
		}
		out.Layers = append(out.Layers, layer)
	}
	return out
}

// partition returns n random weights that sum to 1.
func (e *Editor) partition(n int) []float64 {
	w := make([]float64, n)
	var total float64
	for i := range w {
		w[i] = e.randFloat()
		total += w[i]
	}
	if total == 0 {
		for i := range w {
			w[i] = 1 / float64(n)
		}
		return w
	}
	for i := range w {
		w[i] /= total
	}
	return w
}

// SetEmbeddingPercent stores percent/100 as the embedding weight of model idx.
func SetEmbeddingPercent(r types.Recipe, idx int, percent float64) (types.Recipe, error) {
	return setPercent(r, idx, percent, func(out *types.Recipe) *types.WeightPair { return &out.EmbeddingWeights })
}

// SetLinearPercent stores percent/100 as the linear weight of model idx.
func SetLinearPercent(r types.Recipe, idx int, percent float64) (types.Recipe, error) {
	return setPercent(r, idx, percent, func(out *types.Recipe) *types.WeightPair { return &out.LinearWeights })
}

func setPercent(r types.Recipe, idx int, percent float64, pick func(*types.Recipe) *types.WeightPair) (types.Recipe, error) {
	if idx != 0 && idx != 1 {
		return r, &ValidationError{Field: "index", Msg: "weight index must be 0 or 1"}
	}
	out := r.Clone()
	pick(&out)[idx] = math.Max(0, math.Min(100, percent)) / 100
	return out, nil
}

// LayerTotal is the sum of the block weights of l.
func LayerTotal(l types.Layer) float64 {
	var sum float64
	for _, b := range l {
		sum += b.Weight
	}
	return sum
}

// Totals returns LayerTotal for every layer of r.
func Totals(r types.Recipe) []float64 {
	out := make([]float64, len(r.Layers))
	for i, l := range r.Layers {
		out[i] = LayerTotal(l)
	}
	return out
}

func (e *Editor) randIntN(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.IntN(n)
}

func (e *Editor) randFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.Float64()
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(v, lo), hi)
}
