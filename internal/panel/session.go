// Package panel holds the editing session behind the control panel: the
// selected models, the recipe being edited, blend weights, and the jobs
// submitted to the remote task service.
//
// The recipe is never mutated in place. Every edit computes a new value with
// the recipe package and swaps it in under the session lock, so snapshots
// handed out earlier stay valid.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"evopanel/internal/client"
	"evopanel/internal/hints"
	"evopanel/internal/recipe"
	"evopanel/internal/tasks"
	"evopanel/pkg/types"
)

// Generation limits accepted by the remote service.
const (
	MinNewTokens       = 1
	MaxNewTokens       = 1024
	DefaultNewTokens   = 512
	MinTemperature     = 0.1
	MaxTemperature     = 2.0
	DefaultTemperature = 0.7
)

// DefaultMaxOutputLayers bounds the output layer count unless configured.
const DefaultMaxOutputLayers = 48

// Config holds session defaults. Zero values select the defaults below.
type Config struct {
	OutputLayers    int              // 12
	MaxOutputLayers int              // 48
	MergedName      string           // "merged"
	Weights         types.WeightPair // 0.5/0.5 for both embedding and linear
	JobHistory      int              // finished jobs kept, 100
	// ModelListDelay is how long a model list job waits before its first poll.
	ModelListDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.OutputLayers <= 0 {
		c.OutputLayers = 12
	}
	if c.MaxOutputLayers <= 0 {
		c.MaxOutputLayers = DefaultMaxOutputLayers
	}
	c.OutputLayers = min(c.OutputLayers, c.MaxOutputLayers)
	if c.MergedName == "" {
		c.MergedName = "merged"
	}
	if c.Weights == (types.WeightPair{}) {
		c.Weights = types.WeightPair{0.5, 0.5}
	}
	if c.JobHistory <= 0 {
		c.JobHistory = 100
	}
	return c
}

// Session is safe for concurrent use.
type Session struct {
	cfg    Config
	hints  *hints.Store
	editor *recipe.Editor
	poller *tasks.Poller
	lister *tasks.Poller
	log    zerolog.Logger

	base context.Context
	stop context.CancelFunc

	mu           sync.RWMutex
	closed       bool
	models       []string
	outputLayers int
	recipe       types.Recipe
	jobs         map[string]*job
	order        []string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

// WithEditor replaces the recipe editor (tests use a seeded one).
func WithEditor(e *recipe.Editor) Option { return func(s *Session) { s.editor = e } }

// New starts a session with an initialized default recipe.
func New(poller *tasks.Poller, store *hints.Store, cfg Config, recipeDefaults recipe.Defaults, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	base, stop := context.WithCancel(context.Background())
	s := &Session{
		cfg:          cfg,
		hints:        store,
		poller:       poller,
		log:          zerolog.Nop(),
		base:         base,
		stop:         stop,
		outputLayers: cfg.OutputLayers,
		jobs:         map[string]*job{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.editor == nil {
		s.editor = recipe.NewEditor(store, recipeDefaults)
	}
	s.lister = poller.WithInitialDelay(cfg.ModelListDelay)
	s.recipe = s.editor.Initialize(types.Recipe{
		EmbeddingWeights: cfg.Weights,
		LinearWeights:    cfg.Weights,
		MergedName:       cfg.MergedName,
	}, cfg.OutputLayers)
	return s
}

// Ready reports whether the session accepts work.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close cancels all running jobs and waits for their chains to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()
	s.stop()
	for _, j := range jobs {
		_ = s.await(context.Background(), j)
	}
}

// State returns a snapshot of the whole panel.
func (s *Session) State() types.PanelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() types.PanelState {
	models := make([]string, len(s.models))
	copy(models, s.models)
	return types.PanelState{
		Models:       models,
		OutputLayers: s.outputLayers,
		Recipe:       s.recipe.Clone(),
		LayerCounts:  s.editor.Counts(s.recipe),
		LayerTotals:  recipe.Totals(s.recipe),
	}
}

// Recipe returns a copy of the current recipe.
func (s *Session) Recipe() types.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recipe.Clone()
}

// Models returns the last fetched model list.
func (s *Session) Models() []string {
	return s.State().Models
}

// SetSelection selects the two models to blend and records default layer
// counts for them. The recipe itself is left unchanged.
func (s *Session) SetSelection(model1, model2 string) (types.PanelState, error) {
	model1, model2 = strings.TrimSpace(model1), strings.TrimSpace(model2)
	if err := s.hints.InitializeDefaults(model1, model2); err != nil {
		return types.PanelState{}, err
	}
	return s.update(func(r types.Recipe) (types.Recipe, error) {
		out := r.Clone()
		out.Model1Name, out.Model2Name = model1, model2
		return out, nil
	})
}

// SetOutputLayers sets the number of output layers. An empty recipe is
// initialized; otherwise layers are appended or truncated from the end.
func (s *Session) SetOutputLayers(n int) (types.PanelState, error) {
	if n < 1 || n > s.cfg.MaxOutputLayers {
		return types.PanelState{}, invalid("count", "output layers must be between 1 and "+strconv.Itoa(s.cfg.MaxOutputLayers))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputLayers = n
	if len(s.recipe.Layers) == 0 {
		s.recipe = s.editor.Initialize(s.recipe, n)
	} else {
		s.recipe = s.editor.Resize(s.recipe, n)
	}
	return s.stateLocked(), nil
}

// SetMergedName sets the name of the model the merge will produce.
func (s *Session) SetMergedName(name string) (types.PanelState, error) {
	return s.update(func(r types.Recipe) (types.Recipe, error) {
		out := r.Clone()
		out.MergedName = name
		return out, nil
	})
}

// Weight groups accepted by SetWeight.
const (
	GroupEmbedding = "embedding"
	GroupLinear    = "linear"
)

// SetWeight sets one entry of the embedding or linear blend pair, as a percentage.
func (s *Session) SetWeight(group string, index int, percent float64) (types.PanelState, error) {
	var set func(types.Recipe, int, float64) (types.Recipe, error)
	switch group {
	case GroupEmbedding:
		set = recipe.SetEmbeddingPercent
	case GroupLinear:
		set = recipe.SetLinearPercent
	default:
		return types.PanelState{}, invalid("group", "weight group must be embedding or linear")
	}
	return s.update(func(r types.Recipe) (types.Recipe, error) { return set(r, index, percent) })
}

// Randomize replaces the recipe with a random one of the current length.
func (s *Session) Randomize() types.PanelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipe = s.editor.Randomize(s.recipe, s.outputLayers)
	return s.stateLocked()
}

// AddBlock appends a block to a layer.
func (s *Session) AddBlock(layer int) (types.PanelState, error) {
	return s.update(func(r types.Recipe) (types.Recipe, error) { return s.editor.AddBlock(r, layer) })
}

// RemoveBlock deletes a block; the last block of a layer is kept.
func (s *Session) RemoveBlock(layer, block int) (types.PanelState, error) {
	return s.update(func(r types.Recipe) (types.Recipe, error) { return s.editor.RemoveBlock(r, layer, block) })
}

// UpdateBlock edits one field of a block.
func (s *Session) UpdateBlock(layer, block int, field recipe.Field, value float64) (types.PanelState, error) {
	return s.update(func(r types.Recipe) (types.Recipe, error) {
		return s.editor.UpdateBlock(r, layer, block, field, value)
	})
}

// LayerCount returns the stored layer count hint for a model.
func (s *Session) LayerCount(model string) types.LayerCount {
	n, ok := s.hints.Get(model)
	if !ok {
		return types.NotApplicable
	}
	return types.LayerCount(n)
}

// SetLayerCount records the layer count of a model.
func (s *Session) SetLayerCount(model string, n int) error {
	if strings.TrimSpace(model) == "" {
		return invalid("model", "model name is required")
	}
	if err := s.hints.Set(model, n); err != nil {
		if errors.Is(err, hints.ErrInvalidCount) {
			return invalid("count", err.Error())
		}
		return err
	}
	return nil
}

func (s *Session) update(fn func(types.Recipe) (types.Recipe, error)) (types.PanelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.recipe)
	if err != nil {
		return types.PanelState{}, err
	}
	s.recipe = next
	return s.stateLocked(), nil
}

// RefreshModels starts a job fetching the available model names. A list
// result replaces the session's model list; anything else fails the job.
func (s *Session) RefreshModels(ctx context.Context) (types.Job, error) {
	return s.start(ctx, s.lister, types.JobListModels, client.EndpointListModels, nil, func(res json.RawMessage) error {
		names, err := ModelNames(res)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.models = names
		s.mu.Unlock()
		return nil
	})
}

// SubmitMerge validates the current recipe and starts a merge job. On
// success the merged model joins the model list and its layer count is
// recorded as the current output layer count.
func (s *Session) SubmitMerge(ctx context.Context) (types.Job, error) {
	s.mu.RLock()
	r := s.recipe.Clone()
	layers := s.outputLayers
	s.mu.RUnlock()
	if err := recipe.Validate(r); err != nil {
		return types.Job{}, err
	}
	return s.start(ctx, s.poller, types.JobMerge, client.EndpointMerge, types.NewMergeRequest(r), func(res json.RawMessage) error {
		name, err := MergedModel(res)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if !contains(s.models, name) {
			s.models = append(s.models, name)
		}
		s.mu.Unlock()
		if err := s.hints.Set(name, layers); err != nil {
			s.log.Warn().Err(err).Str("model", name).Msg("record merged layer count")
		}
		return nil
	})
}

// ModelNames decodes a list_models result. The worker wraps the names as
// {"response": [...]}; a bare array is accepted too.
func ModelNames(res json.RawMessage) ([]string, error) {
	var names []string
	if err := json.Unmarshal(res, &names); err != nil {
		var wrapped struct {
			Response *[]string `json:"response"`
		}
		if err := json.Unmarshal(res, &wrapped); err != nil || wrapped.Response == nil {
			return nil, &resultError{msg: "model list result is not a list of names"}
		}
		names = *wrapped.Response
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// MergedModel extracts the merged model name from a merge task result.
func MergedModel(res json.RawMessage) (string, error) {
	var out types.GenerateResult
	if err := json.Unmarshal(res, &out); err != nil {
		return "", &resultError{msg: "merge failed: decode result: " + err.Error()}
	}
	if out.Response == "" {
		reason := out.Error
		if reason == "" {
			reason = "unknown error"
		}
		return "", &resultError{msg: "merge failed: " + reason}
	}
	return out.Response, nil
}

// NormalizeGenerate applies defaults and range checks to a generate request.
func NormalizeGenerate(req types.GenerateRequest) (types.GenerateRequest, error) {
	if strings.TrimSpace(req.ModelName) == "" {
		return req, invalid("model_name", "model is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return req, invalid("prompt", "prompt is required")
	}
	if req.MaxNewTokens == 0 {
		req.MaxNewTokens = DefaultNewTokens
	}
	if req.MaxNewTokens < MinNewTokens || req.MaxNewTokens > MaxNewTokens {
		return req, invalid("max_new_tokens", "must be between 1 and 1024")
	}
	if req.Temperature == 0 {
		req.Temperature = DefaultTemperature
	}
	if req.Temperature < MinTemperature || req.Temperature > MaxTemperature {
		return req, invalid("temperature", "must be between 0.1 and 2.0")
	}
	return req, nil
}

// GenerateText extracts the generated text from an inference task result.
func GenerateText(res json.RawMessage) (string, error) {
	var out types.GenerateResult
	if err := json.Unmarshal(res, &out); err != nil {
		return "", &resultError{msg: "inference failed: decode result: " + err.Error()}
	}
	switch {
	case out.Response != "":
		return out.Response, nil
	case out.Error != "":
		return "", &resultError{msg: "inference failed: " + out.Error}
	default:
		return "", &resultError{msg: "no response received from the model"}
	}
}

// SubmitGenerate starts an inference job on a model.
func (s *Session) SubmitGenerate(ctx context.Context, req types.GenerateRequest) (types.Job, error) {
	req, err := NormalizeGenerate(req)
	if err != nil {
		return types.Job{}, err
	}
	return s.start(ctx, s.poller, types.JobGenerate, client.EndpointGenerate, req, func(res json.RawMessage) error {
		_, err := GenerateText(res)
		return err
	})
}

// resultError marks a SUCCESS payload that carries no usable result.
type resultError struct{ msg string }

func (e *resultError) Error() string { return e.msg }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
