package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskState is the lifecycle state reported by the remote task endpoint.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

// Terminal reports whether no further polling is needed. Unknown states
// (e.g. STARTED, RETRY) are treated as still running.
func (s TaskState) Terminal() bool { return s == TaskSuccess || s == TaskFailure }

// TaskStatus is returned by GET /tasks/{id}.
type TaskStatus struct {
	Status TaskState       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// FailureReason extracts a human readable reason from a FAILURE result.
func (s TaskStatus) FailureReason() string {
	if len(s.Result) == 0 || string(s.Result) == "null" {
		return "Task failed"
	}
	var str string
	if err := json.Unmarshal(s.Result, &str); err == nil {
		if str == "" {
			return "Task failed"
		}
		return str
	}
	return string(s.Result)
}

// SubmitResponse is the body returned by the enqueueing endpoints.
type SubmitResponse struct {
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WireBlock serializes a Block as the positional [layer, model, weight]
// tuple the remote merge endpoint expects.
type WireBlock Block

func (b WireBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{b.SourceLayer, b.SourceModel, b.Weight})
}

func (b *WireBlock) UnmarshalJSON(data []byte) error {
	var tuple []float64
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 3 {
		return fmt.Errorf("block: want 3 elements, got %d", len(tuple))
	}
	b.SourceLayer = int(tuple[0])
	b.SourceModel = int(tuple[1])
	b.Weight = tuple[2]
	return nil
}

// MergeRequest is the body of POST /merge.
type MergeRequest struct {
	Model1Name       string        `json:"model1_name"`
	Model2Name       string        `json:"model2_name"`
	LayerRecipe      [][]WireBlock `json:"layer_recipe"`
	EmbeddingLambdas WeightPair    `json:"embedding_lambdas"`
	LinearLambdas    WeightPair    `json:"linear_lambdas"`
	MergedName       string        `json:"merged_name"`
}

// NewMergeRequest converts a recipe to its wire form.
func NewMergeRequest(r Recipe) MergeRequest {
	layers := make([][]WireBlock, len(r.Layers))
	for i, l := range r.Layers {
		wl := make([]WireBlock, len(l))
		for j, b := range l {
			wl[j] = WireBlock(b)
		}
		layers[i] = wl
	}
	return MergeRequest{
		Model1Name:       r.Model1Name,
		Model2Name:       r.Model2Name,
		LayerRecipe:      layers,
		EmbeddingLambdas: r.EmbeddingWeights,
		LinearLambdas:    r.LinearWeights,
		MergedName:       r.MergedName,
	}
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	// Model to run.
	// example: svamp
	ModelName string `json:"model_name" example:"svamp"`
	// Prompt text.
	// example: A spider has 8 legs. How many legs do 2 spiders have?
	Prompt string `json:"prompt"`
	// Maximum number of new tokens (1–1024).
	// example: 512
	MaxNewTokens int `json:"max_new_tokens" example:"512"`
	// Sampling temperature (0.1–2.0).
	// example: 0.7
	Temperature float64 `json:"temperature" example:"0.7"`
}

// GenerateResult is the SUCCESS payload of an inference task.
type GenerateResult struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobKind identifies what a panel job submitted.
type JobKind string

const (
	JobListModels JobKind = "list_models"
	JobMerge      JobKind = "merge"
	JobGenerate   JobKind = "generate"
)

// JobState is the panel-side state of a submitted job.
type JobState string

const (
	JobPending  JobState = "pending"
	JobSuccess  JobState = "success"
	JobFailure  JobState = "failure"
	JobCanceled JobState = "canceled"
)

// Job tracks one submit-and-poll chain started by the panel.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	State       JobState        `json:"state"`
	TaskID      string          `json:"task_id,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// PanelState is the snapshot returned by GET /api/state.
type PanelState struct {
	Models       []string    `json:"models"`
	OutputLayers int         `json:"output_layers"`
	Recipe       Recipe      `json:"recipe"`
	LayerCounts  LayerCounts `json:"layer_counts"`
	// Sum of block weights per layer, as a fraction.
	LayerTotals []float64 `json:"layer_totals"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SelectionRequest is the body of PUT /api/selection.
type SelectionRequest struct {
	Model1 string `json:"model1" example:"svamp"`
	Model2 string `json:"model2" example:"tinystories"`
}

// CountRequest carries a positive count (output layers, model layers).
type CountRequest struct {
	Count int `json:"count" example:"12"`
}

// NameRequest is the body of PUT /api/merged-name.
type NameRequest struct {
	Name string `json:"name" example:"merged"`
}

// WeightRequest sets one entry of a blend pair, as a percentage.
type WeightRequest struct {
	Index   int     `json:"index" example:"0"`
	Percent float64 `json:"percent" example:"50"`
}

// BlockUpdateRequest is the body of PATCH /api/recipe/layers/{layer}/blocks/{block}.
// Field is one of model, sourceLayer, percentage.
type BlockUpdateRequest struct {
	Field string  `json:"field" example:"percentage"`
	Value float64 `json:"value" example:"40"`
}

// ModelLayers reports the stored layer count of a model.
type ModelLayers struct {
	Model  string     `json:"model"`
	Layers LayerCount `json:"layers" swaggertype:"string" example:"24"`
}

// ModelsResponse lists the model names known to the panel.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// JobsResponse lists tracked jobs, oldest first.
type JobsResponse struct {
	Jobs []Job `json:"jobs"`
}
