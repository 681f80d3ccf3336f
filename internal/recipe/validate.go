package recipe

import (
	"errors"
	"fmt"
	"strings"

	"evopanel/pkg/types"
)

// ValidationError reports client-side input problems caught before any
// network call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrLayerIndex is returned for a layer index outside the recipe.
	ErrLayerIndex = errors.New("layer index out of range")
	// ErrBlockIndex is returned for a block index outside its layer.
	ErrBlockIndex = errors.New("block index out of range")
)

// IsIndex reports whether err is a layer or block index error.
func IsIndex(err error) bool {
	return errors.Is(err, ErrLayerIndex) || errors.Is(err, ErrBlockIndex)
}

func checkLayer(r types.Recipe, layer int) error {
	if layer < 0 || layer >= len(r.Layers) {
		return fmt.Errorf("%w: %d (recipe has %d layers)", ErrLayerIndex, layer, len(r.Layers))
	}
	return nil
}

func checkBlock(r types.Recipe, layer, block int) error {
	if err := checkLayer(r, layer); err != nil {
		return err
	}
	if block < 0 || block >= len(r.Layers[layer]) {
		return fmt.Errorf("%w: %d (layer %d has %d blocks)", ErrBlockIndex, block, layer, len(r.Layers[layer]))
	}
	return nil
}

// Validate checks that r can be submitted for merging. Weight sums are not
// checked; they are reported by LayerTotal for display only.
func Validate(r types.Recipe) error {
	if r.Model1Name == "" || r.Model2Name == "" || len(r.Layers) == 0 {
		return &ValidationError{Msg: "please select both models and configure layer recipe"}
	}
	if strings.TrimSpace(r.MergedName) == "" {
		return &ValidationError{Field: "merged_name", Msg: "merged name is required"}
	}
	for i, l := range r.Layers {
		if len(l) == 0 {
			return &ValidationError{Field: fmt.Sprintf("layers[%d]", i), Msg: "layer has no blocks"}
		}
		for j, b := range l {
			field := fmt.Sprintf("layers[%d][%d]", i, j)
			if b.SourceModel != types.Model1 && b.SourceModel != types.Model2 {
				return &ValidationError{Field: field, Msg: "source model must be 0 or 1"}
			}
			if b.SourceLayer < 1 {
				return &ValidationError{Field: field, Msg: "source layer must be at least 1"}
			}
			if b.Weight < 0 {
				return &ValidationError{Field: field, Msg: "weight must not be negative"}
			}
		}
	}
	return nil
}
