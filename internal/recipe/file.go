package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"evopanel/internal/common/fsutil"
	"evopanel/pkg/types"
)

// Load reads a recipe file based on its extension (.yaml/.yml or .json).
func Load(path string) (types.Recipe, error) {
	var r types.Recipe
	if path == "" {
		return r, fmt.Errorf("empty recipe path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return r, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return r, err
	}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &r); err != nil {
			return r, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &r); err != nil {
			return r, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return r, fmt.Errorf("unsupported recipe extension: %s", ext)
	}
	return r, nil
}

// Save writes r to path in the format implied by its extension.
func Save(path string, r types.Recipe) error {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	var b []byte
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(r)
	case ".json":
		b, err = json.MarshalIndent(r, "", "  ")
	default:
		return fmt.Errorf("unsupported recipe extension: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("encode recipe: %w", err)
	}
	return fsutil.WriteFileAtomic(p, b, 0o644)
}
