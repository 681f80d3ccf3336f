package hints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"evopanel/internal/common/fsutil"
)

// Backend persists hint entries keyed by Key(model).
type Backend interface {
	Load() (map[string]int, error)
	Save(map[string]int) error
}

// Watcher is implemented by backends that can report external changes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// MemoryBackend keeps entries for the lifetime of the process.
type MemoryBackend struct {
	mu   sync.Mutex
	vals map[string]int
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{vals: map[string]int{}} }

func (b *MemoryBackend) Load() (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copyMap(b.vals), nil
}

func (b *MemoryBackend) Save(vals map[string]int) error {
	b.mu.Lock()
	b.vals = copyMap(vals)
	b.mu.Unlock()
	return nil
}

// FileBackend stores entries as a JSON object in a single file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for path; '~' is expanded.
func NewFileBackend(path string) (*FileBackend, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, errors.New("empty hints path")
	}
	return &FileBackend{path: filepath.Clean(p)}, nil
}

// Path returns the resolved file path.
func (b *FileBackend) Path() string { return b.path }

// Load returns an empty map when the file does not exist yet.
func (b *FileBackend) Load() (map[string]int, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, err
	}
	vals := map[string]int{}
	if len(data) == 0 {
		return vals, nil
	}
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	if vals == nil {
		vals = map[string]int{}
	}
	return vals, nil
}

func (b *FileBackend) Save(vals map[string]int) error {
	data, err := json.MarshalIndent(vals, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(b.path, data, 0o644)
}

// Watch invokes onChange after the file is written, created or replaced. The
// parent directory is watched because atomic saves replace the file.
func (b *FileBackend) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != b.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", b.path, err)
		}
	}
}

func copyMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
