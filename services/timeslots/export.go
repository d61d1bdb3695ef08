package timeslots

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"slotwatch/pkg/render"
)

// Export is a one-shot snapshot of diff entries written on request.
type Export struct {
	ID        string      `yaml:"id"`
	CreatedAt time.Time   `yaml:"created_at"`
	Key       string      `yaml:"key,omitempty"`
	Entries   []DiffEntry `yaml:"entries"`
}

// NewExport wraps entries with a fresh export id.
func NewExport(key string, entries []DiffEntry, now time.Time) Export {
	return Export{
		ID:        uuid.NewString(),
		CreatedAt: now.UTC().Truncate(time.Second),
		Key:       key,
		Entries:   entries,
	}
}

// WriteExport writes exp to path. The format follows the extension: ".md"
// renders Markdown, ".yaml" or ".yml" writes YAML. A trailing ".zst"
// compresses the output with zstd.
func WriteExport(path string, exp Export) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("export path is required")
	}

	name := strings.ToLower(filepath.Base(path))
	compress := strings.HasSuffix(name, ".zst")
	name = strings.TrimSuffix(name, ".zst")

	var encode func(io.Writer, Export) error
	switch ext := filepath.Ext(name); ext {
	case ".md":
		encode = func(w io.Writer, exp Export) error { return render.History(w, exp) }
	case ".yaml", ".yml":
		encode = encodeYAML
	default:
		return fmt.Errorf("unsupported export format %q", ext)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer file.Close()

	if !compress {
		if err := encode(file, exp); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		return file.Close()
	}

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := encode(encoder, exp); err != nil {
		encoder.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	return file.Close()
}

func encodeYAML(w io.Writer, exp Export) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(exp); err != nil {
		return err
	}
	return enc.Close()
}

// Recorder keeps the most recent entries delivered to it, independent of the
// engine's per-key memory, so they survive a monitor stopping. Pass Handle to
// Engine.Subscribe.
type Recorder struct {
	mu      sync.Mutex
	entries *ring
}

// NewRecorder keeps at most limit entries; zero or less keeps all.
func NewRecorder(limit int) *Recorder {
	return &Recorder{entries: newRing(limit)}
}

// Handle stores e.
func (r *Recorder) Handle(e DiffEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.push(e)
}

// Entries returns the stored entries, oldest first.
func (r *Recorder) Entries() []DiffEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.snapshot()
}

// Len reports how many entries are stored.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.len()
}
