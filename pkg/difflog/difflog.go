// Package difflog appends human readable change lines to a file or writer.
package difflog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// WriterSink prefixes every line with a UTC timestamp and writes it to out.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewWriterSink returns a sink writing to out.
func NewWriterSink(out io.Writer) *WriterSink {
	return &WriterSink{out: out, now: time.Now}
}

// Append writes one line.
func (s *WriterSink) Append(line string) error {
	if s == nil || s.out == nil {
		return errors.New("difflog: nil sink")
	}
	line = strings.TrimRight(line, "\n")
	entry := fmt.Sprintf("[%s] %s\n", s.now().UTC().Format(time.RFC3339Nano), line)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, entry)
	return err
}

// FileSink appends lines to a file. Existing content is never truncated.
type FileSink struct {
	*WriterSink
	file *os.File
}

// NewFileSink opens path for appending, creating it and its directory when
// needed.
func NewFileSink(path string) (*FileSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("difflog: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("difflog: create dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("difflog: open %s: %w", path, err)
	}
	return &FileSink{WriterSink: NewWriterSink(file), file: file}, nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
