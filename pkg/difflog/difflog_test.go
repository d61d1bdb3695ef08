package difflog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriterSinkPrefixesTimestamp(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	sink.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600)) }

	require.NoError(t, sink.Append("memory for storing differences reset\n"))
	require.Equal(t, "[2024-01-01T09:00:00Z] memory for storing differences reset\n", buf.String())
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "changes.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append("first"))
	require.NoError(t, sink.Close())

	sink, err = NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append("second"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "existing", lines[0])
	require.True(t, strings.HasSuffix(lines[1], "] first"))
	require.True(t, strings.HasSuffix(lines[2], "] second"))
}

func TestNewFileSinkRequiresPath(t *testing.T) {
	_, err := NewFileSink("")
	require.Error(t, err)

	var nilSink *WriterSink
	require.Error(t, nilSink.Append("x"))

	var nilFile *FileSink
	require.NoError(t, nilFile.Close())
}
