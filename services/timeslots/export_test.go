package timeslots

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleExport() Export {
	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return NewExport("k", []DiffEntry{{
		ID:        "52680953-52679582",
		Key:       "k",
		Timestamp: ts,
		Added:     []TimeSlot{{From: "2024-01-01T10:00:00Z", To: "2024-01-01T12:00:00Z"}},
		Removed:   []TimeSlot{},
	}}, ts)
}

func TestWriteExportYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.yaml")
	exp := sampleExport()
	require.NoError(t, WriteExport(path, exp))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded struct {
		ID      string `yaml:"id"`
		Key     string `yaml:"key"`
		Entries []struct {
			ID    string              `yaml:"id"`
			Added []map[string]string `yaml:"added"`
		} `yaml:"entries"`
	}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	require.Equal(t, exp.ID, decoded.ID)
	require.Equal(t, "k", decoded.Key)
	require.Len(t, decoded.Entries, 1)
	require.Equal(t, "2024-01-01T10:00:00Z", decoded.Entries[0].Added[0]["from"])
}

func TestWriteExportMarkdownCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.md.zst")
	require.NoError(t, WriteExport(path, sampleExport()))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	dec, err := zstd.NewReader(file)
	require.NoError(t, err)
	defer dec.Close()

	buf, err := io.ReadAll(dec)
	require.NoError(t, err)
	out := string(buf)
	require.Contains(t, out, "# Timeslot monitoring history")
	require.Contains(t, out, "## Entry 1")
	require.Contains(t, out, "Order IDs: 52680953-52679582")
	require.Contains(t, out, `"from": "2024-01-01T10:00:00Z"`)
}

func TestWriteExportRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	require.EqualError(t, WriteExport(path, sampleExport()), `unsupported export format ".csv"`)
	require.NoFileExists(t, path)

	require.Error(t, WriteExport(" ", sampleExport()))
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(2)
	e := NewEngine()
	sub := e.Subscribe(r.Handle)
	defer sub.Unsubscribe()

	for _, from := range []string{"a", "b", "c"} {
		_, err := e.Diff(&Response{Timeslots: []TimeSlot{{From: from, To: "z"}}}, "k", from)
		require.NoError(t, err)
	}
	e.Forget("k")

	require.Equal(t, 2, r.Len())
	entries := r.Entries()
	require.Equal(t, "b", entries[0].ID)
	require.Equal(t, "c", entries[1].ID)
}
