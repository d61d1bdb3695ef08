package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type entry struct {
	ID        string
	Key       string
	Timestamp time.Time
	Added     []string
	Removed   []string
}

func TestHistory(t *testing.T) {
	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	data := struct {
		ID        string
		CreatedAt time.Time
		Key       string
		Entries   []entry
	}{
		ID:        "exp-1",
		CreatedAt: ts,
		Key:       "k",
		Entries:   []entry{{ID: "1-2", Key: "k", Timestamp: ts, Added: []string{"a"}, Removed: []string{}}},
	}

	var buf bytes.Buffer
	require.NoError(t, History(&buf, data))
	out := buf.String()
	require.Contains(t, out, "Export: exp-1")
	require.Contains(t, out, "Comparison key: k")
	require.Contains(t, out, "## Entry 1")
	require.Contains(t, out, "Added: 1, removed: 0")
}

func TestExecuteUnknownTemplate(t *testing.T) {
	tmpl, err := Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.EqualError(t, tmpl.Execute(&buf, "missing.tmpl", nil), `unknown template "missing.tmpl"`)

	var empty *Templates
	require.Error(t, empty.Execute(&buf, HistoryTemplate, nil))
}

func TestFuncs(t *testing.T) {
	inc := funcs["inc"].(func(int) int)
	require.Equal(t, 3, inc(2))

	toJSON := funcs["json"].(func(any) (string, error))
	out, err := toJSON(map[string]int{"a": 1})
	require.NoError(t, err)
	require.Contains(t, out, `"a": 1`)
}
