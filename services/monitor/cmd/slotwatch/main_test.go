package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"slotwatch/services/monitor/internal/config"
)

func TestWatchFlagsOverrideConfig(t *testing.T) {
	flags := &watchFlags{}
	cmd := &cobra.Command{Use: "watch"}
	flags.bind(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--ids", "1,2", "--rps", "2", "--restart-every", "1m"}))

	cfg := config.Defaults()
	cfg.Monitor.From = "2024-01-01T00:00:00Z"
	got := flags.apply(cmd, cfg)

	require.Equal(t, []int64{1, 2}, got.Monitor.OrderIDs)
	require.Equal(t, 2.0, got.Monitor.RPS)
	require.Equal(t, time.Minute, got.Monitor.RestartEvery)
	require.Equal(t, "2024-01-01T00:00:00Z", got.Monitor.From, "unset flags keep config values")
	require.Equal(t, cfg.Monitor.ComparisonKey, got.Monitor.ComparisonKey)
}

func TestPrintEntry(t *testing.T) {
	var buf bytes.Buffer
	data := []byte(`{"id":"1-2","key":"k","timestamp":"2024-01-01T09:00:00Z","added":[{"from":"a","to":"b"}],"removed":[{"from":"c","to":"d"}]}`)
	require.NoError(t, printEntry(&buf, data))
	require.Equal(t, "2024-01-01T09:00:00Z [k] ID=1-2 + a .. b\n2024-01-01T09:00:00Z [k] ID=1-2 - c .. d\n", buf.String())

	require.Error(t, printEntry(&buf, []byte("{")))
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"orders", "slots", "watch", "tail"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}
}
