package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), "", envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
	require.Equal(t, zerolog.InfoLevel, cfg.Level())
	require.Error(t, cfg.RequireCredentials())
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slotwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_key: file-key
client_id: file-client
monitor:
  order_ids: [1, 2]
  rps: 2
  comparison_key: from-file
  min_cycle_interval: 3s
  restart_every: 10m
ops_addr: ":9090"
`), 0o644))

	env := envconfig.MapLookuper(map[string]string{
		"SLOTWATCH_API_KEY":         "env-key",
		"SLOTWATCH_ORDER_IDS":       "52680953,52679582",
		"SLOTWATCH_RPS":             "4",
		"SLOTWATCH_ALLOWED_ORIGINS": "http://localhost:3000,https://ops.example",
		"SLOTWATCH_LOG_LEVEL":       "debug",
	})

	cfg, err := LoadWith(context.Background(), path, env)
	require.NoError(t, err)

	require.Equal(t, "env-key", cfg.APIKey)
	require.Equal(t, "file-client", cfg.ClientID)
	require.NoError(t, cfg.RequireCredentials())
	require.Equal(t, []int64{52680953, 52679582}, cfg.Monitor.OrderIDs)
	require.Equal(t, 4.0, cfg.Monitor.RPS)
	require.Equal(t, "from-file", cfg.Monitor.ComparisonKey)
	require.Equal(t, 3*time.Second, cfg.Monitor.MinCycleInterval)
	require.Equal(t, 10*time.Minute, cfg.Monitor.RestartEvery)
	require.Equal(t, 3, cfg.Monitor.MaxFailures)
	require.Equal(t, ":9090", cfg.OpsAddr)
	require.Equal(t, []string{"http://localhost:3000", "https://ops.example"}, cfg.AllowedOrigins)
	require.Equal(t, zerolog.DebugLevel, cfg.Level())

	mc := cfg.MonitorConfig(cfg.Monitor.OrderIDs)
	require.Equal(t, "from-file", mc.ComparisonKey)
	require.Equal(t, "52680953-52679582", mc.CorrelationID())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "negative rps", env: map[string]string{"SLOTWATCH_RPS": "-1"}},
		{name: "bad rps", env: map[string]string{"SLOTWATCH_RPS": "fast"}},
		{name: "negative pick", env: map[string]string{"SLOTWATCH_PICK": "-3"}},
		{name: "bad order id", env: map[string]string{"SLOTWATCH_ORDER_IDS": "1,-2"}},
		{name: "bad level", env: map[string]string{"SLOTWATCH_LOG_LEVEL": "loud"}},
		{name: "bad format", env: map[string]string{"SLOTWATCH_LOG_FORMAT": "xml"}},
		{name: "bad duration", env: map[string]string{"SLOTWATCH_RESTART_EVERY": "soon"}},
		{name: "bad yaml", file: "monitor: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "cfg.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o644))
			}
			env := tt.env
			if env == nil {
				env = map[string]string{}
			}
			_, err := LoadWith(context.Background(), path, envconfig.MapLookuper(env))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWith(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), envconfig.MapLookuper(nil))
	require.Error(t, err)
}
