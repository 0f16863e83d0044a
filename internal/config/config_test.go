package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "htmlgrader.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// readValid mirrors the command: Read, then Validate.
func readValid(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func TestRead_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("DSN", "")

	cfg, err := readValid("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Zero(t, cfg.Fetch.Timeout, "no timeout unless configured")
}

func TestRead_File(t *testing.T) {
	t.Setenv("DSN", "")

	p := writeConfig(t, `
fetch:
  timeout: 20s
  user_agent: grading-bot/2
store:
  kind: sqlite
  dsn: file:grades.db
metrics:
  backend: datadog
  tags: [env:ci, course:web101]
  flush_every: 30s
`)

	cfg, err := readValid(p)
	require.NoError(t, err)
	require.Equal(t, 20*time.Second, cfg.Fetch.Timeout)
	require.Equal(t, "grading-bot/2", cfg.Fetch.UserAgent)
	require.Equal(t, Store{Kind: "sqlite", DSN: "file:grades.db"}, cfg.Store)
	require.Equal(t, "datadog", cfg.Metrics.Backend)
	require.Equal(t, "htmlgrader", cfg.Metrics.JobName, "default job name survives partial metrics block")
	require.Equal(t, []string{"env:ci", "course:web101"}, cfg.Metrics.Tags)
	require.Equal(t, 30*time.Second, cfg.Metrics.FlushEvery)
}

func TestRead_EnvDSNOverridesFile(t *testing.T) {
	t.Setenv("DSN", "postgres://u:p@db:5432/grades")

	p := writeConfig(t, "store:\n  kind: postgres\n  dsn: postgres://localhost/other\n")
	cfg, err := readValid(p)
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@db:5432/grades", cfg.Store.DSN)
}

func TestRead_Invalid(t *testing.T) {
	t.Setenv("DSN", "")

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{name: "unknown_store", body: "store:\n  kind: oracle\n  dsn: x\n", msg: `store.kind "oracle"`},
		{name: "store_without_dsn", body: "store:\n  kind: sqlite\n", msg: "requires a dsn"},
		{name: "unknown_metrics", body: "metrics:\n  backend: statsd\n", msg: `metrics.backend "statsd"`},
		{name: "bad_yaml", body: "fetch: [", msg: "parse config"},
		{name: "bad_duration", body: "fetch:\n  timeout: soon\n", msg: "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readValid(writeConfig(t, tt.body))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRead_MissingFile(t *testing.T) {
	_, err := readValid(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}

// TestRead_SkipsValidation verifies an incomplete store section can be
// completed by the caller before validating.
func TestRead_SkipsValidation(t *testing.T) {
	t.Setenv("DSN", "")
	p := writeConfig(t, "store:\n  kind: sqlite\n")

	cfg, err := Read(p)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Store.Kind)
	require.ErrorContains(t, cfg.Validate(), "requires a dsn")

	cfg.Store.DSN = "file:grades.db"
	require.NoError(t, cfg.Validate())
}
