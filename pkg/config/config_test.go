package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv()
	require.Equal(t, "http://localhost:19071", cfg.Store.ConfigURL)
	require.Equal(t, 10, cfg.Store.FeedConcurrency)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_OverrideFromEnvVar(t *testing.T) {
	t.Setenv("MARQO_FEED_CONCURRENCY", "25")
	t.Setenv("MARQO_FEED_TIMEOUT", "90s")
	cfg := LoadFromEnv()
	require.Equal(t, 25, cfg.Store.FeedConcurrency)
	require.Equal(t, 90*time.Second, cfg.Store.FeedTimeout)
}

func TestValidate_RejectsInvalidConfig(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.Store.ConfigURL = ""
	require.Error(t, cfg.Validate())
}

func TestLoadFromEnv_YAMLOverridesBuiltinDefault(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "marqo-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("store:\n  configUrl: http://from-yaml:19071\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("MARQO_CONFIG_FILE", f.Name())
	cfg := LoadFromEnv()
	// no MARQO_VESPA_CONFIG_URL is set, so the YAML value wins over the
	// hardcoded built-in default.
	require.Equal(t, "http://from-yaml:19071", cfg.Store.ConfigURL)
}

func TestLoadFromEnv_EnvVarOverridesYAML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "marqo-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("store:\n  configUrl: http://from-yaml:19071\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("MARQO_CONFIG_FILE", f.Name())
	t.Setenv("MARQO_VESPA_CONFIG_URL", "http://from-env:19071")
	cfg := LoadFromEnv()
	require.Equal(t, "http://from-env:19071", cfg.Store.ConfigURL)
}
