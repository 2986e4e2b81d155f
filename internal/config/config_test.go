package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/turkanime/internal/solver"
	"github.com/ytget/turkanime/origin/gateway"
)

func noEnv(string) (string, bool) { return "", false }

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, gateway.DefaultMirrors, cfg.Mirrors)
	assert.Equal(t, solver.Auto, cfg.SolverMode)
	assert.Equal(t, solver.DefaultURL, cfg.SolverURL)

	cfg.Mirrors[0] = "changed"
	assert.NotEqual(t, "changed", gateway.DefaultMirrors[0])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turkanime.env")
	content := `# resolver settings
TURKANIME_MIRRORS = "https://a.example/, https://b.example"
TURKANIME_SOLVER=force # always go through the solver
TURKANIME_RATE_LIMIT=3
TURKANIME_PROBE_TIMEOUT='5s'
TURKANIME_SOURCES_METHOD=get
TURKANIME_PROXY=
UNKNOWN_KEY=whatever
not a pair
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Default()
	require.NoError(t, cfg.readFile(path))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Mirrors)
	assert.Equal(t, solver.Force, cfg.SolverMode)
	assert.Equal(t, 3, cfg.RateLimit)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, "GET", cfg.SourcesMethod)
	assert.Empty(t, cfg.Proxy)
}

func TestLoadFile_InvalidValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(path, []byte("TURKANIME_SOLVER=sometimes\n"), 0o644))
	err := Default().readFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.env:1")
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Set(KeySolverURL, "http://file:8191/v1"))

	env := map[string]string{
		KeySolverURL:      "http://env:8191/v1",
		KeyRequestTimeout: "1d",
		KeyCacheDir:       "  ",
	}
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "http://env:8191/v1", cfg.SolverURL)
	assert.Equal(t, 24*time.Hour, cfg.RequestTimeout)
	assert.Empty(t, cfg.CacheDir)

	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.Equal(t, "http://env:8191/v1", cfg.SolverURL)
}

func TestSetRejectsBadNumbers(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Set(KeyRateLimit, "-1"))
	assert.Error(t, cfg.Set(KeyRateLimit, "fast"))
	assert.Error(t, cfg.Set(KeyProbeTimeout, "soon"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
