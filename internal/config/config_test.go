package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_Env(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"HTTP_PORT":            "9090",
		"APP_HOST":             "http://flowcase:9090/",
		"STORE":                "MEMORY",
		"DEFAULT_TASK_TIMEOUT": "45",
		"WATCHDOG_INTERVAL":    "2m",
		"TICK_WORKERS":         "8",
		"CRON_ENABLED":         "false",
		"WORKER_API_KEY":       "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "http://flowcase:9090", cfg.AppHost)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 45*time.Second, cfg.DefaultTaskTimeout)
	assert.Equal(t, 2*time.Minute, cfg.WatchdogInterval)
	assert.Equal(t, 8, cfg.TickWorkers)
	assert.False(t, cfg.CronEnabled)
	assert.Equal(t, "secret", cfg.WorkerAPIKey)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowcase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
httpPort: "7000"
store: memory
archiveUrl: mem://
defaultTaskTimeout: 10s
flowsDir: /etc/flowcase/flows
`), 0o600))

	cfg, err := load(lookupMap(map[string]string{
		EnvFile:     path,
		"HTTP_PORT": "7001",
	}))
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.HTTPPort)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "mem://", cfg.ArchiveURL)
	assert.Equal(t, 10*time.Second, cfg.DefaultTaskTimeout)
	assert.Equal(t, "/etc/flowcase/flows", cfg.FlowsDir)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad bool", map[string]string{"CRON_ENABLED": "maybe"}},
		{"bad int", map[string]string{"TICK_WORKERS": "many"}},
		{"bad duration", map[string]string{"WATCHDOG_INTERVAL": "soon"}},
		{"unknown store", map[string]string{"STORE": "redis"}},
		{"zero workers", map[string]string{"TICK_WORKERS": "0"}},
		{"short timeout", map[string]string{"DEFAULT_TASK_TIMEOUT": "100ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(lookupMap(tt.env))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(lookupMap(map[string]string{EnvFile: filepath.Join(t.TempDir(), "missing.yaml")}))
	require.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("FLOWCASE_TEST_STR", "x")
	t.Setenv("FLOWCASE_TEST_INT", "12")
	t.Setenv("FLOWCASE_TEST_BOOL", "true")

	assert.Equal(t, "x", Env("FLOWCASE_TEST_STR", "d"))
	assert.Equal(t, "d", Env("FLOWCASE_TEST_NONE", "d"))
	assert.Equal(t, 12, EnvInt("FLOWCASE_TEST_INT", 1))
	assert.Equal(t, 1, EnvInt("FLOWCASE_TEST_STR", 1))
	assert.True(t, EnvBool("FLOWCASE_TEST_BOOL", false))
	assert.False(t, EnvBool("FLOWCASE_TEST_NONE", false))
}
