package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func timeout(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(5 * time.Second)
}

func waitBriefly() { time.Sleep(500 * time.Millisecond) }

const testMaster = "0123456789abcdef0123456789abcdef"

func TestLoadDefaultsWithEnvMaster(t *testing.T) {
	t.Setenv("CREDPOOL_MASTER_KEY", testMaster)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8317, cfg.Port)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 15, cfg.ProbeTimeoutSec)
	require.Equal(t, 5, cfg.ImportConcurrency)
	require.Equal(t, 24*60, cfg.SweepCooldownMin)
	require.Equal(t, 30, cfg.SweepTimeoutMin)
}

func TestLoadRejectsShortMasterKey(t *testing.T) {
	t.Setenv("CREDPOOL_MASTER_KEY", "short")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "master_key")
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
master_key: "`+testMaster+`"
storage:
  backend: redis
  redis_addr: "localhost:6379"
sweep_cooldown_min: 60
probe_rate_per_sec: 2.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "redis", cfg.Storage.Backend)
	require.Equal(t, 60, cfg.SweepCooldownMin)
	require.Equal(t, 2.5, cfg.ProbeRatePerSec)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
master_key: "`+testMaster+`"
`), 0o644))

	t.Setenv("CREDPOOL_PORT", "9100")
	t.Setenv("CREDPOOL_LOG_LEVEL", "debug")
	t.Setenv("CREDPOOL_SWEEP_TIMEOUT_MIN", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 5, cfg.SweepTimeoutMin)
}

func TestValidateBackendRequirements(t *testing.T) {
	base := Default()
	base.MasterKey = testMaster

	pg := *base
	pg.Storage = StorageConfig{Backend: "postgres"}
	require.Error(t, pg.Validate())
	pg.Storage.PostgresDSN = "postgres://localhost/credpool"
	require.NoError(t, pg.Validate())

	mongo := *base
	mongo.Storage = StorageConfig{Backend: "mongodb"}
	require.Error(t, mongo.Validate())

	unknown := *base
	unknown.Storage = StorageConfig{Backend: "etcd"}
	require.Error(t, unknown.Validate())
}

func TestManagerReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(cooldown string) {
		require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
			`master_key: "` + testMaster + `"`,
			"sweep_cooldown_min: " + cooldown,
		}, "\n")), 0o644))
	}
	write("120")

	manager, err := NewManager(path)
	require.NoError(t, err)
	defer manager.Stop()
	require.Equal(t, 120, manager.Current().SweepCooldownMin)

	reloaded := make(chan *Config, 1)
	manager.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	write("240")
	select {
	case cfg := <-reloaded:
		require.Equal(t, 240, cfg.SweepCooldownMin)
		require.Equal(t, 240, manager.Current().SweepCooldownMin)
	case <-timeout(t):
		t.Fatal("config reload did not fire")
	}
}

func TestManagerKeepsPreviousConfigOnBrokenReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`master_key: "`+testMaster+`"`), 0o644))

	manager, err := NewManager(path)
	require.NoError(t, err)
	defer manager.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`master_key: "short"`), 0o644))
	// Give the watcher time to attempt the reload.
	waitBriefly()
	require.Equal(t, testMaster, manager.Current().MasterKey)
}
