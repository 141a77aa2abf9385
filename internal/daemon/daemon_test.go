package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unstuckgg/voicegate/internal/config"
	"github.com/unstuckgg/voicegate/internal/logger"
)

// createTestDaemon creates a daemon bound to an ephemeral port with a
// temporary transcript store
func createTestDaemon(t *testing.T) (*Daemon, *logger.Logger) {
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Upstream.OpenAI.APIKey = "sk-test-key"
	cfg.Store.Path = filepath.Join(tmpDir, "transcripts.db")

	logCfg := logger.Config{
		Level:   "info",
		Console: false,
	}
	log, err := logger.New(logCfg)
	require.NoError(t, err)

	daemon, err := New(cfg, log)
	require.NoError(t, err)

	return daemon, log
}

func TestNew(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	assert.NotNil(t, daemon)
	assert.NotNil(t, daemon.personas)
	assert.NotNil(t, daemon.store)
	assert.NotNil(t, daemon.sessions)
	assert.NotNil(t, daemon.runner)
	assert.NotNil(t, daemon.gatewayServer)
	assert.NotNil(t, daemon.maintenance)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Upstream.OpenAI.APIKey = "sk-test-key"
	cfg.Upstream.Provider = "bogus"

	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create reply generator")
}

func TestDaemonStartStop(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	err := daemon.Start()
	require.NoError(t, err)

	status := daemon.Status()
	assert.True(t, status.Running)

	// Starting twice is an error
	err = daemon.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	time.Sleep(100 * time.Millisecond)

	err = daemon.Stop()
	require.NoError(t, err)

	status = daemon.Status()
	assert.False(t, status.Running)

	// Stopping twice is an error
	err = daemon.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestDaemonStatus(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	status := daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	err := daemon.Start()
	require.NoError(t, err)
	defer daemon.Stop()

	time.Sleep(100 * time.Millisecond)
	status = daemon.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
}

func TestDaemonMaintenanceJobs(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	err := daemon.Start()
	require.NoError(t, err)
	defer daemon.Stop()

	// Both jobs are registered and runnable on demand
	require.NoError(t, daemon.maintenance.RunNow("sweep_idle_connections"))
	require.NoError(t, daemon.maintenance.RunNow("prune_transcripts"))
}

func TestDaemonWithoutStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Upstream.OpenAI.APIKey = "sk-test-key"

	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)
	defer log.Close()

	daemon, err := New(cfg, log)
	require.NoError(t, err)

	// No store, no prune job
	err = daemon.maintenance.RunNow("prune_transcripts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, daemon.maintenance.RunNow("sweep_idle_connections"))
}

func TestDaemonGetters(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	assert.NotNil(t, daemon.GetConfig())
	assert.NotNil(t, daemon.GetLogger())
	assert.NotNil(t, daemon.GetGatewayServer())
	assert.NotNil(t, daemon.GetSessionRegistry())
	assert.NotNil(t, daemon.GetMaintenanceService())
	assert.NotNil(t, daemon.GetPersonaProvider())
}
