package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, NodeConfig{}, cfg.Node)
	assert.NotEqual(t, RootCauseConfig{}, cfg.RootCause)
	assert.NotEqual(t, EscrowConfig{}, cfg.Escrow)
	assert.NotEqual(t, MeshConfig{}, cfg.Mesh)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 1024, cfg.MaxConnections)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.False(t, cfg.JWT.Enabled())
}

func TestDefaultEscrowConfig(t *testing.T) {
	cfg := DefaultEscrowConfig()
	assert.Equal(t, "memory", cfg.Backend)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.RequireBond)
	assert.Equal(t, 0.01, cfg.MinBondUSD)
	assert.Equal(t, 0.5, cfg.BondMultiplier)
	assert.Equal(t, 0.5, cfg.ViolationPct)
	assert.Equal(t, 0.25, cfg.TimeoutPct)
}

func TestDefaultInboxConfig(t *testing.T) {
	cfg := DefaultInboxConfig()
	assert.Equal(t, 64, cfg.MaxPendingTasks)
	assert.Equal(t, 10*time.Minute, cfg.NonceTTL)
	assert.Equal(t, "memory", cfg.NonceStore)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.NoError(t, cfg.Config.Validate())
}

func TestDefaultMeshConfig(t *testing.T) {
	cfg := DefaultMeshConfig()
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.SuspectAfter)
	assert.Equal(t, 6, cfg.UnreachableAfter)
	assert.Equal(t, 10*time.Second, cfg.Transport.RequestTimeout)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, "", cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "swarm", cfg.User)
	assert.Equal(t, "swarm", cfg.Name)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "swarmd", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.SampleRate)
}
