// =============================================================================
// 📦 AgentSwarm 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/authority"
	"github.com/BaSui01/agentswarm/swarm/distributor"
	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/inbox"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/rootcause"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Node:        DefaultNodeConfig(),
		Distributor: distributor.DefaultConfig(),
		Authority:   authority.DefaultConfig(),
		Auction:     auction.DefaultConfig(),
		RootCause:   DefaultRootCauseConfig(),
		Escrow:      DefaultEscrowConfig(),
		Reputation:  ReputationConfig{Store: "memory"},
		Contracts:   ContractsConfig{Store: "memory", Retention: 24 * time.Hour},
		Inbox:       DefaultInboxConfig(),
		Mesh:        DefaultMeshConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  1024,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultNodeConfig 返回默认节点配置
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		DisplayName: "swarm-node",
		APIURL:      "http://localhost:8080",
	}
}

// DefaultRootCauseConfig 返回默认根因分析配置
func DefaultRootCauseConfig() RootCauseConfig {
	return RootCauseConfig{
		Config:         rootcause.DefaultConfig(),
		DetectorConfig: rootcause.DefaultDetectorConfig(),
	}
}

// DefaultEscrowConfig 返回默认保证金配置
func DefaultEscrowConfig() EscrowConfig {
	return EscrowConfig{
		Backend:          "memory",
		Enabled:          true,
		InitialCreditUSD: 100,
		KeyPrefix:        "swarm:escrow",
		BondTTL:          24 * time.Hour,
		Sizing:           escrow.DefaultSizing(),
		SlashPolicy:      escrow.DefaultSlashPolicy(),
	}
}

// DefaultInboxConfig 返回默认收件箱配置
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		Config:        inbox.DefaultConfig(),
		NonceStore:    "memory",
		SweepInterval: time.Minute,
	}
}

// DefaultMeshConfig 返回默认 mesh 配置
func DefaultMeshConfig() MeshConfig {
	return MeshConfig{
		DirectoryConfig: mesh.DefaultDirectoryConfig(),
		Transport:       mesh.DefaultTransportConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "swarm",
		Password:        "",
		Name:            "swarm",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "swarmd",
		SampleRate:   0.1,
	}
}
