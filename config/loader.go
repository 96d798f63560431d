// =============================================================================
// 📦 AgentSwarm 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("swarm.yaml").
//	    WithEnvPrefix("SWARM").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentswarm/internal/tlsutil"
	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/authority"
	"github.com/BaSui01/agentswarm/swarm/distributor"
	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/inbox"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/rootcause"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 swarmd 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Node 本节点身份与种子 peer
	Node NodeConfig `yaml:"node" env:"NODE"`

	// Distributor 委派策略与重试预算
	Distributor distributor.Config `yaml:"distributor" env:"DISTRIBUTOR"`

	// Authority 信任分级阈值
	Authority authority.Config `yaml:"authority" env:"AUTHORITY"`

	// Auction 拍卖参数
	Auction auction.Config `yaml:"auction" env:"AUCTION"`

	// RootCause 根因分析与异常检测
	RootCause RootCauseConfig `yaml:"root_cause" env:"ROOT_CAUSE"`

	// Escrow 保证金账本
	Escrow EscrowConfig `yaml:"escrow" env:"ESCROW"`

	// Reputation 声誉账本
	Reputation ReputationConfig `yaml:"reputation" env:"REPUTATION"`

	// Contracts 委派合约账本
	Contracts ContractsConfig `yaml:"contracts" env:"CONTRACTS"`

	// Inbox 本节点接收的委派与 RFQ
	Inbox InboxConfig `yaml:"inbox" env:"INBOX"`

	// Mesh peer 目录与传输
	Mesh MeshConfig `yaml:"mesh" env:"MESH"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 最大并发连接数
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 事件 WebSocket 允许的来源模式
	EventOrigins []string `yaml:"event_origins" env:"EVENT_ORIGINS"`
	// 每 IP 限流
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWT 运维 API 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
	// TLS 证书，cert_file 为空时使用明文 HTTP
	TLS tlsutil.Files `yaml:"tls" env:"TLS"`
}

// JWTConfig JWT 认证配置。Secret 与 PublicKey 均为空时关闭认证。
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了任一验证密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// NodeConfig 本节点配置
type NodeConfig struct {
	// 节点 ID，为空时启动时生成
	ID string `yaml:"id" env:"ID"`
	// 展示名称
	DisplayName string `yaml:"display_name" env:"DISPLAY_NAME"`
	// 对外 API 地址，peer 回调使用
	APIURL string `yaml:"api_url" env:"API_URL"`
	// 本节点能力
	Capabilities []string `yaml:"capabilities" env:"CAPABILITIES"`
	// swarm 共享令牌
	SwarmToken string `yaml:"swarm_token" env:"SWARM_TOKEN"`
	// ed25519 密钥文件，为空时使用临时密钥
	KeyFile string `yaml:"key_file" env:"KEY_FILE"`
	// 种子 peer 地址
	Peers []string `yaml:"peers" env:"PEERS"`
}

// Identity 构造本节点对外身份
func (n NodeConfig) Identity(version string) types.PeerIdentity {
	return types.PeerIdentity{
		NodeID:       n.ID,
		DisplayName:  n.DisplayName,
		APIURL:       strings.TrimRight(n.APIURL, "/"),
		Capabilities: append([]string(nil), n.Capabilities...),
		Version:      version,
	}
}

// RootCauseConfig 根因分析与异常检测配置
type RootCauseConfig struct {
	rootcause.Config         `yaml:",inline"`
	rootcause.DetectorConfig `yaml:",inline"`
}

// EscrowConfig 保证金配置
type EscrowConfig struct {
	// 后端: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 是否为委派持有保证金
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 无法持有保证金的 peer 是否跳过
	RequireBond bool `yaml:"require_bond" env:"REQUIRE_BOND"`
	// 新账户初始额度
	InitialCreditUSD float64 `yaml:"initial_credit_usd" env:"INITIAL_CREDIT_USD"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 已结算保证金保留时长
	BondTTL time.Duration `yaml:"bond_ttl" env:"BOND_TTL"`

	escrow.Sizing      `yaml:",inline"`
	escrow.SlashPolicy `yaml:",inline"`
}

// ReputationConfig 声誉配置
type ReputationConfig struct {
	// 存储: memory, database
	Store string `yaml:"store" env:"STORE"`
}

// ContractsConfig 合约配置
type ContractsConfig struct {
	// 存储: memory, database
	Store string `yaml:"store" env:"STORE"`
	// 已终止合约保留时长，0 表示不清理
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// InboxConfig 收件箱配置
type InboxConfig struct {
	inbox.Config `yaml:",inline"`
	// nonce 去重: memory, redis
	NonceStore string `yaml:"nonce_store" env:"NONCE_STORE"`
	// 过期清理间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// MeshConfig peer 目录与传输配置
type MeshConfig struct {
	mesh.DirectoryConfig `yaml:",inline"`
	Transport            mesh.TransportConfig `yaml:"transport" env:"TRANSPORT"`
	// 出站调用使用的 TLS 文件
	TLS tlsutil.Files `yaml:"tls" env:"TLS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SWARM",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段。
// 没有 env tag 的字段使用大写的 yaml 键名；inline 嵌入沿用父级前缀。
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !fieldType.IsExported() {
			continue
		}

		name, inline := envName(fieldType)
		if name == "-" {
			continue
		}

		if inline {
			if field.Kind() == reflect.Struct {
				if err := l.setFieldsFromEnv(field, prefix); err != nil {
					return err
				}
			}
			continue
		}
		if name == "" {
			continue
		}

		envKey := prefix + "_" + name

		// 如果是结构体（time.Duration 除外），递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// envName 返回字段的环境变量片段，以及是否按 inline 处理
func envName(f reflect.StructField) (string, bool) {
	if tag := f.Tag.Get("env"); tag != "" {
		return tag, false
	}
	yamlTag := f.Tag.Get("yaml")
	name, opts, _ := strings.Cut(yamlTag, ",")
	if name == "-" {
		return "-", false
	}
	if strings.Contains(opts, "inline") || (f.Anonymous && name == "") {
		return "", true
	}
	return strings.ToUpper(name), false
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	// 验证 swarm 组件
	if err := c.DistributorConfig().Validate(); err != nil {
		errs = append(errs, "distributor: "+err.Error())
	}
	if err := c.RootCause.Config.Validate(); err != nil {
		errs = append(errs, "root_cause: "+err.Error())
	}
	if c.RootCause.SpikeRatio <= 1 {
		errs = append(errs, "root_cause: spike_ratio must be greater than 1")
	}
	if c.Auction.BidDeadline <= 0 {
		errs = append(errs, "auction: bid_deadline must be positive")
	}
	if c.Auction.MinBidsToAward < 1 {
		errs = append(errs, "auction: min_bids_to_award must be at least 1")
	}
	if c.Escrow.MinBondUSD < 0 || c.Escrow.BondMultiplier < 0 {
		errs = append(errs, "escrow: bond sizing must be non-negative")
	}

	switch c.Escrow.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("escrow: unknown backend %q", c.Escrow.Backend))
	}
	switch c.Reputation.Store {
	case "memory", "database":
	default:
		errs = append(errs, fmt.Sprintf("reputation: unknown store %q", c.Reputation.Store))
	}

	switch c.Contracts.Store {
	case "memory", "database":
	default:
		errs = append(errs, fmt.Sprintf("contracts: unknown store %q", c.Contracts.Store))
	}
	if c.Contracts.Retention < 0 {
		errs = append(errs, "contracts: retention must not be negative")
	}
	if err := c.Inbox.Config.Validate(); err != nil {
		errs = append(errs, "inbox: "+err.Error())
	}
	switch c.Inbox.NonceStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("inbox: unknown nonce_store %q", c.Inbox.NonceStore))
	}
	if c.Inbox.SweepInterval <= 0 {
		errs = append(errs, "inbox: sweep_interval must be positive")
	}

	if c.Mesh.HeartbeatInterval <= 0 {
		errs = append(errs, "mesh: heartbeat_interval must be positive")
	}
	if c.Mesh.SuspectAfter < 1 || c.Mesh.UnreachableAfter <= c.Mesh.SuspectAfter {
		errs = append(errs, "mesh: unreachable_after must exceed suspect_after")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry: sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DistributorConfig 返回分发器配置。authority 与 escrow 段覆盖
// distributor 段内的同名设置。
func (c *Config) DistributorConfig() distributor.Config {
	d := c.Distributor
	d.Authority = c.Authority
	d.Bond = distributor.BondConfig{
		Enabled:  c.Escrow.Enabled,
		Required: c.Escrow.RequireBond,
		Sizing:   c.Escrow.Sizing,
		Slash:    c.Escrow.SlashPolicy,
	}
	return d
}

// RedisOptions 返回 Redis 保证金账本参数
func (c *Config) RedisOptions() escrow.RedisOptions {
	return escrow.RedisOptions{
		KeyPrefix:        c.Escrow.KeyPrefix,
		InitialCreditUSD: c.Escrow.InitialCreditUSD,
		BondTTL:          c.Escrow.BondTTL,
	}
}

// NeedsDatabase 是否有组件持久化到数据库
func (c *Config) NeedsDatabase() bool {
	return c.Reputation.Store == "database" || c.Contracts.Store == "database"
}

// NeedsRedis 是否有组件使用 Redis
func (c *Config) NeedsRedis() bool {
	return c.Escrow.Backend == "redis" || c.Inbox.NonceStore == "redis"
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
