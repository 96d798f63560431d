package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/agentswarm/api"
	"github.com/BaSui01/agentswarm/api/handlers"
	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/internal/cache"
	"github.com/BaSui01/agentswarm/internal/database"
	"github.com/BaSui01/agentswarm/internal/metrics"
	"github.com/BaSui01/agentswarm/internal/server"
	"github.com/BaSui01/agentswarm/internal/telemetry"
	"github.com/BaSui01/agentswarm/internal/tlsutil"
	"github.com/BaSui01/agentswarm/swarm/attestation"
	"github.com/BaSui01/agentswarm/swarm/auction"
	"github.com/BaSui01/agentswarm/swarm/contract"
	"github.com/BaSui01/agentswarm/swarm/distributor"
	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/swarm/inbox"
	"github.com/BaSui01/agentswarm/swarm/mesh"
	"github.com/BaSui01/agentswarm/swarm/reputation"
	"github.com/BaSui01/agentswarm/swarm/rootcause"
	"github.com/BaSui01/agentswarm/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 swarmd 的主服务器，持有节点的全部 swarm 组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 指标命名空间，测试中按实例区分
	namespace string

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 外部依赖
	telemetry   *telemetry.Providers
	db          *database.PoolManager
	cache       *cache.Manager
	storeChecks []handlers.HealthCheck

	// swarm 组件
	identity    types.PeerIdentity
	bus         *events.Bus
	stream      *events.Stream
	collector   *metrics.Collector
	node        *mesh.Node
	reputation  *reputation.Ledger
	contracts   *contract.Ledger
	escrow      escrow.Ledger
	auction     *auction.Auction
	distributor *distributor.Distributor
	inbox       *inbox.Inbox
	health      *handlers.HealthHandler

	// 后台任务
	runCancel context.CancelFunc
	group     *errgroup.Group

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	shutdownOnce sync.Once
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		namespace: "swarm",
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 构建组件、启动后台任务与 HTTP 服务
func (s *Server) Start(ctx context.Context) error {
	if err := s.build(ctx); err != nil {
		return err
	}

	s.startBackground(ctx)

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("node_id", s.identity.NodeID),
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("seed_peers", len(s.cfg.Node.Peers)),
	)
	return nil
}

// build 创建全部 swarm 组件，不监听端口
func (s *Server) build(ctx context.Context) error {
	nodeID := s.cfg.Node.ID
	if nodeID == "" {
		nodeID = uuid.NewString()
		s.logger.Warn("node id not configured, generated one for this run", zap.String("node_id", nodeID))
	}
	token := s.cfg.Node.SwarmToken
	if token == "" {
		s.logger.Warn("swarm token not configured, peer API is unauthenticated")
	}

	// 1. 签名密钥
	keys, ephemeral, err := attestation.LoadOrGenerate(s.cfg.Node.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if ephemeral {
		s.logger.Warn("using an ephemeral signing key, attestations will not survive a restart")
	}
	signer := attestation.NewSigner(nodeID, keys, token)

	s.identity = s.cfg.Node.Identity(Version)
	s.identity.NodeID = nodeID
	s.identity.PublicKey = signer.PublicKeyHex()

	// 2. 遥测与事件
	s.telemetry, err = telemetry.Init(s.cfg.Telemetry, s.identity, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.collector = metrics.NewCollector(s.namespace, s.logger)
	s.bus = events.NewBus(s.logger)
	s.bus.SubscribeAll(events.NewJournal(s.logger).Handle)
	s.collector.Attach(s.bus)
	s.stream = events.NewStream(s.bus)

	// 3. 存储
	if err := s.openStores(); err != nil {
		return err
	}

	// 4. mesh
	tlsCfg, err := tlsutil.ClientConfig(s.cfg.Mesh.TLS)
	if err != nil {
		return fmt.Errorf("failed to build peer TLS config: %w", err)
	}
	client := tlsutil.SecureHTTPClient(s.cfg.Mesh.Transport.RequestTimeout, tlsCfg)
	transport := mesh.NewHTTPTransport(client, token, s.cfg.Mesh.Transport, s.logger)
	directory := mesh.NewDirectory(nodeID, s.cfg.Mesh.DirectoryConfig, s.logger)
	s.node = mesh.NewNode(s.identity, token, directory, transport, s.cfg.Node.Peers, s.logger)

	// 5. 账本
	if err := s.initLedgers(ctx); err != nil {
		return err
	}
	directory.OnLatency(s.reputation.RecordLatency)

	// 6. 拍卖与分发
	s.auction = auction.New(s.cfg.Auction, auction.Dependencies{
		Peers:   s.node,
		Sender:  s.node,
		Trust:   s.reputation,
		Escrow:  s.escrow,
		Guard:   auction.NewGuard(auction.DefaultGuardConfig()),
		Emitter: s.bus,
	}, s.logger)

	recorder := distributor.Recorder(s.collector)
	if otelRecorder, err := telemetry.NewRecorder(); err != nil {
		s.logger.Warn("otel delegation recorder unavailable", zap.Error(err))
	} else {
		recorder = distributor.Recorders(s.collector, otelRecorder)
	}

	s.distributor = distributor.New(s.cfg.DistributorConfig(), distributor.Dependencies{
		Mesh:        s.node,
		Reputation:  s.reputation,
		Contracts:   s.contracts,
		Escrow:      s.escrow,
		Auction:     s.auction,
		Analyzer:    rootcause.NewAnalyzer(s.cfg.RootCause.Config, s.node, s.reputation, s.bus, s.logger),
		Detector:    rootcause.NewDetector(s.cfg.RootCause.DetectorConfig, s.bus, s.logger),
		Signer:      signer,
		KeyResolver: directory.PublicKey,
		Emitter:     s.bus,
		Recorder:    recorder,
	}, s.logger)

	// 7. 收件箱
	var nonces inbox.NonceGuard
	if s.cfg.Inbox.NonceStore == "redis" {
		nonces = s.cache
	}
	s.inbox = inbox.New(s.cfg.Inbox.Config, inbox.Dependencies{
		Identity: s.identity,
		Reporter: transport,
		Peers:    directory,
		Signer:   signer,
		Nonces:   nonces,
	}, s.logger)

	// 8. 健康检查
	s.health = handlers.NewHealthHandler(s.logger).WithNodeID(nodeID)
	if s.db != nil {
		s.health.RegisterCheck(handlers.NewCheck("database", s.db.Ping))
	}
	if s.cache != nil {
		s.health.RegisterCheck(handlers.NewCheck("redis", s.cache.Ping))
	}
	for _, check := range s.storeChecks {
		s.health.RegisterCheck(check)
	}
	s.health.RegisterAdvisory(handlers.NewMeshCheck(s.node.Directory(), 1))

	s.logger.Info("Swarm components initialized",
		zap.String("node_id", nodeID),
		zap.String("public_key", s.identity.PublicKey),
		zap.String("strategy", string(s.distributor.Config().Strategy)),
		zap.String("escrow", s.cfg.Escrow.Backend),
	)
	return nil
}

// openStores 打开数据库与 Redis，仅在有组件需要时连接
func (s *Server) openStores() error {
	if s.cfg.NeedsDatabase() {
		dbCfg := s.cfg.Database
		pool := database.DefaultPoolConfig()
		pool.MaxOpenConns = dbCfg.MaxOpenConns
		pool.MaxIdleConns = dbCfg.MaxIdleConns
		pool.ConnMaxLifetime = dbCfg.ConnMaxLifetime
		db, err := database.Open(dbCfg.Driver, dbCfg.DSN(), pool, s.logger,
			database.WithStatsSink(func(open, idle int) {
				s.collector.RecordDBConnections(dbCfg.Driver, open, idle)
			}),
			database.WithQueryObserver(func(operation string, d time.Duration) {
				s.collector.RecordDBQuery(dbCfg.Driver, operation, d)
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		s.db = db
		s.logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	}

	if s.cfg.NeedsRedis() {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		m, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		s.cache = m
	}
	return nil
}

// initLedgers 创建声誉、合约与保证金账本并载入持久化状态
func (s *Server) initLedgers(ctx context.Context) error {
	repOpts := []reputation.Option{reputation.WithEmitter(s.bus)}
	if s.cfg.Reputation.Store == "database" {
		store := reputation.NewGormStore(s.db.DB())
		if err := store.AutoMigrate(); err != nil {
			return fmt.Errorf("reputation auto-migrate failed: %w", err)
		}
		repOpts = append(repOpts, reputation.WithStore(store))
		s.storeChecks = append(s.storeChecks, handlers.NewStoreCheck("reputation", store))
	}
	s.reputation = reputation.NewLedger(s.logger, repOpts...)
	if n, err := s.reputation.Load(ctx); err != nil {
		return fmt.Errorf("failed to load reputations: %w", err)
	} else if n > 0 {
		s.logger.Info("Reputations restored", zap.Int("peers", n))
	}

	contractOpts := []contract.Option{contract.WithEmitter(s.bus)}
	if s.cfg.Contracts.Store == "database" {
		store := contract.NewGormStore(s.db.DB(), contract.WithTransactor(
			func(ctx context.Context, fn func(tx *gorm.DB) error) error {
				return s.db.WithTransactionRetry(ctx, 3, fn)
			}))
		if err := store.AutoMigrate(); err != nil {
			return fmt.Errorf("contract auto-migrate failed: %w", err)
		}
		contractOpts = append(contractOpts, contract.WithStore(store))
		s.storeChecks = append(s.storeChecks, handlers.NewStoreCheck("contract", store))
	}
	s.contracts = contract.NewLedger(s.logger, contractOpts...)
	if n, err := s.contracts.Load(ctx); err != nil {
		return fmt.Errorf("failed to load contracts: %w", err)
	} else if n > 0 {
		s.logger.Info("Contracts restored", zap.Int("contracts", n))
	}

	if s.cfg.Escrow.Backend == "redis" {
		s.escrow = escrow.NewRedisLedger(s.cache.Client(), s.cfg.RedisOptions(), s.logger)
	} else {
		s.escrow = escrow.NewMemoryLedger(s.cfg.Escrow.InitialCreditUSD)
	}
	return nil
}

// startBackground 启动心跳、拍卖清理、收件箱清理与合约清理
func (s *Server) startBackground(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.node.Directory().OnDegraded(func(ids []string) {
		go func() {
			if n := s.distributor.HandlePeerDegradation(runCtx, ids); n > 0 {
				s.logger.Info("redelegated tasks from degraded peers",
					zap.Strings("peers", ids), zap.Int("tasks", n))
			}
		}()
	})

	g, gctx := errgroup.WithContext(runCtx)
	s.group = g
	g.Go(func() error { return s.node.Run(gctx) })
	g.Go(func() error {
		s.auction.Start(gctx)
		return nil
	})
	if retention := s.cfg.Contracts.Retention; retention > 0 {
		g.Go(func() error {
			s.pruneContracts(gctx, retention)
			return nil
		})
	}
	s.inbox.Start(gctx, s.cfg.Inbox.SweepInterval)
}

func (s *Server) pruneContracts(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.contracts.Prune(retention); n > 0 {
				s.logger.Debug("pruned terminated contracts", zap.Int("count", n))
			}
		}
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// Handler 返回挂载全部路由和中间件链的 HTTP handler
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET "+api.PathHealth, s.health.HandleHealth)
	mux.HandleFunc("GET "+api.PathHealthz, s.health.HandleHealthz)
	mux.HandleFunc("GET "+api.PathReady, s.health.HandleReady)
	mux.HandleFunc("GET "+api.PathVersion, s.health.HandleVersion(Version, BuildTime, GitCommit))

	// peer API
	handlers.NewPeerHandler(handlers.PeerDependencies{
		Inbox:       s.inbox,
		Auction:     s.auction,
		Distributor: s.distributor,
		Directory:   s.node.Directory(),
	}, s.logger).Register(mux)

	// 运维 API
	handlers.NewSwarmHandler(handlers.SwarmDependencies{
		Distributor: s.distributor,
		Directory:   s.node.Directory(),
		Reputation:  s.reputation,
		Contracts:   s.contracts,
		Auction:     s.auction,
	}, s.logger).Register(mux)
	handlers.NewInboxHandler(s.inbox, s.logger).Register(mux)
	handlers.NewEventsHandler(s.stream, s.cfg.Server.EventOrigins, s.logger).Register(mux)

	publicPaths := []string{api.PathHealth, api.PathHealthz, api.PathReady, api.PathVersion, api.PathMetrics}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		SwarmTokenAuth(s.node.GetSwarmToken(), s.logger),
	}
	if s.cfg.Server.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, publicPaths, s.logger))
	} else {
		s.logger.Warn("JWT not configured, operator API is unauthenticated")
	}

	return Chain(mux, middlewares...)
}

// startHTTPServer 启动 HTTP 服务器，配置了证书时使用 TLS
func (s *Server) startHTTPServer() error {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		MaxConnections:  s.cfg.Server.MaxConnections,
	}

	s.httpManager = server.NewManager(s.Handler(rateLimiterCtx), serverConfig, s.logger)

	if s.cfg.Server.TLS.CertFile != "" {
		tlsCfg, err := tlsutil.ServerConfig(s.cfg.Server.TLS)
		if err != nil {
			return err
		}
		return s.httpManager.StartTLS(tlsCfg)
	}
	return s.httpManager.Start()
}

// startMetricsServer 启动 Metrics 服务器，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(api.PathMetrics, promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务。进行中的委派被取消，保证金按取消结算。
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	// 1. 停止接收请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 取消进行中的委派
	if s.distributor != nil {
		if n := s.distributor.CancelAll("node shutting down"); n > 0 {
			s.logger.Info("Cancelled in-flight delegations", zap.Int("count", n))
		}
	}

	// 3. 停止后台任务
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("background task failed", zap.Error(err))
		}
	}

	// 4. 关闭 Metrics 服务器与外部依赖
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Cache close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
