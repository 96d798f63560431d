// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 委派指标
	delegationsTotal   *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec
	activeDelegations  prometheus.Gauge

	// 事件指标
	eventsTotal     *prometheus.CounterVec
	bidsTotal       *prometheus.CounterVec
	contractsTotal  *prometheus.CounterVec
	rootCausesTotal *prometheus.CounterVec
	anomaliesTotal  *prometheus.CounterVec
	bondsSettled    *prometheus.CounterVec
	slashedUSD      prometheus.Counter
	peerTrust       *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 委派指标
	c.delegationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of distribute calls by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	c.delegationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_duration_seconds",
			Help:      "Distribute call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"strategy"},
	)

	c.activeDelegations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_delegations",
			Help:      "Number of accepted, unsettled delegations",
		},
	)

	// 事件指标
	c.eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swarm_events_total",
			Help:      "Total number of swarm events by kind",
		},
		[]string{"kind"},
	)

	c.bidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_bids_total",
			Help:      "Total number of auction bids by acceptance",
		},
		[]string{"accepted"},
	)

	c.contractsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contracts_total",
			Help:      "Total number of contracts by lifecycle outcome",
		},
		[]string{"outcome"}, // created, completed, violated
	)

	c.rootCausesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "root_causes_total",
			Help:      "Total number of failure diagnoses by root cause",
		},
		[]string{"root_cause"},
	)

	c.anomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Total number of detected anomalies",
		},
		[]string{"type", "severity"},
	)

	c.bondsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonds_settled_total",
			Help:      "Total number of settled bonds by status",
		},
		[]string{"status"},
	)

	c.slashedUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonds_slashed_usd_total",
			Help:      "Total USD forfeited by slashed bonds",
		},
	)

	c.peerTrust = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_trust_score",
			Help:      "Current trust score per peer",
		},
		[]string{"peer"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤝 委派指标记录
// =============================================================================

// ObserveDelegation 记录一次 Distribute 调用
func (c *Collector) ObserveDelegation(strategy, outcome string, d time.Duration) {
	c.delegationsTotal.WithLabelValues(strategy, outcome).Inc()
	c.delegationDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// SetActiveDelegations 更新在途委派数
func (c *Collector) SetActiveDelegations(n int) {
	c.activeDelegations.Set(float64(n))
}

// =============================================================================
// 📡 事件指标记录
// =============================================================================

// Attach 订阅事件总线上的全部事件
func (c *Collector) Attach(bus *events.Bus) {
	bus.SubscribeAll(c.HandleEvent)
}

// HandleEvent 将一个 swarm 事件计入相应指标
func (c *Collector) HandleEvent(evt events.Event) {
	c.eventsTotal.WithLabelValues(string(evt.Kind)).Inc()

	switch evt.Kind {
	case events.KindBidReceived:
		accepted := "false"
		if v, _ := evt.Fields["accepted"].(bool); v {
			accepted = "true"
		}
		c.bidsTotal.WithLabelValues(accepted).Inc()
	case events.KindContractCreated:
		c.contractsTotal.WithLabelValues("created").Inc()
	case events.KindContractCompleted:
		c.contractsTotal.WithLabelValues("completed").Inc()
	case events.KindContractViolated:
		c.contractsTotal.WithLabelValues("violated").Inc()
	case events.KindRootCauseDiagnosed:
		c.rootCausesTotal.WithLabelValues(stringField(evt.Fields, "root_cause")).Inc()
	case events.KindAnomalyDetected:
		c.anomaliesTotal.WithLabelValues(stringField(evt.Fields, "type"), stringField(evt.Fields, "severity")).Inc()
	case events.KindBondSettled:
		c.bondsSettled.WithLabelValues(stringField(evt.Fields, "status")).Inc()
		if v, ok := floatField(evt.Fields, "slashed_usd"); ok && v > 0 {
			c.slashedUSD.Add(v)
		}
	case events.KindReputationUpdated:
		peer := stringField(evt.Fields, "node_id")
		if v, ok := floatField(evt.Fields, "trust_score"); ok && peer != "unknown" {
			c.peerTrust.WithLabelValues(peer).Set(v)
		}
	}
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func stringField(f events.Fields, key string) string {
	if v, ok := f[key].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func floatField(f events.Fields, key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
