package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/events"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.delegationsTotal)
	assert.NotNil(t, collector.eventsTotal)
	assert.NotNil(t, collector.peerTrust)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/test", 503, 50*time.Millisecond, 512, 1024)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "5xx")))
}

func TestCollector_ObserveDelegation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveDelegation("pareto", "success", 2*time.Second)
	collector.ObserveDelegation("pareto", "timeout", time.Minute)
	collector.SetActiveDelegations(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.delegationsTotal.WithLabelValues("pareto", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.delegationsTotal.WithLabelValues("pareto", "timeout")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.activeDelegations))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.delegationDuration))
}

func TestCollector_HandleEvent(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	bus := events.NewBus(zap.NewNop())
	collector.Attach(bus)

	require.NoError(t, bus.Emit(events.KindBidReceived, events.Fields{"accepted": true}))
	require.NoError(t, bus.Emit(events.KindBidReceived, events.Fields{"accepted": false, "reason": "late"}))
	require.NoError(t, bus.Emit(events.KindContractViolated, events.Fields{"contract_id": "c1"}))
	require.NoError(t, bus.Emit(events.KindRootCauseDiagnosed, events.Fields{"root_cause": "peer_overload"}))
	require.NoError(t, bus.Emit(events.KindAnomalyDetected, events.Fields{"type": "cost_spike", "severity": "high"}))
	require.NoError(t, bus.Emit(events.KindBondSettled, events.Fields{"status": "slashed", "slashed_usd": 0.25}))
	require.NoError(t, bus.Emit(events.KindReputationUpdated, events.Fields{"node_id": "peer-a", "trust_score": 0.72}))

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.eventsTotal.WithLabelValues("bid_received")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.bidsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.bidsTotal.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.contractsTotal.WithLabelValues("violated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.rootCausesTotal.WithLabelValues("peer_overload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.anomaliesTotal.WithLabelValues("cost_spike", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.bondsSettled.WithLabelValues("slashed")))
	assert.InDelta(t, 0.25, testutil.ToFloat64(collector.slashedUSD), 1e-9)
	assert.InDelta(t, 0.72, testutil.ToFloat64(collector.peerTrust.WithLabelValues("peer-a")), 1e-9)
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.ObserveDelegation("reputation", "success", time.Second)
			collector.HandleEvent(events.Event{Kind: events.KindTaskRedelegated, Fields: events.Fields{"task_id": id}})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.delegationsTotal.WithLabelValues("reputation", "success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.eventsTotal.WithLabelValues("task_redelegated")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()

	// promauto registers with the default registry as well
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	registry.MustRegister(collector.delegationsTotal)
	registry.MustRegister(collector.activeDelegations)

	collector.ObserveDelegation("auction", "auction_failed", time.Second)

	count, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
