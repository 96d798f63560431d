package contract

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/BaSui01/agentswarm/swarm/events"
	"github.com/BaSui01/agentswarm/types"
)

func terms() Terms {
	max := 3
	return Terms{
		DelegatorNodeID: "self",
		DelegateeNodeID: "peer-a",
		TaskID:          "task-1",
		TaskText:        "scan the subnet",
		SLO:             types.ContractSLO{MaxDurationMs: 1000, MaxTokens: 500, MaxCostUSD: 0.5},
		Monitoring:      types.ContractMonitoring{RequireCheckpoints: true, CheckpointIntervalMs: 15000},
		PermissionBoundary: &types.ContractPermissionBoundary{
			ToolAllowlist:  []string{"nmap"},
			MaxPermissions: &max,
		},
	}
}

func TestLedger_CreateAndComplete(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(nil)
	var kinds []events.Kind
	bus.SubscribeAll(func(e events.Event) { kinds = append(kinds, e.Kind) })

	l := NewLedger(zaptest.NewLogger(t), WithEmitter(bus))
	c := l.Create(ctx, terms())
	assert.Equal(t, StatusActive, c.Status)
	assert.NotEmpty(t, c.ContractID)

	done, err := l.Complete(ctx, c.ContractID, &types.SwarmTaskResult{DurationMs: 900, TokensUsed: 400, CostUSD: 0.4})
	require.NoError(t, err)
	assert.False(t, done.Violated)
	assert.Equal(t, StatusCompleted, done.Contract.Status)
	assert.Equal(t, []events.Kind{events.KindContractCreated, events.KindContractCompleted}, kinds)
}

func TestLedger_CompleteFlagsViolation(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil)
	c := l.Create(ctx, terms())

	done, err := l.Complete(ctx, c.ContractID, &types.SwarmTaskResult{DurationMs: 5000, TokensUsed: 400, CostUSD: 0.9})
	require.NoError(t, err)
	assert.True(t, done.Violated)
	assert.Len(t, done.Violations, 2)
	assert.Equal(t, StatusViolated, done.Contract.Status)
	assert.Contains(t, done.Contract.Reason, "duration")
}

func TestLedger_TerminatesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil)
	c := l.Create(ctx, terms())

	_, err := l.Cancel(ctx, c.ContractID, "peer degraded")
	require.NoError(t, err)

	_, err = l.Cancel(ctx, c.ContractID, "again")
	assert.ErrorIs(t, err, ErrContractNotActive)
	_, err = l.Complete(ctx, c.ContractID, &types.SwarmTaskResult{})
	assert.ErrorIs(t, err, ErrContractNotActive)
	_, err = l.Complete(ctx, "missing", &types.SwarmTaskResult{})
	assert.ErrorIs(t, err, ErrContractNotFound)

	got, ok := l.Get(c.ContractID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "peer degraded", got.Reason)
}

func TestLedger_ConcurrentTermination(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(nil)
	c := l.Create(ctx, terms())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = l.Cancel(ctx, c.ContractID, "x")
			} else {
				_, err = l.Complete(ctx, c.ContractID, &types.SwarmTaskResult{})
			}
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestLedger_PruneAndActive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLedger(nil, WithClock(func() time.Time { return now }))

	a := l.Create(ctx, terms())
	l.Create(ctx, terms())
	_, err := l.Cancel(ctx, a.ContractID, "done")
	require.NoError(t, err)
	assert.Len(t, l.Active(), 1)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, l.Prune(time.Hour))
	_, ok := l.Get(a.ContractID)
	assert.False(t, ok)
}

func TestCheckSLO_ZeroBudgetsUnlimited(t *testing.T) {
	assert.Empty(t, CheckSLO(types.ContractSLO{}, &types.SwarmTaskResult{DurationMs: 1e9, TokensUsed: 1e9, CostUSD: 1e3}))
	assert.Empty(t, CheckSLO(types.ContractSLO{MaxTokens: 1}, nil))
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestGormStore_PersistsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(setupTestDB(t))
	require.NoError(t, store.AutoMigrate())

	l := NewLedger(nil, WithStore(store))
	c := l.Create(ctx, terms())
	other := l.Create(ctx, terms())
	_, err := l.Complete(ctx, c.ContractID, &types.SwarmTaskResult{DurationMs: 10})
	require.NoError(t, err)

	got, err := store.Get(ctx, c.ContractID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, []string{"nmap"}, got.PermissionBoundary.ToolAllowlist)
	assert.Equal(t, 3, *got.PermissionBoundary.MaxPermissions)
	assert.False(t, got.TerminatedAt.IsZero())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrContractNotFound)

	fresh := NewLedger(nil, WithStore(store))
	n, err := fresh.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := fresh.Get(other.ContractID)
	assert.True(t, ok)
}

func TestGormStore_TerminalStatusIsWrittenOnce(t *testing.T) {
	ctx := context.Background()
	var txCalls atomic.Int32
	db := setupTestDB(t)
	store := NewGormStore(db, WithTransactor(func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		txCalls.Add(1)
		return db.WithContext(ctx).Transaction(fn)
	}))
	require.NoError(t, store.AutoMigrate())

	first := NewLedger(nil, WithStore(store))
	c := first.Create(ctx, terms())
	assert.Zero(t, txCalls.Load())

	// A second ledger over the same table cancels the contract first.
	second := NewLedger(nil, WithStore(store))
	_, err := second.Load(ctx)
	require.NoError(t, err)
	_, err = second.Cancel(ctx, c.ContractID, "operator abort")
	require.NoError(t, err)

	_, err = first.Complete(ctx, c.ContractID, &types.SwarmTaskResult{DurationMs: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(2), txCalls.Load())

	got, err := store.Get(ctx, c.ContractID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "operator abort", got.Reason)

	done := got
	done.Status = StatusCompleted
	err = store.Save(ctx, done)
	assert.ErrorIs(t, err, ErrContractNotActive)
}

func TestGormStore_Ping(t *testing.T) {
	store := NewGormStore(setupTestDB(t))
	assert.Error(t, store.Ping(context.Background()))
	require.NoError(t, store.AutoMigrate())
	assert.NoError(t, store.Ping(context.Background()))
}
