package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Script error replies mapped back to sentinel errors.
const (
	replyExists       = "ESCROW_BOND_EXISTS"
	replyInsufficient = "ESCROW_INSUFFICIENT"
	replyNotHeld      = "ESCROW_NOT_HELD"
)

// KEYS[1] balance, KEYS[2] bond
// ARGV[1] amount, ARGV[2] initial credit, ARGV[3] now (ms)
var holdScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return redis.error_reply('ESCROW_BOND_EXISTS')
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SET', KEYS[1], ARGV[2])
end
local bal = tonumber(redis.call('GET', KEYS[1]))
local amt = tonumber(ARGV[1])
if bal < amt then
  return redis.error_reply('ESCROW_INSUFFICIENT')
end
redis.call('INCRBYFLOAT', KEYS[1], -amt)
redis.call('HSET', KEYS[2], 'amount', ARGV[1], 'status', 'held', 'held_at', ARGV[3], 'slashed', '0')
return 'OK'
`)

// KEYS[1] balance, KEYS[2] bond
// ARGV[1] slash fraction, ARGV[2] now (ms), ARGV[3] final status, ARGV[4] initial credit
var settleScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'status') ~= 'held' then
  return redis.error_reply('ESCROW_NOT_HELD')
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SET', KEYS[1], ARGV[4])
end
local amt = tonumber(redis.call('HGET', KEYS[2], 'amount'))
local slashed = amt * tonumber(ARGV[1])
redis.call('INCRBYFLOAT', KEYS[1], amt - slashed)
redis.call('HSET', KEYS[2], 'status', ARGV[3], 'settled_at', ARGV[2], 'slashed', tostring(slashed))
return 'OK'
`)

// RedisLedger stores balances and bonds in Redis. Every mutation runs as a
// single Lua script, so it is atomic across processes sharing the server.
type RedisLedger struct {
	client        redis.UniversalClient
	prefix        string
	initialCredit float64
	bondTTL       time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// RedisOptions configures a RedisLedger.
type RedisOptions struct {
	KeyPrefix        string
	InitialCreditUSD float64
	// BondTTL expires settled bonds; zero keeps them forever.
	BondTTL time.Duration
}

// NewRedisLedger creates a ledger on client.
func NewRedisLedger(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) *RedisLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "swarm:escrow"
	}
	return &RedisLedger{
		client:        client,
		prefix:        opts.KeyPrefix,
		initialCredit: opts.InitialCreditUSD,
		bondTTL:       opts.BondTTL,
		logger:        logger.With(zap.String("component", "escrow_redis")),
		now:           time.Now,
	}
}

func (r *RedisLedger) balanceKey(nodeID string) string {
	return r.prefix + ":balance:" + nodeID
}

func (r *RedisLedger) bondKey(taskID, nodeID string) string {
	return r.prefix + ":bond:" + taskID + ":" + nodeID
}

func (r *RedisLedger) nowMs() string {
	return strconv.FormatInt(r.now().UnixMilli(), 10)
}

func formatUSD(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Deposit implements Ledger.
func (r *RedisLedger) Deposit(ctx context.Context, nodeID string, amountUSD float64) error {
	if amountUSD <= 0 {
		return fmt.Errorf("%w: deposit %v", ErrInvalidAmount, amountUSD)
	}
	key := r.balanceKey(nodeID)
	if err := r.client.SetNX(ctx, key, formatUSD(r.initialCredit), 0).Err(); err != nil {
		return fmt.Errorf("deposit %s: %w", nodeID, err)
	}
	if err := r.client.IncrByFloat(ctx, key, amountUSD).Err(); err != nil {
		return fmt.Errorf("deposit %s: %w", nodeID, err)
	}
	return nil
}

// Balance implements Ledger.
func (r *RedisLedger) Balance(ctx context.Context, nodeID string) (float64, error) {
	v, err := r.client.Get(ctx, r.balanceKey(nodeID)).Float64()
	if errors.Is(err, redis.Nil) {
		return r.initialCredit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", nodeID, err)
	}
	return v, nil
}

// HoldBond implements Ledger.
func (r *RedisLedger) HoldBond(ctx context.Context, taskID, nodeID string, amountUSD float64) (Bond, error) {
	if amountUSD <= 0 {
		return Bond{}, fmt.Errorf("%w: bond %v", ErrInvalidAmount, amountUSD)
	}
	keys := []string{r.balanceKey(nodeID), r.bondKey(taskID, nodeID)}
	err := holdScript.Run(ctx, r.client, keys, formatUSD(amountUSD), formatUSD(r.initialCredit), r.nowMs()).Err()
	if err != nil {
		return Bond{}, r.mapErr(err, taskID, nodeID)
	}
	return r.mustGet(ctx, taskID, nodeID)
}

// ReleaseBond implements Ledger.
func (r *RedisLedger) ReleaseBond(ctx context.Context, taskID, nodeID string) (Bond, error) {
	return r.settle(ctx, taskID, nodeID, 0, BondReleased)
}

// SlashBond implements Ledger.
func (r *RedisLedger) SlashBond(ctx context.Context, taskID, nodeID string, pct float64) (Bond, error) {
	if err := validatePct(pct); err != nil {
		return Bond{}, err
	}
	return r.settle(ctx, taskID, nodeID, pct, BondSlashed)
}

func (r *RedisLedger) settle(ctx context.Context, taskID, nodeID string, pct float64, status BondStatus) (Bond, error) {
	keys := []string{r.balanceKey(nodeID), r.bondKey(taskID, nodeID)}
	err := settleScript.Run(ctx, r.client, keys, formatUSD(pct), r.nowMs(), string(status), formatUSD(r.initialCredit)).Err()
	if err != nil {
		return Bond{}, r.mapErr(err, taskID, nodeID)
	}
	if r.bondTTL > 0 {
		if err := r.client.Expire(ctx, keys[1], r.bondTTL).Err(); err != nil {
			r.logger.Warn("failed to set bond ttl", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	return r.mustGet(ctx, taskID, nodeID)
}

// GetBond implements Ledger.
func (r *RedisLedger) GetBond(ctx context.Context, taskID, nodeID string) (Bond, bool, error) {
	vals, err := r.client.HGetAll(ctx, r.bondKey(taskID, nodeID)).Result()
	if err != nil {
		return Bond{}, false, fmt.Errorf("get bond: %w", err)
	}
	if len(vals) == 0 {
		return Bond{}, false, nil
	}
	b := Bond{TaskID: taskID, NodeID: nodeID, Status: BondStatus(vals["status"])}
	b.AmountUSD, _ = strconv.ParseFloat(vals["amount"], 64)
	b.SlashedUSD, _ = strconv.ParseFloat(vals["slashed"], 64)
	if ms, err := strconv.ParseInt(vals["held_at"], 10, 64); err == nil {
		b.HeldAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(vals["settled_at"], 10, 64); err == nil {
		b.SettledAt = time.UnixMilli(ms)
	}
	return b, true, nil
}

func (r *RedisLedger) mustGet(ctx context.Context, taskID, nodeID string) (Bond, error) {
	b, ok, err := r.GetBond(ctx, taskID, nodeID)
	if err != nil {
		return Bond{}, err
	}
	if !ok {
		return Bond{}, fmt.Errorf("%w: task %s node %s", ErrBondNotHeld, taskID, nodeID)
	}
	return b, nil
}

func (r *RedisLedger) mapErr(err error, taskID, nodeID string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, replyExists):
		return fmt.Errorf("%w: task %s node %s", ErrBondExists, taskID, nodeID)
	case strings.Contains(msg, replyInsufficient):
		return fmt.Errorf("%w: node %s", ErrInsufficientBalance, nodeID)
	case strings.Contains(msg, replyNotHeld):
		return fmt.Errorf("%w: task %s node %s", ErrBondNotHeld, taskID, nodeID)
	default:
		return fmt.Errorf("escrow script: %w", err)
	}
}
