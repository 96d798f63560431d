package distributor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/escrow"
	"github.com/BaSui01/agentswarm/swarm/events"
)

// holdBond stakes a bond sized from the granted cost budget. With bonds
// optional a failed hold is logged and the delegation proceeds unbonded.
func (d *Distributor) holdBond(ctx context.Context, taskID, peerID string, maxCostUSD float64) (bondRef, error) {
	if !d.config.Bond.Enabled || d.deps.Escrow == nil {
		return bondRef{}, nil
	}
	amount := d.config.Bond.Sizing.Amount(maxCostUSD)
	if amount <= 0 {
		return bondRef{}, nil
	}
	if _, err := d.deps.Escrow.HoldBond(ctx, taskID, peerID, amount); err != nil {
		if d.config.Bond.Required {
			return bondRef{}, fmt.Errorf("%w: %s: %v", ErrBondRejected, peerID, err)
		}
		d.logger.Warn("bond hold failed; delegating unbonded",
			zap.String("task_id", taskID),
			zap.String("peer", peerID),
			zap.Float64("amount_usd", amount),
			zap.Error(err),
		)
		return bondRef{}, nil
	}
	return bondRef{taskID: taskID, nodeID: peerID}, nil
}

// settleBond slashes pct of p's bond, or releases it when pct is zero.
func (d *Distributor) settleBond(ctx context.Context, p *pendingTask, pct float64, reason string) {
	if !p.bond.held() || d.deps.Escrow == nil {
		return
	}
	var (
		b   escrow.Bond
		err error
	)
	if pct > 0 {
		b, err = d.deps.Escrow.SlashBond(ctx, p.bond.taskID, p.bond.nodeID, pct)
	} else {
		b, err = d.deps.Escrow.ReleaseBond(ctx, p.bond.taskID, p.bond.nodeID)
	}
	if err != nil {
		d.logger.Warn("bond settlement failed",
			zap.String("bond_task_id", p.bond.taskID),
			zap.String("peer", p.bond.nodeID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	d.emit(events.KindBondSettled, events.Fields{
		"task_id":      p.taskID,
		"bond_task_id": b.TaskID,
		"peer_node_id": b.NodeID,
		"status":       string(b.Status),
		"amount_usd":   b.AmountUSD,
		"slashed_usd":  b.SlashedUSD,
		"reason":       reason,
	})
}
