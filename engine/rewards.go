package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
)

// =============================================================================
// REWARDS
// =============================================================================

func (e *Engine) GetReward(ctx context.Context, rewardID string) (rewards.CommitmentReward, error) {
	return e.store.Repos().Rewards.Get(ctx, rewardID)
}

// RewardForContract looks a reward up by the contract it belongs to.
func (e *Engine) RewardForContract(ctx context.Context, contractID string) (rewards.CommitmentReward, error) {
	return e.GetReward(ctx, rewards.IDForContract(contractID))
}

// RecordRewardPayment feeds a payment observed outside the ledger, e.g.
// by the gateway, into a reward. Operators and the system only.
func (e *Engine) RecordRewardPayment(ctx context.Context, actor generic.Actor, rewardID string, dueDate, paidDate time.Time, amount decimal.Decimal) (rewards.CommitmentReward, error) {
	if err := requireOperator(actor, "reward", rewardID); err != nil {
		return rewards.CommitmentReward{}, err
	}
	return e.changeReward(ctx, rewardID, func(rw rewards.CommitmentReward, now time.Time) (rewards.CommitmentReward, rewards.Change, error) {
		return rewards.RecordPayment(rw, dueDate, paidDate, amount, now)
	})
}

// RecordMissedPayment counts a missed installment against a reward.
func (e *Engine) RecordMissedPayment(ctx context.Context, actor generic.Actor, rewardID string, dueDate time.Time, amount decimal.Decimal) (rewards.CommitmentReward, error) {
	if err := requireOperator(actor, "reward", rewardID); err != nil {
		return rewards.CommitmentReward{}, err
	}
	return e.changeReward(ctx, rewardID, func(rw rewards.CommitmentReward, now time.Time) (rewards.CommitmentReward, rewards.Change, error) {
		return rewards.RecordMissedPayment(rw, dueDate, amount, now)
	})
}

// ClaimReward moves an earned reward to claimed on behalf of its owner.
func (e *Engine) ClaimReward(ctx context.Context, requesterID, rewardID string) (rewards.CommitmentReward, error) {
	var result rewards.CommitmentReward
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		now := e.now()
		rw, err := r.Rewards.Get(ctx, rewardID)
		if err != nil {
			return err
		}
		if rw, err = rewards.Claim(rw, requesterID, now); err != nil {
			return err
		}
		if result, err = r.Rewards.Update(ctx, rw); err != nil {
			return err
		}
		out.add(generic.EventRewardClaimed, rw.ID, now, map[string]string{"contract_id": rw.ContractID, "owner_id": rw.OwnerID})
		return nil
	})
	return result, err
}

type rewardStep func(rewards.CommitmentReward, time.Time) (rewards.CommitmentReward, rewards.Change, error)

func (e *Engine) changeReward(ctx context.Context, rewardID string, step rewardStep) (rewards.CommitmentReward, error) {
	var result rewards.CommitmentReward
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		now := e.now()
		rw, err := r.Rewards.Get(ctx, rewardID)
		if err != nil {
			return err
		}
		next, change, err := step(rw, now)
		if err != nil {
			return err
		}
		if result, err = r.Rewards.Update(ctx, next); err != nil {
			return err
		}
		announce(out, result, change, now)
		return nil
	})
	return result, err
}

// feedReward applies a payment step to the reward of a contract inside an
// open transaction. A contract without a reward (sale) or with a claimed
// reward is left alone.
func (e *Engine) feedReward(ctx context.Context, r store.Repos, rewardID string, out *outbox, step func(rewards.CommitmentReward) (rewards.CommitmentReward, rewards.Change, error)) (*rewards.CommitmentReward, error) {
	rw, err := r.Rewards.Get(ctx, rewardID)
	if generic.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	next, change, err := step(rw)
	if errors.Is(err, rewards.ErrRewardClosed) {
		return &rw, nil
	}
	if err != nil {
		return nil, err
	}
	if next, err = r.Rewards.Update(ctx, next); err != nil {
		return nil, err
	}
	announce(out, next, change, e.now())
	return &next, nil
}

// announce queues the event for a reward status change.
func announce(out *outbox, rw rewards.CommitmentReward, change rewards.Change, now time.Time) {
	if !change.Changed() {
		return
	}
	attrs := map[string]string{"contract_id": rw.ContractID, "owner_id": rw.OwnerID}
	switch change.To {
	case rewards.StatusEarned:
		out.add(generic.EventRewardEarned, rw.ID, now, attrs)
	case rewards.StatusForfeited:
		attrs["reason"] = rw.ForfeitureReason
		out.add(generic.EventRewardForfeited, rw.ID, now, attrs)
	}
}

// parseAmount reads a decimal amount from transport input.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, generic.Invalid("payment", "invalid amount %q", s)
	}
	return d, nil
}
