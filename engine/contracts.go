package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// CreateContract stores a new draft after checking that the unit and both
// parties exist.
func (e *Engine) CreateContract(ctx context.Context, d contract.Draft) (contract.Contract, error) {
	if err := d.Validate(); err != nil {
		return contract.Contract{}, err
	}
	if _, err := e.catalog.GetUnit(ctx, d.UnitID); err != nil {
		return contract.Contract{}, fmt.Errorf("failed to look up unit: %w", err)
	}
	for _, id := range []string{d.CounterpartyID, d.GrantorID} {
		if _, err := e.directory.GetUser(ctx, id); err != nil {
			return contract.Contract{}, fmt.Errorf("failed to look up party: %w", err)
		}
	}

	c, err := contract.New(generic.NewID("ctr"), d, e.now())
	if err != nil {
		return contract.Contract{}, err
	}
	return e.store.Repos().Contracts.Insert(ctx, c)
}

func (e *Engine) GetContract(ctx context.Context, id string) (contract.Contract, error) {
	return e.store.Repos().Contracts.Get(ctx, id)
}

// ContractFilter narrows ListContracts. Zero fields match everything.
type ContractFilter struct {
	PartyID string
	Status  contract.Status
}

func (f ContractFilter) match(c contract.Contract) bool {
	if f.PartyID != "" {
		if _, ok := c.RoleOf(f.PartyID); !ok {
			return false
		}
	}
	return f.Status == "" || c.Status == f.Status
}

func (e *Engine) ListContracts(ctx context.Context, f ContractFilter) ([]contract.Contract, error) {
	return e.store.Repos().Contracts.Find(ctx, f.match)
}

// SignContract records a signature. The second signature activates the
// contract and creates its booking and reward in the same transaction.
func (e *Engine) SignContract(ctx context.Context, contractID, signerID, blob string) (contract.Contract, error) {
	var result contract.Contract
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		now := e.now()
		c, err := r.Contracts.Get(ctx, contractID)
		if err != nil {
			return err
		}
		c, activated, err := contract.Sign(c, signerID, blob, now)
		if err != nil {
			return err
		}
		role, _ := c.RoleOf(signerID)
		out.add(generic.EventContractSigned, c.ID, now, map[string]string{"signer_id": signerID, "role": string(role)})

		if activated {
			if c, err = e.activate(ctx, r, c, signerID, now, out); err != nil {
				return err
			}
		}
		if result, err = r.Contracts.Update(ctx, c); err != nil {
			return err
		}
		return nil
	})
	return result, err
}

// activate builds the booking and reward for a freshly activated contract.
func (e *Engine) activate(ctx context.Context, r store.Repos, c contract.Contract, signerID string, now time.Time, out *outbox) (contract.Contract, error) {
	d := booking.Draft{
		ContractID:       c.ID,
		UnitID:           c.UnitID,
		CounterpartyID:   c.CounterpartyID,
		Kind:             booking.Kind(c.Kind),
		StartDate:        c.StartDate,
		TotalAmount:      c.TotalAmount(),
		PeriodAmount:     c.PeriodAmount,
		InstallmentCount: c.InstallmentCount,
		Deposit:          c.Deposit,
	}
	if err := e.ensureSlotFree(ctx, r, d); err != nil {
		return c, err
	}
	b, err := booking.New(generic.NewID("bkg"), d, now)
	if err != nil {
		return c, err
	}
	var settledAt *time.Time
	if c.FirstInstallmentAtSigning && b.HasLedger() {
		settledAt = &now
	}
	if b, err = booking.Activate(b, signerID, now, settledAt); err != nil {
		return c, err
	}
	if b, err = r.Bookings.Insert(ctx, b); err != nil {
		return c, err
	}
	c.BookingID = b.ID

	if b.HasLedger() {
		rw, err := rewards.New(c.ID, c.CounterpartyID, c.InstallmentCount, now)
		if err != nil {
			return c, err
		}
		if settledAt != nil {
			first := b.Ledger[0]
			if rw, _, err = rewards.RecordPayment(rw, first.DueDate, *first.PaidAt, first.PaidAmount, now); err != nil {
				return c, err
			}
		}
		if rw, err = r.Rewards.Insert(ctx, rw); err != nil {
			return c, err
		}
		c.RewardID = rw.ID
	}

	out.add(generic.EventContractActivated, c.ID, now, map[string]string{
		"booking_id": b.ID,
		"unit_id":    c.UnitID,
		"kind":       string(c.Kind),
	})
	return c, nil
}

// RequestCancellation opens a cancellation request by one of the signers.
func (e *Engine) RequestCancellation(ctx context.Context, contractID, requesterID, reason string) (contract.Contract, error) {
	return e.updateContract(ctx, contractID, func(_ store.Repos, c contract.Contract, now time.Time, out *outbox) (contract.Contract, error) {
		c, err := contract.RequestCancellation(c, requesterID, reason, now)
		if err != nil {
			return c, err
		}
		out.add(generic.EventCancellationRequested, c.ID, now, map[string]string{"requester_id": requesterID, "reason": reason})
		return c, nil
	})
}

// ApproveCancellation cancels the contract when the other signer agrees.
func (e *Engine) ApproveCancellation(ctx context.Context, contractID, approverID string) (contract.Contract, error) {
	return e.updateContract(ctx, contractID, func(r store.Repos, c contract.Contract, now time.Time, out *outbox) (contract.Contract, error) {
		c, err := contract.ApproveCancellation(c, approverID, now)
		if err != nil {
			return c, err
		}
		out.add(generic.EventCancellationApproved, c.ID, now, map[string]string{"approver_id": approverID})
		return c, e.cascade(ctx, r, c, rewards.ReasonContractCancelled, now, out)
	})
}

// RejectCancellation clears a pending request; the contract stays active.
func (e *Engine) RejectCancellation(ctx context.Context, contractID, rejecterID string) (contract.Contract, error) {
	return e.updateContract(ctx, contractID, func(_ store.Repos, c contract.Contract, now time.Time, out *outbox) (contract.Contract, error) {
		c, err := contract.RejectCancellation(c, rejecterID, now)
		if err != nil {
			return c, err
		}
		out.add(generic.EventCancellationRejected, c.ID, now, map[string]string{"rejecter_id": rejecterID})
		return c, nil
	})
}

// UpdateContractStatus is the operator override. Cancelling or terminating
// an active contract cascades to its booking and reward.
func (e *Engine) UpdateContractStatus(ctx context.Context, actor generic.Actor, contractID string, to contract.Status) (contract.Contract, error) {
	return e.updateContract(ctx, contractID, func(r store.Repos, c contract.Contract, now time.Time, out *outbox) (contract.Contract, error) {
		from := c.Status
		c, err := contract.SetStatus(c, actor, to, now)
		if err != nil {
			return c, err
		}
		out.add(generic.EventContractStatusChanged, c.ID, now, map[string]string{
			"from":     string(from),
			"to":       string(to),
			"actor_id": actor.ID,
		})
		switch to {
		case contract.StatusCancelled:
			return c, e.cascade(ctx, r, c, rewards.ReasonContractCancelled, now, out)
		case contract.StatusTerminated:
			return c, e.cascade(ctx, r, c, rewards.ReasonContractTerminated, now, out)
		}
		return c, nil
	})
}

// DeleteDraftContract removes a draft on behalf of its grantor or an operator.
func (e *Engine) DeleteDraftContract(ctx context.Context, actor generic.Actor, contractID string) error {
	return e.tx(ctx, func(r store.Repos, _ *outbox) error {
		c, err := r.Contracts.Get(ctx, contractID)
		if err != nil {
			return err
		}
		if err := contract.CanDelete(c, actor); err != nil {
			return err
		}
		return r.Contracts.Delete(ctx, c.ID, c.Version)
	})
}

// updateContract loads one contract, applies fn and writes the result.
func (e *Engine) updateContract(ctx context.Context, contractID string, fn func(store.Repos, contract.Contract, time.Time, *outbox) (contract.Contract, error)) (contract.Contract, error) {
	var result contract.Contract
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		c, err := r.Contracts.Get(ctx, contractID)
		if err != nil {
			return err
		}
		if c, err = fn(r, c, e.now(), out); err != nil {
			return err
		}
		result, err = r.Contracts.Update(ctx, c)
		return err
	})
	return result, err
}

// cascade closes the booking and reward of a contract that ended early.
func (e *Engine) cascade(ctx context.Context, r store.Repos, c contract.Contract, reason string, now time.Time, out *outbox) error {
	if c.BookingID != "" {
		b, err := r.Bookings.Get(ctx, c.BookingID)
		if err != nil {
			return err
		}
		if b.Status.Live() {
			open := 0
			for _, inst := range b.Ledger {
				if inst.Open() {
					open++
				}
			}
			if b, err = booking.Cancel(b, now); err != nil {
				return err
			}
			if _, err = r.Bookings.Update(ctx, b); err != nil {
				return err
			}
			out.add(generic.EventResourceReleased, b.ID, now, map[string]string{
				"unit_id":                b.UnitID,
				"contract_id":            c.ID,
				"cancelled_installments": strconv.Itoa(open),
			})
		}
	}
	if c.RewardID != "" {
		rw, err := r.Rewards.Get(ctx, c.RewardID)
		if err != nil {
			return err
		}
		if rw.Status == rewards.StatusEarning {
			if rw, err = rewards.Forfeit(rw, reason, now); err != nil {
				return err
			}
			if _, err = r.Rewards.Update(ctx, rw); err != nil {
				return err
			}
			out.add(generic.EventRewardForfeited, rw.ID, now, map[string]string{"contract_id": c.ID, "reason": reason})
		}
	}
	return nil
}
