package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/transfer"
)

// =============================================================================
// TRANSFERS
// =============================================================================

// TransferDraft is the tenant's input for RequestTransfer.
type TransferDraft struct {
	RequesterID     string
	ContractID      string
	RequestedUnitID string
	Reason          string
}

// RequestTransfer records a transfer request with the eligibility snapshot
// taken at submission. An ineligible request is still stored; the decision
// is re-evaluated at approval.
func (e *Engine) RequestTransfer(ctx context.Context, d TransferDraft) (transfer.Request, error) {
	var result transfer.Request
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		now := e.now()
		c, b, err := e.transferSubject(ctx, r, d.ContractID)
		if err != nil {
			return err
		}
		if d.RequesterID != c.CounterpartyID {
			return transfer.ErrNotTheTenant
		}
		td := transfer.Draft{
			RequesterID:     d.RequesterID,
			ContractID:      c.ID,
			BookingID:       b.ID,
			CurrentUnitID:   c.UnitID,
			RequestedUnitID: d.RequestedUnitID,
			Reason:          d.Reason,
		}
		if err := td.Validate(); err != nil {
			return err
		}

		open, err := r.Transfers.Find(ctx, func(t transfer.Request) bool {
			return t.RequesterID == d.RequesterID && t.Status.Open()
		})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("%w (transfer %s)", transfer.ErrPendingExists, open[0].ID)
		}

		snapshot, err := e.evaluate(ctx, b, d.RequestedUnitID, now)
		if err != nil {
			return err
		}
		t, err := transfer.New(generic.NewID("trf"), td, snapshot, now)
		if err != nil {
			return err
		}
		if result, err = r.Transfers.Insert(ctx, t); err != nil {
			return err
		}
		out.add(generic.EventTransferRequested, t.ID, now, map[string]string{
			"contract_id":       c.ID,
			"requested_unit_id": d.RequestedUnitID,
			"eligible":          fmt.Sprint(snapshot.Eligible),
		})
		return nil
	})
	return result, err
}

func (e *Engine) GetTransfer(ctx context.Context, id string) (transfer.Request, error) {
	return e.store.Repos().Transfers.Get(ctx, id)
}

// EvaluateTransfer runs the eligibility checks without writing anything.
func (e *Engine) EvaluateTransfer(ctx context.Context, contractID, requestedUnitID string) (transfer.Eligibility, error) {
	c, b, err := e.transferSubject(ctx, e.store.Repos(), contractID)
	if err != nil {
		return transfer.Eligibility{}, err
	}
	if requestedUnitID == c.UnitID {
		return transfer.Eligibility{}, transfer.ErrAlreadyInUnit
	}
	return e.evaluate(ctx, b, requestedUnitID, e.now())
}

// ApproveTransfer re-runs the evaluation and approves only if it passes.
// The requester can never approve their own request.
func (e *Engine) ApproveTransfer(ctx context.Context, actor generic.Actor, transferID string) (transfer.Request, error) {
	return e.updateTransfer(ctx, transferID, func(r store.Repos, t transfer.Request, now time.Time, out *outbox) (transfer.Request, error) {
		c, b, err := e.transferSubject(ctx, r, t.ContractID)
		if err != nil {
			return t, err
		}
		if err := e.mayDecide(actor, t, c); err != nil {
			return t, err
		}
		fresh, err := e.evaluate(ctx, b, t.RequestedUnitID, now)
		if err != nil {
			return t, err
		}
		if t, err = transfer.Approve(t, actor.ID, fresh, now); err != nil {
			return t, err
		}
		out.add(generic.EventTransferApproved, t.ID, now, map[string]string{
			"approver_id":       actor.ID,
			"contract_id":       t.ContractID,
			"requested_unit_id": t.RequestedUnitID,
		})
		return t, nil
	})
}

// RejectTransfer declines an open request.
func (e *Engine) RejectTransfer(ctx context.Context, actor generic.Actor, transferID, reason string) (transfer.Request, error) {
	return e.updateTransfer(ctx, transferID, func(r store.Repos, t transfer.Request, now time.Time, out *outbox) (transfer.Request, error) {
		c, err := r.Contracts.Get(ctx, t.ContractID)
		if err != nil {
			return t, err
		}
		if err := e.mayDecide(actor, t, c); err != nil {
			return t, err
		}
		if t, err = transfer.Reject(t, actor.ID, reason, now); err != nil {
			return t, err
		}
		out.add(generic.EventTransferRejected, t.ID, now, map[string]string{"approver_id": actor.ID, "reason": reason})
		return t, nil
	})
}

// RequestTransferInfo parks a pending request until the tenant answers.
func (e *Engine) RequestTransferInfo(ctx context.Context, actor generic.Actor, transferID, question string) (transfer.Request, error) {
	return e.updateTransfer(ctx, transferID, func(r store.Repos, t transfer.Request, now time.Time, out *outbox) (transfer.Request, error) {
		c, err := r.Contracts.Get(ctx, t.ContractID)
		if err != nil {
			return t, err
		}
		if err := e.mayDecide(actor, t, c); err != nil {
			return t, err
		}
		if t, err = transfer.RequestInfo(t, actor.ID, question, now); err != nil {
			return t, err
		}
		out.add(generic.EventTransferInfoRequested, t.ID, now, map[string]string{"operator_id": actor.ID, "question": question})
		return t, nil
	})
}

// ProvideTransferInfo answers an information request. The snapshot is
// refreshed because the ledger may have moved while the request waited.
func (e *Engine) ProvideTransferInfo(ctx context.Context, requesterID, transferID, answer string) (transfer.Request, error) {
	return e.updateTransfer(ctx, transferID, func(r store.Repos, t transfer.Request, now time.Time, out *outbox) (transfer.Request, error) {
		_, b, err := e.transferSubject(ctx, r, t.ContractID)
		if err != nil {
			return t, err
		}
		snapshot, err := e.evaluate(ctx, b, t.RequestedUnitID, now)
		if err != nil {
			return t, err
		}
		return transfer.ProvideInfo(t, requesterID, answer, snapshot, now)
	})
}

// CompleteTransfer records that the relocation of an approved request happened.
func (e *Engine) CompleteTransfer(ctx context.Context, actor generic.Actor, transferID string) (transfer.Request, error) {
	if err := requireOperator(actor, "transfer", transferID); err != nil {
		return transfer.Request{}, err
	}
	return e.updateTransfer(ctx, transferID, func(_ store.Repos, t transfer.Request, now time.Time, out *outbox) (transfer.Request, error) {
		t, err := transfer.Complete(t, now)
		if err != nil {
			return t, err
		}
		out.add(generic.EventTransferCompleted, t.ID, now, map[string]string{
			"contract_id":       t.ContractID,
			"current_unit_id":   t.CurrentUnitID,
			"requested_unit_id": t.RequestedUnitID,
		})
		return t, nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// transferSubject loads the active rent contract and its booking.
func (e *Engine) transferSubject(ctx context.Context, r store.Repos, contractID string) (contract.Contract, booking.Booking, error) {
	c, err := r.Contracts.Get(ctx, contractID)
	if err != nil {
		return c, booking.Booking{}, err
	}
	if c.Kind != contract.KindRent {
		return c, booking.Booking{}, transfer.ErrNotRentContract
	}
	if c.Status != contract.StatusActive || c.BookingID == "" {
		return c, booking.Booking{}, contract.ErrNotActive
	}
	b, err := r.Bookings.Get(ctx, c.BookingID)
	return c, b, err
}

func (e *Engine) evaluate(ctx context.Context, b booking.Booking, unitID string, now time.Time) (transfer.Eligibility, error) {
	available, err := e.catalog.IsAvailable(ctx, unitID)
	if err != nil {
		return transfer.Eligibility{}, fmt.Errorf("failed to check unit availability: %w", err)
	}
	return transfer.Evaluate(b.Ledger, available, now), nil
}

// mayDecide passes operators and the grantor of the contract; the domain
// transition still refuses the requester.
func (e *Engine) mayDecide(actor generic.Actor, t transfer.Request, c contract.Contract) error {
	if actor.ID == t.RequesterID {
		return transfer.ErrSelfDecision
	}
	return authorize(actor, "transfer", t.ID, c.GrantorID)
}

func (e *Engine) updateTransfer(ctx context.Context, transferID string, fn func(store.Repos, transfer.Request, time.Time, *outbox) (transfer.Request, error)) (transfer.Request, error) {
	var result transfer.Request
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		t, err := r.Transfers.Get(ctx, transferID)
		if err != nil {
			return err
		}
		if t, err = fn(r, t, e.now(), out); err != nil {
			return err
		}
		result, err = r.Transfers.Update(ctx, t)
		return err
	})
	return result, err
}
