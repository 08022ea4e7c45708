package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
)

// =============================================================================
// BOOKINGS
// =============================================================================

// CreateBooking opens a pending booking outside the contract flow.
func (e *Engine) CreateBooking(ctx context.Context, actor generic.Actor, d booking.Draft) (booking.Booking, error) {
	if err := d.Validate(); err != nil {
		return booking.Booking{}, err
	}
	if err := authorize(actor, "booking", "", d.CounterpartyID); err != nil {
		return booking.Booking{}, err
	}
	if _, err := e.catalog.GetUnit(ctx, d.UnitID); err != nil {
		return booking.Booking{}, fmt.Errorf("failed to look up unit: %w", err)
	}
	if _, err := e.directory.GetUser(ctx, d.CounterpartyID); err != nil {
		return booking.Booking{}, fmt.Errorf("failed to look up counterparty: %w", err)
	}

	var result booking.Booking
	err := e.tx(ctx, func(r store.Repos, _ *outbox) error {
		if err := e.ensureSlotFree(ctx, r, d); err != nil {
			return err
		}
		b, err := booking.New(generic.NewID("bkg"), d, e.now())
		if err != nil {
			return err
		}
		result, err = r.Bookings.Insert(ctx, b)
		return err
	})
	return result, err
}

// ensureSlotFree rejects a second live booking for the same unit,
// counterparty and kind. Callers run it inside the writing transaction.
func (e *Engine) ensureSlotFree(ctx context.Context, r store.Repos, d booking.Draft) error {
	held, err := r.Bookings.Find(ctx, func(b booking.Booking) bool {
		return b.Holds(d.UnitID, d.CounterpartyID, d.Kind)
	})
	if err != nil {
		return err
	}
	if len(held) > 0 {
		return fmt.Errorf("%w (booking %s)", booking.ErrDuplicate, held[0].ID)
	}
	return nil
}

func (e *Engine) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	return e.store.Repos().Bookings.Get(ctx, id)
}

// ListBookings returns the bookings of a counterparty, or all of them when
// counterpartyID is empty.
func (e *Engine) ListBookings(ctx context.Context, counterpartyID string) ([]booking.Booking, error) {
	return e.store.Repos().Bookings.Find(ctx, func(b booking.Booking) bool {
		return counterpartyID == "" || b.CounterpartyID == counterpartyID
	})
}

// ApproveBooking accepts a pending booking and generates its ledger.
func (e *Engine) ApproveBooking(ctx context.Context, actor generic.Actor, bookingID string) (booking.Booking, error) {
	if err := requireOperator(actor, "booking", bookingID); err != nil {
		return booking.Booking{}, err
	}
	return e.updateBooking(ctx, bookingID, func(_ store.Repos, b booking.Booking, now time.Time, out *outbox) (booking.Booking, error) {
		b, err := booking.Approve(b, actor.ID, now)
		if err != nil {
			return b, err
		}
		out.add(generic.EventBookingApproved, b.ID, now, map[string]string{"approver_id": actor.ID, "unit_id": b.UnitID})
		return b, nil
	})
}

// RejectBooking declines a pending booking.
func (e *Engine) RejectBooking(ctx context.Context, actor generic.Actor, bookingID, reason string) (booking.Booking, error) {
	if err := requireOperator(actor, "booking", bookingID); err != nil {
		return booking.Booking{}, err
	}
	return e.updateBooking(ctx, bookingID, func(_ store.Repos, b booking.Booking, now time.Time, out *outbox) (booking.Booking, error) {
		b, err := booking.Reject(b, actor.ID, reason, now)
		if err != nil {
			return b, err
		}
		out.add(generic.EventBookingRejected, b.ID, now, map[string]string{"approver_id": actor.ID, "reason": reason})
		return b, nil
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentReceipt is the outcome of MarkInstallmentPaid.
type PaymentReceipt struct {
	Booking     booking.Booking           `json:"booking"`
	Installment ledger.Installment        `json:"installment"`
	OnTime      bool                      `json:"on_time"`
	DaysLate    int                       `json:"days_late"`
	Completed   bool                      `json:"completed"`
	Reward      *rewards.CommitmentReward `json:"reward,omitempty"`
}

// MarkInstallmentPaid settles one installment and feeds the contract's
// reward. Paying the last open installment completes the booking.
func (e *Engine) MarkInstallmentPaid(ctx context.Context, actor generic.Actor, bookingID string, p ledger.Payment) (PaymentReceipt, error) {
	var receipt PaymentReceipt
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		now := e.now()
		b, err := r.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := authorize(actor, "booking", b.ID, b.CounterpartyID); err != nil {
			return err
		}
		if p.PaidAt.IsZero() {
			p.PaidAt = now
		}

		b, res, err := booking.Pay(b, p, now)
		if err != nil {
			return err
		}
		if b, err = r.Bookings.Update(ctx, b); err != nil {
			return err
		}
		receipt = PaymentReceipt{
			Booking:     b,
			Installment: res.Installment,
			OnTime:      res.OnTime,
			DaysLate:    res.DaysLate,
			Completed:   res.Completed,
		}

		inst := res.Installment
		out.add(generic.EventInstallmentPaid, b.ID, now, map[string]string{
			"sequence":  strconv.Itoa(inst.Sequence),
			"amount":    inst.PaidAmount.String(),
			"on_time":   strconv.FormatBool(res.OnTime),
			"reference": inst.Reference,
		})
		if res.Completed {
			out.add(generic.EventBookingCompleted, b.ID, now, map[string]string{"contract_id": b.ContractID})
			out.add(generic.EventResourceReleased, b.ID, now, map[string]string{"unit_id": b.UnitID, "contract_id": b.ContractID})
		}

		if b.ContractID == "" {
			return nil
		}
		rw, err := e.feedReward(ctx, r, rewards.IDForContract(b.ContractID), out, func(rw rewards.CommitmentReward) (rewards.CommitmentReward, rewards.Change, error) {
			return rewards.RecordPayment(rw, inst.DueDate, *inst.PaidAt, inst.PaidAmount, now)
		})
		if err != nil {
			return err
		}
		receipt.Reward = rw
		return nil
	})
	return receipt, err
}

// UpdateInstallment changes the payment method or appends a note.
func (e *Engine) UpdateInstallment(ctx context.Context, actor generic.Actor, bookingID string, sequence int, c booking.InstallmentChange) (booking.Booking, error) {
	return e.updateBooking(ctx, bookingID, func(_ store.Repos, b booking.Booking, now time.Time, _ *outbox) (booking.Booking, error) {
		if err := authorize(actor, "booking", b.ID, b.CounterpartyID); err != nil {
			return b, err
		}
		return booking.UpdateInstallment(b, sequence, c, now)
	})
}

// PaymentCaptured is the gateway's notification of a collected payment.
// Reference has the form "<booking id>/<sequence>".
type PaymentCaptured struct {
	Reference  string    `json:"reference"`
	Amount     string    `json:"amount"`
	CapturedAt time.Time `json:"captured_at"`
}

// ParsePaymentReference splits a gateway reference into booking id and sequence.
func ParsePaymentReference(ref string) (string, int, error) {
	i := strings.LastIndex(ref, "/")
	if i <= 0 {
		return "", 0, generic.Invalid("payment", "malformed reference %q", ref)
	}
	seq, err := strconv.Atoi(ref[i+1:])
	if err != nil || seq <= 0 {
		return "", 0, generic.Invalid("payment", "malformed reference %q", ref)
	}
	return ref[:i], seq, nil
}

// CapturePayment maps a gateway capture onto MarkInstallmentPaid.
func (e *Engine) CapturePayment(ctx context.Context, pc PaymentCaptured) (PaymentReceipt, error) {
	bookingID, seq, err := ParsePaymentReference(pc.Reference)
	if err != nil {
		return PaymentReceipt{}, err
	}
	p := ledger.Payment{Sequence: seq, PaidAt: pc.CapturedAt, Reference: pc.Reference}
	if pc.Amount != "" {
		if p.Amount, err = parseAmount(pc.Amount); err != nil {
			return PaymentReceipt{}, err
		}
	}
	return e.MarkInstallmentPaid(ctx, generic.SystemActor, bookingID, p)
}

// updateBooking loads one booking, applies fn and writes the result.
func (e *Engine) updateBooking(ctx context.Context, bookingID string, fn func(store.Repos, booking.Booking, time.Time, *outbox) (booking.Booking, error)) (booking.Booking, error) {
	var result booking.Booking
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		b, err := r.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		if b, err = fn(r, b, e.now(), out); err != nil {
			return err
		}
		result, err = r.Bookings.Update(ctx, b)
		return err
	})
	return result, err
}
