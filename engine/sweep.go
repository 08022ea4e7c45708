package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
	"github.com/warp/lease-engine/store"
)

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Scanned      int `json:"scanned"`
	Bookings     int `json:"bookings"`     // bookings with newly overdue installments
	Installments int `json:"installments"` // installments marked overdue
	Conflicts    int `json:"conflicts"`    // bookings skipped because a writer got there first
}

// SweepOverdue marks every pending installment whose due day has passed as
// overdue. Rewards are left alone: an overdue installment that is paid later
// is judged as a late payment at that point. Each booking is swept in its
// own transaction. The sweep is idempotent: a second run changes nothing,
// and a booking lost to a concurrent writer is picked up by the next run.
func (e *Engine) SweepOverdue(ctx context.Context) (SweepResult, error) {
	candidates, err := e.store.Repos().Bookings.Find(ctx, func(b booking.Booking) bool {
		return b.Status.Live() && len(b.Ledger) > 0
	})
	if err != nil {
		return SweepResult{}, err
	}

	var (
		res  = SweepResult{Scanned: len(candidates)}
		errs []error
	)
	for _, c := range candidates {
		n, err := e.sweepBooking(ctx, c.ID)
		switch {
		case generic.IsRetryable(err):
			res.Conflicts++
		case err != nil:
			errs = append(errs, err)
		case n > 0:
			res.Bookings++
			res.Installments += n
		}
	}

	e.logger.InfoContext(ctx, "overdue sweep finished",
		slog.Int("scanned", res.Scanned),
		slog.Int("bookings", res.Bookings),
		slog.Int("installments", res.Installments),
		slog.Int("conflicts", res.Conflicts),
	)
	return res, errors.Join(errs...)
}

func (e *Engine) sweepBooking(ctx context.Context, bookingID string) (int, error) {
	var changed []ledger.Installment
	err := e.tx(ctx, func(r store.Repos, out *outbox) error {
		now := e.now()
		b, err := r.Bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		b, changed = booking.SweepOverdue(b, now)
		if len(changed) == 0 {
			return nil
		}
		if b, err = r.Bookings.Update(ctx, b); err != nil {
			return err
		}

		for _, inst := range changed {
			out.add(generic.EventInstallmentOverdue, b.ID, now, map[string]string{
				"sequence":        strconv.Itoa(inst.Sequence),
				"due_date":        inst.DueDate.Format("2006-01-02"),
				"amount":          inst.Amount.String(),
				"counterparty_id": b.CounterpartyID,
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}
