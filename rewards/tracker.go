package rewards

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
)

// =============================================================================
// TRACKER - pure transitions, each returns a new value
// =============================================================================

// Change reports which status transition (if any) a call caused.
type Change struct {
	From, To Status
}

func (c Change) Changed() bool { return c.From != c.To }

// RecordPayment appends a payment and counts it as on time when the paid
// day is on or before the due day. The first late payment forfeits an
// earning reward, however many on-time payments came before it.
func RecordPayment(r CommitmentReward, dueDate, paidDate time.Time, amount decimal.Decimal, now time.Time) (CommitmentReward, Change, error) {
	if dueDate.IsZero() || paidDate.IsZero() {
		return r, Change{}, generic.Invalid("reward", "due date and paid date are required")
	}
	if amount.IsNegative() {
		return r, Change{}, generic.Invalid("reward", "amount must not be negative")
	}
	if r.Status == StatusClaimed {
		return r, Change{}, ErrRewardClosed
	}
	from := r.Status
	r = r.clone()

	paid := paidDate.UTC()
	entry := HistoryEntry{DueDate: generic.Day(dueDate), PaidDate: &paid, Amount: amount, RecordedAt: now}
	if generic.OnOrBefore(paidDate, dueDate) {
		entry.Outcome = OutcomeOnTime
		r.PaymentsOnTime++
	} else {
		entry.Outcome = OutcomeLate
		r.LatePayments++
	}
	r.History = append(r.History, entry)
	r.UpdatedAt = now

	switch {
	case r.Status != StatusEarning:
	case entry.Outcome == OutcomeLate:
		r = forfeit(r, ReasonPaidLate, now)
	case r.PaymentsOnTime >= r.TotalPayments && r.LatePayments == 0 && r.MissedPayments == 0:
		r.Status = StatusEarned
		r.EarnedAt = &now
	}
	return r, Change{From: from, To: r.Status}, nil
}

// RecordMissedPayment counts a missed installment and forfeits an earning reward.
func RecordMissedPayment(r CommitmentReward, dueDate time.Time, amount decimal.Decimal, now time.Time) (CommitmentReward, Change, error) {
	if r.Status == StatusClaimed {
		return r, Change{}, ErrRewardClosed
	}
	from := r.Status
	r = r.clone()
	r.MissedPayments++
	r.History = append(r.History, HistoryEntry{DueDate: generic.Day(dueDate), Amount: amount, Outcome: OutcomeMissed, RecordedAt: now})
	r.UpdatedAt = now
	if r.Status == StatusEarning {
		r = forfeit(r, ReasonMissed, now)
	}
	return r, Change{From: from, To: r.Status}, nil
}

// Claim moves an earned reward to claimed. Only the owner may claim.
func Claim(r CommitmentReward, requesterID string, now time.Time) (CommitmentReward, error) {
	if r.Status.Terminal() {
		return r, ErrRewardClosed
	}
	if r.Status != StatusEarned {
		return r, ErrNotEarned
	}
	if requesterID != r.OwnerID {
		return r, ErrNotOwner
	}
	r = r.clone()
	r.Status = StatusClaimed
	r.ClaimedAt = &now
	r.UpdatedAt = now
	return r, nil
}

// Forfeit ends an earning reward for a reason outside the payment stream,
// e.g. the contract was cancelled.
func Forfeit(r CommitmentReward, reason string, now time.Time) (CommitmentReward, error) {
	if r.Status.Terminal() {
		return r, ErrRewardClosed
	}
	if r.Status != StatusEarning {
		return r, generic.Conflictf("reward", r.ID, "cannot forfeit a reward in status %s", r.Status)
	}
	return forfeit(r.clone(), reason, now), nil
}

func forfeit(r CommitmentReward, reason string, now time.Time) CommitmentReward {
	r.Status = StatusForfeited
	r.Eligible = false
	r.ForfeitureReason = reason
	r.ForfeitedAt = &now
	return r
}

func (r CommitmentReward) clone() CommitmentReward {
	r.History = append([]HistoryEntry(nil), r.History...)
	return r
}
