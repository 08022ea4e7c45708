/*
tracker.go - Payment ledger tracker

TRANSITIONS:
  ┌─────────┐  due date passed  ┌─────────┐
  │ pending │ ────────────────▶ │ overdue │
  └─────────┘                   └─────────┘
       │  MarkPaid                   │ MarkPaid
       ▼                             ▼
  ┌─────────┐                   ┌─────────┐
  │  paid   │                   │  paid   │   (terminal, notes only)
  └─────────┘                   └─────────┘

  CancelOpen moves every pending/overdue installment to cancelled when the
  owning booking is cancelled.

COMPLETION:
  MarkPaid reports Completed when the last open installment gets paid. The
  caller completes the booking and releases the unit; this package only
  reports the fact.
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
)

// Payment is a request to settle one installment.
type Payment struct {
	Sequence  int
	Amount    decimal.Decimal // zero means "the scheduled amount"
	PaidAt    time.Time
	Reference string
	Method    Method // optional; keeps the installment's method when empty
}

// PaymentResult describes what MarkPaid changed.
type PaymentResult struct {
	Installment Installment
	OnTime      bool
	DaysLate    int
	Completed   bool // the whole ledger is now paid
}

// MarkPaid settles one pending or overdue installment.
func MarkPaid(l Ledger, p Payment) (Ledger, PaymentResult, error) {
	idx, err := l.index(p.Sequence)
	if err != nil {
		return l, PaymentResult{}, err
	}
	switch l[idx].Status {
	case StatusPaid:
		return l, PaymentResult{}, ErrAlreadyPaid
	case StatusCancelled:
		return l, PaymentResult{}, ErrInstallmentCancelled
	}
	if p.Amount.IsNegative() {
		return l, PaymentResult{}, generic.Invalid("payment", "paid amount must not be negative, got %s", p.Amount)
	}
	if p.PaidAt.IsZero() {
		return l, PaymentResult{}, generic.Invalid("payment", "paid-at is required")
	}
	if p.Method != "" && !p.Method.Valid() {
		return l, PaymentResult{}, generic.Invalid("payment", "unknown payment method %q", p.Method)
	}

	out := l.Clone()
	inst := out[idx]
	paidAt := p.PaidAt.UTC()
	inst.Status = StatusPaid
	inst.PaidAt = &paidAt
	inst.PaidAmount = p.Amount
	if p.Amount.IsZero() {
		inst.PaidAmount = inst.Amount
	}
	inst.Reference = p.Reference
	if p.Method != "" {
		inst.Method = p.Method
	}
	out[idx] = inst

	res := PaymentResult{
		Installment: inst,
		OnTime:      inst.PaidOnTime(),
		Completed:   out.FullyPaid(),
	}
	if !res.OnTime {
		res.DaysLate = generic.DaysBetween(inst.DueDate, paidAt)
	}
	return out, res, nil
}

// UpdatePaymentMethod changes the method of a non-paid installment.
func UpdatePaymentMethod(l Ledger, sequence int, method Method) (Ledger, error) {
	if !method.Valid() {
		return l, generic.Invalid("installment", "unknown payment method %q", method)
	}
	idx, err := l.index(sequence)
	if err != nil {
		return l, err
	}
	if l[idx].Status == StatusPaid {
		return l, ErrAlreadyPaid
	}
	out := l.Clone()
	out[idx].Method = method
	return out, nil
}

// AddNote appends a corrective note. Allowed in every status.
func AddNote(l Ledger, sequence int, note string) (Ledger, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return l, generic.Invalid("installment", "note must not be empty")
	}
	idx, err := l.index(sequence)
	if err != nil {
		return l, err
	}
	out := l.Clone()
	out[idx].Notes = append(out[idx].Notes, note)
	return out, nil
}

// SweepOverdue moves every pending installment whose due day is before now
// to overdue. Idempotent: a second call with the same now changes nothing.
// Returns the installments that changed in this call.
func SweepOverdue(l Ledger, now time.Time) (Ledger, []Installment) {
	var changed []Installment
	var out Ledger
	for i, inst := range l {
		if inst.Status != StatusPending || !generic.DayBefore(inst.DueDate, now) {
			continue
		}
		if out == nil {
			out = l.Clone()
		}
		out[i].Status = StatusOverdue
		changed = append(changed, out[i])
	}
	if out == nil {
		return l, nil
	}
	return out, changed
}

// CancelOpen cancels every pending and overdue installment.
func CancelOpen(l Ledger) Ledger {
	out := l.Clone()
	for i := range out {
		if out[i].Open() {
			out[i].Status = StatusCancelled
		}
	}
	return out
}
