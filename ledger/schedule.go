/*
schedule.go - Installment schedule generator

RULE:
  due(k) = Start advanced by (k - 1) calendar months, k = 1..Count.
  Rent is due at the start of each period it covers, so the first
  installment is due on the start date.

  If SettledAt is set, installment 1 is created already paid at that
  instant (the first period is collected when the contract is signed).
  Otherwise every installment starts pending.

EXAMPLE:
  Generate(ScheduleInput{Start: jan31, Count: 3, Amount: 4000})
    1: Jan 31, 2: Feb 28, 3: Mar 31  (short months clamp)
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
)

// ScheduleInput describes a schedule to generate.
type ScheduleInput struct {
	Start  time.Time
	Count  int
	Amount decimal.Decimal
	Method Method // default card

	// SettledAt marks installment 1 as paid at signing time.
	SettledAt *time.Time
	Reference string // reference for the settled installment
}

// Generate produces Count installments. Rejects Count <= 0 and Amount < 0.
func Generate(in ScheduleInput) (Ledger, error) {
	if in.Count <= 0 {
		return nil, generic.Invalid("schedule", "installment count must be positive, got %d", in.Count)
	}
	if in.Amount.IsNegative() {
		return nil, generic.Invalid("schedule", "installment amount must not be negative, got %s", in.Amount)
	}
	if in.Start.IsZero() {
		return nil, generic.Invalid("schedule", "start date is required")
	}
	method := in.Method
	if method == "" {
		method = MethodCard
	}
	if !method.Valid() {
		return nil, generic.Invalid("schedule", "unknown payment method %q", method)
	}

	start := generic.Day(in.Start)
	l := make(Ledger, in.Count)
	for k := 1; k <= in.Count; k++ {
		l[k-1] = Installment{
			Sequence:   k,
			DueDate:    generic.AddMonths(start, k-1),
			Amount:     in.Amount,
			Status:     StatusPending,
			Method:     method,
			PaidAmount: decimal.Zero,
		}
	}

	if in.SettledAt != nil {
		paidAt := in.SettledAt.UTC()
		l[0].Status = StatusPaid
		l[0].PaidAt = &paidAt
		l[0].PaidAmount = in.Amount
		l[0].Reference = in.Reference
	}
	return l, nil
}
