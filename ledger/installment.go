/*
Package ledger generates and tracks the installment schedule of a booking.

PURPOSE:
  A Ledger is the ordered list of monetary obligations attached to one
  booking. This package owns two components:

  Schedule Generator (schedule.go):
    Pure function from (start, count, amount) to N installments.

  Payment Tracker (tracker.go):
    Pure transitions on individual installments:
    pending -> paid | overdue | cancelled, overdue -> paid | cancelled.

  Nothing here touches storage. Every operation takes a Ledger and returns a
  new one, so the caller decides when (and under which version) to persist.

CRITICAL INVARIANTS:
  1. Sequence numbers are contiguous 1..N, N = installment count
  2. A paid installment never changes again, except for appended notes
  3. Marking a paid or cancelled installment is an error, never a no-op

SEE ALSO:
  - booking/: owns the Ledger and reacts to completion
  - transfer/: reads the Ledger to judge payment history
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
)

// =============================================================================
// INSTALLMENT
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

type Method string

const (
	MethodCard Method = "card"
	MethodCash Method = "cash"
)

func (m Method) Valid() bool { return m == MethodCard || m == MethodCash }

// Installment is one scheduled obligation inside a ledger.
type Installment struct {
	Sequence   int             `json:"sequence"`
	DueDate    time.Time       `json:"due_date"`
	Amount     decimal.Decimal `json:"amount"`
	Status     Status          `json:"status"`
	Method     Method          `json:"method"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Reference  string          `json:"reference,omitempty"`
	Notes      []string        `json:"notes,omitempty"`
}

// Open reports whether the installment still expects money.
func (i Installment) Open() bool { return i.Status == StatusPending || i.Status == StatusOverdue }

// PaidOnTime reports whether a paid installment was settled on or before its due day.
func (i Installment) PaidOnTime() bool {
	return i.Status == StatusPaid && i.PaidAt != nil && generic.OnOrBefore(*i.PaidAt, i.DueDate)
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is ordered by sequence.
type Ledger []Installment

var (
	ErrInstallmentNotFound  = fmt.Errorf("%w: installment", generic.ErrNotFound)
	ErrAlreadyPaid          = fmt.Errorf("%w: installment already paid", generic.ErrValidation)
	ErrInstallmentCancelled = fmt.Errorf("%w: installment cancelled", generic.ErrValidation)
)

// Clone returns a deep copy.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for i, inst := range l {
		if inst.PaidAt != nil {
			t := *inst.PaidAt
			inst.PaidAt = &t
		}
		inst.Notes = append([]string(nil), inst.Notes...)
		out[i] = inst
	}
	return out
}

// Get returns the installment with the given sequence.
func (l Ledger) Get(sequence int) (Installment, error) {
	idx, err := l.index(sequence)
	if err != nil {
		return Installment{}, err
	}
	return l[idx], nil
}

func (l Ledger) index(sequence int) (int, error) {
	// Validated ledgers are dense, so the position is sequence-1.
	if sequence >= 1 && sequence <= len(l) && l[sequence-1].Sequence == sequence {
		return sequence - 1, nil
	}
	for i, inst := range l {
		if inst.Sequence == sequence {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %d", ErrInstallmentNotFound, sequence)
}

// Total is the sum of scheduled amounts.
func (l Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range l {
		total = total.Add(inst.Amount)
	}
	return total
}

// Outstanding is the sum of amounts still open.
func (l Ledger) Outstanding() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range l {
		if inst.Open() {
			total = total.Add(inst.Amount)
		}
	}
	return total
}

// FullyPaid reports whether every non-cancelled installment is paid.
// An empty ledger is never "fully paid": there was nothing to complete.
func (l Ledger) FullyPaid() bool {
	paid := 0
	for _, inst := range l {
		switch inst.Status {
		case StatusPaid:
			paid++
		case StatusCancelled:
		default:
			return false
		}
	}
	return paid > 0
}

// Validate checks the contiguity invariant against the expected count.
func (l Ledger) Validate(expected int) error {
	if len(l) != expected {
		return fmt.Errorf("%w: ledger has %d installments, expected %d", generic.ErrInvariantViolation, len(l), expected)
	}
	for i, inst := range l {
		if inst.Sequence != i+1 {
			return fmt.Errorf("%w: ledger sequence gap at position %d (found %d)", generic.ErrInvariantViolation, i+1, inst.Sequence)
		}
	}
	return nil
}
