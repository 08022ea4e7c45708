/*
Package booking holds the operational occupancy/purchase record.

PURPOSE:
  A Booking ties a unit to a counterparty for one kind of deal (rent or
  sale) and owns the installment ledger. Bookings come from two flows:

  Contract flow:
    The contract state machine creates the booking already active when the
    second signature lands, with a ledger whose first installment was
    collected at signing.

  Direct flow (units and appliances rented without a contract):
    Create -> pending, an operator approves (ledger generated from the start
    date, nothing prepaid) or rejects. The first payment makes an approved
    booking active.

STATUS FLOW:
  pending ──approve──▶ approved ──first payment──▶ active ──last payment──▶ completed
     │                    │                          │
     └──reject──▶ rejected └──────────cancel─────────┴──▶ cancelled

INVARIANT:
  At most one booking in {pending, approved, active} per
  (unit, counterparty, kind). Enforced by the engine inside a transaction.

SEE ALSO:
  - ledger/: schedule generation and payment tracking
  - engine/bookings.go: orchestration, events, reward feedback
*/
package booking

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
)

// =============================================================================
// BOOKING
// =============================================================================

type Kind string

const (
	KindRent Kind = "rent"
	KindSale Kind = "sale"
)

func (k Kind) Valid() bool { return k == KindRent || k == KindSale }

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Live reports whether the booking holds the (unit, counterparty, kind) slot.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusApproved || s == StatusActive
}

type Booking struct {
	ID               string          `json:"id"`
	Version          int64           `json:"version"`
	ContractID       string          `json:"contract_id,omitempty"`
	UnitID           string          `json:"unit_id"`
	CounterpartyID   string          `json:"counterparty_id"`
	Kind             Kind            `json:"kind"`
	StartDate        time.Time       `json:"start_date"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PeriodAmount     decimal.Decimal `json:"period_amount"`
	InstallmentCount int             `json:"installment_count"`
	Deposit          decimal.Decimal `json:"deposit"`
	Ledger           ledger.Ledger   `json:"ledger"`
	Status           Status          `json:"status"`
	ApprovedBy       string          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (b Booking) DocumentID() string     { return b.ID }
func (b Booking) DocumentVersion() int64 { return b.Version }
func (b Booking) WithVersion(v int64) Booking {
	b.Version = v
	return b
}

var _ generic.Document[Booking] = Booking{}

// Holds reports whether b occupies the slot for the given tuple.
func (b Booking) Holds(unitID, counterpartyID string, kind Kind) bool {
	return b.Status.Live() && b.UnitID == unitID && b.CounterpartyID == counterpartyID && b.Kind == kind
}

// HasLedger reports whether bookings of this kind carry installments.
func (b Booking) HasLedger() bool { return b.Kind == KindRent }

var (
	ErrNotPending   = fmt.Errorf("%w: booking is not pending", generic.ErrConflict)
	ErrNotPayable   = fmt.Errorf("%w: booking does not accept payments", generic.ErrConflict)
	ErrDuplicate    = fmt.Errorf("%w: a live booking already exists for this unit, counterparty and kind", generic.ErrConflict)
	ErrNotCancelled = fmt.Errorf("%w: booking cannot be cancelled", generic.ErrConflict)
)

// =============================================================================
// CONSTRUCTION
// =============================================================================

// Draft is the input for a booking of either flow.
type Draft struct {
	ContractID       string
	UnitID           string
	CounterpartyID   string
	Kind             Kind
	StartDate        time.Time
	TotalAmount      decimal.Decimal // sale price; derived for rent when zero
	PeriodAmount     decimal.Decimal
	InstallmentCount int
	Deposit          decimal.Decimal
}

// Validate checks the fields required by the booking kind.
func (d Draft) Validate() error {
	switch {
	case d.UnitID == "":
		return generic.Invalid("booking", "unit is required")
	case d.CounterpartyID == "":
		return generic.Invalid("booking", "counterparty is required")
	case !d.Kind.Valid():
		return generic.Invalid("booking", "unknown kind %q", d.Kind)
	case d.Deposit.IsNegative() || d.TotalAmount.IsNegative() || d.PeriodAmount.IsNegative():
		return generic.Invalid("booking", "amounts must not be negative")
	}
	if d.Kind == KindRent {
		if d.InstallmentCount <= 0 {
			return generic.Invalid("booking", "rent bookings need a positive installment count")
		}
		if d.StartDate.IsZero() {
			return generic.Invalid("booking", "rent bookings need a start date")
		}
	}
	return nil
}

// New builds a pending booking from a validated draft.
func New(id string, d Draft, now time.Time) (Booking, error) {
	if err := d.Validate(); err != nil {
		return Booking{}, err
	}
	total := d.TotalAmount
	if d.Kind == KindRent && total.IsZero() {
		total = d.PeriodAmount.Mul(decimal.NewFromInt(int64(d.InstallmentCount)))
	}
	return Booking{
		ID:               id,
		ContractID:       d.ContractID,
		UnitID:           d.UnitID,
		CounterpartyID:   d.CounterpartyID,
		Kind:             d.Kind,
		StartDate:        generic.Day(d.StartDate),
		TotalAmount:      total,
		PeriodAmount:     d.PeriodAmount,
		InstallmentCount: d.InstallmentCount,
		Deposit:          d.Deposit,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Activate turns a freshly built booking into the active record of a
// signed contract. settledAt marks the first installment collected.
func Activate(b Booking, approverID string, now time.Time, settledAt *time.Time) (Booking, error) {
	if b.HasLedger() {
		l, err := ledger.Generate(ledger.ScheduleInput{
			Start:     b.StartDate,
			Count:     b.InstallmentCount,
			Amount:    b.PeriodAmount,
			SettledAt: settledAt,
			Reference: b.ContractID,
		})
		if err != nil {
			return b, err
		}
		b.Ledger = l
	}
	b.Status = StatusActive
	b.ApprovedBy = approverID
	b.ApprovedAt = &now
	b.UpdatedAt = now
	return b, nil
}

// Approve accepts a pending direct booking and generates its ledger.
func Approve(b Booking, approverID string, now time.Time) (Booking, error) {
	if b.Status != StatusPending {
		return b, ErrNotPending
	}
	if b.HasLedger() {
		l, err := ledger.Generate(ledger.ScheduleInput{
			Start:  b.StartDate,
			Count:  b.InstallmentCount,
			Amount: b.PeriodAmount,
		})
		if err != nil {
			return b, err
		}
		b.Ledger = l
	}
	b.Status = StatusApproved
	b.ApprovedBy = approverID
	b.ApprovedAt = &now
	b.UpdatedAt = now
	return b, nil
}

// Reject declines a pending booking.
func Reject(b Booking, approverID, reason string, now time.Time) (Booking, error) {
	if b.Status != StatusPending {
		return b, ErrNotPending
	}
	b.Status = StatusRejected
	b.ApprovedBy = approverID
	b.RejectionReason = reason
	b.UpdatedAt = now
	return b, nil
}

// Cancel closes a live booking and cancels its unpaid installments.
func Cancel(b Booking, now time.Time) (Booking, error) {
	if !b.Status.Live() {
		return b, ErrNotCancelled
	}
	b.Ledger = ledger.CancelOpen(b.Ledger)
	b.Status = StatusCancelled
	b.UpdatedAt = now
	return b, nil
}

// PaymentOutcome reports the booking-level effect of a payment.
type PaymentOutcome struct {
	ledger.PaymentResult
	Completed bool // booking moved to completed; the unit can be released
}

// Pay settles one installment and completes the booking on the last one.
func Pay(b Booking, p ledger.Payment, now time.Time) (Booking, PaymentOutcome, error) {
	if b.Status != StatusApproved && b.Status != StatusActive {
		return b, PaymentOutcome{}, ErrNotPayable
	}
	if err := b.Ledger.Validate(b.InstallmentCount); err != nil {
		return b, PaymentOutcome{}, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	l, res, err := ledger.MarkPaid(b.Ledger, p)
	if err != nil {
		return b, PaymentOutcome{}, err
	}
	b.Ledger = l
	b.Status = StatusActive
	if res.Completed {
		b.Status = StatusCompleted
	}
	b.UpdatedAt = now
	return b, PaymentOutcome{PaymentResult: res, Completed: res.Completed}, nil
}

// InstallmentChange is a partial update to an installment.
type InstallmentChange struct {
	Method ledger.Method
	Note   string
}

// UpdateInstallment changes the payment method and/or appends a note.
func UpdateInstallment(b Booking, sequence int, c InstallmentChange, now time.Time) (Booking, error) {
	if c.Method == "" && c.Note == "" {
		return b, generic.Invalid("installment", "nothing to update")
	}
	l := b.Ledger
	var err error
	if c.Method != "" {
		if l, err = ledger.UpdatePaymentMethod(l, sequence, c.Method); err != nil {
			return b, err
		}
	}
	if c.Note != "" {
		if l, err = ledger.AddNote(l, sequence, c.Note); err != nil {
			return b, err
		}
	}
	b.Ledger = l
	b.UpdatedAt = now
	return b, nil
}

// SweepOverdue marks overdue installments of a live booking.
func SweepOverdue(b Booking, now time.Time) (Booking, []ledger.Installment) {
	if !b.Status.Live() || len(b.Ledger) == 0 {
		return b, nil
	}
	l, changed := ledger.SweepOverdue(b.Ledger, now)
	if len(changed) == 0 {
		return b, nil
	}
	b.Ledger = l
	b.UpdatedAt = now
	return b, changed
}
