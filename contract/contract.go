/*
Package contract implements the contract lifecycle state machine.

PURPOSE:
  A Contract is the agreement between a grantor (landlord or seller) and a
  counterparty (tenant or buyer) for one unit. This package owns its
  shape, its validation and every legal transition. It never touches
  storage: each transition takes a Contract and returns the next one, and
  the engine persists the result under the version it was read at.

STATUS FLOW:
  ┌───────┐ first signature ┌───────────────────┐ second signature ┌────────┐
  │ draft │ ──────────────▶ │ pending_signature │ ───────────────▶ │ active │
  └───────┘                 └───────────────────┘                  └────────┘
      │  delete (grantor/operator)                                     │
      ▼                                  cancellation approved ────────┤
   (gone)                                operator override ────────────┤
                                                                       ▼
                                        cancelled | completed | terminated

  Activation is reported by Sign; creating the booking, the ledger and the
  reward is the engine's job and happens in the same transaction.

CANCELLATION:
  Either signer may request cancellation of an active contract. The other
  signer approves (contract -> cancelled) or rejects (request cleared). A
  signer can never decide on their own request.

SEE ALSO:
  - lifecycle.go: Sign, cancellation, status override, deletion rules
  - engine/contracts.go: atomic activation and cascades
*/
package contract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
)

// =============================================================================
// CONTRACT
// =============================================================================

type Kind string

const (
	KindRent Kind = "rent"
	KindSale Kind = "sale"
)

func (k Kind) Valid() bool { return k == KindRent || k == KindSale }

type Status string

const (
	StatusDraft            Status = "draft"
	StatusPendingSignature Status = "pending_signature"
	StatusActive           Status = "active"
	StatusCancelled        Status = "cancelled"
	StatusCompleted        Status = "completed"
	StatusTerminated       Status = "terminated"
)

// Closed reports whether the contract has left the active phase for good.
func (s Status) Closed() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusTerminated
}

type Role string

const (
	RoleCounterparty Role = "counterparty"
	RoleGrantor      Role = "grantor"
)

// Signature is one signing slot.
type Signature struct {
	Blob     string     `json:"blob,omitempty"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

func (s Signature) Signed() bool { return s.SignedAt != nil }

// CancellationRequest is set while a signer asks to end an active contract.
type CancellationRequest struct {
	Reason      string     `json:"reason"`
	RequesterID string     `json:"requester_id"`
	RequestedAt time.Time  `json:"requested_at"`
	Approved    bool       `json:"approved"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type Contract struct {
	ID               string          `json:"id"`
	Version          int64           `json:"version"`
	UnitID           string          `json:"unit_id"`
	CounterpartyID   string          `json:"counterparty_id"`
	GrantorID        string          `json:"grantor_id"`
	Kind             Kind            `json:"kind"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          *time.Time      `json:"end_date,omitempty"`
	PeriodAmount     decimal.Decimal `json:"period_amount"` // sale price for sale contracts
	InstallmentCount int             `json:"installment_count,omitempty"`
	Deposit          decimal.Decimal `json:"deposit"`

	// FirstInstallmentAtSigning marks installment 1 collected when the
	// second signature lands.
	FirstInstallmentAtSigning bool `json:"first_installment_at_signing"`

	CounterpartySignature Signature            `json:"counterparty_signature"`
	GrantorSignature      Signature            `json:"grantor_signature"`
	Status                Status               `json:"status"`
	Cancellation          *CancellationRequest `json:"cancellation,omitempty"`

	BookingID string `json:"booking_id,omitempty"`
	RewardID  string `json:"reward_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Contract) DocumentID() string     { return c.ID }
func (c Contract) DocumentVersion() int64 { return c.Version }
func (c Contract) WithVersion(v int64) Contract {
	c.Version = v
	return c
}

var _ generic.Document[Contract] = Contract{}

// RoleOf returns the signing role of a user on this contract.
func (c Contract) RoleOf(userID string) (Role, bool) {
	switch userID {
	case c.CounterpartyID:
		return RoleCounterparty, true
	case c.GrantorID:
		return RoleGrantor, true
	}
	return "", false
}

// CancellationPending reports whether a cancellation request awaits a decision.
func (c Contract) CancellationPending() bool {
	return c.Cancellation != nil && c.Cancellation.ResolvedAt == nil
}

// TotalAmount is the whole value of the contract.
func (c Contract) TotalAmount() decimal.Decimal {
	if c.Kind == KindRent {
		return c.PeriodAmount.Mul(decimal.NewFromInt(int64(c.InstallmentCount)))
	}
	return c.PeriodAmount
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// Draft is the input for a new contract.
type Draft struct {
	UnitID                    string
	CounterpartyID            string
	GrantorID                 string
	Kind                      Kind
	StartDate                 time.Time
	EndDate                   *time.Time
	PeriodAmount              decimal.Decimal
	InstallmentCount          int
	Deposit                   decimal.Decimal
	FirstInstallmentAtSigning bool
}

// Validate checks the fields required by the contract kind.
func (d Draft) Validate() error {
	switch {
	case strings.TrimSpace(d.UnitID) == "":
		return generic.Invalid("contract", "unit is required")
	case d.CounterpartyID == "" || d.GrantorID == "":
		return generic.Invalid("contract", "counterparty and grantor are required")
	case d.CounterpartyID == d.GrantorID:
		return generic.Invalid("contract", "counterparty and grantor must differ")
	case !d.Kind.Valid():
		return generic.Invalid("contract", "unknown kind %q", d.Kind)
	case d.StartDate.IsZero():
		return generic.Invalid("contract", "start date is required")
	case d.PeriodAmount.IsNegative() || d.Deposit.IsNegative():
		return generic.Invalid("contract", "amounts must not be negative")
	}
	if d.Kind == KindRent {
		if d.EndDate == nil {
			return generic.Invalid("contract", "rent contracts need an end date")
		}
		if !generic.DayBefore(d.StartDate, *d.EndDate) {
			return generic.Invalid("contract", "end date must be after start date")
		}
		if d.InstallmentCount <= 0 {
			return generic.Invalid("contract", "rent contracts need a positive installment count, got %d", d.InstallmentCount)
		}
	}
	return nil
}

// New builds a draft contract. Sale contracts drop the rent-only fields.
func New(id string, d Draft, now time.Time) (Contract, error) {
	if err := d.Validate(); err != nil {
		return Contract{}, err
	}
	c := Contract{
		ID:                        id,
		UnitID:                    d.UnitID,
		CounterpartyID:            d.CounterpartyID,
		GrantorID:                 d.GrantorID,
		Kind:                      d.Kind,
		StartDate:                 generic.Day(d.StartDate),
		PeriodAmount:              d.PeriodAmount,
		Deposit:                   d.Deposit,
		FirstInstallmentAtSigning: d.FirstInstallmentAtSigning,
		Status:                    StatusDraft,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if d.Kind == KindRent {
		end := generic.Day(*d.EndDate)
		c.EndDate = &end
		c.InstallmentCount = d.InstallmentCount
	} else {
		c.FirstInstallmentAtSigning = false
	}
	return c, nil
}
