/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain records
  (contract.Contract, booking.Booking, transfer.Request, ...) already carry
  JSON tags and are returned as-is; this file holds the request bodies and
  the few response wrappers that add a projection.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *DTO:      Response wrappers

DATES AND MONEY:
  Calendar dates travel as "2006-01-02" strings; payment timestamps may be
  either a date or RFC 3339. Amounts are decimal strings or numbers and are
  decoded straight into decimal.Decimal.

VALIDATION:
  Field rules live in the domain packages. DTOs only parse dates and map
  onto drafts.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
	"github.com/warp/lease-engine/rewards"
)

const dateLayout = "2006-01-02"

// =============================================================================
// CONTRACTS
// =============================================================================

// CreateContractRequest is the request to draft a contract.
type CreateContractRequest struct {
	UnitID                    string          `json:"unit_id"`
	CounterpartyID            string          `json:"counterparty_id"`
	GrantorID                 string          `json:"grantor_id"`
	Kind                      contract.Kind   `json:"kind"`
	StartDate                 string          `json:"start_date"`
	EndDate                   string          `json:"end_date,omitempty"`
	PeriodAmount              decimal.Decimal `json:"period_amount"`
	InstallmentCount          int             `json:"installment_count,omitempty"`
	Deposit                   decimal.Decimal `json:"deposit"`
	FirstInstallmentAtSigning bool            `json:"first_installment_at_signing"`
}

func (req CreateContractRequest) draft() (contract.Draft, error) {
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return contract.Draft{}, err
	}
	d := contract.Draft{
		UnitID:                    req.UnitID,
		CounterpartyID:            req.CounterpartyID,
		GrantorID:                 req.GrantorID,
		Kind:                      req.Kind,
		StartDate:                 start,
		PeriodAmount:              req.PeriodAmount,
		InstallmentCount:          req.InstallmentCount,
		Deposit:                   req.Deposit,
		FirstInstallmentAtSigning: req.FirstInstallmentAtSigning,
	}
	if req.EndDate != "" {
		end, err := parseDate("end_date", req.EndDate)
		if err != nil {
			return contract.Draft{}, err
		}
		d.EndDate = &end
	}
	return d, nil
}

// SignContractRequest carries the signature blob. The signer is the actor.
type SignContractRequest struct {
	Signature string `json:"signature"`
}

// CancellationRequest opens a cancellation on an active contract.
type CancellationRequest struct {
	Reason string `json:"reason"`
}

// StatusRequest moves a contract to a new status.
type StatusRequest struct {
	Status contract.Status `json:"status"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

// CreateBookingRequest is the request for a direct (non-contract) booking.
type CreateBookingRequest struct {
	UnitID           string          `json:"unit_id"`
	CounterpartyID   string          `json:"counterparty_id"`
	Kind             booking.Kind    `json:"kind"`
	StartDate        string          `json:"start_date"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PeriodAmount     decimal.Decimal `json:"period_amount"`
	InstallmentCount int             `json:"installment_count"`
	Deposit          decimal.Decimal `json:"deposit"`
}

func (req CreateBookingRequest) draft(actor generic.Actor) (booking.Draft, error) {
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return booking.Draft{}, err
	}
	counterparty := req.CounterpartyID
	if counterparty == "" {
		counterparty = actor.ID
	}
	return booking.Draft{
		UnitID:           req.UnitID,
		CounterpartyID:   counterparty,
		Kind:             req.Kind,
		StartDate:        start,
		TotalAmount:      req.TotalAmount,
		PeriodAmount:     req.PeriodAmount,
		InstallmentCount: req.InstallmentCount,
		Deposit:          req.Deposit,
	}, nil
}

// RejectRequest carries a free-text reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// PayInstallmentRequest marks an installment paid. Zero fields fall back to
// the scheduled amount, the current time and the installment's method.
type PayInstallmentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    string          `json:"paid_at,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Method    ledger.Method   `json:"method,omitempty"`
}

func (req PayInstallmentRequest) payment(seq int) (ledger.Payment, error) {
	p := ledger.Payment{Sequence: seq, Amount: req.Amount, Reference: req.Reference, Method: req.Method}
	if req.PaidAt != "" {
		at, err := parseTimestamp("paid_at", req.PaidAt)
		if err != nil {
			return ledger.Payment{}, err
		}
		p.PaidAt = at
	}
	return p, nil
}

// UpdateInstallmentRequest changes the method and/or appends a note.
type UpdateInstallmentRequest struct {
	Method ledger.Method `json:"method,omitempty"`
	Note   string        `json:"note,omitempty"`
}

// PaymentCapturedRequest is the payment processor's callback body.
type PaymentCapturedRequest struct {
	Reference  string `json:"reference"`
	Amount     string `json:"amount"`
	CapturedAt string `json:"captured_at,omitempty"`
}

func (req PaymentCapturedRequest) captured() (engine.PaymentCaptured, error) {
	pc := engine.PaymentCaptured{Reference: req.Reference, Amount: req.Amount}
	if req.CapturedAt != "" {
		at, err := parseTimestamp("captured_at", req.CapturedAt)
		if err != nil {
			return engine.PaymentCaptured{}, err
		}
		pc.CapturedAt = at
	}
	return pc, nil
}

// =============================================================================
// REWARDS
// =============================================================================

// RewardDTO is a reward plus its progress projection.
type RewardDTO struct {
	rewards.CommitmentReward
	Progress rewards.Progress `json:"progress"`
}

func toRewardDTO(r rewards.CommitmentReward) RewardDTO {
	return RewardDTO{CommitmentReward: r, Progress: rewards.ProgressOf(r)}
}

// RewardPaymentRequest records a payment (or a miss, when PaidDate is empty)
// on a reward by hand.
type RewardPaymentRequest struct {
	DueDate  string          `json:"due_date"`
	PaidDate string          `json:"paid_date,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

// CreateTransferRequest asks to move the actor's contract to another unit.
type CreateTransferRequest struct {
	ContractID      string `json:"contract_id"`
	RequestedUnitID string `json:"requested_unit_id"`
	Reason          string `json:"reason"`
}

// TransferInfoRequest carries an operator question or a requester answer.
type TransferInfoRequest struct {
	Message string `json:"message"`
}

// =============================================================================
// MISC
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, generic.Invalid("request", "invalid %s %q (use YYYY-MM-DD)", field, s)
	}
	return t, nil
}

// parseTimestamp accepts RFC 3339 or a plain date.
func parseTimestamp(field, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := parseDate(field, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w (or RFC 3339)", err)
	}
	return t, nil
}
