package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/lease-engine/generic"
)

// =============================================================================
// TRANSFER REQUEST
// =============================================================================

type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusCompleted    Status = "completed"
	StatusAwaitingInfo Status = "awaiting_info"
)

// Open reports whether an operator can still decide on the request.
func (s Status) Open() bool { return s == StatusPending || s == StatusAwaitingInfo }

type Request struct {
	ID              string          `json:"id"`
	Version         int64           `json:"version"`
	RequesterID     string          `json:"requester_id"`
	ContractID      string          `json:"contract_id"`
	BookingID       string          `json:"booking_id"`
	CurrentUnitID   string          `json:"current_unit_id"`
	RequestedUnitID string          `json:"requested_unit_id"`
	Reason          string          `json:"reason"`
	Status          Status          `json:"status"`
	Eligibility     Eligibility     `json:"eligibility"`
	PaymentHistory  []PaymentRecord `json:"payment_history"`
	DecidedBy       string          `json:"decided_by,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	InfoRequest     string          `json:"info_request,omitempty"`
	Notes           []string        `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r Request) DocumentID() string     { return r.ID }
func (r Request) DocumentVersion() int64 { return r.Version }
func (r Request) WithVersion(v int64) Request {
	r.Version = v
	return r
}

var _ generic.Document[Request] = Request{}

var (
	ErrAlreadyInUnit   = fmt.Errorf("%w: already in this unit", generic.ErrValidation)
	ErrNotRentContract = fmt.Errorf("%w: transfers apply only to rent contracts", generic.ErrValidation)
	ErrNotOpen         = fmt.Errorf("%w: transfer request is not open", generic.ErrConflict)
	ErrNotApproved     = fmt.Errorf("%w: transfer request is not approved", generic.ErrConflict)
	ErrPendingExists   = fmt.Errorf("%w: requester already has a pending transfer request", generic.ErrConflict)
	ErrSelfDecision    = fmt.Errorf("%w: requester cannot decide on their own transfer", generic.ErrAuthorization)
	ErrNotAwaiting     = fmt.Errorf("%w: transfer request is not awaiting information", generic.ErrConflict)
	ErrNotTheTenant    = fmt.Errorf("%w: only the contract's tenant may request a transfer", generic.ErrAuthorization)
)
	ErrNotOpen        = fmt.Errorf("%w: transfer request is not open", generic.ErrConflict)
	ErrNotApproved    = fmt.Errorf("%w: transfer request is not approved", generic.ErrConflict)
	ErrPendingExists  = fmt.Errorf("%w: requester already has a pending transfer request", generic.ErrConflict)
	ErrSelfDecision   = fmt.Errorf("%w: requester cannot decide on their own transfer", generic.ErrAuthorization)
	ErrNotAwaiting    = fmt.Errorf("%w: transfer request is not awaiting information", generic.ErrConflict)
	ErrNotTheTenant   = fmt.Errorf("%w: only the contract's tenant may request a transfer", generic.ErrAuthorization)
)

// IneligibleError is returned when an approval re-validation fails.
type IneligibleError struct {
	Eligibility Eligibility
}

func (e *IneligibleError) Error() string { return e.Eligibility.Message }
func (e *IneligibleError) Unwrap() error { return generic.ErrValidation }

// Draft is the input for a new request.
type Draft struct {
	RequesterID     string
	ContractID      string
	BookingID       string
	CurrentUnitID   string
	RequestedUnitID string
	Reason          string
}

// Validate rejects a request to the unit the tenant already occupies before
// anything else is evaluated.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.RequestedUnitID) == "" {
		return generic.Invalid("transfer", "requested unit is required")
	}
	if d.RequestedUnitID == d.CurrentUnitID {
		return ErrAlreadyInUnit
	}
	if d.RequesterID == "" || d.ContractID == "" {
		return generic.Invalid("transfer", "requester and contract are required")
	}
	return nil
}

// New creates a pending request carrying the eligibility snapshot.
func New(id string, d Draft, snapshot Eligibility, now time.Time) (Request, error) {
	if err := d.Validate(); err != nil {
		return Request{}, err
	}
	return Request{
		ID:              id,
		RequesterID:     d.RequesterID,
		ContractID:      d.ContractID,
		BookingID:       d.BookingID,
		CurrentUnitID:   d.CurrentUnitID,
		RequestedUnitID: d.RequestedUnitID,
		Reason:          d.Reason,
		Status:          StatusPending,
		Eligibility:     snapshot,
		PaymentHistory:  snapshot.PaymentHistory,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Approve accepts an open request after a fresh evaluation.
func Approve(r Request, approverID string, fresh Eligibility, now time.Time) (Request, error) {
	if !r.Status.Open() {
		return r, ErrNotOpen
	}
	if approverID == r.RequesterID {
		return r, ErrSelfDecision
	}
	if !fresh.Eligible {
		return r, &IneligibleError{Eligibility: fresh}
	}
	r.Status = StatusApproved
	r.Eligibility = fresh
	r.PaymentHistory = fresh.PaymentHistory
	r.DecidedBy = approverID
	r.DecidedAt = &now
	r.UpdatedAt = now
	return r, nil
}

// Reject declines an open request.
func Reject(r Request, approverID, reason string, now time.Time) (Request, error) {
	if !r.Status.Open() {
		return r, ErrNotOpen
	}
	if approverID == r.RequesterID {
		return r, ErrSelfDecision
	}
	r.Status = StatusRejected
	r.RejectionReason = reason
	r.DecidedBy = approverID
	r.DecidedAt = &now
	r.UpdatedAt = now
	return r, nil
}

// RequestInfo parks a pending request until the tenant answers.
func RequestInfo(r Request, operatorID, question string, now time.Time) (Request, error) {
	if r.Status != StatusPending {
		return r, ErrNotOpen
	}
	if operatorID == r.RequesterID {
		return r, ErrSelfDecision
	}
	if strings.TrimSpace(question) == "" {
		return r, generic.Invalid("transfer", "question must not be empty")
	}
	r.Status = StatusAwaitingInfo
	r.InfoRequest = question
	r.UpdatedAt = now
	return r, nil
}

// ProvideInfo answers an information request and puts the request back in the queue.
func ProvideInfo(r Request, requesterID, answer string, snapshot Eligibility, now time.Time) (Request, error) {
	if r.Status != StatusAwaitingInfo {
		return r, ErrNotAwaiting
	}
	if requesterID != r.RequesterID {
		return r, generic.Forbidden("transfer", r.ID, "only the requester may answer")
	}
	r.Status = StatusPending
	r.Notes = append(append([]string(nil), r.Notes...), answer)
	r.Eligibility = snapshot
	r.PaymentHistory = snapshot.PaymentHistory
	r.UpdatedAt = now
	return r, nil
}

// Complete records that the relocation happened.
func Complete(r Request, now time.Time) (Request, error) {
	if r.Status != StatusApproved {
		return r, ErrNotApproved
	}
	r.Status = StatusCompleted
	r.UpdatedAt = now
	return r, nil
}
