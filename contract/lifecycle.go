package contract

import (
	"fmt"
	"time"

	"github.com/warp/lease-engine/generic"
)

var (
	ErrAlreadySigned     = fmt.Errorf("%w: role has already signed", generic.ErrConflict)
	ErrNotSignable       = fmt.Errorf("%w: contract is not awaiting signatures", generic.ErrConflict)
	ErrNotSigner         = fmt.Errorf("%w: user is not a party to this contract", generic.ErrAuthorization)
	ErrNotActive         = fmt.Errorf("%w: contract is not active", generic.ErrConflict)
	ErrCancellationOpen  = fmt.Errorf("%w: a cancellation request is already pending", generic.ErrConflict)
	ErrNoCancellation    = fmt.Errorf("%w: no pending cancellation request", generic.ErrConflict)
	ErrSelfApproval      = fmt.Errorf("%w: requester cannot decide on their own cancellation", generic.ErrAuthorization)
	ErrNotDraft          = fmt.Errorf("%w: only draft contracts can be deleted", generic.ErrConflict)
	ErrDeleteForbidden   = fmt.Errorf("%w: only the grantor or an operator may delete a draft", generic.ErrAuthorization)
	ErrOperatorOnly      = fmt.Errorf("%w: status overrides need an operator", generic.ErrAuthorization)
	ErrInvalidTransition = fmt.Errorf("%w: status transition not allowed", generic.ErrConflict)
)

// =============================================================================
// SIGNING
// =============================================================================

// Sign records the signature of signerID, whose role is derived from the
// contract. It reports whether this signature activated the contract.
func Sign(c Contract, signerID, blob string, now time.Time) (Contract, bool, error) {
	if c.Status != StatusDraft && c.Status != StatusPendingSignature {
		return c, false, ErrNotSignable
	}
	role, ok := c.RoleOf(signerID)
	if !ok {
		return c, false, ErrNotSigner
	}

	at := now
	sig := Signature{Blob: blob, SignedAt: &at}
	switch role {
	case RoleCounterparty:
		if c.CounterpartySignature.Signed() {
			return c, false, ErrAlreadySigned
		}
		c.CounterpartySignature = sig
	case RoleGrantor:
		if c.GrantorSignature.Signed() {
			return c, false, ErrAlreadySigned
		}
		c.GrantorSignature = sig
	}

	c.UpdatedAt = now
	if c.CounterpartySignature.Signed() && c.GrantorSignature.Signed() {
		c.Status = StatusActive
		return c, true, nil
	}
	c.Status = StatusPendingSignature
	return c, false, nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// RequestCancellation opens a cancellation request; the contract stays active.
func RequestCancellation(c Contract, requesterID, reason string, now time.Time) (Contract, error) {
	if c.Status != StatusActive {
		return c, ErrNotActive
	}
	if _, ok := c.RoleOf(requesterID); !ok {
		return c, ErrNotSigner
	}
	if c.CancellationPending() {
		return c, ErrCancellationOpen
	}
	c.Cancellation = &CancellationRequest{
		Reason:      reason,
		RequesterID: requesterID,
		RequestedAt: now,
	}
	c.UpdatedAt = now
	return c, nil
}

// decider checks that userID is the other signer of a pending request.
func decider(c Contract, userID string) error {
	if c.Status != StatusActive || !c.CancellationPending() {
		return ErrNoCancellation
	}
	if userID == c.Cancellation.RequesterID {
		return ErrSelfApproval
	}
	if _, ok := c.RoleOf(userID); !ok {
		return ErrNotSigner
	}
	return nil
}

// ApproveCancellation cancels the contract on behalf of the other signer.
func ApproveCancellation(c Contract, approverID string, now time.Time) (Contract, error) {
	if err := decider(c, approverID); err != nil {
		return c, err
	}
	req := *c.Cancellation
	req.Approved = true
	req.ResolvedBy = approverID
	req.ResolvedAt = &now
	c.Cancellation = &req
	c.Status = StatusCancelled
	c.UpdatedAt = now
	return c, nil
}

// RejectCancellation clears the request; the contract stays active.
func RejectCancellation(c Contract, rejecterID string, now time.Time) (Contract, error) {
	if err := decider(c, rejecterID); err != nil {
		return c, err
	}
	c.Cancellation = nil
	c.UpdatedAt = now
	return c, nil
}

// =============================================================================
// ADMINISTRATIVE OVERRIDES
// =============================================================================

// overrides lists the targets an operator may force from each status.
var overrides = map[Status][]Status{
	StatusDraft:            {StatusCancelled},
	StatusPendingSignature: {StatusCancelled},
	StatusActive:           {StatusCancelled, StatusCompleted, StatusTerminated},
}

// SetStatus forces a status change. Activation is only reachable by signing.
func SetStatus(c Contract, actor generic.Actor, to Status, now time.Time) (Contract, error) {
	if !actor.IsOperator() {
		return c, ErrOperatorOnly
	}
	for _, allowed := range overrides[c.Status] {
		if allowed == to {
			c.Status = to
			c.UpdatedAt = now
			return c, nil
		}
	}
	return c, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
}

// CanDelete checks that actor may remove the contract.
func CanDelete(c Contract, actor generic.Actor) error {
	if c.Status != StatusDraft {
		return ErrNotDraft
	}
	if actor.ID != c.GrantorID && !actor.IsOperator() {
		return ErrDeleteForbidden
	}
	return nil
}
