/*
handlers.go - HTTP API handlers for the lease engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates every decision to engine.Engine.

ENDPOINTS:
  Contracts:
    POST   /api/contracts                          Draft a contract
    GET    /api/contracts                          List (?party_id=&status=)
    GET    /api/contracts/{id}                     Get contract
    DELETE /api/contracts/{id}                     Delete a draft
    POST   /api/contracts/{id}/sign                Sign as the actor
    POST   /api/contracts/{id}/cancellation        Request cancellation
    POST   /api/contracts/{id}/cancellation/approve
    POST   /api/contracts/{id}/cancellation/reject
    PUT    /api/contracts/{id}/status              Administrative status change
    GET    /api/contracts/{id}/reward              Reward with progress
    POST   /api/contracts/{id}/reward/claim
    POST   /api/contracts/{id}/reward/payments     Record a payment by hand
    POST   /api/contracts/{id}/reward/missed       Record a miss by hand

  Bookings:
    POST   /api/bookings                           Direct booking
    GET    /api/bookings                           List (?counterparty_id=)
    GET    /api/bookings/{id}
    POST   /api/bookings/{id}/approve
    POST   /api/bookings/{id}/reject
    POST   /api/bookings/{id}/installments/{seq}/pay
    PUT    /api/bookings/{id}/installments/{seq}   Method / note

  Transfers:
    POST   /api/transfers
    GET    /api/transfers/eligibility              (?contract_id=&unit_id=)
    GET    /api/transfers/{id}
    POST   /api/transfers/{id}/approve
    POST   /api/transfers/{id}/reject
    POST   /api/transfers/{id}/request-info
    POST   /api/transfers/{id}/provide-info
    POST   /api/transfers/{id}/complete

  Other:
    POST   /api/payments/captured                  Gateway callback
    POST   /api/admin/sweep                        Run the overdue sweep now
    GET    /api/units                              In-memory catalog
    POST   /api/units

ACTOR:
  Authentication happens in front of this service. The caller's identity
  arrives in X-Actor-ID and X-Actor-Role (user | operator, default user).
  Mutating endpoints reject requests without X-Actor-ID.

ERROR HANDLING:
  Engine errors are mapped by kind:
  - 400: Validation
  - 403: Authorization
  - 404: NotFound
  - 409: Conflict (stale version, duplicate, wrong state)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/transfer"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Handler holds the dependencies of all HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Units  *catalog.Memory // nil when the catalog lives elsewhere
	Logger *slog.Logger
}

func NewHandler(e *engine.Engine, units *catalog.Memory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: e, Units: units, Logger: logger}
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// CreateContract drafts a new contract.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := req.draft()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Engine.CreateContract(r.Context(), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListContracts returns contracts, optionally filtered by party and status.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cs, err := h.Engine.ListContracts(r.Context(), engine.ContractFilter{
		PartyID: q.Get("party_id"),
		Status:  contract.Status(q.Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cs == nil {
		cs = []contract.Contract{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.GetContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteContract removes a contract that is still a draft.
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteDraftContract(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignContract records the actor's signature. The second signature
// activates the contract.
func (h *Handler) SignContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req SignContractRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Engine.SignContract(r.Context(), chi.URLParam(r, "id"), actor.ID, req.Signature)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CancellationRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Engine.RequestCancellation(r.Context(), chi.URLParam(r, "id"), actor.ID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ApproveCancellation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	c, err := h.Engine.ApproveCancellation(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) RejectCancellation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	c, err := h.Engine.RejectCancellation(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateContractStatus is the operator's administrative status change.
func (h *Handler) UpdateContractStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Engine.UpdateContractStatus(r.Context(), actor, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	rw, err := h.Engine.RewardForContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(rw))
}

func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	rw, err := h.Engine.ClaimReward(r.Context(), actor.ID, rewards.IDForContract(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(rw))
}

// RecordRewardPayment records a payment on a reward outside the ledger flow.
func (h *Handler) RecordRewardPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req RewardPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	due, err := parseDate("due_date", req.DueDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	paid, err := parseDate("paid_date", req.PaidDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rw, err := h.Engine.RecordRewardPayment(r.Context(), actor, rewards.IDForContract(chi.URLParam(r, "id")), due, paid, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(rw))
}

func (h *Handler) RecordMissedPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req RewardPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	due, err := parseDate("due_date", req.DueDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rw, err := h.Engine.RecordMissedPayment(r.Context(), actor, rewards.IDForContract(chi.URLParam(r, "id")), due, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(rw))
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking creates a direct booking awaiting operator approval.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateBookingRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := req.draft(actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.Engine.CreateBooking(r.Context(), actor, d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Engine.ListBookings(r.Context(), r.URL.Query().Get("counterparty_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if bs == nil {
		bs = []booking.Booking{}
	}
	writeJSON(w, http.StatusOK, bs)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	b, err := h.Engine.ApproveBooking(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Engine.RejectBooking(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// PayInstallment marks one installment paid and returns the receipt.
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	seq, ok := sequenceParam(w, r)
	if !ok {
		return
	}
	var req PayInstallmentRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := req.payment(seq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.Engine.MarkInstallmentPaid(r.Context(), actor, chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	seq, ok := sequenceParam(w, r)
	if !ok {
		return
	}
	var req UpdateInstallmentRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Engine.UpdateInstallment(r.Context(), actor, chi.URLParam(r, "id"), seq, booking.InstallmentChange{
		Method: req.Method,
		Note:   req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// PaymentCaptured is the payment gateway callback. The reference names the
// booking and installment as "<booking id>/<sequence>".
func (h *Handler) PaymentCaptured(w http.ResponseWriter, r *http.Request) {
	var req PaymentCapturedRequest
	if !decode(w, r, &req) {
		return
	}
	pc, err := req.captured()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.Engine.CapturePayment(r.Context(), pc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

func (h *Handler) RequestTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreateTransferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.RequestTransfer(r.Context(), engine.TransferDraft{
		RequesterID:     actor.ID,
		ContractID:      req.ContractID,
		RequestedUnitID: req.RequestedUnitID,
		Reason:          req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.GetTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// TransferEligibility evaluates a hypothetical transfer without writing.
func (h *Handler) TransferEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	e, err := h.Engine.EvaluateTransfer(r.Context(), q.Get("contract_id"), q.Get("unit_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	t, err := h.Engine.ApproveTransfer(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.RejectTransfer(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) RequestTransferInfo(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req TransferInfoRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.RequestTransferInfo(r.Context(), actor, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) ProvideTransferInfo(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req TransferInfoRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.ProvideTransferInfo(r.Context(), actor.ID, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	t, err := h.Engine.CompleteTransfer(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// =============================================================================
// ADMIN AND CATALOG HANDLERS
// =============================================================================

// TriggerSweep runs the overdue sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !actor.IsOperator() {
		h.fail(w, r, generic.Forbidden("sweep", "", "operator role required"))
		return
	}
	res, err := h.Engine.SweepOverdue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	if h.Units == nil {
		writeError(w, http.StatusNotImplemented, "Catalog is external", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Units.List())
}

// RegisterUnit adds or replaces a unit in the in-memory catalog.
func (h *Handler) RegisterUnit(w http.ResponseWriter, r *http.Request) {
	if h.Units == nil {
		writeError(w, http.StatusNotImplemented, "Catalog is external", nil)
		return
	}
	var u catalog.Unit
	if !decode(w, r, &u) {
		return
	}
	if err := h.Units.Register(u); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.Units.GetUnit(r.Context(), u.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// =============================================================================
// HELPERS
// =============================================================================

// actorFrom reads the caller identity headers. ok is false when no id is set.
func actorFrom(r *http.Request) (generic.Actor, bool) {
	id := r.Header.Get(HeaderActorID)
	if id == "" {
		return generic.Actor{}, false
	}
	role := generic.RoleUser
	if generic.Role(r.Header.Get(HeaderActorRole)) == generic.RoleOperator {
		role = generic.RoleOperator
	}
	return generic.Actor{ID: id, Role: role}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (generic.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing "+HeaderActorID+" header", nil)
	}
	return actor, ok
}

func sequenceParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid installment sequence", err)
		return 0, false
	}
	return seq, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps an engine error onto a status code by its kind.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	resp := ErrorResponse{Error: err.Error(), Kind: kind}
	var ineligible *transfer.IneligibleError
	if errors.As(err, &ineligible) {
		writeJSON(w, status, struct {
			ErrorResponse
			Eligibility transfer.Eligibility `json:"eligibility"`
		}{resp, ineligible.Eligibility})
		return
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch generic.Kind(err) {
	case generic.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case generic.ErrValidation:
		return http.StatusBadRequest, "validation"
	case generic.ErrAuthorization:
		return http.StatusForbidden, "authorization"
	case generic.ErrConflict:
		return http.StatusConflict, "conflict"
	case generic.ErrInvariantViolation:
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, ""
	}
}
