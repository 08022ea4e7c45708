/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Contract signing and activation over HTTP
- Installment payment and the gateway callback
- Error kind to status mapping
- Transfer approval returning the failed eligibility
- Operator-only admin routes and the in-memory catalog
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/directory"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/store/memory"
	"github.com/warp/lease-engine/transfer"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	units  *catalog.Memory
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{t: t, now: time.Date(2024, time.December, 20, 9, 0, 0, 0, time.UTC)}
	ts.units = catalog.NewMemory(
		catalog.Unit{ID: "unit-a", Status: catalog.StatusOccupied},
		catalog.Unit{ID: "unit-b", Status: catalog.StatusAvailable},
		catalog.Unit{ID: "unit-c", Status: catalog.StatusMaintenance},
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(memory.New(), ts.units, directory.Open(),
		engine.WithLogger(logger),
		engine.WithClock(func() time.Time { return ts.now }),
	)
	ts.router = NewRouter(NewHandler(eng, ts.units, logger), logger)
	return ts
}

// do sends a JSON request as actor ("" for none; "op:<id>" for an operator).
func (ts *testServer) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if len(actor) > 3 && actor[:3] == "op:" {
		req.Header.Set(HeaderActorID, actor[3:])
		req.Header.Set(HeaderActorRole, string(generic.RoleOperator))
	} else if actor != "" {
		req.Header.Set(HeaderActorID, actor)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func rentRequest() CreateContractRequest {
	return CreateContractRequest{
		UnitID:                    "unit-a",
		CounterpartyID:            "tenant-1",
		GrantorID:                 "owner-1",
		Kind:                      contract.KindRent,
		StartDate:                 "2025-01-01",
		EndDate:                   "2026-01-01",
		PeriodAmount:              generic.NewMoney(4000),
		InstallmentCount:          12,
		Deposit:                   generic.NewMoney(4000),
		FirstInstallmentAtSigning: true,
	}
}

// activeContract drafts and signs a rent contract through the API.
func (ts *testServer) activeContract() contract.Contract {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/contracts", "", rentRequest())
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeBody[contract.Contract](ts.t, rec)

	for _, signer := range []string{"tenant-1", "owner-1"} {
		rec = ts.do(http.MethodPost, "/api/contracts/"+c.ID+"/sign", signer, SignContractRequest{Signature: "sig-" + signer})
		require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return decodeBody[contract.Contract](ts.t, rec)
}

// =============================================================================
// CONTRACTS
// =============================================================================

func TestContractActivationOverHTTP(t *testing.T) {
	// GIVEN: a drafted and fully signed rent contract
	ts := newTestServer(t)
	c := ts.activeContract()

	// THEN: it is active with a booking and a reward
	assert.Equal(t, contract.StatusActive, c.Status)
	assert.NotEmpty(t, c.BookingID)
	assert.NotEmpty(t, c.RewardID)

	// WHEN: reading the reward
	rec := ts.do(http.MethodGet, "/api/contracts/"+c.ID+"/reward", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: the prepaid installment already counts
	rw := decodeBody[RewardDTO](t, rec)
	assert.Equal(t, 1, rw.Progress.PaymentsOnTime)
	assert.Equal(t, 11, rw.Progress.Remaining)

	// WHEN: listing contracts for the tenant
	rec = ts.do(http.MethodGet, "/api/contracts?party_id=tenant-1&status=active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]contract.Contract](t, rec), 1)
}

func TestPayInstallmentOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := ts.activeContract()

	// WHEN: installment 2 is paid on its due date
	rec := ts.do(http.MethodPost, "/api/bookings/"+c.BookingID+"/installments/2/pay", "tenant-1",
		PayInstallmentRequest{PaidAt: "2025-02-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the receipt says on time
	receipt := decodeBody[engine.PaymentReceipt](t, rec)
	assert.True(t, receipt.OnTime)
	assert.Equal(t, 2, receipt.Installment.Sequence)

	// WHEN: the same installment is paid again
	rec = ts.do(http.MethodPost, "/api/bookings/"+c.BookingID+"/installments/2/pay", "tenant-1", PayInstallmentRequest{})

	// THEN: it is a validation error
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeBody[ErrorResponse](t, rec).Kind)

	rec = ts.do(http.MethodPost, "/api/bookings/"+c.BookingID+"/installments/zero/pay", "tenant-1", PayInstallmentRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentCapturedOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := ts.activeContract()

	rec := ts.do(http.MethodPost, "/api/payments/captured", "", PaymentCapturedRequest{
		Reference:  c.BookingID + "/2",
		Amount:     "4000.00",
		CapturedAt: "2025-01-31T10:15:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[engine.PaymentReceipt](t, rec).OnTime)

	rec = ts.do(http.MethodPost, "/api/payments/captured", "", PaymentCapturedRequest{Reference: "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorKindsMapToStatus(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/contracts", "", rentRequest())
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decodeBody[contract.Contract](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
	}{
		{"not found", http.MethodGet, "/api/contracts/ctr-missing", "", nil, http.StatusNotFound},
		{"missing actor", http.MethodPost, "/api/contracts/" + c.ID + "/sign", "", SignContractRequest{}, http.StatusUnauthorized},
		{"not a signer", http.MethodPost, "/api/contracts/" + c.ID + "/sign", "stranger", SignContractRequest{}, http.StatusForbidden},
		{"bad date", http.MethodPost, "/api/contracts", "", CreateContractRequest{StartDate: "01/01/2025"}, http.StatusBadRequest},
		{"not active", http.MethodPost, "/api/contracts/" + c.ID + "/cancellation", "tenant-1", CancellationRequest{Reason: "moving"}, http.StatusConflict},
		{"operator only", http.MethodPost, "/api/admin/sweep", "tenant-1", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestInvalidBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/contracts", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody[ErrorResponse](t, rec).Error)
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestTransferApprovalReturnsFailedEligibility(t *testing.T) {
	// GIVEN: a transfer request towards a unit under maintenance
	ts := newTestServer(t)
	c := ts.activeContract()
	rec := ts.do(http.MethodPost, "/api/transfers", "tenant-1", CreateTransferRequest{
		ContractID:      c.ID,
		RequestedUnitID: "unit-c",
		Reason:          "closer to work",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decodeBody[transfer.Request](t, rec)
	assert.False(t, tr.Eligibility.Eligible)

	// WHEN: the operator approves it
	rec = ts.do(http.MethodPost, "/api/transfers/"+tr.ID+"/approve", "op:op-1", nil)

	// THEN: the approval is refused with the fresh evaluation attached
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[struct {
		Kind        string               `json:"kind"`
		Eligibility transfer.Eligibility `json:"eligibility"`
	}](t, rec)
	assert.Equal(t, "validation", body.Kind)
	assert.Equal(t, []string{transfer.CheckSimilarUnitAvailable}, body.Eligibility.Failed)

	// WHEN: asking about an available unit instead
	rec = ts.do(http.MethodGet, "/api/transfers/eligibility?contract_id="+c.ID+"&unit_id=unit-b", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[transfer.Eligibility](t, rec).Eligible)
}

// =============================================================================
// ADMIN AND CATALOG
// =============================================================================

func TestTriggerSweep(t *testing.T) {
	ts := newTestServer(t)
	ts.activeContract()
	ts.now = time.Date(2025, time.February, 3, 0, 0, 0, 0, time.UTC)

	rec := ts.do(http.MethodPost, "/api/admin/sweep", "op:op-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[engine.SweepResult](t, rec)
	assert.Equal(t, 1, res.Installments)
}

func TestUnits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/units", "", catalog.Unit{ID: "unit-d"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, catalog.StatusAvailable, decodeBody[catalog.Unit](t, rec).Status)

	rec = ts.do(http.MethodPost, "/api/units", "", catalog.Unit{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/units", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]catalog.Unit](t, rec), 4)
}
