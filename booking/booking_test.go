package booking_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
)

var now = generic.NewDate(2025, time.January, 1)

func rentDraft() booking.Draft {
	return booking.Draft{
		UnitID:           "unit-1",
		CounterpartyID:   "tenant-1",
		Kind:             booking.KindRent,
		StartDate:        generic.NewDate(2025, time.January, 1),
		PeriodAmount:     decimal.NewFromInt(500),
		InstallmentCount: 3,
		Deposit:          decimal.NewFromInt(500),
	}
}

func TestNew_DerivesRentTotal(t *testing.T) {
	b, err := booking.New("bkg-1", rentDraft(), now)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusPending, b.Status)
	assert.True(t, b.TotalAmount.Equal(decimal.NewFromInt(1500)))
	assert.Empty(t, b.Ledger, "ledger is generated on approval")
}

func TestNew_Validation(t *testing.T) {
	d := rentDraft()
	d.InstallmentCount = 0
	_, err := booking.New("bkg-1", d, now)
	assert.ErrorIs(t, err, generic.ErrValidation)

	d = rentDraft()
	d.Kind = "lease"
	_, err = booking.New("bkg-1", d, now)
	assert.ErrorIs(t, err, generic.ErrValidation)

	sale := booking.Draft{UnitID: "unit-1", CounterpartyID: "buyer-1", Kind: booking.KindSale, TotalAmount: decimal.NewFromInt(90000)}
	_, err = booking.New("bkg-2", sale, now)
	assert.NoError(t, err, "sale bookings need neither count nor start date")
}

func TestApprove_GeneratesUnsettledLedger(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)

	b, err := booking.Approve(b, "op-1", now)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusApproved, b.Status)
	assert.Equal(t, "op-1", b.ApprovedBy)
	require.Len(t, b.Ledger, 3)
	assert.Equal(t, generic.NewDate(2025, time.January, 1), b.Ledger[0].DueDate)
	for _, inst := range b.Ledger {
		assert.Equal(t, ledger.StatusPending, inst.Status)
	}

	_, err = booking.Approve(b, "op-1", now)
	assert.ErrorIs(t, err, booking.ErrNotPending)
}

func TestReject(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)

	b, err := booking.Reject(b, "op-1", "unit under repair", now)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRejected, b.Status)
	assert.False(t, b.Status.Live())

	_, err = booking.Reject(b, "op-1", "again", now)
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestPay_ActivatesThenCompletes(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)
	b, _ = booking.Approve(b, "op-1", now)

	b, out, err := booking.Pay(b, ledger.Payment{Sequence: 1, PaidAt: now}, now)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusActive, b.Status)
	assert.False(t, out.Completed)

	b, _, err = booking.Pay(b, ledger.Payment{Sequence: 2, PaidAt: now}, now)
	require.NoError(t, err)
	b, out, err = booking.Pay(b, ledger.Payment{Sequence: 3, PaidAt: now}, now)
	require.NoError(t, err)

	assert.True(t, out.Completed)
	assert.Equal(t, booking.StatusCompleted, b.Status)

	_, _, err = booking.Pay(b, ledger.Payment{Sequence: 3, PaidAt: now}, now)
	assert.ErrorIs(t, err, booking.ErrNotPayable)
}

func TestPay_PendingBookingRejected(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)

	_, _, err := booking.Pay(b, ledger.Payment{Sequence: 1, PaidAt: now}, now)
	assert.ErrorIs(t, err, booking.ErrNotPayable)
}

func TestPay_CorruptedLedgerIsInvariantViolation(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)
	b, _ = booking.Approve(b, "op-1", now)
	b.Ledger = b.Ledger[:2]

	_, _, err := booking.Pay(b, ledger.Payment{Sequence: 1, PaidAt: now}, now)
	assert.ErrorIs(t, err, generic.ErrInvariantViolation)
}

func TestActivate_SettlesFirstInstallment(t *testing.T) {
	d := rentDraft()
	d.ContractID = "ctr-1"
	b, _ := booking.New("bkg-1", d, now)
	signedAt := now.Add(-48 * time.Hour)

	b, err := booking.Activate(b, "tenant-1", now, &signedAt)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusActive, b.Status)
	assert.Equal(t, ledger.StatusPaid, b.Ledger[0].Status)
	assert.Equal(t, "ctr-1", b.Ledger[0].Reference)
}

func TestCancel_CancelsOpenInstallments(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)
	b, _ = booking.Approve(b, "op-1", now)
	b, _, _ = booking.Pay(b, ledger.Payment{Sequence: 1, PaidAt: now}, now)

	b, err := booking.Cancel(b, now)
	require.NoError(t, err)

	assert.Equal(t, booking.StatusCancelled, b.Status)
	assert.Equal(t, ledger.StatusPaid, b.Ledger[0].Status)
	assert.Equal(t, ledger.StatusCancelled, b.Ledger[1].Status)
	assert.Equal(t, ledger.StatusCancelled, b.Ledger[2].Status)

	_, err = booking.Cancel(b, now)
	assert.ErrorIs(t, err, booking.ErrNotCancelled)
}

func TestUpdateInstallment(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)
	b, _ = booking.Approve(b, "op-1", now)

	b, err := booking.UpdateInstallment(b, 2, booking.InstallmentChange{Method: ledger.MethodCash, Note: "tenant pays at office"}, now)
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodCash, b.Ledger[1].Method)
	assert.Equal(t, []string{"tenant pays at office"}, b.Ledger[1].Notes)

	_, err = booking.UpdateInstallment(b, 2, booking.InstallmentChange{}, now)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestHolds(t *testing.T) {
	b, _ := booking.New("bkg-1", rentDraft(), now)

	assert.True(t, b.Holds("unit-1", "tenant-1", booking.KindRent))
	assert.False(t, b.Holds("unit-1", "tenant-1", booking.KindSale))

	b, _ = booking.Reject(b, "op-1", "", now)
	assert.False(t, b.Holds("unit-1", "tenant-1", booking.KindRent))
}
