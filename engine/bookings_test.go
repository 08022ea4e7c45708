package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store/memory"
)

func applianceDraft() booking.Draft {
	return booking.Draft{
		UnitID:           "unit-b",
		CounterpartyID:   tenant,
		Kind:             booking.KindRent,
		StartDate:        leaseStart,
		PeriodAmount:     decimal.NewFromInt(300),
		InstallmentCount: 2,
	}
}

// =============================================================================
// DIRECT BOOKINGS
// =============================================================================

func TestDirectBooking_Lifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		// GIVEN: a pending booking
		b, err := f.eng.CreateBooking(f.ctx, tenantActor, applianceDraft())
		require.NoError(t, err)
		assert.Equal(t, booking.StatusPending, b.Status)

		_, err = f.eng.CreateBooking(f.ctx, tenantActor, applianceDraft())
		assert.ErrorIs(t, err, booking.ErrDuplicate)

		// WHEN: a user tries to approve it, then an operator does
		_, err = f.eng.ApproveBooking(f.ctx, tenantActor, b.ID)
		require.ErrorIs(t, err, generic.ErrAuthorization)
		b, err = f.eng.ApproveBooking(f.ctx, operatorActor, b.ID)
		require.NoError(t, err)

		// THEN: the ledger starts unpaid
		assert.Equal(t, booking.StatusApproved, b.Status)
		require.Len(t, b.Ledger, 2)
		assert.Equal(t, ledger.StatusPending, b.Ledger[0].Status)

		// WHEN: the first payment arrives
		receipt, err := f.eng.MarkInstallmentPaid(f.ctx, tenantActor, b.ID, ledger.Payment{Sequence: 1, PaidAt: leaseStart})
		require.NoError(t, err)
		assert.Equal(t, booking.StatusActive, receipt.Booking.Status)
		assert.Nil(t, receipt.Reward, "direct bookings carry no reward")

		_, err = f.eng.MarkInstallmentPaid(f.ctx, tenantActor, b.ID, ledger.Payment{Sequence: 1, PaidAt: leaseStart})
		assert.ErrorIs(t, err, ledger.ErrAlreadyPaid)

		// WHEN: the final installment is paid
		receipt, err = f.eng.MarkInstallmentPaid(f.ctx, tenantActor, b.ID, ledger.Payment{Sequence: 2, PaidAt: generic.NewDate(2025, time.February, 1)})
		require.NoError(t, err)

		// THEN: the booking completes and the unit is released by event
		assert.True(t, receipt.Completed)
		assert.Equal(t, booking.StatusCompleted, receipt.Booking.Status)
		assert.Len(t, f.eventsOf(generic.EventBookingCompleted), 1)
		released := f.eventsOf(generic.EventResourceReleased)
		require.Len(t, released, 1)
		assert.Equal(t, "unit-b", released[0].Attributes["unit_id"])

		// A completed booking frees the slot.
		_, err = f.eng.CreateBooking(f.ctx, tenantActor, applianceDraft())
		assert.NoError(t, err)
	})
}

func TestRejectBooking(t *testing.T) {
	f := newFixture(memory.New())
	b, err := f.eng.CreateBooking(f.ctx, tenantActor, applianceDraft())
	require.NoError(t, err)

	b, err = f.eng.RejectBooking(f.ctx, operatorActor, b.ID, "unit under repair")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRejected, b.Status)

	_, err = f.eng.ApproveBooking(f.ctx, operatorActor, b.ID)
	assert.ErrorIs(t, err, booking.ErrNotPending)

	_, err = f.eng.MarkInstallmentPaid(f.ctx, tenantActor, b.ID, ledger.Payment{Sequence: 1})
	assert.ErrorIs(t, err, booking.ErrNotPayable)
}

func TestCreateBooking_OnlyForSelf(t *testing.T) {
	f := newFixture(memory.New())
	d := applianceDraft()
	d.CounterpartyID = "someone-else"

	_, err := f.eng.CreateBooking(f.ctx, tenantActor, d)
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	_, err = f.eng.CreateBooking(f.ctx, operatorActor, d)
	assert.NoError(t, err)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestMarkInstallmentPaid_Errors(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(3))

	_, err := f.pay(c, 1, leaseStart)
	assert.ErrorIs(t, err, ledger.ErrAlreadyPaid, "installment 1 was settled at signing")

	_, err = f.pay(c, 9, leaseStart)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = f.eng.MarkInstallmentPaid(f.ctx, ownerActor, c.BookingID, ledger.Payment{Sequence: 2})
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	_, err = f.eng.MarkInstallmentPaid(f.ctx, tenantActor, "bkg-missing", ledger.Payment{Sequence: 2})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMarkInstallmentPaid_FinalPaymentEarnsReward(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		// GIVEN: a two-installment contract, the first settled at signing
		c := f.activeContract(t, rentDraft(2))

		// WHEN: the second is paid on time
		receipt, err := f.pay(c, 2, generic.NewDate(2025, time.February, 1))
		require.NoError(t, err)

		// THEN: the booking completes and the reward is earned
		assert.True(t, receipt.Completed)
		require.NotNil(t, receipt.Reward)
		assert.Equal(t, rewards.StatusEarned, receipt.Reward.Status)
		assert.Len(t, f.eventsOf(generic.EventRewardEarned), 1)

		// WHEN: someone else claims, then the owner does twice
		_, err = f.eng.ClaimReward(f.ctx, owner, c.RewardID)
		assert.ErrorIs(t, err, rewards.ErrNotOwner)

		rw, err := f.eng.ClaimReward(f.ctx, tenant, c.RewardID)
		require.NoError(t, err)
		assert.Equal(t, rewards.StatusClaimed, rw.Status)

		_, err = f.eng.ClaimReward(f.ctx, tenant, c.RewardID)
		assert.ErrorIs(t, err, rewards.ErrRewardClosed)
		assert.Len(t, f.eventsOf(generic.EventRewardClaimed), 1)
	})
}

func TestUpdateInstallment(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(3))

	b, err := f.eng.UpdateInstallment(f.ctx, tenantActor, c.BookingID, 2, booking.InstallmentChange{Method: ledger.MethodCash, Note: "paying at the office"})
	require.NoError(t, err)
	assert.Equal(t, ledger.MethodCash, b.Ledger[1].Method)
	assert.Equal(t, []string{"paying at the office"}, b.Ledger[1].Notes)

	_, err = f.eng.UpdateInstallment(f.ctx, tenantActor, c.BookingID, 2, booking.InstallmentChange{})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.eng.UpdateInstallment(f.ctx, ownerActor, c.BookingID, 2, booking.InstallmentChange{Note: "x"})
	assert.ErrorIs(t, err, generic.ErrAuthorization)
}

func TestCapturePayment(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(3))

	receipt, err := f.eng.CapturePayment(f.ctx, engine.PaymentCaptured{
		Reference:  c.BookingID + "/2",
		Amount:     "4000.00",
		CapturedAt: generic.NewDate(2025, time.January, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Installment.Sequence)
	assert.True(t, receipt.OnTime)
	assert.Equal(t, c.BookingID+"/2", receipt.Installment.Reference)

	_, err = f.eng.CapturePayment(f.ctx, engine.PaymentCaptured{Reference: "no-sequence"})
	assert.ErrorIs(t, err, generic.ErrValidation)
	_, err = f.eng.CapturePayment(f.ctx, engine.PaymentCaptured{Reference: c.BookingID + "/3", Amount: "lots"})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestParsePaymentReference(t *testing.T) {
	id, seq, err := engine.ParsePaymentReference("bkg-1/12")
	require.NoError(t, err)
	assert.Equal(t, "bkg-1", id)
	assert.Equal(t, 12, seq)

	for _, bad := range []string{"", "/3", "bkg-1/", "bkg-1/0", "bkg-1/x"} {
		_, _, err := engine.ParsePaymentReference(bad)
		assert.ErrorIs(t, err, generic.ErrValidation, bad)
	}
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

func TestSweepOverdue(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		// GIVEN: an active contract and a pending direct booking
		c := f.activeContract(t, rentDraft(12))
		_, err := f.eng.CreateBooking(f.ctx, tenantActor, applianceDraft())
		require.NoError(t, err)

		// WHEN: the sweep runs after installment 2 fell due
		f.at(2025, time.February, 5)
		res, err := f.eng.SweepOverdue(f.ctx)
		require.NoError(t, err)

		// THEN: installment 2 is overdue and the reward is untouched
		assert.Equal(t, 1, res.Scanned, "the pending booking has no ledger yet")
		assert.Equal(t, 1, res.Bookings)
		assert.Equal(t, 1, res.Installments)

		b, err := f.eng.GetBooking(f.ctx, c.BookingID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusOverdue, b.Ledger[1].Status)
		assert.Equal(t, ledger.StatusPending, b.Ledger[2].Status)

		rw := f.reward(t, c)
		assert.Equal(t, rewards.StatusEarning, rw.Status)
		assert.Equal(t, 0, rw.MissedPayments)

		overdue := f.eventsOf(generic.EventInstallmentOverdue)
		require.Len(t, overdue, 1)
		assert.Equal(t, "2", overdue[0].Attributes["sequence"])

		// WHEN: the sweep runs again the same day
		res, err = f.eng.SweepOverdue(f.ctx)
		require.NoError(t, err)

		// THEN: nothing changes
		assert.Equal(t, 0, res.Installments)
		assert.Equal(t, rewards.StatusEarning, f.reward(t, c).Status)

		// WHEN: the overdue installment is paid
		receipt, err := f.pay(c, 2, f.now)
		require.NoError(t, err)

		// THEN: it counts once, as a late payment
		assert.False(t, receipt.OnTime)
		assert.Equal(t, 4, receipt.DaysLate)
		rw = f.reward(t, c)
		assert.Equal(t, rewards.StatusForfeited, rw.Status)
		assert.Equal(t, rewards.ReasonPaidLate, rw.ForfeitureReason)
		assert.Equal(t, 1, rw.LatePayments)
		assert.Equal(t, 0, rw.MissedPayments)
	})
}

func TestSweepOverdue_DueTodayIsNotOverdue(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(12))
	f.now = generic.NewDate(2025, time.February, 1).Add(18 * time.Hour)

	res, err := f.eng.SweepOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Installments)
	assert.Equal(t, rewards.StatusEarning, f.reward(t, c).Status)
}
