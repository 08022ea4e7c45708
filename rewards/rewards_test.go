package rewards_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var rent = decimal.NewFromInt(4000)

func date(year int, month time.Month, day int) time.Time {
	return generic.NewDate(year, month, day)
}

func newReward(t *testing.T, total int) rewards.CommitmentReward {
	r, err := rewards.New("ctr-1", "tenant-1", total, date(2025, time.January, 1))
	require.NoError(t, err)
	return r
}

func payOnTime(t *testing.T, r rewards.CommitmentReward, month time.Month) rewards.CommitmentReward {
	due := date(2025, month, 1)
	r, _, err := rewards.RecordPayment(r, due, due, rent, due)
	require.NoError(t, err)
	return r
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestNew(t *testing.T) {
	r := newReward(t, 12)

	assert.Equal(t, "rwd-ctr-1", r.ID)
	assert.Equal(t, rewards.StatusEarning, r.Status)
	assert.True(t, r.Eligible)

	_, err := rewards.New("ctr-1", "tenant-1", 0, date(2025, 1, 1))
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestRecordPayment_AllOnTimeEarns(t *testing.T) {
	// GIVEN: a 3-payment reward
	// WHEN: all three are paid on their due dates
	// THEN: the reward is earned after the third
	r := newReward(t, 3)

	r = payOnTime(t, r, time.January)
	r = payOnTime(t, r, time.February)
	assert.Equal(t, rewards.StatusEarning, r.Status)

	due := date(2025, time.March, 1)
	r, change, err := rewards.RecordPayment(r, due, due.Add(-72*time.Hour), rent, due)
	require.NoError(t, err)

	assert.Equal(t, rewards.StatusEarned, r.Status)
	assert.Equal(t, rewards.Change{From: rewards.StatusEarning, To: rewards.StatusEarned}, change)
	assert.NotNil(t, r.EarnedAt)
	assert.Equal(t, 3, r.PaymentsOnTime)
	assert.Len(t, r.History, 3)
}

func TestRecordPayment_FirstLateForfeits(t *testing.T) {
	// GIVEN: 3 on-time payments already recorded
	// WHEN: the 4th is paid 2 days late
	// THEN: forfeited immediately with "paid after due date"
	r := newReward(t, 12)
	for _, m := range []time.Month{time.January, time.February, time.March} {
		r = payOnTime(t, r, m)
	}
	require.Equal(t, 3, r.PaymentsOnTime)

	due := date(2025, time.April, 1)
	r, change, err := rewards.RecordPayment(r, due, due.AddDate(0, 0, 2), rent, due.AddDate(0, 0, 2))
	require.NoError(t, err)

	assert.Equal(t, rewards.StatusForfeited, r.Status)
	assert.True(t, change.Changed())
	assert.Equal(t, rewards.ReasonPaidLate, r.ForfeitureReason)
	assert.Equal(t, 1, r.LatePayments)
	assert.False(t, r.Eligible)
	assert.NotNil(t, r.ForfeitedAt)
}

func TestRecordMissedPayment_Forfeits(t *testing.T) {
	r := newReward(t, 12)

	r, change, err := rewards.RecordMissedPayment(r, date(2025, 2, 1), rent, date(2025, 2, 2))
	require.NoError(t, err)

	assert.Equal(t, rewards.StatusForfeited, r.Status)
	assert.Equal(t, rewards.StatusEarning, change.From)
	assert.Equal(t, rewards.ReasonMissed, r.ForfeitureReason)
	assert.Equal(t, 1, r.MissedPayments)
}

func TestForfeited_NeverTransitionsAgain(t *testing.T) {
	r := newReward(t, 2)
	r, _, _ = rewards.RecordMissedPayment(r, date(2025, 1, 1), rent, date(2025, 1, 2))
	forfeitedAt := r.ForfeitedAt

	// Later on-time payments still count but cannot earn the reward.
	r = payOnTime(t, r, time.February)
	r = payOnTime(t, r, time.March)
	assert.Equal(t, rewards.StatusForfeited, r.Status)
	assert.Equal(t, 2, r.PaymentsOnTime)
	assert.Equal(t, forfeitedAt, r.ForfeitedAt)
	assert.Equal(t, rewards.ReasonMissed, r.ForfeitureReason, "reason of the first forfeiture is kept")

	_, err := rewards.Claim(r, "tenant-1", date(2025, 4, 1))
	assert.ErrorIs(t, err, rewards.ErrRewardClosed)

	_, err = rewards.Forfeit(r, "again", date(2025, 4, 1))
	assert.ErrorIs(t, err, rewards.ErrRewardClosed)
}

func TestClaim(t *testing.T) {
	r := newReward(t, 1)

	_, err := rewards.Claim(r, "tenant-1", date(2025, 1, 2))
	assert.ErrorIs(t, err, rewards.ErrNotEarned)

	r = payOnTime(t, r, time.January)
	require.Equal(t, rewards.StatusEarned, r.Status)

	_, err = rewards.Claim(r, "someone-else", date(2025, 1, 2))
	assert.ErrorIs(t, err, rewards.ErrNotOwner)
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	r, err = rewards.Claim(r, "tenant-1", date(2025, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, rewards.StatusClaimed, r.Status)
	assert.NotNil(t, r.ClaimedAt)

	_, err = rewards.Claim(r, "tenant-1", date(2025, 1, 3))
	assert.ErrorIs(t, err, rewards.ErrRewardClosed)

	_, _, err = rewards.RecordPayment(r, date(2025, 2, 1), date(2025, 2, 1), rent, date(2025, 2, 1))
	assert.ErrorIs(t, err, rewards.ErrRewardClosed)

	_, _, err = rewards.RecordMissedPayment(r, date(2025, 2, 1), rent, date(2025, 2, 2))
	assert.ErrorIs(t, err, rewards.ErrRewardClosed)
}

func TestForfeit_OnlyFromEarning(t *testing.T) {
	r := newReward(t, 1)

	forfeited, err := rewards.Forfeit(r, rewards.ReasonContractCancelled, date(2025, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, rewards.StatusForfeited, forfeited.Status)

	earned := payOnTime(t, r, time.January)
	_, err = rewards.Forfeit(earned, rewards.ReasonContractCancelled, date(2025, 1, 5))
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestRecordPayment_DoesNotMutateInput(t *testing.T) {
	r := newReward(t, 12)
	r = payOnTime(t, r, time.January)

	_ = payOnTime(t, r, time.February)

	assert.Len(t, r.History, 1)
	assert.Equal(t, 1, r.PaymentsOnTime)
}

func TestProgressOf(t *testing.T) {
	r := newReward(t, 12)
	for _, m := range []time.Month{time.January, time.February, time.March} {
		r = payOnTime(t, r, m)
	}

	p := rewards.ProgressOf(r)
	assert.Equal(t, 9, p.Remaining)
	assert.True(t, p.PercentComplete.Equal(decimal.NewFromInt(25)))
	assert.True(t, p.Eligible)
}
