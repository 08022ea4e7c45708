package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/catalog"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/directory"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
	"github.com/warp/lease-engine/notify"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/store/memory"
	"github.com/warp/lease-engine/store/sqlite"
	"github.com/warp/lease-engine/transfer"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	tenant = "tenant-1"
	owner  = "owner-1"
)

var (
	tenantActor   = generic.Actor{ID: tenant, Role: generic.RoleUser}
	ownerActor    = generic.Actor{ID: owner, Role: generic.RoleUser}
	operatorActor = generic.Actor{ID: "op-1", Role: generic.RoleOperator}

	signingDay = generic.NewDate(2024, time.December, 20)
	leaseStart = generic.NewDate(2025, time.January, 1)
)

type fixture struct {
	ctx    context.Context
	eng    *engine.Engine
	store  store.Store
	events *notify.Recorder
	units  *catalog.Memory
	now    time.Time
}

func newFixture(s store.Store, opts ...engine.Option) *fixture {
	f := &fixture{ctx: context.Background(), store: s, events: &notify.Recorder{}, now: signingDay}
	f.units = catalog.NewMemory(
		catalog.Unit{ID: "unit-a", Status: catalog.StatusOccupied},
		catalog.Unit{ID: "unit-b", Status: catalog.StatusAvailable},
		catalog.Unit{ID: "unit-c", Status: catalog.StatusMaintenance},
	)
	base := []engine.Option{
		engine.WithDispatcher(notify.Multi{f.events, notify.CatalogRelease{Units: f.units}}),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithClock(func() time.Time { return f.now }),
	}
	f.eng = engine.New(s, f.units, directory.Open(), append(base, opts...)...)
	return f
}

// eachStore runs a test against the in-memory and the SQLite store.
func eachStore(t *testing.T, test func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) {
		test(t, newFixture(memory.New()))
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		test(t, newFixture(s))
	})
}

func (f *fixture) at(y int, m time.Month, d int) { f.now = generic.NewDate(y, m, d) }

func rentDraft(count int) contract.Draft {
	end := generic.AddMonths(leaseStart, count)
	return contract.Draft{
		UnitID:                    "unit-a",
		CounterpartyID:            tenant,
		GrantorID:                 owner,
		Kind:                      contract.KindRent,
		StartDate:                 leaseStart,
		EndDate:                   &end,
		PeriodAmount:              decimal.NewFromInt(4000),
		InstallmentCount:          count,
		Deposit:                   decimal.NewFromInt(4000),
		FirstInstallmentAtSigning: true,
	}
}

func (f *fixture) activeContract(t *testing.T, d contract.Draft) contract.Contract {
	t.Helper()
	c, err := f.eng.CreateContract(f.ctx, d)
	require.NoError(t, err)
	_, err = f.eng.SignContract(f.ctx, c.ID, tenant, "sig-tenant")
	require.NoError(t, err)
	c, err = f.eng.SignContract(f.ctx, c.ID, owner, "sig-owner")
	require.NoError(t, err)
	require.Equal(t, contract.StatusActive, c.Status)
	return c
}

func (f *fixture) pay(c contract.Contract, seq int, paidAt time.Time) (engine.PaymentReceipt, error) {
	return f.eng.MarkInstallmentPaid(f.ctx, tenantActor, c.BookingID, ledger.Payment{Sequence: seq, PaidAt: paidAt})
}

func (f *fixture) reward(t *testing.T, c contract.Contract) rewards.CommitmentReward {
	t.Helper()
	rw, err := f.eng.GetReward(f.ctx, c.RewardID)
	require.NoError(t, err)
	return rw
}

func (f *fixture) eventsOf(typ generic.EventType) []generic.Event {
	var out []generic.Event
	for _, e := range f.events.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_LatePaymentForfeitsReward(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		// GIVEN: a 12-month rent contract at 4000, first installment paid at signing
		c := f.activeContract(t, rentDraft(12))
		assert.Equal(t, 1, f.reward(t, c).PaymentsOnTime)

		// WHEN: installments 2 and 3 are paid on their due dates
		f.at(2025, time.February, 1)
		_, err := f.pay(c, 2, f.now)
		require.NoError(t, err)
		f.at(2025, time.March, 1)
		_, err = f.pay(c, 3, f.now)
		require.NoError(t, err)

		// THEN: the reward is still earning with three on-time payments
		rw := f.reward(t, c)
		assert.Equal(t, rewards.StatusEarning, rw.Status)
		assert.Equal(t, 3, rw.PaymentsOnTime)

		// WHEN: installment 4 is paid two days late
		f.at(2025, time.April, 3)
		receipt, err := f.pay(c, 4, f.now)
		require.NoError(t, err)

		// THEN: the reward is forfeited at once
		assert.False(t, receipt.OnTime)
		assert.Equal(t, 2, receipt.DaysLate)
		require.NotNil(t, receipt.Reward)
		assert.Equal(t, rewards.StatusForfeited, receipt.Reward.Status)

		rw = f.reward(t, c)
		assert.Equal(t, rewards.StatusForfeited, rw.Status)
		assert.Equal(t, rewards.ReasonPaidLate, rw.ForfeitureReason)
		assert.Equal(t, 3, rw.PaymentsOnTime)
		assert.Equal(t, 1, rw.LatePayments)
		assert.Len(t, f.eventsOf(generic.EventRewardForfeited), 1)
	})
}

func TestScenario_SweepBeforeLatePayment(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		// GIVEN: installments 2 and 3 paid on time
		c := f.activeContract(t, rentDraft(12))
		for seq := 2; seq <= 3; seq++ {
			_, err := f.pay(c, seq, generic.AddMonths(leaseStart, seq-1))
			require.NoError(t, err)
		}

		// WHEN: the scheduled sweep runs the day after installment 4 fell due
		f.at(2025, time.April, 2)
		res, err := f.eng.SweepOverdue(f.ctx)
		require.NoError(t, err)
		require.Equal(t, 1, res.Installments)
		assert.Equal(t, rewards.StatusEarning, f.reward(t, c).Status)

		// AND: installment 4 is paid on April 3
		f.at(2025, time.April, 3)
		receipt, err := f.pay(c, 4, f.now)
		require.NoError(t, err)

		// THEN: the reward is forfeited for the late payment, not a miss
		assert.Equal(t, 2, receipt.DaysLate)
		rw := f.reward(t, c)
		assert.Equal(t, rewards.StatusForfeited, rw.Status)
		assert.Equal(t, rewards.ReasonPaidLate, rw.ForfeitureReason)
		assert.Equal(t, 1, rw.LatePayments)
		assert.Equal(t, 0, rw.MissedPayments)
		assert.Len(t, f.eventsOf(generic.EventRewardForfeited), 1)
	})
}

func TestScenario_TransferBlockedByPastDueInstallment(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		// GIVEN: installments 1-3 paid, installment 4 pending and past due
		c := f.activeContract(t, rentDraft(12))
		for seq := 2; seq <= 3; seq++ {
			_, err := f.pay(c, seq, generic.AddMonths(leaseStart, seq-1))
			require.NoError(t, err)
		}
		f.at(2025, time.April, 10)

		// WHEN: the tenant asks to move to an available unit
		e, err := f.eng.EvaluateTransfer(f.ctx, c.ID, "unit-b")
		require.NoError(t, err)

		// THEN: the late-payment check fails
		assert.False(t, e.Eligible)
		assert.False(t, e.NoLatePayments)
		assert.True(t, e.SimilarUnitAvailable)
		assert.Contains(t, e.Failed, transfer.CheckNoLatePayments)
		assert.Contains(t, e.Message, transfer.CheckNoLatePayments)

		// WHEN: installment 4 is paid and the evaluation re-runs
		_, err = f.pay(c, 4, f.now)
		require.NoError(t, err)
		e, err = f.eng.EvaluateTransfer(f.ctx, c.ID, "unit-b")
		require.NoError(t, err)

		// THEN: the tenant is eligible
		assert.True(t, e.Eligible, e.Message)
		assert.Equal(t, "eligible for transfer", e.Message)
		require.Len(t, e.PaymentHistory, 4)
		assert.Equal(t, transfer.LabelLate, e.PaymentHistory[3].Label)
		assert.Equal(t, 9, e.PaymentHistory[3].DaysLate)
	})
}

// =============================================================================
// CONCURRENT WRITERS
// =============================================================================

// race runs every fn at once and returns their errors.
func race(fns ...func() error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, len(fns))
	)
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

func TestConcurrent_SimultaneousSigners(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f := newFixture(s)

	for i := 0; i < 20; i++ {
		// GIVEN: a fresh draft for a new tenant
		d := rentDraft(6)
		d.CounterpartyID = fmt.Sprintf("tenant-%d", i+100)
		c, err := f.eng.CreateContract(f.ctx, d)
		require.NoError(t, err)

		// WHEN: both parties sign at the same moment
		errs := race(
			func() error { _, err := f.eng.SignContract(f.ctx, c.ID, d.CounterpartyID, "sig-tenant"); return err },
			func() error { _, err := f.eng.SignContract(f.ctx, c.ID, owner, "sig-owner"); return err },
		)

		// THEN: a losing signer only ever sees a conflict
		for _, err := range errs {
			if err != nil {
				assert.True(t, generic.IsConflict(err), err.Error())
			}
		}
		got, err := f.eng.GetContract(f.ctx, c.ID)
		require.NoError(t, err)
		if got.Status != contract.StatusActive {
			// One signature lost; the loser wrote nothing.
			assert.NotEqual(t, got.CounterpartySignature.Signed(), got.GrantorSignature.Signed())
			assert.Empty(t, got.BookingID)
			continue
		}

		// AND: activation produced exactly one booking and one reward
		bookings, err := f.store.Repos().Bookings.Find(f.ctx, func(b booking.Booking) bool { return b.ContractID == c.ID })
		require.NoError(t, err)
		require.Len(t, bookings, 1)
		assert.Equal(t, got.BookingID, bookings[0].ID)
		rws, err := f.store.Repos().Rewards.Find(f.ctx, func(r rewards.CommitmentReward) bool { return r.ContractID == c.ID })
		require.NoError(t, err)
		assert.Len(t, rws, 1)
	}
}

func TestConcurrent_CancellationRequestAgainstApproval(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f := newFixture(s)
	c := f.activeContract(t, rentDraft(12))

	// WHEN: the tenant asks to cancel while the grantor tries to approve
	errs := race(
		func() error { _, err := f.eng.RequestCancellation(f.ctx, c.ID, tenant, "moving abroad"); return err },
		func() error { _, err := f.eng.ApproveCancellation(f.ctx, c.ID, owner); return err },
	)

	// THEN: the request always lands; the approval lands or fails as a conflict
	require.NoError(t, errs[0])
	got, err := f.eng.GetContract(f.ctx, c.ID)
	require.NoError(t, err)
	b, err := f.eng.GetBooking(f.ctx, c.BookingID)
	require.NoError(t, err)
	rw := f.reward(t, c)

	if errs[1] != nil {
		assert.True(t, generic.IsConflict(errs[1]), errs[1].Error())
		assert.Equal(t, contract.StatusActive, got.Status)
		assert.True(t, got.CancellationPending())
		assert.Equal(t, booking.StatusActive, b.Status)
		assert.Equal(t, rewards.StatusEarning, rw.Status)
		return
	}
	assert.Equal(t, contract.StatusCancelled, got.Status)
	assert.Equal(t, booking.StatusCancelled, b.Status)
	assert.Equal(t, rewards.StatusForfeited, rw.Status)
	assert.Len(t, f.eventsOf(generic.EventResourceReleased), 1)
}

// =============================================================================
// EVENTS
// =============================================================================

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, generic.Event) error {
	return errors.New("push gateway down")
}

func TestDispatchFailureKeepsTransition(t *testing.T) {
	// GIVEN: a dispatcher that always fails
	f := newFixture(memory.New(), engine.WithDispatcher(failingDispatcher{}))

	// WHEN: the contract is activated
	c := f.activeContract(t, rentDraft(3))

	// THEN: the activation stands
	got, err := f.eng.GetContract(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusActive, got.Status)
	assert.NotEmpty(t, got.BookingID)
}

func TestEventsFollowCommitOnly(t *testing.T) {
	f := newFixture(memory.New())
	c, err := f.eng.CreateContract(f.ctx, rentDraft(3))
	require.NoError(t, err)

	// A rejected signature emits nothing.
	_, err = f.eng.SignContract(f.ctx, c.ID, "stranger", "sig")
	require.ErrorIs(t, err, contract.ErrNotSigner)
	assert.Empty(t, f.events.Events())

	_, err = f.eng.SignContract(f.ctx, c.ID, tenant, "sig")
	require.NoError(t, err)
	assert.Equal(t, []generic.EventType{generic.EventContractSigned}, f.events.Types())
}
