package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/store/memory"
	"github.com/warp/lease-engine/transfer"
)

func transferTo(c contract.Contract, unitID string) engine.TransferDraft {
	return engine.TransferDraft{RequesterID: tenant, ContractID: c.ID, RequestedUnitID: unitID, Reason: "need a bigger place"}
}

func TestRequestTransfer_Guards(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(12))

	_, err := f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-a"))
	assert.ErrorIs(t, err, transfer.ErrAlreadyInUnit)

	_, err = f.eng.EvaluateTransfer(f.ctx, c.ID, "unit-a")
	assert.ErrorIs(t, err, transfer.ErrAlreadyInUnit)

	d := transferTo(c, "unit-b")
	d.RequesterID = owner
	_, err = f.eng.RequestTransfer(f.ctx, d)
	assert.ErrorIs(t, err, transfer.ErrNotTheTenant)

	_, err = f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-missing"))
	assert.ErrorIs(t, err, generic.ErrNotFound)

	draft, err := f.eng.CreateContract(f.ctx, rentDraft(12))
	require.NoError(t, err)
	_, err = f.eng.RequestTransfer(f.ctx, transferTo(draft, "unit-b"))
	assert.ErrorIs(t, err, contract.ErrNotActive)
}

func TestTransfer_RentContractsOnly(t *testing.T) {
	// GIVEN: an active sale contract, whose booking carries no ledger
	f := newFixture(memory.New())
	c := f.activeContract(t, contract.Draft{
		UnitID: "unit-a", CounterpartyID: tenant, GrantorID: owner, Kind: contract.KindSale,
		StartDate: leaseStart, PeriodAmount: decimal.NewFromInt(250000),
	})

	// WHEN: the buyer evaluates or requests a move
	_, evalErr := f.eng.EvaluateTransfer(f.ctx, c.ID, "unit-b")
	_, reqErr := f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-b"))

	// THEN: both are refused and nothing is stored
	assert.ErrorIs(t, evalErr, transfer.ErrNotRentContract)
	assert.ErrorIs(t, reqErr, transfer.ErrNotRentContract)
	assert.True(t, generic.IsValidation(reqErr))
	stored, err := f.store.Repos().Transfers.Find(f.ctx, generic.All[transfer.Request])
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRequestTransfer_OnePendingPerRequester(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		c := f.activeContract(t, rentDraft(12))

		first, err := f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-b"))
		require.NoError(t, err)
		assert.Equal(t, transfer.StatusPending, first.Status)
		assert.True(t, first.Eligibility.Eligible)

		_, err = f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-c"))
		assert.ErrorIs(t, err, transfer.ErrPendingExists)

		// A decided request frees the slot.
		_, err = f.eng.RejectTransfer(f.ctx, operatorActor, first.ID, "no budget")
		require.NoError(t, err)
		_, err = f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-c"))
		assert.NoError(t, err)
	})
}

func TestRequestTransfer_KeepsIneligibleSnapshot(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(12))

	// unit-c is under maintenance.
	tr, err := f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-c"))
	require.NoError(t, err)
	assert.False(t, tr.Eligibility.Eligible)
	assert.Equal(t, []string{transfer.CheckSimilarUnitAvailable}, tr.Eligibility.Failed)

	_, err = f.eng.ApproveTransfer(f.ctx, operatorActor, tr.ID)
	var ineligible *transfer.IneligibleError
	require.ErrorAs(t, err, &ineligible)
	assert.True(t, generic.IsValidation(err))

	got, err := f.eng.GetTransfer(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusPending, got.Status, "a failed approval writes nothing")
	assert.Equal(t, tr.Version, got.Version)
}

func TestApproveTransfer_RevalidatesAtApproval(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		// GIVEN: an eligible request
		c := f.activeContract(t, rentDraft(12))
		tr, err := f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-b"))
		require.NoError(t, err)
		require.True(t, tr.Eligibility.Eligible)

		// WHEN: installment 2 goes past due before anyone approves
		f.at(2025, time.February, 10)
		_, err = f.eng.ApproveTransfer(f.ctx, ownerActor, tr.ID)

		// THEN: the fresh evaluation blocks it
		var ineligible *transfer.IneligibleError
		require.ErrorAs(t, err, &ineligible)
		assert.False(t, ineligible.Eligibility.NoLatePayments)

		// WHEN: the tenant pays and the grantor approves
		_, err = f.pay(c, 2, f.now)
		require.NoError(t, err)
		tr, err = f.eng.ApproveTransfer(f.ctx, ownerActor, tr.ID)
		require.NoError(t, err)

		// THEN: the request is approved with the fresh snapshot
		assert.Equal(t, transfer.StatusApproved, tr.Status)
		assert.Equal(t, owner, tr.DecidedBy)
		assert.Len(t, tr.PaymentHistory, 2)
		assert.Len(t, f.eventsOf(generic.EventTransferApproved), 1)
	})
}

func TestApproveTransfer_Authorization(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(12))
	tr, err := f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-b"))
	require.NoError(t, err)

	_, err = f.eng.ApproveTransfer(f.ctx, tenantActor, tr.ID)
	assert.ErrorIs(t, err, transfer.ErrSelfDecision)

	stranger := generic.Actor{ID: "stranger", Role: generic.RoleUser}
	_, err = f.eng.ApproveTransfer(f.ctx, stranger, tr.ID)
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	_, err = f.eng.RejectTransfer(f.ctx, tenantActor, tr.ID, "changed my mind")
	assert.ErrorIs(t, err, transfer.ErrSelfDecision)
}

func TestTransfer_InfoRoundTripAndCompletion(t *testing.T) {
	f := newFixture(memory.New())
	c := f.activeContract(t, rentDraft(12))
	tr, err := f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-b"))
	require.NoError(t, err)

	// The operator asks a question; the request is parked.
	tr, err = f.eng.RequestTransferInfo(f.ctx, operatorActor, tr.ID, "why now?")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusAwaitingInfo, tr.Status)

	_, err = f.eng.RequestTransfer(f.ctx, transferTo(c, "unit-c"))
	assert.ErrorIs(t, err, transfer.ErrPendingExists, "awaiting_info still counts as open")

	_, err = f.eng.ProvideTransferInfo(f.ctx, "stranger", tr.ID, "because")
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	tr, err = f.eng.ProvideTransferInfo(f.ctx, tenant, tr.ID, "family is growing")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusPending, tr.Status)
	assert.Equal(t, []string{"family is growing"}, tr.Notes)

	_, err = f.eng.CompleteTransfer(f.ctx, operatorActor, tr.ID)
	assert.ErrorIs(t, err, transfer.ErrNotApproved)

	_, err = f.eng.ApproveTransfer(f.ctx, operatorActor, tr.ID)
	require.NoError(t, err)

	_, err = f.eng.CompleteTransfer(f.ctx, ownerActor, tr.ID)
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	tr, err = f.eng.CompleteTransfer(f.ctx, operatorActor, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusCompleted, tr.Status)

	assert.Equal(t, []generic.EventType{
		generic.EventTransferRequested,
		generic.EventTransferInfoRequested,
		generic.EventTransferApproved,
		generic.EventTransferCompleted,
	}, transferEvents(f))
}

func transferEvents(f *fixture) []generic.EventType {
	var out []generic.EventType
	for _, typ := range f.events.Types() {
		switch typ {
		case generic.EventTransferRequested, generic.EventTransferInfoRequested,
			generic.EventTransferApproved, generic.EventTransferRejected, generic.EventTransferCompleted:
			out = append(out, typ)
		}
	}
	return out
}
