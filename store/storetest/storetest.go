// Package storetest holds the behaviour every store.Store must show. Each
// backend's tests call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
)

var now = generic.NewDate(2025, time.January, 1)

func sampleContract(id string) contract.Contract {
	end := generic.NewDate(2025, time.December, 31)
	c, err := contract.New(id, contract.Draft{
		UnitID:           "unit-a",
		CounterpartyID:   "tenant-1",
		GrantorID:        "landlord-1",
		Kind:             contract.KindRent,
		StartDate:        now,
		EndDate:          &end,
		PeriodAmount:     decimal.NewFromInt(4000),
		InstallmentCount: 12,
	}, now)
	if err != nil {
		panic(err)
	}
	return c
}

func sampleBooking(id string) booking.Booking {
	b, err := booking.New(id, booking.Draft{
		UnitID:           "unit-a",
		CounterpartyID:   "tenant-1",
		Kind:             booking.KindRent,
		StartDate:        now,
		PeriodAmount:     decimal.NewFromInt(4000),
		InstallmentCount: 3,
	}, now)
	if err != nil {
		panic(err)
	}
	b, err = booking.Approve(b, "op-1", now)
	if err != nil {
		panic(err)
	}
	return b
}

// Run exercises the repository and transaction contract.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("InsertAssignsVersionOne", func(t *testing.T) {
		s := open(t)
		c, err := s.Repos().Contracts.Insert(ctx, sampleContract("ctr-1"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Version)

		_, err = s.Repos().Contracts.Insert(ctx, sampleContract("ctr-1"))
		assert.ErrorIs(t, err, generic.ErrAlreadyExists)
		assert.ErrorIs(t, err, generic.ErrConflict)
	})

	t.Run("GetMissingIsNotFound", func(t *testing.T) {
		s := open(t)
		_, err := s.Repos().Bookings.Get(ctx, "nope")
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("RoundTripKeepsLedgerAndDecimals", func(t *testing.T) {
		s := open(t)
		b, err := s.Repos().Bookings.Insert(ctx, sampleBooking("bkg-1"))
		require.NoError(t, err)

		got, err := s.Repos().Bookings.Get(ctx, "bkg-1")
		require.NoError(t, err)
		require.Len(t, got.Ledger, 3)
		assert.True(t, got.TotalAmount.Equal(b.TotalAmount))
		assert.Equal(t, ledger.StatusPending, got.Ledger[2].Status)
		assert.True(t, got.Ledger[1].DueDate.Equal(generic.NewDate(2025, time.February, 1)))
	})

	t.Run("UpdateIsCompareAndSet", func(t *testing.T) {
		s := open(t)
		repo := s.Repos().Contracts
		v1, err := repo.Insert(ctx, sampleContract("ctr-1"))
		require.NoError(t, err)

		// GIVEN: two writers read version 1
		first, second := v1, v1
		first.UnitID = "unit-b"
		second.UnitID = "unit-c"

		// WHEN: both write
		v2, err := repo.Update(ctx, first)
		require.NoError(t, err)
		_, err = repo.Update(ctx, second)

		// THEN: the second loses
		assert.Equal(t, int64(2), v2.Version)
		assert.ErrorIs(t, err, generic.ErrConcurrentModification)
		assert.True(t, generic.IsRetryable(err))

		got, err := repo.Get(ctx, "ctr-1")
		require.NoError(t, err)
		assert.Equal(t, "unit-b", got.UnitID)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("UpdateMissingIsNotFound", func(t *testing.T) {
		s := open(t)
		_, err := s.Repos().Contracts.Update(ctx, sampleContract("ghost").WithVersion(1))
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("DeleteIsCompareAndSet", func(t *testing.T) {
		s := open(t)
		repo := s.Repos().Contracts
		c, err := repo.Insert(ctx, sampleContract("ctr-1"))
		require.NoError(t, err)

		assert.ErrorIs(t, repo.Delete(ctx, "ctr-1", c.Version+1), generic.ErrConcurrentModification)
		require.NoError(t, repo.Delete(ctx, "ctr-1", c.Version))

		_, err = repo.Get(ctx, "ctr-1")
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("FindFiltersAndOrdersByID", func(t *testing.T) {
		s := open(t)
		repo := s.Repos().Contracts
		for _, id := range []string{"ctr-3", "ctr-1", "ctr-2"} {
			c := sampleContract(id)
			if id == "ctr-2" {
				c.UnitID = "unit-z"
			}
			_, err := repo.Insert(ctx, c)
			require.NoError(t, err)
		}

		all, err := repo.Find(ctx, generic.All[contract.Contract])
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"ctr-1", "ctr-2", "ctr-3"}, []string{all[0].ID, all[1].ID, all[2].ID})

		some, err := repo.Find(ctx, func(c contract.Contract) bool { return c.UnitID == "unit-a" })
		require.NoError(t, err)
		assert.Len(t, some, 2)
	})

	t.Run("WithTxCommitsAllWrites", func(t *testing.T) {
		s := open(t)
		err := s.WithTx(ctx, func(r store.Repos) error {
			if _, err := r.Contracts.Insert(ctx, sampleContract("ctr-1")); err != nil {
				return err
			}
			reward, err := rewards.New("ctr-1", "tenant-1", 12, now)
			if err != nil {
				return err
			}
			_, err = r.Rewards.Insert(ctx, reward)
			return err
		})
		require.NoError(t, err)

		_, err = s.Repos().Contracts.Get(ctx, "ctr-1")
		assert.NoError(t, err)
		_, err = s.Repos().Rewards.Get(ctx, rewards.IDForContract("ctr-1"))
		assert.NoError(t, err)
	})

	t.Run("WithTxRollsBackOnError", func(t *testing.T) {
		s := open(t)
		existing, err := s.Repos().Contracts.Insert(ctx, sampleContract("ctr-1"))
		require.NoError(t, err)

		// GIVEN: a transaction that updates a contract and inserts a booking
		// WHEN: its last step fails
		boom := errors.New("boom")
		err = s.WithTx(ctx, func(r store.Repos) error {
			c := existing
			c.Status = contract.StatusActive
			if _, err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}
			if _, err := r.Bookings.Insert(ctx, sampleBooking("bkg-1")); err != nil {
				return err
			}
			return boom
		})

		// THEN: nothing it wrote survives
		assert.ErrorIs(t, err, boom)
		got, err := s.Repos().Contracts.Get(ctx, "ctr-1")
		require.NoError(t, err)
		assert.Equal(t, contract.StatusDraft, got.Status)
		assert.Equal(t, int64(1), got.Version)
		_, err = s.Repos().Bookings.Get(ctx, "bkg-1")
		assert.ErrorIs(t, err, generic.ErrNotFound)
	})

	t.Run("WithTxReadsOwnWrites", func(t *testing.T) {
		s := open(t)
		err := s.WithTx(ctx, func(r store.Repos) error {
			c, err := r.Contracts.Insert(ctx, sampleContract("ctr-1"))
			if err != nil {
				return err
			}
			c.UnitID = "unit-b"
			if _, err := r.Contracts.Update(ctx, c); err != nil {
				return err
			}
			got, err := r.Contracts.Get(ctx, "ctr-1")
			if err != nil {
				return err
			}
			assert.Equal(t, "unit-b", got.UnitID)
			assert.Equal(t, int64(2), got.Version)

			found, err := r.Contracts.Find(ctx, generic.All[contract.Contract])
			if err != nil {
				return err
			}
			assert.Len(t, found, 1)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ReturnedDocumentsAreCopies", func(t *testing.T) {
		s := open(t)
		_, err := s.Repos().Bookings.Insert(ctx, sampleBooking("bkg-1"))
		require.NoError(t, err)

		got, err := s.Repos().Bookings.Get(ctx, "bkg-1")
		require.NoError(t, err)
		got.Ledger[0].Status = ledger.StatusPaid

		again, err := s.Repos().Bookings.Get(ctx, "bkg-1")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, again.Ledger[0].Status)
	})
}
