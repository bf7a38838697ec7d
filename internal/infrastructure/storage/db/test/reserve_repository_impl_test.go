package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taler-go/walletd/internal/core/domain"
)

func TestReserveRepository(t *testing.T) {
	repo := newRepoManager(t)
	reserves := repo.ReserveRepository()

	bankReserve := makeRandomReserve("https://bank.test/withdrawal-operation/1")
	manualReserve := makeRandomReserve("")

	t.Run("add", func(t *testing.T) {
		require.NoError(t, reserves.AddReserve(ctx, bankReserve))
		require.NoError(t, reserves.AddReserve(ctx, manualReserve))
		require.ErrorIs(
			t, reserves.AddReserve(ctx, bankReserve), domain.ErrRecordAlreadyExists,
		)
	})

	t.Run("get", func(t *testing.T) {
		reserve, err := reserves.GetReserve(ctx, bankReserve.ReservePub)
		require.NoError(t, err)
		require.NotNil(t, reserve)
		require.Equal(t, domain.ReserveRegisteringBank, reserve.ReserveStatus)
		require.Equal(t, "KUDOS:10", reserve.InstructedAmount.String())
		require.True(t, reserve.TimestampCreated.Equal(now))

		reserve, err = reserves.GetReserve(ctx, randomKey())
		require.NoError(t, err)
		require.Nil(t, reserve)
	})

	t.Run("get_by_bank_status_url", func(t *testing.T) {
		reserve, err := reserves.GetReserveByBankStatusURL(
			ctx, bankReserve.BankInfo.StatusURL,
		)
		require.NoError(t, err)
		require.NotNil(t, reserve)
		require.Equal(t, bankReserve.ReservePub, reserve.ReservePub)

		reserve, err = reserves.GetReserveByBankStatusURL(ctx, "")
		require.NoError(t, err)
		require.Nil(t, reserve)
	})

	t.Run("update", func(t *testing.T) {
		_, err := repo.write(func(ctx context.Context) (interface{}, error) {
			return nil, reserves.UpdateReserve(
				ctx, bankReserve.ReservePub,
				func(r *domain.Reserve) (*domain.Reserve, error) {
					if _, err := r.RegisteredWithBank(now); err != nil {
						return nil, err
					}
					return r, nil
				},
			)
		})
		require.NoError(t, err)

		reserve, err := reserves.GetReserve(ctx, bankReserve.ReservePub)
		require.NoError(t, err)
		require.Equal(t, domain.ReserveWaitConfirmBank, reserve.ReserveStatus)

		err = reserves.UpdateReserve(
			ctx, randomKey(),
			func(r *domain.Reserve) (*domain.Reserve, error) { return r, nil },
		)
		require.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("get_all_and_delete", func(t *testing.T) {
		all, err := reserves.GetAllReserves(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		require.NoError(t, reserves.DeleteReserve(ctx, manualReserve.ReservePub))
		require.NoError(t, reserves.DeleteReserve(ctx, manualReserve.ReservePub))

		all, err = reserves.GetAllReserves(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})
}
