package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunTransaction(t *testing.T) {
	repo := newRepoManager(t)
	reserves := repo.ReserveRepository()

	t.Run("commit", func(t *testing.T) {
		reserve := makeRandomReserve("")
		res, err := repo.write(func(ctx context.Context) (interface{}, error) {
			if err := reserves.AddReserve(ctx, reserve); err != nil {
				return nil, err
			}
			return reserve.ReservePub, nil
		})
		require.NoError(t, err)
		require.Equal(t, reserve.ReservePub, res)

		got, err := reserves.GetReserve(ctx, reserve.ReservePub)
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("rollback", func(t *testing.T) {
		reserve := makeRandomReserve("")
		expectedErr := errors.New("something went wrong")
		_, err := repo.write(func(ctx context.Context) (interface{}, error) {
			if err := reserves.AddReserve(ctx, reserve); err != nil {
				return nil, err
			}
			return nil, expectedErr
		})
		require.ErrorIs(t, err, expectedErr)

		got, err := reserves.GetReserve(ctx, reserve.ReservePub)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("nested_joins_outer", func(t *testing.T) {
		reserve := makeRandomReserve("")
		coin := makeRandomCoin("https://exchange.test/")
		expectedErr := errors.New("outer failure")

		_, err := repo.write(func(ctx context.Context) (interface{}, error) {
			if _, err := repo.RunTransaction(
				ctx, false, func(ctx context.Context) (interface{}, error) {
					return nil, reserves.AddReserve(ctx, reserve)
				},
			); err != nil {
				return nil, err
			}
			if err := repo.CoinRepository().AddCoin(ctx, coin); err != nil {
				return nil, err
			}
			return nil, expectedErr
		})
		require.ErrorIs(t, err, expectedErr)

		got, err := reserves.GetReserve(ctx, reserve.ReservePub)
		require.NoError(t, err)
		require.Nil(t, got)
		gotCoin, err := repo.CoinRepository().GetCoin(ctx, coin.CoinPub)
		require.NoError(t, err)
		require.Nil(t, gotCoin)
	})

	t.Run("read_only", func(t *testing.T) {
		_, err := repo.read(func(ctx context.Context) (interface{}, error) {
			return nil, reserves.AddReserve(ctx, makeRandomReserve(""))
		})
		require.Error(t, err)
	})
}
