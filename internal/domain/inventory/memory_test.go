package inventory

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMemoryLedger_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"P": 10})

	require.NoError(t, l.Reserve(ctx, "P", 3))
	avail, err := l.Available(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 7, avail)

	require.NoError(t, l.Release(ctx, "P", 3))
	avail, err = l.Available(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 10, avail)
}

func TestMemoryLedger_InsufficientStock(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"P": 10})

	err := l.Reserve(ctx, "P", 15)

	var isErr *InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, "P", isErr.ProductID)
	assert.Equal(t, 15, isErr.Requested)
	assert.Equal(t, 10, isErr.Available)

	avail, err := l.Available(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 10, avail, "failed reservation must not mutate stock")
}

func TestMemoryLedger_ReserveExactStock(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"P": 4})

	require.NoError(t, l.Reserve(ctx, "P", 4))

	ok, err := l.CheckAvailability(ctx, "P", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLedger_UnknownProduct(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)

	require.ErrorIs(t, l.Reserve(ctx, "ghost", 1), ErrNotFound)
	require.ErrorIs(t, l.Release(ctx, "ghost", 1), ErrNotFound)
	_, err := l.CheckAvailability(ctx, "ghost", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_InvalidQuantity(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"P": 1})

	for _, qty := range []int{0, -1} {
		require.ErrorIs(t, l.Reserve(ctx, "P", qty), ErrInvalidQuantity)
		require.ErrorIs(t, l.Release(ctx, "P", qty), ErrInvalidQuantity)
		require.ErrorIs(t, l.Commit(ctx, "P", qty), ErrInvalidQuantity)
	}
}

func TestMemoryLedger_ConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"P": 50})

	var (
		g        errgroup.Group
		reserved atomic.Int64
		rejected atomic.Int64
	)
	for range 200 {
		g.Go(func() error {
			err := l.Reserve(ctx, "P", 1)
			var isErr *InsufficientStockError
			switch {
			case err == nil:
				reserved.Add(1)
			case errors.As(err, &isErr):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 50, reserved.Load())
	assert.EqualValues(t, 150, rejected.Load())

	avail, err := l.Available(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
}

func TestMemoryLedger_Commit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"P": 5})

	require.NoError(t, l.Commit(ctx, "P", 3))
	avail, err := l.Available(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 2, avail)

	err = l.Commit(ctx, "P", 3)
	var isErr *InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, 3, isErr.Requested)
	assert.Equal(t, 2, isErr.Available)

	avail, err = l.Available(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 2, avail, "failed commit must not mutate stock")
	require.ErrorIs(t, l.Commit(ctx, "ghost", 1), ErrNotFound)
}

func TestMemoryLedger_ConcurrentCommitAndReserve(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(map[string]int{"P": 60})

	var (
		g        errgroup.Group
		taken    atomic.Int64
		rejected atomic.Int64
	)
	for i := range 200 {
		g.Go(func() error {
			op := l.Reserve
			if i%2 == 0 {
				op = l.Commit
			}
			err := op(ctx, "P", 1)
			var isErr *InsufficientStockError
			switch {
			case err == nil:
				taken.Add(1)
			case errors.As(err, &isErr):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 60, taken.Load())
	assert.EqualValues(t, 140, rejected.Load())

	avail, err := l.Available(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
}
