package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"nexopos/internal/apperror"
	"nexopos/internal/model"
	"nexopos/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservation_ReserveConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 100)

	res, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("10")}, f.cashier)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, res.Status)
	assert.Equal(t, f.now().Add(15*time.Minute), res.ExpiresAt, "default ttl applies")

	rec := f.stock(t, key)
	assert.Equal(t, "100", rec.Quantity.String())
	assert.Equal(t, "10", rec.ReservedQuantity.String())
	assert.Equal(t, "90", rec.AvailableQuantity.String())

	res, err = f.reservations.Confirm(ctx, res.ID, f.cashier)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, res.Status)
	require.NotNil(t, res.ResolvedAt)

	rec = f.stock(t, key)
	assert.Equal(t, "90", rec.Quantity.String())
	assert.True(t, rec.ReservedQuantity.IsZero())
	assert.Equal(t, "90", rec.AvailableQuantity.String())

	_, err = f.reservations.Confirm(ctx, res.ID, f.cashier)
	assert.ErrorIs(t, err, apperror.ErrInvalidReservation, "confirmed is terminal")
}

func TestReservation_Release(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 100)

	res, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("10")}, f.cashier)
	require.NoError(t, err)
	res, err = f.reservations.Release(ctx, res.ID, f.cashier)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationReleased, res.Status)

	rec := f.stock(t, key)
	assert.Equal(t, "100", rec.Quantity.String())
	assert.True(t, rec.ReservedQuantity.IsZero())

	_, err = f.reservations.Release(ctx, res.ID, f.cashier)
	assert.ErrorIs(t, err, apperror.ErrInvalidReservation)
	_, err = f.reservations.Confirm(ctx, res.ID, f.cashier)
	assert.ErrorIs(t, err, apperror.ErrInvalidReservation)
}

func TestReservation_InsufficientAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 10)

	_, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("7")}, f.cashier)
	require.NoError(t, err)
	_, err = f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("4")}, f.cashier)
	require.ErrorIs(t, err, apperror.ErrInsufficientStock)
	assert.Equal(t, "7", f.stock(t, key).ReservedQuantity.String())

	_, err = f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("0")}, f.cashier)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestReservation_ExpiredCannotBeConfirmedAndIsSwept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 100)

	res, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("10"), TTL: time.Minute}, f.cashier)
	require.NoError(t, err)
	kept, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("5"), TTL: time.Hour}, f.cashier)
	require.NoError(t, err)

	n, err := f.reservations.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing expired yet")

	f.advance(2 * time.Minute)

	_, err = f.reservations.Confirm(ctx, res.ID, f.cashier)
	require.ErrorIs(t, err, apperror.ErrInvalidReservation)

	n, err = f.reservations.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.reservations.Get(ctx, res.ID, f.cashier)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, got.Status)

	rec := f.stock(t, key)
	assert.Equal(t, "100", rec.Quantity.String())
	assert.Equal(t, "5", rec.ReservedQuantity.String())
	assert.Equal(t, "95", rec.AvailableQuantity.String())

	n, err = f.reservations.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is idempotent")

	got, err = f.reservations.Get(ctx, kept.ID, f.cashier)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, got.Status)
}

func TestReservation_SweepCoversEveryPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 1000)

	const holds = 520 // more than one page
	for i := 0; i < holds; i++ {
		_, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("1"), TTL: time.Minute}, f.cashier)
		require.NoError(t, err)
	}
	f.advance(2 * time.Minute)

	n, err := f.reservations.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, holds, n)

	rec := f.stock(t, key)
	assert.True(t, rec.ReservedQuantity.IsZero())
	assert.Equal(t, "1000", rec.AvailableQuantity.String())
}

func TestReservation_SweepPassesOverFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 10)
	for i := 0; i < 3; i++ {
		_, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("1"), TTL: time.Minute}, f.cashier)
		require.NoError(t, err)
	}
	f.advance(2 * time.Minute)

	// Exhausts every attempt of the first reservation's unit of work.
	f.store.injectConflicts(3)
	n, err := f.reservations.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "1", f.stock(t, key).ReservedQuantity.String())

	n, err = f.reservations.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "picked up again on the next sweep")
	assert.True(t, f.stock(t, key).ReservedQuantity.IsZero())
}

func TestReservation_OtherTenantIsInvisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 10)
	res, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("1")}, f.cashier)
	require.NoError(t, err)

	stranger := service.Actor{TenantID: uuid.New(), UserID: uuid.New()}
	_, err = f.reservations.Release(ctx, res.ID, stranger)
	assert.ErrorIs(t, err, apperror.ErrInvalidReservation)
	_, err = f.reservations.Get(ctx, res.ID, stranger)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// Sweeps racing confirms and releases must resolve every reservation exactly
// once and keep reservedQuantity equal to the sum of ACTIVE holds.
func TestReservation_SweepConcurrentWithConfirmAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.seed(t, 200)

	var ids []uuid.UUID
	for i := 0; i < 30; i++ {
		res, err := f.reservations.Reserve(ctx, service.ReserveRequest{Key: key, Quantity: dec("2"), TTL: time.Minute}, f.cashier)
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}
	f.advance(2 * time.Minute)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = f.reservations.Release(ctx, id, f.cashier)
			} else {
				_, _ = f.reservations.SweepExpired(ctx)
			}
		}(i, id)
	}
	wg.Wait()
	_, err := f.reservations.SweepExpired(ctx)
	require.NoError(t, err)

	for _, id := range ids {
		got, err := f.reservations.Get(ctx, id, f.cashier)
		require.NoError(t, err)
		assert.Contains(t, []model.ReservationStatus{model.ReservationReleased, model.ReservationExpired}, got.Status)
	}
	rec := f.stock(t, key)
	assert.True(t, rec.ReservedQuantity.IsZero())
	assert.Equal(t, "200", rec.Quantity.String())

	report, err := f.ledger.VerifyLedger(ctx, key)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}
