// Package storetest holds behaviour checks shared by every settlement store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds an empty store driven by clk.
type Factory func(t *testing.T, clk clock.Clock) domain.Store

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Run("claim then finalize", func(t *testing.T) { claimThenFinalize(t, newStore) })
	t.Run("live claim is busy", func(t *testing.T) { liveClaimIsBusy(t, newStore) })
	t.Run("stale claim is taken over", func(t *testing.T) { staleClaimTakenOver(t, newStore) })
	t.Run("release frees the key", func(t *testing.T) { releaseFreesKey(t, newStore) })
	t.Run("finalize with lost claim", func(t *testing.T) { finalizeLostClaim(t, newStore) })
	t.Run("list stale", func(t *testing.T) { listStale(t, newStore) })
	t.Run("concurrent claims", func(t *testing.T) { concurrentClaims(t, newStore) })
	t.Run("rejects empty key", func(t *testing.T) { rejectsEmptyKey(t, newStore) })
	t.Run("refund total is bounded", func(t *testing.T) { refundTotalBounded(t, newStore) })
}

func claimThenFinalize(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clk := clock.NewFakeClock(epoch)
	store := newStore(t, clk)

	_, ok, err := store.Get(ctx, "TX1")
	require.NoError(t, err)
	assert.False(t, ok)

	claim, err := store.Claim(ctx, domain.Record{TransactionID: " TX1 ", InvoiceID: "42", Currency: "czk"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimAcquired, claim.Status)
	assert.NotEmpty(t, claim.Record.ClaimToken)
	assert.Equal(t, domain.OutcomeInProgress, claim.Record.Outcome)

	rec := claim.Record
	rec.Amount = 29900
	rec.OrderID = "17"
	rec.Method = "card"
	clk.Advance(time.Second)
	settled, err := store.Finalize(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, settled.Outcome)
	assert.Equal(t, int64(29900), settled.Amount)
	assert.Equal(t, "CZK", settled.Currency)
	require.NotNil(t, settled.SettledAt)
	assert.True(t, settled.SettledAt.Equal(epoch.Add(time.Second)))

	again, err := store.Claim(ctx, domain.Record{TransactionID: "TX1"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimSettled, again.Status)
	assert.Equal(t, int64(29900), again.Record.Amount)

	stored, ok, err := store.Get(ctx, "TX1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Settled())
	assert.Equal(t, "17", stored.OrderID)
}

func liveClaimIsBusy(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clk := clock.NewFakeClock(epoch)
	store := newStore(t, clk)

	first, err := store.Claim(ctx, domain.Record{TransactionID: "TX2"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimAcquired, first.Status)

	clk.Advance(30 * time.Second)
	second, err := store.Claim(ctx, domain.Record{TransactionID: "TX2"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimBusy, second.Status)
}

func staleClaimTakenOver(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clk := clock.NewFakeClock(epoch)
	store := newStore(t, clk)

	first, err := store.Claim(ctx, domain.Record{TransactionID: "TX3", InvoiceID: "9"}, time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	second, err := store.Claim(ctx, domain.Record{TransactionID: "TX3"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, domain.ClaimAcquired, second.Status)
	assert.NotEqual(t, first.Record.ClaimToken, second.Record.ClaimToken)
	assert.Equal(t, "9", second.Record.InvoiceID)

	_, err = store.Finalize(ctx, first.Record)
	assert.ErrorIs(t, err, domain.ErrClaimLost)

	_, err = store.Finalize(ctx, second.Record)
	require.NoError(t, err)
}

func releaseFreesKey(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, clock.NewFakeClock(epoch))

	claim, err := store.Claim(ctx, domain.Record{TransactionID: "TX4"}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "TX4", "someone-else"))
	_, ok, err := store.Get(ctx, "TX4")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Release(ctx, "TX4", claim.Record.ClaimToken))
	_, ok, err = store.Get(ctx, "TX4")
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := store.Claim(ctx, domain.Record{TransactionID: "TX4"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, again.Status)
}

func finalizeLostClaim(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, clock.NewFakeClock(epoch))

	_, err := store.Finalize(ctx, domain.Record{TransactionID: "TX5", ClaimToken: "nope"})
	assert.ErrorIs(t, err, domain.ErrClaimLost)

	claim, err := store.Claim(ctx, domain.Record{TransactionID: "TX5"}, time.Minute)
	require.NoError(t, err)
	_, err = store.Finalize(ctx, claim.Record)
	require.NoError(t, err)

	_, err = store.Finalize(ctx, claim.Record)
	assert.ErrorIs(t, err, domain.ErrClaimLost)
	require.NoError(t, store.Release(ctx, "TX5", claim.Record.ClaimToken))
	stored, ok, err := store.Get(ctx, "TX5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Settled())
}

func listStale(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clk := clock.NewFakeClock(epoch)
	store := newStore(t, clk)

	old, err := store.Claim(ctx, domain.Record{TransactionID: "OLD"}, time.Minute)
	require.NoError(t, err)
	done, err := store.Claim(ctx, domain.Record{TransactionID: "DONE"}, time.Minute)
	require.NoError(t, err)
	_, err = store.Finalize(ctx, done.Record)
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	_, err = store.Claim(ctx, domain.Record{TransactionID: "FRESH"}, time.Minute)
	require.NoError(t, err)

	stale, err := store.ListStale(ctx, clk.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "OLD", stale[0].TransactionID)
	assert.Equal(t, old.Record.ClaimToken, stale[0].ClaimToken)
}

func concurrentClaims(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, clock.NewFakeClock(epoch))

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := store.Claim(ctx, domain.Record{TransactionID: "RACE"}, time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			if claim.Status == domain.ClaimAcquired {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}

func rejectsEmptyKey(t *testing.T, newStore Factory) {
	store := newStore(t, clock.NewFakeClock(epoch))
	_, err := store.Claim(context.Background(), domain.Record{TransactionID: "  "}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func refundTotalBounded(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t, clock.NewFakeClock(epoch))

	_, err := store.AddRefund(ctx, "TX6", 100)
	assert.ErrorIs(t, err, domain.ErrNotSettled)

	claim, err := store.Claim(ctx, domain.Record{TransactionID: "TX6"}, time.Minute)
	require.NoError(t, err)
	_, err = store.AddRefund(ctx, "TX6", 100)
	assert.ErrorIs(t, err, domain.ErrNotSettled)

	rec := claim.Record
	rec.Amount = 1000
	_, err = store.Finalize(ctx, rec)
	require.NoError(t, err)

	got, err := store.AddRefund(ctx, "TX6", 600)
	require.NoError(t, err)
	assert.Equal(t, int64(600), got.Refunded())
	assert.Equal(t, int64(400), got.Refundable())

	_, err = store.AddRefund(ctx, "TX6", 600)
	assert.ErrorIs(t, err, domain.ErrRefundExceeded)

	got, err = store.AddRefund(ctx, "TX6", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Refundable())

	got, err = store.AddRefund(ctx, "TX6", -400)
	require.NoError(t, err)
	assert.Equal(t, int64(600), got.Refunded())

	stored, ok, err := store.Get(ctx, "TX6")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(600), stored.Refunded())
	assert.True(t, stored.Settled())
}
