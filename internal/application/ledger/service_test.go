package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/license-hub/license-hub/internal/domain/billing"
	"github.com/license-hub/license-hub/internal/infrastructure/memory"
)

func newTestService(lease time.Duration, maxAttempts int) *Service {
	return NewService(memory.NewLedgerRepository(), lease, maxAttempts, zerolog.Nop())
}

func TestClaimConcurrentDuplicates(t *testing.T) {
	svc := newTestService(30*time.Second, 5)
	ctx := context.Background()

	const workers = 50
	type outcome struct {
		res billing.ClaimResult
		err error
	}
	outcomes := make(chan outcome, workers)
	for i := 0; i < workers; i++ {
		go func() {
			res, _, err := svc.Claim(ctx, "evt_race", billing.EventPaymentSucceeded, "hash")
			outcomes <- outcome{res, err}
		}()
	}

	won := 0
	for i := 0; i < workers; i++ {
		oc := <-outcomes
		require.NoError(t, oc.err)
		switch oc.res {
		case billing.ClaimWon:
			won++
		case billing.ClaimAlreadyProcessing:
		default:
			t.Fatalf("unexpected claim result %s", oc.res)
		}
	}
	require.Equal(t, 1, won, "exactly one worker must win the claim")
}

func TestClaimAfterCommitIsIdempotent(t *testing.T) {
	svc := newTestService(30*time.Second, 5)
	ctx := context.Background()

	res, token, err := svc.Claim(ctx, "evt_1", billing.EventCheckoutCompleted, "h")
	require.NoError(t, err)
	require.Equal(t, billing.ClaimWon, res)
	require.NoError(t, svc.Commit(ctx, "evt_1", token, true))

	// Replay after an arbitrary delay: no business logic may run again.
	res, _, err = svc.Claim(ctx, "evt_1", billing.EventCheckoutCompleted, "h")
	require.NoError(t, err)
	require.Equal(t, billing.ClaimAlreadyCompleted, res)
}

func TestReclaimExpiredLease(t *testing.T) {
	svc := newTestService(5*time.Millisecond, 5)
	ctx := context.Background()

	res, staleToken, err := svc.Claim(ctx, "evt_crash", billing.EventPaymentFailed, "h")
	require.NoError(t, err)
	require.Equal(t, billing.ClaimWon, res)

	time.Sleep(20 * time.Millisecond)

	res, freshToken, err := svc.Claim(ctx, "evt_crash", billing.EventPaymentFailed, "h")
	require.NoError(t, err)
	require.Equal(t, billing.ClaimReclaimed, res)

	// The crashed worker's token must no longer commit.
	require.ErrorIs(t, svc.Commit(ctx, "evt_crash", staleToken, true), billing.ErrStaleLock)
	require.NoError(t, svc.Commit(ctx, "evt_crash", freshToken, true))
}

func TestFailedAttemptsExhaust(t *testing.T) {
	svc := newTestService(30*time.Second, 2)
	ctx := context.Background()

	res, token, err := svc.Claim(ctx, "evt_bad", billing.EventPaymentFailed, "h")
	require.NoError(t, err)
	require.Equal(t, billing.ClaimWon, res)
	require.NoError(t, svc.Commit(ctx, "evt_bad", token, false))

	res, token, err = svc.Claim(ctx, "evt_bad", billing.EventPaymentFailed, "h")
	require.NoError(t, err)
	require.Equal(t, billing.ClaimReclaimed, res)
	require.NoError(t, svc.Commit(ctx, "evt_bad", token, false))

	res, _, err = svc.Claim(ctx, "evt_bad", billing.EventPaymentFailed, "h")
	require.NoError(t, err)
	require.Equal(t, billing.ClaimExhausted, res)

	dead, err := svc.Exhausted(ctx, "evt_bad")
	require.NoError(t, err)
	require.True(t, dead)
}

func TestCommitUnknownEvent(t *testing.T) {
	svc := newTestService(30*time.Second, 5)
	err := svc.Commit(context.Background(), "evt_missing", uuid.New(), true)
	require.ErrorIs(t, err, billing.ErrStaleLock)
}
