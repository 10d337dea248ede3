package device

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/license-hub/license-hub/internal/domain/devicesession"
	"github.com/license-hub/license-hub/internal/infrastructure/memory"
)

func newTestService(heartbeat time.Duration) (*Service, *memory.SessionRepository) {
	repo := memory.NewSessionRepository()
	return NewService(repo, heartbeat, zerolog.Nop()), repo
}

func TestTakeoverLeavesOneActiveSession(t *testing.T) {
	svc, repo := newTestService(time.Minute)
	ctx := context.Background()
	customerID := uuid.New()

	first, err := svc.OpenSession(ctx, customerID, "laptop")
	require.NoError(t, err)
	second, err := svc.OpenSession(ctx, customerID, "desktop")
	require.NoError(t, err)

	active, err := repo.GetActive(ctx, customerID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.SessionID, active.SessionID)

	old, err := repo.GetByID(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, devicesession.StatusRevoked, old.Status)
	assert.NotNil(t, old.RevokedAt)
}

func TestConcurrentTakeover(t *testing.T) {
	svc, repo := newTestService(time.Minute)
	ctx := context.Background()
	customerID := uuid.New()

	const racers = 20
	type outcome struct {
		sess *devicesession.Session
		err  error
	}
	outcomes := make(chan outcome, racers)
	for i := 0; i < racers; i++ {
		go func(n int) {
			sess, err := svc.OpenSession(ctx, customerID, fmt.Sprintf("device-%d", n))
			outcomes <- outcome{sess, err}
		}(i)
	}

	sessions := make([]*devicesession.Session, 0, racers)
	for i := 0; i < racers; i++ {
		oc := <-outcomes
		require.NoError(t, oc.err, "losing a takeover race is not an error")
		require.NotNil(t, oc.sess)
		sessions = append(sessions, oc.sess)
	}

	active, err := repo.GetActive(ctx, customerID)
	require.NoError(t, err)
	require.NotNil(t, active)

	activeCount, revokedCount := 0, 0
	for _, s := range sessions {
		got, err := repo.GetByID(ctx, s.SessionID)
		require.NoError(t, err)
		require.NotNil(t, got)
		switch got.Status {
		case devicesession.StatusActive:
			activeCount++
			assert.Equal(t, active.SessionID, got.SessionID, "the surviving session is the one GetActive reports")
		case devicesession.StatusRevoked:
			revokedCount++
			assert.NotNil(t, got.RevokedAt)
		}
	}
	assert.Equal(t, 1, activeCount, "exactly one winner stays active")
	assert.Equal(t, racers-1, revokedCount, "every loser ends up revoked")
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	svc, _ := newTestService(time.Minute)
	ctx := context.Background()

	sess, err := svc.OpenSession(ctx, uuid.New(), "laptop")
	require.NoError(t, err)
	require.NoError(t, svc.Heartbeat(ctx, sess.SessionID))
}

func TestHeartbeatOnStaleSessionRevokes(t *testing.T) {
	svc, repo := newTestService(time.Millisecond)
	ctx := context.Background()

	sess, err := svc.OpenSession(ctx, uuid.New(), "laptop")
	require.NoError(t, err)

	// Miss more than three heartbeat intervals.
	time.Sleep(10 * time.Millisecond)

	require.ErrorIs(t, svc.Heartbeat(ctx, sess.SessionID), devicesession.ErrSessionNotFound)

	got, err := repo.GetByID(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, devicesession.StatusRevoked, got.Status)
}

func TestHeartbeatUnknownSession(t *testing.T) {
	svc, _ := newTestService(time.Minute)
	require.ErrorIs(t, svc.Heartbeat(context.Background(), uuid.New()), devicesession.ErrSessionNotFound)
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc, _ := newTestService(time.Minute)
	ctx := context.Background()

	sess, err := svc.OpenSession(ctx, uuid.New(), "laptop")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, sess.SessionID))
	require.NoError(t, svc.Revoke(ctx, sess.SessionID))
	require.NoError(t, svc.Revoke(ctx, uuid.New()), "revoking an unknown session is a no-op")
}

func TestActiveLazilyRevokesStale(t *testing.T) {
	svc, _ := newTestService(time.Millisecond)
	ctx := context.Background()
	customerID := uuid.New()

	_, err := svc.OpenSession(ctx, customerID, "laptop")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	sess, err := svc.Active(ctx, customerID)
	require.NoError(t, err)
	assert.Nil(t, sess, "stale session must be revoked on access")
}
