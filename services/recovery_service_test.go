package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readStreakAPI/internal/cache"
	"readStreakAPI/internal/errs"
	"readStreakAPI/internal/ledger"
	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/rank"
	"readStreakAPI/internal/recovery"
	"readStreakAPI/internal/streak"
	"readStreakAPI/internal/testutil"
	"readStreakAPI/internal/user"
)

type recoveryFixture struct {
	streaks *testutil.StreakStore
	users   *testutil.UserStore
	cache   *cache.RecoverableStreaks
	redis   *miniredis.Miniredis
	ledger  *testutil.Ledger
	svc     *RecoveryService
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()
	f := &recoveryFixture{
		streaks: testutil.NewStreakStore(),
		users:   testutil.NewUserStore(),
		ledger:  testutil.NewLedger(),
	}
	f.cache, f.redis = testutil.NewCache(t, 24*time.Hour)
	f.svc = NewRecoveryService(f.streaks, f.users, f.cache, f.ledger, RecoveryOptions{
		RegularCost:   100,
		Window:        24 * time.Hour,
		CommitBackoff: time.Millisecond,
	}, logger.NewNop())
	return f
}

// lapse leaves userID with a zeroed streak last extended on Thursday and
// length recoverable since Monday 08:00.
func (f *recoveryFixture) lapse(t *testing.T, userID string, length int) time.Time {
	t.Helper()
	last := at(14, 10)
	f.streaks.Put(streak.Streak{UserID: userID, MaxStreak: length, TotalStreak: length, LastViewAt: &last})
	snapshotAt := at(18, 8)
	require.NoError(t, f.cache.Put(context.Background(), userID, length, snapshotAt))
	return snapshotAt
}

func (f *recoveryFixture) previousRecovery(userID string) {
	f.streaks.AddAction(streak.Action{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           streak.ActionRecover,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      at(1, 9),
	})
}

func TestQuote(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()

	q, err := f.svc.Quote(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, &recovery.Quote{RegularCost: 100}, q)

	f.lapse(t, "u1", 10)
	q, err = f.svc.Quote(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, &recovery.Quote{CanRecover: true, OldStreakLength: 10, Cost: 0, RegularCost: 100}, q)

	f.previousRecovery("u1")
	q, err = f.svc.Quote(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, &recovery.Quote{CanRecover: true, OldStreakLength: 10, Cost: 100, RegularCost: 100}, q)

	q, err = f.svc.Quote(ctx, "u1", at(19, 9))
	require.NoError(t, err)
	assert.False(t, q.CanRecover)
}

func TestRecover_FirstRecoveryIsFree(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.lapse(t, "u1", 10)
	f.ledger.SetBalance("u1", 30)

	res, err := f.svc.Recover(ctx, "u1", at(18, 9))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Cost)
	assert.Equal(t, 10, res.Streak.Current)
	assert.Equal(t, 10, res.Streak.Max)
	require.NotNil(t, res.Balance)
	assert.Equal(t, 30, *res.Balance)
	assert.Equal(t, 0, f.ledger.Calls)

	actions := f.streaks.Actions("u1")
	require.Len(t, actions, 1)
	assert.Equal(t, 0, actions[0].CoresSpent)

	entry, err := f.cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecover_RestoredStreakContinuesToday(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.lapse(t, "u1", 10)

	_, err := f.svc.Recover(ctx, "u1", at(18, 9))
	require.NoError(t, err)

	streaks := NewStreakService(f.streaks, f.users, testutil.NewViewStore(), f.cache, logger.NewNop())
	snap, err := streaks.RecordView(ctx, rank.View{UserID: "u1", PostID: "p1", ViewedAt: at(18, 10)}, at(18, 10))
	require.NoError(t, err)
	assert.Equal(t, 11, snap.Current)
}

func TestRecover_StacksOnStreakStartedToday(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.lapse(t, "u1", 10)
	today := at(18, 8)
	f.streaks.Put(streak.Streak{UserID: "u1", CurrentStreak: 1, MaxStreak: 10, TotalStreak: 11, LastViewAt: &today})

	res, err := f.svc.Recover(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, 11, res.Streak.Current)
	assert.Equal(t, 11, res.Streak.Max)
	assert.True(t, res.Streak.ReadToday)
}

func TestRecover_InsufficientBalanceChangesNothing(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.previousRecovery("u1")
	f.lapse(t, "u1", 20)
	f.ledger.SetBalance("u1", 50)

	_, err := f.svc.Recover(ctx, "u1", at(18, 9))
	assert.ErrorIs(t, err, errs.InsufficientBalance)

	st, err := f.streaks.GetStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentStreak)
	assert.Len(t, f.streaks.Actions("u1"), 1)
	assert.Equal(t, 50, f.ledger.Balance(ledger.UserAccount("u1")))

	entry, err := f.cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 20, entry.Length)
}

func TestRecover_PaidDebitsOnceAcrossReplays(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.previousRecovery("u1")
	snapshotAt := f.lapse(t, "u1", 20)
	f.ledger.SetBalance("u1", 500)

	res, err := f.svc.Recover(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, 100, res.Cost)
	require.NotNil(t, res.Balance)
	assert.Equal(t, 400, *res.Balance)
	assert.Equal(t, 100, f.ledger.Balance(ledger.SystemAccount))

	// The entry reappears as if the cache clear had failed.
	require.NoError(t, f.cache.Put(ctx, "u1", 20, snapshotAt))

	q, err := f.svc.Quote(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.False(t, q.CanRecover)

	res, err = f.svc.Recover(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, 20, res.Streak.Current)
	assert.Equal(t, 100, res.Cost)

	assert.Equal(t, 1, f.ledger.Calls)
	assert.Equal(t, 400, f.ledger.Balance(ledger.UserAccount("u1")))
	assert.Len(t, f.streaks.Actions("u1"), 2)

	entry, err := f.cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecover_RetryAfterFailedCommitReusesKey(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.previousRecovery("u1")
	f.lapse(t, "u1", 20)
	f.ledger.SetBalance("u1", 500)

	f.streaks.CommitErr = errors.New("connection reset")
	_, err := f.svc.Recover(ctx, "u1", at(18, 9))
	require.Error(t, err)
	assert.Equal(t, 400, f.ledger.Balance(ledger.UserAccount("u1")))

	f.streaks.CommitErr = nil
	res, err := f.svc.Recover(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, 20, res.Streak.Current)

	assert.Equal(t, 2, f.ledger.Calls)
	assert.Equal(t, 400, f.ledger.Balance(ledger.UserAccount("u1")))
	assert.Len(t, f.streaks.Actions("u1"), 2)
}

func TestRecover_PendingIntentOutlivesWindow(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.previousRecovery("u1")
	snapshotAt := f.lapse(t, "u1", 20)
	f.ledger.SetBalance("u1", 500)

	f.streaks.CommitErr = errors.New("connection reset")
	_, err := f.svc.Recover(ctx, "u1", snapshotAt.Add(23*time.Hour+59*time.Minute))
	require.Error(t, err)
	assert.Equal(t, 400, f.ledger.Balance(ledger.UserAccount("u1")))

	// The database recovers only after the window and the cache entry are gone.
	f.streaks.CommitErr = nil
	f.redis.FastForward(25 * time.Hour)
	entry, err := f.cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, entry)

	late := snapshotAt.Add(24*time.Hour + 2*time.Minute)
	q, err := f.svc.Quote(ctx, "u1", late)
	require.NoError(t, err)
	assert.Equal(t, &recovery.Quote{CanRecover: true, OldStreakLength: 20, Cost: 100, RegularCost: 100}, q)

	res, err := f.svc.Recover(ctx, "u1", late)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Streak.Current)
	assert.Equal(t, 100, res.Cost)
	require.NotNil(t, res.Balance)
	assert.Equal(t, 400, *res.Balance)

	assert.Equal(t, 2, f.ledger.Calls)
	assert.Equal(t, 400, f.ledger.Balance(ledger.UserAccount("u1")))
	assert.Equal(t, 100, f.ledger.Balance(ledger.SystemAccount))

	pending, err := f.streaks.PendingAction(ctx, "u1", streak.ActionRecover)
	require.NoError(t, err)
	assert.Nil(t, pending)
	latest, err := f.streaks.LatestAction(ctx, "u1", streak.ActionRecover)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 20, latest.OldLength)

	q, err = f.svc.Quote(ctx, "u1", late)
	require.NoError(t, err)
	assert.False(t, q.CanRecover)
}

func TestRecover_CommitRetriesTransientFailure(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.previousRecovery("u1")
	f.lapse(t, "u1", 20)
	f.ledger.SetBalance("u1", 500)
	f.streaks.FailCommits(2, errors.New("connection reset"))

	res, err := f.svc.Recover(ctx, "u1", at(18, 9))
	require.NoError(t, err)
	assert.Equal(t, 20, res.Streak.Current)
	assert.Equal(t, 1, f.ledger.Calls)
	assert.Equal(t, 400, f.ledger.Balance(ledger.UserAccount("u1")))
}

func TestRecover_ConcurrentCallsDebitOnce(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	f.previousRecovery("u1")
	f.lapse(t, "u1", 20)
	f.ledger.SetBalance("u1", 500)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Recover(ctx, "u1", at(18, 9))
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			assert.ErrorIs(t, err, errs.NoStreakToRecover)
		}
	}

	st, err := f.streaks.GetStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, st.CurrentStreak)
	assert.Equal(t, 400, f.ledger.Balance(ledger.UserAccount("u1")))
	assert.Equal(t, 100, f.ledger.Balance(ledger.SystemAccount))

	actions := f.streaks.Actions("u1")
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, streak.ActionCompleted, a.Status)
	}
}

func TestRecover_Errors(t *testing.T) {
	t.Run("nothing to recover", func(t *testing.T) {
		f := newRecoveryFixture(t)
		_, err := f.svc.Recover(context.Background(), "u1", at(18, 9))
		assert.ErrorIs(t, err, errs.NoStreakToRecover)
	})

	t.Run("role cannot spend", func(t *testing.T) {
		f := newRecoveryFixture(t)
		f.lapse(t, "u1", 10)
		f.users.SetRole("u1", user.CoresRoleReadOnly)

		_, err := f.svc.Recover(context.Background(), "u1", at(18, 9))
		assert.ErrorIs(t, err, errs.AccessDenied)
		assert.Empty(t, f.streaks.Actions("u1"))
	})

	t.Run("ledger unavailable", func(t *testing.T) {
		f := newRecoveryFixture(t)
		f.previousRecovery("u1")
		f.lapse(t, "u1", 10)
		f.ledger.Err = ledger.ErrUnavailable

		_, err := f.svc.Recover(context.Background(), "u1", at(18, 9))
		assert.ErrorIs(t, err, errs.LedgerUnavailable)

		st, err := f.streaks.GetStreak(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, st.CurrentStreak)

		pending, err := f.streaks.PendingAction(context.Background(), "u1", streak.ActionRecover)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, 100, pending.CoresSpent)

		f.ledger.Err = nil
		f.ledger.SetBalance("u1", 100)
		res, err := f.svc.Recover(context.Background(), "u1", at(18, 10))
		require.NoError(t, err)
		assert.Equal(t, 10, res.Streak.Current)
		assert.Equal(t, 0, f.ledger.Balance(ledger.UserAccount("u1")))
	})

	t.Run("unknown ledger account", func(t *testing.T) {
		f := newRecoveryFixture(t)
		f.ledger.Err = ledger.ErrAccountNotFound

		_, err := f.svc.Balance(context.Background(), "ghost")
		assert.ErrorIs(t, err, errs.NotFound)
	})
}

func TestBalance(t *testing.T) {
	f := newRecoveryFixture(t)
	f.ledger.SetBalance("u1", 250)

	b, err := f.svc.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &user.BalanceResponse{UserID: "u1", Amount: 250}, b)

	f.ledger.Err = ledger.ErrUnavailable
	_, err = f.svc.Balance(context.Background(), "u1")
	assert.ErrorIs(t, err, errs.LedgerUnavailable)
}
