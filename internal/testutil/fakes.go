// Package testutil provides in-memory stand-ins for the service dependencies.
package testutil

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"readStreakAPI/internal/cache"
	"readStreakAPI/internal/ledger"
	"readStreakAPI/internal/rank"
	"readStreakAPI/internal/store"
	"readStreakAPI/internal/streak"
	"readStreakAPI/internal/timeboundary"
	"readStreakAPI/internal/user"
)

// StreakStore keeps streak rows and actions in memory. WithStreakLock holds a
// single mutex, so concurrent callers are serialized like row locks.
type StreakStore struct {
	mu      sync.Mutex
	streaks map[string]streak.Streak
	actions []streak.Action

	// CommitErr, when set, is returned instead of committing a changed row.
	CommitErr error
	failLeft  int
}

func NewStreakStore() *StreakStore {
	return &StreakStore{streaks: make(map[string]streak.Streak)}
}

func (f *StreakStore) Put(st streak.Streak) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaks[st.UserID] = st
}

// AddAction seeds the log. An action without a status is completed.
func (f *StreakStore) AddAction(a streak.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.Status == "" {
		a.Status = streak.ActionCompleted
	}
	f.actions = append(f.actions, a)
}

func (f *StreakStore) Actions(userID string) []streak.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []streak.Action
	for _, a := range f.actions {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

// GetStreak creates the zero row for an unknown user, like the Postgres
// store.
func (f *StreakStore) GetStreak(ctx context.Context, userID string) (*streak.Streak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.streaks[userID]
	if !ok {
		st = streak.Streak{UserID: userID, UpdatedAt: time.Now()}
		f.streaks[userID] = st
	}
	return &st, nil
}

// Has reports whether a row exists for userID.
func (f *StreakStore) Has(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.streaks[userID]
	return ok
}

// FailCommits fails the next n changing updates with err.
func (f *StreakStore) FailCommits(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CommitErr = err
	f.failLeft = n
}

// WithStreakLock applies action log writes whenever fn succeeds. CommitErr
// only fails updates that change the row, and then nothing is applied.
func (f *StreakStore) WithStreakLock(ctx context.Context, userID string, fn store.StreakUpdate) (*streak.Streak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.streaks[userID]
	if !ok {
		st = streak.Streak{UserID: userID}
	}
	log := &actionLog{store: f}
	changed, err := fn(ctx, &st, log)
	if err != nil {
		return nil, err
	}
	if changed {
		if f.CommitErr != nil {
			err := f.CommitErr
			if f.failLeft > 0 {
				f.failLeft--
				if f.failLeft == 0 {
					f.CommitErr = nil
				}
			}
			return nil, err
		}
		st.UpdatedAt = time.Now()
	}
	f.streaks[userID] = st
	log.apply()
	return &st, nil
}

func (f *StreakStore) LatestAction(ctx context.Context, userID string, t streak.ActionType) (*streak.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest(userID, t, streak.ActionCompleted), nil
}

func (f *StreakStore) PendingAction(ctx context.Context, userID string, t streak.ActionType) (*streak.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest(userID, t, streak.ActionPending), nil
}

func (f *StreakStore) latest(userID string, t streak.ActionType, status streak.ActionStatus) *streak.Action {
	var latest *streak.Action
	for i := range f.actions {
		a := f.actions[i]
		if a.UserID != userID || a.Type != t || a.Status != status {
			continue
		}
		if latest == nil || !a.CreatedAt.Before(latest.CreatedAt) {
			latest = &a
		}
	}
	return latest
}

func (f *StreakStore) ActionByKey(ctx context.Context, key string) (*streak.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actionByKey(key), nil
}

func (f *StreakStore) actionByKey(key string) *streak.Action {
	for i := range f.actions {
		if f.actions[i].IdempotencyKey == key {
			a := f.actions[i]
			return &a
		}
	}
	return nil
}

// actionLog runs with the store mutex held and stages its writes until the
// update commits.
type actionLog struct {
	store     *StreakStore
	appended  []streak.Action
	completed []string
	discarded []string
}

func (l *actionLog) ActionByKey(ctx context.Context, key string) (*streak.Action, error) {
	for i := range l.appended {
		if l.appended[i].IdempotencyKey == key {
			a := l.appended[i]
			return &a, nil
		}
	}
	return l.store.actionByKey(key), nil
}

func (l *actionLog) AppendAction(ctx context.Context, a streak.Action) error {
	if existing, _ := l.ActionByKey(ctx, a.IdempotencyKey); existing != nil {
		return streak.ErrDuplicateAction
	}
	if a.Status == "" {
		a.Status = streak.ActionCompleted
	}
	l.appended = append(l.appended, a)
	return nil
}

func (l *actionLog) CompleteAction(ctx context.Context, key string) error {
	existing := l.store.actionByKey(key)
	if existing == nil || existing.Status != streak.ActionPending {
		return streak.ErrDuplicateAction
	}
	l.completed = append(l.completed, key)
	return nil
}

func (l *actionLog) DiscardAction(ctx context.Context, key string) error {
	l.discarded = append(l.discarded, key)
	return nil
}

func (l *actionLog) apply() {
	f := l.store
	f.actions = append(f.actions, l.appended...)
	for _, key := range l.completed {
		for i := range f.actions {
			if f.actions[i].IdempotencyKey == key {
				f.actions[i].Status = streak.ActionCompleted
			}
		}
	}
	for _, key := range l.discarded {
		kept := f.actions[:0]
		for _, a := range f.actions {
			if a.IdempotencyKey == key && a.Status == streak.ActionPending {
				continue
			}
			kept = append(kept, a)
		}
		f.actions = kept
	}
}

// UserStore serves preferences and Cores roles. Unknown users get default
// preferences and the "user" role.
type UserStore struct {
	mu    sync.Mutex
	prefs map[string]*user.Preferences
	roles map[string]user.CoresRole
}

func NewUserStore() *UserStore {
	return &UserStore{
		prefs: make(map[string]*user.Preferences),
		roles: make(map[string]user.CoresRole),
	}
}

func (f *UserStore) SetPreferences(userID, timezone string, weekStart timeboundary.WeekStart) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[userID] = &user.Preferences{UserID: userID, Timezone: timezone, WeekStart: weekStart}
}

func (f *UserStore) SetRole(userID string, role user.CoresRole) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[userID] = role
}

func (f *UserStore) Preferences(ctx context.Context, userID string) (*user.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prefs[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return user.DefaultPreferences(userID), nil
}

func (f *UserStore) CoresRole(ctx context.Context, userID string) (user.CoresRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[userID]; ok {
		return r, nil
	}
	return user.CoresRoleUser, nil
}

type ViewStore struct {
	mu    sync.Mutex
	views []rank.View
}

func NewViewStore() *ViewStore {
	return &ViewStore{}
}

func (f *ViewStore) InsertView(ctx context.Context, v rank.View) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.views {
		if existing.UserID == v.UserID && existing.PostID == v.PostID && existing.ViewedAt.Equal(v.ViewedAt) {
			return false, nil
		}
	}
	f.views = append(f.views, v)
	return true, nil
}

func (f *ViewStore) ViewsBetween(ctx context.Context, userID string, from, to time.Time) ([]rank.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rank.View
	for _, v := range f.views {
		if v.UserID == userID && !v.ViewedAt.Before(from) && v.ViewedAt.Before(to) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ViewedAt.Before(out[j].ViewedAt) })
	return out, nil
}

// Ledger is an in-memory Cores ledger that honours idempotency keys.
type Ledger struct {
	mu       sync.Mutex
	balances map[ledger.Account]int
	results  map[string]*ledger.TransferResult

	// Err, when set, fails every Transfer and GetBalance call.
	Err   error
	Calls int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[ledger.Account]int),
		results:  make(map[string]*ledger.TransferResult),
	}
}

func (f *Ledger) SetBalance(userID string, amount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[ledger.UserAccount(userID)] = amount
}

func (f *Ledger) Balance(acc ledger.Account) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[acc]
}

func (f *Ledger) Transfer(ctx context.Context, key string, transfers []ledger.Transfer) (*ledger.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}

	for _, t := range transfers {
		if f.balances[t.Sender] < t.Amount {
			return nil, ledger.ErrInsufficientFunds
		}
	}
	res := &ledger.TransferResult{}
	for _, t := range transfers {
		f.balances[t.Sender] -= t.Amount
		f.balances[t.Receiver] += t.Amount
		res.Balances = append(res.Balances,
			ledger.Balance{Account: t.Sender, Amount: f.balances[t.Sender]},
			ledger.Balance{Account: t.Receiver, Amount: f.balances[t.Receiver]},
		)
	}
	f.results[key] = res
	return res, nil
}

func (f *Ledger) GetBalance(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.balances[ledger.UserAccount(userID)], nil
}

// NewCache returns a recoverable-streak cache backed by miniredis.
func NewCache(t *testing.T, ttl time.Duration) (*cache.RecoverableStreaks, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewRecoverableStreaks(rdb, ttl), mr
}
