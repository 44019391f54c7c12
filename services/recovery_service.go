package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"readStreakAPI/internal/cache"
	"readStreakAPI/internal/errs"
	"readStreakAPI/internal/ledger"
	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/recovery"
	"readStreakAPI/internal/streak"
	"readStreakAPI/internal/telemetry"
	"readStreakAPI/internal/user"
)

type RecoveryOptions struct {
	RegularCost int
	Window      time.Duration
	// CommitAttempts bounds the tries at restoring the streak once Cores
	// are spent.
	CommitAttempts int
	CommitBackoff  time.Duration
}

type RecoveryService struct {
	streaks StreakStore
	users   UserStore
	cache   RecoverableCache
	ledger  Ledger
	opts    RecoveryOptions
	log     *logger.Logger
}

func NewRecoveryService(streaks StreakStore, users UserStore, recoverable RecoverableCache, ledgerClient Ledger, opts RecoveryOptions, log *logger.Logger) *RecoveryService {
	if opts.RegularCost < 0 {
		opts.RegularCost = recovery.DefaultRegularCost
	}
	if opts.Window <= 0 {
		opts.Window = recovery.DefaultWindow
	}
	if opts.CommitAttempts < 1 {
		opts.CommitAttempts = 3
	}
	if opts.CommitBackoff <= 0 {
		opts.CommitBackoff = 100 * time.Millisecond
	}
	return &RecoveryService{
		streaks: streaks,
		users:   users,
		cache:   recoverable,
		ledger:  ledgerClient,
		opts:    opts,
		log:     log.With("service", "RecoveryService"),
	}
}

// Quote prices recovering the user's last lapsed streak. It never mutates. A
// recovery left pending by an interrupted call is always offered at the
// price it was started with, however old it is.
func (s *RecoveryService) Quote(ctx context.Context, userID string, now time.Time) (*recovery.Quote, error) {
	pending, err := s.streaks.PendingAction(ctx, userID, streak.ActionRecover)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return &recovery.Quote{
			CanRecover:      true,
			OldStreakLength: pending.OldLength,
			Cost:            pending.CoresSpent,
			RegularCost:     s.opts.RegularCost,
		}, nil
	}

	entry, err := s.cache.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, userID, entry, now)
}

func (s *RecoveryService) quote(ctx context.Context, userID string, entry *cache.Entry, now time.Time) (*recovery.Quote, error) {
	q := &recovery.Quote{RegularCost: s.opts.RegularCost}
	if entry == nil || entry.SnapshotAt.Add(s.opts.Window).Before(now) {
		return q, nil
	}

	latest, err := s.streaks.LatestAction(ctx, userID, streak.ActionRecover)
	if err != nil {
		return nil, err
	}
	// Recovered already; only the cache clear is outstanding.
	if latest != nil && latest.IdempotencyKey == recovery.IdempotencyKey(userID, entry.SnapshotAt) {
		return q, nil
	}

	q.CanRecover = true
	q.OldStreakLength = entry.Length
	if latest != nil {
		q.Cost = s.opts.RegularCost
	}
	return q, nil
}

// Recover restores the lapsed streak, charging Cores unless it is the user's
// first recovery. A pending intent is stored before any Cores move, and the
// ledger transfer and the streak commit share its idempotency key, so a
// failed or interrupted call can always be finished by calling again.
func (s *RecoveryService) Recover(ctx context.Context, userID string, now time.Time) (*recovery.Result, error) {
	ctx, span := otel.Tracer("readStreakAPI/recovery").Start(ctx, "recovery.Recover")
	defer span.End()

	res, err := s.recover(ctx, userID, now)
	if err != nil {
		code := "INTERNAL"
		if kind, ok := errs.KindOf(err); ok {
			code = string(kind)
		}
		telemetry.RecoveryFailures.WithLabelValues(code).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		return nil, err
	}
	span.SetAttributes(attribute.Int("recovery.cost", res.Cost))
	return res, nil
}

func (s *RecoveryService) recover(ctx context.Context, userID string, now time.Time) (*recovery.Result, error) {
	cal, prefs, err := loadCalendar(ctx, s.users, userID)
	if err != nil {
		return nil, err
	}

	// An unfinished recovery outlives the cache entry and goes first.
	pending, err := s.streaks.PendingAction(ctx, userID, streak.ActionRecover)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		s.log.Info("resuming pending recovery", "user_id", userID, "idempotency_key", pending.IdempotencyKey)
		return s.complete(ctx, userID, pending, now, cal, prefs)
	}

	entry, err := s.cache.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errs.Newf(errs.KindNoStreakToRecover, "no recoverable streak for %s", userID)
	}
	key := recovery.IdempotencyKey(userID, entry.SnapshotAt)

	done, err := s.streaks.ActionByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if done.Completed() {
		return s.replay(ctx, userID, done, now, cal, prefs)
	}
	if done != nil {
		return s.complete(ctx, userID, done, now, cal, prefs)
	}

	q, err := s.quote(ctx, userID, entry, now)
	if err != nil {
		return nil, err
	}
	if !q.CanRecover {
		return nil, errs.Newf(errs.KindNoStreakToRecover, "no recoverable streak for %s", userID)
	}

	role, err := s.users.CoresRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !role.CanSpend() {
		return nil, errs.Newf(errs.KindAccessDenied, "cores role %q cannot spend", role)
	}

	intent, err := s.recordIntent(ctx, streak.Action{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           streak.ActionRecover,
		Status:         streak.ActionPending,
		IdempotencyKey: key,
		OldLength:      entry.Length,
		CoresSpent:     q.Cost,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	if intent.Completed() {
		return s.replay(ctx, userID, intent, now, cal, prefs)
	}
	return s.complete(ctx, userID, intent, now, cal, prefs)
}

// recordIntent stores the pending recovery, or returns the one a concurrent
// call stored under the same key.
func (s *RecoveryService) recordIntent(ctx context.Context, intent streak.Action) (*streak.Action, error) {
	recorded := intent
	_, err := s.streaks.WithStreakLock(ctx, intent.UserID, func(ctx context.Context, _ *streak.Streak, actions streak.ActionLog) (bool, error) {
		existing, err := actions.ActionByKey(ctx, intent.IdempotencyKey)
		if err != nil {
			return false, err
		}
		if existing != nil {
			recorded = *existing
			return false, nil
		}
		return false, actions.AppendAction(ctx, intent)
	})
	if err != nil {
		return nil, fmt.Errorf("record recovery intent: %w", err)
	}
	return &recorded, nil
}

// complete charges for intent and restores the streak. Both steps are keyed
// by the intent, so running it again after a partial failure is safe.
func (s *RecoveryService) complete(ctx context.Context, userID string, intent *streak.Action, now time.Time, cal streak.Calendar, prefs *user.Preferences) (*recovery.Result, error) {
	var balance *int
	if intent.CoresSpent > 0 {
		transfer, err := s.ledger.Transfer(ctx, intent.IdempotencyKey, []ledger.Transfer{{
			Sender:   ledger.UserAccount(userID),
			Receiver: ledger.SystemAccount,
			Amount:   intent.CoresSpent,
		}})
		if err != nil {
			// Only a refusal proves nothing moved; anything else stays pending.
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				s.discard(context.WithoutCancel(ctx), userID, intent.IdempotencyKey)
			}
			return nil, ledgerError(err)
		}
		if amount, ok := transfer.BalanceOf(ledger.UserAccount(userID)); ok {
			balance = &amount
		}
	}

	// From here on the Cores may already be spent; the caller going away
	// must not abandon the commit.
	commitCtx := context.WithoutCancel(ctx)

	st, replayed, err := s.commit(commitCtx, userID, intent, now, cal)
	if err != nil {
		s.log.Error("recovery commit failed, intent left pending",
			"user_id", userID,
			"idempotency_key", intent.IdempotencyKey,
			"cost", intent.CoresSpent,
			"error", err,
		)
		return nil, fmt.Errorf("commit recovery: %w", err)
	}

	s.clearCache(commitCtx, userID)

	if !replayed {
		tier := "free"
		if intent.CoresSpent > 0 {
			tier = "paid"
			telemetry.CoresSpent.Add(float64(intent.CoresSpent))
		}
		telemetry.StreakRecoveries.WithLabelValues(tier).Inc()
		s.log.Info("streak recovered",
			"user_id", userID,
			"restored", st.CurrentStreak,
			"cost", intent.CoresSpent,
		)
	}

	if balance == nil {
		balance = s.bestEffortBalance(commitCtx, userID)
	}
	return &recovery.Result{
		Streak:  buildSnapshot(st, now, cal, prefs),
		Cost:    intent.CoresSpent,
		Balance: balance,
	}, nil
}

// commit restores the streak and completes intent in one locked update,
// retrying transient failures a bounded number of times.
func (s *RecoveryService) commit(ctx context.Context, userID string, intent *streak.Action, now time.Time, cal streak.Calendar) (*streak.Streak, bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.CommitBackoff

	var replayed bool
	attempt := 0
	st, err := backoff.Retry(ctx, func() (*streak.Streak, error) {
		attempt++
		replayed = false
		st, err := s.streaks.WithStreakLock(ctx, userID, func(ctx context.Context, cur *streak.Streak, actions streak.ActionLog) (bool, error) {
			existing, err := actions.ActionByKey(ctx, intent.IdempotencyKey)
			if err != nil {
				return false, err
			}
			if existing.Completed() {
				replayed = true
				return false, nil
			}

			*cur = streak.Restore(*cur, intent.OldLength, now, cal)
			if existing == nil {
				done := *intent
				done.Status = streak.ActionCompleted
				err = actions.AppendAction(ctx, done)
			} else {
				err = actions.CompleteAction(ctx, intent.IdempotencyKey)
			}
			if err != nil {
				return false, err
			}
			return true, nil
		})
		if err == nil {
			return st, nil
		}
		if errors.Is(err, streak.ErrDuplicateAction) {
			return nil, backoff.Permanent(err)
		}
		s.log.Warn("recovery commit attempt failed", "user_id", userID, "attempt", attempt, "error", err)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.opts.CommitAttempts)))

	if errors.Is(err, streak.ErrDuplicateAction) {
		st, err = s.streaks.GetStreak(ctx, userID)
		replayed = true
	}
	if err != nil {
		return nil, false, err
	}
	return st, replayed, nil
}

// replay finishes a recovery whose commit already happened.
func (s *RecoveryService) replay(ctx context.Context, userID string, done *streak.Action, now time.Time, cal streak.Calendar, prefs *user.Preferences) (*recovery.Result, error) {
	s.clearCache(ctx, userID)

	st, err := s.streaks.GetStreak(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &recovery.Result{
		Streak:  buildSnapshot(st, now, cal, prefs),
		Cost:    done.CoresSpent,
		Balance: s.bestEffortBalance(ctx, userID),
	}, nil
}

func (s *RecoveryService) discard(ctx context.Context, userID, key string) {
	_, err := s.streaks.WithStreakLock(ctx, userID, func(ctx context.Context, _ *streak.Streak, actions streak.ActionLog) (bool, error) {
		return false, actions.DiscardAction(ctx, key)
	})
	if err != nil {
		s.log.Warn("failed to discard recovery intent", "user_id", userID, "idempotency_key", key, "error", err)
	}
}

func (s *RecoveryService) clearCache(ctx context.Context, userID string) {
	if err := s.cache.Clear(ctx, userID); err != nil {
		s.log.Warn("failed to clear recoverable streak", "user_id", userID, "error", err)
	}
}

func (s *RecoveryService) bestEffortBalance(ctx context.Context, userID string) *int {
	amount, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		s.log.Warn("failed to read balance", "user_id", userID, "error", err)
		return nil
	}
	return &amount
}

// Balance reads the user's Cores balance from the ledger.
func (s *RecoveryService) Balance(ctx context.Context, userID string) (*user.BalanceResponse, error) {
	amount, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, ledgerError(err)
	}
	return &user.BalanceResponse{UserID: userID, Amount: amount}, nil
}

func ledgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return errs.New(errs.KindInsufficientBalance, err)
	case errors.Is(err, ledger.ErrUnavailable):
		return errs.New(errs.KindLedgerUnavailable, err)
	case errors.Is(err, ledger.ErrAccountNotFound):
		return errs.New(errs.KindNotFound, err)
	}
	return fmt.Errorf("ledger: %w", err)
}
