// Package store is the Postgres persistence for streak rows, the streak
// action log, the view log and the read-only user settings.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"readStreakAPI/internal/errs"
	"readStreakAPI/internal/logger"
	"readStreakAPI/internal/rank"
	"readStreakAPI/internal/streak"
	"readStreakAPI/internal/timeboundary"
	"readStreakAPI/internal/user"
)

//go:embed schema.sql
var schema string

// conflictAttempts is one try plus three retries.
const conflictAttempts = 4

type Store struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

func New(db *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("service", "Store")}
}

// NewPool opens and pings a pgx pool with the service's pool limits.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const streakColumns = `user_id, current_streak, max_streak, total_streak, last_view_at, updated_at`

func scanStreak(row pgx.Row) (*streak.Streak, error) {
	var st streak.Streak
	err := row.Scan(
		&st.UserID,
		&st.CurrentStreak,
		&st.MaxStreak,
		&st.TotalStreak,
		&st.LastViewAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStreak reads the row without locking it. A user without a row gets one
// created with the zero streak.
func (s *Store) GetStreak(ctx context.Context, userID string) (*streak.Streak, error) {
	query := `SELECT ` + streakColumns + ` FROM user_streaks WHERE user_id = $1`

	st, err := scanStreak(s.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.createStreak(ctx, userID)
		}
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	return st, nil
}

// createStreak inserts the zero row. The no-op update makes RETURNING yield
// the row even when a concurrent caller inserted it first.
func (s *Store) createStreak(ctx context.Context, userID string) (*streak.Streak, error) {
	query := `
		INSERT INTO user_streaks (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + streakColumns

	st, err := scanStreak(s.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to create streak: %w", err)
	}
	return st, nil
}

// StreakUpdate mutates s while its row is locked and reports whether the row
// must be written back. It may run more than once when the transaction is
// retried.
type StreakUpdate func(ctx context.Context, s *streak.Streak, actions streak.ActionLog) (bool, error)

// WithStreakLock runs fn inside one transaction holding the user's row lock
// and returns the row as committed. Serialization failures, deadlocks and
// lock timeouts are retried and then reported as ConcurrencyConflict.
func (s *Store) WithStreakLock(ctx context.Context, userID string, fn StreakUpdate) (*streak.Streak, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	attempt := 0
	st, err := backoff.Retry(ctx, func() (*streak.Streak, error) {
		attempt++
		st, err := s.lockedUpdate(ctx, userID, fn)
		if err == nil {
			return st, nil
		}
		if isConflict(err) {
			s.log.Warn("streak row conflict, retrying", "user_id", userID, "attempt", attempt, "error", err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(conflictAttempts))
	if err != nil {
		if isConflict(err) {
			return nil, errs.New(errs.KindConcurrencyConflict, fmt.Errorf("streak update for %s: %w", userID, err))
		}
		return nil, err
	}
	return st, nil
}

func (s *Store) lockedUpdate(ctx context.Context, userID string, fn StreakUpdate) (*streak.Streak, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '2s'`); err != nil {
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO user_streaks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create streak row: %w", err)
	}

	query := `SELECT ` + streakColumns + ` FROM user_streaks WHERE user_id = $1 FOR UPDATE`
	st, err := scanStreak(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock streak: %w", err)
	}

	changed, err := fn(ctx, st, &txActionLog{tx: tx})
	if err != nil {
		return nil, err
	}

	if changed {
		updateQuery := `
			UPDATE user_streaks
			SET current_streak = $2,
				max_streak = $3,
				total_streak = $4,
				last_view_at = $5,
				updated_at = NOW()
			WHERE user_id = $1
			RETURNING updated_at
		`
		err = tx.QueryRow(ctx, updateQuery,
			userID,
			st.CurrentStreak,
			st.MaxStreak,
			st.TotalStreak,
			st.LastViewAt,
		).Scan(&st.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to update streak: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit streak: %w", err)
	}
	return st, nil
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

const actionColumns = `id, user_id, type, status, idempotency_key, old_length, cores_spent, created_at`

func scanAction(row pgx.Row) (*streak.Action, error) {
	var a streak.Action
	err := row.Scan(&a.ID, &a.UserID, &a.Type, &a.Status, &a.IdempotencyKey, &a.OldLength, &a.CoresSpent, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// LatestAction returns the user's most recent completed action of type t, or
// nil.
func (s *Store) LatestAction(ctx context.Context, userID string, t streak.ActionType) (*streak.Action, error) {
	return s.latestAction(ctx, userID, t, streak.ActionCompleted)
}

// PendingAction returns the user's most recent pending action of type t, or
// nil.
func (s *Store) PendingAction(ctx context.Context, userID string, t streak.ActionType) (*streak.Action, error) {
	return s.latestAction(ctx, userID, t, streak.ActionPending)
}

func (s *Store) latestAction(ctx context.Context, userID string, t streak.ActionType, status streak.ActionStatus) (*streak.Action, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM user_streak_actions
		WHERE user_id = $1 AND type = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	a, err := scanAction(s.db.QueryRow(ctx, query, userID, t, status))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest streak action: %w", err)
	}
	return a, nil
}

func (s *Store) ActionByKey(ctx context.Context, key string) (*streak.Action, error) {
	return actionByKey(ctx, s.db, key)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func actionByKey(ctx context.Context, q querier, key string) (*streak.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM user_streak_actions WHERE idempotency_key = $1`
	a, err := scanAction(q.QueryRow(ctx, query, key))
	if err != nil {
		return nil, fmt.Errorf("failed to get streak action: %w", err)
	}
	return a, nil
}

type txActionLog struct {
	tx pgx.Tx
}

func (l *txActionLog) ActionByKey(ctx context.Context, key string) (*streak.Action, error) {
	return actionByKey(ctx, l.tx, key)
}

func (l *txActionLog) AppendAction(ctx context.Context, a streak.Action) error {
	if a.Status == "" {
		a.Status = streak.ActionCompleted
	}
	query := `
		INSERT INTO user_streak_actions (id, user_id, type, status, idempotency_key, old_length, cores_spent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	tag, err := l.tx.Exec(ctx, query, a.ID, a.UserID, a.Type, a.Status, a.IdempotencyKey, a.OldLength, a.CoresSpent, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append streak action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return streak.ErrDuplicateAction
	}
	return nil
}

func (l *txActionLog) CompleteAction(ctx context.Context, key string) error {
	query := `
		UPDATE user_streak_actions
		SET status = 'completed'
		WHERE idempotency_key = $1 AND status = 'pending'
	`
	tag, err := l.tx.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to complete streak action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return streak.ErrDuplicateAction
	}
	return nil
}

func (l *txActionLog) DiscardAction(ctx context.Context, key string) error {
	_, err := l.tx.Exec(ctx, `DELETE FROM user_streak_actions WHERE idempotency_key = $1 AND status = 'pending'`, key)
	if err != nil {
		return fmt.Errorf("failed to discard streak action: %w", err)
	}
	return nil
}

// InsertView records a view. It reports false when the same view was already
// recorded.
func (s *Store) InsertView(ctx context.Context, v rank.View) (bool, error) {
	tags := v.Tags
	if tags == nil {
		tags = []string{}
	}
	query := `
		INSERT INTO post_views (user_id, post_id, tags, viewed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, post_id, viewed_at) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, v.UserID, v.PostID, tags, v.ViewedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert view: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ViewsBetween returns the user's views in [from, to), oldest first.
func (s *Store) ViewsBetween(ctx context.Context, userID string, from, to time.Time) ([]rank.View, error) {
	query := `
		SELECT user_id, post_id, tags, viewed_at
		FROM post_views
		WHERE user_id = $1 AND viewed_at >= $2 AND viewed_at < $3
		ORDER BY viewed_at
	`
	rows, err := s.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query views: %w", err)
	}
	defer rows.Close()

	var views []rank.View
	for rows.Next() {
		var v rank.View
		if err := rows.Scan(&v.UserID, &v.PostID, &v.Tags, &v.ViewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

// Preferences reads the user's timezone and week start. Unknown users get the
// defaults; a stored value that does not parse is a ConfigError.
func (s *Store) Preferences(ctx context.Context, userID string) (*user.Preferences, error) {
	var (
		tz        string
		weekStart int
	)
	err := s.db.QueryRow(ctx, `SELECT timezone, week_start FROM users WHERE clerk_id = $1`, userID).Scan(&tz, &weekStart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.DefaultPreferences(userID), nil
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	ws, err := timeboundary.WeekStartFromInt(weekStart)
	if err != nil {
		return nil, err
	}
	return &user.Preferences{UserID: userID, Timezone: tz, WeekStart: ws}, nil
}

func (s *Store) CoresRole(ctx context.Context, userID string) (user.CoresRole, error) {
	var role string
	err := s.db.QueryRow(ctx, `SELECT cores_role FROM users WHERE clerk_id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.CoresRoleNone, nil
		}
		return user.CoresRoleNone, fmt.Errorf("failed to get cores role: %w", err)
	}
	return user.CoresRole(role), nil
}
