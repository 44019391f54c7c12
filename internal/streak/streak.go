package streak

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Streak is the persisted per-user reading streak row.
type Streak struct {
	UserID        string     `json:"userId" db:"user_id"`
	CurrentStreak int        `json:"current" db:"current_streak"`
	MaxStreak     int        `json:"max" db:"max_streak"`
	TotalStreak   int        `json:"total" db:"total_streak"`
	LastViewAt    *time.Time `json:"lastViewAt" db:"last_view_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

type Phase string

const (
	PhaseFresh  Phase = "fresh"
	PhaseActive Phase = "active"
)

// State is the tagged view of a streak: Fresh, or Active since the last
// qualifying view.
type State struct {
	Phase Phase
	Since time.Time
}

func (s *Streak) State() State {
	if s.CurrentStreak > 0 && s.LastViewAt != nil {
		return State{Phase: PhaseActive, Since: *s.LastViewAt}
	}
	return State{Phase: PhaseFresh}
}

type ActionType string

const ActionRecover ActionType = "recover"

type ActionStatus string

const (
	// ActionPending is a recovery whose Cores may already be spent but whose
	// streak is not restored yet.
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
)

// Action records a streak action such as a recovery. A pending action is
// written before any Cores move and is completed together with the streak.
type Action struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	UserID         string       `json:"userId" db:"user_id"`
	Type           ActionType   `json:"type" db:"type"`
	Status         ActionStatus `json:"status" db:"status"`
	IdempotencyKey string       `json:"-" db:"idempotency_key"`
	OldLength      int          `json:"oldLength" db:"old_length"`
	CoresSpent     int          `json:"coresSpent" db:"cores_spent"`
	CreatedAt      time.Time    `json:"createdAt" db:"created_at"`
}

func (a *Action) Completed() bool {
	return a != nil && a.Status == ActionCompleted
}

// ErrDuplicateAction is returned by AppendAction when an action with the same
// idempotency key is already recorded.
var ErrDuplicateAction = errors.New("streak action already recorded")

// ActionLog is the action log as seen from inside a locked streak update.
type ActionLog interface {
	ActionByKey(ctx context.Context, key string) (*Action, error)
	AppendAction(ctx context.Context, a Action) error
	// CompleteAction marks the pending action with key as completed.
	CompleteAction(ctx context.Context, key string) error
	// DiscardAction drops the pending action with key. Completed actions are
	// never removed.
	DiscardAction(ctx context.Context, key string) error
}

// Snapshot is the query-surface view of a user's streak with today's
// evaluation applied.
type Snapshot struct {
	Current    int        `json:"current"`
	Max        int        `json:"max"`
	Total      int        `json:"total"`
	LastViewAt *time.Time `json:"lastViewAt"`
	State      Phase      `json:"state"`
	ReadToday  bool       `json:"readToday"`
	Timezone   string     `json:"timezone"`
	WeekStart  int        `json:"weekStart"`
}
