package recovery

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"readStreakAPI/internal/streak"
)

const (
	// DefaultRegularCost is the Cores price of every recovery after the
	// first, which is free.
	DefaultRegularCost = 100
	// DefaultWindow is how long a lapsed streak stays recoverable.
	DefaultWindow = 24 * time.Hour
)

var idempotencyNamespace = uuid.MustParse("6f1c3b2e-7d4a-4f0e-9a51-3c2b8e0d9a71")

type Quote struct {
	CanRecover      bool `json:"canRecover"`
	OldStreakLength int  `json:"oldStreakLength"`
	Cost            int  `json:"cost"`
	RegularCost     int  `json:"regularCost"`
}

type Result struct {
	Streak  *streak.Snapshot `json:"streak"`
	Cost    int              `json:"cost"`
	Balance *int             `json:"balance,omitempty"`
}

// IdempotencyKey derives the ledger key for recovering the streak snapshotted
// at snapshotAt. Retries of the same recovery always produce the same key.
func IdempotencyKey(userID string, snapshotAt time.Time) string {
	name := fmt.Sprintf("streak-recover:%s:%d", userID, snapshotAt.UnixMilli())
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}
