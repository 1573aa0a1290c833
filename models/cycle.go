package models

import (
	"fmt"
	"time"
)

// CycleStatus is the regression cycle lifecycle.
type CycleStatus string

const (
	CycleNotStarted CycleStatus = "NOT_STARTED"
	CycleInProgress CycleStatus = "IN_PROGRESS"
	CycleDone       CycleStatus = "DONE"
	CycleAbandoned  CycleStatus = "ABANDONED"
)

// RegressionCycle is one build+test iteration within the REGRESSION stage.
// At most one cycle per release has IsLatest set.
type RegressionCycle struct {
	ID          string      `json:"id"`
	ReleaseID   string      `json:"release_id"`
	Seq         int         `json:"seq"`
	Tag         string      `json:"tag"`
	Status      CycleStatus `json:"status"`
	IsLatest    bool        `json:"is_latest"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// CycleTag derives the cycle name from the release short id and sequence
// number, e.g. "1a2b3c4d_rc_2".
func CycleTag(shortReleaseID string, seq int) string {
	return fmt.Sprintf("%s_rc_%d", shortReleaseID, seq)
}
