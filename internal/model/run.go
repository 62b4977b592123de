package model

import (
	"time"

	"github.com/hitoshi/stockast/internal/edition"
)

// RunStatus はバッチ実行の状態を表す。
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounters はバッチ実行の集計値。
type RunCounters struct {
	PricesCollected    int
	NewsCollected      int
	SummariesGenerated int
}

// RunRecord は版日付ごとのバッチ実行記録を表す。
type RunRecord struct {
	RunDate      edition.Date
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Counters     RunCounters
	ErrorMessage string
}
