package models

import (
	"fmt"
	"time"
)

// SyncType 同步类型
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// ParseSyncType 解析同步类型
func ParseSyncType(s string) (SyncType, error) {
	switch SyncType(s) {
	case SyncFull, SyncIncremental:
		return SyncType(s), nil
	default:
		return "", fmt.Errorf("invalid sync type %q (want %q or %q)", s, SyncFull, SyncIncremental)
	}
}

// 同步结果状态
const (
	SyncStatusCompleted           = "completed"
	SyncStatusCompletedWithErrors = "completed_with_errors"
	SyncStatusFailed              = "failed"
	SyncStatusSkipped             = "skipped"
)

// SyncStatusEntry 同步账本条目（只追加）
type SyncStatusEntry struct {
	ID                string     `json:"id"`
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp,omitempty"`
	SyncType          SyncType   `json:"syncType"`
	Status            string     `json:"status"`
	RecordsSynced     int        `json:"recordsSynced"`
	ErrorsCount       int        `json:"errorsCount"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	DurationMs        int64      `json:"durationMs"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// SyncResult 一次同步的汇总结果
type SyncResult struct {
	Success       bool     `json:"success"`
	SyncType      SyncType `json:"syncType"`
	RecordsSynced int      `json:"recordsSynced"`
	ErrorsCount   int      `json:"errorsCount"`
	ErrorMessage  string   `json:"errorMessage,omitempty"`
	DurationMs    int64    `json:"durationMs"`
	// Skipped 未拿到同步锁而未执行，账本状态为 skipped
	Skipped bool `json:"skipped,omitempty"`
}

// DatabaseStats 本地存储各表行数
type DatabaseStats struct {
	Buildings   int64 `json:"buildings"`
	Floors      int64 `json:"floors"`
	Spaces      int64 `json:"spaces"`
	Points      int64 `json:"points"`
	EnergyUsage int64 `json:"energyUsage"`
	SyncStatus  int64 `json:"syncStatus"`
}
