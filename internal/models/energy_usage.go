package models

import (
	"fmt"
	"time"
)

// 能耗记录来源
const (
	SourceRemoteAPI = "remote_api"
	SourceGenerated = "generated"
)

// WildcardScope 楼层/空间为空时在唯一键中使用的占位符
const WildcardScope = "*"

// CollisionPolicy 同一小时桶重复写入时的处理策略（整个部署统一）
type CollisionPolicy string

const (
	// PolicyUpsert 覆盖已有记录（后写为准）
	PolicyUpsert CollisionPolicy = "upsert"
	// PolicyInsertOnly 已存在则跳过（保留首次值）
	PolicyInsertOnly CollisionPolicy = "insert_only"
)

// ParseCollisionPolicy 解析配置中的策略
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(s) {
	case PolicyUpsert, PolicyInsertOnly:
		return CollisionPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown collision policy %q (want %q or %q)", s, PolicyUpsert, PolicyInsertOnly)
	}
}

// EnergyUsageRecord 小时粒度能耗记录
type EnergyUsageRecord struct {
	ID              string    `json:"id"`
	BuildingID      string    `json:"buildingId"`
	FloorID         string    `json:"floorId,omitempty"`
	SpaceID         string    `json:"spaceId,omitempty"`
	Timestamp       time.Time `json:"timestamp"` // 小时桶起点（UTC）
	ConsumptionKWh  float64   `json:"consumptionKwh"`
	CostUSD         float64   `json:"costUsd"`
	EfficiencyScore *float64  `json:"efficiencyScore,omitempty"`
	Temperature     *float64  `json:"temperature,omitempty"`
	Occupancy       *int      `json:"occupancy,omitempty"`
	UsageType       string    `json:"usageType"`
	Source          string    `json:"source"`
	SyncTimestamp   time.Time `json:"syncTimestamp"`
}

// BucketKey 唯一键的字符串形式
func (r *EnergyUsageRecord) BucketKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		r.BuildingID,
		scopeOrWildcard(r.FloorID),
		scopeOrWildcard(r.SpaceID),
		r.Timestamp.UTC().Format(time.RFC3339),
		r.UsageType,
		r.Source,
	)
}

func scopeOrWildcard(id string) string {
	if id == "" {
		return WildcardScope
	}
	return id
}
