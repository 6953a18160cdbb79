package repository

import (
	"context"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"
)

// SchemaRepository 表结构初始化
type SchemaRepository interface {
	// EnsureSchema 幂等建表；唯一索引创建失败不返回错误，只降级
	EnsureSchema(ctx context.Context) error
	// UniqueEnforced energy_usage 唯一索引是否生效
	UniqueEnforced() bool
}

// HierarchyRepository Building/Floor/Space/Point 存储
type HierarchyRepository interface {
	UpsertBuilding(ctx context.Context, b *models.Building) error
	UpsertFloor(ctx context.Context, f *models.Floor) error
	UpsertSpace(ctx context.Context, s *models.Space) error
	// RefreshBuildingCounts 按存储中的实际行数重算 floors_count / spaces_count
	RefreshBuildingCounts(ctx context.Context, buildingID string) error
	ListBuildingIDs(ctx context.Context) ([]string, error)
	UpsertPoint(ctx context.Context, p *models.SensorPoint) error
}

// EnergyUsageRepository 小时能耗记录存储
type EnergyUsageRepository interface {
	// SaveEnergyUsage 按冲突策略写入；written=false 表示 insert_only 下已存在而跳过
	SaveEnergyUsage(ctx context.Context, rec *models.EnergyUsageRecord) (written bool, err error)
	ListRecent(ctx context.Context, limit int) ([]models.EnergyUsageRecord, error)
}

// SyncStatusRepository 同步账本（只追加）
type SyncStatusRepository interface {
	Append(ctx context.Context, entry *models.SyncStatusEntry) error
	RecentEntries(ctx context.Context, limit int) ([]models.SyncStatusEntry, error)
	// LastSuccessfulSync 最近一次 completed 的同步时间，没有则返回 nil
	LastSuccessfulSync(ctx context.Context) (*time.Time, error)
	DatabaseStats(ctx context.Context) (*models.DatabaseStats, error)
}
