package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// energyUsageNamespace 能耗记录 id 的 UUIDv5 命名空间
var energyUsageNamespace = uuid.MustParse("6f1c2b0e-8a4d-5e7f-9b3a-2d4c6e8f0a1b")

// EnergyUsageID 由唯一键派生的确定性 id
func EnergyUsageID(rec *models.EnergyUsageRecord) string {
	return uuid.NewSHA1(energyUsageNamespace, []byte(rec.BucketKey())).String()
}

const energyUsageInsert = `
	INSERT INTO energy_usage (
		id, building_id, floor_id, space_id, timestamp, consumption_kwh, cost_usd,
		efficiency_score, temperature, occupancy, usage_type, source, sync_timestamp
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

const energyUsageUpdateSet = `
	DO UPDATE SET
		consumption_kwh = EXCLUDED.consumption_kwh,
		cost_usd = EXCLUDED.cost_usd,
		efficiency_score = EXCLUDED.efficiency_score,
		temperature = EXCLUDED.temperature,
		occupancy = EXCLUDED.occupancy,
		sync_timestamp = EXCLUDED.sync_timestamp
`

// PostgresEnergyUsageRepository 能耗记录存储
// 冲突策略整个部署统一，由构造参数决定
type PostgresEnergyUsageRepository struct {
	db     *sql.DB
	policy models.CollisionPolicy
	schema SchemaRepository
	logger *zap.Logger
}

// NewPostgresEnergyUsageRepository 创建能耗 Repository
// schema 用于判断唯一索引是否生效；未生效时 upsert 退回到主键冲突
func NewPostgresEnergyUsageRepository(db *sql.DB, policy models.CollisionPolicy, schema SchemaRepository, logger *zap.Logger) *PostgresEnergyUsageRepository {
	if policy == "" {
		policy = models.PolicyUpsert
	}
	return &PostgresEnergyUsageRepository{db: db, policy: policy, schema: schema, logger: logger}
}

var _ EnergyUsageRepository = (*PostgresEnergyUsageRepository)(nil)

// Policy 当前冲突策略
func (r *PostgresEnergyUsageRepository) Policy() models.CollisionPolicy {
	return r.policy
}

// SaveEnergyUsage 写入一条小时记录
func (r *PostgresEnergyUsageRepository) SaveEnergyUsage(ctx context.Context, rec *models.EnergyUsageRecord) (bool, error) {
	if rec.BuildingID == "" {
		return false, fmt.Errorf("building id is required")
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.ID == "" {
		rec.ID = EnergyUsageID(rec)
	}
	if rec.SyncTimestamp.IsZero() {
		rec.SyncTimestamp = time.Now().UTC()
	}

	query := energyUsageInsert + r.conflictClause()
	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.BuildingID, nullString(rec.FloorID), nullString(rec.SpaceID), rec.Timestamp,
		rec.ConsumptionKWh, rec.CostUSD, nullFloat(rec.EfficiencyScore), nullFloat(rec.Temperature),
		nullInt(rec.Occupancy), rec.UsageType, rec.Source, rec.SyncTimestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save energy usage %s: %w", rec.BucketKey(), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		// 驱动不支持时按已写入处理
		return true, nil
	}
	if affected == 0 {
		r.logger.Debug("Energy usage bucket already present, skipped",
			zap.String("key", rec.BucketKey()),
		)
		return false, nil
	}
	return true, nil
}

func (r *PostgresEnergyUsageRepository) conflictClause() string {
	if r.policy == models.PolicyInsertOnly {
		return ` ON CONFLICT DO NOTHING`
	}
	if r.schema != nil && r.schema.UniqueEnforced() {
		return ` ON CONFLICT (` + energyUsageKeyColumns + `) ` + energyUsageUpdateSet
	}
	return ` ON CONFLICT (id) ` + energyUsageUpdateSet
}

// ListRecent 最近的能耗记录（按小时桶倒序）
func (r *PostgresEnergyUsageRepository) ListRecent(ctx context.Context, limit int) ([]models.EnergyUsageRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, building_id, floor_id, space_id, timestamp, consumption_kwh, cost_usd,
			efficiency_score, temperature, occupancy, usage_type, source, sync_timestamp
		FROM energy_usage
		ORDER BY timestamp DESC, id
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list energy usage: %w", err)
	}
	defer rows.Close()

	var out []models.EnergyUsageRecord
	for rows.Next() {
		var (
			rec                     models.EnergyUsageRecord
			floorID, spaceID        sql.NullString
			efficiency, temperature sql.NullFloat64
			occupancy               sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &rec.BuildingID, &floorID, &spaceID, &rec.Timestamp, &rec.ConsumptionKWh, &rec.CostUSD,
			&efficiency, &temperature, &occupancy, &rec.UsageType, &rec.Source, &rec.SyncTimestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan energy usage: %w", err)
		}
		rec.FloorID = floorID.String
		rec.SpaceID = spaceID.String
		rec.EfficiencyScore = floatPtr(efficiency)
		rec.Temperature = floatPtr(temperature)
		rec.Occupancy = intPtr(occupancy)
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate energy usage: %w", err)
	}
	return out, nil
}
