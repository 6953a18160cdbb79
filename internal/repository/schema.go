package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pgUniqueViolation unique_violation
const pgUniqueViolation = "23505"

// energyUsageKeyColumns 唯一键；与 ON CONFLICT 推断目标必须逐字一致
const energyUsageKeyColumns = `building_id, (COALESCE(floor_id, '*')), (COALESCE(space_id, '*')), timestamp, usage_type, source`

var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS buildings (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL DEFAULT '',
		description     TEXT,
		exact_type      TEXT,
		time_zone       TEXT,
		type_array      TEXT[],
		address_street  TEXT,
		address_city    TEXT,
		address_state   TEXT,
		address_country TEXT,
		address_postal_code TEXT,
		latitude        DOUBLE PRECISION,
		longitude       DOUBLE PRECISION,
		date_created    TIMESTAMPTZ,
		date_updated    TIMESTAMPTZ,
		floors_count    INTEGER NOT NULL DEFAULT 0,
		spaces_count    INTEGER NOT NULL DEFAULT 0,
		sync_timestamp  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS floors (
		id             TEXT PRIMARY KEY,
		building_id    TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		description    TEXT,
		exact_type     TEXT,
		level          INTEGER,
		date_created   TIMESTAMPTZ,
		date_updated   TIMESTAMPTZ,
		sync_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS spaces (
		id             TEXT PRIMARY KEY,
		floor_id       TEXT NOT NULL,
		building_id    TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		description    TEXT,
		exact_type     TEXT,
		date_created   TIMESTAMPTZ,
		date_updated   TIMESTAMPTZ,
		sync_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS points (
		id             TEXT PRIMARY KEY,
		building_id    TEXT NOT NULL,
		floor_id       TEXT,
		space_id       TEXT,
		name           TEXT NOT NULL DEFAULT '',
		description    TEXT,
		exact_type     TEXT,
		unit_name      TEXT,
		sync_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS energy_usage (
		id               TEXT PRIMARY KEY,
		building_id      TEXT NOT NULL,
		floor_id         TEXT,
		space_id         TEXT,
		timestamp        TIMESTAMPTZ NOT NULL,
		consumption_kwh  DOUBLE PRECISION NOT NULL DEFAULT 0,
		cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
		efficiency_score DOUBLE PRECISION,
		temperature      DOUBLE PRECISION,
		occupancy        INTEGER,
		usage_type       TEXT NOT NULL DEFAULT 'electricity',
		source           TEXT NOT NULL DEFAULT 'remote_api',
		sync_timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sync_status (
		id                  TEXT PRIMARY KEY,
		last_sync_timestamp TIMESTAMPTZ,
		sync_type           TEXT NOT NULL,
		status              TEXT NOT NULL,
		records_synced      INTEGER NOT NULL DEFAULT 0,
		errors_count        INTEGER NOT NULL DEFAULT 0,
		error_message       TEXT,
		duration_ms         BIGINT NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// 旧库缺失的列
var compatStatements = []string{
	`ALTER TABLE buildings ADD COLUMN IF NOT EXISTS time_zone TEXT`,
	`ALTER TABLE buildings ADD COLUMN IF NOT EXISTS type_array TEXT[]`,
	`ALTER TABLE buildings ADD COLUMN IF NOT EXISTS floors_count INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE buildings ADD COLUMN IF NOT EXISTS spaces_count INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE floors ADD COLUMN IF NOT EXISTS level INTEGER`,
	`ALTER TABLE spaces ADD COLUMN IF NOT EXISTS building_id TEXT`,
	`ALTER TABLE energy_usage ADD COLUMN IF NOT EXISTS usage_type TEXT NOT NULL DEFAULT 'electricity'`,
	`ALTER TABLE energy_usage ADD COLUMN IF NOT EXISTS source TEXT NOT NULL DEFAULT 'remote_api'`,
	`ALTER TABLE energy_usage ADD COLUMN IF NOT EXISTS sync_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
	`CREATE INDEX IF NOT EXISTS idx_floors_building ON floors (building_id)`,
	`CREATE INDEX IF NOT EXISTS idx_spaces_building ON spaces (building_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_status_created ON sync_status (created_at DESC)`,
}

const createEnergyUsageUniqueIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_energy_usage_bucket ON energy_usage (` + energyUsageKeyColumns + `)`

// 每个唯一键保留最早写入的一行（sync_timestamp，其次 id）
const dedupeEnergyUsage = `
	DELETE FROM energy_usage
	WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY building_id, COALESCE(floor_id, '*'), COALESCE(space_id, '*'), timestamp, usage_type, source
				ORDER BY sync_timestamp, id
			) AS rn
			FROM energy_usage
		) ranked
		WHERE ranked.rn > 1
	)`

// PostgresSchemaRepository 建表与唯一索引维护
type PostgresSchemaRepository struct {
	db             *sql.DB
	logger         *zap.Logger
	uniqueEnforced atomic.Bool
}

// NewPostgresSchemaRepository 创建 Schema Repository
func NewPostgresSchemaRepository(db *sql.DB, logger *zap.Logger) *PostgresSchemaRepository {
	return &PostgresSchemaRepository{db: db, logger: logger}
}

var _ SchemaRepository = (*PostgresSchemaRepository)(nil)

// EnsureSchema 建表、补列、建唯一索引
func (r *PostgresSchemaRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range createTableStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	for _, stmt := range compatStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply compat migration: %w", err)
		}
	}

	r.uniqueEnforced.Store(r.ensureUniqueIndex(ctx))
	return nil
}

// UniqueEnforced 唯一索引是否已建立
func (r *PostgresSchemaRepository) UniqueEnforced() bool {
	return r.uniqueEnforced.Load()
}

// ensureUniqueIndex 遇到历史重复数据时先去重再重试一次
func (r *PostgresSchemaRepository) ensureUniqueIndex(ctx context.Context) bool {
	_, err := r.db.ExecContext(ctx, createEnergyUsageUniqueIndex)
	if err == nil {
		return true
	}
	if !isUniqueViolation(err) {
		r.logger.Warn("Failed to create energy_usage unique index, continuing without it", zap.Error(err))
		return false
	}

	res, err := r.db.ExecContext(ctx, dedupeEnergyUsage)
	if err != nil {
		r.logger.Warn("Failed to deduplicate energy_usage, continuing without unique index", zap.Error(err))
		return false
	}
	removed, _ := res.RowsAffected()
	r.logger.Info("Removed duplicate energy_usage rows", zap.Int64("removed", removed))

	if _, err := r.db.ExecContext(ctx, createEnergyUsageUniqueIndex); err != nil {
		r.logger.Warn("Failed to create energy_usage unique index after dedupe, continuing without it", zap.Error(err))
		return false
	}
	return true
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}
