package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresHierarchyRepository Building → Floor → Space 层级存储
// 只做 upsert，从不删除
type PostgresHierarchyRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresHierarchyRepository 创建层级 Repository
func NewPostgresHierarchyRepository(db *sql.DB, logger *zap.Logger) *PostgresHierarchyRepository {
	return &PostgresHierarchyRepository{db: db, logger: logger, now: time.Now}
}

var _ HierarchyRepository = (*PostgresHierarchyRepository)(nil)

// UpsertBuilding 插入或更新建筑；floors_count/spaces_count 不在这里写
func (r *PostgresHierarchyRepository) UpsertBuilding(ctx context.Context, b *models.Building) error {
	if b.ID == "" {
		return fmt.Errorf("building id is required")
	}
	query := `
		INSERT INTO buildings (
			id, name, description, exact_type, time_zone, type_array,
			address_street, address_city, address_state, address_country, address_postal_code,
			latitude, longitude, date_created, date_updated, sync_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			exact_type = EXCLUDED.exact_type,
			time_zone = EXCLUDED.time_zone,
			type_array = EXCLUDED.type_array,
			address_street = EXCLUDED.address_street,
			address_city = EXCLUDED.address_city,
			address_state = EXCLUDED.address_state,
			address_country = EXCLUDED.address_country,
			address_postal_code = EXCLUDED.address_postal_code,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			date_created = EXCLUDED.date_created,
			date_updated = EXCLUDED.date_updated,
			sync_timestamp = EXCLUDED.sync_timestamp
	`
	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.Name, nullString(b.Description), nullString(b.ExactType), nullString(b.TimeZone), pq.Array(b.Types),
		nullString(b.Address.Street), nullString(b.Address.City), nullString(b.Address.State),
		nullString(b.Address.Country), nullString(b.Address.PostalCode),
		nullFloat(b.Latitude), nullFloat(b.Longitude), nullTime(b.DateCreated), nullTime(b.DateUpdated),
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert building %s: %w", b.ID, err)
	}
	return nil
}

// UpsertFloor 插入或更新楼层
func (r *PostgresHierarchyRepository) UpsertFloor(ctx context.Context, f *models.Floor) error {
	if f.ID == "" {
		return fmt.Errorf("floor id is required")
	}
	query := `
		INSERT INTO floors (
			id, building_id, name, description, exact_type, level, date_created, date_updated, sync_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			building_id = EXCLUDED.building_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			exact_type = EXCLUDED.exact_type,
			level = EXCLUDED.level,
			date_created = EXCLUDED.date_created,
			date_updated = EXCLUDED.date_updated,
			sync_timestamp = EXCLUDED.sync_timestamp
	`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.BuildingID, f.Name, nullString(f.Description), nullString(f.ExactType), nullInt(f.Level),
		nullTime(f.DateCreated), nullTime(f.DateUpdated), r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert floor %s: %w", f.ID, err)
	}
	return nil
}

// UpsertSpace 插入或更新空间
func (r *PostgresHierarchyRepository) UpsertSpace(ctx context.Context, s *models.Space) error {
	if s.ID == "" {
		return fmt.Errorf("space id is required")
	}
	query := `
		INSERT INTO spaces (
			id, floor_id, building_id, name, description, exact_type, date_created, date_updated, sync_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			floor_id = EXCLUDED.floor_id,
			building_id = EXCLUDED.building_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			exact_type = EXCLUDED.exact_type,
			date_created = EXCLUDED.date_created,
			date_updated = EXCLUDED.date_updated,
			sync_timestamp = EXCLUDED.sync_timestamp
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.FloorID, s.BuildingID, s.Name, nullString(s.Description), nullString(s.ExactType),
		nullTime(s.DateCreated), nullTime(s.DateUpdated), r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert space %s: %w", s.ID, err)
	}
	return nil
}

// RefreshBuildingCounts 用存储中的楼层/空间行数覆盖派生计数
func (r *PostgresHierarchyRepository) RefreshBuildingCounts(ctx context.Context, buildingID string) error {
	query := `
		UPDATE buildings SET
			floors_count = (SELECT COUNT(*) FROM floors WHERE building_id = $1),
			spaces_count = (SELECT COUNT(*) FROM spaces WHERE building_id = $1)
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, buildingID); err != nil {
		return fmt.Errorf("failed to refresh counts for building %s: %w", buildingID, err)
	}
	return nil
}

// ListBuildingIDs 本地所有建筑 id
func (r *PostgresHierarchyRepository) ListBuildingIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM buildings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list buildings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan building id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate buildings: %w", err)
	}
	return ids, nil
}

// UpsertPoint 插入或更新传感器点位元数据
func (r *PostgresHierarchyRepository) UpsertPoint(ctx context.Context, p *models.SensorPoint) error {
	if p.ID == "" {
		return fmt.Errorf("point id is required")
	}
	query := `
		INSERT INTO points (
			id, building_id, floor_id, space_id, name, description, exact_type, unit_name, sync_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			building_id = EXCLUDED.building_id,
			floor_id = EXCLUDED.floor_id,
			space_id = EXCLUDED.space_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			exact_type = EXCLUDED.exact_type,
			unit_name = EXCLUDED.unit_name,
			sync_timestamp = EXCLUDED.sync_timestamp
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.BuildingID, nullString(p.FloorID), nullString(p.SpaceID), p.Name,
		nullString(p.Description), nullString(p.ExactType), nullString(p.Unit), r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
	}
	return nil
}
