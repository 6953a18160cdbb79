package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresSyncStatusRepository 同步账本
// 只有 INSERT，没有 UPDATE/DELETE
type PostgresSyncStatusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSyncStatusRepository 创建账本 Repository
func NewPostgresSyncStatusRepository(db *sql.DB, logger *zap.Logger) *PostgresSyncStatusRepository {
	return &PostgresSyncStatusRepository{db: db, logger: logger}
}

var _ SyncStatusRepository = (*PostgresSyncStatusRepository)(nil)

// newEntryID 按时间递增的 UUIDv7，created_at 相同时 id 仍保持先后顺序
func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Append 追加一条记录；ID/CreatedAt 为空时自动生成
func (r *PostgresSyncStatusRepository) Append(ctx context.Context, entry *models.SyncStatusEntry) error {
	if entry.ID == "" {
		entry.ID = newEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_status (
			id, last_sync_timestamp, sync_type, status, records_synced,
			errors_count, error_message, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var errMsg sql.NullString
	if entry.ErrorMessage != nil {
		errMsg = sql.NullString{String: *entry.ErrorMessage, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, nullTime(entry.LastSyncTimestamp), string(entry.SyncType), entry.Status, entry.RecordsSynced,
		entry.ErrorsCount, errMsg, entry.DurationMs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync status: %w", err)
	}
	return nil
}

// RecentEntries 最近 limit 条，新的在前
func (r *PostgresSyncStatusRepository) RecentEntries(ctx context.Context, limit int) ([]models.SyncStatusEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, last_sync_timestamp, sync_type, status, records_synced,
			errors_count, error_message, duration_ms, created_at
		FROM sync_status
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}
	defer rows.Close()

	entries := make([]models.SyncStatusEntry, 0, min(limit, 64))
	for rows.Next() {
		var (
			e        models.SyncStatusEntry
			lastSync sql.NullTime
			syncType string
			errMsg   sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &lastSync, &syncType, &e.Status, &e.RecordsSynced,
			&e.ErrorsCount, &errMsg, &e.DurationMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		e.LastSyncTimestamp = timePtr(lastSync)
		e.SyncType = models.SyncType(syncType)
		e.ErrorMessage = stringPtr(errMsg)
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync status: %w", err)
	}
	return entries, nil
}

// LastSuccessfulSync 最近一次 completed 的同步时间
func (r *PostgresSyncStatusRepository) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	query := `
		SELECT last_sync_timestamp
		FROM sync_status
		WHERE status = $1 AND last_sync_timestamp IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx, query, models.SyncStatusCompleted).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last successful sync: %w", err)
	}
	return timePtr(ts), nil
}

// DatabaseStats 各表行数
func (r *PostgresSyncStatusRepository) DatabaseStats(ctx context.Context) (*models.DatabaseStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM buildings),
			(SELECT COUNT(*) FROM floors),
			(SELECT COUNT(*) FROM spaces),
			(SELECT COUNT(*) FROM points),
			(SELECT COUNT(*) FROM energy_usage),
			(SELECT COUNT(*) FROM sync_status)
	`
	var s models.DatabaseStats
	if err := r.db.QueryRowContext(ctx, query).Scan(
		&s.Buildings, &s.Floors, &s.Spaces, &s.Points, &s.EnergyUsage, &s.SyncStatus,
	); err != nil {
		return nil, fmt.Errorf("failed to query database stats: %w", err)
	}
	return &s, nil
}
