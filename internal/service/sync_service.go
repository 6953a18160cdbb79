package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/normalizer"
	"github.com/callmeahab/energy-management-sub000/internal/notify"
	"github.com/callmeahab/energy-management-sub000/internal/pool"
	"github.com/callmeahab/energy-management-sub000/internal/reconciler"
	"github.com/callmeahab/energy-management-sub000/internal/remote"
	"github.com/callmeahab/energy-management-sub000/internal/repository"
	"github.com/callmeahab/energy-management-sub000/internal/store"

	"go.uber.org/zap"
)

// maxErrorMessages 账本 error_message 中保留的错误条数
const maxErrorMessages = 10

// SyncDeps SyncService 依赖；Locker 和 Notifier 可为空
type SyncDeps struct {
	Source    remote.Source
	Schema    repository.SchemaRepository
	Hierarchy repository.HierarchyRepository
	Energy    repository.EnergyUsageRepository
	Ledger    repository.SyncStatusRepository
	Locker    store.Locker
	Notifier  notify.Notifier
}

// SyncOptions 同步参数
type SyncOptions struct {
	PointTypes      []string
	Workers         int
	SensorBatchSize int
	Tariff          normalizer.Tariff
	Source          string // energy_usage.source
}

// SyncService 同步编排：拉取层级与读数，写入本地存储并记账
type SyncService struct {
	deps       SyncDeps
	opts       SyncOptions
	reconciler *reconciler.Reconciler
	normalizer *normalizer.Normalizer
	logger     *zap.Logger
	now        func() time.Time
}

// NewSyncService 创建同步服务
func NewSyncService(deps SyncDeps, opts SyncOptions, logger *zap.Logger) *SyncService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.SensorBatchSize < 1 {
		opts.SensorBatchSize = 10
	}
	return &SyncService{
		deps:       deps,
		opts:       opts,
		reconciler: reconciler.New(deps.Hierarchy, logger),
		normalizer: normalizer.New(deps.Energy, opts.Tariff, opts.Source, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// Synchronize 执行一次完整或增量同步
// 每次调用都会在账本中追加一条记录，未拿到锁时状态为 skipped
func (s *SyncService) Synchronize(ctx context.Context, mode models.SyncType) *models.SyncResult {
	if mode == "" {
		mode = models.SyncFull
	}
	start := s.now().UTC()

	if s.deps.Locker != nil {
		release, err := store.Acquire(ctx, s.deps.Locker)
		if err != nil {
			result := &models.SyncResult{
				Success:      false,
				SyncType:     mode,
				ErrorMessage: err.Error(),
				Skipped:      true,
			}
			if errors.Is(err, store.ErrLockHeld) {
				s.logger.Info("Sync already in progress, skipping", zap.String("sync_type", string(mode)))
			} else {
				// 锁服务故障计一个错误单元
				s.logger.Warn("Failed to acquire sync lock, skipping", zap.Error(err))
				result.ErrorsCount = 1
			}
			result.DurationMs = s.since(start)
			s.record(ctx, start, result, models.SyncStatusSkipped)
			return result
		}
		defer release()
	}

	s.logger.Info("Starting sync", zap.String("sync_type", string(mode)))

	if err := s.deps.Schema.EnsureSchema(ctx); err != nil {
		s.logger.Error("Schema bootstrap failed", zap.Error(err))
		result := &models.SyncResult{
			Success:      false,
			SyncType:     mode,
			ErrorsCount:  1,
			ErrorMessage: fmt.Sprintf("schema bootstrap failed: %v", err),
			DurationMs:   s.since(start),
		}
		s.record(ctx, start, result, models.SyncStatusFailed)
		return result
	}

	if mode == models.SyncIncremental {
		last, err := s.deps.Ledger.LastSuccessfulSync(ctx)
		switch {
		case err != nil:
			s.logger.Warn("Failed to read last successful sync", zap.Error(err))
		case last == nil:
			s.logger.Info("No previous successful sync, running incremental as full")
		default:
			s.logger.Info("Incremental sync", zap.Time("since", *last))
		}
	}

	var total models.StepResult

	buildings := s.fetchBuildings(ctx, &total)
	hierarchy := s.reconciler.ReconcileAll(ctx, buildings, s.opts.Workers)
	total.Merge(hierarchy)
	s.logger.Info("Hierarchy reconciled",
		zap.Int("buildings", len(buildings)),
		zap.Int("records", hierarchy.RecordsSynced),
		zap.Int("errors", len(hierarchy.Errors)),
	)

	readings := s.syncSensorData(ctx)
	total.Merge(readings)
	s.logger.Info("Sensor data synced",
		zap.Int("records", readings.RecordsSynced),
		zap.Int("errors", len(readings.Errors)),
	)

	result := &models.SyncResult{
		Success:       len(total.Errors) == 0,
		SyncType:      mode,
		RecordsSynced: total.RecordsSynced,
		ErrorsCount:   len(total.Errors),
		ErrorMessage:  formatErrors(total.Errors),
		DurationMs:    s.since(start),
	}
	status := models.SyncStatusCompleted
	if !result.Success {
		status = models.SyncStatusCompletedWithErrors
	}
	s.record(ctx, start, result, status)

	s.logger.Info("Sync finished",
		zap.String("sync_type", string(mode)),
		zap.String("status", status),
		zap.Int("records_synced", result.RecordsSynced),
		zap.Int("errors_count", result.ErrorsCount),
		zap.Int64("duration_ms", result.DurationMs),
	)
	return result
}

// fetchBuildings 拉取层级；为空或失败时回退到 sites
// 传输错误计一个错误单元，GraphQL errors 只触发回退
func (s *SyncService) fetchBuildings(ctx context.Context, total *models.StepResult) []models.Building {
	buildings, err := s.deps.Source.FetchHierarchy(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrGraphQL) {
			s.logger.Warn("Hierarchy query rejected, falling back to sites", zap.Error(err))
		} else {
			s.logger.Error("Failed to fetch hierarchy, falling back to sites", zap.Error(err))
			total.AddError(fmt.Errorf("failed to fetch hierarchy: %w", err))
		}
		buildings = nil
	}
	if len(buildings) > 0 {
		return buildings
	}

	sites, err := s.deps.Source.FetchSites(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch sites", zap.Error(err))
		total.AddError(fmt.Errorf("failed to fetch sites: %w", err))
		return nil
	}
	buildings = reconciler.FlattenSites(sites)
	s.logger.Info("Using sites fallback", zap.Int("sites", len(sites)), zap.Int("buildings", len(buildings)))
	return buildings
}

// syncSensorData 按批拉取本地建筑的点位读数并写入能耗记录
func (s *SyncService) syncSensorData(ctx context.Context) models.StepResult {
	var total models.StepResult

	ids, err := s.deps.Hierarchy.ListBuildingIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list local buildings", zap.Error(err))
		total.AddError(err)
		return total
	}
	batches := chunk(ids, s.opts.SensorBatchSize)

	var mu sync.Mutex
	pool.ForEach(ctx, len(batches), s.opts.Workers, func(ctx context.Context, i int) {
		batch := s.syncSensorBatch(ctx, batches[i])
		mu.Lock()
		total.Merge(batch)
		mu.Unlock()
	})
	return total
}

func (s *SyncService) syncSensorBatch(ctx context.Context, buildingIDs []string) models.StepResult {
	var result models.StepResult

	points, err := s.deps.Source.FetchSensorSeries(ctx, buildingIDs, s.opts.PointTypes)
	if err != nil {
		s.logger.Error("Failed to fetch sensor series",
			zap.Strings("building_ids", buildingIDs),
			zap.Error(err),
		)
		result.AddError(fmt.Errorf("failed to fetch sensor series for %s: %w", strings.Join(buildingIDs, ","), err))
		return result
	}

	for i := range points {
		p := points[i]
		if err := s.deps.Hierarchy.UpsertPoint(ctx, &p); err != nil {
			s.logger.Error("Failed to upsert point", zap.String("point_id", p.ID), zap.Error(err))
			result.AddError(err)
		}
		result.Merge(s.normalizer.ProcessPoint(ctx, p))
	}
	return result
}

// record 追加账本并发送通知；失败只记日志
func (s *SyncService) record(ctx context.Context, start time.Time, result *models.SyncResult, status string) {
	entry := &models.SyncStatusEntry{
		LastSyncTimestamp: &start,
		SyncType:          result.SyncType,
		Status:            status,
		RecordsSynced:     result.RecordsSynced,
		ErrorsCount:       result.ErrorsCount,
		DurationMs:        result.DurationMs,
		CreatedAt:         s.now().UTC(),
	}
	if result.ErrorMessage != "" {
		msg := result.ErrorMessage
		entry.ErrorMessage = &msg
	}

	if err := s.deps.Ledger.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to append sync status", zap.Error(err))
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(ctx, entry); err != nil {
			s.logger.Warn("Failed to publish sync event", zap.Error(err))
		}
	}
}

// History 最近的账本条目
func (s *SyncService) History(ctx context.Context, limit int) ([]models.SyncStatusEntry, error) {
	return s.deps.Ledger.RecentEntries(ctx, limit)
}

// Stats 各表行数
func (s *SyncService) Stats(ctx context.Context) (*models.DatabaseStats, error) {
	return s.deps.Ledger.DatabaseStats(ctx)
}

// RecentEnergyUsage 最近的能耗记录
func (s *SyncService) RecentEnergyUsage(ctx context.Context, limit int) ([]models.EnergyUsageRecord, error) {
	return s.deps.Energy.ListRecent(ctx, limit)
}

// UniqueConstraintEnforced energy_usage 唯一索引是否生效
func (s *SyncService) UniqueConstraintEnforced() bool {
	return s.deps.Schema.UniqueEnforced()
}

func (s *SyncService) since(start time.Time) int64 {
	return s.now().Sub(start).Milliseconds()
}

// formatErrors 用 "; " 拼接，最多保留 maxErrorMessages 条
func formatErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	n := len(errs)
	if n > maxErrorMessages {
		n = maxErrorMessages
	}
	msgs := make([]string, 0, n)
	for _, err := range errs[:n] {
		msgs = append(msgs, err.Error())
	}
	out := strings.Join(msgs, "; ")
	if extra := len(errs) - n; extra > 0 {
		out += fmt.Sprintf(" (+%d more)", extra)
	}
	return out
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
