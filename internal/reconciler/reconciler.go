package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/pool"

	"go.uber.org/zap"
)

// HierarchyWriter 层级写入
type HierarchyWriter interface {
	UpsertBuilding(ctx context.Context, b *models.Building) error
	UpsertFloor(ctx context.Context, f *models.Floor) error
	UpsertSpace(ctx context.Context, s *models.Space) error
	RefreshBuildingCounts(ctx context.Context, buildingID string) error
}

// Reconciler 把远端层级合并到本地存储
type Reconciler struct {
	store  HierarchyWriter
	logger *zap.Logger
}

// New 创建 Reconciler
func New(store HierarchyWriter, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Reconcile 写入一栋建筑及其楼层、空间
// 失败只影响当前节点及其子节点，兄弟节点继续
func (r *Reconciler) Reconcile(ctx context.Context, b models.Building) models.StepResult {
	var result models.StepResult

	if b.ID == "" {
		result.AddError(errors.New("building without id skipped"))
		r.logger.Warn("Skipping building without id", zap.String("name", b.Name))
		return result
	}
	if err := r.store.UpsertBuilding(ctx, &b); err != nil {
		r.logger.Error("Failed to upsert building", zap.String("building_id", b.ID), zap.Error(err))
		result.AddError(err)
		return result
	}
	result.RecordsSynced++

	for i := range b.Floors {
		f := b.Floors[i]
		if f.ID == "" {
			result.AddError(fmt.Errorf("floor without id in building %s skipped", b.ID))
			continue
		}
		f.BuildingID = b.ID
		if err := r.store.UpsertFloor(ctx, &f); err != nil {
			r.logger.Error("Failed to upsert floor",
				zap.String("building_id", b.ID),
				zap.String("floor_id", f.ID),
				zap.Error(err),
			)
			result.AddError(err)
			continue
		}
		result.RecordsSynced++

		for j := range f.Spaces {
			s := f.Spaces[j]
			if s.ID == "" {
				result.AddError(fmt.Errorf("space without id on floor %s skipped", f.ID))
				continue
			}
			s.FloorID = f.ID
			s.BuildingID = b.ID
			if err := r.store.UpsertSpace(ctx, &s); err != nil {
				r.logger.Error("Failed to upsert space",
					zap.String("building_id", b.ID),
					zap.String("floor_id", f.ID),
					zap.String("space_id", s.ID),
					zap.Error(err),
				)
				result.AddError(err)
				continue
			}
			result.RecordsSynced++
		}
	}

	if err := r.store.RefreshBuildingCounts(ctx, b.ID); err != nil {
		r.logger.Error("Failed to refresh building counts", zap.String("building_id", b.ID), zap.Error(err))
		result.AddError(err)
	}

	r.logger.Debug("Reconciled building",
		zap.String("building_id", b.ID),
		zap.Int("records", result.RecordsSynced),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

// ReconcileAll 并发处理多栋建筑并合并结果
func (r *Reconciler) ReconcileAll(ctx context.Context, buildings []models.Building, workers int) models.StepResult {
	var (
		mu    sync.Mutex
		total models.StepResult
	)
	pool.ForEach(ctx, len(buildings), workers, func(ctx context.Context, i int) {
		res := r.Reconcile(ctx, buildings[i])
		mu.Lock()
		total.Merge(res)
		mu.Unlock()
	})
	return total
}

// FlattenSites 展开站点下的建筑；同一建筑出现在多个站点时只保留第一次
func FlattenSites(sites []models.Site) []models.Building {
	seen := make(map[string]bool)
	var out []models.Building
	for _, site := range sites {
		for _, b := range site.Buildings {
			if b.ID != "" {
				if seen[b.ID] {
					continue
				}
				seen[b.ID] = true
			}
			out = append(out, b)
		}
	}
	return out
}
