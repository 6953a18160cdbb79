package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/scheduler"

	"go.uber.org/zap"
)

// SyncRunner 同步引擎对外能力
type SyncRunner interface {
	Synchronize(ctx context.Context, mode models.SyncType) *models.SyncResult
	History(ctx context.Context, limit int) ([]models.SyncStatusEntry, error)
	Stats(ctx context.Context) (*models.DatabaseStats, error)
	RecentEnergyUsage(ctx context.Context, limit int) ([]models.EnergyUsageRecord, error)
	UniqueConstraintEnforced() bool
}

// SchedulerControl 调度器控制
type SchedulerControl interface {
	Start()
	Stop()
	Status() scheduler.Status
}

// SyncHandler 同步相关 HTTP 接口
type SyncHandler struct {
	sync         SyncRunner
	scheduler    SchedulerControl
	historyLimit int
	exportLimit  int
	logger       *zap.Logger
	now          func() time.Time
}

func NewSyncHandler(sync SyncRunner, sched SchedulerControl, historyLimit int, logger *zap.Logger) *SyncHandler {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &SyncHandler{
		sync:         sync,
		scheduler:    sched,
		historyLimit: historyLimit,
		exportLimit:  maxQueryLimit,
		logger:       logger,
		now:          time.Now,
	}
}

type triggerRequest struct {
	SyncType string `json:"syncType"`
}

// Trigger POST /api/sync
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode := models.SyncFull
	if req.SyncType != "" {
		parsed, err := models.ParseSyncType(req.SyncType)
		if err != nil {
			writeFail(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = parsed
	}

	// 客户端断开不中断同步
	result := h.sync.Synchronize(context.WithoutCancel(r.Context()), mode)

	status := http.StatusOK
	if result.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{
		"success":       result.Success,
		"message":       resultMessage(result),
		"syncType":      result.SyncType,
		"recordsSynced": result.RecordsSynced,
		"errorsCount":   result.ErrorsCount,
		"durationMs":    result.DurationMs,
	})
}

func resultMessage(result *models.SyncResult) string {
	switch {
	case result.Skipped:
		return result.ErrorMessage
	case result.Success:
		return fmt.Sprintf("%s sync completed: %d records synced", result.SyncType, result.RecordsSynced)
	case result.ErrorMessage != "":
		return fmt.Sprintf("%s sync completed with %d errors: %s", result.SyncType, result.ErrorsCount, result.ErrorMessage)
	default:
		return fmt.Sprintf("%s sync completed with %d errors", result.SyncType, result.ErrorsCount)
	}
}

// Status GET /api/sync
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), h.historyLimit)

	history, err := h.sync.History(ctx, limit)
	if err != nil {
		h.logger.Error("Failed to load sync history", zap.Error(err))
		writeFail(w, http.StatusInternalServerError, "failed to load sync history")
		return
	}
	stats, err := h.sync.Stats(ctx)
	if err != nil {
		h.logger.Error("Failed to load database stats", zap.Error(err))
		writeFail(w, http.StatusInternalServerError, "failed to load database stats")
		return
	}
	if history == nil {
		history = []models.SyncStatusEntry{}
	}

	var lastSync *models.SyncStatusEntry
	if len(history) > 0 {
		lastSync = &history[0]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"syncHistory":              history,
		"databaseStats":            stats,
		"lastSync":                 lastSync,
		"uniqueConstraintEnforced": h.sync.UniqueConstraintEnforced(),
	})
}

// SchedulerStatus GET /api/sync/scheduler-status
func (h *SyncHandler) SchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// StartScheduler POST /api/sync/scheduler/start
func (h *SyncHandler) StartScheduler(w http.ResponseWriter, _ *http.Request) {
	h.scheduler.Start()
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// StopScheduler POST /api/sync/scheduler/stop
func (h *SyncHandler) StopScheduler(w http.ResponseWriter, _ *http.Request) {
	h.scheduler.Stop()
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// Health GET /api/health
func (h *SyncHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                       true,
		"uniqueConstraintEnforced": h.sync.UniqueConstraintEnforced(),
	})
}

// Export GET /api/sync/export
func (h *SyncHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	history, err := h.sync.History(ctx, parseLimit(r.URL.Query().Get("limit"), h.exportLimit))
	if err != nil {
		h.logger.Error("Failed to load sync history for export", zap.Error(err))
		writeFail(w, http.StatusInternalServerError, "failed to load sync history")
		return
	}
	usage, err := h.sync.RecentEnergyUsage(ctx, h.exportLimit)
	if err != nil {
		h.logger.Error("Failed to load energy usage for export", zap.Error(err))
		writeFail(w, http.StatusInternalServerError, "failed to load energy usage")
		return
	}

	data, err := GenerateSyncExport(history, usage)
	if err != nil {
		h.logger.Error("Failed to generate export", zap.Error(err))
		writeFail(w, http.StatusInternalServerError, "failed to generate export")
		return
	}

	filename := fmt.Sprintf("energy-sync-%s.xlsx", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
