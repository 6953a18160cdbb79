package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type fakeSyncer struct {
	result     *models.SyncResult
	modes      []models.SyncType
	ctxErr     error
	history    []models.SyncStatusEntry
	historyErr error
	stats      *models.DatabaseStats
	usage      []models.EnergyUsageRecord
	enforced   bool
	limits     []int
}

func (f *fakeSyncer) Synchronize(ctx context.Context, mode models.SyncType) *models.SyncResult {
	f.modes = append(f.modes, mode)
	f.ctxErr = ctx.Err()
	r := *f.result
	r.SyncType = mode
	return &r
}

func (f *fakeSyncer) History(_ context.Context, limit int) ([]models.SyncStatusEntry, error) {
	f.limits = append(f.limits, limit)
	return f.history, f.historyErr
}

func (f *fakeSyncer) Stats(context.Context) (*models.DatabaseStats, error) {
	return f.stats, nil
}

func (f *fakeSyncer) RecentEnergyUsage(context.Context, int) ([]models.EnergyUsageRecord, error) {
	return f.usage, nil
}

func (f *fakeSyncer) UniqueConstraintEnforced() bool { return f.enforced }

type fakeScheduler struct {
	running bool
	next    *time.Time
}

func (f *fakeScheduler) Start() {
	f.running = true
	next := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	f.next = &next
}

func (f *fakeScheduler) Stop() {
	f.running = false
	f.next = nil
}

func (f *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{IsRunning: f.running, NextSyncTime: f.next}
}

func setupRouter(t *testing.T) (http.Handler, *fakeSyncer, *fakeScheduler) {
	t.Helper()
	syncer := &fakeSyncer{
		result:   &models.SyncResult{Success: true, RecordsSynced: 5},
		stats:    &models.DatabaseStats{Buildings: 1, Floors: 1, Spaces: 2, EnergyUsage: 5},
		enforced: true,
	}
	sched := &fakeScheduler{}
	h := NewSyncHandler(syncer, sched, 10, zap.NewNop())
	return NewRouter(h, zap.NewNop()), syncer, sched
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTrigger_DefaultsToFull(t *testing.T) {
	router, syncer, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(5), body["recordsSynced"])
	assert.Equal(t, float64(0), body["errorsCount"])
	assert.Contains(t, body["message"], "5 records synced")
	assert.Equal(t, []models.SyncType{models.SyncFull}, syncer.modes)
}

func TestTrigger_Incremental(t *testing.T) {
	router, syncer, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/sync", `{"syncType":"incremental"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.SyncType{models.SyncIncremental}, syncer.modes)
	assert.NoError(t, syncer.ctxErr)
}

func TestTrigger_InvalidType(t *testing.T) {
	router, syncer, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/sync", `{"syncType":"weekly"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "invalid sync type")
	assert.Empty(t, syncer.modes)
}

func TestTrigger_InvalidBody(t *testing.T) {
	router, syncer, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/sync", `{"syncType":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
	assert.Empty(t, syncer.modes)
}

func TestTrigger_CompletedWithErrors(t *testing.T) {
	router, syncer, _ := setupRouter(t)
	syncer.result = &models.SyncResult{RecordsSynced: 3, ErrorsCount: 2, ErrorMessage: "a; b"}

	rec := doRequest(t, router, http.MethodPost, "/api/sync", `{"syncType":"full"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(3), body["recordsSynced"])
	assert.Equal(t, float64(2), body["errorsCount"])
	assert.Contains(t, body["message"], "2 errors: a; b")
}

func TestTrigger_LockHeld(t *testing.T) {
	router, syncer, _ := setupRouter(t)
	syncer.result = &models.SyncResult{Skipped: true, ErrorMessage: "sync already in progress"}

	rec := doRequest(t, router, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "sync already in progress", body["message"])
}

func TestStatus(t *testing.T) {
	router, syncer, _ := setupRouter(t)
	created := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	syncer.history = []models.SyncStatusEntry{
		{ID: "e2", SyncType: models.SyncFull, Status: models.SyncStatusCompleted, RecordsSynced: 5, CreatedAt: created},
		{ID: "e1", SyncType: models.SyncFull, Status: models.SyncStatusFailed, ErrorsCount: 1, CreatedAt: created.Add(-time.Hour)},
	}

	rec := doRequest(t, router, http.MethodGet, "/api/sync?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["syncHistory"], 2)
	assert.Equal(t, "e2", body["lastSync"].(map[string]any)["id"])
	assert.Equal(t, float64(5), body["databaseStats"].(map[string]any)["energyUsage"])
	assert.Equal(t, true, body["uniqueConstraintEnforced"])
	assert.Equal(t, []int{2}, syncer.limits)
}

func TestStatus_EmptyHistoryUsesDefaultLimit(t *testing.T) {
	router, syncer, _ := setupRouter(t)
	syncer.enforced = false

	rec := doRequest(t, router, http.MethodGet, "/api/sync?limit=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, []any{}, body["syncHistory"])
	assert.Nil(t, body["lastSync"])
	assert.Equal(t, false, body["uniqueConstraintEnforced"])
	assert.Equal(t, []int{10}, syncer.limits)
}

func TestStatus_LimitIsClamped(t *testing.T) {
	router, syncer, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/sync?limit=1099511627776", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/sync/export?limit=1099511627776", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []int{maxQueryLimit, maxQueryLimit}, syncer.limits)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 10, parseLimit("", 10))
	assert.Equal(t, 10, parseLimit("-5", 10))
	assert.Equal(t, 10, parseLimit("99999999999999999999999", 10))
	assert.Equal(t, 25, parseLimit("25", 10))
	assert.Equal(t, maxQueryLimit, parseLimit("5000", 10))
}

func TestStatus_HistoryError(t *testing.T) {
	router, syncer, _ := setupRouter(t)
	syncer.historyErr = errors.New("db down")

	rec := doRequest(t, router, http.MethodGet, "/api/sync", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestSchedulerControl(t *testing.T) {
	router, _, sched := setupRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/sync/scheduler-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["isRunning"])

	rec = doRequest(t, router, http.MethodPost, "/api/sync/scheduler/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["isRunning"])
	assert.Equal(t, "2024-01-01T11:00:00Z", body["nextSyncTime"])
	assert.True(t, sched.running)

	rec = doRequest(t, router, http.MethodPost, "/api/sync/scheduler/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["isRunning"])
	assert.False(t, sched.running)
}

func TestHealth(t *testing.T) {
	router, _, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["uniqueConstraintEnforced"])
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	router, _, _ := setupRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])

	rec = doRequest(t, router, http.MethodDelete, "/api/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	router, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExport(t *testing.T) {
	router, syncer, _ := setupRouter(t)
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	msg := "boom"
	syncer.history = []models.SyncStatusEntry{
		{ID: "e1", SyncType: models.SyncFull, Status: models.SyncStatusCompletedWithErrors, RecordsSynced: 4, ErrorsCount: 1, ErrorMessage: &msg, CreatedAt: ts},
	}
	syncer.usage = []models.EnergyUsageRecord{
		{BuildingID: "b1", FloorID: "f1", SpaceID: "s1", Timestamp: ts, UsageType: "hvac", ConsumptionKWh: 1.5, CostUSD: 0.18, Source: "remote_api", SyncTimestamp: ts},
	}

	rec := doRequest(t, router, http.MethodGet, "/api/sync/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "energy-sync-")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SyncHistorySheet, EnergyUsageSheet}, f.GetSheetList())

	history, err := f.GetRows(SyncHistorySheet)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, SyncHistoryExportHeader, history[0])
	assert.Equal(t, "e1", history[1][0])
	assert.Equal(t, "completed_with_errors", history[1][2])
	assert.Equal(t, "boom", history[1][5])

	usage, err := f.GetRows(EnergyUsageSheet)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "b1", usage[1][0])
	assert.Equal(t, "2024-01-01 10:00:00", usage[1][3])
	assert.Equal(t, "hvac", usage[1][4])
	assert.Equal(t, "1.5", usage[1][5])
}

func TestGenerateSyncExport_Empty(t *testing.T) {
	data, err := GenerateSyncExport(nil, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(EnergyUsageSheet)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, EnergyUsageExportHeader, rows[0])
}
