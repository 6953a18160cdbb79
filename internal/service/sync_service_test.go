package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/normalizer"
	"github.com/callmeahab/energy-management-sub000/internal/remote"
	"github.com/callmeahab/energy-management-sub000/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func f64(v float64) *float64 { return &v }

func b1Hierarchy() []models.Building {
	return []models.Building{{
		ID:   "b1",
		Name: "HQ",
		Floors: []models.Floor{{
			ID:     "f1",
			Name:   "L1",
			Spaces: []models.Space{{ID: "s1", Name: "Lobby"}, {ID: "s2", Name: "Office"}},
		}},
	}}
}

func b1Points() []models.SensorPoint {
	return []models.SensorPoint{{
		ID:         "p1",
		Name:       "Main Meter",
		ExactType:  "Electric_Power_Sensor",
		Unit:       "Watt",
		BuildingID: "b1",
		Series: []models.Reading{
			{Timestamp: "2024-01-01T10:15:00Z", Value: models.RawValue{Float64: f64(1500)}},
		},
	}}
}

func newTestSyncService(st *memStore, src remote.Source, locker store.Locker) *SyncService {
	return NewSyncService(SyncDeps{
		Source:    src,
		Schema:    st,
		Hierarchy: st,
		Energy:    st,
		Ledger:    st,
		Locker:    locker,
	}, SyncOptions{
		Workers:         4,
		SensorBatchSize: 10,
		Tariff:          normalizer.ConstantTariff{USDPerKWh: 0.12},
	}, zap.NewNop())
}

func TestSynchronize_EndToEnd(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return(b1Hierarchy(), nil)
	src.On("FetchSensorSeries", mock.Anything, []string{"b1"}, []string(nil)).Return(b1Points(), nil)

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, models.SyncFull, result.SyncType)
	assert.Equal(t, 0, result.ErrorsCount)
	assert.Empty(t, result.ErrorMessage)
	// b1 + f1 + s1 + s2 + 一条能耗记录
	assert.Equal(t, 5, result.RecordsSynced)

	b := st.buildings["b1"]
	assert.Equal(t, 1, b.FloorsCount)
	assert.Equal(t, 2, b.SpacesCount)
	assert.Equal(t, "b1", st.spaces["s2"].BuildingID)
	assert.Contains(t, st.points, "p1")

	require.Len(t, st.usage, 1)
	for _, rec := range st.usage {
		assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), rec.Timestamp)
		assert.InDelta(t, 1.5, rec.ConsumptionKWh, 1e-9)
		assert.InDelta(t, 0.18, rec.CostUSD, 1e-9)
		assert.Equal(t, models.SourceRemoteAPI, rec.Source)
	}

	require.Len(t, st.ledger, 1)
	entry := st.ledger[0]
	assert.Equal(t, models.SyncStatusCompleted, entry.Status)
	assert.Equal(t, 5, entry.RecordsSynced)
	assert.Nil(t, entry.ErrorMessage)
	assert.NotNil(t, entry.LastSyncTimestamp)

	src.AssertNotCalled(t, "FetchSites", mock.Anything)
	src.AssertExpectations(t)
}

func TestSynchronize_TwoFloorsThreeSpaces(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return([]models.Building{{
		ID: "b1",
		Floors: []models.Floor{
			{ID: "f1", Spaces: []models.Space{{ID: "s1"}, {ID: "s2"}}},
			{ID: "f2", Spaces: []models.Space{{ID: "s3"}}},
		},
	}}, nil)
	src.On("FetchSensorSeries", mock.Anything, []string{"b1"}, []string(nil)).Return([]models.SensorPoint{{
		ID:         "p1",
		Unit:       "Watt",
		BuildingID: "b1",
		Series: []models.Reading{
			{Timestamp: "2024-01-01T10:15:00Z", Value: models.RawValue{Float64: f64(2000)}},
			{Timestamp: "2024-01-01T10:45:00Z", Value: models.RawValue{Float64: f64(2000)}},
		},
	}}, nil)

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)
	require.True(t, result.Success)

	stats, err := st.DatabaseStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Buildings)
	assert.Equal(t, 2, st.buildings["b1"].FloorsCount)
	assert.Equal(t, 3, st.buildings["b1"].SpacesCount)

	// 同一小时的两条读数只落一条记录
	require.Len(t, st.usage, 1)
	for _, rec := range st.usage {
		assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), rec.Timestamp)
		assert.InDelta(t, 2.0, rec.ConsumptionKWh, 1e-9)
	}
}

func TestSynchronize_IdempotentAndLedgerAppendOnly(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return(b1Hierarchy(), nil)
	src.On("FetchSensorSeries", mock.Anything, []string{"b1"}, []string(nil)).Return(b1Points(), nil)

	svc := newTestSyncService(st, src, nil)
	svc.Synchronize(context.Background(), models.SyncFull)
	first := st.ledger[0]
	stats1, _ := st.DatabaseStats(context.Background())

	svc.Synchronize(context.Background(), models.SyncIncremental)
	stats2, _ := st.DatabaseStats(context.Background())

	assert.Equal(t, stats1.Buildings, stats2.Buildings)
	assert.Equal(t, stats1.Spaces, stats2.Spaces)
	assert.Equal(t, stats1.EnergyUsage, stats2.EnergyUsage)
	require.Len(t, st.ledger, 2)
	assert.Equal(t, first, st.ledger[0])
	assert.Equal(t, models.SyncIncremental, st.ledger[1].SyncType)
}

func TestSynchronize_SchemaFailureIsHardFailure(t *testing.T) {
	st := newMemStore()
	st.schemaErr = errors.New("connection refused")
	src := &mockSource{}

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ErrorsCount)
	assert.Equal(t, 0, result.RecordsSynced)
	assert.Contains(t, result.ErrorMessage, "connection refused")

	require.Len(t, st.ledger, 1)
	assert.Equal(t, models.SyncStatusFailed, st.ledger[0].Status)
	assert.Empty(t, st.buildings)
	src.AssertNotCalled(t, "FetchHierarchy", mock.Anything)
}

func TestSynchronize_TransportErrorFallsBackToSites(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return(nil, errors.New("dial tcp: i/o timeout"))
	src.On("FetchSites", mock.Anything).Return([]models.Site{{ID: "site1", Buildings: b1Hierarchy()}}, nil)
	src.On("FetchSensorSeries", mock.Anything, []string{"b1"}, []string(nil)).Return(nil, nil)

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ErrorsCount)
	assert.Equal(t, 4, result.RecordsSynced)
	assert.Contains(t, result.ErrorMessage, "i/o timeout")
	assert.Contains(t, st.buildings, "b1")
	assert.Equal(t, models.SyncStatusCompletedWithErrors, st.ledger[0].Status)
}

func TestSynchronize_GraphQLErrorFallsBackWithoutErrorUnit(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return(nil, fmt.Errorf("%w: not authorized", remote.ErrGraphQL))
	src.On("FetchSites", mock.Anything).Return([]models.Site{{ID: "site1", Buildings: b1Hierarchy()}}, nil)
	src.On("FetchSensorSeries", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.True(t, result.Success)
	assert.Equal(t, 4, result.RecordsSynced)
}

func TestSynchronize_ZeroBuildingsFallsBackToSites(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return([]models.Building{}, nil)
	src.On("FetchSites", mock.Anything).Return([]models.Site{}, nil)

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.RecordsSynced)
	src.AssertCalled(t, "FetchSites", mock.Anything)
	src.AssertNotCalled(t, "FetchSensorSeries", mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, st.ledger, 1)
}

func TestSynchronize_SitesFailureCountsOneUnit(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return(nil, nil)
	src.On("FetchSites", mock.Anything).Return(nil, errors.New("503"))

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ErrorsCount)
}

func TestSynchronize_PartialFailureContainment(t *testing.T) {
	st := newMemStore()
	st.failFloor["f1"] = true
	src := &mockSource{}
	hierarchy := b1Hierarchy()
	hierarchy[0].Floors = append(hierarchy[0].Floors, models.Floor{ID: "f2", Spaces: []models.Space{{ID: "s3"}}})
	src.On("FetchHierarchy", mock.Anything).Return(hierarchy, nil)
	src.On("FetchSensorSeries", mock.Anything, mock.Anything, mock.Anything).Return(b1Points(), nil)

	svc := newTestSyncService(st, src, nil)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ErrorsCount)
	// b1, f2, s3 + 一条能耗记录
	assert.Equal(t, 4, result.RecordsSynced)
	assert.NotContains(t, st.spaces, "s1")
	assert.Contains(t, st.spaces, "s3")
	assert.Len(t, st.usage, 1)
}

func TestSynchronize_SensorBatchFailureIsOneUnitPerBatch(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return([]models.Building{{ID: "b1"}, {ID: "b2"}, {ID: "b3"}}, nil)
	src.On("FetchSensorSeries", mock.Anything, []string{"b2"}, mock.Anything).Return(nil, errors.New("timeout"))
	src.On("FetchSensorSeries", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	svc := newTestSyncService(st, src, nil)
	svc.opts.SensorBatchSize = 1
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.Equal(t, 1, result.ErrorsCount)
	assert.Equal(t, 3, result.RecordsSynced)
	assert.Contains(t, result.ErrorMessage, "b2")
	src.AssertNumberOfCalls(t, "FetchSensorSeries", 3)
}

func TestSynchronize_LockHeldRecordsSkippedEntry(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	locker := store.NewLocalLocker()
	release, ok, _ := locker.TryLock(context.Background())
	require.True(t, ok)
	defer release()

	svc := newTestSyncService(st, src, locker)
	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.False(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Equal(t, 0, result.ErrorsCount)
	assert.Equal(t, "sync already in progress", result.ErrorMessage)

	require.Len(t, st.ledger, 1)
	entry := st.ledger[0]
	assert.Equal(t, models.SyncStatusSkipped, entry.Status)
	assert.Equal(t, 0, entry.RecordsSynced)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "sync already in progress", *entry.ErrorMessage)
	src.AssertNotCalled(t, "FetchHierarchy", mock.Anything)
}

type failingLocker struct{ err error }

func (l failingLocker) TryLock(context.Context) (func(), bool, error) { return nil, false, l.err }

func TestSynchronize_LockErrorRecordsSkippedEntry(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}

	svc := newTestSyncService(st, src, failingLocker{err: errors.New("redis: connection refused")})
	result := svc.Synchronize(context.Background(), models.SyncIncremental)

	assert.True(t, result.Skipped)
	assert.Equal(t, 1, result.ErrorsCount)

	entries, err := st.RecentEntries(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.SyncStatusSkipped, entries[0].Status)
	assert.Equal(t, models.SyncIncremental, entries[0].SyncType)
	assert.Equal(t, 1, entries[0].ErrorsCount)
	assert.Contains(t, *entries[0].ErrorMessage, "connection refused")
	src.AssertNotCalled(t, "FetchHierarchy", mock.Anything)
}

func TestSynchronize_ConcurrentCallsWithLockerDoNotInterleave(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	entered := make(chan struct{})
	proceed := make(chan struct{})
	src.On("FetchHierarchy", mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-proceed
	}).Return(b1Hierarchy(), nil).Once()
	src.On("FetchSensorSeries", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	svc := newTestSyncService(st, src, store.NewLocalLocker())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Synchronize(context.Background(), models.SyncFull)
	}()
	<-entered

	second := svc.Synchronize(context.Background(), models.SyncIncremental)
	assert.False(t, second.Success)
	assert.True(t, second.Skipped)

	close(proceed)
	wg.Wait()

	// 两次调用各记一条
	entries, err := st.RecentEntries(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	statuses := []string{entries[0].Status, entries[1].Status}
	assert.ElementsMatch(t, []string{models.SyncStatusSkipped, models.SyncStatusCompleted}, statuses)
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []models.SyncStatusEntry
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, e *models.SyncStatusEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, *e)
	return n.err
}

func TestSynchronize_NotifiesLedgerEntry(t *testing.T) {
	st := newMemStore()
	src := &mockSource{}
	src.On("FetchHierarchy", mock.Anything).Return(b1Hierarchy(), nil)
	src.On("FetchSensorSeries", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	notifier := &recordingNotifier{err: errors.New("broker down")}
	svc := newTestSyncService(st, src, nil)
	svc.deps.Notifier = notifier

	result := svc.Synchronize(context.Background(), models.SyncFull)

	assert.True(t, result.Success, "notifier failure must not fail the pass")
	require.Len(t, notifier.entries, 1)
	assert.Equal(t, st.ledger[0].ID, notifier.entries[0].ID)
	assert.Equal(t, models.SyncStatusCompleted, notifier.entries[0].Status)
}

func TestSyncService_ReadAccessors(t *testing.T) {
	st := newMemStore()
	st.enforced = false
	svc := newTestSyncService(st, &mockSource{}, nil)

	assert.False(t, svc.UniqueConstraintEnforced())

	_ = st.Append(context.Background(), &models.SyncStatusEntry{ID: "a", Status: models.SyncStatusCompleted})
	history, err := svc.History(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SyncStatus)

	usage, err := svc.RecentEnergyUsage(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestFormatErrors(t *testing.T) {
	assert.Equal(t, "", formatErrors(nil))
	assert.Equal(t, "a; b", formatErrors([]error{errors.New("a"), errors.New("b")}))

	var errs []error
	for i := 0; i < 13; i++ {
		errs = append(errs, fmt.Errorf("e%d", i))
	}
	msg := formatErrors(errs)
	assert.True(t, strings.HasSuffix(msg, "e9 (+3 more)"))
	assert.Equal(t, 9, strings.Count(msg, "; "))
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(nil, 3))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
}
