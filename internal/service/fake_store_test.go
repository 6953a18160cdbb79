package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"
	"github.com/callmeahab/energy-management-sub000/internal/remote"

	"github.com/stretchr/testify/mock"
)

// memStore 内存版本地存储，实现全部 repository 接口
type memStore struct {
	mu        sync.Mutex
	schemaErr error
	enforced  bool
	policy    models.CollisionPolicy
	buildings map[string]models.Building
	floors    map[string]models.Floor
	spaces    map[string]models.Space
	points    map[string]models.SensorPoint
	usage     map[string]models.EnergyUsageRecord
	ledger    []models.SyncStatusEntry
	failFloor map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		enforced:  true,
		policy:    models.PolicyUpsert,
		buildings: map[string]models.Building{},
		floors:    map[string]models.Floor{},
		spaces:    map[string]models.Space{},
		points:    map[string]models.SensorPoint{},
		usage:     map[string]models.EnergyUsageRecord{},
		failFloor: map[string]bool{},
	}
}

func (m *memStore) EnsureSchema(context.Context) error { return m.schemaErr }
func (m *memStore) UniqueEnforced() bool { return m.enforced }

func (m *memStore) UpsertBuilding(_ context.Context, b *models.Building) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *b
	row.Floors = nil
	prev := m.buildings[b.ID]
	row.FloorsCount, row.SpacesCount = prev.FloorsCount, prev.SpacesCount
	m.buildings[b.ID] = row
	return nil
}

func (m *memStore) UpsertFloor(_ context.Context, f *models.Floor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFloor[f.ID] {
		return errors.New("floor write failed")
	}
	row := *f
	row.Spaces = nil
	m.floors[f.ID] = row
	return nil
}

func (m *memStore) UpsertSpace(_ context.Context, s *models.Space) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spaces[s.ID] = *s
	return nil
}

func (m *memStore) RefreshBuildingCounts(_ context.Context, buildingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buildings[buildingID]
	b.FloorsCount, b.SpacesCount = 0, 0
	for _, f := range m.floors {
		if f.BuildingID == buildingID {
			b.FloorsCount++
		}
	}
	for _, s := range m.spaces {
		if s.BuildingID == buildingID {
			b.SpacesCount++
		}
	}
	m.buildings[buildingID] = b
	return nil
}

func (m *memStore) ListBuildingIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.buildings))
	for id := range m.buildings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) UpsertPoint(_ context.Context, p *models.SensorPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[p.ID] = *p
	return nil
}

func (m *memStore) SaveEnergyUsage(_ context.Context, rec *models.EnergyUsageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.BucketKey()
	if _, ok := m.usage[key]; ok && m.policy == models.PolicyInsertOnly {
		return false, nil
	}
	m.usage[key] = *rec
	return true, nil
}

func (m *memStore) ListRecent(_ context.Context, limit int) ([]models.EnergyUsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EnergyUsageRecord
	for _, r := range m.usage {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Append(_ context.Context, e *models.SyncStatusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = time.Now().Format(time.RFC3339Nano)
	}
	m.ledger = append(m.ledger, *e)
	return nil
}

func (m *memStore) RecentEntries(_ context.Context, limit int) ([]models.SyncStatusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncStatusEntry
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.ledger[i])
	}
	return out, nil
}

func (m *memStore) LastSuccessfulSync(context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ledger) - 1; i >= 0; i-- {
		if m.ledger[i].Status == models.SyncStatusCompleted {
			return m.ledger[i].LastSyncTimestamp, nil
		}
	}
	return nil, nil
}

func (m *memStore) DatabaseStats(context.Context) (*models.DatabaseStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.DatabaseStats{
		Buildings:   int64(len(m.buildings)),
		Floors:      int64(len(m.floors)),
		Spaces:      int64(len(m.spaces)),
		Points:      int64(len(m.points)),
		EnergyUsage: int64(len(m.usage)),
		SyncStatus:  int64(len(m.ledger)),
	}, nil
}

// mockSource testify mock 的远端数据源
type mockSource struct {
	mock.Mock
}

var _ remote.Source = (*mockSource)(nil)

func (m *mockSource) FetchHierarchy(ctx context.Context) ([]models.Building, error) {
	args := m.Called(ctx)
	buildings, _ := args.Get(0).([]models.Building)
	return buildings, args.Error(1)
}

func (m *mockSource) FetchSites(ctx context.Context) ([]models.Site, error) {
	args := m.Called(ctx)
	sites, _ := args.Get(0).([]models.Site)
	return sites, args.Error(1)
}

func (m *mockSource) FetchSensorSeries(ctx context.Context, buildingIDs []string, pointTypes []string) ([]models.SensorPoint, error) {
	args := m.Called(ctx, buildingIDs, pointTypes)
	points, _ := args.Get(0).([]models.SensorPoint)
	return points, args.Error(1)
}
