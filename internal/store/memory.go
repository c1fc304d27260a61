package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-hail/internal/geofence"
	"github.com/example/ride-hail/internal/models"
)

// MemoryRideStore backs tests and single-process deployments. The mutex is
// the commit point: conditional updates compare and swap under it, which is
// what makes the accept race safe without client-side locking.
type MemoryRideStore struct {
	mu     sync.Mutex
	rides  map[string]*models.Ride
	byKey  map[string]string // idempotency key -> ride id
	hooks  []ChangeFunc
	hookMu sync.RWMutex
}

func NewMemoryRideStore() *MemoryRideStore {
	return &MemoryRideStore{
		rides: make(map[string]*models.Ride),
		byKey: make(map[string]string),
	}
}

func (m *MemoryRideStore) OnChange(fn ChangeFunc) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *MemoryRideStore) emit(old, new *models.Ride) {
	m.hookMu.RLock()
	hooks := m.hooks
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(old, new)
	}
}

func (m *MemoryRideStore) Create(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	if r.IdempotencyKey != "" {
		if _, ok := m.byKey[r.IdempotencyKey]; ok {
			m.mu.Unlock()
			return ErrDuplicate
		}
		m.byKey[r.IdempotencyKey] = r.ID
	}
	cp := *r
	m.rides[r.ID] = &cp
	m.mu.Unlock()

	snap := cp
	m.emit(nil, &snap)
	return nil
}

func (m *MemoryRideStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRideStore) ByIdempotencyKey(ctx context.Context, key string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.rides[id]
	return &cp, nil
}

func (m *MemoryRideStore) ConditionalUpdate(ctx context.Context, id string, expected models.RideStatus, p Patch) (*models.Ride, error) {
	m.mu.Lock()
	r, ok := m.rides[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if r.Status != expected {
		m.mu.Unlock()
		return nil, ErrConflict
	}
	old := *r
	r.Status = p.Status
	if p.DriverID != nil {
		r.DriverID = *p.DriverID
	}
	if p.OTP != nil {
		r.OTP = *p.OTP
	}
	if p.FareFinal != nil {
		v := *p.FareFinal
		r.FareFinal = &v
	}
	if p.CancelReason != nil {
		r.CancelReason = *p.CancelReason
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		r.CompletedAt = &t
	}
	cp := *r
	m.mu.Unlock()

	m.emit(&old, &cp)
	out := cp
	return &out, nil
}

func (m *MemoryRideStore) ListByStatus(ctx context.Context, status models.RideStatus) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryLocationStore is a naive haversine scan over in-memory rows; in prod
// the redis GEO implementation takes over.
type MemoryLocationStore struct {
	mu     sync.RWMutex
	rows   map[string]models.DriverLocation
	hooks  []LocationChangeFunc
	hookMu sync.RWMutex
}

func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{rows: make(map[string]models.DriverLocation)}
}

func (m *MemoryLocationStore) OnChange(fn LocationChangeFunc) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *MemoryLocationStore) emit(old, new *models.DriverLocation) {
	m.hookMu.RLock()
	hooks := m.hooks
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(old, new)
	}
}

func (m *MemoryLocationStore) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if loc.LastUpdated.IsZero() {
		loc.LastUpdated = time.Now()
	}
	m.mu.Lock()
	var old *models.DriverLocation
	if prev, ok := m.rows[loc.DriverID]; ok {
		cp := prev
		old = &cp
	}
	m.rows[loc.DriverID] = loc
	m.mu.Unlock()

	m.emit(old, &loc)
	return nil
}

func (m *MemoryLocationStore) Get(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.rows[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	return &loc, nil
}

func (m *MemoryLocationStore) Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverLocation, error) {
	m.mu.RLock()
	type pair struct {
		loc  models.DriverLocation
		dist float64
	}
	arr := make([]pair, 0, len(m.rows))
	for _, loc := range m.rows {
		if loc.Status != models.DriverOnline {
			continue
		}
		arr = append(arr, pair{loc, geofence.HaversineKm(lat, lng, loc.Lat, loc.Lng)})
	}
	m.mu.RUnlock()

	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.DriverLocation, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.loc)
	}
	return out, nil
}

// MemoryDocsStore serves tests and local runs; verification rows are written
// by the document upload flow, outside this core.
type MemoryDocsStore struct {
	mu   sync.RWMutex
	rows map[string]models.DocsStatus
}

func NewMemoryDocsStore() *MemoryDocsStore {
	return &MemoryDocsStore{rows: make(map[string]models.DocsStatus)}
}

func (m *MemoryDocsStore) Set(driverID string, s models.DocsStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[driverID] = s
}

func (m *MemoryDocsStore) Status(ctx context.Context, driverID string) (models.DocsStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.rows[driverID]; ok {
		return s, nil
	}
	return models.DocsNotSubmitted, nil
}

// MemoryReviewStore enforces the one-review-per-ride rule.
type MemoryReviewStore struct {
	mu   sync.Mutex
	rows map[string]*models.Review // keyed by ride id
}

func NewMemoryReviewStore() *MemoryReviewStore {
	return &MemoryReviewStore{rows: make(map[string]*models.Review)}
}

func (m *MemoryReviewStore) Add(ctx context.Context, rv *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rv.RideID]; ok {
		return ErrDuplicate
	}
	cp := *rv
	m.rows[rv.RideID] = &cp
	return nil
}

func (m *MemoryReviewStore) ByRide(ctx context.Context, rideID string) (*models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rv, ok := m.rows[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rv
	return &cp, nil
}
