package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hail/internal/models"
)

// RedisLocationStore keeps driver positions in a redis GEO set plus a hash
// per driver for availability metadata.
type RedisLocationStore struct {
	client  *redis.Client
	key     string
	radiusM float64
	hooks   []LocationChangeFunc
	hookMu  sync.RWMutex
}

func NewRedisLocationStore(addr, password, key string, radiusM float64) *RedisLocationStore {
	if radiusM <= 0 {
		radiusM = 5000
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisLocationStore{client: c, key: key, radiusM: radiusM}
}

func (r *RedisLocationStore) OnChange(fn LocationChangeFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *RedisLocationStore) emit(old, new *models.DriverLocation) {
	r.hookMu.RLock()
	hooks := r.hooks
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(old, new)
	}
}

func (r *RedisLocationStore) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if loc.LastUpdated.IsZero() {
		loc.LastUpdated = time.Now()
	}
	old, _ := r.Get(ctx, loc.DriverID)
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Lng, Latitude: loc.Lat, Name: loc.DriverID,
	}).Result(); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"status":  string(loc.Status),
		"updated": loc.LastUpdated.Format(time.RFC3339),
	}).Err(); err != nil {
		return err
	}
	r.emit(old, &loc)
	return nil
}

func (r *RedisLocationStore) Get(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return nil, ErrNotFound
	}
	loc := models.DriverLocation{DriverID: driverID, Lat: pos[0].Latitude, Lng: pos[0].Longitude}
	if m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result(); err == nil {
		if v, ok := m["status"]; ok {
			loc.Status = models.AvailabilityStatus(v)
		}
		if v, ok := m["updated"]; ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				loc.LastUpdated = t
			}
		}
	}
	return &loc, nil
}

func (r *RedisLocationStore) Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverLocation, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: r.radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverLocation, 0, len(res))
	for _, g := range res {
		loc := models.DriverLocation{DriverID: g.Name, Lat: g.Latitude, Lng: g.Longitude}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["status"]; ok {
				loc.Status = models.AvailabilityStatus(v)
			}
		}
		if loc.Status != models.DriverOnline {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
