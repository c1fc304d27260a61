package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-hail/internal/models"
)

func testRide(id string) *models.Ride {
	return &models.Ride{
		ID:          id,
		PassengerID: "p1",
		Pickup:      models.Place{Lat: 1, Lng: 1, Address: "a"},
		Drop:        models.Place{Lat: 2, Lng: 2, Address: "b"},
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestMemoryConditionalUpdateConflict(t *testing.T) {
	m := NewMemoryRideStore()
	ctx := context.Background()
	if err := m.Create(ctx, testRide("r1")); err != nil {
		t.Fatal(err)
	}

	d1 := "d1"
	if _, err := m.ConditionalUpdate(ctx, "r1", models.StatusPending, Patch{Status: models.StatusAccepted, DriverID: &d1}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	d2 := "d2"
	_, err := m.ConditionalUpdate(ctx, "r1", models.StatusPending, Patch{Status: models.StatusAccepted, DriverID: &d2})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second update: err = %v, want ErrConflict", err)
	}

	got, _ := m.Get(ctx, "r1")
	if got.DriverID != "d1" {
		t.Fatalf("loser overwrote driver: %s", got.DriverID)
	}
}

func TestMemoryIdempotencyKey(t *testing.T) {
	m := NewMemoryRideStore()
	ctx := context.Background()
	r := testRide("r1")
	r.IdempotencyKey = "k1"
	if err := m.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	dup := testRide("r2")
	dup.IdempotencyKey = "k1"
	if err := m.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate create: err = %v, want ErrDuplicate", err)
	}

	got, err := m.ByIdempotencyKey(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "r1" {
		t.Fatalf("key resolves to %s, want r1", got.ID)
	}
}

func TestMemoryChangeHookOrder(t *testing.T) {
	m := NewMemoryRideStore()
	ctx := context.Background()
	var seen []models.RideStatus
	m.OnChange(func(old, new *models.Ride) {
		seen = append(seen, new.Status)
	})

	if err := m.Create(ctx, testRide("r1")); err != nil {
		t.Fatal(err)
	}
	d := "d1"
	if _, err := m.ConditionalUpdate(ctx, "r1", models.StatusPending, Patch{Status: models.StatusAccepted, DriverID: &d}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ConditionalUpdate(ctx, "r1", models.StatusAccepted, Patch{Status: models.StatusArrived}); err != nil {
		t.Fatal(err)
	}

	want := []models.RideStatus{models.StatusPending, models.StatusAccepted, models.StatusArrived}
	if len(seen) != len(want) {
		t.Fatalf("hook fired %d times, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("hook order %v, want %v", seen, want)
		}
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := NewMemoryRideStore()
	ctx := context.Background()
	if err := m.Create(ctx, testRide("r1")); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(ctx, "r1")
	got.Status = models.StatusCompleted

	again, _ := m.Get(ctx, "r1")
	if again.Status != models.StatusPending {
		t.Fatal("Get leaked a mutable reference to the stored row")
	}
}

func TestMemoryLocationUpsertAndNearby(t *testing.T) {
	m := NewMemoryLocationStore()
	ctx := context.Background()

	// Upsert keeps one row per driver.
	_ = m.Upsert(ctx, models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 1, Status: models.DriverOnline})
	_ = m.Upsert(ctx, models.DriverLocation{DriverID: "d1", Lat: 1.5, Lng: 1.5, Status: models.DriverOnline})
	got, err := m.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Lat != 1.5 {
		t.Fatalf("lat = %v, want last write 1.5", got.Lat)
	}

	_ = m.Upsert(ctx, models.DriverLocation{DriverID: "d2", Lat: 1.001, Lng: 1.001, Status: models.DriverOnline})
	_ = m.Upsert(ctx, models.DriverLocation{DriverID: "d3", Lat: 1.001, Lng: 1.001, Status: models.DriverBusy})

	near, err := m.Nearby(ctx, 1, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(near) != 2 {
		t.Fatalf("nearby = %d drivers, want 2 (busy filtered)", len(near))
	}
	if near[0].DriverID != "d2" {
		t.Fatalf("nearest = %s, want d2", near[0].DriverID)
	}
}

func TestMemoryReviewAppendOnly(t *testing.T) {
	m := NewMemoryReviewStore()
	ctx := context.Background()
	rv := &models.Review{ID: "v1", RideID: "r1", Stars: 5}
	if err := m.Add(ctx, rv); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(ctx, &models.Review{ID: "v2", RideID: "r1", Stars: 1}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second review for ride: err = %v, want ErrDuplicate", err)
	}
	got, err := m.ByRide(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Stars != 5 {
		t.Fatal("original review was mutated")
	}
}
