package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine() (*Engine, *store.MemoryRideStore, *store.MemoryLocationStore, *store.MemoryDocsStore) {
	rides := store.NewMemoryRideStore()
	locs := store.NewMemoryLocationStore()
	docs := store.NewMemoryDocsStore()
	e := &Engine{Rides: rides, Locations: locs, Docs: docs, Logger: discardLogger(), TopN: 10}
	return e, rides, locs, docs
}

func pendingRide(t *testing.T, rides *store.MemoryRideStore) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:           "ride1",
		PassengerID:  "p1",
		Pickup:       models.Place{Lat: 12.6820, Lng: 78.6201, Address: "a"},
		Drop:         models.Place{Lat: 12.6850, Lng: 78.6180, Address: "b"},
		FareEstimate: 60,
		Status:       models.StatusPending,
		CreatedAt:    time.Now(),
	}
	if err := rides.Create(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCandidatesFiltersOfflineAndUnapproved(t *testing.T) {
	e, _, locs, docs := newTestEngine()
	ctx := context.Background()

	_ = locs.Upsert(ctx, models.DriverLocation{DriverID: "approved-online", Lat: 1, Lng: 1, Status: models.DriverOnline})
	_ = locs.Upsert(ctx, models.DriverLocation{DriverID: "approved-busy", Lat: 1, Lng: 1, Status: models.DriverBusy})
	_ = locs.Upsert(ctx, models.DriverLocation{DriverID: "approved-offline", Lat: 1, Lng: 1, Status: models.DriverOffline})
	_ = locs.Upsert(ctx, models.DriverLocation{DriverID: "pending-online", Lat: 1, Lng: 1, Status: models.DriverOnline})
	docs.Set("approved-online", models.DocsApproved)
	docs.Set("approved-busy", models.DocsApproved)
	docs.Set("approved-offline", models.DocsApproved)
	docs.Set("pending-online", models.DocsPending)

	got, err := e.Candidates(ctx, models.Coord{Lat: 1, Lng: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "approved-online" {
		t.Fatalf("candidates = %v, want [approved-online]", got)
	}
}

func TestCandidatesOrderedByDistance(t *testing.T) {
	e, _, locs, docs := newTestEngine()
	ctx := context.Background()
	_ = locs.Upsert(ctx, models.DriverLocation{DriverID: "far", Lat: 2, Lng: 2, Status: models.DriverOnline})
	_ = locs.Upsert(ctx, models.DriverLocation{DriverID: "near", Lat: 1.001, Lng: 1.001, Status: models.DriverOnline})
	docs.Set("far", models.DocsApproved)
	docs.Set("near", models.DocsApproved)

	got, err := e.Candidates(ctx, models.Coord{Lat: 1, Lng: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "near" || got[1] != "far" {
		t.Fatalf("candidates = %v, want [near far]", got)
	}
}

func TestAcceptBindsDriverAndGeneratesOTP(t *testing.T) {
	e, rides, locs, docs := newTestEngine()
	ctx := context.Background()
	r := pendingRide(t, rides)
	docs.Set("d1", models.DocsApproved)
	_ = locs.Upsert(ctx, models.DriverLocation{DriverID: "d1", Lat: 1, Lng: 1, Status: models.DriverOnline})

	got, err := e.Accept(ctx, r.ID, "d1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != models.StatusAccepted || got.DriverID != "d1" {
		t.Fatalf("unexpected ride after accept: %+v", got)
	}
	if len(got.OTP) != 6 {
		t.Fatalf("OTP = %q, want 6 digits", got.OTP)
	}
	for _, c := range got.OTP {
		if c < '0' || c > '9' {
			t.Fatalf("OTP %q is not numeric", got.OTP)
		}
	}
	loc, _ := locs.Get(ctx, "d1")
	if loc.Status != models.DriverBusy {
		t.Fatalf("winner's availability = %s, want busy", loc.Status)
	}
}

func TestAcceptRejectsUnapprovedDriver(t *testing.T) {
	e, rides, _, docs := newTestEngine()
	r := pendingRide(t, rides)
	docs.Set("d1", models.DocsPending)
	if _, err := e.Accept(context.Background(), r.ID, "d1"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("err = %v, want ErrNotApproved", err)
	}
}

func TestAcceptLoserGetsRideTaken(t *testing.T) {
	e, rides, locs, docs := newTestEngine()
	ctx := context.Background()
	r := pendingRide(t, rides)
	for _, d := range []string{"dA", "dB"} {
		docs.Set(d, models.DocsApproved)
		_ = locs.Upsert(ctx, models.DriverLocation{DriverID: d, Lat: 1, Lng: 1, Status: models.DriverOnline})
	}

	if _, err := e.Accept(ctx, r.ID, "dA"); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := e.Accept(ctx, r.ID, "dB")
	if !errors.Is(err, ErrRideTaken) {
		t.Fatalf("second accept: err = %v, want ErrRideTaken", err)
	}
	// Loser must not have mutated anything.
	got, _ := rides.Get(ctx, r.ID)
	if got.DriverID != "dA" {
		t.Fatalf("driver = %s, want dA", got.DriverID)
	}
	locB, _ := locs.Get(ctx, "dB")
	if locB.Status != models.DriverOnline {
		t.Fatalf("loser's availability = %s, want online", locB.Status)
	}
}

// Two drivers race to accept the same ride, 100 trials: exactly one wins
// each time, the other sees the distinct "ride no longer available" outcome.
func TestAcceptRaceExactlyOneWinner(t *testing.T) {
	for trial := 0; trial < 100; trial++ {
		e, rides, locs, docs := newTestEngine()
		ctx := context.Background()
		r := pendingRide(t, rides)
		for _, d := range []string{"dA", "dB"} {
			docs.Set(d, models.DocsApproved)
			_ = locs.Upsert(ctx, models.DriverLocation{DriverID: d, Lat: 1, Lng: 1, Status: models.DriverOnline})
		}

		var wg sync.WaitGroup
		results := make(map[string]error, 2)
		var mu sync.Mutex
		for _, d := range []string{"dA", "dB"} {
			wg.Add(1)
			go func(driver string) {
				defer wg.Done()
				_, err := e.Accept(ctx, r.ID, driver)
				mu.Lock()
				results[driver] = err
				mu.Unlock()
			}(d)
		}
		wg.Wait()

		wins, losses := 0, 0
		for driver, err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRideTaken):
				losses++
			default:
				t.Fatalf("trial %d: driver %s got unexpected error %v", trial, driver, err)
			}
		}
		if wins != 1 || losses != 1 {
			t.Fatalf("trial %d: wins=%d losses=%d, want exactly one of each", trial, wins, losses)
		}

		got, _ := rides.Get(ctx, r.ID)
		if got.Status != models.StatusAccepted || got.DriverID == "" {
			t.Fatalf("trial %d: final ride %+v", trial, got)
		}
		winnerLoc, _ := locs.Get(ctx, got.DriverID)
		if winnerLoc.Status != models.DriverBusy {
			t.Fatalf("trial %d: winner availability = %s", trial, winnerLoc.Status)
		}
	}
}

func TestAcceptManyDrivers(t *testing.T) {
	e, rides, locs, docs := newTestEngine()
	ctx := context.Background()
	r := pendingRide(t, rides)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		d := fmt.Sprintf("d%d", i)
		docs.Set(d, models.DocsApproved)
		_ = locs.Upsert(ctx, models.DriverLocation{DriverID: d, Lat: 1, Lng: 1, Status: models.DriverOnline})
		wg.Add(1)
		go func(driver string) {
			defer wg.Done()
			_, err := e.Accept(ctx, r.ID, driver)
			errs <- err
		}(d)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrRideTaken) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestSetAvailabilityGatedByDocs(t *testing.T) {
	e, _, locs, docs := newTestEngine()
	ctx := context.Background()

	docs.Set("d1", models.DocsPending)
	if err := e.SetAvailability(ctx, "d1", models.DriverOnline, 1, 1); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("unapproved go-online: err = %v, want ErrNotApproved", err)
	}

	docs.Set("d1", models.DocsApproved)
	if err := e.SetAvailability(ctx, "d1", models.DriverOnline, 1, 1); err != nil {
		t.Fatalf("approved go-online: %v", err)
	}
	loc, _ := locs.Get(ctx, "d1")
	if loc.Status != models.DriverOnline {
		t.Fatalf("status = %s", loc.Status)
	}

	// Going offline never requires approval.
	docs.Set("d1", models.DocsRejected)
	if err := e.SetAvailability(ctx, "d1", models.DriverOffline, 1, 1); err != nil {
		t.Fatalf("go-offline: %v", err)
	}
}
