// Package dispatch finds candidate drivers for a new ride and resolves the
// accept race.
package dispatch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/realtime"
	"github.com/example/ride-hail/internal/store"
)

var (
	// ErrRideTaken means another driver won the accept race. Clients drop
	// the stale candidate from their pending list and move on; this is not
	// a failure.
	ErrRideTaken   = errors.New("ride no longer available")
	ErrNotApproved = errors.New("driver not approved")
)

// Engine broadcasts pending rides to eligible drivers and arbitrates which
// accept call wins. There is no ranking or surge: first eligible driver to
// accept gets the ride, with the store's conditional update as the referee.
type Engine struct {
	Rides     store.RideStore
	Locations store.LocationStore
	Docs      store.DocsReader
	WS        *realtime.WSRegistry
	Logger    *slog.Logger
	TopN      int
}

// Candidates returns nearby driver ids that are online and approved, closest
// first. The nearest-neighbor scan itself is the location store's job.
func (e *Engine) Candidates(ctx context.Context, pickup models.Coord) ([]string, error) {
	limit := e.TopN
	if limit <= 0 {
		limit = 20
	}
	nearby, err := e.Locations.Nearby(ctx, pickup.Lat, pickup.Lng, limit)
	if err != nil {
		return nil, fmt.Errorf("nearby drivers: %w", err)
	}
	out := make([]string, 0, len(nearby))
	for _, loc := range nearby {
		status, err := e.Docs.Status(ctx, loc.DriverID)
		if err != nil {
			e.Logger.Warn("docs lookup failed", "driver_id", loc.DriverID, "error", err)
			continue
		}
		if status != models.DocsApproved {
			continue
		}
		out = append(out, loc.DriverID)
	}
	return out, nil
}

// RideOffer is the websocket payload drivers receive for a new pending ride.
type RideOffer struct {
	Type string       `json:"type"`
	Ride *models.Ride `json:"ride"`
}

// Broadcast pushes the pending ride to every current candidate. Any of them
// may accept; none is pre-assigned. Delivery is best-effort; drivers also
// see pending rides through their realtime subscription and list re-fetch.
func (e *Engine) Broadcast(ctx context.Context, r *models.Ride) {
	candidates, err := e.Candidates(ctx, r.Pickup.Coord())
	if err != nil {
		e.Logger.Error("broadcast candidates failed", "ride_id", r.ID, "error", err)
		return
	}
	offer := *r
	offer.OTP = "" // drivers never see the OTP before pickup
	if e.WS != nil {
		e.WS.SendEach(candidates, RideOffer{Type: "ride_requested", Ride: &offer})
	}
	e.Logger.Info("ride broadcast", "ride_id", r.ID, "candidates", len(candidates))
}

// Accept is one driver's attempt to take a pending ride. Exactly one
// concurrent caller can succeed: the conditional update only lands when the
// ride is still pending at commit time. On a win the driver is bound, the
// OTP is generated and the driver's availability flips to busy; on a loss
// nothing is mutated and the caller gets ErrRideTaken.
func (e *Engine) Accept(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	status, err := e.Docs.Status(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if status != models.DocsApproved {
		return nil, ErrNotApproved
	}

	otp := generateOTP()
	updated, err := e.Rides.ConditionalUpdate(ctx, rideID, models.StatusPending, store.Patch{
		Status:   models.StatusAccepted,
		DriverID: &driverID,
		OTP:      &otp,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			observability.AcceptConflicts.Inc()
			return nil, ErrRideTaken
		}
		return nil, err
	}
	observability.RidesAccepted.Inc()

	e.markBusy(ctx, driverID)
	e.Logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	return updated, nil
}

// SetAvailability flips a driver online or offline. Going online requires
// approved documents; going offline is always allowed.
func (e *Engine) SetAvailability(ctx context.Context, driverID string, target models.AvailabilityStatus, lat, lng float64) error {
	if target == models.DriverOnline {
		status, err := e.Docs.Status(ctx, driverID)
		if err != nil {
			return err
		}
		if status != models.DocsApproved {
			return ErrNotApproved
		}
		observability.DriversOnline.Inc()
	}
	if target == models.DriverOffline {
		observability.DriversOnline.Dec()
	}
	return e.Locations.Upsert(ctx, models.DriverLocation{
		DriverID: driverID, Lat: lat, Lng: lng, Status: target,
	})
}

func (e *Engine) markBusy(ctx context.Context, driverID string) {
	loc, err := e.Locations.Get(ctx, driverID)
	if err != nil {
		// No location row yet; create one with only the status set. The
		// next watcher update fills in coordinates.
		loc = &models.DriverLocation{DriverID: driverID}
	}
	loc.Status = models.DriverBusy
	if err := e.Locations.Upsert(ctx, *loc); err != nil {
		e.Logger.Error("mark busy failed", "driver_id", driverID, "error", err)
	}
}

// generateOTP returns a 6-digit numeric code.
func generateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}
