package ride

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-hail/internal/directions"
	"github.com/example/ride-hail/internal/fare"
	"github.com/example/ride-hail/internal/geofence"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/store"
)

// Broadcaster publishes a freshly created pending ride to eligible drivers.
// Implemented by the dispatch engine.
type Broadcaster interface {
	Broadcast(ctx context.Context, r *models.Ride)
}

// Charger settles the finalized fare at completion. Implemented by the
// stripe wrapper; a nil Charger skips settlement entirely.
type Charger interface {
	Charge(ctx context.Context, rideID string, amount int64) error
}

// Service drives every post-acceptance transition and ride creation. All
// mutations go through the store's conditional update, so each transition is
// one atomic write and concurrent callers cannot interleave partial state.
type Service struct {
	Rides      store.RideStore
	Locations  store.LocationStore
	Reviews    store.ReviewStore
	Directions directions.Provider
	Geofence   *geofence.Resolver
	Dispatch   Broadcaster
	Payments   Charger
	Logger     *slog.Logger

	// AcceptTimeout is how long a ride may sit pending before the watchdog
	// cancels it. The client runs the same countdown, but the server-side
	// sweep covers clients killed before their timer fires.
	AcceptTimeout time.Duration
}

// RequestInput is everything the passenger submits to create a ride.
type RequestInput struct {
	PassengerID    string
	IdempotencyKey string
	Pickup         models.Place
	Drop           models.Place
}

// Request validates the geometry, prices the route and creates the pending
// ride. When the idempotency key has been seen before, the existing ride is
// returned instead of creating a second one for the same user action.
func (s *Service) Request(ctx context.Context, in RequestInput) (*models.Ride, error) {
	if in.PassengerID == "" {
		return nil, fmt.Errorf("%w: missing passenger", ErrValidation)
	}
	if !validPoint(in.Pickup) || !validPoint(in.Drop) {
		return nil, fmt.Errorf("%w: pickup and drop must both be geocoded", ErrValidation)
	}
	s.enrichAddress(&in.Pickup)
	s.enrichAddress(&in.Drop)

	route, err := s.route(ctx, in.Pickup.Coord(), in.Drop.Coord())
	if err != nil {
		return nil, err
	}

	r := &models.Ride{
		ID:             newID(),
		IdempotencyKey: in.IdempotencyKey,
		PassengerID:    in.PassengerID,
		Pickup:         in.Pickup,
		Drop:           in.Drop,
		FareEstimate:   fare.Estimate(route.DistanceKm),
		Status:         models.StatusPending,
		CreatedAt:      time.Now(),
	}
	if err := s.Rides.Create(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) && in.IdempotencyKey != "" {
			return s.Rides.ByIdempotencyKey(ctx, in.IdempotencyKey)
		}
		return nil, err
	}
	observability.RidesCreated.Inc()
	s.Logger.Info("ride created",
		"ride_id", r.ID, "passenger_id", r.PassengerID,
		"distance_km", route.DistanceKm, "fare_estimate", r.FareEstimate)

	if s.Dispatch != nil {
		s.Dispatch.Broadcast(ctx, r)
	}
	return r, nil
}

// Arrive marks the driver at the pickup point. Proximity is advisory and not
// enforced here.
func (s *Service) Arrive(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	r, err := s.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrNotDriver
	}
	if !CanTransition(r.Status, models.StatusArrived) {
		return nil, ErrInvalidTransition
	}
	return s.Rides.ConditionalUpdate(ctx, rideID, r.Status, store.Patch{Status: models.StatusArrived})
}

// Start verifies the passenger's OTP and begins the trip. A mismatch is a
// recoverable error: the ride stays in arrived and the passenger may retry
// any number of times.
func (s *Service) Start(ctx context.Context, rideID, driverID, otp string) (*models.Ride, error) {
	r, err := s.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrNotDriver
	}
	if !CanTransition(r.Status, models.StatusInProgress) {
		return nil, ErrInvalidTransition
	}
	if otp == "" || otp != r.OTP {
		observability.OTPFailures.Inc()
		return nil, ErrInvalidOTP
	}
	return s.Rides.ConditionalUpdate(ctx, rideID, r.Status, store.Patch{Status: models.StatusInProgress})
}

// Complete ends the trip: finalizes the fare, frees the driver and settles
// payment. The status write happens first so a payment hiccup can never
// leave the ride half-completed.
func (s *Service) Complete(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	r, err := s.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrNotDriver
	}
	if !CanTransition(r.Status, models.StatusCompleted) {
		return nil, ErrInvalidTransition
	}
	final := r.FareEstimate
	now := time.Now()
	updated, err := s.Rides.ConditionalUpdate(ctx, rideID, r.Status, store.Patch{
		Status:      models.StatusCompleted,
		FareFinal:   &final,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	observability.RidesCompleted.Inc()
	s.freeDriver(ctx, driverID)

	if s.Payments != nil {
		if err := s.Payments.Charge(ctx, rideID, final); err != nil {
			s.Logger.Error("fare settlement failed", "ride_id", rideID, "error", err)
		}
	}
	return updated, nil
}

// Cancel ends a ride before the trip starts. actor is "passenger" or
// "driver"; mid-ride rides cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, rideID, actor string) (*models.Ride, error) {
	r, err := s.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !Cancellable(r.Status) {
		return nil, ErrInvalidTransition
	}
	reason := ReasonPassenger
	if actor == "driver" {
		reason = ReasonDriver
	}
	updated, err := s.Rides.ConditionalUpdate(ctx, rideID, r.Status, store.Patch{
		Status:       models.StatusCancelled,
		CancelReason: &reason,
	})
	if err != nil {
		return nil, err
	}
	observability.RidesCancelled.WithLabelValues(reason).Inc()
	if updated.DriverID != "" {
		s.freeDriver(ctx, updated.DriverID)
	}
	return updated, nil
}

// SubmitReview records the passenger's rating for a completed ride, once.
func (s *Service) SubmitReview(ctx context.Context, rideID string, stars int, comment string) (*models.Review, error) {
	if stars < 1 || stars > 5 {
		return nil, fmt.Errorf("%w: stars must be 1..5", ErrValidation)
	}
	r, err := s.Rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: ride not completed", ErrValidation)
	}
	rv := &models.Review{
		ID:        newID(),
		RideID:    rideID,
		Stars:     stars,
		Comment:   comment,
		CreatedAt: time.Now(),
	}
	if err := s.Reviews.Add(ctx, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

// RunPendingWatchdog sweeps pending rides and cancels any that outlived the
// accept window with reason "no driver found". Losing a sweep race to a
// concurrent accept is fine; the conditional update simply reports conflict.
func (s *Service) RunPendingWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepPending(ctx, time.Now())
		}
	}
}

// SweepPending is one watchdog pass; split out so tests can drive the clock.
func (s *Service) SweepPending(ctx context.Context, now time.Time) {
	pending, err := s.Rides.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		s.Logger.Error("pending sweep failed", "error", err)
		return
	}
	for _, r := range pending {
		if now.Sub(r.CreatedAt) < s.AcceptTimeout {
			continue
		}
		reason := ReasonNoDriver
		if _, err := s.Rides.ConditionalUpdate(ctx, r.ID, models.StatusPending, store.Patch{
			Status:       models.StatusCancelled,
			CancelReason: &reason,
		}); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				s.Logger.Error("timeout cancel failed", "ride_id", r.ID, "error", err)
			}
			continue
		}
		observability.RidesCancelled.WithLabelValues(reason).Inc()
		s.Logger.Info("ride timed out", "ride_id", r.ID)
	}
}

func (s *Service) freeDriver(ctx context.Context, driverID string) {
	loc, err := s.Locations.Get(ctx, driverID)
	if err != nil {
		s.Logger.Warn("driver location missing on release", "driver_id", driverID, "error", err)
		return
	}
	loc.Status = models.DriverOnline
	loc.LastUpdated = time.Now()
	if err := s.Locations.Upsert(ctx, *loc); err != nil {
		s.Logger.Error("driver release failed", "driver_id", driverID, "error", err)
	}
}

// enrichAddress fills a missing address from the geofence dataset.
func (s *Service) enrichAddress(p *models.Place) {
	if p.Address != "" || s.Geofence == nil {
		return
	}
	if st, ok := s.Geofence.NearestStreet(p.Lat, p.Lng); ok {
		p.Address = st.Name + ", " + st.Subarea
		return
	}
	if area, ok := s.Geofence.Area(p.Lat, p.Lng); ok {
		p.Address = area
	}
}

func (s *Service) route(ctx context.Context, origin, dest models.Coord) (directions.Route, error) {
	if s.Directions == nil {
		return directions.StraightLine(origin, dest), nil
	}
	return s.Directions.Route(ctx, origin, dest)
}

func validPoint(p models.Place) bool {
	return !(p.Lat == 0 && p.Lng == 0)
}

func newID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
