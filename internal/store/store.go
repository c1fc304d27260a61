// Package store persists rides, driver locations, docs status and reviews.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-hail/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a conditional update found the row in a different
	// status than expected. Callers treat it as a lost race, not a failure.
	ErrConflict  = errors.New("status changed underfoot")
	ErrDuplicate = errors.New("duplicate record")
)

// Patch is the full set of fields a status transition may touch. Every
// transition commits as one conditional write so no partial state can land.
type Patch struct {
	Status       models.RideStatus
	DriverID     *string
	OTP          *string
	FareFinal    *int64
	CancelReason *string
	CompletedAt  *time.Time
}

// ChangeFunc receives the row before and after each committed mutation.
// old is nil for inserts. Hooks run in commit order for any given row.
type ChangeFunc func(old, new *models.Ride)

// RideStore is the transactional boundary for ride rows. ConditionalUpdate
// is the only mutation path after creation; it succeeds only when the row is
// still in the expected status at write time.
type RideStore interface {
	Create(ctx context.Context, r *models.Ride) error
	Get(ctx context.Context, id string) (*models.Ride, error)
	ByIdempotencyKey(ctx context.Context, key string) (*models.Ride, error)
	ConditionalUpdate(ctx context.Context, id string, expected models.RideStatus, p Patch) (*models.Ride, error)
	ListByStatus(ctx context.Context, status models.RideStatus) ([]*models.Ride, error)
	OnChange(fn ChangeFunc)
}

// LocationChangeFunc mirrors ChangeFunc for driver location rows.
type LocationChangeFunc func(old, new *models.DriverLocation)

// LocationStore keeps at most one row per driver, upsert semantics.
type LocationStore interface {
	Upsert(ctx context.Context, loc models.DriverLocation) error
	Get(ctx context.Context, driverID string) (*models.DriverLocation, error)
	// Nearby returns online drivers ordered by distance from the point.
	Nearby(ctx context.Context, lat, lng float64, limit int) ([]models.DriverLocation, error)
	OnChange(fn LocationChangeFunc)
}

// DocsReader exposes the verification state that gates driver eligibility.
// The core only ever reads it.
type DocsReader interface {
	Status(ctx context.Context, driverID string) (models.DocsStatus, error)
}

// ReviewStore is append-only: one review per completed ride.
type ReviewStore interface {
	Add(ctx context.Context, rv *models.Review) error
	ByRide(ctx context.Context, rideID string) (*models.Review, error)
}
