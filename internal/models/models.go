package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a geocoded stop: coordinates plus the human-readable address
// shown in ride history.
type Place struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lng: p.Lng} }

type RideStatus string

const (
	StatusPending    RideStatus = "pending"
	StatusAccepted   RideStatus = "accepted"
	StatusArrived    RideStatus = "arrived"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Ride is the single record type shared by every component. The row shape is
// fixed; callers never write partial, ad hoc variants of it.
type Ride struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	PassengerID    string `json:"passenger_id"`
	DriverID       string `json:"driver_id,omitempty"`
	Pickup         Place  `json:"pickup"`
	Drop           Place  `json:"drop"`
	FareEstimate   int64  `json:"fare_estimate"`
	FareFinal      *int64 `json:"fare_final,omitempty"`
	// OTP is set exactly once, when a driver wins the accept race.
	OTP          string     `json:"otp,omitempty"`
	Status       RideStatus `json:"status"`
	CancelReason string     `json:"cancellation_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type AvailabilityStatus string

const (
	DriverOnline  AvailabilityStatus = "online"
	DriverOffline AvailabilityStatus = "offline"
	DriverBusy    AvailabilityStatus = "busy"
)

// DriverLocation is an upsert row: at most one per driver. Location-watcher
// updates and status flips both overwrite it; last write wins.
type DriverLocation struct {
	DriverID    string             `json:"driver_id"`
	Lat         float64            `json:"lat"`
	Lng         float64            `json:"lng"`
	Status      AvailabilityStatus `json:"status"`
	LastUpdated time.Time          `json:"last_updated"`
}

type DocsStatus string

const (
	DocsNotSubmitted DocsStatus = "not_submitted"
	DocsPending      DocsStatus = "pending_verification"
	DocsApproved     DocsStatus = "approved"
	DocsRejected     DocsStatus = "rejected"
)

// Review is the passenger's post-completion rating. Append-only.
type Review struct {
	ID        string    `json:"id"`
	RideID    string    `json:"ride_id"`
	Stars     int       `json:"stars"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
