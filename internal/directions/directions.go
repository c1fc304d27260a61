// Package directions fetches route distance and geometry from third-party
// routing APIs, falling back to a straight line when no route comes back.
package directions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/ride-hail/internal/geofence"
	"github.com/example/ride-hail/internal/models"
)

// Route is what fare estimation and map display need: how far, and the shape
// to draw.
type Route struct {
	DistanceKm float64
	// Polyline is the encoded overview geometry, or a raw two-point line
	// when produced by the fallback.
	Polyline string
	Fallback bool
}

type Provider interface {
	Route(ctx context.Context, origin, dest models.Coord) (Route, error)
}

// WithFallback wraps a provider so a failed or empty routing response
// degrades to the straight-line distance instead of surfacing an error.
// Ride creation must never block on the routing vendor.
type WithFallback struct {
	Provider Provider
	Logger   *slog.Logger
}

func (w *WithFallback) Route(ctx context.Context, origin, dest models.Coord) (Route, error) {
	if w.Provider != nil {
		r, err := w.Provider.Route(ctx, origin, dest)
		if err == nil {
			return r, nil
		}
		if w.Logger != nil {
			w.Logger.Warn("directions provider failed, using straight line", "error", err)
		}
	}
	return StraightLine(origin, dest), nil
}

// StraightLine builds the degenerate two-point route.
func StraightLine(origin, dest models.Coord) Route {
	return Route{
		DistanceKm: geofence.HaversineKm(origin.Lat, origin.Lng, dest.Lat, dest.Lng),
		Polyline:   fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", origin.Lat, origin.Lng, dest.Lat, dest.Lng),
		Fallback:   true,
	}
}
