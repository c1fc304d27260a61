package directions

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/example/ride-hail/internal/models"
)

// GoogleClient wraps the Google Directions API.
type GoogleClient struct {
	client *maps.Client
}

func NewGoogleClient(apiKey string) (*GoogleClient, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleClient{client: c}, nil
}

func (g *GoogleClient) Route(ctx context.Context, origin, dest models.Coord) (Route, error) {
	req := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Lat, origin.Lng),
		Destination: fmt.Sprintf("%f,%f", dest.Lat, dest.Lng),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := g.client.Directions(ctx, req)
	if err != nil {
		return Route{}, err
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("google directions: zero routes")
	}
	var meters int
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
	}
	return Route{
		DistanceKm: float64(meters) / 1000,
		Polyline:   routes[0].OverviewPolyline.Points,
	}, nil
}
