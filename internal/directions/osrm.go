package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-hail/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (o *OSRMClient) Route(ctx context.Context, origin, dest models.Coord) (Route, error) {
	// /route/v1/driving/{lng1},{lat1};{lng2},{lat2}?overview=full
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full",
		o.Endpoint, origin.Lng, origin.Lat, dest.Lng, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"` // meters
			Geometry string  `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	return Route{DistanceKm: out.Routes[0].Distance / 1000, Polyline: out.Routes[0].Geometry}, nil
}
