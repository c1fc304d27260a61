// Package geofence resolves coordinates to named service areas and streets.
package geofence

import (
	"encoding/json"
	"math"
	"os"
	"sync"

	"github.com/example/ride-hail/internal/models"
)

// Resolver answers point-in-polygon area lookups and nearest-street queries
// against a static dataset. Lookups never fail; a point outside every polygon
// simply resolves to nothing.
type Resolver struct {
	polygons map[string][]models.Coord

	streetOnce sync.Once
	streets    []Street
	source     StreetSource
}

// Street is one entry of the flat street index.
type Street struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Subarea string  `json:"subarea"`
}

// StreetSource yields the raw nested street dataset. The resolver flattens it
// once, on first NearestStreet call.
type StreetSource func() []Street

func NewResolver(polygons map[string][]models.Coord, source StreetSource) *Resolver {
	return &Resolver{polygons: polygons, source: source}
}

// LoadPolygons reads a {name: [{lat,lng}...]} JSON file.
func LoadPolygons(path string) (map[string][]models.Coord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string][]models.Coord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Area returns the name of the polygon containing the point. A point exactly
// on a polygon edge follows the even-odd rule; there is no special casing.
func (r *Resolver) Area(lat, lng float64) (string, bool) {
	for name, poly := range r.polygons {
		if pointInPolygon(lat, lng, poly) {
			return name, true
		}
	}
	return "", false
}

// NearestStreet scans the flat index linearly by haversine distance. The
// dataset is small enough that a spatial index would not pay for itself.
func (r *Resolver) NearestStreet(lat, lng float64) (*Street, bool) {
	r.streetOnce.Do(func() {
		if r.source != nil {
			r.streets = r.source()
		}
	})
	var nearest *Street
	min := math.Inf(1)
	for i := range r.streets {
		d := HaversineKm(lat, lng, r.streets[i].Lat, r.streets[i].Lng)
		if d < min {
			min = d
			nearest = &r.streets[i]
		}
	}
	if nearest == nil {
		return nil, false
	}
	return nearest, true
}

// PolygonCenter averages the vertices; good enough for map centering.
func PolygonCenter(poly []models.Coord) models.Coord {
	var sumLat, sumLng float64
	for _, p := range poly {
		sumLat += p.Lat
		sumLng += p.Lng
	}
	n := float64(len(poly))
	return models.Coord{Lat: sumLat / n, Lng: sumLng / n}
}

// pointInPolygon is the standard even-odd ray cast.
func pointInPolygon(lat, lng float64, poly []models.Coord) bool {
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		xi, yi := poly[i].Lng, poly[i].Lat
		xj, yj := poly[j].Lng, poly[j].Lat
		if (yi > lat) != (yj > lat) &&
			lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// HaversineKm returns the great-circle distance in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
