// Package fare implements the distance-to-price table used for estimates.
package fare

import "math"

const (
	baseFareShort = 40 // trips under 1 km
	baseFare      = 50 // first km
	perExtraKm    = 10
)

// Estimate maps a route distance in kilometres to a fare. Under 1 km costs
// the short base fare, exactly 1 km costs the base fare, and every started
// kilometre beyond the first adds a flat increment. The result is rounded
// to the nearest 10 currency units.
func Estimate(distanceKm float64) int64 {
	if distanceKm < 1 {
		return roundTo10(baseFareShort)
	}
	if distanceKm == 1 {
		return roundTo10(baseFare)
	}
	raw := baseFare + int64(math.Ceil(distanceKm-1))*perExtraKm
	return roundTo10(raw)
}

// DistanceFromFare approximates the distance that would produce the given
// fare. Because fares are rounded, this is display-only and not an exact
// inverse of Estimate.
func DistanceFromFare(fare int64) float64 {
	rounded := roundTo10(fare)
	if rounded <= baseFareShort {
		return 0.8 // midpoint of the under-1km band
	}
	if rounded == baseFare {
		return 1
	}
	return 1 + float64(rounded-baseFare)/perExtraKm
}

// Breakdown itemizes an estimate for display.
type Breakdown struct {
	BaseFare       int64 `json:"base_fare"`
	AdditionalKm   int64 `json:"additional_km"`
	AdditionalFare int64 `json:"additional_fare"`
	Total          int64 `json:"total"`
	Rounded        int64 `json:"rounded"`
}

func Itemize(distanceKm float64) Breakdown {
	b := Breakdown{BaseFare: baseFare}
	if distanceKm < 1 {
		b.BaseFare = baseFareShort
	}
	if distanceKm > 1 {
		b.AdditionalKm = int64(math.Ceil(distanceKm - 1))
		b.AdditionalFare = b.AdditionalKm * perExtraKm
	}
	b.Total = b.BaseFare + b.AdditionalFare
	b.Rounded = roundTo10(b.Total)
	return b
}

func roundTo10(v int64) int64 {
	return int64(math.Round(float64(v)/10)) * 10
}
