package utils

import (
	"errors"
	"math"
)

const earthRadiusKm = 6371

var ErrInvalidCoordinates = errors.New("coordinates out of range")

// Point represents a geographical point
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks latitude and longitude bounds
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// HaversineDistance calculates the distance between two points on Earth
// using the Haversine formula. Returns distance in kilometers.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180

	dlat := (lat2 - lat1) * math.Pi / 180
	dlng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dlng/2)*math.Sin(dlng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceBetween is HaversineDistance for two points
func DistanceBetween(from, to Point) float64 {
	return HaversineDistance(from.Lat, from.Lng, to.Lat, to.Lng)
}

// CalculateETA estimates the time to arrival based on distance and average speed
// distance in kilometers, averageSpeed in km/h
func CalculateETA(distanceKm, averageSpeedKmh float64) int {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = 30
	}

	etaMinutes := int(math.Ceil(distanceKm * 60 / averageSpeedKmh))
	if etaMinutes < 1 {
		etaMinutes = 1
	}

	return etaMinutes
}
