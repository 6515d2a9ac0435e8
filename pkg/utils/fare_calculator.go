package utils

import (
	"errors"
	"math"
)

// Vehicle classes a trip can be requested for
const (
	VehicleClassEconomy  = "economy"
	VehicleClassStandard = "standard"
	VehicleClassPremium  = "premium"
)

// MinutesPerKm fixes trip duration at an average city speed of 30 km/h
const MinutesPerKm = 2.0

var (
	ErrUnknownVehicleClass = errors.New("unknown vehicle class")
	ErrMissingCoordinates  = errors.New("pickup and dropoff coordinates are required")
)

// FareRate is the pricing rule for one vehicle class
type FareRate struct {
	BaseFare  float64 `json:"baseFare"`
	PerKm     float64 `json:"perKm"`
	PerMinute float64 `json:"perMinute"`
}

var fareRates = map[string]FareRate{
	VehicleClassEconomy:  {BaseFare: 5, PerKm: 2, PerMinute: 0.5},
	VehicleClassStandard: {BaseFare: 10, PerKm: 4, PerMinute: 1},
	VehicleClassPremium:  {BaseFare: 20, PerKm: 8, PerMinute: 2},
}

// FareEstimate is the result of pricing a pickup/dropoff pair
type FareEstimate struct {
	Distance     float64 `json:"distance"` // km, two decimals
	Duration     int     `json:"duration"` // minutes
	Price        int     `json:"price"`
	VehicleClass string  `json:"vehicleClass"`
}

// IsVehicleClass reports whether class has a rate entry
func IsVehicleClass(class string) bool {
	_, ok := fareRates[class]
	return ok
}

// EstimateFare prices a trip from pickup to dropoff for the given vehicle class.
// Duration and price are derived from the unrounded distance; price is rounded up.
func EstimateFare(pickup, dropoff *Point, vehicleClass string) (FareEstimate, error) {
	if pickup == nil || dropoff == nil {
		return FareEstimate{}, ErrMissingCoordinates
	}
	if err := pickup.Validate(); err != nil {
		return FareEstimate{}, err
	}
	if err := dropoff.Validate(); err != nil {
		return FareEstimate{}, err
	}

	rate, ok := fareRates[vehicleClass]
	if !ok {
		return FareEstimate{}, ErrUnknownVehicleClass
	}

	distance := DistanceBetween(*pickup, *dropoff)
	duration := distance * MinutesPerKm
	price := rate.BaseFare + rate.PerKm*distance + rate.PerMinute*duration

	return FareEstimate{
		Distance:     math.Round(distance*100) / 100,
		Duration:     int(math.Ceil(duration)),
		Price:        int(math.Ceil(price)),
		VehicleClass: vehicleClass,
	}, nil
}
