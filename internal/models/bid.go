package models

import "gorm.io/gorm"

// BidStatus constants
const (
	BidStatusPending  = "pending"
	BidStatusAccepted = "accepted"
	BidStatusRejected = "rejected"
)

// MaxBidNoteLength bounds the free-text note a driver attaches to a bid
const MaxBidNoteLength = 200

// Bid is a driver's price offer for a pending trip. A driver bids at most once per trip.
type Bid struct {
	gorm.Model
	TripID           uint    `json:"tripId" gorm:"not null;uniqueIndex:idx_bids_trip_driver"`
	DriverID         uint    `json:"driverId" gorm:"not null;uniqueIndex:idx_bids_trip_driver"`
	Amount           float64 `json:"amount" gorm:"not null"`
	EstimatedArrival *int    `json:"estimatedArrival,omitempty"` // minutes
	Note             string  `json:"note,omitempty" gorm:"size:200"`
	Status           string  `json:"status" gorm:"not null;default:'pending';index"`
}

// TableName specifies the table name
func (Bid) TableName() string {
	return "bids"
}
