package models

import "gorm.io/gorm"

// TripStatus constants
const (
	TripStatusPending   = "pending"
	TripStatusAccepted  = "accepted"
	TripStatusStarted   = "started"
	TripStatusCompleted = "completed"
	TripStatusCancelled = "cancelled"
)

// Payment methods
const (
	PaymentMethodCash         = "cash"
	PaymentMethodVodafoneCash = "vodafone_cash"
)

type Location struct {
	Lat     float64 `json:"lat" gorm:"not null"`
	Lng     float64 `json:"lng" gorm:"not null"`
	Address string  `json:"address"`
}

type PaymentDetails struct {
	SenderPhone   string `json:"senderPhone,omitempty" gorm:"column:sender_phone"`
	OrderID       string `json:"orderId,omitempty" gorm:"column:order_id"`
	TransactionID string `json:"transactionId,omitempty" gorm:"column:transaction_id"`
}

// Trip is one ride from request to completion or cancellation.
// DriverID is set exactly when the trip has been accepted.
type Trip struct {
	gorm.Model
	RiderID        uint           `json:"riderId" gorm:"not null;index"`
	DriverID       *uint          `json:"driverId,omitempty" gorm:"index"`
	Pickup         Location       `json:"pickup" gorm:"embedded;embeddedPrefix:pickup_"`
	Dropoff        Location       `json:"dropoff" gorm:"embedded;embeddedPrefix:dropoff_"`
	VehicleClass   string         `json:"vehicleClass" gorm:"not null"`
	Status         string         `json:"status" gorm:"not null;default:'pending';index"` // pending, accepted, started, completed, cancelled
	Price          float64        `json:"price" gorm:"not null"`
	Distance       float64        `json:"distance"` // in kilometers
	Duration       int            `json:"duration"` // in minutes
	PaymentMethod  string         `json:"paymentMethod" gorm:"not null;default:'cash'"`
	IsPaid         bool           `json:"isPaid" gorm:"not null;default:false"`
	PaymentDetails PaymentDetails `json:"paymentDetails" gorm:"embedded;embeddedPrefix:payment_"`
	Rating         *int           `json:"rating,omitempty"`
	Review         string         `json:"review,omitempty"`
}

// TableName specifies the table name
func (Trip) TableName() string {
	return "trips"
}

// HasDriver reports whether uid is the assigned driver
func (t *Trip) HasDriver(uid uint) bool {
	return t.DriverID != nil && *t.DriverID == uid
}

func IsPaymentMethod(method string) bool {
	return method == PaymentMethodCash || method == PaymentMethodVodafoneCash
}
