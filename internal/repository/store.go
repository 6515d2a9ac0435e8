// Package repository persists identities, trips, bids and messages.
//
// Every state change on a trip is a compare-and-swap against the status the
// caller observed; a lost race surfaces as ErrStaleState and leaves the
// stored record untouched.
package repository

import (
	"context"
	"errors"

	"github.com/chachabrian/mooveit-dispatch/internal/models"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrStaleState = errors.New("record was modified concurrently")
	ErrDuplicate  = errors.New("record already exists")
)

// AcceptParams describes the winning side of an accept. BidID is zero for a
// direct accept, in which case every pending bid on the trip is rejected.
type AcceptParams struct {
	TripID   uint
	DriverID uint
	Price    float64
	BidID    uint
}

// StatusUpdate moves a trip From -> To. MarkPaid settles the trip in the same write.
type StatusUpdate struct {
	TripID   uint
	From     string
	To       string
	MarkPaid bool
}

type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUser(ctx context.Context, id uint) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetUserOnline(ctx context.Context, id uint, online bool) error
	UpdateUserLocation(ctx context.Context, id uint, lat, lng float64) error
	UpdateFCMToken(ctx context.Context, id uint, token string) error

	CreateTrip(ctx context.Context, trip *models.Trip) error
	FindTrip(ctx context.Context, id uint) (*models.Trip, error)
	AcceptTrip(ctx context.Context, params AcceptParams) (*models.Trip, error)
	UpdateTripStatus(ctx context.Context, update StatusUpdate) (*models.Trip, error)
	MarkTripPaid(ctx context.Context, tripID uint, details models.PaymentDetails) (*models.Trip, error)
	RateTrip(ctx context.Context, tripID uint, rating int, review string) (*models.Trip, *models.User, error)

	CreateBid(ctx context.Context, bid *models.Bid) error
	FindBid(ctx context.Context, id uint) (*models.Bid, error)
	ListBids(ctx context.Context, tripID uint, status string) ([]models.Bid, error)

	CreateMessage(ctx context.Context, msg *models.Message) error
	ListConversation(ctx context.Context, userID, otherID uint) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, readerID, otherID uint) (int64, error)
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
