// Package dispatch coordinates trips between riders and drivers: requests,
// bidding, the status lifecycle, payment and chat. Every operation that
// changes a trip runs under that trip's lock and notifies the parties after
// the store has committed.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Outbound event names
const (
	EventNewTripRequest       = "newTripRequest"
	EventNewDriverBid         = "newDriverBid"
	EventTripAccepted         = "tripAccepted"
	EventBidAccepted          = "bidAccepted"
	EventBidRejected          = "bidRejected"
	EventTripStatusUpdate     = "tripStatusUpdate"
	EventNewMessage           = "newMessage"
	EventDriverLocationUpdate = "driverLocationUpdate"
)

// PushEvents are worth a push notification when the target has no open connection
var PushEvents = []string{
	EventNewTripRequest,
	EventNewDriverBid,
	EventTripAccepted,
	EventBidAccepted,
	EventTripStatusUpdate,
	EventNewMessage,
}

// Notifier routes events to connected users
type Notifier interface {
	ToUser(userID uint, event string, payload interface{}) bool
	ToRoomAndUser(room string, userID uint, event string, payload interface{}) bool
	Broadcast(event string, payload interface{}, exceptUserID uint) int
}

// PresenceView is the part of the presence registry dispatch reads
type PresenceView interface {
	QueryOnlineDrivers(vehicleClass string) []services.Presence
	Get(userID uint) (services.Presence, bool)
	UpdateRating(userID uint, average float64, count int)
}

// TripPublisher mirrors status changes to other processes
type TripPublisher interface {
	PublishTripUpdate(ctx context.Context, tripID uint, status string) error
}

// PaymentGateway charges mobile wallets
type PaymentGateway interface {
	ChargeWallet(ctx context.Context, charge services.WalletCharge) (services.PaymentResult, error)
}

type NewTripRequest struct {
	TripID       uint            `json:"tripId"`
	Pickup       models.Location `json:"pickup"`
	Dropoff      models.Location `json:"dropoff"`
	VehicleClass string          `json:"vehicleClass"`
	Price        float64         `json:"price"`
	Distance     float64         `json:"distance"`
	Duration     int             `json:"duration"`
	RiderID      uint            `json:"riderId"`
	RiderName    string          `json:"riderName"`
}

// DriverSummary is what a rider sees of a bidding driver
type DriverSummary struct {
	ID           uint         `json:"id"`
	Name         string       `json:"name"`
	Rating       float64      `json:"rating"`
	RatingCount  int          `json:"ratingCount"`
	VehicleClass string       `json:"vehicleClass"`
	Location     *utils.Point `json:"location,omitempty"`
	ETA          *int         `json:"eta,omitempty"` // minutes to pickup
}

type NewDriverBid struct {
	TripID uint          `json:"tripId"`
	Bid    models.Bid    `json:"bid"`
	Driver DriverSummary `json:"driver"`
}

type TripAccepted struct {
	TripID       uint    `json:"tripId"`
	DriverID     uint    `json:"driverId"`
	DriverName   string  `json:"driverName"`
	VehicleClass string  `json:"vehicleClass"`
	Rating       float64 `json:"rating"`
	Price        float64 `json:"price"`
}

type BidDecision struct {
	TripID uint `json:"tripId"`
	BidID  uint `json:"bidId"`
}

type TripStatusUpdate struct {
	TripID uint   `json:"tripId"`
	Status string `json:"status"`
}

type MessageSender struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type NewMessage struct {
	Message models.Message `json:"message"`
	Sender  MessageSender  `json:"sender"`
}

type DriverLocationUpdate struct {
	DriverID uint        `json:"driverId"`
	Location utils.Point `json:"location"`
}

// Deps are the collaborators shared by the dispatch services. Publisher,
// Payments, Receipts and Metrics are optional.
type Deps struct {
	Store     repository.Store
	Presence  PresenceView
	Notifier  Notifier
	Publisher TripPublisher
	Payments  PaymentGateway
	Receipts  services.ReceiptStorage
	Metrics   *services.Metrics
	Log       *logrus.Logger
}

// Dispatcher groups the services that share one set of trip locks
type Dispatcher struct {
	Trips    *TripService
	Bids     *BiddingService
	Messages *MessageService
}

func New(deps Deps) *Dispatcher {
	c := &core{Deps: deps, locks: NewTripLocks()}
	return &Dispatcher{
		Trips:    &TripService{core: c},
		Bids:     &BiddingService{core: c},
		Messages: &MessageService{core: c},
	}
}

const publishTimeout = 2 * time.Second

type core struct {
	Deps
	locks *TripLocks
}

func (c *core) findTrip(ctx context.Context, tripID uint) (*models.Trip, error) {
	trip, err := c.Store.FindTrip(ctx, tripID)
	if err != nil {
		return nil, storeError(err, "trip not found")
	}
	return trip, nil
}

// notifyStatus tells the rider and the assigned driver about a committed
// transition and mirrors it to the publisher.
func (c *core) notifyStatus(trip *models.Trip) {
	update := TripStatusUpdate{TripID: trip.ID, Status: trip.Status}
	c.Notifier.ToUser(trip.RiderID, EventTripStatusUpdate, update)
	if trip.DriverID != nil {
		c.Notifier.ToUser(*trip.DriverID, EventTripStatusUpdate, update)
	}
	c.Metrics.RecordTransition(trip.Status)

	if c.Publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.Publisher.PublishTripUpdate(ctx, trip.ID, trip.Status); err != nil {
			c.tripLog(trip.ID).WithError(err).Warn("failed to publish trip update")
		}
	}
}

// rejectBidders tells every driver of a rejected bid that the trip is gone
func (c *core) rejectBidders(tripID uint, bids []models.Bid, exceptBidID uint) {
	for _, bid := range bids {
		if bid.ID == exceptBidID {
			continue
		}
		c.Notifier.ToUser(bid.DriverID, EventBidRejected, BidDecision{TripID: tripID, BidID: bid.ID})
	}
}

func (c *core) tripLog(tripID uint) *logrus.Entry {
	return c.Log.WithField(logger.FieldTripID, tripID)
}

// storeError classifies a repository failure
func storeError(err error, notFound string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, repository.ErrStaleState):
		return apperr.Wrap(apperr.KindConflict, "trip was modified by another request", err)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Wrap(apperr.KindConflict, "record already exists", err)
	default:
		return apperr.Internal(err)
	}
}
