package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/sirupsen/logrus"
)

// transitions lists the targets reachable through Advance or Cancel.
// pending -> accepted exists too but only through an accept.
var transitions = map[string]map[string]bool{
	models.TripStatusPending:  {models.TripStatusCancelled: true},
	models.TripStatusAccepted: {models.TripStatusStarted: true, models.TripStatusCancelled: true},
	models.TripStatusStarted:  {models.TripStatusCompleted: true},
}

func isTripStatus(status string) bool {
	switch status {
	case models.TripStatusPending, models.TripStatusAccepted, models.TripStatusStarted,
		models.TripStatusCompleted, models.TripStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a trip in from may move to to through Advance
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

type TripService struct {
	*core
}

// RequestTripCommand describes a new trip. Price, Distance and Duration are
// estimated when omitted.
type RequestTripCommand struct {
	Pickup        models.Location
	Dropoff       models.Location
	VehicleClass  string
	PaymentMethod string
	Price         *float64
	Distance      *float64
	Duration      *int
}

type PayCommand struct {
	SenderPhone string
}

// Estimate prices a trip without creating it
func (s *TripService) Estimate(pickup, dropoff *utils.Point, vehicleClass string) (utils.FareEstimate, error) {
	estimate, err := utils.EstimateFare(pickup, dropoff, vehicleClass)
	if err != nil {
		return utils.FareEstimate{}, apperr.Wrap(apperr.KindInvalidInput, err.Error(), err)
	}
	return estimate, nil
}

// Request creates a pending trip for rider and offers it to every online
// driver of its vehicle class.
func (s *TripService) Request(ctx context.Context, rider *models.User, cmd RequestTripCommand) (*models.Trip, error) {
	if !rider.IsRider() {
		return nil, apperr.Forbidden("only riders can request trips")
	}

	pickup := utils.Point{Lat: cmd.Pickup.Lat, Lng: cmd.Pickup.Lng}
	dropoff := utils.Point{Lat: cmd.Dropoff.Lat, Lng: cmd.Dropoff.Lng}
	estimate, err := s.Estimate(&pickup, &dropoff, cmd.VehicleClass)
	if err != nil {
		return nil, err
	}

	paymentMethod := cmd.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = models.PaymentMethodCash
	}
	if !models.IsPaymentMethod(paymentMethod) {
		return nil, apperr.InvalidInput("payment method must be cash or vodafone_cash")
	}

	trip := &models.Trip{
		RiderID:       rider.ID,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		VehicleClass:  cmd.VehicleClass,
		Status:        models.TripStatusPending,
		Price:         float64(estimate.Price),
		Distance:      estimate.Distance,
		Duration:      estimate.Duration,
		PaymentMethod: paymentMethod,
	}
	if cmd.Price != nil {
		if *cmd.Price <= 0 {
			return nil, apperr.InvalidInput("price must be positive")
		}
		trip.Price = *cmd.Price
	}
	if cmd.Distance != nil {
		if *cmd.Distance < 0 {
			return nil, apperr.InvalidInput("distance cannot be negative")
		}
		trip.Distance = *cmd.Distance
	}
	if cmd.Duration != nil {
		if *cmd.Duration < 0 {
			return nil, apperr.InvalidInput("duration cannot be negative")
		}
		trip.Duration = *cmd.Duration
	}

	if err := s.Store.CreateTrip(ctx, trip); err != nil {
		return nil, storeError(err, "trip not found")
	}
	s.Metrics.RecordTripRequested()

	offered := s.offer(trip, rider)
	s.tripLog(trip.ID).WithFields(logrus.Fields{
		logger.FieldUserID: rider.ID,
		"vehicle_class":    trip.VehicleClass,
		"drivers":          offered,
	}).Info("trip requested")

	return trip, nil
}

// Announce offers a still pending trip to the online drivers again and
// returns how many were reached.
func (s *TripService) Announce(ctx context.Context, rider *models.User, tripID uint) (int, error) {
	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return 0, err
	}
	if trip.RiderID != rider.ID {
		return 0, apperr.Forbidden("you can only announce your own trips")
	}
	if trip.Status != models.TripStatusPending {
		return 0, apperr.Conflict("trip is no longer pending")
	}
	return s.offer(trip, rider), nil
}

func (s *TripService) offer(trip *models.Trip, rider *models.User) int {
	request := NewTripRequest{
		TripID:       trip.ID,
		Pickup:       trip.Pickup,
		Dropoff:      trip.Dropoff,
		VehicleClass: trip.VehicleClass,
		Price:        trip.Price,
		Distance:     trip.Distance,
		Duration:     trip.Duration,
		RiderID:      rider.ID,
		RiderName:    rider.Name,
	}

	reached := 0
	for _, driver := range s.Presence.QueryOnlineDrivers(trip.VehicleClass) {
		if s.Notifier.ToUser(driver.UserID, EventNewTripRequest, request) {
			reached++
		}
	}
	return reached
}

// Accept assigns driver to a pending trip at its requested price. Every
// pending bid on the trip is rejected in the same write.
func (s *TripService) Accept(ctx context.Context, driver *models.User, tripID uint) (*models.Trip, error) {
	if !driver.IsDriver() {
		return nil, apperr.Forbidden("only drivers can accept trips")
	}

	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != models.TripStatusPending {
		s.Metrics.RecordAcceptConflict()
		return nil, apperr.Conflict("trip is no longer available")
	}

	pending, err := s.Store.ListBids(ctx, tripID, models.BidStatusPending)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	accepted, err := s.Store.AcceptTrip(ctx, repository.AcceptParams{
		TripID:   tripID,
		DriverID: driver.ID,
		Price:    trip.Price,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			s.Metrics.RecordAcceptConflict()
			return nil, apperr.Conflict("trip is no longer available")
		}
		return nil, storeError(err, "trip not found")
	}
	s.Metrics.RecordTripAccepted(services.AcceptPathDirect)

	s.Notifier.ToUser(accepted.RiderID, EventTripAccepted, s.acceptedPayload(accepted, driver))
	s.rejectBidders(tripID, pending, 0)
	s.notifyStatus(accepted)

	s.tripLog(tripID).WithField(logger.FieldUserID, driver.ID).Info("trip accepted directly")
	return accepted, nil
}

func (c *core) acceptedPayload(trip *models.Trip, driver *models.User) TripAccepted {
	return TripAccepted{
		TripID:       trip.ID,
		DriverID:     driver.ID,
		DriverName:   driver.Name,
		VehicleClass: driver.VehicleClass,
		Rating:       driver.AverageRating,
		Price:        trip.Price,
	}
}

// RelayAccepted lets the assigned driver push the rich acceptance payload to
// the rider again, for clients that missed it.
func (s *TripService) RelayAccepted(ctx context.Context, driver *models.User, tripID uint) error {
	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if !trip.HasDriver(driver.ID) {
		return apperr.Forbidden("you are not assigned to this trip")
	}
	if trip.Status != models.TripStatusAccepted {
		return apperr.Conflict("trip is not in accepted state")
	}
	s.Notifier.ToUser(trip.RiderID, EventTripAccepted, s.acceptedPayload(trip, driver))
	return nil
}

// Advance moves a trip along its lifecycle. Only the assigned driver may start
// or complete a trip; cancellation goes through Cancel.
func (s *TripService) Advance(ctx context.Context, actor *models.User, tripID uint, status string) (*models.Trip, error) {
	if !isTripStatus(status) {
		return nil, apperr.InvalidInput("unknown trip status")
	}
	switch status {
	case models.TripStatusCancelled:
		return s.Cancel(ctx, actor, tripID)
	case models.TripStatusAccepted:
		return nil, apperr.InvalidTransition("trips are accepted through accept or a bid")
	case models.TripStatusPending:
		return nil, apperr.InvalidTransition("a trip cannot return to pending")
	}

	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.HasDriver(actor.ID) {
		return nil, apperr.Forbidden("only the assigned driver can update this trip")
	}
	if !CanTransition(trip.Status, status) {
		return nil, apperr.InvalidTransition("cannot move trip from " + trip.Status + " to " + status)
	}

	updated, err := s.Store.UpdateTripStatus(ctx, repository.StatusUpdate{
		TripID:   tripID,
		From:     trip.Status,
		To:       status,
		MarkPaid: status == models.TripStatusCompleted && trip.PaymentMethod == models.PaymentMethodCash,
	})
	if err != nil {
		return nil, storeError(err, "trip not found")
	}

	s.notifyStatus(updated)
	s.tripLog(tripID).WithFields(logrus.Fields{logger.FieldUserID: actor.ID, "status": status}).Info("trip status updated")
	return updated, nil
}

// Cancel ends a trip before it starts. The rider may cancel a pending or
// accepted trip, the assigned driver an accepted one.
func (s *TripService) Cancel(ctx context.Context, actor *models.User, tripID uint) (*models.Trip, error) {
	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	isRider := trip.RiderID == actor.ID
	isDriver := trip.HasDriver(actor.ID)
	if !isRider && !isDriver {
		return nil, apperr.Forbidden("you cannot cancel this trip")
	}
	if !CanTransition(trip.Status, models.TripStatusCancelled) {
		return nil, apperr.InvalidTransition("trip can no longer be cancelled")
	}

	var pending []models.Bid
	if trip.Status == models.TripStatusPending {
		pending, err = s.Store.ListBids(ctx, tripID, models.BidStatusPending)
		if err != nil {
			return nil, apperr.Internal(err)
		}
	}

	cancelled, err := s.Store.UpdateTripStatus(ctx, repository.StatusUpdate{
		TripID: tripID,
		From:   trip.Status,
		To:     models.TripStatusCancelled,
	})
	if err != nil {
		return nil, storeError(err, "trip not found")
	}

	s.rejectBidders(tripID, pending, 0)
	s.notifyStatus(cancelled)
	s.tripLog(tripID).WithField(logger.FieldUserID, actor.ID).Info("trip cancelled")
	return cancelled, nil
}

// Rate records the rider's rating of a completed trip and folds it into the
// driver's average. A trip is rated at most once.
func (s *TripService) Rate(ctx context.Context, rider *models.User, tripID uint, rating int, review string) (*models.Trip, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.InvalidInput("rating must be between 1 and 5")
	}

	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.RiderID != rider.ID {
		return nil, apperr.Forbidden("you can only rate your own trips")
	}
	if trip.Status != models.TripStatusCompleted {
		return nil, apperr.Conflict("only completed trips can be rated")
	}
	if trip.Rating != nil {
		return nil, apperr.Conflict("trip has already been rated")
	}

	rated, driver, err := s.Store.RateTrip(ctx, tripID, rating, strings.TrimSpace(review))
	if err != nil {
		return nil, storeError(err, "trip not found")
	}
	s.Presence.UpdateRating(driver.ID, driver.AverageRating, driver.RatingCount)

	s.tripLog(tripID).WithFields(logrus.Fields{"driver_id": driver.ID, "rating": rating}).Info("trip rated")
	return rated, nil
}

// Receipt is archived after a successful payment
type Receipt struct {
	TripID        uint                  `json:"tripId"`
	RiderID       uint                  `json:"riderId"`
	DriverID      *uint                 `json:"driverId,omitempty"`
	Amount        float64               `json:"amount"`
	PaymentMethod string                `json:"paymentMethod"`
	Payment       models.PaymentDetails `json:"payment"`
	Pickup        models.Location       `json:"pickup"`
	Dropoff       models.Location       `json:"dropoff"`
	Distance      float64               `json:"distance"`
	PaidAt        time.Time             `json:"paidAt"`
}

// Pay settles a completed trip. Wallet payments go through the gateway first;
// a gateway failure leaves the trip unpaid.
func (s *TripService) Pay(ctx context.Context, rider *models.User, tripID uint, cmd PayCommand) (*models.Trip, error) {
	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.RiderID != rider.ID {
		return nil, apperr.Forbidden("you can only pay for your own trips")
	}
	if trip.Status != models.TripStatusCompleted {
		return nil, apperr.Conflict("only completed trips can be paid")
	}
	if trip.IsPaid {
		return nil, apperr.Conflict("trip has already been paid")
	}

	var details models.PaymentDetails
	if trip.PaymentMethod == models.PaymentMethodVodafoneCash {
		phone := strings.TrimSpace(cmd.SenderPhone)
		if phone == "" {
			return nil, apperr.InvalidInput("sender phone number is required for Vodafone Cash")
		}
		if s.Payments == nil {
			return nil, apperr.UpstreamFailure("payment gateway is not configured", nil)
		}

		result, err := s.Payments.ChargeWallet(ctx, services.WalletCharge{
			Amount:      trip.Price,
			SenderPhone: phone,
			PayerName:   rider.Name,
			PayerEmail:  rider.Email,
		})
		if err != nil {
			s.Metrics.RecordPaymentFailure()
			s.tripLog(tripID).WithError(err).Warn("wallet payment failed")
			return nil, apperr.UpstreamFailure("payment failed, please try again", err)
		}
		details = models.PaymentDetails{
			SenderPhone:   phone,
			OrderID:       result.OrderID,
			TransactionID: result.TransactionID,
		}
	}

	paid, err := s.Store.MarkTripPaid(ctx, tripID, details)
	if err != nil {
		return nil, storeError(err, "trip not found")
	}

	s.archiveReceipt(ctx, paid)
	s.tripLog(tripID).WithField("payment_method", paid.PaymentMethod).Info("trip paid")
	return paid, nil
}

func (s *TripService) archiveReceipt(ctx context.Context, trip *models.Trip) {
	if s.Receipts == nil {
		return
	}
	body, err := json.Marshal(Receipt{
		TripID:        trip.ID,
		RiderID:       trip.RiderID,
		DriverID:      trip.DriverID,
		Amount:        trip.Price,
		PaymentMethod: trip.PaymentMethod,
		Payment:       trip.PaymentDetails,
		Pickup:        trip.Pickup,
		Dropoff:       trip.Dropoff,
		Distance:      trip.Distance,
		PaidAt:        time.Now().UTC(),
	})
	if err != nil {
		s.tripLog(trip.ID).WithError(err).Error("failed to encode receipt")
		return
	}
	location, err := s.Receipts.SaveReceipt(ctx, trip.ID, body)
	if err != nil {
		s.tripLog(trip.ID).WithError(err).Warn("failed to archive receipt")
		return
	}
	s.tripLog(trip.ID).WithField("receipt", location).Debug("receipt archived")
}

// Get returns a trip to its rider or assigned driver
func (s *TripService) Get(ctx context.Context, caller *models.User, tripID uint) (*models.Trip, error) {
	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.RiderID != caller.ID && !trip.HasDriver(caller.ID) {
		return nil, apperr.Forbidden("you are not part of this trip")
	}
	return trip, nil
}
