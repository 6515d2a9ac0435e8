package dispatch

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/sirupsen/logrus"
)

// BiddingService runs the per-trip auction: drivers offer a price, the rider
// accepts exactly one offer and every other offer is rejected with it.
type BiddingService struct {
	*core
}

type BidCommand struct {
	Amount           float64
	EstimatedArrival *int
	Note             string
}

func (cmd BidCommand) validate() error {
	if cmd.Amount <= 0 {
		return apperr.InvalidInput("bid amount must be positive")
	}
	if cmd.EstimatedArrival != nil && *cmd.EstimatedArrival < 0 {
		return apperr.InvalidInput("estimated arrival cannot be negative")
	}
	if utf8.RuneCountInString(cmd.Note) > models.MaxBidNoteLength {
		return apperr.InvalidInput("note cannot exceed 200 characters")
	}
	return nil
}

// SubmitBid records driver's offer for a pending trip and shows it to the rider
func (s *BiddingService) SubmitBid(ctx context.Context, driver *models.User, tripID uint, cmd BidCommand) (*models.Bid, error) {
	if !driver.IsDriver() {
		return nil, apperr.Forbidden("only drivers can submit bids")
	}
	cmd.Note = strings.TrimSpace(cmd.Note)
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != models.TripStatusPending {
		return nil, apperr.Conflict("trip is no longer accepting bids")
	}

	bid := &models.Bid{
		TripID:           tripID,
		DriverID:         driver.ID,
		Amount:           cmd.Amount,
		EstimatedArrival: cmd.EstimatedArrival,
		Note:             cmd.Note,
		Status:           models.BidStatusPending,
	}
	if err := s.Store.CreateBid(ctx, bid); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("you have already bid on this trip")
		}
		return nil, storeError(err, "trip not found")
	}
	s.Metrics.RecordBidSubmitted()

	s.Notifier.ToUser(trip.RiderID, EventNewDriverBid, NewDriverBid{
		TripID: tripID,
		Bid:    *bid,
		Driver: s.driverSummary(driver, trip),
	})

	s.tripLog(tripID).WithFields(logrus.Fields{
		logger.FieldUserID: driver.ID,
		logger.FieldBidID:  bid.ID,
		"amount":           bid.Amount,
	}).Info("bid submitted")
	return bid, nil
}

// driverSummary prefers the live presence entry over the stored profile so the
// rider sees the driver's current position.
func (s *BiddingService) driverSummary(driver *models.User, trip *models.Trip) DriverSummary {
	summary := DriverSummary{
		ID:           driver.ID,
		Name:         driver.Name,
		Rating:       driver.AverageRating,
		RatingCount:  driver.RatingCount,
		VehicleClass: driver.VehicleClass,
	}
	if driver.Latitude != 0 || driver.Longitude != 0 {
		summary.Location = &utils.Point{Lat: driver.Latitude, Lng: driver.Longitude}
	}

	if presence, ok := s.Presence.Get(driver.ID); ok {
		summary.Rating = presence.Rating
		summary.RatingCount = presence.RatingCount
		if presence.Location != nil {
			summary.Location = presence.Location
		}
	}

	if summary.Location != nil {
		distance := utils.DistanceBetween(*summary.Location, utils.Point{Lat: trip.Pickup.Lat, Lng: trip.Pickup.Lng})
		eta := utils.CalculateETA(distance, 0)
		summary.ETA = &eta
	}
	return summary
}

// ListBids returns the pending offers on the rider's trip, cheapest first
func (s *BiddingService) ListBids(ctx context.Context, rider *models.User, tripID uint) ([]models.Bid, error) {
	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.RiderID != rider.ID {
		return nil, apperr.Forbidden("you can only view bids on your own trips")
	}

	bids, err := s.Store.ListBids(ctx, tripID, models.BidStatusPending)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return bids, nil
}

// AcceptBid assigns the bidding driver to the trip at the bid's amount. The
// trip, the winning bid and every losing bid change in one atomic write;
// concurrent accepts on the same trip see Conflict.
func (s *BiddingService) AcceptBid(ctx context.Context, rider *models.User, tripID, bidID uint) (*models.Trip, error) {
	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.RiderID != rider.ID {
		return nil, apperr.Forbidden("you can only accept bids on your own trips")
	}

	bid, err := s.Store.FindBid(ctx, bidID)
	if err != nil {
		return nil, storeError(err, "bid not found")
	}
	if bid.TripID != tripID {
		return nil, apperr.NotFound("bid not found")
	}
	if trip.Status != models.TripStatusPending || bid.Status != models.BidStatusPending {
		s.Metrics.RecordAcceptConflict()
		return nil, apperr.Conflict("trip is no longer accepting bids")
	}

	driver, err := s.Store.FindUser(ctx, bid.DriverID)
	if err != nil {
		return nil, storeError(err, "driver not found")
	}

	pending, err := s.Store.ListBids(ctx, tripID, models.BidStatusPending)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	accepted, err := s.Store.AcceptTrip(ctx, repository.AcceptParams{
		TripID:   tripID,
		DriverID: bid.DriverID,
		Price:    bid.Amount,
		BidID:    bid.ID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			s.Metrics.RecordAcceptConflict()
			return nil, apperr.Conflict("trip is no longer accepting bids")
		}
		return nil, storeError(err, "trip not found")
	}
	s.Metrics.RecordTripAccepted(services.AcceptPathBid)

	s.Notifier.ToUser(rider.ID, EventTripAccepted, s.acceptedPayload(accepted, driver))
	s.Notifier.ToUser(bid.DriverID, EventBidAccepted, BidDecision{TripID: tripID, BidID: bid.ID})
	s.rejectBidders(tripID, pending, bid.ID)
	s.notifyStatus(accepted)

	s.tripLog(tripID).WithFields(logrus.Fields{
		logger.FieldBidID:  bid.ID,
		logger.FieldUserID: bid.DriverID,
		"price":            bid.Amount,
	}).Info("bid accepted")
	return accepted, nil
}
