package handlers

import (
	"net/http"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/dispatch"
	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/gin-gonic/gin"
)

// CoordinateInput is a point as clients send it. Lat and Lng are pointers so
// an absent field is told apart from zero.
type CoordinateInput struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

func (in *CoordinateInput) location(name string) (models.Location, error) {
	if in == nil || in.Lat == nil || in.Lng == nil {
		return models.Location{}, apperr.InvalidInput(name + " lat and lng are required")
	}
	point := utils.Point{Lat: *in.Lat, Lng: *in.Lng}
	if err := point.Validate(); err != nil {
		return models.Location{}, apperr.InvalidInput(name + " " + err.Error())
	}
	return models.Location{Lat: point.Lat, Lng: point.Lng, Address: in.Address}, nil
}

func (in *CoordinateInput) point(name string) (utils.Point, error) {
	loc, err := in.location(name)
	if err != nil {
		return utils.Point{}, err
	}
	return utils.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

type EstimateInput struct {
	Pickup       *CoordinateInput `json:"pickup" binding:"required"`
	Dropoff      *CoordinateInput `json:"dropoff" binding:"required"`
	VehicleClass string           `json:"vehicleClass" binding:"required"`
}

type RequestTripInput struct {
	Pickup        *CoordinateInput `json:"pickup" binding:"required"`
	Dropoff       *CoordinateInput `json:"dropoff" binding:"required"`
	VehicleClass  string           `json:"vehicleClass" binding:"required"`
	PaymentMethod string           `json:"paymentMethod"`
	Price         *float64         `json:"price"`
	Distance      *float64         `json:"distance"`
	Duration      *int             `json:"duration"`
}

type StatusInput struct {
	Status string `json:"status" binding:"required"`
}

type RateInput struct {
	Rating int    `json:"rating" binding:"required"`
	Review string `json:"review"`
}

type PayInput struct {
	PaymentDetails struct {
		SenderPhone string `json:"senderPhone"`
	} `json:"paymentDetails"`
}

func tripResponse(c *gin.Context, status int, trip *models.Trip) {
	c.JSON(status, gin.H{"message": "success", "trip": trip})
}

// EstimateFare prices a trip for one vehicle class
func EstimateFare(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input EstimateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		pickup, err := input.Pickup.point("pickup")
		if err != nil {
			respondError(c, err)
			return
		}
		dropoff, err := input.Dropoff.point("dropoff")
		if err != nil {
			respondError(c, err)
			return
		}

		estimate, err := trips.Estimate(&pickup, &dropoff, input.VehicleClass)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "success", "estimate": estimate})
	}
}

func RequestTrip(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input RequestTripInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		pickup, err := input.Pickup.location("pickup")
		if err != nil {
			respondError(c, err)
			return
		}
		dropoff, err := input.Dropoff.location("dropoff")
		if err != nil {
			respondError(c, err)
			return
		}

		trip, err := trips.Request(c.Request.Context(), middleware.CurrentUser(c), dispatch.RequestTripCommand{
			Pickup:        pickup,
			Dropoff:       dropoff,
			VehicleClass:  input.VehicleClass,
			PaymentMethod: input.PaymentMethod,
			Price:         input.Price,
			Distance:      input.Distance,
			Duration:      input.Duration,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusCreated, trip)
	}
}

func GetTrip(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		trip, err := trips.Get(c.Request.Context(), middleware.CurrentUser(c), tripID)
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusOK, trip)
	}
}

// AcceptTrip is the direct accept path for drivers
func AcceptTrip(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		trip, err := trips.Accept(c.Request.Context(), middleware.CurrentUser(c), tripID)
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusOK, trip)
	}
}

func UpdateTripStatus(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		var input StatusInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		trip, err := trips.Advance(c.Request.Context(), middleware.CurrentUser(c), tripID, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusOK, trip)
	}
}

func CancelTrip(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		trip, err := trips.Cancel(c.Request.Context(), middleware.CurrentUser(c), tripID)
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusOK, trip)
	}
}

func PayTrip(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		var input PayInput
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				bindError(c, err)
				return
			}
		}

		trip, err := trips.Pay(c.Request.Context(), middleware.CurrentUser(c), tripID, dispatch.PayCommand{
			SenderPhone: input.PaymentDetails.SenderPhone,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusOK, trip)
	}
}

func RateTrip(trips *dispatch.TripService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		var input RateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		trip, err := trips.Rate(c.Request.Context(), middleware.CurrentUser(c), tripID, input.Rating, input.Review)
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusOK, trip)
	}
}
