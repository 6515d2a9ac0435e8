package handlers

import (
	"net/http"

	"github.com/chachabrian/mooveit-dispatch/internal/dispatch"
	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/gin-gonic/gin"
)

type BidInput struct {
	BidAmount        float64 `json:"bidAmount" binding:"required"`
	EstimatedArrival *int    `json:"estimatedArrival"`
	Message          string  `json:"message"`
}

func SubmitBid(bids *dispatch.BiddingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		var input BidInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		bid, err := bids.SubmitBid(c.Request.Context(), middleware.CurrentUser(c), tripID, dispatch.BidCommand{
			Amount:           input.BidAmount,
			EstimatedArrival: input.EstimatedArrival,
			Note:             input.Message,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "success", "bid": bid})
	}
}

func ListBids(bids *dispatch.BiddingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}

		list, err := bids.ListBids(c.Request.Context(), middleware.CurrentUser(c), tripID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "success", "results": len(list), "bids": list})
	}
}

func AcceptBid(bids *dispatch.BiddingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID, ok := idParam(c, "tripId")
		if !ok {
			return
		}
		bidID, ok := idParam(c, "bidId")
		if !ok {
			return
		}

		trip, err := bids.AcceptBid(c.Request.Context(), middleware.CurrentUser(c), tripID, bidID)
		if err != nil {
			respondError(c, err)
			return
		}

		tripResponse(c, http.StatusOK, trip)
	}
}
