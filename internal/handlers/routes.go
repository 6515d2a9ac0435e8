package handlers

import (
	"net/http"

	"github.com/chachabrian/mooveit-dispatch/internal/dispatch"
	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/gin-gonic/gin"
)

// Router holds everything the HTTP surface needs
type Router struct {
	Store      repository.Store
	Dispatcher *dispatch.Dispatcher
	Registry   *services.Registry
	Hub        *services.Hub
	Auth       *middleware.Authenticator
	Socket     *SocketHandler
	Tokens     TokenIssuer
	Metrics    http.Handler
}

// Register mounts the API routes on r
func (rt *Router) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": rt.Hub.GetConnectedClients(),
		})
	})
	if rt.Metrics != nil {
		r.GET("/metrics", gin.WrapH(rt.Metrics))
	}

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", Register(rt.Store, rt.Tokens))
			auth.POST("/login", Login(rt.Store, rt.Tokens))
		}

		api.GET("/ws", rt.Auth.AuthMiddleware(), rt.Socket.Connect())

		protected := api.Group("/")
		protected.Use(rt.Auth.AuthMiddleware())
		{
			riderOnly := middleware.RequireRole(models.RoleRider)
			driverOnly := middleware.RequireRole(models.RoleDriver)

			trips := protected.Group("/trips")
			{
				trips.POST("/estimate", EstimateFare(rt.Dispatcher.Trips))
				trips.POST("/request", riderOnly, RequestTrip(rt.Dispatcher.Trips))
				trips.GET("/:tripId", GetTrip(rt.Dispatcher.Trips))
				trips.PATCH("/:tripId/accept", driverOnly, AcceptTrip(rt.Dispatcher.Trips))
				trips.PATCH("/:tripId/status", UpdateTripStatus(rt.Dispatcher.Trips))
				trips.POST("/:tripId/cancel", CancelTrip(rt.Dispatcher.Trips))
				trips.POST("/:tripId/pay", riderOnly, PayTrip(rt.Dispatcher.Trips))
				trips.POST("/:tripId/rate", riderOnly, RateTrip(rt.Dispatcher.Trips))

				trips.POST("/:tripId/bid", driverOnly, SubmitBid(rt.Dispatcher.Bids))
				trips.GET("/:tripId/bids", riderOnly, ListBids(rt.Dispatcher.Bids))
				trips.PATCH("/:tripId/bid/:bidId/accept", riderOnly, AcceptBid(rt.Dispatcher.Bids))
			}

			messages := protected.Group("/messages")
			{
				messages.GET("/:otherUserId", GetConversation(rt.Dispatcher.Messages))
				messages.PUT("/:otherUserId/read", MarkConversationRead(rt.Dispatcher.Messages))
			}

			notifications := protected.Group("/notifications")
			{
				notifications.POST("/register-token", RegisterFCMToken(rt.Store))
				notifications.DELETE("/remove-token", RemoveFCMToken(rt.Store))
			}

			users := protected.Group("/users")
			{
				users.GET("/profile", GetProfile(rt.Registry))
			}
		}
	}
}
