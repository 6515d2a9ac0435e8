package handlers

import (
	"net/http"

	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/gin-gonic/gin"
)

// GetProfile returns the caller's identity merged with their live presence
func GetProfile(registry *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)

		profile := userResponse(user)
		profile["phoneNumber"] = user.PhoneNumber
		profile["isOnline"] = false
		if user.IsDriver() && (user.Latitude != 0 || user.Longitude != 0) {
			profile["location"] = gin.H{"lat": user.Latitude, "lng": user.Longitude}
		}

		if presence, ok := registry.Get(user.ID); ok {
			profile["isOnline"] = presence.Online
			profile["lastSeen"] = presence.LastSeen
			profile["rating"] = presence.Rating
			profile["ratingCount"] = presence.RatingCount
			if presence.Location != nil {
				profile["location"] = presence.Location
			}
		}

		c.JSON(http.StatusOK, profile)
	}
}
