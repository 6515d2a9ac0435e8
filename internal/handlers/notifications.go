package handlers

import (
	"net/http"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/gin-gonic/gin"
)

// RegisterFCMToken registers or updates a user's FCM token
func RegisterFCMToken(store repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			FCMToken string `json:"fcmToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		user := middleware.CurrentUser(c)
		if err := store.UpdateFCMToken(c.Request.Context(), user.ID, input.FCMToken); err != nil {
			respondError(c, apperr.Internal(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "FCM token registered successfully"})
	}
}

// RemoveFCMToken stops push notifications for the caller
func RemoveFCMToken(store repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if err := store.UpdateFCMToken(c.Request.Context(), user.ID, ""); err != nil {
			respondError(c, apperr.Internal(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "FCM token removed successfully"})
	}
}
