package handlers

import (
	"net/http"

	"github.com/chachabrian/mooveit-dispatch/internal/dispatch"
	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/gin-gonic/gin"
)

func GetConversation(messages *dispatch.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		otherID, ok := idParam(c, "otherUserId")
		if !ok {
			return
		}

		list, err := messages.Conversation(c.Request.Context(), middleware.CurrentUser(c), otherID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "success", "results": len(list), "messages": list})
	}
}

func MarkConversationRead(messages *dispatch.MessageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		otherID, ok := idParam(c, "otherUserId")
		if !ok {
			return
		}

		count, err := messages.MarkRead(c.Request.Context(), middleware.CurrentUser(c), otherID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "success", "updated": count})
	}
}
