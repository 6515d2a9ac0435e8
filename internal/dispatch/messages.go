package dispatch

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
)

// MessageService carries chat between a rider and a driver
type MessageService struct {
	*core
}

// Send stores a message and delivers it to the receiver. When tripID is set
// both users must be parties to that trip, and the message also reaches
// everyone who joined the trip's chat room.
func (s *MessageService) Send(ctx context.Context, sender *models.User, receiverID uint, content string, tripID *uint) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.InvalidInput("message content is required")
	}
	if utf8.RuneCountInString(content) > models.MaxMessageLength {
		return nil, apperr.InvalidInput("message cannot exceed 1000 characters")
	}
	if receiverID == 0 || receiverID == sender.ID {
		return nil, apperr.InvalidInput("invalid receiver")
	}

	if _, err := s.Store.FindUser(ctx, receiverID); err != nil {
		return nil, storeError(err, "receiver not found")
	}

	if tripID != nil {
		trip, err := s.findTrip(ctx, *tripID)
		if err != nil {
			return nil, err
		}
		if !isParty(trip, sender.ID) || !isParty(trip, receiverID) {
			return nil, apperr.Forbidden("both users must belong to the trip")
		}
	}

	msg := &models.Message{
		SenderID:   sender.ID,
		ReceiverID: receiverID,
		TripID:     tripID,
		Content:    content,
	}
	if err := s.Store.CreateMessage(ctx, msg); err != nil {
		return nil, apperr.Internal(err)
	}

	payload := NewMessage{
		Message: *msg,
		Sender:  MessageSender{ID: sender.ID, Name: sender.Name},
	}
	if tripID != nil {
		s.Notifier.ToRoomAndUser(services.TripRoom(*tripID), receiverID, EventNewMessage, payload)
	} else {
		s.Notifier.ToUser(receiverID, EventNewMessage, payload)
	}
	s.Log.WithField(logger.FieldUserID, sender.ID).WithField("receiver_id", receiverID).Debug("message sent")
	return msg, nil
}

// JoinTripChat returns the chat room of a trip the caller belongs to
func (s *MessageService) JoinTripChat(ctx context.Context, caller *models.User, tripID uint) (string, error) {
	trip, err := s.findTrip(ctx, tripID)
	if err != nil {
		return "", err
	}
	if !isParty(trip, caller.ID) {
		return "", apperr.Forbidden("you are not part of this trip")
	}
	return services.TripRoom(trip.ID), nil
}

func isParty(trip *models.Trip, userID uint) bool {
	return trip.RiderID == userID || trip.HasDriver(userID)
}

// Conversation returns the messages between caller and otherID, oldest first
func (s *MessageService) Conversation(ctx context.Context, caller *models.User, otherID uint) ([]models.Message, error) {
	if otherID == 0 || otherID == caller.ID {
		return nil, apperr.InvalidInput("invalid conversation partner")
	}
	messages, err := s.Store.ListConversation(ctx, caller.ID, otherID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return messages, nil
}

// MarkRead marks every message otherID sent to caller as read
func (s *MessageService) MarkRead(ctx context.Context, caller *models.User, otherID uint) (int64, error) {
	if otherID == 0 || otherID == caller.ID {
		return 0, apperr.InvalidInput("invalid conversation partner")
	}
	count, err := s.Store.MarkConversationRead(ctx, caller.ID, otherID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return count, nil
}
