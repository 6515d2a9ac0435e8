package services

import (
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// NewMessagingClient initializes the Firebase Admin SDK and returns its
// Cloud Messaging client
func NewMessagingClient(ctx context.Context, serviceAccountPath string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return client, nil
}

// MessageSender is satisfied by *messaging.Client
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// UserFinder loads the push token of a user
type UserFinder interface {
	FindUser(ctx context.Context, id uint) (*models.User, error)
}

// NotificationPayload represents the notification data
type NotificationPayload struct {
	Title     string
	Body      string
	Data      map[string]string
	ChannelID string
}

// FCMPusher sends dispatch events as push notifications to users whose app
// is not connected
type FCMPusher struct {
	sender MessageSender
	users  UserFinder
	log    *logrus.Logger
}

func NewFCMPusher(sender MessageSender, users UserFinder, log *logrus.Logger) *FCMPusher {
	return &FCMPusher{sender: sender, users: users, log: log}
}

var pushTitles = map[string][2]string{
	"newTripRequest":   {"New trip request", "A rider near you is looking for a driver"},
	"newDriverBid":     {"New bid on your trip", "A driver made an offer for your trip"},
	"tripAccepted":     {"Your trip was accepted", "Your driver is on the way"},
	"bidAccepted":      {"Bid accepted", "The rider accepted your offer"},
	"tripStatusUpdate": {"Trip update", "Your trip status changed"},
	"newMessage":       {"New message", "You have a new message"},
}

// PushToUser sends event to the user's registered device. Users without a
// token are skipped silently.
func (p *FCMPusher) PushToUser(ctx context.Context, userID uint, event string, payload interface{}) error {
	user, err := p.users.FindUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load push token: %w", err)
	}
	if user.FCMToken == "" {
		return nil
	}

	notification, err := buildNotification(event, payload)
	if err != nil {
		return err
	}

	response, err := p.sender.Send(ctx, buildMessage(user.FCMToken, notification))
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}

	p.log.WithFields(logrus.Fields{logger.FieldUserID: userID, logger.FieldEvent: event, "response": response}).Debug("push notification sent")
	return nil
}

func buildNotification(event string, payload interface{}) (NotificationPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return NotificationPayload{}, fmt.Errorf("error marshaling push payload: %w", err)
	}

	text, ok := pushTitles[event]
	if !ok {
		text = [2]string{"MooveIt", "You have a new update"}
	}

	return NotificationPayload{
		Title:     text[0],
		Body:      text[1],
		Data:      map[string]string{"type": event, "payload": string(raw)},
		ChannelID: "mooveit_dispatch",
	}, nil
}

func buildMessage(token string, payload NotificationPayload) *messaging.Message {
	badge := 1
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data: payload.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:             payload.ChannelID,
				Sound:                 "default",
				DefaultSound:          true,
				Priority:              messaging.PriorityHigh,
				DefaultVibrateTimings: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:            "default",
					Badge:            &badge,
					ContentAvailable: true,
				},
			},
		},
	}
}
