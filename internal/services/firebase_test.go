package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSender struct {
	sent []*messaging.Message
	err  error
}

func (s *fakeSender) Send(ctx context.Context, message *messaging.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, message)
	return "projects/test/messages/1", nil
}

type userMap map[uint]*models.User

func (m userMap) FindUser(ctx context.Context, id uint) (*models.User, error) {
	user, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return user, nil
}

func TestFCMPusherSendsToRegisteredToken(t *testing.T) {
	sender := &fakeSender{}
	users := userMap{1: {Model: gorm.Model{ID: 1}, FCMToken: "device-token"}}
	pusher := NewFCMPusher(sender, users, logger.Discard())

	err := pusher.PushToUser(context.Background(), 1, "tripAccepted", map[string]interface{}{"tripId": 3})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "device-token", msg.Token)
	assert.Equal(t, "Your trip was accepted", msg.Notification.Title)
	assert.Equal(t, "tripAccepted", msg.Data["type"])

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Data["payload"]), &payload))
	assert.Equal(t, float64(3), payload["tripId"])
}

func TestFCMPusherSkipsUsersWithoutToken(t *testing.T) {
	sender := &fakeSender{}
	users := userMap{1: {Model: gorm.Model{ID: 1}}}
	pusher := NewFCMPusher(sender, users, logger.Discard())

	require.NoError(t, pusher.PushToUser(context.Background(), 1, "newMessage", nil))
	assert.Empty(t, sender.sent)
}

func TestFCMPusherReportsFailures(t *testing.T) {
	users := userMap{1: {Model: gorm.Model{ID: 1}, FCMToken: "t"}}

	pusher := NewFCMPusher(&fakeSender{err: errors.New("unavailable")}, users, logger.Discard())
	assert.Error(t, pusher.PushToUser(context.Background(), 1, "newMessage", nil))
	assert.Error(t, pusher.PushToUser(context.Background(), 2, "newMessage", nil))
}
