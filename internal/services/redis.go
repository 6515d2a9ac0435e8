package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// Pub/sub channels other processes can subscribe to
const (
	ChannelDriverLocation = "driver:location:updates"
	ChannelTripUpdates    = "trip:updates"
)

const (
	locationTTL     = time.Hour
	onlineDriverSet = "drivers:online"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisPresenceMirror copies presence and trip events to Redis so that other
// processes (dashboards, a second dispatcher) can observe them. The in-memory
// registry stays authoritative.
type RedisPresenceMirror struct {
	client *redis.Client
}

func NewRedisPresenceMirror(client *redis.Client) *RedisPresenceMirror {
	return &RedisPresenceMirror{client: client}
}

func locationKey(driverID uint) string {
	return fmt.Sprintf("driver:location:%d", driverID)
}

func (m *RedisPresenceMirror) SetOnline(ctx context.Context, userID uint, role string, online bool) error {
	if role != models.RoleDriver {
		return nil
	}
	if online {
		return m.client.SAdd(ctx, onlineDriverSet, userID).Err()
	}
	return m.client.SRem(ctx, onlineDriverSet, userID).Err()
}

// SetLocation stores the driver's last position and publishes it
func (m *RedisPresenceMirror) SetLocation(ctx context.Context, driverID uint, point utils.Point) error {
	locationData := map[string]interface{}{
		"lat":     point.Lat,
		"lng":     point.Lng,
		"updated": time.Now().Unix(),
	}
	data, err := json.Marshal(locationData)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, locationKey(driverID), data, locationTTL).Err(); err != nil {
		return err
	}

	update, err := json.Marshal(map[string]interface{}{
		"driverId":  driverID,
		"location":  point,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, ChannelDriverLocation, update).Err()
}

// GetLocation reads back a driver's last mirrored position. A missing or
// expired entry is reported as not found rather than as an error.
func (m *RedisPresenceMirror) GetLocation(ctx context.Context, driverID uint) (utils.Point, bool, error) {
	data, err := m.client.Get(ctx, locationKey(driverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return utils.Point{}, false, nil
	}
	if err != nil {
		return utils.Point{}, false, err
	}

	var point utils.Point
	if err := json.Unmarshal(data, &point); err != nil {
		return utils.Point{}, false, err
	}
	return point, true, nil
}

// OnlineDrivers lists driver ids currently marked online
func (m *RedisPresenceMirror) OnlineDrivers(ctx context.Context) ([]string, error) {
	return m.client.SMembers(ctx, onlineDriverSet).Result()
}

// ResetOnline empties the online set left behind by a previous run of this
// process. Drivers are added back as they reconnect.
func (m *RedisPresenceMirror) ResetOnline(ctx context.Context) (int, error) {
	stale, err := m.OnlineDrivers(ctx)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(stale))
	for i, id := range stale {
		members[i] = id
	}
	if err := m.client.SRem(ctx, onlineDriverSet, members...).Err(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// PublishTripUpdate publishes a trip status change to Redis pub/sub
func (m *RedisPresenceMirror) PublishTripUpdate(ctx context.Context, tripID uint, status string) error {
	data, err := json.Marshal(map[string]interface{}{
		"tripId":    tripID,
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, ChannelTripUpdates, data).Err()
}
