package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBufferSize = 256
	pushTimeout    = 5 * time.Second
)

// EventError is the frame type used to answer a failed inbound command
const EventError = "error"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is the envelope of every outbound frame
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundMessage is an inbound frame whose payload is decoded by the command handler
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CommandHandler consumes inbound frames and connection teardown
type CommandHandler interface {
	HandleCommand(c *Client, msg InboundMessage)
	HandleDisconnect(c *Client)
}

// PushSender delivers a notification to a user with no open connection
type PushSender interface {
	PushToUser(ctx context.Context, userID uint, event string, payload interface{}) error
}

// UserRoom is the private routing group every connection of a user joins
func UserRoom(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// TripRoom is the chat group of a trip's rider and driver
func TripRoom(tripID uint) string {
	return fmt.Sprintf("trip:%d", tripID)
}

// Client represents a WebSocket client
type Client struct {
	ID           uint
	Role         string
	VehicleClass string
	Session      string
	Conn         *websocket.Conn
	Send         chan []byte
	Hub          *Hub

	limiter   *rate.Limiter
	closeOnce sync.Once
}

// NewClient creates a client with its outbound queue and inbound limiter.
// conn may be nil for clients that never touch the network.
func NewClient(hub *Hub, conn *websocket.Conn, userID uint, role, vehicleClass string, limit rate.Limit, burst int) *Client {
	return &Client{
		ID:           userID,
		Role:         role,
		VehicleClass: vehicleClass,
		Session:      uuid.NewString(),
		Conn:         conn,
		Send:         make(chan []byte, sendBufferSize),
		Hub:          hub,
		limiter:      rate.NewLimiter(limit, burst),
	}
}

func (c *Client) SessionID() string {
	return c.Session
}

// SendEvent queues a frame for this connection only
func (c *Client) SendEvent(event string, payload interface{}) bool {
	data, err := encodeFrame(event, payload)
	if err != nil {
		c.Hub.log.WithError(err).WithField(logger.FieldEvent, event).Error("failed to encode frame")
		return false
	}
	c.Hub.mutex.RLock()
	defer c.Hub.mutex.RUnlock()
	if _, ok := c.Hub.clients[c]; !ok {
		return false
	}
	return c.Hub.enqueue(c, data)
}

// Hub maintains the set of active clients and their routing groups. Sends
// only queue frames on client channels, so no lock is held across network I/O.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	mutex   sync.RWMutex

	pusher     PushSender
	pushEvents map[string]bool
	metrics    *Metrics
	log        *logrus.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(log *logrus.Logger, metrics *Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		metrics: metrics,
		log:     log,
	}
}

// SetPushSender enables push fallback for the listed events
func (h *Hub) SetPushSender(pusher PushSender, events ...string) {
	h.pusher = pusher
	h.pushEvents = make(map[string]bool, len(events))
	for _, event := range events {
		h.pushEvents[event] = true
	}
}

// Register adds a client and places it in its private room
func (h *Hub) Register(c *Client) {
	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.join(UserRoom(c.ID), c)
	h.mutex.Unlock()

	h.metrics.ClientConnected()
	h.log.WithFields(logrus.Fields{logger.FieldUserID: c.ID, logger.FieldSession: c.Session}).Info("client connected")
}

// Unregister removes a client from every room and closes its queue. It
// reports whether the client was still registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mutex.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		for room, members := range h.rooms {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		c.closeOnce.Do(func() { close(c.Send) })
	}
	h.mutex.Unlock()

	if ok {
		h.metrics.ClientDisconnected()
		h.log.WithFields(logrus.Fields{logger.FieldUserID: c.ID, logger.FieldSession: c.Session}).Info("client disconnected")
	}
	return ok
}

// Join adds a registered client to a room
func (h *Hub) Join(room string, c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; ok {
		h.join(room, c)
	}
}

func (h *Hub) join(room string, c *Client) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes a client from a room
func (h *Hub) Leave(room string, c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// ToUser sends an event to every connection of one user. When none is open
// and the event is push-enabled, a push notification is attempted instead.
func (h *Hub) ToUser(userID uint, event string, payload interface{}) bool {
	delivered := h.ToRoom(UserRoom(userID), event, payload) > 0
	if !delivered {
		h.pushFallback(userID, event, payload)
	}
	return delivered
}

// ToRoomAndUser sends an event to every member of room and to every
// connection of userID, queuing it once per connection. It reports whether
// userID was reached; if not, push fallback applies as in ToUser.
func (h *Hub) ToRoomAndUser(room string, userID uint, event string, payload interface{}) bool {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithField(logger.FieldEvent, event).Error("failed to encode frame")
		return false
	}

	h.mutex.RLock()
	delivered := false
	for client := range h.rooms[room] {
		if h.enqueue(client, data) && client.ID == userID {
			delivered = true
		}
	}
	for client := range h.rooms[UserRoom(userID)] {
		if _, joined := h.rooms[room][client]; joined {
			continue
		}
		if h.enqueue(client, data) {
			delivered = true
		}
	}
	h.mutex.RUnlock()

	if !delivered {
		h.pushFallback(userID, event, payload)
	}
	return delivered
}

func (h *Hub) pushFallback(userID uint, event string, payload interface{}) {
	if h.pusher == nil || !h.pushEvents[event] {
		return
	}
	h.metrics.RecordPushFallback()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := h.pusher.PushToUser(ctx, userID, event, payload); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{logger.FieldUserID: userID, logger.FieldEvent: event}).Warn("push fallback failed")
		}
	}()
}

// ToRoom sends an event to every member of a room and returns how many
// connections it was queued for.
func (h *Hub) ToRoom(room string, event string, payload interface{}) int {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithField(logger.FieldEvent, event).Error("failed to encode frame")
		return 0
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sent := 0
	for client := range h.rooms[room] {
		if h.enqueue(client, data) {
			sent++
		}
	}
	return sent
}

// Broadcast sends an event to every connection except those of exceptUserID
func (h *Hub) Broadcast(event string, payload interface{}, exceptUserID uint) int {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithField(logger.FieldEvent, event).Error("failed to encode frame")
		return 0
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sent := 0
	for client := range h.clients {
		if client.ID == exceptUserID {
			continue
		}
		if h.enqueue(client, data) {
			sent++
		}
	}
	return sent
}

// IsConnected reports whether a user has at least one open connection
func (h *Hub) IsConnected(userID uint) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[UserRoom(userID)]) > 0
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// enqueue never blocks; a full queue drops the frame. Callers hold h.mutex.
func (h *Hub) enqueue(c *Client, data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		h.metrics.RecordDropped()
		h.log.WithFields(logrus.Fields{logger.FieldUserID: c.ID, logger.FieldSession: c.Session}).Warn("client queue full, frame dropped")
		return false
	}
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(WebSocketMessage{Type: event, Data: payload})
}

// Upgrade switches an authenticated HTTP request to a websocket connection
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// Serve registers the client and starts its pumps. The handler sees every
// inbound frame and is told once when the connection ends.
func (c *Client) Serve(handler CommandHandler) {
	c.Hub.Register(c)

	go c.writePump()
	go c.readPump(handler)
}

// readPump pumps messages from the websocket connection to the command handler
func (c *Client) readPump(handler CommandHandler) {
	defer func() {
		c.Hub.Unregister(c)
		handler.HandleDisconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.WithError(err).WithField(logger.FieldUserID, c.ID).Warn("websocket read error")
			}
			break
		}

		if !c.limiter.Allow() {
			c.SendEvent(EventError, apperr.ToBody(apperr.InvalidInput("too many messages, slow down"), false))
			continue
		}

		var inbound InboundMessage
		if err := json.Unmarshal(message, &inbound); err != nil || inbound.Type == "" {
			c.SendEvent(EventError, apperr.ToBody(apperr.InvalidInput("malformed frame"), false))
			continue
		}

		handler.HandleCommand(c, inbound)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.log.WithError(err).WithField(logger.FieldUserID, c.ID).Warn("websocket write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
