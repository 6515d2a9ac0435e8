package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/apperr"
	"github.com/chachabrian/mooveit-dispatch/internal/dispatch"
	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/middleware"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/internal/repository"
	"github.com/chachabrian/mooveit-dispatch/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Inbound socket commands
const (
	CommandUpdateLocation   = "updateLocation"
	CommandRequestTrip      = "requestTrip"
	CommandTripAccepted     = "tripAccepted"
	CommandTripStatusUpdate = "tripStatusUpdate"
	CommandSubmitBid        = "submitBid"
	CommandSendMessage      = "sendMessage"
	CommandJoinChat         = "joinChat"
	CommandLeaveChat        = "leaveChat"
)

// Acknowledgements sent to the connection that changed its chat rooms
const (
	EventChatJoined = "chatJoined"
	EventChatLeft   = "chatLeft"
)

const commandTimeout = 10 * time.Second

type tripCommand struct {
	TripID uint `json:"tripId"`
}

type statusCommand struct {
	TripID uint   `json:"tripId"`
	Status string `json:"status"`
}

type bidCommand struct {
	TripID uint `json:"tripId"`
	Bid    struct {
		Amount           float64 `json:"amount"`
		EstimatedArrival *int    `json:"estimatedArrival"`
		Note             string  `json:"note"`
	} `json:"bid"`
}

type messageCommand struct {
	ReceiverID uint   `json:"receiverId"`
	Content    string `json:"content"`
	TripID     *uint  `json:"tripId"`
}

// SocketHandler upgrades authenticated requests and executes the commands
// clients send over their connection.
type SocketHandler struct {
	hub        *services.Hub
	registry   *services.Registry
	store      repository.Store
	dispatcher *dispatch.Dispatcher
	log        *logrus.Logger
	limit      rate.Limit
	burst      int
}

func NewSocketHandler(hub *services.Hub, registry *services.Registry, store repository.Store, dispatcher *dispatch.Dispatcher, log *logrus.Logger, ratePerSecond float64, burst int) *SocketHandler {
	return &SocketHandler{
		hub:        hub,
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
		log:        log,
		limit:      rate.Limit(ratePerSecond),
		burst:      burst,
	}
}

// Connect handles GET /api/ws. AuthMiddleware has already resolved the
// caller, so unauthenticated requests never reach the upgrade.
func (h *SocketHandler) Connect() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)

		conn, err := services.Upgrade(c.Writer, c.Request)
		if err != nil {
			h.log.WithError(err).WithField(logger.FieldUserID, user.ID).Warn("websocket upgrade failed")
			return
		}

		client := services.NewClient(h.hub, conn, user.ID, user.Role, user.VehicleClass, h.limit, h.burst)
		h.registry.Connect(user, client)
		h.setOnline(user.ID, true)
		client.Serve(h)
	}
}

func (h *SocketHandler) setOnline(userID uint, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := h.store.SetUserOnline(ctx, userID, online); err != nil {
		h.log.WithError(err).WithField(logger.FieldUserID, userID).Warn("failed to persist online status")
	}
}

// HandleDisconnect clears presence for the closed connection. Trips and bids
// are left as they are.
func (h *SocketHandler) HandleDisconnect(c *services.Client) {
	if h.registry.Disconnect(c.ID, c) {
		h.setOnline(c.ID, false)
	}
}

// HandleCommand runs one inbound frame. Failures are answered with an error
// frame to the sender only.
func (h *SocketHandler) HandleCommand(c *services.Client, msg services.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := h.execute(ctx, c, msg); err != nil {
		body := apperr.ToBody(err, exposeErrorDetail)
		if body.Kind == apperr.KindInternal {
			h.log.WithError(err).WithFields(logrus.Fields{logger.FieldUserID: c.ID, logger.FieldEvent: msg.Type}).Error("socket command failed")
		}
		c.SendEvent(services.EventError, body)
	}
}

func (h *SocketHandler) execute(ctx context.Context, c *services.Client, msg services.InboundMessage) error {
	switch msg.Type {
	case CommandUpdateLocation:
		return h.updateLocation(ctx, c, msg.Data)
	case CommandLeaveChat:
		var cmd tripCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		h.hub.Leave(services.TripRoom(cmd.TripID), c)
		c.SendEvent(EventChatLeft, cmd)
		return nil
	}

	user, err := h.store.FindUser(ctx, c.ID)
	if err != nil {
		return apperr.Unauthorized("user no longer exists")
	}

	switch msg.Type {
	case CommandRequestTrip:
		var cmd tripCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := h.dispatcher.Trips.Announce(ctx, user, cmd.TripID)
		return err

	case CommandTripAccepted:
		var cmd tripCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		return h.dispatcher.Trips.RelayAccepted(ctx, user, cmd.TripID)

	case CommandTripStatusUpdate:
		var cmd statusCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := h.dispatcher.Trips.Advance(ctx, user, cmd.TripID, cmd.Status)
		return err

	case CommandSubmitBid:
		var cmd bidCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := h.dispatcher.Bids.SubmitBid(ctx, user, cmd.TripID, dispatch.BidCommand{
			Amount:           cmd.Bid.Amount,
			EstimatedArrival: cmd.Bid.EstimatedArrival,
			Note:             cmd.Bid.Note,
		})
		return err

	case CommandJoinChat:
		var cmd tripCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		room, err := h.dispatcher.Messages.JoinTripChat(ctx, user, cmd.TripID)
		if err != nil {
			return err
		}
		h.hub.Join(room, c)
		c.SendEvent(EventChatJoined, cmd)
		return nil

	case CommandSendMessage:
		var cmd messageCommand
		if err := decode(msg.Data, &cmd); err != nil {
			return err
		}
		_, err := h.dispatcher.Messages.Send(ctx, user, cmd.ReceiverID, cmd.Content, cmd.TripID)
		return err

	default:
		return apperr.InvalidInput("unknown command " + msg.Type)
	}
}

// updateLocation records a driver's position and shares it with every other
// connection. Location updates from riders are ignored.
func (h *SocketHandler) updateLocation(ctx context.Context, c *services.Client, data json.RawMessage) error {
	if c.Role != models.RoleDriver {
		return nil
	}

	var input CoordinateInput
	if err := decode(data, &input); err != nil {
		return err
	}
	point, err := input.point("location")
	if err != nil {
		return err
	}

	if !h.registry.UpdateLocation(c.ID, point) {
		return nil
	}
	if err := h.store.UpdateUserLocation(ctx, c.ID, point.Lat, point.Lng); err != nil {
		h.log.WithError(err).WithField(logger.FieldUserID, c.ID).Warn("failed to persist driver location")
	}

	h.hub.Broadcast(dispatch.EventDriverLocationUpdate, dispatch.DriverLocationUpdate{DriverID: c.ID, Location: point}, c.ID)
	return nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return apperr.InvalidInput("missing command data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "malformed command data", err)
	}
	return nil
}
