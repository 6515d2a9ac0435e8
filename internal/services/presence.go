package services

import (
	"context"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/logger"
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"github.com/chachabrian/mooveit-dispatch/pkg/utils"
	"github.com/sirupsen/logrus"
)

const mirrorTimeout = 2 * time.Second

// Handle is a live transport connection owned by one identity
type Handle interface {
	SessionID() string
}

// Presence is the registry's view of one identity
type Presence struct {
	UserID        uint         `json:"id"`
	Name          string       `json:"name"`
	Role          string       `json:"role"`
	VehicleClass  string       `json:"vehicleClass,omitempty"`
	Rating        float64      `json:"rating"`
	RatingCount   int          `json:"ratingCount"`
	Location      *utils.Point `json:"location,omitempty"`
	Online        bool         `json:"isOnline"`
	LastSeen      time.Time    `json:"lastSeen"`
	handle        Handle
}

// PresenceMirror receives driver presence changes for consumers outside this
// process and remembers the last known driver positions.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID uint, role string, online bool) error
	SetLocation(ctx context.Context, userID uint, point utils.Point) error
	GetLocation(ctx context.Context, userID uint) (utils.Point, bool, error)
}

// Registry tracks who is connected and where drivers are. The lock guards
// the map only; mirror writes happen after it is released.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint]*Presence
	mirror  PresenceMirror
	log     *logrus.Logger
	now     func() time.Time
}

func NewRegistry(mirror PresenceMirror, log *logrus.Logger) *Registry {
	return &Registry{
		entries: make(map[uint]*Presence),
		mirror:  mirror,
		log:     log,
		now:     time.Now,
	}
}

// Connect registers handle as the live connection of user, replacing any
// previous one, and marks the user online.
func (r *Registry) Connect(user *models.User, handle Handle) {
	var mirrored *utils.Point
	if user.IsDriver() {
		mirrored = r.mirroredLocation(user.ID)
	}

	r.mu.Lock()
	entry, ok := r.entries[user.ID]
	if !ok {
		entry = &Presence{UserID: user.ID}
		r.entries[user.ID] = entry
	}
	entry.Name = user.Name
	entry.Role = user.Role
	entry.VehicleClass = user.VehicleClass
	entry.Rating = user.AverageRating
	entry.RatingCount = user.RatingCount
	if entry.Location == nil && user.IsDriver() {
		switch {
		case mirrored != nil:
			entry.Location = mirrored
		case user.Latitude != 0 || user.Longitude != 0:
			entry.Location = &utils.Point{Lat: user.Latitude, Lng: user.Longitude}
		}
	}
	entry.Online = true
	entry.LastSeen = r.now()
	entry.handle = handle
	r.mu.Unlock()

	r.mirrorOnline(user.ID, user.Role, true)
}

// Disconnect clears the handle and marks the user offline, keeping the last
// location. It reports false when handle is no longer the current connection,
// which happens when a reconnect raced ahead of the old socket closing.
func (r *Registry) Disconnect(userID uint, handle Handle) bool {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok || entry.handle == nil || entry.handle.SessionID() != handle.SessionID() {
		r.mu.Unlock()
		return false
	}
	entry.handle = nil
	entry.Online = false
	entry.LastSeen = r.now()
	role := entry.Role
	r.mu.Unlock()

	r.mirrorOnline(userID, role, false)
	return true
}

// UpdateLocation records a driver's position. Non-drivers and unknown users
// are ignored and reported as false.
func (r *Registry) UpdateLocation(userID uint, point utils.Point) bool {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok || entry.Role != models.RoleDriver {
		r.mu.Unlock()
		return false
	}
	p := point
	entry.Location = &p
	entry.LastSeen = r.now()
	r.mu.Unlock()

	if r.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := r.mirror.SetLocation(ctx, userID, point); err != nil {
			r.log.WithError(err).WithField(logger.FieldUserID, userID).Warn("presence mirror: location update failed")
		}
	}
	return true
}

// UpdateRating refreshes the cached rating after a trip is rated
func (r *Registry) UpdateRating(userID uint, average float64, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[userID]; ok {
		entry.Rating = average
		entry.RatingCount = count
	}
}

// QueryOnlineDrivers lists connected drivers, optionally of one vehicle class
func (r *Registry) QueryOnlineDrivers(vehicleClass string) []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]Presence, 0)
	for _, entry := range r.entries {
		if entry.Role != models.RoleDriver || !entry.Online || entry.handle == nil {
			continue
		}
		if vehicleClass != "" && entry.VehicleClass != vehicleClass {
			continue
		}
		drivers = append(drivers, entry.snapshot())
	}
	return drivers
}

// HandleOf returns the live handle of a user, if connected
func (r *Registry) HandleOf(userID uint) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	if !ok || entry.handle == nil {
		return nil, false
	}
	return entry.handle, true
}

// Get returns a snapshot of a user's presence
func (r *Registry) Get(userID uint) (Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	if !ok {
		return Presence{}, false
	}
	return entry.snapshot(), true
}

func (p *Presence) snapshot() Presence {
	s := *p
	if p.Location != nil {
		loc := *p.Location
		s.Location = &loc
	}
	return s
}

// mirroredLocation returns the position another process last recorded for
// the driver, if the mirror still holds one.
func (r *Registry) mirroredLocation(userID uint) *utils.Point {
	if r.mirror == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	point, ok, err := r.mirror.GetLocation(ctx, userID)
	if err != nil {
		r.log.WithError(err).WithField(logger.FieldUserID, userID).Warn("presence mirror: location lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	return &point
}

// mirrorOnline forwards online changes of drivers; riders are not mirrored.
func (r *Registry) mirrorOnline(userID uint, role string, online bool) {
	if r.mirror == nil || role != models.RoleDriver {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.SetOnline(ctx, userID, role, online); err != nil {
		r.log.WithError(err).WithField(logger.FieldUserID, userID).Warn("presence mirror: online update failed")
	}
}
