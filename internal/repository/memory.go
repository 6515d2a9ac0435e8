package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"gorm.io/gorm"
)

// MemoryStore keeps everything in process behind one lock. Multi-record
// updates happen under the write lock, so readers never observe them half done.
type MemoryStore struct {
	mu       sync.RWMutex
	lastID   uint
	users    map[uint]*models.User
	emails   map[string]uint
	trips    map[uint]*models.Trip
	bids     map[uint]*models.Bid
	bidKeys  map[bidKey]uint
	messages []*models.Message
	now      func() time.Time
}

type bidKey struct {
	tripID   uint
	driverID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[uint]*models.User),
		emails:  make(map[string]uint),
		trips:   make(map[uint]*models.Trip),
		bids:    make(map[uint]*models.Bid),
		bidKeys: make(map[bidKey]uint),
		now:     time.Now,
	}
}

// stamp assigns the next id and timestamps; callers hold the write lock.
func (s *MemoryStore) stamp(m *gorm.Model) {
	s.lastID++
	now := s.now()
	m.ID = s.lastID
	m.CreatedAt = now
	m.UpdatedAt = now
}

func (s *MemoryStore) touch(m *gorm.Model) {
	m.UpdatedAt = s.now()
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.emails[email]; exists {
		return ErrDuplicate
	}

	user.ApplyDefaults()
	s.stamp(&user.Model)
	stored := *user
	s.users[user.ID] = &stored
	s.emails[email] = user.ID
	return nil
}

func (s *MemoryStore) FindUser(ctx context.Context, id uint) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *user
	return &found, nil
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.emails[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.FindUser(ctx, id)
}

func (s *MemoryStore) SetUserOnline(ctx context.Context, id uint, online bool) error {
	return s.updateUser(id, func(u *models.User) { u.IsOnline = online })
}

func (s *MemoryStore) UpdateUserLocation(ctx context.Context, id uint, lat, lng float64) error {
	return s.updateUser(id, func(u *models.User) {
		u.Latitude = lat
		u.Longitude = lng
	})
}

func (s *MemoryStore) UpdateFCMToken(ctx context.Context, id uint, token string) error {
	return s.updateUser(id, func(u *models.User) { u.FCMToken = token })
}

func (s *MemoryStore) updateUser(id uint, mutate func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	mutate(user)
	s.touch(&user.Model)
	return nil
}

func (s *MemoryStore) CreateTrip(ctx context.Context, trip *models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trip.Status == "" {
		trip.Status = models.TripStatusPending
	}
	if trip.PaymentMethod == "" {
		trip.PaymentMethod = models.PaymentMethodCash
	}
	s.stamp(&trip.Model)
	stored := *trip
	s.trips[trip.ID] = &stored
	return nil
}

func (s *MemoryStore) FindTrip(ctx context.Context, id uint) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripCopy(id)
}

func (s *MemoryStore) tripCopy(id uint) (*models.Trip, error) {
	trip, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *trip
	if trip.DriverID != nil {
		driverID := *trip.DriverID
		found.DriverID = &driverID
	}
	if trip.Rating != nil {
		rating := *trip.Rating
		found.Rating = &rating
	}
	return &found, nil
}

func (s *MemoryStore) AcceptTrip(ctx context.Context, params AcceptParams) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, ok := s.trips[params.TripID]
	if !ok || trip.Status != models.TripStatusPending {
		return nil, ErrStaleState
	}

	var winner *models.Bid
	if params.BidID != 0 {
		winner, ok = s.bids[params.BidID]
		if !ok || winner.TripID != params.TripID || winner.Status != models.BidStatusPending {
			return nil, ErrStaleState
		}
	}

	driverID := params.DriverID
	trip.Status = models.TripStatusAccepted
	trip.DriverID = &driverID
	trip.Price = params.Price
	s.touch(&trip.Model)

	if winner != nil {
		winner.Status = models.BidStatusAccepted
		s.touch(&winner.Model)
	}
	s.rejectPendingBids(params.TripID)

	return s.tripCopy(params.TripID)
}

func (s *MemoryStore) rejectPendingBids(tripID uint) {
	for _, bid := range s.bids {
		if bid.TripID == tripID && bid.Status == models.BidStatusPending {
			bid.Status = models.BidStatusRejected
			s.touch(&bid.Model)
		}
	}
}

func (s *MemoryStore) UpdateTripStatus(ctx context.Context, update StatusUpdate) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, ok := s.trips[update.TripID]
	if !ok || trip.Status != update.From {
		return nil, ErrStaleState
	}

	trip.Status = update.To
	if update.MarkPaid {
		trip.IsPaid = true
	}
	s.touch(&trip.Model)

	if update.To == models.TripStatusCancelled {
		s.rejectPendingBids(update.TripID)
	}

	return s.tripCopy(update.TripID)
}

func (s *MemoryStore) MarkTripPaid(ctx context.Context, tripID uint, details models.PaymentDetails) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, ok := s.trips[tripID]
	if !ok || trip.IsPaid {
		return nil, ErrStaleState
	}

	trip.IsPaid = true
	trip.PaymentDetails = details
	s.touch(&trip.Model)

	return s.tripCopy(tripID)
}

func (s *MemoryStore) RateTrip(ctx context.Context, tripID uint, rating int, review string) (*models.Trip, *models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trip, ok := s.trips[tripID]
	if !ok || trip.Status != models.TripStatusCompleted || trip.Rating != nil || trip.DriverID == nil {
		return nil, nil, ErrStaleState
	}
	driver, ok := s.users[*trip.DriverID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	trip.Rating = &rating
	trip.Review = review
	s.touch(&trip.Model)

	driver.ApplyRating(rating)
	s.touch(&driver.Model)

	updated, err := s.tripCopy(tripID)
	if err != nil {
		return nil, nil, err
	}
	driverCopy := *driver
	return updated, &driverCopy, nil
}

func (s *MemoryStore) CreateBid(ctx context.Context, bid *models.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bidKey{tripID: bid.TripID, driverID: bid.DriverID}
	if _, exists := s.bidKeys[key]; exists {
		return ErrDuplicate
	}

	if bid.Status == "" {
		bid.Status = models.BidStatusPending
	}
	s.stamp(&bid.Model)
	stored := *bid
	s.bids[bid.ID] = &stored
	s.bidKeys[key] = bid.ID
	return nil
}

func (s *MemoryStore) FindBid(ctx context.Context, id uint) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bid, ok := s.bids[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *bid
	return &found, nil
}

func (s *MemoryStore) ListBids(ctx context.Context, tripID uint, status string) ([]models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := make([]models.Bid, 0)
	for _, bid := range s.bids {
		if bid.TripID != tripID || (status != "" && bid.Status != status) {
			continue
		}
		bids = append(bids, *bid)
	}

	// ids are assigned in submission order
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount < bids[j].Amount
		}
		return bids[i].ID < bids[j].ID
	})
	return bids, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stamp(&msg.Model)
	stored := *msg
	s.messages = append(s.messages, &stored)
	return nil
}

func (s *MemoryStore) ListConversation(ctx context.Context, userID, otherID uint) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation := make([]models.Message, 0)
	for _, msg := range s.messages {
		if (msg.SenderID == userID && msg.ReceiverID == otherID) ||
			(msg.SenderID == otherID && msg.ReceiverID == userID) {
			conversation = append(conversation, *msg)
		}
	}
	return conversation, nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, readerID, otherID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, msg := range s.messages {
		if msg.SenderID == otherID && msg.ReceiverID == readerID && !msg.Read {
			msg.Read = true
			s.touch(&msg.Model)
			updated++
		}
	}
	return updated, nil
}
