package repository

import (
	"context"
	"errors"

	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"gorm.io/gorm"
)

// GormStore is the PostgreSQL-backed Store. The *gorm.DB must be opened with
// TranslateError so unique violations come back as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

func (s *GormStore) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) SetUserOnline(ctx context.Context, id uint, online bool) error {
	return s.updateUser(ctx, id, map[string]interface{}{"is_online": online})
}

func (s *GormStore) UpdateUserLocation(ctx context.Context, id uint, lat, lng float64) error {
	return s.updateUser(ctx, id, map[string]interface{}{"latitude": lat, "longitude": lng})
}

func (s *GormStore) UpdateFCMToken(ctx context.Context, id uint, token string) error {
	return s.updateUser(ctx, id, map[string]interface{}{"fcm_token": token})
}

func (s *GormStore) updateUser(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateTrip(ctx context.Context, trip *models.Trip) error {
	return translate(s.db.WithContext(ctx).Create(trip).Error)
}

func (s *GormStore) FindTrip(ctx context.Context, id uint) (*models.Trip, error) {
	return findTrip(s.db.WithContext(ctx), id)
}

func findTrip(db *gorm.DB, id uint) (*models.Trip, error) {
	var trip models.Trip
	if err := db.First(&trip, id).Error; err != nil {
		return nil, translate(err)
	}
	return &trip, nil
}

// AcceptTrip commits trip acceptance, the winning bid and the rejection of
// all other pending bids as one transaction.
func (s *GormStore) AcceptTrip(ctx context.Context, params AcceptParams) (*models.Trip, error) {
	var trip *models.Trip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Trip{}).
			Where("id = ? AND status = ?", params.TripID, models.TripStatusPending).
			Updates(map[string]interface{}{
				"status":    models.TripStatusAccepted,
				"driver_id": params.DriverID,
				"price":     params.Price,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrStaleState
		}

		if params.BidID != 0 {
			result = tx.Model(&models.Bid{}).
				Where("id = ? AND trip_id = ? AND status = ?", params.BidID, params.TripID, models.BidStatusPending).
				Update("status", models.BidStatusAccepted)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != 1 {
				return ErrStaleState
			}
		}

		if err := rejectPendingBids(tx, params.TripID); err != nil {
			return err
		}

		var err error
		trip, err = findTrip(tx, params.TripID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return trip, nil
}

func rejectPendingBids(tx *gorm.DB, tripID uint) error {
	return tx.Model(&models.Bid{}).
		Where("trip_id = ? AND status = ?", tripID, models.BidStatusPending).
		Update("status", models.BidStatusRejected).Error
}

func (s *GormStore) UpdateTripStatus(ctx context.Context, update StatusUpdate) (*models.Trip, error) {
	var trip *models.Trip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := map[string]interface{}{"status": update.To}
		if update.MarkPaid {
			fields["is_paid"] = true
		}

		result := tx.Model(&models.Trip{}).
			Where("id = ? AND status = ?", update.TripID, update.From).
			Updates(fields)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrStaleState
		}

		if update.To == models.TripStatusCancelled {
			if err := rejectPendingBids(tx, update.TripID); err != nil {
				return err
			}
		}

		var err error
		trip, err = findTrip(tx, update.TripID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return trip, nil
}

func (s *GormStore) MarkTripPaid(ctx context.Context, tripID uint, details models.PaymentDetails) (*models.Trip, error) {
	db := s.db.WithContext(ctx)
	result := db.Model(&models.Trip{}).
		Where("id = ? AND is_paid = ?", tripID, false).
		Updates(map[string]interface{}{
			"is_paid":                true,
			"payment_sender_phone":   details.SenderPhone,
			"payment_order_id":       details.OrderID,
			"payment_transaction_id": details.TransactionID,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected != 1 {
		return nil, ErrStaleState
	}
	return findTrip(db, tripID)
}

// RateTrip records the rider's rating once and folds it into the driver's
// running average in the same transaction.
func (s *GormStore) RateTrip(ctx context.Context, tripID uint, rating int, review string) (*models.Trip, *models.User, error) {
	var (
		trip   *models.Trip
		driver models.User
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Trip{}).
			Where("id = ? AND status = ? AND rating IS NULL", tripID, models.TripStatusCompleted).
			Updates(map[string]interface{}{"rating": rating, "review": review})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrStaleState
		}

		var err error
		trip, err = findTrip(tx, tripID)
		if err != nil {
			return err
		}
		if trip.DriverID == nil {
			return ErrStaleState
		}

		result = tx.Model(&models.User{}).
			Where("id = ?", *trip.DriverID).
			Updates(map[string]interface{}{
				"average_rating": gorm.Expr("(average_rating * rating_count + ?) / (rating_count + 1)", rating),
				"rating_count":   gorm.Expr("rating_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrNotFound
		}

		return translate(tx.First(&driver, *trip.DriverID).Error)
	})
	if err != nil {
		return nil, nil, err
	}
	return trip, &driver, nil
}

func (s *GormStore) CreateBid(ctx context.Context, bid *models.Bid) error {
	return translate(s.db.WithContext(ctx).Create(bid).Error)
}

func (s *GormStore) FindBid(ctx context.Context, id uint) (*models.Bid, error) {
	var bid models.Bid
	if err := s.db.WithContext(ctx).First(&bid, id).Error; err != nil {
		return nil, translate(err)
	}
	return &bid, nil
}

// ListBids returns bids for a trip, cheapest first, ties in submission order.
// An empty status lists bids in every status.
func (s *GormStore) ListBids(ctx context.Context, tripID uint, status string) ([]models.Bid, error) {
	query := s.db.WithContext(ctx).Where("trip_id = ?", tripID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var bids []models.Bid
	if err := query.Order("amount ASC, id ASC").Find(&bids).Error; err != nil {
		return nil, err
	}
	return bids, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	return translate(s.db.WithContext(ctx).Create(msg).Error)
}

func (s *GormStore) ListConversation(ctx context.Context, userID, otherID uint) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userID, otherID, otherID, userID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *GormStore) MarkConversationRead(ctx context.Context, readerID, otherID uint) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", otherID, readerID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}
