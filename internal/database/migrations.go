package database

import (
	"github.com/chachabrian/mooveit-dispatch/internal/models"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Trip{},
		&models.Bid{},
		&models.Message{},
	)
	if err != nil {
		return err
	}

	constraints := []struct {
		table string
		name  string
		check string
	}{
		{"users", "users_role_check", "role IN ('rider', 'driver')"},
		{"trips", "trips_status_check", "status IN ('pending', 'accepted', 'started', 'completed', 'cancelled')"},
		{"trips", "trips_payment_method_check", "payment_method IN ('cash', 'vodafone_cash')"},
		{"trips", "trips_rating_check", "rating IS NULL OR (rating >= 1 AND rating <= 5)"},
		{"bids", "bids_status_check", "status IN ('pending', 'accepted', 'rejected')"},
		{"bids", "bids_amount_check", "amount > 0"},
	}

	for _, c := range constraints {
		if err := db.Exec("ALTER TABLE " + c.table + " DROP CONSTRAINT IF EXISTS " + c.name).Error; err != nil {
			return err
		}
		if err := db.Exec("ALTER TABLE " + c.table + " ADD CONSTRAINT " + c.name + " CHECK (" + c.check + ")").Error; err != nil {
			return err
		}
	}

	return nil
}
