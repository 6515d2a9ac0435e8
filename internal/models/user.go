package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	RoleRider  = "rider"
	RoleDriver = "driver"
)

// DefaultRating is the average a driver starts with before any trip is rated
const DefaultRating = 5.0

type User struct {
	gorm.Model
	Name          string  `json:"name" gorm:"column:name;not null"`
	Email         string  `json:"email" gorm:"column:email;unique;not null"`
	Password      string  `json:"-" gorm:"-"` // plaintext, only set while registering
	PasswordHash  string  `json:"-" gorm:"column:password_hash;not null"`
	PhoneNumber   string  `json:"phoneNumber,omitempty" gorm:"column:phone_number"`
	Role          string  `json:"role" gorm:"column:role;not null;index"`
	VehicleClass  string  `json:"vehicleClass,omitempty" gorm:"column:vehicle_class"`
	Latitude      float64 `json:"lat" gorm:"column:latitude;not null;default:0"`
	Longitude     float64 `json:"lng" gorm:"column:longitude;not null;default:0"`
	IsOnline      bool    `json:"isOnline" gorm:"column:is_online;not null;default:false"`
	AverageRating float64 `json:"rating" gorm:"column:average_rating;not null;default:5"`
	RatingCount   int     `json:"ratingCount" gorm:"column:rating_count;not null;default:0"`
	FCMToken      string  `json:"-" gorm:"column:fcm_token"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

func (u *User) IsDriver() bool {
	return u.Role == RoleDriver
}

func (u *User) IsRider() bool {
	return u.Role == RoleRider
}

// ApplyDefaults fills zero values that have a non-zero default
func (u *User) ApplyDefaults() {
	if u.AverageRating == 0 && u.RatingCount == 0 {
		u.AverageRating = DefaultRating
	}
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	u.ApplyDefaults()
	return nil
}

// ApplyRating folds one rating into the running average
func (u *User) ApplyRating(rating int) {
	total := u.AverageRating*float64(u.RatingCount) + float64(rating)
	u.RatingCount++
	u.AverageRating = total / float64(u.RatingCount)
}

func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	u.Password = ""
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}
