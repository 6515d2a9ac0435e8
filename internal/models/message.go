package models

import "gorm.io/gorm"

const MaxMessageLength = 1000

// Message is a chat line between a rider and a driver
type Message struct {
	gorm.Model
	SenderID   uint   `json:"senderId" gorm:"not null;index"`
	ReceiverID uint   `json:"receiverId" gorm:"not null;index"`
	TripID     *uint  `json:"tripId,omitempty" gorm:"index"`
	Content    string `json:"content" gorm:"not null"`
	Read       bool   `json:"read" gorm:"column:is_read;not null;default:false"`
}

// TableName specifies the table name
func (Message) TableName() string {
	return "messages"
}
