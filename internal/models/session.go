package models

import (
	"time"
)

// Session represents a tracking session: one tracker authorized to
// publish location for one bus until the session expires or is ended.
type Session struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BusID     string    `gorm:"not null;index;type:varchar(8)" json:"busId"`
	Active    bool      `gorm:"not null;default:true;index" json:"active"`
	ExpiresAt time.Time `gorm:"not null" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LocationRecord is one persisted location sample for a session.
type LocationRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SessionID       string    `gorm:"not null;index;type:varchar(64)" json:"sessionId"`
	BusID           string    `gorm:"not null;index;type:varchar(8)" json:"busId"`
	Latitude        float64   `gorm:"not null" json:"latitude"`
	Longitude       float64   `gorm:"not null" json:"longitude"`
	Accuracy        float64   `gorm:"not null" json:"accuracy"`
	ClientTimestamp int64     `gorm:"not null" json:"clientTimestamp"`
	CreatedAt       time.Time `json:"createdAt"`
}
