package model

import "time"

// DefaultDesignPayload payload stored when the caller sends none
const DefaultDesignPayload = "{}"

// Design user design model
type Design struct {
	ID          string    `gorm:"primaryKey;type:varchar(32);comment:design ID" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;index;comment:owner" json:"userId"`
	Name        string    `gorm:"type:varchar(200);not null;comment:design name" json:"name"`
	JSONPayload string    `gorm:"type:text;not null;comment:opaque design document" json:"jsonPayload"`
	CreatedAt   time.Time `gorm:"not null;comment:created at (UTC)" json:"createdAt"`
}

// TableName set name
func (Design) TableName() string {
	return "designs"
}
