package model

import "time"

// SchemaLock guards schema migrations across instances.
type SchemaLock struct {
	Key       string     `gorm:"type:varchar(50);primaryKey" json:"key"`
	Version   string     `gorm:"type:varchar(50)" json:"version"`
	Locked    bool       `gorm:"not null;default:false" json:"locked"`
	LockedBy  string     `gorm:"type:varchar(100)" json:"lockedBy"`
	LockedAt  *time.Time `json:"lockedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
