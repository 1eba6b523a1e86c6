package model

import "time"

// AppSetting is one last-write-wins key/value entry.
type AppSetting struct {
	Key       string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
