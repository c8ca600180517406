package models

import (
	"time"

	"github.com/mailcove/mailcove/internal/utils"
	"gorm.io/gorm"
)

// Setting is a process-wide key/value pair (sync interval, page size).
type Setting struct {
	Key       string    `gorm:"column:key;type:varchar(100);primaryKey" json:"key"`
	Value     string    `gorm:"column:value;type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Setting) TableName() string {
	return "settings"
}

func (s *Setting) BeforeSave(tx *gorm.DB) error {
	s.UpdatedAt = utils.Now()
	return nil
}

const (
	SettingSyncIntervalMinutes = "sync_interval_minutes"
	SettingPageSize            = "page_size"
)
