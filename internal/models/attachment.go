package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailcove/mailcove/internal/utils"
)

type Attachment struct {
	ID          string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	MessageID   string `gorm:"column:message_id;type:varchar(50);index;not null" json:"messageId"`
	Filename    string `gorm:"column:filename;type:varchar(500)" json:"filename"`
	ContentType string `gorm:"column:content_type;type:varchar(255)" json:"contentType"`
	ContentID   string `gorm:"column:content_id;type:varchar(255)" json:"contentId"`
	Size        int    `gorm:"column:size;default:0" json:"size"`
	IsInline    bool   `gorm:"column:is_inline;default:false" json:"isInline"`

	// Key into the blob store; empty until the content is downloaded.
	StorageKey string `gorm:"column:storage_key;type:varchar(1000)" json:"storageKey"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Attachment) TableName() string {
	return "attachments"
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("atch", 12)
	}
	a.CreatedAt = utils.Now()
	return nil
}
