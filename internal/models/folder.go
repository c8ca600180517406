package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailcove/mailcove/internal/enum"
	"github.com/mailcove/mailcove/internal/utils"
)

type Folder struct {
	ID         string          `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID  string          `gorm:"column:account_id;type:varchar(50);index:idx_folders_account_path,unique;not null" json:"accountId"`
	ServerPath string          `gorm:"column:server_path;type:varchar(500);index:idx_folders_account_path,unique;not null" json:"serverPath"`
	Name       string          `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Kind       enum.FolderKind `gorm:"column:kind;type:varchar(50);not null;default:custom" json:"kind"`
	Delimiter  string          `gorm:"column:delimiter;type:varchar(10)" json:"delimiter"`

	// Counters recomputed from cached rows after every sync transaction,
	// never copied from server STATUS responses.
	UnreadCount int `gorm:"column:unread_count;not null;default:0" json:"unreadCount"`
	TotalCount  int `gorm:"column:total_count;not null;default:0" json:"totalCount"`

	// Incremental fetch watermark: highest UID ever cached for this folder.
	LastSyncedUID uint32     `gorm:"column:last_synced_uid;not null;default:0" json:"lastSyncedUid"`
	LastSyncedAt  *time.Time `gorm:"column:last_synced_at;type:timestamp" json:"lastSyncedAt"`
	SyncError     string     `gorm:"column:sync_error;type:text" json:"syncError"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Folder) TableName() string {
	return "folders"
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = utils.GenerateNanoIDWithPrefix("fold", 16)
	}
	f.CreatedAt = utils.Now()
	return nil
}
