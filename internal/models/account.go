package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailcove/mailcove/internal/enum"
	"github.com/mailcove/mailcove/internal/utils"
)

type Account struct {
	ID           string             `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	EmailAddress string             `gorm:"column:email_address;type:varchar(255);uniqueIndex;not null" json:"emailAddress"`
	DisplayName  string             `gorm:"column:display_name;type:varchar(255)" json:"displayName"`
	Provider     enum.EmailProvider `gorm:"column:provider;type:varchar(50);index;not null" json:"provider"`
	AuthKind     enum.AuthKind      `gorm:"column:auth_kind;type:varchar(50);not null" json:"authKind"`

	// IMAP configuration
	ImapServer   string             `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapUsername string             `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(50);not null;default:tls" json:"imapSecurity"`

	// SMTP configuration
	SmtpServer   string             `gorm:"column:smtp_server;type:varchar(255);not null" json:"smtpServer"`
	SmtpPort     int                `gorm:"column:smtp_port;not null" json:"smtpPort"`
	SmtpUsername string             `gorm:"column:smtp_username;type:varchar(255);not null" json:"smtpUsername"`
	SmtpSecurity enum.EmailSecurity `gorm:"column:smtp_security;type:varchar(50);not null;default:startTLS" json:"smtpSecurity"`

	// Password auth only. Crypto ciphertext, decrypted through the repository.
	PasswordEnc []byte `gorm:"column:password_enc;type:blob" json:"-"`

	IsDefault bool `gorm:"column:is_default;default:false" json:"isDefault"`

	// Status information
	LastSynced   *time.Time      `gorm:"column:last_synced;type:timestamp" json:"lastSynced"`
	SyncStatus   enum.SyncStatus `gorm:"column:sync_status;type:varchar(50);default:idle" json:"syncStatus"`
	ErrorMessage string          `gorm:"column:error_message;type:text" json:"errorMessage"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	a.CreatedAt = utils.Now()
	return nil
}
