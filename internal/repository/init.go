package repository

import (
	"gorm.io/gorm"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/crypto"
	"github.com/mailcove/mailcove/internal/models"
)

type Repositories struct {
	AccountRepository    interfaces.AccountRepository
	FolderRepository     interfaces.FolderRepository
	MessageRepository    interfaces.MessageRepository
	AttachmentRepository interfaces.AttachmentRepository
	TokenRepository      interfaces.TokenRepository
	SettingRepository    interfaces.SettingRepository
}

func InitRepositories(db *gorm.DB, cipher *crypto.Cipher, attachmentStorage interfaces.BlobStorage) *Repositories {
	return &Repositories{
		AccountRepository:    NewAccountRepository(db, cipher),
		FolderRepository:     NewFolderRepository(db),
		MessageRepository:    NewMessageRepository(db, cipher),
		AttachmentRepository: NewAttachmentRepository(db, attachmentStorage),
		TokenRepository:      NewTokenRepository(db, cipher),
		SettingRepository:    NewSettingRepository(db),
	}
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Account{},
		&models.Folder{},
		&models.Message{},
		&models.Attachment{},
		&models.Token{},
		&models.Setting{},
	)
	if err != nil {
		return err
	}

	// Moved messages hold uid 0 until the server-assigned UID is known, so
	// the uniqueness constraint only covers resolved rows.
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_account_folder_uid
		 ON messages (account_id, folder_id, uid) WHERE uid > 0`,
	).Error
}
