package interfaces

import (
	"context"

	"github.com/mailcove/mailcove/internal/enum"
	"github.com/mailcove/mailcove/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, emailAddress string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	// Delete removes the account and cascades to its folders, messages,
	// attachments and token in one transaction.
	Delete(ctx context.Context, id string) error
	SetDefault(ctx context.Context, id string) error
	SavePassword(ctx context.Context, id string, password string) error
	GetPassword(ctx context.Context, id string) (string, error)
	UpdateSyncStatus(ctx context.Context, id string, status enum.SyncStatus, errMessage string) error
}

type FolderRepository interface {
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	GetByPath(ctx context.Context, accountID, serverPath string) (*models.Folder, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error)
	// Upsert creates the folder when (accountID, serverPath) is unknown and
	// refreshes metadata otherwise.
	Upsert(ctx context.Context, folder *models.Folder) error
	Update(ctx context.Context, folder *models.Folder) error
	Rename(ctx context.Context, id string, newName, newServerPath string) error
	// Delete removes the folder and its messages in one transaction.
	Delete(ctx context.Context, id string) error
	// RecomputeCounts derives unread_count and total_count from cached rows.
	RecomputeCounts(ctx context.Context, folderID string) error
	SetSyncError(ctx context.Context, folderID string, errMessage string) error
}

type MessageRepository interface {
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByUID(ctx context.Context, accountID, folderID string, uid uint32) (*models.Message, error)
	ListByFolder(ctx context.Context, folderID string, limit, offset int) ([]*models.Message, int64, error)
	Search(ctx context.Context, accountID, query string, limit, offset int) ([]*models.Message, int64, error)
	Create(ctx context.Context, message *models.Message) error
	// ApplySyncBatch upserts one folder's header batch, applies flag
	// re-checks, recomputes the folder counters and advances the watermark
	// inside one transaction. Returns how many rows were created and updated.
	ApplySyncBatch(ctx context.Context, accountID, folderID string, headers []*models.Message, flags []FlagRecord, watermark uint32) (int, int, error)
	MarkRead(ctx context.Context, id string, read bool) error
	SetFlag(ctx context.Context, id string, flag string, set bool) error
	// MoveToFolder rebinds the cached row to the destination with uid 0 in
	// one transaction; SetUID records the server-assigned UID afterwards.
	MoveToFolder(ctx context.Context, id string, destFolderID string) error
	SetUID(ctx context.Context, id string, uid uint32) error
	Delete(ctx context.Context, id string) error
	MaxUID(ctx context.Context, folderID string) (uint32, error)
	// RecentUIDs returns the highest n cached UIDs for the bounded flag
	// re-check window, ascending.
	RecentUIDs(ctx context.Context, folderID string, n int) ([]uint32, error)
	SaveBody(ctx context.Context, id string, text, html string) error
	GetBody(ctx context.Context, id string) (text string, html string, err error)
}

type AttachmentRepository interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error)
	// Store encrypts and persists the content through the blob store.
	Store(ctx context.Context, attachment *models.Attachment, data []byte) error
	// GetData fetches and decrypts the stored content.
	GetData(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

type TokenRepository interface {
	// Save encrypts and upserts the account's bundle.
	Save(ctx context.Context, accountID string, bundle *models.TokenBundle) error
	// Get returns (nil, nil) when no bundle is stored and ErrDecryption when
	// the stored blob does not open under the current key.
	Get(ctx context.Context, accountID string) (*models.TokenBundle, error)
	Delete(ctx context.Context, accountID string) error
}

type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetInt(ctx context.Context, key string, fallback int) (int, error)
}
