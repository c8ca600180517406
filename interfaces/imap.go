package interfaces

import (
	"context"
	"time"

	"github.com/mailcove/mailcove/internal/enum"
)

// IMAPClient is one account's connection to its IMAP server. Implementations
// open lazily, verify a reused connection with NOOP and retry once after a
// dropped connection before giving up.
type IMAPClient interface {
	// ListFolders returns every mailbox on the server with special-use
	// detection mapped onto folder kinds.
	ListFolders(ctx context.Context) ([]FolderInfo, error)

	// FetchHeaders returns headers with UID strictly greater than sinceUID,
	// oldest first. sinceUID 0 means the folder was never synced: only the
	// most recent limit messages are returned.
	FetchHeaders(ctx context.Context, folder string, sinceUID uint32, limit int) ([]HeaderRecord, error)

	// FetchFlags returns the current flag sets for the given UIDs. UIDs the
	// server no longer knows are absent from the result.
	FetchFlags(ctx context.Context, folder string, uids []uint32) ([]FlagRecord, error)

	// FetchBody retrieves and MIME-parses one message body.
	FetchBody(ctx context.Context, folder string, uid uint32) (*BodyContent, error)

	// SetFlags replaces per-flag state on the server. No store command is
	// issued when the requested state already holds.
	SetFlags(ctx context.Context, folder string, uid uint32, flag string, set bool) error

	// Delete marks the message \Deleted and expunges the folder.
	Delete(ctx context.Context, folder string, uid uint32) error

	// Move copies the message to destFolder, deletes the original and returns
	// the UID assigned in the destination, or 0 when the server response did
	// not let it be resolved.
	Move(ctx context.Context, srcFolder string, uid uint32, destFolder string) (uint32, error)

	// Append uploads a composed message into folder (draft saving).
	Append(ctx context.Context, folder string, raw []byte, flags []string) error

	CreateFolder(ctx context.Context, path string) error
	RenameFolder(ctx context.Context, oldPath, newPath string) error
	DeleteFolder(ctx context.Context, path string) error

	// CloseIfIdle drops the connection when it has been unused past the
	// threshold.
	CloseIfIdle(threshold time.Duration)

	// Close logs out with a timeout and releases the connection.
	Close() error
}

type FolderInfo struct {
	ServerPath string
	Name       string
	Delimiter  string
	Kind       enum.FolderKind
}

type HeaderRecord struct {
	UID           uint32
	MessageID     string
	Subject       string
	Sender        string
	SenderName    string
	ToAddresses   []string
	CcAddresses   []string
	SentAt        *time.Time
	Flags         []string
	HasAttachment bool
}

type FlagRecord struct {
	UID   uint32
	Flags []string
}

type BodyContent struct {
	Text        string
	HTML        string
	Attachments []AttachmentInfo
}

type AttachmentInfo struct {
	Filename    string
	ContentType string
	ContentID   string
	Size        int
	IsInline    bool
	Data        []byte
}
