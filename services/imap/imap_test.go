package imap

import (
	"testing"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
)

func TestXOAuth2InitialResponse(t *testing.T) {
	client := newXOAuth2Client("user@example.com", "ya29.token")

	mech, ir, err := client.Start()
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=user@example.com\x01auth=Bearer ya29.token\x01\x01", string(ir))

	next, err := client.Next([]byte(`{"status":"400"}`))
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestFolderKindFromSpecialUse(t *testing.T) {
	assert.Equal(t, enum.FolderKindSent, folderKind("Custom/Out", []string{goimap.SentAttr}))
	assert.Equal(t, enum.FolderKindDrafts, folderKind("Custom/Wip", []string{goimap.DraftsAttr}))
	assert.Equal(t, enum.FolderKindTrash, folderKind("Custom/Bin", []string{goimap.TrashAttr}))
	assert.Equal(t, enum.FolderKindSpam, folderKind("Custom/Junk", []string{goimap.JunkAttr}))
}

func TestFolderKindFromWellKnownNames(t *testing.T) {
	assert.Equal(t, enum.FolderKindInbox, folderKind("INBOX", nil))
	assert.Equal(t, enum.FolderKindInbox, folderKind("Inbox", nil))
	assert.Equal(t, enum.FolderKindSent, folderKind("Sent Items", nil))
	assert.Equal(t, enum.FolderKindTrash, folderKind("Deleted Items", nil))
	assert.Equal(t, enum.FolderKindCustom, folderKind("Receipts", nil))
}

func TestDisplayNameStripsHierarchy(t *testing.T) {
	assert.Equal(t, "Receipts", displayName("Work/Receipts", "/"))
	assert.Equal(t, "INBOX", displayName("INBOX", ""))
	assert.Equal(t, "Archive", displayName("Archive", "."))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(errors.New("read tcp: i/o timeout")))
	assert.True(t, isConnectionError(errors.New("unexpected EOF")))
	assert.True(t, isConnectionError(errors.New("write: broken pipe")))
	assert.True(t, isConnectionError(errors.New("dial tcp: connection refused")))
	assert.False(t, isConnectionError(nil))
	assert.False(t, isConnectionError(errors.New("NO [ALREADYEXISTS] Mailbox exists")))
}

func TestClassifyMapsTaxonomy(t *testing.T) {
	assert.NoError(t, classify("FETCH", nil))

	retryable := classify("FETCH", errors.New("connection reset by peer"))
	assert.True(t, coveerr.IsRetryable(retryable))

	protocol := classify("CREATE", errors.New("NO [ALREADYEXISTS] Mailbox exists"))
	assert.True(t, coveerr.IsProtocol(protocol))

	// Already classified errors pass through unchanged.
	assert.Equal(t, coveerr.ErrNotAuthenticated, classify("LOGIN", coveerr.ErrNotAuthenticated))
	wrapped := coveerr.Retryable(errors.New("temporary"))
	assert.Equal(t, wrapped, classify("FETCH", wrapped))
}

func TestHeaderRecordFromEnvelope(t *testing.T) {
	sent := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	msg := &goimap.Message{
		Uid:   99,
		Flags: []string{goimap.SeenFlag},
		Envelope: &goimap.Envelope{
			MessageId: "<abc@example.com>",
			Subject:   "Quarterly report",
			Date:      sent,
			From: []*goimap.Address{{
				PersonalName: "Ada Lovelace",
				MailboxName:  "ada",
				HostName:     "example.com",
			}},
			To: []*goimap.Address{{
				MailboxName: "team",
				HostName:    "example.com",
			}},
		},
	}

	record := headerRecord(msg)
	assert.Equal(t, uint32(99), record.UID)
	assert.Equal(t, "abc@example.com", record.MessageID)
	assert.Equal(t, "Quarterly report", record.Subject)
	assert.Equal(t, "ada@example.com", record.Sender)
	assert.Equal(t, "Ada Lovelace", record.SenderName)
	assert.Equal(t, []string{"team@example.com"}, record.ToAddresses)
	require.NotNil(t, record.SentAt)
	assert.Equal(t, sent, *record.SentAt)
	assert.Equal(t, []string{goimap.SeenFlag}, record.Flags)
}

func TestHasAttachmentParts(t *testing.T) {
	plain := &goimap.BodyStructure{MIMEType: "text", MIMESubType: "plain"}
	assert.False(t, hasAttachmentParts(plain))

	mixed := &goimap.BodyStructure{
		MIMEType:    "multipart",
		MIMESubType: "mixed",
		Parts: []*goimap.BodyStructure{
			plain,
			{MIMEType: "application", MIMESubType: "pdf", Disposition: "attachment"},
		},
	}
	assert.True(t, hasAttachmentParts(mixed))
}

func TestUidsAboveDropsSearchRangeEcho(t *testing.T) {
	// a UID range ending in * always matches the last message in the
	// mailbox, so a no-change pass echoes the watermark UID back
	assert.Empty(t, uidsAbove([]uint32{10}, 10))
	assert.Equal(t, []uint32{11, 12}, uidsAbove([]uint32{10, 11, 12}, 10))
	assert.Empty(t, uidsAbove(nil, 5))
	assert.Equal(t, []uint32{1, 2}, uidsAbove([]uint32{1, 2}, 0))
}
