package sync

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailcove/mailcove/config"
	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/crypto"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/repository"
	"github.com/mailcove/mailcove/internal/utils"
)

// fakeIMAP is an in-memory IMAP server good enough for reconciliation tests.
type fakeIMAP struct {
	mu       sync.Mutex
	folders  []interfaces.FolderInfo
	messages map[string][]interfaces.HeaderRecord
	bodies   map[uint32]*interfaces.BodyContent

	listGate     chan struct{}
	fetchErr     map[string]error
	setFlagsErr  error
	moveResult   uint32
	setFlagCalls []string
	deleteCalls  []string
	moveCalls    []string
	closed       bool
}

func newFakeIMAP() *fakeIMAP {
	return &fakeIMAP{
		messages: map[string][]interfaces.HeaderRecord{},
		bodies:   map[uint32]*interfaces.BodyContent{},
		fetchErr: map[string]error{},
	}
}

func (f *fakeIMAP) addMessages(folder string, from, to uint32, read bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for uid := from; uid <= to; uid++ {
		sent := time.Now().UTC().Add(-time.Duration(to-uid) * time.Minute)
		flags := []string{}
		if read {
			flags = append(flags, "\\Seen")
		}
		f.messages[folder] = append(f.messages[folder], interfaces.HeaderRecord{
			UID:       uid,
			MessageID: fmt.Sprintf("msg-%d@example.com", uid),
			Subject:   fmt.Sprintf("message %d", uid),
			Sender:    "sender@example.com",
			SentAt:    &sent,
			Flags:     flags,
		})
	}
}

func (f *fakeIMAP) setFlagsOn(folder string, uid uint32, flags []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.messages[folder]
	for i := range records {
		if records[i].UID == uid {
			records[i].Flags = flags
		}
	}
}

func (f *fakeIMAP) ListFolders(ctx context.Context) ([]interfaces.FolderInfo, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.FolderInfo(nil), f.folders...), nil
}

func (f *fakeIMAP) FetchHeaders(ctx context.Context, folder string, sinceUID uint32, limit int) ([]interfaces.HeaderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[folder]; err != nil {
		return nil, err
	}

	all := f.messages[folder]
	if sinceUID == 0 {
		if len(all) > limit {
			all = all[len(all)-limit:]
		}
		return append([]interfaces.HeaderRecord(nil), all...), nil
	}

	var out []interfaces.HeaderRecord
	for _, record := range all {
		if record.UID > sinceUID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeIMAP) FetchFlags(ctx context.Context, folder string, uids []uint32) ([]interfaces.FlagRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[uint32]bool{}
	for _, uid := range uids {
		wanted[uid] = true
	}
	var out []interfaces.FlagRecord
	for _, record := range f.messages[folder] {
		if wanted[record.UID] {
			out = append(out, interfaces.FlagRecord{UID: record.UID, Flags: record.Flags})
		}
	}
	return out, nil
}

func (f *fakeIMAP) FetchBody(ctx context.Context, folder string, uid uint32) (*interfaces.BodyContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[uid]
	if !ok {
		return nil, coveerr.ErrMessageNotFound
	}
	return body, nil
}

func (f *fakeIMAP) SetFlags(ctx context.Context, folder string, uid uint32, flag string, set bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setFlagsErr != nil {
		return f.setFlagsErr
	}
	f.setFlagCalls = append(f.setFlagCalls, fmt.Sprintf("%s/%d/%s/%v", folder, uid, flag, set))
	return nil
}

func (f *fakeIMAP) Delete(ctx context.Context, folder string, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, fmt.Sprintf("%s/%d", folder, uid))
	return nil
}

func (f *fakeIMAP) Move(ctx context.Context, srcFolder string, uid uint32, destFolder string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveCalls = append(f.moveCalls, fmt.Sprintf("%s/%d/%s", srcFolder, uid, destFolder))
	return f.moveResult, nil
}

func (f *fakeIMAP) Append(ctx context.Context, folder string, raw []byte, flags []string) error {
	return nil
}

func (f *fakeIMAP) CreateFolder(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, interfaces.FolderInfo{
		ServerPath: path,
		Name:       path,
		Delimiter:  "/",
		Kind:       enum.FolderKindCustom,
	})
	return nil
}

func (f *fakeIMAP) RenameFolder(ctx context.Context, oldPath, newPath string) error { return nil }
func (f *fakeIMAP) DeleteFolder(ctx context.Context, path string) error            { return nil }
func (f *fakeIMAP) CloseIfIdle(threshold time.Duration)                            {}

func (f *fakeIMAP) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeSMTP struct {
	mu      sync.Mutex
	sendErr error
	sent    []*interfaces.OutgoingMessage
}

func (f *fakeSMTP) Send(ctx context.Context, message *interfaces.OutgoingMessage, attachments []interfaces.OutgoingAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, message)
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	started   []string
	completed []interfaces.SyncCounts
	failed    []string
	sendFails []string
}

func (n *recordingNotifier) SyncStarted(accountID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, accountID)
}

func (n *recordingNotifier) SyncCompleted(accountID string, counts interfaces.SyncCounts) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, counts)
}

func (n *recordingNotifier) SyncFailed(accountID string, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, reason)
}

func (n *recordingNotifier) SendFailed(accountID string, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendFails = append(n.sendFails, reason)
}

type memoryBlobStorage struct {
	blobs map[string][]byte
}

func (s *memoryBlobStorage) Upload(ctx context.Context, key string, data []byte) error {
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *memoryBlobStorage) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.blobs[key]
	if !ok {
		return nil, coveerr.ErrMessageNotFound
	}
	return data, nil
}

func (s *memoryBlobStorage) Delete(ctx context.Context, key string) error {
	delete(s.blobs, key)
	return nil
}

func syncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		IntervalMinutes:    5,
		PageSize:           50,
		InboxInitialLimit:  100,
		FolderInitialLimit: 50,
		FlagRecheckWindow:  50,
	}
}

func setupEngine(t *testing.T) (*Engine, *repository.Repositories, *fakeIMAP, *fakeSMTP, *recordingNotifier) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	cipher, err := crypto.NewCipher(bytes.Repeat([]byte{0x22}, crypto.KeySize))
	require.NoError(t, err)

	repos := repository.InitRepositories(db, cipher, &memoryBlobStorage{blobs: map[string][]byte{}})

	imapFake := newFakeIMAP()
	smtpFake := &fakeSMTP{}
	notifier := &recordingNotifier{}

	log := logger.NewAppLogger(&logger.Config{LogLevel: "error", DevMode: true})
	log.InitLogger()

	engine := NewEngine(repos, syncConfig(), notifier, log,
		func(account *models.Account) interfaces.IMAPClient { return imapFake },
		func(account *models.Account) interfaces.SMTPClient { return smtpFake },
	)
	return engine, repos, imapFake, smtpFake, notifier
}

func seedAccount(t *testing.T, repos *repository.Repositories) *models.Account {
	t.Helper()
	account := &models.Account{
		EmailAddress: "user@example.com",
		DisplayName:  "User Example",
		Provider:     enum.EmailProviderCustom,
		AuthKind:     enum.AuthKindPassword,
		ImapServer:   "imap.example.com",
		ImapPort:     993,
		ImapUsername: "user@example.com",
		SmtpServer:   "smtp.example.com",
		SmtpPort:     587,
		SmtpUsername: "user@example.com",
	}
	require.NoError(t, repos.AccountRepository.Create(context.Background(), account))
	return account
}

func inboxOnly() []interfaces.FolderInfo {
	return []interfaces.FolderInfo{
		{ServerPath: "INBOX", Name: "INBOX", Delimiter: "/", Kind: enum.FolderKindInbox},
	}
}

func TestEmptyInboxSyncsToEmptyCache(t *testing.T) {
	engine, repos, imapFake, _, notifier := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = inboxOnly()

	require.NoError(t, engine.SyncAccount(ctx, account))

	inbox, err := repos.FolderRepository.GetByPath(ctx, account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 0, inbox.TotalCount)
	assert.Equal(t, 0, inbox.UnreadCount)
	assert.Equal(t, uint32(0), inbox.LastSyncedUID)

	require.Len(t, notifier.completed, 1)
	assert.Equal(t, 0, notifier.completed[0].MessagesNew)
}

func TestInitialSyncCachesRecentInboxWindow(t *testing.T) {
	engine, repos, imapFake, _, notifier := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = inboxOnly()
	imapFake.addMessages("INBOX", 1, 120, false)

	require.NoError(t, engine.SyncAccount(ctx, account))

	inbox, err := repos.FolderRepository.GetByPath(ctx, account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, enum.FolderKindInbox, inbox.Kind)
	assert.Equal(t, 100, inbox.TotalCount)
	assert.Equal(t, 100, inbox.UnreadCount)
	assert.Equal(t, uint32(120), inbox.LastSyncedUID)

	// only the most recent 100 of 120 were cached
	maxUID, err := repos.MessageRepository.MaxUID(ctx, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(120), maxUID)
	_, err = repos.MessageRepository.GetByUID(ctx, account.ID, inbox.ID, 20)
	assert.ErrorIs(t, err, coveerr.ErrMessageNotFound)

	require.Len(t, notifier.started, 1)
	require.Len(t, notifier.completed, 1)
	assert.Equal(t, 100, notifier.completed[0].MessagesNew)
	assert.Equal(t, 1, notifier.completed[0].FoldersSynced)

	refreshed, err := repos.AccountRepository.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncStatusIdle, refreshed.SyncStatus)
	assert.NotNil(t, refreshed.LastSynced)
}

func TestIncrementalSyncFetchesOnlyAboveWatermark(t *testing.T) {
	engine, repos, imapFake, _, notifier := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = inboxOnly()
	imapFake.addMessages("INBOX", 1, 10, true)
	require.NoError(t, engine.SyncAccount(ctx, account))

	imapFake.addMessages("INBOX", 11, 15, false)
	require.NoError(t, engine.SyncAccount(ctx, account))

	inbox, err := repos.FolderRepository.GetByPath(ctx, account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 15, inbox.TotalCount)
	assert.Equal(t, 5, inbox.UnreadCount)
	assert.Equal(t, uint32(15), inbox.LastSyncedUID)

	require.Len(t, notifier.completed, 2)
	assert.Equal(t, 5, notifier.completed[1].MessagesNew)
}

func TestSecondPassWithoutChangesIsIdempotent(t *testing.T) {
	engine, repos, imapFake, _, notifier := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = inboxOnly()
	imapFake.addMessages("INBOX", 1, 8, false)

	require.NoError(t, engine.SyncAccount(ctx, account))
	require.NoError(t, engine.SyncAccount(ctx, account))

	inbox, err := repos.FolderRepository.GetByPath(ctx, account.ID, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 8, inbox.TotalCount)

	require.Len(t, notifier.completed, 2)
	assert.Equal(t, 0, notifier.completed[1].MessagesNew)
}

func TestFlagRecheckAdoptsServerState(t *testing.T) {
	engine, repos, imapFake, _, _ := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = inboxOnly()
	imapFake.addMessages("INBOX", 1, 5, false)
	require.NoError(t, engine.SyncAccount(ctx, account))

	// message 3 read and starred in another client
	imapFake.setFlagsOn("INBOX", 3, []string{"\\Seen", "\\Flagged"})
	require.NoError(t, engine.SyncAccount(ctx, account))

	inbox, err := repos.FolderRepository.GetByPath(ctx, account.ID, "INBOX")
	require.NoError(t, err)
	message, err := repos.MessageRepository.GetByUID(ctx, account.ID, inbox.ID, 3)
	require.NoError(t, err)
	assert.True(t, message.IsRead)
	assert.True(t, message.IsStarred())
	assert.Equal(t, 4, inbox.UnreadCount)
}

func TestFolderFailureDoesNotAbortSiblings(t *testing.T) {
	engine, repos, imapFake, _, notifier := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = []interfaces.FolderInfo{
		{ServerPath: "INBOX", Name: "INBOX", Delimiter: "/", Kind: enum.FolderKindInbox},
		{ServerPath: "Broken", Name: "Broken", Delimiter: "/", Kind: enum.FolderKindCustom},
		{ServerPath: "Archive", Name: "Archive", Delimiter: "/", Kind: enum.FolderKindCustom},
	}
	imapFake.addMessages("INBOX", 1, 3, false)
	imapFake.addMessages("Archive", 1, 2, true)
	imapFake.fetchErr["Broken"] = coveerr.Protocol("SELECT", "mailbox unavailable")

	require.NoError(t, engine.SyncAccount(ctx, account))

	require.Len(t, notifier.completed, 1)
	assert.Equal(t, 2, notifier.completed[0].FoldersSynced)
	assert.Equal(t, 1, notifier.completed[0].FoldersFailed)
	assert.Equal(t, 5, notifier.completed[0].MessagesNew)

	broken, err := repos.FolderRepository.GetByPath(ctx, account.ID, "Broken")
	require.NoError(t, err)
	assert.Contains(t, broken.SyncError, "mailbox unavailable")

	archive, err := repos.FolderRepository.GetByPath(ctx, account.ID, "Archive")
	require.NoError(t, err)
	assert.Empty(t, archive.SyncError)
}

func TestRetryableErrorAbortsPass(t *testing.T) {
	engine, repos, imapFake, _, notifier := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = inboxOnly()
	imapFake.fetchErr["INBOX"] = coveerr.Retryable(fmt.Errorf("connection reset"))

	err := engine.SyncAccount(ctx, account)
	require.Error(t, err)
	assert.True(t, coveerr.IsRetryable(err))

	require.Len(t, notifier.failed, 1)
	assert.Empty(t, notifier.completed)

	refreshed, err := repos.AccountRepository.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncStatusFailed, refreshed.SyncStatus)
	assert.Contains(t, refreshed.ErrorMessage, "connection reset")
}

func TestOverlappingSyncIsDropped(t *testing.T) {
	engine, repos, imapFake, _, notifier := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = inboxOnly()
	imapFake.listGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- engine.SyncAccount(ctx, account)
	}()

	// wait for the first pass to claim the slot
	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.running[account.ID]
	}, time.Second, 5*time.Millisecond)

	// second trigger while the first is in flight is a no-op
	require.NoError(t, engine.SyncAccount(ctx, account))

	close(imapFake.listGate)
	require.NoError(t, <-done)

	assert.Len(t, notifier.started, 1)
	assert.Len(t, notifier.completed, 1)
}

func TestSyncNeverDeletesVanishedFolders(t *testing.T) {
	engine, repos, imapFake, _, _ := setupEngine(t)
	ctx := context.Background()
	account := seedAccount(t, repos)

	imapFake.folders = []interfaces.FolderInfo{
		{ServerPath: "INBOX", Name: "INBOX", Delimiter: "/", Kind: enum.FolderKindInbox},
		{ServerPath: "Project", Name: "Project", Delimiter: "/", Kind: enum.FolderKindCustom},
	}
	require.NoError(t, engine.SyncAccount(ctx, account))

	imapFake.mu.Lock()
	imapFake.folders = inboxOnly()
	imapFake.mu.Unlock()
	require.NoError(t, engine.SyncAccount(ctx, account))

	folders, err := repos.FolderRepository.ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	paths := make([]string, 0, len(folders))
	for _, folder := range folders {
		paths = append(paths, folder.ServerPath)
	}
	assert.Contains(t, paths, "Project")
}

func TestHeaderToMessageMapsFlags(t *testing.T) {
	sent := time.Now().UTC()
	message := headerToMessage("acct_1", "fold_1", interfaces.HeaderRecord{
		UID:           9,
		MessageID:     "abc@example.com",
		Subject:       "hi",
		Sender:        "a@example.com",
		SenderName:    "A",
		ToAddresses:   []string{"b@example.com"},
		SentAt:        &sent,
		Flags:         []string{"\\Seen", "\\Flagged"},
		HasAttachment: true,
	})

	assert.Equal(t, uint32(9), message.UID)
	assert.True(t, message.IsRead)
	assert.True(t, message.IsStarred())
	assert.True(t, message.HasAttachment)
	assert.True(t, utils.IsStringInSlice("\\Flagged", message.Flags))
}

func TestOrderInboxFirst(t *testing.T) {
	folders := []*models.Folder{
		{ServerPath: "Archive", Kind: enum.FolderKindCustom},
		{ServerPath: "Sent", Kind: enum.FolderKindSent},
		{ServerPath: "INBOX", Kind: enum.FolderKindInbox},
	}
	orderInboxFirst(folders)
	assert.Equal(t, "INBOX", folders[0].ServerPath)
	assert.Equal(t, "Archive", folders[1].ServerPath)
}
