package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailcove/mailcove/config"
	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/repository"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/internal/utils"
)

// IMAPFactory builds the IMAP client for one account. Injected so tests can
// substitute a fake server.
type IMAPFactory func(account *models.Account) interfaces.IMAPClient

// SMTPFactory builds the SMTP client for one account.
type SMTPFactory func(account *models.Account) interfaces.SMTPClient

// Engine reconciles the local cache against each account's IMAP server and
// routes user actions (read, move, delete, send) to the right protocol client.
// At most one sync pass runs per account; overlapping triggers are dropped.
type Engine struct {
	repositories *repository.Repositories
	cfg          *config.SyncConfig
	notifier     interfaces.Notifier
	log          logger.Logger

	imapFactory IMAPFactory
	smtpFactory SMTPFactory

	mu          sync.Mutex
	running     map[string]bool
	imapClients map[string]interfaces.IMAPClient
	smtpClients map[string]interfaces.SMTPClient
}

func NewEngine(repositories *repository.Repositories, cfg *config.SyncConfig, notifier interfaces.Notifier, log logger.Logger, imapFactory IMAPFactory, smtpFactory SMTPFactory) *Engine {
	if notifier == nil {
		notifier = interfaces.NoopNotifier{}
	}
	return &Engine{
		repositories: repositories,
		cfg:          cfg,
		notifier:     notifier,
		log:          log,
		imapFactory:  imapFactory,
		smtpFactory:  smtpFactory,
		running:      make(map[string]bool),
		imapClients:  make(map[string]interfaces.IMAPClient),
		smtpClients:  make(map[string]interfaces.SMTPClient),
	}
}

// SyncAll runs one sync pass for every account. Accounts sync concurrently;
// one account's failure never blocks another.
func (e *Engine) SyncAll(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.SyncAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	accounts, err := e.repositories.AccountRepository.List(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account *models.Account) {
			defer wg.Done()
			defer tracing.RecoverAndLogToJaeger(e.log)
			if err := e.SyncAccount(ctx, account); err != nil {
				e.log.Errorf("sync failed for account %s: %v", account.ID, err)
			}
		}(account)
	}
	wg.Wait()
	return nil
}

// SyncAccount runs one full reconciliation pass for the account. When a pass
// is already in flight for the same account the call is dropped silently.
func (e *Engine) SyncAccount(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.SyncAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	if !e.tryBegin(account.ID) {
		e.log.Debugf("sync already running for account %s, skipping", account.ID)
		return nil
	}
	defer e.end(account.ID)

	e.notifier.SyncStarted(account.ID)
	if err := e.repositories.AccountRepository.UpdateSyncStatus(ctx, account.ID, enum.SyncStatusRunning, ""); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	counts, err := e.syncFolders(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		if statusErr := e.repositories.AccountRepository.UpdateSyncStatus(ctx, account.ID, enum.SyncStatusFailed, err.Error()); statusErr != nil {
			e.log.Errorf("failed to record sync failure for account %s: %v", account.ID, statusErr)
		}
		e.notifier.SyncFailed(account.ID, err.Error())
		return err
	}

	if err := e.repositories.AccountRepository.UpdateSyncStatus(ctx, account.ID, enum.SyncStatusIdle, ""); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	e.notifier.SyncCompleted(account.ID, counts)
	e.log.Infof("sync completed for account %s: %d folders, %d new, %d flag updates",
		account.ID, counts.FoldersSynced, counts.MessagesNew, counts.MessagesFlagged)
	return nil
}

func (e *Engine) tryBegin(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[accountID] {
		return false
	}
	e.running[accountID] = true
	return true
}

func (e *Engine) end(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, accountID)
}

// syncFolders lists the server's folders, reconciles the local folder set and
// syncs each folder inbox-first. A retryable error aborts the pass; any other
// per-folder error is recorded on the folder and its siblings still sync.
func (e *Engine) syncFolders(ctx context.Context, account *models.Account) (interfaces.SyncCounts, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.syncFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	var counts interfaces.SyncCounts

	client := e.imapFor(account)
	serverFolders, err := client.ListFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return counts, err
	}

	if err := e.reconcileFolderList(ctx, account.ID, serverFolders); err != nil {
		tracing.TraceErr(span, err)
		return counts, err
	}

	folders, err := e.repositories.FolderRepository.ListByAccount(ctx, account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return counts, err
	}
	orderInboxFirst(folders)

	for _, folder := range folders {
		newMessages, flagged, err := e.syncFolder(ctx, client, folder)
		if err != nil {
			if coveerr.IsRetryable(err) || errors.Is(err, coveerr.ErrNotAuthenticated) {
				return counts, err
			}
			e.log.Warnf("folder %s sync failed for account %s: %v", folder.ServerPath, account.ID, err)
			if recordErr := e.repositories.FolderRepository.SetSyncError(ctx, folder.ID, err.Error()); recordErr != nil {
				e.log.Errorf("failed to record folder sync error: %v", recordErr)
			}
			counts.FoldersFailed++
			continue
		}
		counts.FoldersSynced++
		counts.MessagesNew += newMessages
		counts.MessagesFlagged += flagged
	}
	return counts, nil
}

// reconcileFolderList upserts every server folder into the cache. Folders that
// vanished from the server keep their cached rows; removal is an explicit user
// action, never a sync side effect.
func (e *Engine) reconcileFolderList(ctx context.Context, accountID string, serverFolders []interfaces.FolderInfo) error {
	for _, info := range serverFolders {
		folder := &models.Folder{
			AccountID:  accountID,
			ServerPath: info.ServerPath,
			Name:       info.Name,
			Kind:       info.Kind,
			Delimiter:  info.Delimiter,
		}
		if err := e.repositories.FolderRepository.Upsert(ctx, folder); err != nil {
			return err
		}
	}
	return nil
}

// syncFolder fetches new headers above the watermark, re-checks flags on the
// most recent cached window and applies both, plus the watermark advance, in
// one cache transaction.
func (e *Engine) syncFolder(ctx context.Context, client interfaces.IMAPClient, folder *models.Folder) (int, int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.syncFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folder.ID)
	span.SetTag("serverPath", folder.ServerPath)
	span.SetTag("sinceUid", folder.LastSyncedUID)

	limit := e.cfg.FolderInitialLimit
	if folder.Kind == enum.FolderKindInbox {
		limit = e.cfg.InboxInitialLimit
	}

	headers, err := client.FetchHeaders(ctx, folder.ServerPath, folder.LastSyncedUID, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, err
	}

	recentUIDs, err := e.repositories.MessageRepository.RecentUIDs(ctx, folder.ID, e.cfg.FlagRecheckWindow)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, err
	}

	var flags []interfaces.FlagRecord
	if len(recentUIDs) > 0 {
		flags, err = client.FetchFlags(ctx, folder.ServerPath, recentUIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return 0, 0, err
		}
	}

	batch := make([]*models.Message, 0, len(headers))
	var maxUID uint32
	for _, header := range headers {
		batch = append(batch, headerToMessage(folder.AccountID, folder.ID, header))
		if header.UID > maxUID {
			maxUID = header.UID
		}
	}

	watermark := folder.LastSyncedUID
	if maxUID > watermark {
		watermark = maxUID
	}

	created, updated, err := e.repositories.MessageRepository.ApplySyncBatch(ctx, folder.AccountID, folder.ID, batch, flags, watermark)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, err
	}

	return created, updated, nil
}

func headerToMessage(accountID, folderID string, header interfaces.HeaderRecord) *models.Message {
	return &models.Message{
		AccountID:     accountID,
		FolderID:      folderID,
		UID:           header.UID,
		MessageID:     header.MessageID,
		Subject:       header.Subject,
		Sender:        header.Sender,
		SenderName:    header.SenderName,
		ToAddresses:   models.StringList(header.ToAddresses),
		CcAddresses:   models.StringList(header.CcAddresses),
		SentAt:        header.SentAt,
		Flags:         models.StringList(header.Flags),
		IsRead:        utils.IsStringInSlice("\\Seen", header.Flags),
		HasAttachment: header.HasAttachment,
	}
}

func orderInboxFirst(folders []*models.Folder) {
	sort.SliceStable(folders, func(i, j int) bool {
		if folders[i].Kind == enum.FolderKindInbox {
			return folders[j].Kind != enum.FolderKindInbox
		}
		return false
	})
}

// imapFor returns the cached per-account IMAP client, building it on first
// use.
func (e *Engine) imapFor(account *models.Account) interfaces.IMAPClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	if client, ok := e.imapClients[account.ID]; ok {
		return client
	}
	client := e.imapFactory(account)
	e.imapClients[account.ID] = client
	return client
}

func (e *Engine) smtpFor(account *models.Account) interfaces.SMTPClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	if client, ok := e.smtpClients[account.ID]; ok {
		return client
	}
	client := e.smtpFactory(account)
	e.smtpClients[account.ID] = client
	return client
}

// DropClients closes and forgets the account's protocol clients, forcing a
// fresh connection on next use. Called after credential changes.
func (e *Engine) DropClients(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if client, ok := e.imapClients[accountID]; ok {
		if err := client.Close(); err != nil {
			e.log.Warnf("failed to close imap client for account %s: %v", accountID, err)
		}
		delete(e.imapClients, accountID)
	}
	delete(e.smtpClients, accountID)
}

// CloseIdleClients drops IMAP connections unused past the threshold. Run
// periodically so an idle account does not pin a server connection between
// passes.
func (e *Engine) CloseIdleClients(threshold time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, client := range e.imapClients {
		client.CloseIfIdle(threshold)
	}
}

// Close shuts every cached protocol client down.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for accountID, client := range e.imapClients {
		if err := client.Close(); err != nil {
			e.log.Warnf("failed to close imap client for account %s: %v", accountID, err)
		}
		delete(e.imapClients, accountID)
	}
	e.smtpClients = make(map[string]interfaces.SMTPClient)
}

