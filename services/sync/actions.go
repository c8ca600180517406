package sync

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
)

// MarkRead flips the read state in the cache first, then mirrors it to the
// server. The cache update survives a server failure; the bounded flag
// re-check reconciles any divergence on the next pass.
func (e *Engine) MarkRead(ctx context.Context, messageID string, read bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.MarkRead")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, messageID)

	message, err := e.repositories.MessageRepository.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.repositories.MessageRepository.MarkRead(ctx, messageID, read); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if message.UID == 0 {
		return nil
	}

	folder, err := e.repositories.FolderRepository.GetByID(ctx, message.FolderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	account, err := e.repositories.AccountRepository.GetByID(ctx, message.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.imapFor(account).SetFlags(ctx, folder.ServerPath, message.UID, "\\Seen", read); err != nil {
		tracing.TraceErr(span, err)
		e.log.Warnf("failed to mirror read state to server for message %s: %v", messageID, err)
		return err
	}
	return nil
}

// SetStarred flips the \Flagged state, cache first then server.
func (e *Engine) SetStarred(ctx context.Context, messageID string, starred bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.SetStarred")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, messageID)

	message, err := e.repositories.MessageRepository.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.repositories.MessageRepository.SetFlag(ctx, messageID, "\\Flagged", starred); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if message.UID == 0 {
		return nil
	}

	folder, err := e.repositories.FolderRepository.GetByID(ctx, message.FolderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	account, err := e.repositories.AccountRepository.GetByID(ctx, message.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.imapFor(account).SetFlags(ctx, folder.ServerPath, message.UID, "\\Flagged", starred); err != nil {
		tracing.TraceErr(span, err)
		e.log.Warnf("failed to mirror star state to server for message %s: %v", messageID, err)
		return err
	}
	return nil
}

// DeleteMessage removes the message from the cache and expunges it on the
// server. Local-only rows (uid 0) never reach the server.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.DeleteMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, messageID)

	message, err := e.repositories.MessageRepository.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.repositories.MessageRepository.Delete(ctx, messageID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if message.UID == 0 {
		return nil
	}

	folder, err := e.repositories.FolderRepository.GetByID(ctx, message.FolderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	account, err := e.repositories.AccountRepository.GetByID(ctx, message.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.imapFor(account).Delete(ctx, folder.ServerPath, message.UID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// MoveMessage rebinds the cached row to the destination folder with uid 0,
// then moves the server copy. When the server reports the destination UID the
// row is resolved immediately; otherwise the next sync pass picks it up.
func (e *Engine) MoveMessage(ctx context.Context, messageID, destFolderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.MoveMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, messageID)
	tracing.TagFolder(span, destFolderID)

	message, err := e.repositories.MessageRepository.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	srcFolder, err := e.repositories.FolderRepository.GetByID(ctx, message.FolderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	destFolder, err := e.repositories.FolderRepository.GetByID(ctx, destFolderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if destFolder.AccountID != message.AccountID {
		err = coveerr.Validation("destination", "folder belongs to a different account")
		tracing.TraceErr(span, err)
		return err
	}
	if destFolder.ID == srcFolder.ID {
		return nil
	}

	oldUID := message.UID
	if err := e.repositories.MessageRepository.MoveToFolder(ctx, messageID, destFolderID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if oldUID == 0 {
		return nil
	}

	account, err := e.repositories.AccountRepository.GetByID(ctx, message.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	newUID, err := e.imapFor(account).Move(ctx, srcFolder.ServerPath, oldUID, destFolder.ServerPath)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if newUID > 0 {
		if err := e.repositories.MessageRepository.SetUID(ctx, messageID, newUID); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

// FetchBody returns the message body, fetching and caching it from the server
// on first access. Attachment metadata and content are persisted alongside.
func (e *Engine) FetchBody(ctx context.Context, messageID string) (string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.FetchBody")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, messageID)

	message, err := e.repositories.MessageRepository.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}

	if message.BodyCached {
		return e.repositories.MessageRepository.GetBody(ctx, messageID)
	}
	if message.UID == 0 {
		tracing.TraceErr(span, coveerr.ErrMessageNotFound)
		return "", "", coveerr.ErrMessageNotFound
	}

	folder, err := e.repositories.FolderRepository.GetByID(ctx, message.FolderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}
	account, err := e.repositories.AccountRepository.GetByID(ctx, message.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}

	body, err := e.imapFor(account).FetchBody(ctx, folder.ServerPath, message.UID)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}

	if err := e.repositories.MessageRepository.SaveBody(ctx, messageID, body.Text, body.HTML); err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}

	for _, info := range body.Attachments {
		attachment := &models.Attachment{
			MessageID:   messageID,
			Filename:    info.Filename,
			ContentType: info.ContentType,
			ContentID:   info.ContentID,
			Size:        info.Size,
			IsInline:    info.IsInline,
		}
		if err := e.repositories.AttachmentRepository.Store(ctx, attachment, info.Data); err != nil {
			tracing.TraceErr(span, err)
			e.log.Warnf("failed to store attachment %s for message %s: %v", info.Filename, messageID, err)
		}
	}

	return body.Text, body.HTML, nil
}

// SendMessage submits outgoing mail. Any failure past input validation caches
// the composed message as a draft so it is never lost, whether the server
// rejected the submission or the network (or the token refresh behind it)
// failed before the submission started.
func (e *Engine) SendMessage(ctx context.Context, accountID string, message *interfaces.OutgoingMessage, attachments []interfaces.OutgoingAttachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.SendMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := e.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	err = e.smtpFor(account).Send(ctx, message, attachments)
	if err == nil {
		return nil
	}
	tracing.TraceErr(span, err)

	if coveerr.IsValidation(err) {
		return err
	}

	if draftErr := e.saveFailedDraft(ctx, account, message); draftErr != nil {
		e.log.Errorf("failed to cache draft after send failure for account %s: %v", accountID, draftErr)
	}
	e.notifier.SendFailed(accountID, err.Error())
	return err
}

// saveFailedDraft caches an unsent message as a local draft in the drafts
// folder, creating a local drafts folder when the server never advertised one.
func (e *Engine) saveFailedDraft(ctx context.Context, account *models.Account, message *interfaces.OutgoingMessage) error {
	drafts, err := e.draftsFolder(ctx, account.ID)
	if err != nil {
		return err
	}

	draft := &models.Message{
		AccountID:    account.ID,
		FolderID:     drafts.ID,
		UID:          0,
		Subject:      message.Subject,
		Sender:       account.EmailAddress,
		SenderName:   account.DisplayName,
		ToAddresses:  models.StringList(message.To),
		CcAddresses:  models.StringList(message.Cc),
		BccAddresses: models.StringList(message.Bcc),
		IsRead:       true,
		IsDraft:      true,
	}
	if err := e.repositories.MessageRepository.Create(ctx, draft); err != nil {
		return err
	}
	if err := e.repositories.MessageRepository.SaveBody(ctx, draft.ID, message.BodyText, message.BodyHTML); err != nil {
		return err
	}
	return e.repositories.FolderRepository.RecomputeCounts(ctx, drafts.ID)
}

func (e *Engine) draftsFolder(ctx context.Context, accountID string) (*models.Folder, error) {
	folders, err := e.repositories.FolderRepository.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, folder := range folders {
		if folder.Kind == enum.FolderKindDrafts {
			return folder, nil
		}
	}

	folder := &models.Folder{
		AccountID:  accountID,
		ServerPath: "Drafts",
		Name:       "Drafts",
		Kind:       enum.FolderKindDrafts,
	}
	if err := e.repositories.FolderRepository.Upsert(ctx, folder); err != nil {
		return nil, err
	}
	return e.repositories.FolderRepository.GetByPath(ctx, accountID, folder.ServerPath)
}

// CreateFolder creates the mailbox on the server and refreshes the cached
// folder list so delimiter and kind come from the server's own listing.
func (e *Engine) CreateFolder(ctx context.Context, accountID, path string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.CreateFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.LogKV("path", path)

	if strings.TrimSpace(path) == "" {
		return coveerr.Validation("path", "cannot be empty")
	}

	account, err := e.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	client := e.imapFor(account)
	if err := client.CreateFolder(ctx, path); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	serverFolders, err := client.ListFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return e.reconcileFolderList(ctx, accountID, serverFolders)
}

// RenameFolder renames a custom folder on the server and in the cache. System
// folders are refused.
func (e *Engine) RenameFolder(ctx context.Context, folderID, newPath string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.RenameFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folderID)
	span.LogKV("newPath", newPath)

	if strings.TrimSpace(newPath) == "" {
		return coveerr.Validation("path", "cannot be empty")
	}

	folder, err := e.repositories.FolderRepository.GetByID(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if folder.Kind.System() {
		tracing.TraceErr(span, coveerr.ErrSystemFolder)
		return coveerr.ErrSystemFolder
	}

	account, err := e.repositories.AccountRepository.GetByID(ctx, folder.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.imapFor(account).RenameFolder(ctx, folder.ServerPath, newPath); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	newName := newPath
	if folder.Delimiter != "" {
		parts := strings.Split(newPath, folder.Delimiter)
		newName = parts[len(parts)-1]
	}
	return e.repositories.FolderRepository.Rename(ctx, folderID, newName, newPath)
}

// DeleteFolder removes a custom folder on the server and drops its cached
// messages. System folders are refused.
func (e *Engine) DeleteFolder(ctx context.Context, folderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.DeleteFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, folderID)

	folder, err := e.repositories.FolderRepository.GetByID(ctx, folderID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if folder.Kind.System() {
		tracing.TraceErr(span, coveerr.ErrSystemFolder)
		return coveerr.ErrSystemFolder
	}

	account, err := e.repositories.AccountRepository.GetByID(ctx, folder.AccountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := e.imapFor(account).DeleteFolder(ctx, folder.ServerPath); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return e.repositories.FolderRepository.Delete(ctx, folderID)
}
