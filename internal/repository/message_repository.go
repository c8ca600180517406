package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/crypto"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/internal/utils"
)

type messageRepository struct {
	db     *gorm.DB
	cipher *crypto.Cipher
}

func NewMessageRepository(db *gorm.DB, cipher *crypto.Cipher) interfaces.MessageRepository {
	return &messageRepository{db: db, cipher: cipher}
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	var message models.Message
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&message)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, coveerr.ErrMessageNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return &message, nil
}

func (r *messageRepository) GetByUID(ctx context.Context, accountID, folderID string, uid uint32) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByUID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderID)

	var message models.Message
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ? AND uid = ?", accountID, folderID, uid).
		First(&message)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, coveerr.ErrMessageNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get message by uid: %w", result.Error)
	}
	return &message, nil
}

func (r *messageRepository) ListByFolder(ctx context.Context, folderID string, limit, offset int) ([]*models.Message, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListByFolder")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folderID)

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("folder_id = ?", folderID).
		Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var messages []*models.Message
	if err := r.db.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Order("sent_at desc").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, total, nil
}

func (r *messageRepository) Search(ctx context.Context, accountID, query string, limit, offset int) ([]*models.Message, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Search")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)

	pattern := "%" + query + "%"
	base := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("account_id = ?", accountID).
		Where("subject LIKE ? OR sender LIKE ? OR sender_name LIKE ? OR preview LIKE ?",
			pattern, pattern, pattern, pattern)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	var messages []*models.Message
	if err := base.
		Order("sent_at desc").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, fmt.Errorf("failed to search messages: %w", err)
	}
	return messages, total, nil
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Create")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ApplySyncBatch commits one folder's reconciliation in a single transaction:
// header upserts keyed by (account, folder, uid), flag re-checks on already
// cached rows, a counter recompute, then the watermark advance. Server flag
// state wins on re-check. The watermark never regresses; the sync timestamp
// still refreshes on a pass that found nothing new.
func (r *messageRepository) ApplySyncBatch(ctx context.Context, accountID, folderID string, headers []*models.Message, flags []interfaces.FlagRecord, watermark uint32) (int, int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ApplySyncBatch")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderID)

	var created, updated int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, header := range headers {
			header.AccountID = accountID
			header.FolderID = folderID

			var existing models.Message
			result := tx.
				Where("account_id = ? AND folder_id = ? AND uid = ?", accountID, folderID, header.UID).
				First(&existing)
			if result.Error == gorm.ErrRecordNotFound {
				if err := tx.Create(header).Error; err != nil {
					return err
				}
				created++
				continue
			}
			if result.Error != nil {
				return result.Error
			}

			if err := tx.Model(&models.Message{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"flags":      header.Flags,
					"is_read":    header.IsRead,
					"updated_at": utils.Now(),
				}).Error; err != nil {
				return err
			}
			updated++
		}

		for _, flag := range flags {
			var existing models.Message
			result := tx.
				Where("account_id = ? AND folder_id = ? AND uid = ?", accountID, folderID, flag.UID).
				First(&existing)
			if result.Error == gorm.ErrRecordNotFound {
				continue
			}
			if result.Error != nil {
				return result.Error
			}

			flagList := models.StringList(flag.Flags)
			if sameFlagSet(existing.Flags, flagList) && existing.IsRead == flagList.Contains("\\Seen") {
				continue
			}

			if err := tx.Model(&models.Message{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"flags":      flagList,
					"is_read":    flagList.Contains("\\Seen"),
					"updated_at": utils.Now(),
				}).Error; err != nil {
				return err
			}
		}

		if err := tx.Exec(
			`UPDATE folders SET
				unread_count = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id AND is_read = 0),
				total_count  = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id),
				updated_at   = ?
			 WHERE id = ?`,
			utils.Now(), folderID,
		).Error; err != nil {
			return err
		}

		return tx.Exec(
			`UPDATE folders SET
				last_synced_uid = ?,
				last_synced_at  = ?,
				sync_error      = '',
				updated_at      = ?
			 WHERE id = ? AND last_synced_uid <= ?`,
			watermark, utils.NowPtr(), utils.Now(), folderID, watermark,
		).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, 0, fmt.Errorf("failed to apply sync batch: %w", err)
	}
	return created, updated, nil
}

// sameFlagSet compares two flag lists as sets so a re-check that reports the
// same flags in a different order does not rewrite the row.
func sameFlagSet(a, b models.StringList) bool {
	if len(a) != len(b) {
		return false
	}
	for _, flag := range a {
		if !b.Contains(flag) {
			return false
		}
	}
	return true
}

func (r *messageRepository) MarkRead(ctx context.Context, id string, read bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkRead")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message models.Message
		if err := tx.Where("id = ?", id).First(&message).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return coveerr.ErrMessageNotFound
			}
			return err
		}

		flags := message.Flags
		if read && !flags.Contains("\\Seen") {
			flags = append(flags, "\\Seen")
		}
		if !read {
			filtered := flags[:0]
			for _, f := range flags {
				if f != "\\Seen" {
					filtered = append(filtered, f)
				}
			}
			flags = filtered
		}

		if err := tx.Model(&models.Message{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"is_read":    read,
				"flags":      flags,
				"updated_at": utils.Now(),
			}).Error; err != nil {
			return err
		}

		return tx.Exec(
			`UPDATE folders SET
				unread_count = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id AND is_read = 0),
				updated_at   = ?
			 WHERE id = ?`,
			utils.Now(), message.FolderID,
		).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *messageRepository) SetFlag(ctx context.Context, id string, flag string, set bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.SetFlag")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	message, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	flags := message.Flags
	switch {
	case set && !flags.Contains(flag):
		flags = append(flags, flag)
	case !set:
		filtered := flags[:0]
		for _, f := range flags {
			if f != flag {
				filtered = append(filtered, f)
			}
		}
		flags = filtered
	}

	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"flags":      flags,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to set flag: %w", result.Error)
	}
	return nil
}

// MoveToFolder removes the old UID binding and rebinds the row to the
// destination folder with uid 0 in one transaction. SetUID records the
// server-assigned UID once known; until then the next sync pass reconciles.
func (r *messageRepository) MoveToFolder(ctx context.Context, id string, destFolderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MoveToFolder")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message models.Message
		if err := tx.Where("id = ?", id).First(&message).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return coveerr.ErrMessageNotFound
			}
			return err
		}
		srcFolderID := message.FolderID

		if err := tx.Model(&models.Message{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"folder_id":  destFolderID,
				"uid":        0,
				"updated_at": utils.Now(),
			}).Error; err != nil {
			return err
		}

		return tx.Exec(
			`UPDATE folders SET
				unread_count = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id AND is_read = 0),
				total_count  = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id),
				updated_at   = ?
			 WHERE id IN (?, ?)`,
			utils.Now(), srcFolderID, destFolderID,
		).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *messageRepository) SetUID(ctx context.Context, id string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.SetUID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"uid":        uid,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to set uid: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return coveerr.ErrMessageNotFound
	}
	return nil
}

func (r *messageRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Delete")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message models.Message
		if err := tx.Where("id = ?", id).First(&message).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return coveerr.ErrMessageNotFound
			}
			return err
		}

		if err := tx.Where("message_id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}

		return tx.Exec(
			`UPDATE folders SET
				unread_count = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id AND is_read = 0),
				total_count  = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id),
				updated_at   = ?
			 WHERE id = ?`,
			utils.Now(), message.FolderID,
		).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *messageRepository) MaxUID(ctx context.Context, folderID string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MaxUID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folderID)

	var maxUID uint32
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("folder_id = ?", folderID).
		Select("COALESCE(MAX(uid), 0)").
		Scan(&maxUID).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to get max uid: %w", err)
	}
	return maxUID, nil
}

func (r *messageRepository) RecentUIDs(ctx context.Context, folderID string, n int) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.RecentUIDs")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folderID)

	var uids []uint32
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("folder_id = ? AND uid > 0", folderID).
		Order("uid desc").
		Limit(n).
		Pluck("uid", &uids).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get recent uids: %w", err)
	}

	// ascending for the wire
	for i, j := 0, len(uids)-1; i < j; i, j = i+1, j-1 {
		uids[i], uids[j] = uids[j], uids[i]
	}
	return uids, nil
}

func (r *messageRepository) SaveBody(ctx context.Context, id string, text, html string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.SaveBody")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	textEnc, err := r.cipher.EncryptString(text)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	htmlEnc, err := r.cipher.EncryptString(html)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"body_text_enc": textEnc,
			"body_html_enc": htmlEnc,
			"body_cached":   true,
			"preview":       utils.Preview(text, 200),
			"updated_at":    utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save body: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return coveerr.ErrMessageNotFound
	}
	return nil
}

func (r *messageRepository) GetBody(ctx context.Context, id string) (string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetBody")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	message, err := r.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	if !message.BodyCached {
		return "", "", coveerr.ErrMessageNotFound
	}

	text, err := r.cipher.DecryptString(message.BodyTextEnc)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}
	html, err := r.cipher.DecryptString(message.BodyHTMLEnc)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", err
	}
	return text, html, nil
}
