package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailcove/mailcove/interfaces"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/internal/utils"
)

type attachmentRepository struct {
	db      *gorm.DB
	storage interfaces.BlobStorage
}

func NewAttachmentRepository(db *gorm.DB, storage interfaces.BlobStorage) interfaces.AttachmentRepository {
	return &attachmentRepository{db: db, storage: storage}
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.Create")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	if err := r.db.WithContext(ctx).Create(attachment).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

func (r *attachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	var attachment models.Attachment
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&attachment)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, coveerr.ErrMessageNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get attachment: %w", result.Error)
	}
	return &attachment, nil
}

func (r *attachmentRepository) ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.ListByMessage")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, messageID)

	var attachments []*models.Attachment
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Find(&attachments).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return attachments, nil
}

// Store persists content through the blob store and records the key.
func (r *attachmentRepository) Store(ctx context.Context, attachment *models.Attachment, data []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.Store")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	if attachment.ID == "" {
		attachment.ID = utils.GenerateNanoIDWithPrefix("atch", 12)
	}
	key := attachment.ID

	if err := r.storage.Upload(ctx, key, data); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to upload attachment: %w", err)
	}

	attachment.StorageKey = key
	attachment.Size = len(data)

	result := r.db.WithContext(ctx).Model(&models.Attachment{}).
		Where("id = ?", attachment.ID).
		Updates(map[string]interface{}{
			"storage_key": key,
			"size":        attachment.Size,
			"updated_at":  utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to record attachment storage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if err := r.db.WithContext(ctx).Create(attachment).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create attachment: %w", err)
		}
	}
	return nil
}

func (r *attachmentRepository) GetData(ctx context.Context, id string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.GetData")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	attachment, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if attachment.StorageKey == "" {
		return nil, coveerr.ErrMessageNotFound
	}

	data, err := r.storage.Download(ctx, attachment.StorageKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return data, nil
}

func (r *attachmentRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "attachmentRepository.Delete")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	attachment, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if attachment.StorageKey != "" {
		if err := r.storage.Delete(ctx, attachment.StorageKey); err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to delete attachment blob: %w", err)
		}
	}

	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}
