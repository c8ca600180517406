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

type folderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) interfaces.FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, id)

	var folder models.Folder
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&folder)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, coveerr.ErrFolderNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder: %w", result.Error)
	}
	return &folder, nil
}

func (r *folderRepository) GetByPath(ctx context.Context, accountID, serverPath string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByPath")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)

	var folder models.Folder
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND server_path = ?", accountID, serverPath).
		First(&folder)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, coveerr.ErrFolderNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder: %w", result.Error)
	}
	return &folder, nil
}

func (r *folderRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.ListByAccount")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("server_path asc").
		Find(&folders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// Upsert refreshes metadata when (account_id, server_path) already exists and
// creates the folder otherwise.
func (r *folderRepository) Upsert(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, folder.AccountID)

	result := r.db.WithContext(ctx).Model(&models.Folder{}).
		Where("account_id = ? AND server_path = ?", folder.AccountID, folder.ServerPath).
		Updates(map[string]interface{}{
			"name":       folder.Name,
			"kind":       folder.Kind,
			"delimiter":  folder.Delimiter,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to upsert folder: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		if err := r.db.WithContext(ctx).Create(folder).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create folder: %w", err)
		}
	}
	return nil
}

func (r *folderRepository) Update(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Update")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folder.ID)

	folder.UpdatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Save(folder).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update folder: %w", err)
	}
	return nil
}

func (r *folderRepository) Rename(ctx context.Context, id string, newName, newServerPath string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Rename")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, id)

	result := r.db.WithContext(ctx).Model(&models.Folder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":        newName,
			"server_path": newServerPath,
			"updated_at":  utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to rename folder: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return coveerr.ErrFolderNotFound
	}
	return nil
}

func (r *folderRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Delete")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(
			"message_id IN (?)",
			tx.Model(&models.Message{}).Select("id").Where("folder_id = ?", id),
		).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("folder_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Folder{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

// RecomputeCounts derives the counters from cached rows. The unread counter
// can never go negative this way.
func (r *folderRepository) RecomputeCounts(ctx context.Context, folderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.RecomputeCounts")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folderID)

	err := r.db.WithContext(ctx).Exec(
		`UPDATE folders SET
			unread_count = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id AND is_read = 0),
			total_count  = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id),
			updated_at   = ?
		 WHERE id = ?`,
		utils.Now(), folderID,
	).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to recompute folder counts: %w", err)
	}
	return nil
}

func (r *folderRepository) SetSyncError(ctx context.Context, folderID string, errMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.SetSyncError")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folderID)

	result := r.db.WithContext(ctx).Model(&models.Folder{}).
		Where("id = ?", folderID).
		Updates(map[string]interface{}{
			"sync_error": errMessage,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to set sync error: %w", result.Error)
	}
	return nil
}
