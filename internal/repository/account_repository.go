package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/crypto"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/internal/utils"
)

type accountRepository struct {
	db     *gorm.DB
	cipher *crypto.Cipher
}

func NewAccountRepository(db *gorm.DB, cipher *crypto.Cipher) interfaces.AccountRepository {
	return &accountRepository{db: db, cipher: cipher}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var existing models.Account
	result := r.db.WithContext(ctx).
		Where("email_address = ?", account.EmailAddress).
		First(&existing)
	if result.Error == nil {
		return coveerr.ErrAccountExists
	}
	if result.Error != gorm.ErrRecordNotFound {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to check account: %w", result.Error)
	}

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, id)

	var account models.Account
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, coveerr.ErrAccountNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, emailAddress string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByEmail")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var account models.Account
	result := r.db.WithContext(ctx).Where("email_address = ?", emailAddress).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, coveerr.ErrAccountNotFound
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

func (r *accountRepository) List(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.List")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Order("created_at asc").Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) Update(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Update")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, account.ID)

	account.UpdatedAt = utils.Now()
	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// Delete removes the account and everything hanging off it in one transaction.
func (r *accountRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Delete")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(
			"message_id IN (?)",
			tx.Model(&models.Message{}).Select("id").Where("account_id = ?", id),
		).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.Folder{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.Token{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Account{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// SetDefault marks one account default and clears the flag everywhere else.
func (r *accountRepository) SetDefault(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SetDefault")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Account{}).
			Where("is_default = ?", true).
			Update("is_default", false).Error; err != nil {
			return err
		}
		result := tx.Model(&models.Account{}).
			Where("id = ?", id).
			Update("is_default", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return coveerr.ErrAccountNotFound
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *accountRepository) SavePassword(ctx context.Context, id string, password string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SavePassword")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, id)

	blob, err := r.cipher.EncryptString(password)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"password_enc": blob,
			"updated_at":   utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return coveerr.ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) GetPassword(ctx context.Context, id string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetPassword")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, id)

	account, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if len(account.PasswordEnc) == 0 {
		return "", coveerr.ErrNotAuthenticated
	}
	password, err := r.cipher.DecryptString(account.PasswordEnc)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return password, nil
}

func (r *accountRepository) UpdateSyncStatus(ctx context.Context, id string, status enum.SyncStatus, errMessage string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateSyncStatus")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, id)

	updates := map[string]interface{}{
		"sync_status":   status,
		"error_message": errMessage,
		"updated_at":    utils.Now(),
	}
	if status == enum.SyncStatusIdle {
		updates["last_synced"] = utils.NowPtr()
	}

	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update sync status: %w", result.Error)
	}
	return nil
}
