package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/crypto"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/internal/utils"
)

type tokenRepository struct {
	db     *gorm.DB
	cipher *crypto.Cipher
}

func NewTokenRepository(db *gorm.DB, cipher *crypto.Cipher) interfaces.TokenRepository {
	return &tokenRepository{db: db, cipher: cipher}
}

// Save encrypts the bundle and upserts it by account. Plaintext bundles never
// touch the database or any log line.
func (r *tokenRepository) Save(ctx context.Context, accountID string, bundle *models.TokenBundle) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tokenRepository.Save")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)

	plaintext, err := json.Marshal(bundle)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to marshal token bundle: %w", err)
	}
	blob, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	result := r.db.WithContext(ctx).Model(&models.Token{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"bundle_enc": blob,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save token: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		token := &models.Token{AccountID: accountID, BundleEnc: blob}
		if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create token: %w", err)
		}
	}
	return nil
}

// Get returns (nil, nil) when the account has no stored bundle. A blob that
// does not open under the current key surfaces ErrDecryption.
func (r *tokenRepository) Get(ctx context.Context, accountID string) (*models.TokenBundle, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tokenRepository.Get")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)

	var token models.Token
	result := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&token)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get token: %w", result.Error)
	}

	plaintext, err := r.cipher.Decrypt(token.BundleEnc)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var bundle models.TokenBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to unmarshal token bundle: %w", err)
	}
	return &bundle, nil
}

func (r *tokenRepository) Delete(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "tokenRepository.Delete")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagAccount(span, accountID)

	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.Token{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
