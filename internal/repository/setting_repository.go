package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/internal/utils"
)

type settingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) interfaces.SettingRepository {
	return &settingRepository{db: db}
}

// Get returns the stored value, or "" when the key was never set.
func (r *settingRepository) Get(ctx context.Context, key string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "settingRepository.Get")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var setting models.Setting
	result := r.db.WithContext(ctx).Where("key = ?", key).First(&setting)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return "", nil
		}
		tracing.TraceErr(span, result.Error)
		return "", fmt.Errorf("failed to get setting: %w", result.Error)
	}
	return setting.Value, nil
}

func (r *settingRepository) Set(ctx context.Context, key, value string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "settingRepository.Set")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	result := r.db.WithContext(ctx).Model(&models.Setting{}).
		Where("key = ?", key).
		Updates(map[string]interface{}{
			"value":      value,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to set setting: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		setting := &models.Setting{Key: key, Value: value}
		if err := r.db.WithContext(ctx).Create(setting).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create setting: %w", err)
		}
	}
	return nil
}

func (r *settingRepository) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	value, err := r.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback, nil
	}
	return parsed, nil
}
