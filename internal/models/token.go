package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailcove/mailcove/internal/utils"
)

// Token holds one account's OAuth bundle as crypto ciphertext. The plaintext
// bundle only ever exists in memory as a TokenBundle.
type Token struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string `gorm:"column:account_id;type:varchar(50);uniqueIndex;not null" json:"accountId"`
	BundleEnc []byte `gorm:"column:bundle_enc;type:blob;not null" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Token) TableName() string {
	return "tokens"
}

func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = utils.GenerateNanoIDWithPrefix("tokn", 12)
	}
	t.CreatedAt = utils.Now()
	return nil
}

// TokenBundle is the decrypted OAuth credential set.
type TokenBundle struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ExpiringWithin reports whether the access token expires inside the margin.
func (b *TokenBundle) ExpiringWithin(margin time.Duration) bool {
	return utils.Now().Add(margin).After(b.ExpiresAt)
}
