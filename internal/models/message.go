package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailcove/mailcove/internal/utils"
)

// Message is one cached mail header, optionally with its body fetched. A
// message is uniquely bound to a server mail by (account_id, folder_id, uid);
// uid 0 marks a locally moved or drafted message whose server UID is not yet
// known. The uniqueness index therefore only covers rows with uid > 0 (raw
// index in repository.Migrate).
type Message struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string `gorm:"column:account_id;type:varchar(50);index;not null" json:"accountId"`
	FolderID  string `gorm:"column:folder_id;type:varchar(50);index;not null" json:"folderId"`
	UID       uint32 `gorm:"column:uid;index" json:"uid"`
	MessageID string `gorm:"column:message_id;type:varchar(255);index" json:"messageId"`

	Subject      string     `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	Sender       string     `gorm:"column:sender;type:varchar(255);index" json:"sender"`
	SenderName   string     `gorm:"column:sender_name;type:varchar(255)" json:"senderName"`
	ToAddresses  StringList `gorm:"column:to_addresses;type:text" json:"toAddresses"`
	CcAddresses  StringList `gorm:"column:cc_addresses;type:text" json:"ccAddresses"`
	BccAddresses StringList `gorm:"column:bcc_addresses;type:text" json:"bccAddresses"`
	SentAt       *time.Time `gorm:"column:sent_at;type:timestamp;index" json:"sentAt"`

	Preview string     `gorm:"column:preview;type:varchar(500)" json:"preview"`
	Flags   StringList `gorm:"column:flags;type:text" json:"flags"`
	IsRead  bool       `gorm:"column:is_read;index;default:false" json:"isRead"`

	// Body content, lazily fetched. Crypto ciphertext, decrypted through the
	// repository.
	BodyTextEnc []byte `gorm:"column:body_text_enc;type:blob" json:"-"`
	BodyHTMLEnc []byte `gorm:"column:body_html_enc;type:blob" json:"-"`
	BodyCached  bool   `gorm:"column:body_cached;default:false" json:"bodyCached"`

	HasAttachment bool `gorm:"column:has_attachment;default:false" json:"hasAttachment"`
	IsDraft       bool `gorm:"column:is_draft;default:false" json:"isDraft"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("mail", 24)
	}
	m.CreatedAt = utils.Now()
	return nil
}

func (m *Message) HasFlag(flag string) bool {
	return m.Flags.Contains(flag)
}

func (m *Message) IsStarred() bool {
	return m.HasFlag("\\Flagged")
}
