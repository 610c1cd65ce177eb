package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role identifies which side of a thread a caller or message belongs to.
type Role string

const (
	RoleReporter Role = "reporter"
	RoleReviewer Role = "reviewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleReporter, RoleReviewer:
		return true
	default:
		return false
	}
}

// Attachment is a pre-uploaded blob reference. The core never reads the bytes.
type Attachment struct {
	URL     string `json:"url"`
	IsImage bool   `json:"is_image"`
}

// Message is one append-only entry of a report thread, ordered by Seq.
type Message struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_report_messages_seq,priority:1" json:"report_id"`
	Seq               int64     `gorm:"not null;uniqueIndex:idx_report_messages_seq,priority:2" json:"seq"`
	Sender            Role      `gorm:"not null;size:20" json:"sender"`
	SenderID          uuid.UUID `gorm:"type:uuid;not null;index" json:"sender_id"`
	Body              string    `gorm:"type:text;not null" json:"body"`
	AttachmentURL     string    `gorm:"size:1024" json:"-"`
	AttachmentIsImage bool      `gorm:"not null" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (Message) TableName() string {
	return "report_messages"
}

// Attachment returns the stored attachment reference, or nil when the message has none.
func (m *Message) Attachment() *Attachment {
	if m.AttachmentURL == "" {
		return nil
	}
	return &Attachment{URL: m.AttachmentURL, IsImage: m.AttachmentIsImage}
}

// SetAttachment copies a reference verbatim onto the message.
func (m *Message) SetAttachment(a *Attachment) {
	if a == nil {
		m.AttachmentURL = ""
		m.AttachmentIsImage = false
		return
	}
	m.AttachmentURL = a.URL
	m.AttachmentIsImage = a.IsImage
}
