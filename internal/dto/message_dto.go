package dto

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/google/uuid"
)

type AttachmentRequest struct {
	URL     string `json:"url" validate:"required,url,max=1024"`
	IsImage bool   `json:"is_image"`
}

type PostMessageRequest struct {
	Body       string             `json:"body" validate:"max=5000"`
	Attachment *AttachmentRequest `json:"attachment" validate:"omitempty"`
}

type MessageResponse struct {
	ID         uuid.UUID          `json:"id"`
	ReportID   uuid.UUID          `json:"report_id"`
	Seq        int64              `json:"seq"`
	Sender     models.Role        `json:"sender"`
	SenderID   uuid.UUID          `json:"sender_id"`
	Body       string             `json:"body"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

func NewMessageResponse(m *models.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		ReportID:   m.ReportID,
		Seq:        m.Seq,
		Sender:     m.Sender,
		SenderID:   m.SenderID,
		Body:       m.Body,
		Attachment: m.Attachment(),
		CreatedAt:  m.CreatedAt,
	}
}

func NewThreadResponse(msgs []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageResponse(&msgs[i]))
	}
	return out
}

// StreamResync tells a stream client it missed messages and must refetch.
type StreamResync struct {
	Reason string `json:"reason"`
}

type LogQuery struct {
	Level    string `query:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	ReportID string `query:"report_id" validate:"omitempty,uuid"`
	Limit    int    `query:"limit" validate:"omitempty,min=1,max=500"`
}
