package models

import "time"

// Message roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleHumanAgent = "human_agent"
)

// Message is an append-only conversation record. Only the first segment of a
// multi-part assistant reply carries ToolCalls, Reasoning and AI metadata.
type Message struct {
	ID                uint       `gorm:"primaryKey;autoIncrement"`
	ThreadID          uint       `gorm:"not null;index:idx_message_thread_time,priority:1"`
	Role              string     `gorm:"size:16;not null"`
	Content           string     `gorm:"type:text;not null"`
	Timestamp         time.Time  `gorm:"not null;index:idx_message_thread_time,priority:2"`
	PlatformMessageID *string    `gorm:"size:191;index"`
	ToolCalls         string     `gorm:"type:text"` // JSON array of agent.ToolCall
	Reasoning         string     `gorm:"type:text"`
	AI                AIMetadata `gorm:"embedded;embeddedPrefix:ai_"`
	CreatedAt         time.Time

	Thread Thread `gorm:"foreignKey:ThreadID"`
}

// AIMetadata records model usage for an assistant message. A zero Model
// means the message carries no metadata.
type AIMetadata struct {
	Model           string `gorm:"size:64"`
	TotalTokens     int
	ReasoningTokens int
	InputTokens     int
	OutputTokens    int
	CostUSD         float64
}

// PendingMessage is an inbound user message waiting to be folded into a
// batch. SequenceNumber is strictly increasing per thread.
type PendingMessage struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	ThreadID          uint      `gorm:"not null;uniqueIndex:idx_pending_thread_seq,priority:1"`
	SequenceNumber    int64     `gorm:"not null;uniqueIndex:idx_pending_thread_seq,priority:2"`
	Content           string    `gorm:"type:text;not null"`
	Timestamp         time.Time `gorm:"not null"`
	PlatformMessageID *string   `gorm:"size:191"`
	// ClaimedBy is the batch job that owns this row; nil while unclaimed.
	ClaimedBy         *string   `gorm:"size:36;index"`
	// MessageID is the stored user turn this row was folded into.
	MessageID         *uint
	CreatedAt         time.Time
}

// InboundReceipt remembers a platform message id once it has been accepted,
// so webhook redeliveries are dropped even after the batch is processed.
type InboundReceipt struct {
	PlatformMessageID string    `gorm:"primaryKey;size:191"`
	ThreadID          uint      `gorm:"not null;index"`
	ReceivedAt        time.Time `gorm:"not null;index"`
}
