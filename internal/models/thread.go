package models

import "time"

// Thread lifecycle statuses.
const (
	ThreadActive   = "active"
	ThreadResolved = "resolved"
	ThreadArchived = "archived"
)

// Agent statuses controlling whether the automated responder may reply.
const (
	AgentActive       = "active"
	AgentPaused       = "paused"
	AgentHandoff      = "handoff"
	AgentPendingHuman = "pending_human"
)

// Thread is one conversation between a customer and a shop on one platform.
// ScheduledJobID points at the single live batch job for the thread, if any.
type Thread struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ShopID         uint      `gorm:"not null;uniqueIndex:idx_thread_identity,priority:1;index:idx_thread_shop_status,priority:1"`
	Platform       string    `gorm:"size:16;not null;uniqueIndex:idx_thread_identity,priority:2"`
	PlatformUserID string    `gorm:"size:128;not null;uniqueIndex:idx_thread_identity,priority:3"`
	Status         string    `gorm:"size:16;default:active;index:idx_thread_shop_status,priority:2"`
	LastMessageAt  time.Time `gorm:"index:idx_thread_shop_status,priority:3"`
	CustomerName   string    `gorm:"size:128"`
	UnreadCount    int

	TotalMessages int
	TotalTokens   int
	TotalCostUSD  float64

	ScheduledJobID         *string `gorm:"size:36"`
	PendingSequenceCounter int64

	AgentStatus          string `gorm:"size:16;default:active;index"`
	AgentPausedAt        *time.Time
	AgentPausedReason    string `gorm:"size:255"`
	LastHumanMessageAt   *time.Time
	HasHumanIntervention bool

	CreatedAt time.Time
	UpdatedAt time.Time

	Shop Shop `gorm:"foreignKey:ShopID"`
}
