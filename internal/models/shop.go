package models

import "time"

// Shop is a storefront whose customer conversations are relayed. The account
// identifiers route inbound webhook events to the shop.
type Shop struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	Name                string `gorm:"size:128;uniqueIndex"`
	ShopifyDomain       string `gorm:"size:255;not null"` // storefront GraphQL endpoint
	ShopifyAccessToken  string `gorm:"size:255"`
	MetaPageID          string `gorm:"size:64;index"`
	MetaPageAccessToken string `gorm:"size:512"`
	InstagramAccountID  string `gorm:"size:64;index"`
	TelegramBotID       string `gorm:"size:32;index"`
	TelegramBotToken    string `gorm:"size:128"`

	AutoReplyEnabled  bool
	AgentPaused       bool `gorm:"index"`
	AgentPausedAt     *time.Time
	AgentPausedReason string `gorm:"size:255"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppSettings is the single-row model configuration. When present it
// overrides the configured agent model.
type AppSettings struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	AIProvider      string `gorm:"size:32;not null;default:openai"`
	AIModel         string `gorm:"size:64;not null"`
	ReasoningEffort string `gorm:"size:16"`
	UpdatedAt       time.Time
}
