// Package shop resolves shops by platform account and manages the shop-wide
// agent pause switch.
package shop

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no shop matches a lookup.
var ErrNotFound = errors.New("shop: not found")

// accountColumns whitelists the columns a platform adapter may route on.
var accountColumns = map[string]bool{
	"meta_page_id":         true,
	"instagram_account_id": true,
	"telegram_bot_id":      true,
}

// Get loads a shop by primary key.
func Get(db *gorm.DB, id uint) (*models.Shop, error) {
	var s models.Shop
	if err := db.First(&s, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("shop: get %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("shop: get %d: %w", id, err)
	}
	return &s, nil
}

// GetByName loads a shop by its unique name.
func GetByName(db *gorm.DB, name string) (*models.Shop, error) {
	var s models.Shop
	if err := db.Where("name = ?", name).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("shop: get %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("shop: get %q: %w", name, err)
	}
	return &s, nil
}

// FindByAccount resolves the shop owning a platform account id. column must
// be one of meta_page_id, instagram_account_id or telegram_bot_id.
func FindByAccount(db *gorm.DB, column, accountID string) (*models.Shop, error) {
	if !accountColumns[column] {
		return nil, fmt.Errorf("shop: unsupported account column %q", column)
	}
	if accountID == "" {
		return nil, fmt.Errorf("shop: find by %s: %w", column, ErrNotFound)
	}
	var s models.Shop
	if err := db.Where(column+" = ?", accountID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("shop: find by %s %s: %w", column, accountID, ErrNotFound)
		}
		return nil, fmt.Errorf("shop: find by %s %s: %w", column, accountID, err)
	}
	return &s, nil
}

// List returns every shop ordered by name.
func List(db *gorm.DB) ([]models.Shop, error) {
	var shops []models.Shop
	if err := db.Order("name ASC").Find(&shops).Error; err != nil {
		return nil, fmt.Errorf("shop: list: %w", err)
	}
	return shops, nil
}

// Status is the shop-wide agent switch as reported to operators.
type Status struct {
	ShopID            uint       `json:"shop_id"`
	AgentPaused       bool       `json:"agent_paused"`
	AgentPausedAt     *time.Time `json:"agent_paused_at,omitempty"`
	AgentPausedReason string     `json:"agent_paused_reason,omitempty"`
	AutoReplyEnabled  bool       `json:"auto_reply_enabled"`
}

// Pause stops the automated responder for every thread of the shop.
func Pause(db *gorm.DB, id uint, reason string) error {
	now := time.Now()
	result := db.Model(&models.Shop{}).Where("id = ?", id).Updates(map[string]interface{}{
		"agent_paused":        true,
		"agent_paused_at":     now,
		"agent_paused_reason": reason,
	})
	if result.Error != nil {
		return fmt.Errorf("shop: pause %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("shop: pause %d: %w", id, ErrNotFound)
	}
	return nil
}

// Resume re-enables the automated responder.
func Resume(db *gorm.DB, id uint) error {
	result := db.Model(&models.Shop{}).Where("id = ?", id).Updates(map[string]interface{}{
		"agent_paused":        false,
		"agent_paused_at":     nil,
		"agent_paused_reason": "",
	})
	if result.Error != nil {
		return fmt.Errorf("shop: resume %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("shop: resume %d: %w", id, ErrNotFound)
	}
	return nil
}

// AgentStatus reports the pause switch for a shop.
func AgentStatus(db *gorm.DB, id uint) (*Status, error) {
	s, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	return &Status{
		ShopID:            s.ID,
		AgentPaused:       s.AgentPaused,
		AgentPausedAt:     s.AgentPausedAt,
		AgentPausedReason: s.AgentPausedReason,
		AutoReplyEnabled:  s.AutoReplyEnabled,
	}, nil
}

// Gated reports whether the shop suppresses automated replies.
func Gated(s *models.Shop) bool {
	return s.AgentPaused || !s.AutoReplyEnabled
}
