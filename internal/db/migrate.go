package db

import (
	"fmt"

	"github.com/zulandar/shoprelay/internal/config"
	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model managed by shoprelay.
func AllModels() []interface{} {
	return []interface{}{
		&models.Shop{},
		&models.AppSettings{},
		&models.Thread{},
		&models.Message{},
		&models.PendingMessage{},
		&models.InboundReceipt{},
		&models.ScheduledJob{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedShops upserts Shop rows from configuration, keyed by name. Pause state
// is runtime data and is left untouched on existing rows.
func SeedShops(db *gorm.DB, shops []config.ShopConfig) error {
	for _, sc := range shops {
		shop := models.Shop{
			Name:                sc.Name,
			ShopifyDomain:       sc.ShopifyDomain,
			ShopifyAccessToken:  sc.ShopifyAccessToken,
			MetaPageID:          sc.MetaPageID,
			MetaPageAccessToken: sc.MetaPageAccessToken,
			InstagramAccountID:  sc.InstagramAccountID,
			TelegramBotID:       sc.TelegramBotID(),
			TelegramBotToken:    sc.TelegramBotToken,
			AutoReplyEnabled:    sc.AutoReplyEnabled(),
		}

		result := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"shopify_domain", "shopify_access_token", "meta_page_id",
				"meta_page_access_token", "instagram_account_id",
				"telegram_bot_id", "telegram_bot_token", "auto_reply_enabled",
				"updated_at",
			}),
		}).Create(&shop)
		if result.Error != nil {
			return fmt.Errorf("db: seed shop %q: %w", sc.Name, result.Error)
		}
	}
	return nil
}
