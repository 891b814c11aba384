package shop

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settingsID is the primary key of the single AppSettings row.
const settingsID = 1

// ErrNoSettings is returned when no model settings have been saved yet.
var ErrNoSettings = errors.New("shop: no app settings")

// LoadSettings returns the stored model settings.
func LoadSettings(db *gorm.DB) (*models.AppSettings, error) {
	var s models.AppSettings
	if err := db.First(&s, settingsID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSettings
		}
		return nil, fmt.Errorf("shop: load settings: %w", err)
	}
	return &s, nil
}

// SaveSettings upserts the model settings row.
func SaveSettings(db *gorm.DB, provider, model, effort string) (*models.AppSettings, error) {
	if model == "" {
		return nil, fmt.Errorf("shop: model is required")
	}
	if provider == "" {
		provider = "openai"
	}
	s := models.AppSettings{
		ID:              settingsID,
		AIProvider:      provider,
		AIModel:         model,
		ReasoningEffort: effort,
		UpdatedAt:       time.Now(),
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ai_provider", "ai_model", "reasoning_effort", "updated_at"}),
	}).Create(&s).Error
	if err != nil {
		return nil, fmt.Errorf("shop: save settings: %w", err)
	}
	return &s, nil
}
