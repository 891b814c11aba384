package pending

import (
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Accept records a platform message id as received. It returns false when the
// id was already accepted, which marks the event as a redelivery.
func Accept(tx *gorm.DB, platformMessageID string, threadID uint) (bool, error) {
	r := models.InboundReceipt{
		PlatformMessageID: platformMessageID,
		ThreadID:          threadID,
		ReceivedAt:        time.Now(),
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&r)
	if result.Error != nil {
		return false, fmt.Errorf("pending: accept receipt %s: %w", platformMessageID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// PruneReceipts deletes receipts older than cutoff.
func PruneReceipts(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Where("received_at < ?", cutoff).Delete(&models.InboundReceipt{})
	if result.Error != nil {
		return 0, fmt.Errorf("pending: prune receipts: %w", result.Error)
	}
	return result.RowsAffected, nil
}
