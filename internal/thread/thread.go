// Package thread is the registry of customer conversations. It owns the
// per-thread sequence counter and the scheduled-job marker, both of which are
// only ever changed with atomic or compare-and-set updates.
package thread

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a thread does not exist.
var ErrNotFound = errors.New("thread: not found")

// Key identifies a conversation.
type Key struct {
	ShopID         uint
	Platform       string
	PlatformUserID string
}

func (k Key) validate() error {
	if k.ShopID == 0 {
		return fmt.Errorf("thread: shopID is required")
	}
	if k.Platform == "" {
		return fmt.Errorf("thread: platform is required")
	}
	if k.PlatformUserID == "" {
		return fmt.Errorf("thread: platformUserID is required")
	}
	return nil
}

// GetOrCreate returns the thread for key, creating it on first contact. It
// is the inbound path, so an archived or resolved thread is reopened. A
// non-empty customerName replaces the stored one when it differs. The bool
// reports whether the thread was created by this call.
func GetOrCreate(db *gorm.DB, key Key, customerName string) (*models.Thread, bool, error) {
	if err := key.validate(); err != nil {
		return nil, false, err
	}

	t := models.Thread{
		ShopID:         key.ShopID,
		Platform:       key.Platform,
		PlatformUserID: key.PlatformUserID,
		Status:         models.ThreadActive,
		AgentStatus:    models.AgentActive,
		CustomerName:   customerName,
		LastMessageAt:  time.Now(),
	}
	// Concurrent first contacts race on idx_thread_identity; the loser
	// falls through to the read below.
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&t)
	if result.Error != nil {
		return nil, false, fmt.Errorf("thread: create %s/%s: %w", key.Platform, key.PlatformUserID, result.Error)
	}
	if result.RowsAffected == 1 {
		return &t, true, nil
	}

	var existing models.Thread
	if err := db.Where("shop_id = ? AND platform = ? AND platform_user_id = ?",
		key.ShopID, key.Platform, key.PlatformUserID).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("thread: load %s/%s: %w", key.Platform, key.PlatformUserID, err)
	}
	updates := map[string]interface{}{}
	if customerName != "" && existing.CustomerName != customerName {
		updates["customer_name"] = customerName
	}
	if existing.Status != models.ThreadActive {
		updates["status"] = models.ThreadActive
	}
	if len(updates) > 0 {
		if err := db.Model(&models.Thread{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return nil, false, fmt.Errorf("thread: update %d: %w", existing.ID, err)
		}
		if name, ok := updates["customer_name"].(string); ok {
			existing.CustomerName = name
		}
		existing.Status = models.ThreadActive
	}
	return &existing, false, nil
}

// Get loads a thread by id.
func Get(db *gorm.DB, id uint) (*models.Thread, error) {
	var t models.Thread
	if err := db.First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("thread: get %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("thread: get %d: %w", id, err)
	}
	return &t, nil
}

// GetForUpdate loads a thread with a row lock held until tx ends. Drivers
// without row locks fall back to transaction serialization.
func GetForUpdate(tx *gorm.DB, id uint) (*models.Thread, error) {
	var t models.Thread
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("thread: lock %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("thread: lock %d: %w", id, err)
	}
	return &t, nil
}

// WithShop loads a thread together with its shop.
func WithShop(db *gorm.DB, id uint) (*models.Thread, error) {
	var t models.Thread
	if err := db.Preload("Shop").First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("thread: get %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("thread: get %d: %w", id, err)
	}
	return &t, nil
}

// ListFilter narrows List.
type ListFilter struct {
	ShopID uint
	Status string
	Limit  int
}

// List returns threads ordered by most recent activity.
func List(db *gorm.DB, f ListFilter) ([]models.Thread, error) {
	q := db.Model(&models.Thread{})
	if f.ShopID != 0 {
		q = q.Where("shop_id = ?", f.ShopID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var threads []models.Thread
	if err := q.Order("last_message_at DESC").Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("thread: list: %w", err)
	}
	return threads, nil
}

// NextSequence atomically increments the thread's pending sequence counter
// and returns the new value. Callers run it inside the enqueue transaction.
func NextSequence(tx *gorm.DB, id uint) (int64, error) {
	result := tx.Model(&models.Thread{}).Where("id = ?", id).
		UpdateColumn("pending_sequence_counter", gorm.Expr("pending_sequence_counter + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("thread: next sequence %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("thread: next sequence %d: %w", id, ErrNotFound)
	}
	var seq int64
	if err := tx.Model(&models.Thread{}).Where("id = ?", id).
		Pluck("pending_sequence_counter", &seq).Error; err != nil {
		return 0, fmt.Errorf("thread: read sequence %d: %w", id, err)
	}
	return seq, nil
}

// SwapScheduledJob replaces the scheduled-job marker with next only if it
// still equals prev (nil meaning no job). It reports whether the swap won.
func SwapScheduledJob(db *gorm.DB, id uint, prev *string, next string) (bool, error) {
	q := db.Model(&models.Thread{}).Where("id = ?", id)
	if prev == nil {
		q = q.Where("scheduled_job_id IS NULL")
	} else {
		q = q.Where("scheduled_job_id = ?", *prev)
	}
	result := q.UpdateColumn("scheduled_job_id", next)
	if result.Error != nil {
		return false, fmt.Errorf("thread: swap scheduled job %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ClearScheduledJob nulls the marker if it still points at jobID. A newer
// job scheduled in the meantime is left in place.
func ClearScheduledJob(db *gorm.DB, id uint, jobID string) (bool, error) {
	result := db.Model(&models.Thread{}).
		Where("id = ? AND scheduled_job_id = ?", id, jobID).
		UpdateColumn("scheduled_job_id", nil)
	if result.Error != nil {
		return false, fmt.Errorf("thread: clear scheduled job %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ArchiveIdle moves active and resolved threads idle since before cutoff to
// archived. Threads are never deleted.
func ArchiveIdle(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Model(&models.Thread{}).
		Where("status IN ? AND last_message_at < ? AND scheduled_job_id IS NULL",
			[]string{models.ThreadActive, models.ThreadResolved}, cutoff).
		Update("status", models.ThreadArchived)
	if result.Error != nil {
		return 0, fmt.Errorf("thread: archive idle: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SetStatus changes the lifecycle status.
func SetStatus(db *gorm.DB, id uint, status string) error {
	switch status {
	case models.ThreadActive, models.ThreadResolved, models.ThreadArchived:
	default:
		return fmt.Errorf("thread: invalid status %q", status)
	}
	result := db.Model(&models.Thread{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("thread: set status %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("thread: set status %d: %w", id, ErrNotFound)
	}
	return nil
}
