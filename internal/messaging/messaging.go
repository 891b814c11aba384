// Package messaging is the append-only conversation log.
package messaging

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/thread"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("messaging: not found")

// AppendOpts holds optional fields for an appended message.
type AppendOpts struct {
	Timestamp         time.Time // defaults to now
	PlatformMessageID string
	ToolCalls         string // JSON trace, first reply segment only
	Reasoning         string
	AI                models.AIMetadata
}

// Append writes a message and updates the thread's bookkeeping in one
// transaction.
func Append(db *gorm.DB, threadID uint, role, content string, opts AppendOpts) (*models.Message, error) {
	if threadID == 0 {
		return nil, fmt.Errorf("messaging: threadID is required")
	}
	switch role {
	case models.RoleUser, models.RoleAssistant, models.RoleHumanAgent:
	default:
		return nil, fmt.Errorf("messaging: invalid role %q", role)
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := models.Message{
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		Timestamp: ts,
		ToolCalls: opts.ToolCalls,
		Reasoning: opts.Reasoning,
		AI:        opts.AI,
	}
	if opts.PlatformMessageID != "" {
		pmid := opts.PlatformMessageID
		msg.PlatformMessageID = &pmid
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("messaging: append to thread %d: %w", threadID, err)
		}
		return thread.RecordActivity(tx, threadID, thread.Activity{
			Role:    role,
			At:      ts,
			Tokens:  opts.AI.TotalTokens,
			CostUSD: opts.AI.CostUSD,
		})
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Get loads a message by id.
func Get(db *gorm.DB, id uint) (*models.Message, error) {
	var msg models.Message
	if err := db.First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("messaging: get %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("messaging: get %d: %w", id, err)
	}
	return &msg, nil
}

// ExistsByPlatformID reports whether a message with the platform message id
// has been stored.
func ExistsByPlatformID(db *gorm.DB, platformMessageID string) (bool, error) {
	if platformMessageID == "" {
		return false, nil
	}
	var count int64
	if err := db.Model(&models.Message{}).
		Where("platform_message_id = ?", platformMessageID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("messaging: lookup %s: %w", platformMessageID, err)
	}
	return count > 0, nil
}

// Recent returns up to limit of the thread's latest messages in
// chronological order.
func Recent(db *gorm.DB, threadID uint, limit int) ([]models.Message, error) {
	var msgs []models.Message
	q := db.Where("thread_id = ?", threadID).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: recent %d: %w", threadID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// UpTo returns up to limit messages at or before anchor, chronologically.
func UpTo(db *gorm.DB, anchor *models.Message, limit int) ([]models.Message, error) {
	var msgs []models.Message
	q := db.Where("thread_id = ?", anchor.ThreadID).
		Where("timestamp < ? OR (timestamp = ? AND id <= ?)", anchor.Timestamp, anchor.Timestamp, anchor.ID).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: history up to %d: %w", anchor.ID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// LatestUserAtOrBefore finds the most recent user message at or before
// target in the same thread.
func LatestUserAtOrBefore(db *gorm.DB, target *models.Message) (*models.Message, error) {
	var msg models.Message
	err := db.Where("thread_id = ? AND role = ?", target.ThreadID, models.RoleUser).
		Where("timestamp < ? OR (timestamp = ? AND id <= ?)", target.Timestamp, target.Timestamp, target.ID).
		Order("timestamp DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("messaging: no user message before %d: %w", target.ID, ErrNotFound)
		}
		return nil, fmt.Errorf("messaging: anchor for %d: %w", target.ID, err)
	}
	return &msg, nil
}

