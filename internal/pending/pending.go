// Package pending is the per-thread staging queue of inbound user messages
// waiting to be folded into one batch.
package pending

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
)

// Separator joins batched message texts into one user turn.
const Separator = ". "

// ErrClaimed is returned by Claim while another job still owns rows of the
// thread's queue.
var ErrClaimed = errors.New("pending: queue claimed by another job")

// Enqueue inserts a pending message with an already-assigned sequence number.
func Enqueue(tx *gorm.DB, threadID uint, seq int64, content string, at time.Time, platformMessageID string) (*models.PendingMessage, error) {
	pm := models.PendingMessage{
		ThreadID:       threadID,
		SequenceNumber: seq,
		Content:        content,
		Timestamp:      at,
	}
	if platformMessageID != "" {
		pm.PlatformMessageID = &platformMessageID
	}
	if err := tx.Create(&pm).Error; err != nil {
		return nil, fmt.Errorf("pending: enqueue thread %d seq %d: %w", threadID, seq, err)
	}
	return &pm, nil
}

// Drain returns the thread's pending messages ordered by sequence number.
// Rows are neither removed nor claimed; batch jobs take rows with Claim.
func Drain(db *gorm.DB, threadID uint) ([]models.PendingMessage, error) {
	var msgs []models.PendingMessage
	if err := db.Where("thread_id = ?", threadID).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("pending: drain thread %d: %w", threadID, err)
	}
	// Storage read order is not trusted.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].SequenceNumber < msgs[j].SequenceNumber })
	return msgs, nil
}

// Claim stamps every unclaimed row of the thread with jobID and returns the
// rows jobID owns, ordered by sequence number. Rows already owned by jobID
// are included. It fails with ErrClaimed while any row belongs to a
// different job. Callers serialize Claim per thread by holding the thread
// row lock in tx.
func Claim(tx *gorm.DB, threadID uint, jobID string) ([]models.PendingMessage, error) {
	var held int64
	if err := tx.Model(&models.PendingMessage{}).
		Where("thread_id = ? AND claimed_by IS NOT NULL AND claimed_by <> ?", threadID, jobID).
		Count(&held).Error; err != nil {
		return nil, fmt.Errorf("pending: claim thread %d: %w", threadID, err)
	}
	if held > 0 {
		return nil, fmt.Errorf("pending: claim thread %d for %s: %w", threadID, jobID, ErrClaimed)
	}

	if err := tx.Model(&models.PendingMessage{}).
		Where("thread_id = ? AND claimed_by IS NULL", threadID).
		UpdateColumn("claimed_by", jobID).Error; err != nil {
		return nil, fmt.Errorf("pending: claim thread %d: %w", threadID, err)
	}

	var msgs []models.PendingMessage
	if err := tx.Where("thread_id = ? AND claimed_by = ?", threadID, jobID).
		Order("sequence_number").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("pending: read claim %s: %w", jobID, err)
	}
	return msgs, nil
}

// Release returns rows owned by jobID to the queue. It is used when a job
// died without finishing its batch.
func Release(db *gorm.DB, jobID string) (int64, error) {
	result := db.Model(&models.PendingMessage{}).
		Where("claimed_by = ?", jobID).
		UpdateColumn("claimed_by", nil)
	if result.Error != nil {
		return 0, fmt.Errorf("pending: release %s: %w", jobID, result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteClaimed removes the rows owned by jobID.
func DeleteClaimed(db *gorm.DB, jobID string) (int64, error) {
	result := db.Where("claimed_by = ?", jobID).Delete(&models.PendingMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("pending: delete claim %s: %w", jobID, result.Error)
	}
	return result.RowsAffected, nil
}

// Unstored filters out rows already folded into a stored user turn.
func Unstored(msgs []models.PendingMessage) []models.PendingMessage {
	var out []models.PendingMessage
	for _, m := range msgs {
		if m.MessageID == nil {
			out = append(out, m)
		}
	}
	return out
}

// MarkStored records that msgs were folded into the stored message
// messageID, so a rerun of the batch does not store them again.
func MarkStored(tx *gorm.DB, msgs []models.PendingMessage, messageID uint) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := tx.Model(&models.PendingMessage{}).Where("id IN ?", ids).
		UpdateColumn("message_id", messageID).Error; err != nil {
		return fmt.Errorf("pending: mark stored as message %d: %w", messageID, err)
	}
	return nil
}

// Count returns the number of queued messages for a thread.
func Count(db *gorm.DB, threadID uint) (int64, error) {
	var n int64
	if err := db.Model(&models.PendingMessage{}).Where("thread_id = ?", threadID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("pending: count thread %d: %w", threadID, err)
	}
	return n, nil
}

// Batch is a drained run of pending messages coalesced into one turn.
type Batch struct {
	Text            string
	MaxSequence     int64
	FirstPlatformID string
	FirstTimestamp  time.Time
	Size            int
}

// Coalesce joins sorted pending messages into a single turn. It returns nil
// for an empty slice.
func Coalesce(msgs []models.PendingMessage) *Batch {
	if len(msgs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(msgs))
	b := &Batch{Size: len(msgs), FirstTimestamp: msgs[0].Timestamp}
	for _, m := range msgs {
		parts = append(parts, m.Content)
		if m.SequenceNumber > b.MaxSequence {
			b.MaxSequence = m.SequenceNumber
		}
		if b.FirstPlatformID == "" && m.PlatformMessageID != nil {
			b.FirstPlatformID = *m.PlatformMessageID
		}
	}
	b.Text = strings.Join(parts, Separator)
	return b
}
