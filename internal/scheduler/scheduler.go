// Package scheduler is a durable deferred-execution primitive backed by the
// scheduled_jobs table. It knows nothing about batching; handlers registered
// on a Worker give jobs their meaning.
package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrJobNotFound is returned by Cancel when the job does not exist or has
// already left the scheduled state.
var ErrJobNotFound = errors.New("scheduler: job not found")

// Schedule persists a job of kind that becomes due after delay and returns
// its handle.
func Schedule(db *gorm.DB, kind string, threadID uint, delay time.Duration, payload interface{}) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("scheduler: kind is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("scheduler: encode payload: %w", err)
	}

	job := models.ScheduledJob{
		ID:       uuid.NewString(),
		Kind:     kind,
		ThreadID: threadID,
		Payload:  string(body),
		Status:   models.JobScheduled,
		RunAt:    time.Now().Add(delay),
	}
	if err := db.Create(&job).Error; err != nil {
		return "", fmt.Errorf("scheduler: schedule %s for thread %d: %w", kind, threadID, err)
	}
	return job.ID, nil
}

// Cancel stops a job that has not fired yet. A job that is already running
// or finished yields ErrJobNotFound.
func Cancel(db *gorm.DB, id string) error {
	now := time.Now()
	result := db.Model(&models.ScheduledJob{}).
		Where("id = ? AND status = ?", id, models.JobScheduled).
		Updates(map[string]interface{}{
			"status":      models.JobCancelled,
			"finished_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("scheduler: cancel %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("scheduler: cancel %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// Get loads a job by handle.
func Get(db *gorm.DB, id string) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	if err := db.Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scheduler: get %s: %w", id, ErrJobNotFound)
		}
		return nil, fmt.Errorf("scheduler: get %s: %w", id, err)
	}
	return &job, nil
}

// ClaimDue moves up to limit due jobs from scheduled to running and returns
// them. Rows are selected with FOR UPDATE SKIP LOCKED where supported, and
// each transition is guarded on the old status so two claimers never run the
// same job.
func ClaimDue(db *gorm.DB, now time.Time, limit int) ([]models.ScheduledJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []models.ScheduledJob
	err := db.Transaction(func(tx *gorm.DB) error {
		var due []models.ScheduledJob
		if err := tx.Where("status = ? AND run_at <= ?", models.JobScheduled, now).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("run_at ASC").
			Limit(limit).
			Find(&due).Error; err != nil {
			return fmt.Errorf("scheduler: find due jobs: %w", err)
		}

		for _, job := range due {
			result := tx.Model(&models.ScheduledJob{}).
				Where("id = ? AND status = ?", job.ID, models.JobScheduled).
				Updates(map[string]interface{}{
					"status":     models.JobRunning,
					"started_at": now,
					"attempts":   gorm.Expr("attempts + 1"),
				})
			if result.Error != nil {
				return fmt.Errorf("scheduler: claim %s: %w", job.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}
			job.Status = models.JobRunning
			job.StartedAt = &now
			job.Attempts++
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a running job as completed.
func Complete(db *gorm.DB, id string) error {
	return finish(db, id, models.JobCompleted, "")
}

// Fail marks a running job as failed with the error text. Jobs are never
// retried automatically.
func Fail(db *gorm.DB, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return finish(db, id, models.JobFailed, msg)
}

func finish(db *gorm.DB, id, status, lastError string) error {
	result := db.Model(&models.ScheduledJob{}).
		Where("id = ? AND status = ?", id, models.JobRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": time.Now(),
			"last_error":  lastError,
		})
	if result.Error != nil {
		return fmt.Errorf("scheduler: mark %s %s: %w", id, status, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("scheduler: mark %s %s: %w", id, status, ErrJobNotFound)
	}
	return nil
}

// ReapStale fails jobs that have been running since before cutoff, which
// happens when a process dies mid-job. It returns the reaped jobs.
func ReapStale(db *gorm.DB, cutoff time.Time) ([]models.ScheduledJob, error) {
	var stale []models.ScheduledJob
	if err := db.Where("status = ? AND started_at < ?", models.JobRunning, cutoff).
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("scheduler: find stale jobs: %w", err)
	}

	reaped := stale[:0]
	for _, job := range stale {
		err := finish(db, job.ID, models.JobFailed, "stale: worker did not finish")
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reaped = append(reaped, job)
	}
	return reaped, nil
}

// DecodePayload unmarshals a job's payload into v.
func DecodePayload(job *models.ScheduledJob, v interface{}) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return fmt.Errorf("scheduler: decode payload of %s: %w", job.ID, err)
	}
	return nil
}
