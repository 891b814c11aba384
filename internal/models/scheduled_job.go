package models

import "time"

// Scheduled job statuses.
const (
	JobScheduled = "scheduled"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// ScheduledJob is a durable deferred invocation owned by the scheduler.
type ScheduledJob struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Kind       string    `gorm:"size:32;not null"`
	ThreadID   uint      `gorm:"not null;index"`
	Payload    string    `gorm:"type:text"`
	Status     string    `gorm:"size:16;default:scheduled;index:idx_job_due,priority:1"`
	RunAt      time.Time `gorm:"not null;index:idx_job_due,priority:2"`
	Attempts   int
	StartedAt  *time.Time
	FinishedAt *time.Time
	LastError  string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
