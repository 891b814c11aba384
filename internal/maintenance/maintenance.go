// Package maintenance runs the periodic sweeps that keep the relay's tables
// bounded: archiving idle threads, reaping stuck batch jobs and pruning old
// inbound receipts.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/shoprelay/internal/pending"
	"github.com/zulandar/shoprelay/internal/scheduler"
	"github.com/zulandar/shoprelay/internal/thread"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Opts configures a Sweeper.
type Opts struct {
	DB           *gorm.DB
	ArchiveCron  string        // default "0 3 * * *"
	ArchiveAfter time.Duration // default 30 days
	ReapCron     string        // default "*/5 * * * *"
	StaleAfter   time.Duration // default 10m
	ReceiptTTL   time.Duration // default 7 days
	Logger       *zap.Logger
	Now          func() time.Time
}

// Sweeper owns the cron schedule for the maintenance jobs.
type Sweeper struct {
	db           *gorm.DB
	archiveAfter time.Duration
	staleAfter   time.Duration
	receiptTTL   time.Duration
	logger       *zap.Logger
	now          func() time.Time
	cron         *cron.Cron
}

// New creates a Sweeper and registers its jobs. Invalid cron expressions are
// reported here, not when Run starts.
func New(opts Opts) (*Sweeper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("maintenance: db is required")
	}
	if opts.ArchiveCron == "" {
		opts.ArchiveCron = "0 3 * * *"
	}
	if opts.ArchiveAfter <= 0 {
		opts.ArchiveAfter = 30 * 24 * time.Hour
	}
	if opts.ReapCron == "" {
		opts.ReapCron = "*/5 * * * *"
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.ReceiptTTL <= 0 {
		opts.ReceiptTTL = 7 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Sweeper{
		db:           opts.DB,
		archiveAfter: opts.ArchiveAfter,
		staleAfter:   opts.StaleAfter,
		receiptTTL:   opts.ReceiptTTL,
		logger:       opts.Logger,
		now:          opts.Now,
		cron:         cron.New(cron.WithParser(cronParser)),
	}
	if _, err := s.cron.AddFunc(opts.ArchiveCron, s.nightly); err != nil {
		return nil, fmt.Errorf("maintenance: archive_cron %q: %w", opts.ArchiveCron, err)
	}
	if _, err := s.cron.AddFunc(opts.ReapCron, s.frequent); err != nil {
		return nil, fmt.Errorf("maintenance: reap_cron %q: %w", opts.ReapCron, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is cancelled. A sweep in
// progress is allowed to finish before Run returns.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("maintenance sweeper started", zap.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance sweeper stopped")
	return nil
}

// NextRuns returns the next fire time of each registered job.
func (s *Sweeper) NextRuns(from time.Time) []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Schedule.Next(from)
	}
	return out
}

func (s *Sweeper) nightly() {
	if _, err := s.ArchiveIdle(); err != nil {
		s.logger.Error("archive idle threads", zap.Error(err))
	}
	if _, err := s.PruneReceipts(); err != nil {
		s.logger.Error("prune inbound receipts", zap.Error(err))
	}
}

func (s *Sweeper) frequent() {
	if _, err := s.ReapStale(); err != nil {
		s.logger.Error("reap stale jobs", zap.Error(err))
	}
}

// ArchiveIdle archives active threads with no message for archive_after.
func (s *Sweeper) ArchiveIdle() (int64, error) {
	n, err := thread.ArchiveIdle(s.db, s.now().Add(-s.archiveAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("archived idle threads", zap.Int64("count", n))
	}
	return n, nil
}

// ReapStale fails jobs stuck in running and returns their claimed messages
// to the queue. Each thread's job marker is cleared when it still points at
// the reaped job, so the next inbound message schedules a fresh batch.
func (s *Sweeper) ReapStale() (int, error) {
	reaped, err := scheduler.ReapStale(s.db, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}
	for _, job := range reaped {
		released, err := pending.Release(s.db, job.ID)
		if err != nil {
			return len(reaped), err
		}
		cleared, err := thread.ClearScheduledJob(s.db, job.ThreadID, job.ID)
		if err != nil {
			return len(reaped), err
		}
		s.logger.Warn("reaped stale job",
			zap.String("job_id", job.ID),
			zap.Uint("thread_id", job.ThreadID),
			zap.Int64("released", released),
			zap.Bool("marker_cleared", cleared))
	}
	return len(reaped), nil
}

// PruneReceipts deletes inbound receipts older than receipt_ttl.
func (s *Sweeper) PruneReceipts() (int64, error) {
	n, err := pending.PruneReceipts(s.db, s.now().Add(-s.receiptTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned inbound receipts", zap.Int64("count", n))
	}
	return n, nil
}
