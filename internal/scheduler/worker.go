package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/shoprelay/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HandlerFunc runs one fired job. A returned error marks the job failed.
type HandlerFunc func(ctx context.Context, job *models.ScheduledJob) error

// WorkerOpts configures a Worker.
type WorkerOpts struct {
	DB           *gorm.DB
	PollInterval time.Duration // default 1s
	Concurrency  int           // default 4
	Logger       *zap.Logger
}

// Worker polls for due jobs and runs them on a bounded pool of goroutines.
type Worker struct {
	db           *gorm.DB
	pollInterval time.Duration
	logger       *zap.Logger
	sem          chan struct{}
	wg           sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewWorker creates a Worker. Handlers must be registered before Run.
func NewWorker(opts WorkerOpts) (*Worker, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("scheduler: db is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Worker{
		db:           opts.DB,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		sem:          make(chan struct{}, opts.Concurrency),
		handlers:     make(map[string]HandlerFunc),
	}, nil
}

// Register binds a handler to a job kind.
func (w *Worker) Register(kind string, h HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) handler(kind string) (HandlerFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// Run polls until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("scheduler worker started",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("concurrency", cap(w.sem)))

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("scheduler worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.poll(ctx); err != nil {
				w.logger.Error("poll due jobs", zap.Error(err))
			}
		}
	}
}

// RunOnce claims every currently due job that fits in the pool, runs them
// and waits for them to finish. It returns the number of jobs run.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	n, err := w.poll(ctx)
	w.wg.Wait()
	return n, err
}

func (w *Worker) poll(ctx context.Context) (int, error) {
	free := cap(w.sem) - len(w.sem)
	if free == 0 {
		return 0, nil
	}
	jobs, err := ClaimDue(w.db, time.Now(), free)
	if err != nil {
		return 0, err
	}
	for i := range jobs {
		job := jobs[i]
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func() {
			defer func() {
				<-w.sem
				w.wg.Done()
			}()
			w.execute(ctx, &job)
		}()
	}
	return len(jobs), nil
}

func (w *Worker) execute(ctx context.Context, job *models.ScheduledJob) {
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("kind", job.Kind), zap.Uint("thread_id", job.ThreadID))

	h, ok := w.handler(job.Kind)
	if !ok {
		log.Error("no handler registered for job kind")
		if err := Fail(w.db, job.ID, fmt.Errorf("no handler for kind %q", job.Kind)); err != nil {
			log.Error("mark job failed", zap.Error(err))
		}
		return
	}

	err := runHandler(ctx, h, job)
	if err != nil {
		log.Warn("job failed", zap.Error(err))
		if ferr := Fail(w.db, job.ID, err); ferr != nil {
			log.Error("mark job failed", zap.Error(ferr))
		}
		return
	}
	if cerr := Complete(w.db, job.ID); cerr != nil {
		log.Error("mark job completed", zap.Error(cerr))
	}
}

// runHandler converts a handler panic into an error so one bad job cannot
// take down the pool.
func runHandler(ctx context.Context, h HandlerFunc, job *models.ScheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
