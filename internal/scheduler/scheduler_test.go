package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/shoprelay/internal/db"
	"github.com/zulandar/shoprelay/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return gormDB
}

type testPayload struct {
	ThreadID uint   `json:"thread_id"`
	SenderID string `json:"sender_id"`
}

func TestSchedule_RequiresKind(t *testing.T) {
	if _, err := Schedule(nil, "", 1, time.Second, nil); err == nil {
		t.Fatal("expected error for empty kind")
	}
}

func TestScheduleAndDecode(t *testing.T) {
	gormDB := testDB(t)

	id, err := Schedule(gormDB, "batch", 7, time.Minute, testPayload{ThreadID: 7, SenderID: "psid"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("handle = %q, want uuid", id)
	}

	job, err := Get(gormDB, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != models.JobScheduled {
		t.Errorf("Status = %q, want %q", job.Status, models.JobScheduled)
	}
	var p testPayload
	if err := DecodePayload(job, &p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.SenderID != "psid" {
		t.Errorf("SenderID = %q, want %q", p.SenderID, "psid")
	}
}

func TestCancel(t *testing.T) {
	gormDB := testDB(t)
	id, _ := Schedule(gormDB, "batch", 1, time.Minute, nil)

	if err := Cancel(gormDB, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	job, _ := Get(gormDB, id)
	if job.Status != models.JobCancelled {
		t.Errorf("Status = %q, want %q", job.Status, models.JobCancelled)
	}
	if err := Cancel(gormDB, id); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second Cancel err = %v, want ErrJobNotFound", err)
	}
	if err := Cancel(gormDB, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(missing) err = %v, want ErrJobNotFound", err)
	}
}

func TestCancel_AfterFireFails(t *testing.T) {
	gormDB := testDB(t)
	id, _ := Schedule(gormDB, "batch", 1, 0, nil)
	if _, err := ClaimDue(gormDB, time.Now().Add(time.Second), 10); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if err := Cancel(gormDB, id); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(running) err = %v, want ErrJobNotFound", err)
	}
}

func TestClaimDue_OnlyDueAndOnce(t *testing.T) {
	gormDB := testDB(t)
	now := time.Now()
	due, _ := Schedule(gormDB, "batch", 1, 0, nil)
	Schedule(gormDB, "batch", 2, time.Hour, nil)
	cancelled, _ := Schedule(gormDB, "batch", 3, 0, nil)
	Cancel(gormDB, cancelled)

	jobs, err := ClaimDue(gormDB, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != due {
		t.Fatalf("claimed = %+v, want only %s", jobs, due)
	}
	if jobs[0].Attempts != 1 || jobs[0].Status != models.JobRunning {
		t.Errorf("claimed job = %+v", jobs[0])
	}

	again, _ := ClaimDue(gormDB, now.Add(time.Second), 10)
	if len(again) != 0 {
		t.Errorf("second claim returned %d jobs, want 0", len(again))
	}
}

func TestCompleteAndFail(t *testing.T) {
	gormDB := testDB(t)
	a, _ := Schedule(gormDB, "batch", 1, 0, nil)
	b, _ := Schedule(gormDB, "batch", 2, 0, nil)
	ClaimDue(gormDB, time.Now().Add(time.Second), 10)

	if err := Complete(gormDB, a); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := Fail(gormDB, b, errors.New("agent exploded")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	jb, _ := Get(gormDB, b)
	if jb.Status != models.JobFailed || jb.LastError != "agent exploded" {
		t.Errorf("failed job = status %q error %q", jb.Status, jb.LastError)
	}
	if err := Complete(gormDB, a); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("re-Complete err = %v, want ErrJobNotFound", err)
	}
}

func TestReapStale(t *testing.T) {
	gormDB := testDB(t)
	stale, _ := Schedule(gormDB, "batch", 1, -2*time.Hour, nil)
	ClaimDue(gormDB, time.Now().Add(-time.Hour), 10)
	fresh, _ := Schedule(gormDB, "batch", 2, -time.Minute, nil)
	ClaimDue(gormDB, time.Now(), 10)

	reaped, err := ReapStale(gormDB, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != stale {
		t.Fatalf("reaped = %+v, want only %s", reaped, stale)
	}
	if j, _ := Get(gormDB, fresh); j.Status != models.JobRunning {
		t.Errorf("fresh job status = %q, want running", j.Status)
	}
}

func TestWorker_RunOnce(t *testing.T) {
	gormDB := testDB(t)
	w, err := NewWorker(WorkerOpts{DB: gormDB, Concurrency: 2})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	var mu sync.Mutex
	var ran []uint
	w.Register("batch", func(ctx context.Context, job *models.ScheduledJob) error {
		mu.Lock()
		ran = append(ran, job.ThreadID)
		mu.Unlock()
		if job.ThreadID == 2 {
			return errors.New("boom")
		}
		return nil
	})

	ok, _ := Schedule(gormDB, "batch", 1, -time.Second, nil)
	bad, _ := Schedule(gormDB, "batch", 2, -time.Second, nil)
	unknown, _ := Schedule(gormDB, "mystery", 3, -time.Second, nil)

	// Concurrency 2 leaves the third job for the next poll.
	total := 0
	for range 2 {
		n, err := w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		total += n
	}
	if total != 3 {
		t.Errorf("jobs run = %d, want 3", total)
	}

	for id, want := range map[string]string{ok: models.JobCompleted, bad: models.JobFailed, unknown: models.JobFailed} {
		j, _ := Get(gormDB, id)
		if j.Status != want {
			t.Errorf("job %s status = %q, want %q", j.Kind, j.Status, want)
		}
	}
	if len(ran) != 2 {
		t.Errorf("handler calls = %d, want 2", len(ran))
	}
}

func TestWorker_PanicMarksFailed(t *testing.T) {
	gormDB := testDB(t)
	w, _ := NewWorker(WorkerOpts{DB: gormDB})
	w.Register("batch", func(ctx context.Context, job *models.ScheduledJob) error {
		panic("nil map")
	})
	id, _ := Schedule(gormDB, "batch", 1, -time.Second, nil)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	j, _ := Get(gormDB, id)
	if j.Status != models.JobFailed {
		t.Errorf("Status = %q, want failed", j.Status)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	gormDB := testDB(t)
	w, _ := NewWorker(WorkerOpts{DB: gormDB, PollInterval: 10 * time.Millisecond})

	var calls atomic.Int32
	w.Register("batch", func(ctx context.Context, job *models.ScheduledJob) error {
		calls.Add(1)
		return nil
	})
	Schedule(gormDB, "batch", 1, -time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestNewWorker_RequiresDB(t *testing.T) {
	if _, err := NewWorker(WorkerOpts{}); err == nil {
		t.Fatal("expected error for missing db")
	}
}
