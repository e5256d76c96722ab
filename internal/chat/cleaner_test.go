package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func seedJob(t *testing.T, db *gorm.DB, id, key string, status JobStatus, age time.Duration) {
	t.Helper()
	job := &CleanupJob{ID: id, ObjectKey: key, Reason: ReasonUpload, Status: status}
	if err := NewRepo(db).CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if age > 0 {
		old := time.Now().Add(-age)
		if err := db.Model(&CleanupJob{}).Where("id = ?", id).
			UpdateColumns(map[string]any{"created_at": old, "updated_at": old}).Error; err != nil {
			t.Fatalf("age job: %v", err)
		}
	}
}

func TestCleaner_ProcessJobDeletesOrphan(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	store.objects["u1/p1/s1/a.png"] = []byte("a")
	seedJob(t, db, "01CLEANORPHAN0000000000000", "u1/p1/s1/a.png", JobQueued, 0)

	c := NewCleaner(db, store, nil, time.Minute, zerolog.Nop())
	if err := c.ProcessJob(context.Background(), "01CLEANORPHAN0000000000000"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("orphan not deleted")
	}
	jobs := listJobs(t, db)
	if len(jobs) != 1 || jobs[0].Status != JobSucceeded || jobs[0].Attempts != 1 {
		t.Fatalf("unexpected job state: %+v", jobs)
	}

	// replaying a finished job is a no-op
	store.objects["u1/p1/s1/a.png"] = []byte("a")
	if err := c.ProcessJob(context.Background(), "01CLEANORPHAN0000000000000"); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("finished job must not run again")
	}
}

func TestCleaner_ProcessJobKeepsReferencedObject(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	key := "u1/p1/s1/a.png"
	store.objects[key] = []byte("a")
	if err := NewRepo(db).InsertTurn(context.Background(), &Turn{UserID: "u1", PatientID: "p1", SessionTime: "s1", Role: RoleUser, Message: "x", ImageKey: &key}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	seedJob(t, db, "01CLEANREFERENCED000000000", key, JobQueued, 0)

	c := NewCleaner(db, store, nil, time.Minute, zerolog.Nop())
	if err := c.ProcessJob(context.Background(), "01CLEANREFERENCED000000000"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("referenced object must be kept")
	}
}

func TestCleaner_ProcessJobFailureMarksFailed(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	store.deleteErr = errors.New("s3 down")
	seedJob(t, db, "01CLEANFAILS00000000000000", "u1/p1/s1/a.png", JobQueued, 0)

	c := NewCleaner(db, store, nil, time.Minute, zerolog.Nop())
	err := c.ProcessJob(context.Background(), "01CLEANFAILS00000000000000")
	if KindOf(err) != KindStorage {
		t.Fatalf("expected storage error, got %v", err)
	}
	jobs := listJobs(t, db)
	if len(jobs) != 1 || jobs[0].Status != JobFailed || jobs[0].Error == nil {
		t.Fatalf("unexpected job state: %+v", jobs)
	}
}

func TestCleaner_ProcessJobMissing(t *testing.T) {
	db := openTestDB(t)
	c := NewCleaner(db, newMemStore(), nil, time.Minute, zerolog.Nop())
	if err := c.ProcessJob(context.Background(), "nope"); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCleaner_SweepPublishesStaleJobs(t *testing.T) {
	db := openTestDB(t)
	queue := &recordingQueue{}
	seedJob(t, db, "01SWEEPSTALE00000000000000", "u1/p1/s1/a.png", JobPending, time.Hour)
	seedJob(t, db, "01SWEEPSTUCK00000000000000", "u1/p1/s1/b.png", JobRunning, time.Hour)
	seedJob(t, db, "01SWEEPFRESH00000000000000", "u1/p1/s1/c.png", JobPending, 0)

	c := NewCleaner(db, newMemStore(), queue, 15*time.Minute, zerolog.Nop())
	n, err := c.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 || len(queue.jobs) != 2 {
		t.Fatalf("expected 2 published jobs, got n=%d queue=%v", n, queue.jobs)
	}

	again, err := c.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != 0 || len(queue.jobs) != 2 {
		t.Fatalf("published jobs must wait another grace period, got n=%d queue=%v", again, queue.jobs)
	}

	stuck, err := NewRepo(db).GetJobByID(context.Background(), "01SWEEPSTUCK00000000000000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stuck.Status != JobQueued {
		t.Fatalf("stuck job must be requeued, got %s", stuck.Status)
	}
}

func TestCleaner_SweepWithoutQueueProcessesInline(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	store.objects["u1/p1/s1/a.png"] = []byte("a")
	seedJob(t, db, "01SWEEPINLINE0000000000000", "u1/p1/s1/a.png", JobFailed, time.Hour)

	c := NewCleaner(db, store, nil, 15*time.Minute, zerolog.Nop())
	n, err := c.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if store.count() != 0 {
		t.Fatalf("expected inline cleanup")
	}
}

func TestCleaner_SweepSkipsExhaustedJobs(t *testing.T) {
	db := openTestDB(t)
	queue := &recordingQueue{}
	seedJob(t, db, "01SWEEPEXHAUSTED0000000000", "u1/p1/s1/a.png", JobFailed, time.Hour)
	if err := db.Model(&CleanupJob{}).Where("id = ?", "01SWEEPEXHAUSTED0000000000").
		UpdateColumn("attempts", 3).Error; err != nil {
		t.Fatalf("set attempts: %v", err)
	}

	c := NewCleaner(db, newMemStore(), queue, 15*time.Minute, zerolog.Nop(), WithMaxAttempts(3))
	n, err := c.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 || len(queue.jobs) != 0 {
		t.Fatalf("exhausted job must not be republished, got n=%d queue=%v", n, queue.jobs)
	}
}

func TestCleaner_TakesSessionLock(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	store.objects["u1/p1/s1/a.png"] = []byte("a")
	seedJob(t, db, "01CLEANLOCKED0000000000000", "u1/p1/s1/a.png", JobQueued, 0)

	locker := &recordingLocker{}
	c := NewCleaner(db, store, nil, time.Minute, zerolog.Nop(), WithCleanerLocker(locker))
	if err := c.ProcessJob(context.Background(), "01CLEANLOCKED0000000000000"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(locker.names) != 1 || locker.names[0] != "lock:chat:u1:p1:s1" {
		t.Fatalf("unexpected locks: %v", locker.names)
	}
	if locker.held != 0 {
		t.Fatalf("lock not released")
	}
	if store.count() != 0 {
		t.Fatalf("orphan not deleted")
	}
}

func TestCleaner_LockFailureKeepsObject(t *testing.T) {
	db := openTestDB(t)
	store := newMemStore()
	store.objects["u1/p1/s1/a.png"] = []byte("a")
	seedJob(t, db, "01CLEANLOCKFAIL00000000000", "u1/p1/s1/a.png", JobQueued, 0)

	locker := &recordingLocker{lockErr: errors.New("redis down")}
	c := NewCleaner(db, store, nil, time.Minute, zerolog.Nop(), WithCleanerLocker(locker))
	err := c.ProcessJob(context.Background(), "01CLEANLOCKFAIL00000000000")
	if KindOf(err) != KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("object must survive when the lock is unavailable")
	}
	jobs := listJobs(t, db)
	if len(jobs) != 1 || jobs[0].Status != JobFailed {
		t.Fatalf("expected failed job, got %+v", jobs)
	}
}
