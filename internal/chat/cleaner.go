package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/db"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/metrics"
)

// Cleaner removes objects recorded in cleanup jobs unless a turn still
// references them.
type Cleaner struct {
	db          *gorm.DB
	objects     ObjectStore
	queue       CleanupQueue
	locker      Locker
	grace       time.Duration
	maxAttempts int
	log         zerolog.Logger
}

// DefaultMaxAttempts bounds how often the sweeper hands a job out again.
const DefaultMaxAttempts = 6

type CleanerOption func(*Cleaner)

// WithCleanerLocker makes the cleaner take the session lock of a job's object
// before checking and deleting it. Use the same locker as History.
func WithCleanerLocker(l Locker) CleanerOption {
	return func(c *Cleaner) {
		if l != nil {
			c.locker = l
		}
	}
}

func WithMaxAttempts(n int) CleanerOption {
	return func(c *Cleaner) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func NewCleaner(gdb *gorm.DB, objects ObjectStore, queue CleanupQueue, grace time.Duration, log zerolog.Logger, opts ...CleanerOption) *Cleaner {
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	c := &Cleaner{
		db:          gdb,
		objects:     objects,
		queue:       queue,
		locker:      NoopLocker,
		grace:       grace,
		maxAttempts: DefaultMaxAttempts,
		log:         log.With().Str("component", "chat-cleaner").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessJob runs one cleanup job. A job that is already finished or claimed
// by someone else is skipped without error.
func (c *Cleaner) ProcessJob(ctx context.Context, jobID string) error {
	return db.WithConn(ctx, c.db, func(conn *gorm.DB) error {
		repo := NewRepo(conn)

		j, err := repo.GetJobByID(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				metrics.RecordCleanup("missing")
				return newError(KindNotFound, "chat.ProcessJob", err)
			}
			return newError(KindDatabase, "chat.ProcessJob", err)
		}

		claimed, err := repo.ClaimJob(ctx, jobID)
		if err != nil {
			return newError(KindDatabase, "chat.ProcessJob", err)
		}
		if !claimed {
			metrics.RecordCleanup("skipped")
			return nil
		}

		unlock, err := c.lockSession(ctx, j.ObjectKey)
		if err != nil {
			c.markFailed(ctx, repo, jobID, err)
			return newError(KindUnavailable, "chat.ProcessJob", err)
		}
		err = removeUnreferenced(ctx, repo, c.objects, j.ObjectKey)
		unlock()
		if err != nil {
			c.markFailed(ctx, repo, jobID, err)
			return newError(KindStorage, "chat.ProcessJob", err)
		}

		if err := repo.MarkJobSucceeded(ctx, jobID); err != nil {
			return newError(KindDatabase, "chat.ProcessJob", err)
		}
		metrics.RecordCleanup("succeeded")
		return nil
	})
}

// Sweep republishes (or, without a queue, directly processes) unfinished jobs
// older than the grace period. It returns how many jobs it handled.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	var jobs []CleanupJob
	err := db.WithConn(ctx, c.db, func(conn *gorm.DB) error {
		var err error
		jobs, err = NewRepo(conn).ListStaleJobs(ctx, time.Now().Add(-c.grace), c.maxAttempts, 100)
		return err
	})
	if err != nil {
		return 0, newError(KindDatabase, "chat.Sweep", err)
	}

	handled := 0
	for _, j := range jobs {
		if j.Status == JobRunning {
			// a worker died mid-job; put it back
			if err := c.requeue(ctx, j.ID); err != nil {
				c.log.Warn().Err(err).Str("job_id", j.ID).Msg("requeue stuck job failed")
				continue
			}
		}
		if c.queue != nil {
			if err := c.queue.PublishJob(ctx, j.ID); err != nil {
				c.log.Warn().Err(err).Str("job_id", j.ID).Msg("publish stale job failed")
				continue
			}
			if err := NewRepo(c.db).TouchJob(ctx, j.ID); err != nil {
				c.log.Warn().Err(err).Str("job_id", j.ID).Msg("touch published job failed")
			}
		} else if err := c.ProcessJob(ctx, j.ID); err != nil {
			c.log.Warn().Err(err).Str("job_id", j.ID).Msg("process stale job failed")
			continue
		}
		handled++
	}
	if handled > 0 {
		c.log.Info().Int("jobs", handled).Msg("swept stale cleanup jobs")
	}
	return handled, nil
}

// Run sweeps every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.log.Error().Err(err).Msg("cleanup sweep failed")
			}
		}
	}
}

func (c *Cleaner) requeue(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ? AND status = ?", id, JobRunning).
		Update("status", JobQueued).Error
}

// lockSession takes the session lock of the session key belongs to. Keys
// that do not parse as attachment keys are not locked.
func (c *Cleaner) lockSession(ctx context.Context, key string) (func(), error) {
	ref, ok := sessionRefFromKey(key)
	if !ok {
		c.log.Warn().Str("key", key).Msg("object key has no session, cleaning without lock")
		return func() {}, nil
	}
	return c.locker.Lock(ctx, sessionLockName(ref))
}

func (c *Cleaner) markFailed(ctx context.Context, repo *Repo, jobID string, cause error) {
	if err := repo.MarkJobFailed(ctx, jobID, cause.Error()); err != nil {
		c.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to mark job failed")
	}
	metrics.RecordCleanup("failed")
}

// removeUnreferenced deletes key from the store unless a turn row still
// points at it. Callers must hold the session lock of key.
func removeUnreferenced(ctx context.Context, repo *Repo, objects ObjectStore, key string) error {
	n, err := repo.CountTurnsByImageKey(ctx, key)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return objects.Delete(ctx, key)
}
