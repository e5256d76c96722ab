package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// EnsureSchema creates the chat and cleanup job tables when absent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Turn{}, &CleanupJob{})
}

func (r *Repo) DropSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).Migrator().DropTable(&Turn{}, &CleanupJob{})
}

func (r *Repo) InsertTurn(ctx context.Context, t *Turn) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// ListSessions returns the distinct session keys of a (user, patient) pair in
// ascending order.
func (r *Repo) ListSessions(ctx context.Context, userID, patientID string) ([]string, error) {
	sessions := make([]string, 0)
	err := r.db.WithContext(ctx).
		Model(&Turn{}).
		Distinct("session_time").
		Where("user_id = ? AND patient_id = ?", userID, patientID).
		Order("session_time ASC").
		Pluck("session_time", &sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListTurns returns the turns of one session in ASC id order (oldest -> newest).
func (r *Repo) ListTurns(ctx context.Context, userID, patientID, sessionTime string) ([]Turn, error) {
	turns := make([]Turn, 0)
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND patient_id = ? AND session_time = ?", userID, patientID, sessionTime).
		Order("id ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

// DeleteTurns removes every turn of one session. Deleting an unknown session
// affects zero rows and is not an error.
func (r *Repo) DeleteTurns(ctx context.Context, userID, patientID, sessionTime string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND patient_id = ? AND session_time = ?", userID, patientID, sessionTime).
		Delete(&Turn{})
	return res.RowsAffected, res.Error
}

func (r *Repo) CountTurnsByImageKey(ctx context.Context, key string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Turn{}).Where("image_key = ?", key).Count(&n).Error
	return n, err
}

// Transaction runs fn with a Repo bound to one database transaction.
func (r *Repo) Transaction(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepo(tx))
	})
}

// Cleanup job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *CleanupJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*CleanupJob, error) {
	var j CleanupJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repo) DeleteJob(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&CleanupJob{}, "id = ?", id).Error
}

func (r *Repo) MarkJobQueued(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobPending, JobFailed}).
		Update("status", JobQueued).Error
}

// ClaimJob moves a job to running. It reports false when another worker got
// there first or the job is already finished.
func (r *Repo) ClaimJob(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobPending, JobQueued, JobFailed}).
		Updates(map[string]any{
			"status":   JobRunning,
			"attempts": gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}

// ListStaleJobs returns unfinished jobs last touched before cutoff that have
// been attempted fewer than maxAttempts times, oldest first.
func (r *Repo) ListStaleJobs(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]CleanupJob, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []JobStatus{JobPending, JobQueued, JobFailed, JobRunning}, cutoff)
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	var jobs []CleanupJob
	if err := q.Order("created_at ASC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// TouchJob bumps updated_at so the sweeper leaves the job alone for another
// grace period.
func (r *Repo) TouchJob(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&CleanupJob{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", time.Now()).Error
}
