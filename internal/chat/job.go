package chat

import "time"

type JobStatus string

const (
	// JobPending marks an upload that is still in flight.
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type JobReason string

const (
	ReasonUpload        JobReason = "upload"
	ReasonSessionDelete JobReason = "session_delete"
)

// CleanupJob records an object that may have to be removed from the store.
// Rows are written before the risky step and cleared once the object is
// either referenced by a turn or deleted.
type CleanupJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	ObjectKey string    `gorm:"type:varchar(100);index;not null"`
	Reason    JobReason `gorm:"type:varchar(32);not null"`
	Status    JobStatus `gorm:"type:varchar(16);index;not null"`
	Attempts  int       `gorm:"not null;default:0"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CleanupJob) TableName() string { return "chat_cleanup_jobs" }
