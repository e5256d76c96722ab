package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/common"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/db"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/metrics"
)

const DefaultPresignTTL = 1200 * time.Second

// History persists chat turns in the relational store and their attachments
// in the object store.
type History struct {
	db         *gorm.DB
	objects    ObjectStore
	locker     Locker
	queue      CleanupQueue
	presignTTL time.Duration
	log        zerolog.Logger
}

type HistoryOption func(*History)

func WithLocker(l Locker) HistoryOption {
	return func(h *History) {
		if l != nil {
			h.locker = l
		}
	}
}

func WithCleanupQueue(q CleanupQueue) HistoryOption {
	return func(h *History) { h.queue = q }
}

func WithPresignTTL(ttl time.Duration) HistoryOption {
	return func(h *History) {
		if ttl > 0 {
			h.presignTTL = ttl
		}
	}
}

func NewHistory(gdb *gorm.DB, objects ObjectStore, log zerolog.Logger, opts ...HistoryOption) *History {
	h := &History{
		db:         gdb,
		objects:    objects,
		locker:     NoopLocker,
		presignTTL: DefaultPresignTTL,
		log:        log.With().Str("component", "chat-history").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SaveTurn stores one turn. turn.ImageKey must be set exactly when att is
// non-nil; the object is uploaded before the row is inserted.
func (h *History) SaveTurn(ctx context.Context, turn *Turn, att *Attachment) error {
	const op = "chat.SaveTurn"

	if turn == nil {
		return newError(KindInvalid, op, errors.New("turn is nil"))
	}
	turn.SessionTime = NormalizeSessionTime(turn.SessionTime)
	ref := SessionRef{UserID: turn.UserID, PatientID: turn.PatientID, SessionTime: turn.SessionTime}
	if err := validateRef(ref); err != nil {
		return newError(KindInvalid, op, err)
	}
	if turn.ImageKey != nil && *turn.ImageKey == NoImage {
		turn.ImageKey = nil
	}
	if (turn.ImageKey == nil) != (att == nil) {
		h.log.Warn().
			Str("user_id", turn.UserID).
			Str("session_time", turn.SessionTime).
			Bool("has_key", turn.ImageKey != nil).
			Bool("has_payload", att != nil).
			Msg("rejecting turn with mismatched attachment")
		return newError(KindInvalid, op, ErrAttachmentMismatch)
	}
	if turn.ImageKey != nil {
		if err := checkObjectKey(ref, *turn.ImageKey); err != nil {
			return newError(KindInvalid, op, err)
		}
	}

	unlock, err := h.locker.Lock(ctx, sessionLockName(ref))
	if err != nil {
		return newError(KindUnavailable, op, err)
	}
	defer unlock()

	err = db.WithConn(ctx, h.db, func(conn *gorm.DB) error {
		repo := NewRepo(conn)
		if att == nil {
			if err := repo.InsertTurn(ctx, turn); err != nil {
				return newError(KindDatabase, op, err)
			}
			return nil
		}
		return h.saveWithAttachment(ctx, repo, turn, att)
	})
	if err != nil {
		return err
	}
	metrics.RecordTurnSaved(turn.Role, turn.ImageKey != nil)
	return nil
}

// saveWithAttachment writes a pending cleanup job, uploads the object and then
// inserts the row while clearing the job in one transaction. A crash at any
// point leaves the job behind for the cleaner.
func (h *History) saveWithAttachment(ctx context.Context, repo *Repo, turn *Turn, att *Attachment) error {
	const op = "chat.SaveTurn"
	key := *turn.ImageKey

	jobID, err := common.NewULID()
	if err != nil {
		return newError(KindInternal, op, err)
	}
	job := &CleanupJob{ID: jobID, ObjectKey: key, Reason: ReasonUpload, Status: JobPending}
	if err := repo.CreateJob(ctx, job); err != nil {
		return newError(KindDatabase, op, err)
	}

	if err := h.objects.Put(ctx, key, att.Body, att.Size, att.ContentType); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("upload failed")
		h.enqueue(ctx, repo, jobID)
		return newError(KindStorage, op, err)
	}

	err = repo.Transaction(ctx, func(tx *Repo) error {
		if err := tx.InsertTurn(ctx, turn); err != nil {
			return err
		}
		return tx.DeleteJob(ctx, jobID)
	})
	if err == nil {
		return nil
	}

	h.log.Error().Err(err).Str("key", key).Msg("insert failed after upload, removing object")
	if delErr := removeUnreferenced(ctx, repo, h.objects, key); delErr != nil {
		h.log.Error().Err(delErr).Str("key", key).Msg("compensating delete failed")
		h.enqueue(ctx, repo, jobID)
	} else if jobErr := repo.DeleteJob(ctx, jobID); jobErr != nil {
		h.log.Warn().Err(jobErr).Str("job_id", jobID).Msg("failed to clear cleanup job")
	}
	return newError(KindDatabase, op, err)
}

// LoadTurns returns the turns of one session in insertion order with every
// attachment key replaced by a presigned URL.
func (h *History) LoadTurns(ctx context.Context, userID, patientID, sessionTime string) ([]TurnView, error) {
	const op = "chat.LoadTurns"

	ref := SessionRef{UserID: userID, PatientID: patientID, SessionTime: NormalizeSessionTime(sessionTime)}
	if err := validateRef(ref); err != nil {
		return nil, newError(KindInvalid, op, err)
	}

	var turns []Turn
	err := db.WithConn(ctx, h.db, func(conn *gorm.DB) error {
		var err error
		turns, err = NewRepo(conn).ListTurns(ctx, ref.UserID, ref.PatientID, ref.SessionTime)
		return err
	})
	if err != nil {
		return nil, newError(KindDatabase, op, err)
	}

	views := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		v := TurnView{Role: t.Role, Message: t.Message, ImageKey: NoImage}
		if t.HasImage() {
			url, err := h.objects.Sign(ctx, *t.ImageKey, h.presignTTL)
			if err != nil {
				return nil, newError(KindStorage, op, err)
			}
			v.ImageKey = url
		}
		views = append(views, v)
	}
	metrics.RecordTurnsLoaded(len(views))
	return views, nil
}

// ListSessions returns the session keys of a (user, patient) pair in
// ascending order. An empty slice means there are none.
func (h *History) ListSessions(ctx context.Context, userID, patientID string) ([]string, error) {
	const op = "chat.ListSessions"

	if err := validateIdentifier(userID); err != nil {
		return nil, newError(KindInvalid, op, err)
	}
	if err := validateIdentifier(patientID); err != nil {
		return nil, newError(KindInvalid, op, err)
	}

	var sessions []string
	err := db.WithConn(ctx, h.db, func(conn *gorm.DB) error {
		var err error
		sessions, err = NewRepo(conn).ListSessions(ctx, userID, patientID)
		return err
	})
	if err != nil {
		return nil, newError(KindDatabase, op, err)
	}
	return sessions, nil
}

// DeleteSession removes every turn of a session together with its objects.
// Rows go first, in one transaction that also records a cleanup job per
// object; objects are then deleted inline and jobs that fail are left for the
// worker. Deleting an unknown session is a no-op.
func (h *History) DeleteSession(ctx context.Context, userID, patientID, sessionTime string) error {
	const op = "chat.DeleteSession"

	ref := SessionRef{UserID: userID, PatientID: patientID, SessionTime: NormalizeSessionTime(sessionTime)}
	if err := validateRef(ref); err != nil {
		return newError(KindInvalid, op, err)
	}

	unlock, err := h.locker.Lock(ctx, sessionLockName(ref))
	if err != nil {
		return newError(KindUnavailable, op, err)
	}
	defer unlock()

	return db.WithConn(ctx, h.db, func(conn *gorm.DB) error {
		repo := NewRepo(conn)

		var jobs []CleanupJob
		err := repo.Transaction(ctx, func(tx *Repo) error {
			turns, err := tx.ListTurns(ctx, ref.UserID, ref.PatientID, ref.SessionTime)
			if err != nil {
				return err
			}
			seen := make(map[string]struct{})
			for _, t := range turns {
				if !t.HasImage() {
					continue
				}
				if _, dup := seen[*t.ImageKey]; dup {
					continue
				}
				seen[*t.ImageKey] = struct{}{}

				id, err := common.NewULID()
				if err != nil {
					return err
				}
				job := CleanupJob{ID: id, ObjectKey: *t.ImageKey, Reason: ReasonSessionDelete, Status: JobQueued}
				if err := tx.CreateJob(ctx, &job); err != nil {
					return err
				}
				jobs = append(jobs, job)
			}
			_, err = tx.DeleteTurns(ctx, ref.UserID, ref.PatientID, ref.SessionTime)
			return err
		})
		if err != nil {
			return newError(KindDatabase, op, err)
		}

		for _, job := range jobs {
			if err := h.objects.Delete(ctx, job.ObjectKey); err != nil {
				h.log.Error().Err(err).Str("key", job.ObjectKey).Msg("object delete failed, deferring to cleanup worker")
				h.publish(ctx, job.ID)
				continue
			}
			if err := repo.DeleteJob(ctx, job.ID); err != nil {
				h.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to clear cleanup job")
			}
		}
		return nil
	})
}

func (h *History) enqueue(ctx context.Context, repo *Repo, jobID string) {
	if err := repo.MarkJobQueued(ctx, jobID); err != nil {
		h.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to queue cleanup job")
	}
	h.publish(ctx, jobID)
}

func (h *History) publish(ctx context.Context, jobID string) {
	if h.queue == nil {
		return
	}
	if err := h.queue.PublishJob(ctx, jobID); err != nil {
		h.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to publish cleanup job, sweeper will pick it up")
	}
}
