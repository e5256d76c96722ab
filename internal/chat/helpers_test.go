package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const testBucketHost = "https://test-bucket.s3.us-east-1.amazonaws.com"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_", "?", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := NewRepo(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// memStore is an in-memory ObjectStore whose signed URLs can be resolved
// back to the stored bytes.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	putErr    error
	deleteErr error
	deletes   []string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *memStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_ = ctx
	_ = size
	if s.putErr != nil {
		return s.putErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	s.types[key] = contentType
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deletes = append(s.deletes, key)
	return nil
}

func (s *memStore) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	_ = ctx
	return fmt.Sprintf("%s/%s?X-Amz-Expires=%d", testBucketHost, key, int(ttl.Seconds())), nil
}

// fetch resolves a URL produced by Sign.
func (s *memStore) fetch(raw string) ([]byte, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	key := strings.TrimPrefix(u.Path, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *recordingQueue) PublishJob(ctx context.Context, jobID string) error {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, jobID)
	return nil
}

type recordingLocker struct {
	mu      sync.Mutex
	names   []string
	held    int
	lockErr error
}

func (l *recordingLocker) Lock(ctx context.Context, name string) (func(), error) {
	_ = ctx
	if l.lockErr != nil {
		return nil, l.lockErr
	}
	l.mu.Lock()
	l.names = append(l.names, name)
	l.held++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.held--
		l.mu.Unlock()
	}, nil
}

func newTestHistory(t *testing.T) (*History, *gorm.DB, *memStore, *recordingQueue) {
	t.Helper()
	db := openTestDB(t)
	store := newMemStore()
	queue := &recordingQueue{}
	h := NewHistory(db, store, zerolog.Nop(), WithCleanupQueue(queue))
	return h, db, store, queue
}

func attachment(name string, data []byte) *Attachment {
	return &Attachment{
		Filename:    name,
		ContentType: "image/png",
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}
}

func strPtr(s string) *string { return &s }

func countTurns(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&Turn{}).Count(&n).Error; err != nil {
		t.Fatalf("count turns: %v", err)
	}
	return n
}

func listJobs(t *testing.T, db *gorm.DB) []CleanupJob {
	t.Helper()
	var jobs []CleanupJob
	if err := db.Order("created_at ASC").Find(&jobs).Error; err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	return jobs
}

func failTurnInserts(t *testing.T, db *gorm.DB) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_chat_insert", func(tx *gorm.DB) {
		if tx.Statement.Table == "chat" {
			_ = tx.AddError(errors.New("insert rejected"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
