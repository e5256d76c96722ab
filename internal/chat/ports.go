package chat

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the subset of object storage the chat history needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	Sign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Locker serializes writers of one session.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// CleanupQueue hands cleanup job ids to the worker.
type CleanupQueue interface {
	PublishJob(ctx context.Context, jobID string) error
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

// NoopLocker does not serialize anything.
var NoopLocker Locker = noopLocker{}

// Attachment is an image payload submitted with a turn.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}
