package main

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/chat"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/objectstore"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/store/rabbitmq"
)

func TestHandleJob_MissingJobIsPermanent(t *testing.T) {
	gdb, err := gorm.Open(gormsqlite.Open("file:worker_handle_job?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := chat.NewRepo(gdb).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	cleaner := chat.NewCleaner(gdb, &objectstore.S3Store{}, nil, time.Minute, zerolog.Nop())
	err = handleJob(context.Background(), cleaner, "does-not-exist")
	if !errors.Is(err, rabbitmq.ErrPermanent) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
}
