package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/ai"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/chat"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/config"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/db"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/httpapi"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/httpapi/handlers"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/logger"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/objectstore"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/store/rabbitmq"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg, cfg.MySQLDatabase, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer func() { _ = db.Close(gdb) }()
	if cfg.DBAutoMigrate {
		if err := chat.NewRepo(gdb).EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate schema")
		}
	}

	store, err := objectstore.NewS3Store(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init object store")
	}

	opts := []chat.HistoryOption{chat.WithPresignTTL(cfg.S3PresignTTL)}
	checks := []handlers.ReadyCheck{
		{Name: "database", Check: func(ctx context.Context) error { return db.Ping(ctx, gdb) }},
		{Name: "object_store", Check: store.Health},
	}

	var locker chat.Locker
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionLockTTL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rds.Close()
		locker = rds
		opts = append(opts, chat.WithLocker(rds))
		checks = append(checks, handlers.ReadyCheck{Name: "redis", Check: rds.Ping})
	} else {
		log.Warn().Msg("REDIS_ADDR not set; session writes are not serialized across instances")
	}

	var queue chat.CleanupQueue
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("connect rabbitmq")
		}
		defer pub.Close()
		queue = pub
		opts = append(opts, chat.WithCleanupQueue(pub))
	}

	history := chat.NewHistory(gdb, store, log, opts...)
	reg, transcriber := newAI(cfg)
	svc := chat.NewService(history, reg, transcriber, chat.Models{
		Provider: cfg.AIProvider,
		Chat:     cfg.ChatModel,
		Classify: cfg.ClassifyModel,
	}, log)

	if cfg.CleanupSweepInterval > 0 {
		cleaner := chat.NewCleaner(gdb, store, queue, cfg.CleanupGrace, log, chat.WithCleanerLocker(locker))
		go cleaner.Run(ctx, cfg.CleanupSweepInterval)
	}

	h := handlers.NewHandler(cfg, svc, log, checks...)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.NewRouter(cfg, h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("prefix", cfg.RoutePrefix).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// newAI registers the configured chat provider and, for OpenAI, the
// transcription client.
func newAI(cfg *config.Config) (*ai.Registry, ai.Transcriber) {
	reg := ai.NewRegistry()
	ai.RegisterOpenAICompatible(reg, cfg.AIProvider, cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.AITimeout)
	if cfg.AIProvider != "openai" {
		ai.RegisterOpenAICompatible(reg, "openai", cfg.OpenAIAPIKey, "", cfg.AITimeout)
	}
	if cfg.OpenAIAPIKey == "" {
		return reg, nil
	}
	client := ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.AITimeout)
	return reg, ai.NewOpenAITranscriber(client, cfg.TranscribeModel)
}
