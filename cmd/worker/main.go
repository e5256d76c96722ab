package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/chat"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/config"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/db"
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
	log := logger.New(cfg).With().Str("component", "cleanup-worker").Logger()
	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBIT_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg, cfg.MySQLDatabase, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer func() { _ = db.Close(gdb) }()

	store, err := objectstore.NewS3Store(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init object store")
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer pub.Close()

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit consumer")
	}
	defer consumer.Close()

	msgs, err := consumer.Consume()
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	cleanerOpts := []chat.CleanerOption{chat.WithMaxAttempts(rabbitmq.DefaultMaxRetries + 1)}
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionLockTTL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rds.Close()
		cleanerOpts = append(cleanerOpts, chat.WithCleanerLocker(rds))
	} else {
		log.Warn().Msg("REDIS_ADDR not set; cleanup does not coordinate with concurrent uploads")
	}

	cleaner := chat.NewCleaner(gdb, store, pub, cfg.CleanupGrace, log, cleanerOpts...)
	sweepEvery := cfg.CleanupSweepInterval
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	go cleaner.Run(ctx, sweepEvery)

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				del, err := consumer.Decode(d)
				if err != nil {
					log.Warn().Err(err).Int("worker", workerID).Msg("bad message")
					continue
				}

				start := time.Now()
				jobErr := handleJob(ctx, cleaner, del.JobID)
				if jobErr != nil {
					log.Error().Err(jobErr).
						Int("worker", workerID).
						Str("job_id", del.JobID).
						Int("attempt", del.Attempt).
						Dur("cost", time.Since(start)).
						Msg("cleanup job failed")
				} else if cost := time.Since(start); cost > 2*time.Second {
					log.Info().Str("job_id", del.JobID).Dur("total", cost).Msg("job_timing")
				}

				if err := consumer.Settle(ctx, del, jobErr); err != nil {
					log.Warn().Err(err).Int("worker", workerID).Str("job_id", del.JobID).Msg("settle failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error().Msg("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// handleJob runs one cleanup job. A job that no longer exists will never
// succeed, so it is dead-lettered instead of retried.
func handleJob(ctx context.Context, cleaner *chat.Cleaner, jobID string) error {
	err := cleaner.ProcessJob(ctx, jobID)
	if chat.KindOf(err) == chat.KindNotFound {
		return errors.Join(rabbitmq.ErrPermanent, err)
	}
	return err
}
