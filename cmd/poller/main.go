package main

import (
	"context"
	"fmt"
	"time"

	"github.com/payverse/exchange-service/internal/config"
	"github.com/payverse/exchange-service/internal/logger"
	"github.com/payverse/exchange-service/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// The poller ships outbox rows (balance:updated, admin:alert) to Kafka,
// where the notification service fans them out to live sessions and the
// admin channel.
func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.New()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Info("exchange-poller started")
	for range ticker.C {
		ctx := context.Background()
		events, err := repository.PollOutbox(ctx, 100)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			if err := repository.PublishEvent(ctx, evt); err != nil {
				log.Errorf("publish id=%d type=%s: %v", evt.ID, evt.EventType, err)
				continue
			}
			if err := repository.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorf("mark processed id=%d: %v", evt.ID, err)
			}
		}
	}
}
