package main

import (
	"context"
	"fmt"
	"time"

	"github.com/payverse/exchange-service/internal/casino"
	"github.com/payverse/exchange-service/internal/config"
	"github.com/payverse/exchange-service/internal/exchange"
	"github.com/payverse/exchange-service/internal/ledger"
	"github.com/payverse/exchange-service/internal/logger"
	"github.com/payverse/exchange-service/internal/repo"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const scanBatch = 100

// The retrier owns resumption: it scans for transactions whose next_retry_at
// is due and drives each from its persisted status.
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

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
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
	led := ledger.New(repository, cfg.Exchange.EscrowWalletID, log)
	casinoAPI := casino.NewClient(cfg.Casino, log)
	coord := exchange.NewCoordinator(repository, led, casinoAPI, cfg.Exchange, log)

	ticker := time.NewTicker(cfg.Exchange.ScanInterval())
	defer ticker.Stop()

	log.Info("exchange-retrier started")
	for range ticker.C {
		n, err := coord.ResumeDue(context.Background(), scanBatch)
		if err != nil {
			log.Errorf("scan due transactions: %v", err)
			continue
		}
		if n > 0 {
			log.Infof("resumed %d transactions", n)
		}
	}
}
