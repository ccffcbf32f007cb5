package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/payverse/exchange-service/internal/casino"
	"github.com/payverse/exchange-service/internal/config"
	"github.com/payverse/exchange-service/internal/exchange"
	"github.com/payverse/exchange-service/internal/ledger"
	"github.com/payverse/exchange-service/internal/logger"
	"github.com/payverse/exchange-service/internal/model"
	"github.com/payverse/exchange-service/internal/repo"
	httptransport "github.com/payverse/exchange-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

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
	if err := gdb.AutoMigrate(
		&model.Wallet{}, &model.LedgerEntry{}, &model.CasinoTransaction{},
		&model.CasinoLink{}, &model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	repository := repo.NewRepository(gdb, rdb, kw, log)
	led := ledger.New(repository, cfg.Exchange.EscrowWalletID, log)
	casinoAPI := casino.NewClient(cfg.Casino, log)
	coord := exchange.NewCoordinator(repository, led, casinoAPI, cfg.Exchange, log)

	router := httptransport.NewRouter(coord, led, cfg.RateLimit, log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("exchange-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
