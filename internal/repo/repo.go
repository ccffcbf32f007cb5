package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/payverse/exchange-service/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientFunds is returned when wallet balance is not enough.
var ErrInsufficientFunds = errors.New("insufficient funds")

// RepositoryInterface restricts Repo methods so services can be unit-tested
// against a narrow surface.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error

	CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error
	LedgerEntryByKey(ctx context.Context, tx *gorm.DB, walletID uint64, idemKey, entryType string) (*model.LedgerEntry, error)
	LedgerHistory(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.LedgerEntry, error)

	CreateCasinoTransaction(ctx context.Context, t *model.CasinoTransaction) error
	SaveCasinoTransaction(ctx context.Context, t *model.CasinoTransaction) error
	CasinoTransactionByID(ctx context.Context, transactionID string) (*model.CasinoTransaction, error)
	ActiveCasinoTransaction(ctx context.Context, userID uint64) (*model.CasinoTransaction, error)
	DueCasinoTransactions(ctx context.Context, now time.Time, limit int) ([]model.CasinoTransaction, error)
	StuckCasinoTransactions(ctx context.Context) ([]model.CasinoTransaction, error)

	GetCasinoLink(ctx context.Context, userID uint64) (*model.CasinoLink, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a wallet row.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).Create(w).Error
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("optimistic lock conflict")
	}
	return nil
}

// CreateLedgerEntry inserts an escrow movement record.
func (r *Repository) CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

// LedgerEntryByKey finds an earlier entry carrying the same idempotency key,
// so a replayed escrow operation returns the original result.
func (r *Repository) LedgerEntryByKey(ctx context.Context, tx *gorm.DB, walletID uint64, idemKey, entryType string) (*model.LedgerEntry, error) {
	if idemKey == "" {
		return nil, nil
	}
	var e model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("wallet_id=? AND idempotency_key=? AND type=?", walletID, idemKey, entryType).
		First(&e).Error
	if err == nil {
		return &e, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// LedgerHistory fetches recent entries for a wallet.
func (r *Repository) LedgerHistory(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id=? AND created_at>=?", walletID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CreateCasinoTransaction inserts a new exchange transaction. The unique
// index on active_key surfaces a concurrent in-flight transaction for the
// same user as a duplicate-key error.
func (r *Repository) CreateCasinoTransaction(ctx context.Context, t *model.CasinoTransaction) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// SaveCasinoTransaction persists the full row.
func (r *Repository) SaveCasinoTransaction(ctx context.Context, t *model.CasinoTransaction) error {
	return r.db.WithContext(ctx).Save(t).Error
}

// CasinoTransactionByID looks up by the external transaction ID.
func (r *Repository) CasinoTransactionByID(ctx context.Context, transactionID string) (*model.CasinoTransaction, error) {
	var t model.CasinoTransaction
	if err := r.db.WithContext(ctx).Where("transaction_id=?", transactionID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveCasinoTransaction returns the user's non-terminal transaction, or nil.
func (r *Repository) ActiveCasinoTransaction(ctx context.Context, userID uint64) (*model.CasinoTransaction, error) {
	var t model.CasinoTransaction
	err := r.db.WithContext(ctx).
		Where("user_id=? AND status NOT IN ?", userID, []model.Status{model.StatusCompleted, model.StatusFailed}).
		First(&t).Error
	if err == nil {
		return &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// DueCasinoTransactions scans for transactions whose retry is due, oldest
// first. manual_required rows are excluded; only an operator moves those.
func (r *Repository) DueCasinoTransactions(ctx context.Context, now time.Time, limit int) ([]model.CasinoTransaction, error) {
	var txns []model.CasinoTransaction
	err := r.db.WithContext(ctx).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ? AND status NOT IN ?",
			now, []model.Status{model.StatusCompleted, model.StatusFailed, model.StatusManualRequired}).
		Order("next_retry_at asc").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// StuckCasinoTransactions lists rows needing operator attention.
func (r *Repository) StuckCasinoTransactions(ctx context.Context) ([]model.CasinoTransaction, error) {
	var txns []model.CasinoTransaction
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.Status{model.StatusManualRequired, model.StatusFailed}).
		Order("updated_at desc").
		Find(&txns).Error
	return txns, err
}

// GetCasinoLink resolves the user's verified casino identity.
func (r *Repository) GetCasinoLink(ctx context.Context, userID uint64) (*model.CasinoLink, error) {
	var l model.CasinoLink
	if err := r.db.WithContext(ctx).Where("user_id=?", userID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(evt.EventType),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, fmt.Sprintf("balance:%d", walletID), bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("balance:%d", walletID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
