package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/payverse/exchange-service/internal/model"
	"github.com/payverse/exchange-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidAmount means non-positive amount passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// Ledger moves PHPT between user wallets and the house escrow wallet. Both
// directions run inside one database transaction and are idempotent on the
// caller-supplied key, so a resumed exchange leg never moves money twice.
type Ledger struct {
	repo     repo.RepositoryInterface
	escrowID uint64
	log      *zap.SugaredLogger
}

// New returns a Ledger backed by the given repository. escrowID is the
// reserved wallet holding escrowed funds.
func New(r repo.RepositoryInterface, escrowID uint64, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{repo: r, escrowID: escrowID, log: logger}
}

// Debit moves amount from the user's wallet into escrow. Fails with
// repo.ErrInsufficientFunds when the balance does not cover it; nothing is
// written in that case. Returns the user-side ledger entry ID.
func (l *Ledger) Debit(ctx context.Context, userID uint64, amount decimal.Decimal, key string) (uint64, error) {
	return l.move(ctx, userID, amount, key, model.EntryEscrowDebit)
}

// Credit moves amount from escrow back to the user's wallet. Used for sell
// payouts and buy refunds. The escrow side is the house book and may go
// negative; only store availability can fail this.
func (l *Ledger) Credit(ctx context.Context, userID uint64, amount decimal.Decimal, key string) (uint64, error) {
	return l.move(ctx, userID, amount, key, model.EntryEscrowCredit)
}

func (l *Ledger) move(ctx context.Context, userID uint64, amount decimal.Decimal, key, entryType string) (uint64, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidAmount
	}
	var entryID uint64
	err := l.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		prior, err := l.repo.LedgerEntryByKey(ctx, tx, userID, key, entryType)
		if err != nil {
			return err
		}
		if prior != nil {
			entryID = prior.ID
			return nil
		}

		user, escrow, err := l.lockPair(ctx, tx, userID, entryType)
		if err != nil {
			return err
		}

		var newUser, newEscrow decimal.Decimal
		if entryType == model.EntryEscrowDebit {
			if user.Balance.LessThan(amount) {
				return repo.ErrInsufficientFunds
			}
			newUser = user.Balance.Sub(amount)
			newEscrow = escrow.Balance.Add(amount)
		} else {
			newUser = user.Balance.Add(amount)
			newEscrow = escrow.Balance.Sub(amount)
		}

		if err := l.repo.UpdateWallet(ctx, tx, userID, newUser, user.Version); err != nil {
			return err
		}
		if err := l.repo.UpdateWallet(ctx, tx, l.escrowID, newEscrow, escrow.Version); err != nil {
			return err
		}

		userEntry := &model.LedgerEntry{
			WalletID: userID, Type: entryType, Amount: amount,
			BalanceBefore: user.Balance, BalanceAfter: newUser,
			RelatedWalletID: &l.escrowID, IdempotencyKey: &key,
		}
		escrowEntry := &model.LedgerEntry{
			WalletID: l.escrowID, Type: entryType, Amount: amount,
			BalanceBefore: escrow.Balance, BalanceAfter: newEscrow,
			RelatedWalletID: &userID, IdempotencyKey: &key,
		}
		if err := l.repo.CreateLedgerEntry(ctx, tx, userEntry); err != nil {
			return err
		}
		if err := l.repo.CreateLedgerEntry(ctx, tx, escrowEntry); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"user_id": userID, "balance": newUser, "type": entryType,
		})
		evt := &model.OutboxEvent{
			Aggregate: "Wallet", AggregateID: userID,
			EventType: model.EventBalanceUpdated, Payload: string(payload),
		}
		if err := l.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		if err := l.repo.CacheBalance(ctx, userID, newUser); err != nil {
			l.log.Warnw("cache balance", "wallet", userID, "err", err)
		}
		entryID = userEntry.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return entryID, nil
}

// lockPair locks the user and escrow wallets in deterministic ID order,
// auto-creating missing rows. A missing user wallet on debit is treated as
// insufficient funds, matching a zero balance.
func (l *Ledger) lockPair(ctx context.Context, tx *gorm.DB, userID uint64, entryType string) (*model.Wallet, *model.Wallet, error) {
	firstID, secondID := userID, l.escrowID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	lock := func(id uint64) (*model.Wallet, error) {
		w, err := l.repo.GetWalletForUpdate(ctx, tx, id)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if id == userID && entryType == model.EntryEscrowDebit {
			return nil, repo.ErrInsufficientFunds
		}
		w = &model.Wallet{ID: id, Balance: decimal.Zero}
		if err := l.repo.CreateWallet(ctx, tx, w); err != nil {
			return nil, err
		}
		return w, nil
	}
	w1, err := lock(firstID)
	if err != nil {
		return nil, nil, err
	}
	w2, err := lock(secondID)
	if err != nil {
		return nil, nil, err
	}
	if firstID == userID {
		return w1, w2, nil
	}
	return w2, w1, nil
}

// GetBalance returns current wallet balance, cache first.
func (l *Ledger) GetBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	bal, err := l.repo.GetCachedBalance(ctx, walletID)
	if err == nil {
		return bal, nil
	}
	var w model.Wallet
	if err := l.repo.DB(ctx).Where("id=?", walletID).First(&w).Error; err != nil {
		return decimal.Zero, err
	}
	_ = l.repo.CacheBalance(ctx, walletID, w.Balance)
	return w.Balance, nil
}

// History fetches recent ledger entries for a wallet.
func (l *Ledger) History(ctx context.Context, walletID uint64, limit int, since time.Time) ([]model.LedgerEntry, error) {
	return l.repo.LedgerHistory(ctx, walletID, limit, since)
}
