package exchange

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/payverse/exchange-service/internal/model"
	"gorm.io/gorm"
)

// Decision is an operator's verdict on a stuck transaction.
type Decision string

const (
	// DecisionMarkResolved closes the transaction as failed without moving
	// money; the operator restored consistency out of band.
	DecisionMarkResolved Decision = "mark_resolved"
	// DecisionForceRefund replays the compensating leg ignoring budgets,
	// then closes as failed.
	DecisionForceRefund Decision = "force_refund"
	// DecisionForceComplete closes as completed; the operator confirmed both
	// legs landed.
	DecisionForceComplete Decision = "force_complete"
)

// ListStuck returns transactions needing operator attention, with their full
// diagnostic fields.
func (c *Coordinator) ListStuck(ctx context.Context) ([]model.CasinoTransaction, error) {
	return c.repo.StuckCasinoTransactions(ctx)
}

// Resolve applies an operator decision to a manual_required transaction and
// records the audit trail. This is the only path out of manual_required.
func (c *Coordinator) Resolve(ctx context.Context, transactionID string, decision Decision, operator, note string) (*model.CasinoTransaction, error) {
	txn, err := c.repo.CasinoTransactionByID(ctx, transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if txn.Status != model.StatusManualRequired {
		return nil, ErrNotResolvable
	}

	now := time.Now()
	txn.ResolvedBy = &operator
	txn.ResolvedAt = &now
	txn.ResolutionNote = &note

	switch decision {
	case DecisionForceComplete:
		err = c.transition(ctx, txn, model.StatusCompleted)
	case DecisionMarkResolved:
		err = c.transition(ctx, txn, model.StatusFailed)
	case DecisionForceRefund:
		if err = c.forceRefund(ctx, txn); err != nil {
			return nil, err
		}
		err = c.transition(ctx, txn, model.StatusFailed)
	default:
		return nil, ErrUnknownDecision
	}
	if err != nil {
		return nil, err
	}
	c.log.Infow("transaction resolved",
		"transaction_id", txn.TransactionID, "decision", decision, "operator", operator)
	return txn, nil
}

// forceRefund replays the compensating leg under the same idempotency
// key/nonce the automated rollback used, so a half-applied rollback is not
// doubled.
func (c *Coordinator) forceRefund(ctx context.Context, txn *model.CasinoTransaction) error {
	if txn.Type == model.TypeBuy {
		entryID, err := c.ledger.Credit(ctx, txn.UserID, txn.Amount, refundKey(txn))
		if err != nil {
			return err
		}
		ref := strconv.FormatUint(entryID, 10)
		txn.RollbackTxID = &ref
		return nil
	}
	link, err := c.resolveLink(ctx, txn.UserID)
	if err != nil {
		return err
	}
	res, err := c.casino.CreditChips(ctx, link.CasinoUsername, link.AgentUsername,
		txn.Amount.Mul(c.rate), rollbackNonce(txn))
	if err != nil {
		return err
	}
	txn.RollbackTxID = &res.RemoteTxID
	return nil
}
