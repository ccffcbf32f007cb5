package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/payverse/exchange-service/internal/casino"
	"github.com/payverse/exchange-service/internal/config"
	"github.com/payverse/exchange-service/internal/ledger"
	"github.com/payverse/exchange-service/internal/metrics"
	"github.com/payverse/exchange-service/internal/model"
	"github.com/payverse/exchange-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Coordinator runs the two-legged PHPT<->chip exchange. Each transaction
// persists its status, nonce and escrow reference before any external call,
// so a crashed or timed-out leg resumes from the recorded state instead of
// repeating completed work.
type Coordinator struct {
	repo   repo.RepositoryInterface
	ledger *ledger.Ledger
	casino casino.API
	cfg    config.ExchangeConfig
	rate   decimal.Decimal
	log    *zap.SugaredLogger
}

func NewCoordinator(r repo.RepositoryInterface, l *ledger.Ledger, api casino.API, cfg config.ExchangeConfig, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{repo: r, ledger: l, casino: api, cfg: cfg, rate: cfg.Rate(), log: logger}
}

// InitiateBuy converts PHPT to casino chips: escrow debit first, then a chip
// credit at the casino.
func (c *Coordinator) InitiateBuy(ctx context.Context, userID uint64, amount decimal.Decimal) (*model.CasinoTransaction, error) {
	return c.initiate(ctx, userID, amount, model.TypeBuy)
}

// InitiateSell converts casino chips to PHPT: chip debit at the casino
// first (the casino balance is authoritative and the harder side to reverse),
// then an escrow payout.
func (c *Coordinator) InitiateSell(ctx context.Context, userID uint64, amount decimal.Decimal) (*model.CasinoTransaction, error) {
	return c.initiate(ctx, userID, amount, model.TypeSell)
}

// GetStatus looks a transaction up by its external ID.
func (c *Coordinator) GetStatus(ctx context.Context, transactionID string) (*model.CasinoTransaction, error) {
	txn, err := c.repo.CasinoTransactionByID(ctx, transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return txn, err
}

func (c *Coordinator) initiate(ctx context.Context, userID uint64, amount decimal.Decimal, txType string) (*model.CasinoTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ledger.ErrInvalidAmount
	}
	link, err := c.resolveLink(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active, err := c.repo.ActiveCasinoTransaction(ctx, userID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrConcurrentTransaction
	}

	activeKey := strconv.FormatUint(userID, 10)
	txn := &model.CasinoTransaction{
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		Status:        model.StatusInitiated,
		TransactionID: uuid.NewString(),
		CasinoNonce:   uuid.NewString(),
		MaxRetries:    c.cfg.MaxRetries,
		ActiveKey:     &activeKey,
	}
	if err := c.repo.CreateCasinoTransaction(ctx, txn); err != nil {
		// the active_key unique index backstops the check above against a
		// concurrent create racing past it
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrConcurrentTransaction
		}
		return nil, err
	}
	c.log.Infow("exchange initiated",
		"transaction_id", txn.TransactionID, "user", userID, "type", txType, "amount", amount)

	if txType == model.TypeBuy {
		err = c.runBuy(ctx, txn, link)
	} else {
		err = c.runSell(ctx, txn, link)
	}
	return txn, err
}

func (c *Coordinator) resolveLink(ctx context.Context, userID uint64) (*model.CasinoLink, error) {
	link, err := c.repo.GetCasinoLink(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotLinked
	}
	return link, err
}

// runBuy drives a buy transaction forward from its current status. Called
// both on the initial request and from the retry scheduler.
func (c *Coordinator) runBuy(ctx context.Context, txn *model.CasinoTransaction, link *model.CasinoLink) error {
	if txn.Status == model.StatusInitiated {
		entryID, err := c.ledger.Debit(ctx, txn.UserID, txn.Amount, escrowKey(txn))
		if errors.Is(err, repo.ErrInsufficientFunds) {
			// nothing moved; terminal failure, no rollback
			if ferr := c.fail(ctx, txn, model.StepEscrowTransfer, err.Error()); ferr != nil {
				return ferr
			}
			return err
		}
		if err != nil {
			// ledger store unavailable
			return c.scheduleRetry(ctx, txn, model.StepEscrowTransfer, err.Error())
		}
		txn.EscrowTxID = &entryID
		if err := c.transition(ctx, txn, model.StatusEscrowDebited); err != nil {
			return err
		}
	}
	if txn.Status == model.StatusEscrowDebited {
		return c.buyCasinoLeg(ctx, txn, link)
	}
	if txn.Status == model.StatusRefundPending {
		return c.refundLeg(ctx, txn)
	}
	return nil
}

func (c *Coordinator) buyCasinoLeg(ctx context.Context, txn *model.CasinoTransaction, link *model.CasinoLink) error {
	chips := txn.Amount.Mul(c.rate)
	res, err := c.casino.CreditChips(ctx, link.CasinoUsername, link.AgentUsername, chips, txn.CasinoNonce)
	if err == nil {
		txn.CasinoResponseID = &res.RemoteTxID
		if terr := c.transition(ctx, txn, model.StatusCasinoDebited); terr != nil {
			return terr
		}
		return c.transition(ctx, txn, model.StatusCompleted)
	}
	if casino.IsTransient(err) {
		return c.scheduleRetry(ctx, txn, model.StepCasinoCredit, err.Error())
	}
	// permanent rejection: give the escrowed PHPT back
	setFailure(txn, model.StepCasinoCredit, err.Error())
	if terr := c.transition(ctx, txn, model.StatusRefundPending); terr != nil {
		return terr
	}
	return c.refundLeg(ctx, txn)
}

// refundLeg compensates a buy whose casino leg failed: credits the escrowed
// amount back to the user. Attempts are bounded by the rollback budget,
// independent of the main retry budget.
func (c *Coordinator) refundLeg(ctx context.Context, txn *model.CasinoTransaction) error {
	now := time.Now()
	txn.RollbackAttempts++
	txn.LastRollbackAt = &now

	entryID, err := c.ledger.Credit(ctx, txn.UserID, txn.Amount, refundKey(txn))
	if err == nil {
		ref := strconv.FormatUint(entryID, 10)
		txn.RollbackTxID = &ref
		c.log.Infow("refund applied", "transaction_id", txn.TransactionID, "ledger_entry", entryID)
		// user made whole; the exchange itself did not happen
		return c.transition(ctx, txn, model.StatusFailed)
	}
	if txn.RollbackAttempts >= c.cfg.MaxRollbackAttempts {
		return c.escalate(ctx, txn, model.StepRefund, "rollback budget exhausted: "+err.Error())
	}
	return c.scheduleRollbackRetry(ctx, txn, model.StepRefund, err.Error())
}

// runSell drives a sell transaction forward from its current status.
func (c *Coordinator) runSell(ctx context.Context, txn *model.CasinoTransaction, link *model.CasinoLink) error {
	if txn.Status == model.StatusInitiated {
		chips := txn.Amount.Mul(c.rate)
		res, err := c.casino.DebitChips(ctx, link.CasinoUsername, link.AgentUsername, chips, txn.CasinoNonce)
		if err != nil {
			if casino.IsTransient(err) {
				return c.scheduleRetry(ctx, txn, model.StepCasinoDebit, err.Error())
			}
			// nothing moved; terminal failure, no rollback
			if ferr := c.fail(ctx, txn, model.StepCasinoDebit, err.Error()); ferr != nil {
				return ferr
			}
			if casino.ErrCode(err) == casino.CodeInsufficientBalance {
				return ErrInsufficientChips
			}
			return nil
		}
		txn.CasinoResponseID = &res.RemoteTxID
		if err := c.transition(ctx, txn, model.StatusCasinoDebited); err != nil {
			return err
		}
	}
	if txn.Status == model.StatusCasinoDebited {
		if err := c.transition(ctx, txn, model.StatusPayoutPending); err != nil {
			return err
		}
	}
	if txn.Status == model.StatusPayoutPending {
		return c.payoutLeg(ctx, txn, link)
	}
	if txn.Status == model.StatusRedepositPending {
		return c.redepositLeg(ctx, txn, link)
	}
	return nil
}

// payoutLeg credits the escrow payout to the user's PHPT wallet. Ledger
// failures are availability problems and retried within the main budget;
// exhausting it gives the chips back instead of stranding them.
func (c *Coordinator) payoutLeg(ctx context.Context, txn *model.CasinoTransaction, link *model.CasinoLink) error {
	_, err := c.ledger.Credit(ctx, txn.UserID, txn.Amount, payoutKey(txn))
	if err == nil {
		return c.transition(ctx, txn, model.StatusCompleted)
	}
	if txn.RetryCount < txn.MaxRetries {
		return c.scheduleRetry(ctx, txn, model.StepPayout, err.Error())
	}
	setFailure(txn, model.StepPayout, "payout budget exhausted: "+err.Error())
	if terr := c.transition(ctx, txn, model.StatusRedepositPending); terr != nil {
		return terr
	}
	return c.redepositLeg(ctx, txn, link)
}

// redepositLeg compensates a sell whose payout failed: re-credits the chips
// at the casino. The rollback nonce is derived from the original nonce so
// repeated attempts stay idempotent at the remote.
func (c *Coordinator) redepositLeg(ctx context.Context, txn *model.CasinoTransaction, link *model.CasinoLink) error {
	now := time.Now()
	txn.RollbackAttempts++
	txn.LastRollbackAt = &now

	chips := txn.Amount.Mul(c.rate)
	res, err := c.casino.CreditChips(ctx, link.CasinoUsername, link.AgentUsername, chips, rollbackNonce(txn))
	if err == nil {
		txn.RollbackTxID = &res.RemoteTxID
		c.log.Infow("chips redeposited", "transaction_id", txn.TransactionID, "remote_tx", res.RemoteTxID)
		return c.transition(ctx, txn, model.StatusFailed)
	}
	if !casino.IsTransient(err) {
		return c.escalate(ctx, txn, model.StepRedeposit, err.Error())
	}
	if txn.RollbackAttempts >= c.cfg.MaxRollbackAttempts {
		return c.escalate(ctx, txn, model.StepRedeposit, "rollback budget exhausted: "+err.Error())
	}
	return c.scheduleRollbackRetry(ctx, txn, model.StepRedeposit, err.Error())
}

// transition moves the transaction to next after checking the table, and
// persists the row. Terminal transitions release the per-user slot.
func (c *Coordinator) transition(ctx context.Context, txn *model.CasinoTransaction, next model.Status) error {
	if !txn.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s (transaction %s)", txn.Status, next, txn.TransactionID)
	}
	txn.Status = next
	txn.NextRetryAt = nil
	if next.Terminal() {
		txn.ActiveKey = nil
		metrics.ExchangeTransactions.WithLabelValues(txn.Type, string(next)).Inc()
	}
	return c.repo.SaveCasinoTransaction(ctx, txn)
}

// fail records the failing leg and moves straight to failed. Only legal when
// nothing has moved yet.
func (c *Coordinator) fail(ctx context.Context, txn *model.CasinoTransaction, step, reason string) error {
	setFailure(txn, step, reason)
	return c.transition(ctx, txn, model.StatusFailed)
}

// scheduleRetry books the next attempt of the current leg with exponential
// backoff. Exhausting the budget forces manual resolution: the remote side's
// state is unknown after persistent transient failures, so no automated
// rollback is safe.
func (c *Coordinator) scheduleRetry(ctx context.Context, txn *model.CasinoTransaction, step, reason string) error {
	if txn.RetryCount >= txn.MaxRetries {
		return c.escalate(ctx, txn, step, "retry budget exhausted: "+reason)
	}
	txn.RetryCount++
	setFailure(txn, step, reason)
	at := time.Now().Add(backoff(c.cfg.Backoff(), txn.RetryCount))
	txn.NextRetryAt = &at
	metrics.ExchangeRetries.WithLabelValues(step).Inc()
	c.log.Warnw("leg failed, retry scheduled",
		"transaction_id", txn.TransactionID, "step", step, "attempt", txn.RetryCount, "next_retry_at", at, "reason", reason)
	return c.repo.SaveCasinoTransaction(ctx, txn)
}

// scheduleRollbackRetry books the next compensating attempt; the budget check
// happens at the call sites against RollbackAttempts.
func (c *Coordinator) scheduleRollbackRetry(ctx context.Context, txn *model.CasinoTransaction, step, reason string) error {
	setFailure(txn, step, reason)
	at := time.Now().Add(backoff(c.cfg.Backoff(), txn.RollbackAttempts))
	txn.NextRetryAt = &at
	metrics.ExchangeRetries.WithLabelValues(step).Inc()
	c.log.Warnw("rollback failed, retry scheduled",
		"transaction_id", txn.TransactionID, "step", step, "attempt", txn.RollbackAttempts, "next_retry_at", at, "reason", reason)
	return c.repo.SaveCasinoTransaction(ctx, txn)
}

// escalate parks the transaction for an operator and alerts admins exactly
// once. This is the only path that may leave money or chips inconsistent.
func (c *Coordinator) escalate(ctx context.Context, txn *model.CasinoTransaction, step, reason string) error {
	setFailure(txn, step, reason)
	alert := !txn.AdminAlertSent
	txn.AdminAlertSent = true
	if err := c.transition(ctx, txn, model.StatusManualRequired); err != nil {
		return err
	}
	metrics.ManualEscalations.Inc()
	c.log.Errorw("exchange requires manual resolution",
		"transaction_id", txn.TransactionID, "user", txn.UserID, "step", step, "reason", reason)
	if alert {
		payload, _ := json.Marshal(map[string]interface{}{
			"transaction_id": txn.TransactionID,
			"user_id":        txn.UserID,
			"type":           txn.Type,
			"amount":         txn.Amount,
			"failure_step":   step,
			"failure_reason": reason,
		})
		evt := &model.OutboxEvent{
			Aggregate: "CasinoTransaction", AggregateID: txn.ID,
			EventType: model.EventAdminAlert, Payload: string(payload),
		}
		if err := c.repo.CreateOutboxEvent(ctx, nil, evt); err != nil {
			c.log.Errorw("queue admin alert", "transaction_id", txn.TransactionID, "err", err)
		}
	}
	return nil
}

func setFailure(txn *model.CasinoTransaction, step, reason string) {
	txn.FailureStep = &step
	txn.FailureReason = &reason
}

// backoff doubles per attempt: base, 2*base, 4*base, ...
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt && i < 10; i++ {
		d *= 2
	}
	return d
}

// Idempotency keys for the ledger side; stable per transaction and leg, so a
// resumed leg replays as a no-op.
func escrowKey(txn *model.CasinoTransaction) string { return txn.TransactionID + ":escrow" }
func payoutKey(txn *model.CasinoTransaction) string { return txn.TransactionID + ":payout" }
func refundKey(txn *model.CasinoTransaction) string { return txn.TransactionID + ":refund" }

// rollbackNonce derives the redeposit nonce from the original so rollback
// retries deduplicate at the casino like first-leg retries do.
func rollbackNonce(txn *model.CasinoTransaction) string { return txn.CasinoNonce + "-rollback" }
