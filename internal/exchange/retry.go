package exchange

import (
	"context"
	"time"

	"github.com/payverse/exchange-service/internal/model"
)

// ResumeDue scans for transactions whose retry is due and drives each one
// forward from its persisted status. Returns how many were resumed. Run by
// the retrier binary on a ticker.
func (c *Coordinator) ResumeDue(ctx context.Context, limit int) (int, error) {
	due, err := c.repo.DueCasinoTransactions(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for i := range due {
		txn := &due[i]
		if err := c.resume(ctx, txn); err != nil {
			c.log.Errorw("resume transaction",
				"transaction_id", txn.TransactionID, "status", txn.Status, "err", err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// resume re-resolves the casino link and re-enters the pipeline; the status
// switch inside runBuy/runSell picks up where the transaction stopped.
func (c *Coordinator) resume(ctx context.Context, txn *model.CasinoTransaction) error {
	link, err := c.resolveLink(ctx, txn.UserID)
	if err != nil {
		return err
	}
	if txn.Type == model.TypeBuy {
		return c.runBuy(ctx, txn, link)
	}
	return c.runSell(ctx, txn, link)
}
