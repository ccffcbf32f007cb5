package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/payverse/exchange-service/internal/exchange"
	"github.com/payverse/exchange-service/internal/ledger"
	"github.com/payverse/exchange-service/internal/model"
	"github.com/payverse/exchange-service/internal/repo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func RegisterHandlers(r *gin.Engine, coord *exchange.Coordinator, led *ledger.Ledger) {
	v1 := r.Group("/v1")
	{
		v1.POST("/exchange/buy", initiateHandler(coord, model.TypeBuy))
		v1.POST("/exchange/sell", initiateHandler(coord, model.TypeSell))
		v1.GET("/exchange/:txid", statusHandler(coord))
		v1.GET("/wallets/:id/balance", balanceHandler(led))
		v1.GET("/wallets/:id/history", historyHandler(led))
	}
	admin := r.Group("/v1/admin")
	{
		admin.GET("/exchange/stuck", stuckHandler(coord))
		admin.POST("/exchange/:txid/resolve", resolveHandler(coord))
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type initiateReq struct {
	UserID uint64 `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// initiateHandler serves both buy and sell. A transaction that was accepted
// but ended in a recorded failure (e.g. refunded) still returns 200 with its
// status; only rejections map to error codes.
func initiateHandler(coord *exchange.Coordinator, txType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}

		var txn *model.CasinoTransaction
		if txType == model.TypeBuy {
			txn, err = coord.InitiateBuy(c, req.UserID, amt)
		} else {
			txn, err = coord.InitiateSell(c, req.UserID, amt)
		}
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, exchange.ErrNotLinked):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, exchange.ErrConcurrentTransaction):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, repo.ErrInsufficientFunds), errors.Is(err, exchange.ErrInsufficientChips):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":          err.Error(),
				"transaction_id": txn.TransactionID,
				"status":         txn.Status,
			})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{
				"transaction_id": txn.TransactionID,
				"status":         txn.Status,
			})
		}
	}
}

func statusHandler(coord *exchange.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		txn, err := coord.GetStatus(c, c.Param("txid"))
		if errors.Is(err, exchange.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func balanceHandler(led *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		bal, err := led.GetBalance(c, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func historyHandler(led *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		entries, err := led.History(c, id, limit, since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func stuckHandler(coord *exchange.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		txns, err := coord.ListStuck(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, txns)
	}
}

type resolveReq struct {
	Decision string `json:"decision" binding:"required"`
	Operator string `json:"operator" binding:"required"`
	Note     string `json:"note"`
}

func resolveHandler(coord *exchange.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resolveReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		txn, err := coord.Resolve(c, c.Param("txid"), exchange.Decision(req.Decision), req.Operator, req.Note)
		switch {
		case errors.Is(err, exchange.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, exchange.ErrNotResolvable), errors.Is(err, exchange.ErrUnknownDecision):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, txn)
		}
	}
}
