package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v8"
	"github.com/payverse/exchange-service/internal/casino"
	"github.com/payverse/exchange-service/internal/config"
	"github.com/payverse/exchange-service/internal/exchange"
	"github.com/payverse/exchange-service/internal/ledger"
	"github.com/payverse/exchange-service/internal/logger"
	"github.com/payverse/exchange-service/internal/model"
	"github.com/payverse/exchange-service/internal/repo"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubCasino accepts every transfer.
type stubCasino struct{ n int }

func (s *stubCasino) CreditChips(context.Context, string, string, decimal.Decimal, string) (*casino.Result, error) {
	s.n++
	return &casino.Result{RemoteTxID: fmt.Sprintf("rtx-%d", s.n)}, nil
}

func (s *stubCasino) DebitChips(context.Context, string, string, decimal.Decimal, string) (*casino.Result, error) {
	s.n++
	return &casino.Result{RemoteTxID: fmt.Sprintf("rtx-%d", s.n)}, nil
}

func (s *stubCasino) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Wallet{}, &model.LedgerEntry{}, &model.CasinoTransaction{},
		&model.CasinoLink{}, &model.OutboxEvent{},
	))

	rdb, _ := redismock.NewClientMock()
	log, _ := logger.New()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	led := ledger.New(repository, 1, log)
	coord := exchange.NewCoordinator(repository, led, &stubCasino{}, config.ExchangeConfig{
		EscrowWalletID: 1, MaxRetries: 3, MaxRollbackAttempts: 3, ChipRate: "1",
	}, log)

	db.Create(&model.Wallet{ID: 7, Balance: decimal.NewFromInt(1000)})
	db.Create(&model.CasinoLink{UserID: 7, CasinoUsername: "pv_user7", AgentUsername: "pv_agent", VerifiedAt: time.Now()})

	return NewRouter(coord, led, config.RateLimitConfig{RPS: 1000, Burst: 1000}, log), db
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBuyEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/exchange/buy", gin.H{"user_id": 7, "amount": "500"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(model.StatusCompleted), resp.Status)
	assert.NotEmpty(t, resp.TransactionID)

	// status lookup round-trips
	w = doJSON(r, http.MethodGet, "/v1/exchange/"+resp.TransactionID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuyEndpoint_Rejections(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/exchange/buy", gin.H{"user_id": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing amount")

	w = doJSON(r, http.MethodPost, "/v1/exchange/buy", gin.H{"user_id": 7, "amount": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/exchange/buy", gin.H{"user_id": 99, "amount": "10"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "no casino link")

	w = doJSON(r, http.MethodPost, "/v1/exchange/buy", gin.H{"user_id": 7, "amount": "999999"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["transaction_id"], "failed transaction is still recorded")
	assert.Equal(t, string(model.StatusFailed), resp["status"])
}

func TestConcurrentConflictEndpoint(t *testing.T) {
	r, db := newTestRouter(t)

	// park an in-flight transaction for the user
	key := "7"
	db.Create(&model.CasinoTransaction{
		UserID: 7, Type: model.TypeBuy, Amount: decimal.NewFromInt(10),
		Status: model.StatusEscrowDebited, TransactionID: "t-live", CasinoNonce: "n",
		ActiveKey: &key,
	})

	w := doJSON(r, http.MethodPost, "/v1/exchange/sell", gin.H{"user_id": 7, "amount": "10"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusEndpoint_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(r, http.MethodGet, "/v1/exchange/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBalanceAndHistoryEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/exchange/buy", gin.H{"user_id": 7, "amount": "300"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/wallets/7/balance", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		Balance decimal.Decimal `json:"balance"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.Equal(t, "700", bal.Balance.StringFixed(0))

	w = doJSON(r, http.MethodGet, "/v1/wallets/7/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var entries []model.LedgerEntry
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

func TestResolveEndpoint(t *testing.T) {
	r, db := newTestRouter(t)

	key := "7"
	db.Create(&model.CasinoTransaction{
		UserID: 7, Type: model.TypeBuy, Amount: decimal.NewFromInt(10),
		Status: model.StatusManualRequired, TransactionID: "t-stuck", CasinoNonce: "n",
		ActiveKey: &key, AdminAlertSent: true,
	})

	w := doJSON(r, http.MethodGet, "/v1/admin/exchange/stuck", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var stuck []model.CasinoTransaction
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &stuck))
	assert.Len(t, stuck, 1)

	w = doJSON(r, http.MethodPost, "/v1/admin/exchange/t-stuck/resolve",
		gin.H{"decision": "mark_resolved", "operator": "ops.maria", "note": "settled manually"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/exchange/t-stuck/resolve",
		gin.H{"decision": "mark_resolved", "operator": "ops.maria"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "already resolved")
}
