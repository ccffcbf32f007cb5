package casino

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/payverse/exchange-service/internal/config"
	"github.com/payverse/exchange-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Remote error codes with fixed handling.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeDuplicateNonce      = "DUPLICATE_NONCE"
	CodeNetwork             = "NETWORK"
	CodeRemoteUnavailable   = "REMOTE_UNAVAILABLE"
)

// Error is a typed failure from the casino platform. Transient errors are
// safe to retry with the same nonce; permanent ones are not retried.
type Error struct {
	Code      string
	Reason    string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("casino %s: %s", e.Code, e.Reason)
}

// IsTransient reports whether err is a retryable casino failure.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Transient
}

// ErrCode extracts the remote error code, or "".
func ErrCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Result is a successful transfer acknowledgement.
type Result struct {
	RemoteTxID string
	// Duplicate marks an idempotent replay: the remote had already applied
	// this nonce and returned the original result.
	Duplicate bool
}

// API is the surface the coordinator needs from the 747Live platform.
type API interface {
	CreditChips(ctx context.Context, username, agent string, amount decimal.Decimal, nonce string) (*Result, error)
	DebitChips(ctx context.Context, username, agent string, amount decimal.Decimal, nonce string) (*Result, error)
	GetBalance(ctx context.Context, username, agent string) (decimal.Decimal, error)
}

// Client talks to the 747Live agent API over HTTP.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     *zap.SugaredLogger
}

func NewClient(cfg config.CasinoConfig, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.AgentToken,
		httpc:   &http.Client{Timeout: cfg.Timeout()},
		log:     logger,
	}
}

type transferRequest struct {
	Agent     string `json:"agent"`
	Username  string `json:"username"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Direction string `json:"direction"`
}

type transferResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	ErrorCode     string `json:"error_code"`
	Message       string `json:"message"`
}

// CreditChips adds chips to the player's casino balance.
func (c *Client) CreditChips(ctx context.Context, username, agent string, amount decimal.Decimal, nonce string) (*Result, error) {
	return c.transfer(ctx, "credit", username, agent, amount, nonce)
}

// DebitChips removes chips from the player's casino balance.
func (c *Client) DebitChips(ctx context.Context, username, agent string, amount decimal.Decimal, nonce string) (*Result, error) {
	return c.transfer(ctx, "debit", username, agent, amount, nonce)
}

func (c *Client) transfer(ctx context.Context, direction, username, agent string, amount decimal.Decimal, nonce string) (*Result, error) {
	timer := prometheus.NewTimer(metrics.CasinoRequestDuration.WithLabelValues(direction))
	defer timer.ObserveDuration()

	body, err := json.Marshal(transferRequest{
		Agent:     agent,
		Username:  username,
		Amount:    amount.StringFixed(2),
		Nonce:     nonce,
		Direction: direction,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/agent/transfer", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		// covers timeouts and connection failures
		return nil, &Error{Code: CodeNetwork, Reason: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeNetwork, Reason: err.Error(), Transient: true}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Code: CodeRemoteUnavailable, Reason: resp.Status, Transient: true}
	}

	var tr transferResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, &Error{Code: CodeRemoteUnavailable, Reason: "malformed response: " + err.Error(), Transient: true}
	}

	if tr.Status == "success" {
		return &Result{RemoteTxID: tr.TransactionID}, nil
	}

	// The remote already applied this nonce: treat the replay as success.
	if tr.ErrorCode == CodeDuplicateNonce {
		c.log.Infow("nonce replay detected", "nonce", nonce, "remote_tx", tr.TransactionID)
		return &Result{RemoteTxID: tr.TransactionID, Duplicate: true}, nil
	}

	return nil, &Error{Code: tr.ErrorCode, Reason: tr.Message, Transient: false}
}

// GetBalance queries the player's chip balance.
func (c *Client) GetBalance(ctx context.Context, username, agent string) (decimal.Decimal, error) {
	timer := prometheus.NewTimer(metrics.CasinoRequestDuration.WithLabelValues("balance"))
	defer timer.ObserveDuration()

	u := fmt.Sprintf("%s/api/v1/agent/players/%s/balance?agent=%s",
		c.baseURL, url.PathEscape(username), url.QueryEscape(agent))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return decimal.Zero, &Error{Code: CodeNetwork, Reason: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return decimal.Zero, &Error{Code: CodeRemoteUnavailable, Reason: resp.Status, Transient: true}
	}
	var br struct {
		Status    string `json:"status"`
		Balance   string `json:"balance"`
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return decimal.Zero, &Error{Code: CodeRemoteUnavailable, Reason: err.Error(), Transient: true}
	}
	if br.Status != "success" {
		return decimal.Zero, &Error{Code: br.ErrorCode, Reason: br.Message, Transient: false}
	}
	return decimal.NewFromString(br.Balance)
}

// interface check
var _ API = (*Client)(nil)
