package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Reader using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new ledger RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Reader = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// All failures surface as ErrTransient.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("http status %d", resp.StatusCode)
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			lastErr = rpcResp.Error
			continue
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				lastErr = fmt.Errorf("unmarshal result: %w", err)
				continue
			}
		}

		return nil
	}

	return transientf("%s after %d attempts: %v", method, c.maxRetries+1, lastErr)
}

// Wire representations. Wad values travel as decimal strings.

type rawPositionResult struct {
	DepositAmount  string `json:"depositAmount"`
	BorrowAmount   string `json:"borrowAmount"`
	LastUpdateTime int64  `json:"lastUpdateTime"`
}

type tokenConfigResult struct {
	InterestRateBps       uint32 `json:"interestRateBps"`
	LiquidationPenaltyBps uint32 `json:"liquidationPenaltyBps"`
	AccrualIntervalMs     int64  `json:"accrualIntervalMs"`
	IsSupported           bool   `json:"isSupported"`
}

type depositRecordResult struct {
	User        string `json:"user"`
	Amount      string `json:"amount"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
	Timestamp   int64  `json:"timestamp"`
}

// parseWad parses a decimal string into a wad big.Int.
func parseWad(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wad value %q", s)
	}
	return v, nil
}

// ReadPosition returns the current deposit/borrow amounts for a user.
func (c *HTTPClient) ReadPosition(ctx context.Context, user, token string) (*RawPosition, error) {
	var res rawPositionResult
	if err := c.call(ctx, "lend_getPosition", []interface{}{user, token}, &res); err != nil {
		return nil, err
	}

	deposit, err := parseWad(res.DepositAmount)
	if err != nil {
		return nil, transientf("position deposit: %v", err)
	}
	borrow, err := parseWad(res.BorrowAmount)
	if err != nil {
		return nil, transientf("position borrow: %v", err)
	}

	return &RawPosition{
		DepositAmount:  deposit,
		BorrowAmount:   borrow,
		LastUpdateTime: res.LastUpdateTime,
	}, nil
}

// ReadHealthFactor returns the raw wad health-factor ratio for a user.
func (c *HTTPClient) ReadHealthFactor(ctx context.Context, user string) (*big.Int, error) {
	var res string
	if err := c.call(ctx, "lend_getHealthFactor", []interface{}{user}, &res); err != nil {
		return nil, err
	}
	hf, err := parseWad(res)
	if err != nil {
		return nil, transientf("health factor: %v", err)
	}
	return hf, nil
}

// ReadTokenConfig returns the interest configuration for a token.
func (c *HTTPClient) ReadTokenConfig(ctx context.Context, token string) (*TokenConfig, error) {
	var res tokenConfigResult
	if err := c.call(ctx, "lend_getTokenConfig", []interface{}{token}, &res); err != nil {
		return nil, err
	}
	return &TokenConfig{
		InterestRateBps:       res.InterestRateBps,
		LiquidationPenaltyBps: res.LiquidationPenaltyBps,
		AccrualInterval:       time.Duration(res.AccrualIntervalMs) * time.Millisecond,
		IsSupported:           res.IsSupported,
	}, nil
}

// ReadPrice returns the oracle price for a token, wad.
func (c *HTTPClient) ReadPrice(ctx context.Context, token string) (*big.Int, error) {
	var res string
	if err := c.call(ctx, "lend_getPrice", []interface{}{token}, &res); err != nil {
		return nil, err
	}
	price, err := parseWad(res)
	if err != nil {
		return nil, transientf("price: %v", err)
	}
	return price, nil
}

// ReadDepositEvents returns historical deposit events for a token within
// [fromBlock, toBlock].
func (c *HTTPClient) ReadDepositEvents(ctx context.Context, token string, fromBlock, toBlock uint64) ([]*DepositRecord, error) {
	var res []depositRecordResult
	if err := c.call(ctx, "lend_getDepositEvents", []interface{}{token, fromBlock, toBlock}, &res); err != nil {
		return nil, err
	}

	records := make([]*DepositRecord, 0, len(res))
	for _, r := range res {
		amount, err := parseWad(r.Amount)
		if err != nil {
			return nil, transientf("deposit record amount: %v", err)
		}
		records = append(records, &DepositRecord{
			User:        r.User,
			Value:       amount,
			BlockNumber: r.BlockNumber,
			TxHash:      r.TxHash,
			Timestamp:   r.Timestamp,
		})
	}
	return records, nil
}

// LatestBlock returns the newest block number known to the node.
func (c *HTTPClient) LatestBlock(ctx context.Context) (uint64, error) {
	var res uint64
	if err := c.call(ctx, "lend_blockNumber", nil, &res); err != nil {
		return 0, err
	}
	return res, nil
}
