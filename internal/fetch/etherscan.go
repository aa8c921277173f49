// Package fetch provides the blockchain-explorer client used to pull
// transaction history for training.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/chainwatch/internal/config"
)

// UpstreamError wraps any failure talking to the explorer API. It is
// propagated unchanged to callers; retries happen only inside the HTTP
// client itself.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("fetch: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// EtherscanClient fetches account transaction lists from the Etherscan API.
type EtherscanClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewEtherscanClient creates a client from configuration.
func NewEtherscanClient(cfg config.Config) *EtherscanClient {
	return &EtherscanClient{
		baseURL:    cfg.EtherscanURL,
		apiKey:     cfg.EtherscanAPIKey,
		httpClient: newRetryClient(cfg.RequestTimeout),
		// Etherscan free tier allows 5 req/s
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

// GetTransactions retrieves the full transaction list for an address, newest
// first, as raw objects ready for ingestion.
func (c *EtherscanClient) GetTransactions(ctx context.Context, address string) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Op: "rate limit wait", Err: err}
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", address)
	params.Set("startblock", "0")
	params.Set("endblock", "99999999")
	params.Set("sort", "desc")
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &UpstreamError{Op: "building request", Err: err}
	}

	logrus.Debugf("Fetching transactions for %s", address)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "requesting txlist", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{
			Op:  "requesting txlist",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var response struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &UpstreamError{Op: "decoding response", Err: err}
	}

	// Etherscan signals API-level failures (bad key, no transactions) with
	// status "0" and a string result.
	if response.Status != "1" {
		return nil, &UpstreamError{
			Op:  "txlist",
			Err: fmt.Errorf("API error: %s (%s)", response.Message, string(response.Result)),
		}
	}

	var transactions []map[string]any
	if err := json.Unmarshal(response.Result, &transactions); err != nil {
		return nil, &UpstreamError{Op: "decoding transactions", Err: err}
	}

	logrus.Infof("Fetched %d transactions for %s", len(transactions), address)
	return transactions, nil
}

// newRetryClient creates an HTTP client with retry logic.
func newRetryClient(timeout time.Duration) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 3 * time.Second
	retryClient.HTTPClient.Timeout = timeout
	retryClient.Logger = nil
	return retryClient.StandardClient()
}
