package dcrclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperledger-labs/harmonia-sub001/pkg/domain"
)

var (
	// ErrUnknownNetwork: no base URL is configured for the source network.
	ErrUnknownNetwork = errors.New("unknown source network")
	// ErrNoBinding: the counterpart has no commitment for the trade.
	ErrNoBinding = errors.New("counterpart has no commitment for this trade")
	// ErrUnavailable: the counterpart could not be reached within the retry
	// budget. Transient; the caller retries the whole resolution later.
	ErrUnavailable = errors.New("counterpart unavailable")
)

// SettlementStatus is the counterpart DCR service's answer to a status query.
type SettlementStatus struct {
	LinearID string           `json:"linear_id"`
	TradeID  string           `json:"trade_id"`
	Status   domain.DCRStatus `json:"status"`
}

// Client queries counterpart DCR services over HTTP. Each call is bounded:
// a per-attempt timeout and a small retry budget with fixed backoff, so a
// resolve never blocks its caller on a slow network. No state is held
// between calls.
type Client struct {
	networks       map[string]string
	httpClient     *http.Client
	attemptTimeout time.Duration
	retryBudget    int
	backoff        time.Duration

	// OnRetry, when set, is invoked for every attempt after the first.
	OnRetry func()
}

type Option func(*Client)

func WithAttemptTimeout(d time.Duration) Option { return func(c *Client) { c.attemptTimeout = d } }
func WithRetryBudget(n int) Option              { return func(c *Client) { c.retryBudget = n } }
func WithBackoff(d time.Duration) Option        { return func(c *Client) { c.backoff = d } }

// New builds a client from a networkID → base URL map.
func New(networks map[string]string, opts ...Option) *Client {
	trimmed := make(map[string]string, len(networks))
	for id, base := range networks {
		trimmed[id] = strings.TrimRight(base, "/")
	}
	c := &Client{
		networks:       trimmed,
		httpClient:     &http.Client{},
		attemptTimeout: 3 * time.Second,
		retryBudget:    2,
		backoff:        200 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SettlementStatus fetches the current commitment state for tradeID on the
// given source network.
func (c *Client) SettlementStatus(ctx context.Context, networkID, tradeID string) (SettlementStatus, error) {
	base, ok := c.networks[networkID]
	if !ok {
		return SettlementStatus{}, fmt.Errorf("%q: %w", networkID, ErrUnknownNetwork)
	}
	url := fmt.Sprintf("%s/dcr/trades/%s/status", base, tradeID)

	var lastErr error
	for attempt := 0; attempt <= c.retryBudget; attempt++ {
		if attempt > 0 {
			if c.OnRetry != nil {
				c.OnRetry()
			}
			select {
			case <-ctx.Done():
				return SettlementStatus{}, ctx.Err()
			case <-time.After(c.backoff):
			}
		}
		st, retryable, err := c.attempt(ctx, url)
		if err == nil {
			return st, nil
		}
		if !retryable {
			return SettlementStatus{}, err
		}
		lastErr = err
	}
	return SettlementStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, url string) (SettlementStatus, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return SettlementStatus{}, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SettlementStatus{}, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return SettlementStatus{}, false, ErrNoBinding
	case resp.StatusCode >= 500:
		return SettlementStatus{}, true, fmt.Errorf("counterpart returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return SettlementStatus{}, false, fmt.Errorf("counterpart returned %d", resp.StatusCode)
	}

	var out SettlementStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SettlementStatus{}, false, fmt.Errorf("decode status: %w", err)
	}
	return out, false, nil
}
