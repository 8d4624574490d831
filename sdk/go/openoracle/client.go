package openoracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Assertion statuses as reported by the ledger.
const (
	StatusPending  = "pending"
	StatusDisputed = "disputed"
	StatusResolved = "resolved"
	StatusRejected = "rejected"
)

// Client wraps the HTTP interactions with the OpenOracle Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu         sync.RWMutex
	adminToken string
}

// OpenRequest represents the payload required to open a new assertion.
type OpenRequest struct {
	MarketID string   `json:"market_id"`
	Outcome  string   `json:"outcome"`
	Asserter uint64   `json:"asserter"`
	Bond     *big.Int `json:"bond"`
}

// DisputeRequest represents the payload required to dispute an assertion.
// The assertion identifier travels in the URL, not the body.
type DisputeRequest struct {
	Disputer    uint64   `json:"disputer"`
	CounterBond *big.Int `json:"counter_bond"`
}

// Payout describes who receives the bond pool once an assertion is settled.
type Payout struct {
	Winner uint64   `json:"winner"`
	Amount *big.Int `json:"amount"`
}

// Assertion mirrors the ledger's wire representation of an assertion.
type Assertion struct {
	ID          string   `json:"id"`
	MarketID    string   `json:"market_id"`
	Outcome     string   `json:"outcome"`
	Asserter    uint64   `json:"asserter"`
	Disputer    uint64   `json:"disputer,omitempty"`
	Bond        *big.Int `json:"bond"`
	CounterBond *big.Int `json:"counter_bond,omitempty"`
	Volume      *big.Int `json:"volume"`
	Status      string   `json:"status"`
	ExpiresAt   int64    `json:"expires_at"`
	Payout      *Payout  `json:"payout,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Settled reports whether the assertion reached a terminal status.
func (a Assertion) Settled() bool {
	return a.Status == StatusResolved || a.Status == StatusRejected
}

// ReputationScore mirrors the reputation store's aggregate for one agent.
type ReputationScore struct {
	AgentID              uint64   `json:"agent_id"`
	TotalAssertions      uint64   `json:"total_assertions"`
	SuccessfulAssertions uint64   `json:"successful_assertions"`
	TotalVolume          *big.Int `json:"total_volume"`
	LastUpdated          int64    `json:"last_updated"`
}

// Accuracy carries an agent's historical accuracy in basis points.
type Accuracy struct {
	AgentID     uint64 `json:"agent_id"`
	AccuracyBps uint64 `json:"accuracy_bps"`
}

// Referral describes a disputed assertion awaiting a manual verdict.
type Referral struct {
	AssertionID string `json:"assertion_id"`
	MarketID    string `json:"market_id"`
	Outcome     string `json:"outcome"`
	Asserter    uint64 `json:"asserter"`
	Disputer    uint64 `json:"disputer"`
	ReferredAt  int64  `json:"referred_at"`
}

// ListQuery narrows ListAssertions results. Zero values mean no filter.
type ListQuery struct {
	Statuses []string
	MarketID string
	Asserter uint64
	Limit    int
	Offset   int
}

func (q ListQuery) encode() string {
	values := url.Values{}
	for _, status := range q.Statuses {
		values.Add("status", status)
	}
	if q.MarketID != "" {
		values.Set("market", q.MarketID)
	}
	if q.Asserter != 0 {
		values.Set("asserter", strconv.FormatUint(q.Asserter, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	return values.Encode()
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("openoracle api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openoracle api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the OpenOracle Chain API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// OpenAssertion opens a bonded assertion on a market.
func (c *Client) OpenAssertion(ctx context.Context, req OpenRequest) (Assertion, error) {
	var created Assertion
	if err := c.post(ctx, "/api/v1/assertions", req, &created, false); err != nil {
		return Assertion{}, err
	}
	return created, nil
}

// GetAssertion fetches one assertion by its 0x-prefixed identifier.
func (c *Client) GetAssertion(ctx context.Context, id string) (Assertion, error) {
	var found Assertion
	if err := c.get(ctx, "/api/v1/assertions/"+id, "", &found, false); err != nil {
		return Assertion{}, err
	}
	return found, nil
}

// ListAssertions returns assertions matching the query.
func (c *Client) ListAssertions(ctx context.Context, query ListQuery) ([]Assertion, error) {
	var results []Assertion
	if err := c.get(ctx, "/api/v1/assertions", query.encode(), &results, false); err != nil {
		return nil, err
	}
	return results, nil
}

// DisputeAssertion challenges a pending assertion with a matching counter bond.
func (c *Client) DisputeAssertion(ctx context.Context, id string, req DisputeRequest) (Assertion, error) {
	var disputed Assertion
	if err := c.post(ctx, "/api/v1/assertions/"+id+"/dispute", req, &disputed, false); err != nil {
		return Assertion{}, err
	}
	return disputed, nil
}

// SettleAssertion asks the ledger to settle an assertion now. A not-yet
// resolvable assertion surfaces as a retryable APIError.
func (c *Client) SettleAssertion(ctx context.Context, id string) (Assertion, error) {
	var settled Assertion
	if err := c.post(ctx, "/api/v1/assertions/"+id+"/settle", nil, &settled, false); err != nil {
		return Assertion{}, err
	}
	return settled, nil
}

// GetReputation fetches the aggregate reputation score of an agent.
func (c *Client) GetReputation(ctx context.Context, agentID uint64) (ReputationScore, error) {
	var score ReputationScore
	endpoint := fmt.Sprintf("/api/v1/agents/%d/reputation", agentID)
	if err := c.get(ctx, endpoint, "", &score, false); err != nil {
		return ReputationScore{}, err
	}
	return score, nil
}

// GetAccuracy fetches an agent's accuracy in basis points.
func (c *Client) GetAccuracy(ctx context.Context, agentID uint64) (Accuracy, error) {
	var accuracy Accuracy
	endpoint := fmt.Sprintf("/api/v1/agents/%d/accuracy", agentID)
	if err := c.get(ctx, endpoint, "", &accuracy, false); err != nil {
		return Accuracy{}, err
	}
	return accuracy, nil
}

// PendingReferrals lists disputes awaiting a manual verdict. Requires the
// admin token.
func (c *Client) PendingReferrals(ctx context.Context) ([]Referral, error) {
	var referrals []Referral
	if err := c.get(ctx, "/api/v1/admin/verdicts", "", &referrals, true); err != nil {
		return nil, err
	}
	return referrals, nil
}

// SubmitVerdict delivers a manual verdict for a disputed assertion. Requires
// the admin token.
func (c *Client) SubmitVerdict(ctx context.Context, assertionID string, upheld bool) error {
	payload := struct {
		AssertionID string `json:"assertion_id"`
		Upheld      bool   `json:"upheld"`
	}{AssertionID: assertionID, Upheld: upheld}
	return c.post(ctx, "/api/v1/admin/verdicts", payload, nil, true)
}

// RotateRecorder hands recorder authority to the next address. Requires the
// admin token; the caller must be the current recorder.
func (c *Client) RotateRecorder(ctx context.Context, caller, next string) (string, error) {
	payload := struct {
		Caller string `json:"caller"`
		Next   string `json:"next"`
	}{Caller: caller, Next: next}
	var resp struct {
		Recorder string `json:"recorder"`
	}
	if err := c.post(ctx, "/api/v1/admin/recorder", payload, &resp, true); err != nil {
		return "", err
	}
	return resp.Recorder, nil
}

// WaitUntilSettled polls the assertion until it reaches a terminal status or
// the context expires.
func (c *Client) WaitUntilSettled(ctx context.Context, id string, interval time.Duration) (Assertion, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		current, err := c.GetAssertion(ctx, id)
		if err != nil {
			return Assertion{}, err
		}
		if current.Settled() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return Assertion{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AdminToken returns the currently stored admin token.
func (c *Client) AdminToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adminToken
}

// SetAdminToken stores the token used for admin endpoints.
func (c *Client) SetAdminToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adminToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAdmin bool) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, "", body, withAdmin)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint, query string, out any, withAdmin bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil, withAdmin)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, query string, body io.Reader, withAdmin bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAdmin {
		token := c.AdminToken()
		if token == "" {
			return nil, errors.New("openoracle: admin token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
