package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"opscore/pkg/api"
	"time"
)

// Client handles API calls to the opscore controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one JSON request and decodes the response into out. Statuses
// outside 2xx come back as *APIError unless listed in alsoOK; several
// endpoints carry a decodable outcome on 409/429/503.
func (c *Client) do(method, path string, body, out interface{}, alsoOK ...int) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, status := range alsoOK {
		if resp.StatusCode == status {
			ok = true
		}
	}
	if !ok {
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// CreateTenant sends POST /tenants. The response carries the API key,
// shown exactly once.
func (c *Client) CreateTenant(req api.CreateTenantRequest) (*api.CreateTenantResponse, error) {
	var result api.CreateTenantResponse
	if err := c.do(http.MethodPost, "/tenants", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BookSlot sends POST /slots. A conflict is not an error; the response
// says booked=false and carries the reason and suggestions.
func (c *Client) BookSlot(req api.BookSlotRequest) (*api.BookSlotResponse, error) {
	var result api.BookSlotResponse
	if err := c.do(http.MethodPost, "/slots", req, &result, http.StatusConflict); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelSlot sends DELETE /slots/{id}.
func (c *Client) CancelSlot(slotID, reason string) (*api.SlotResponse, error) {
	var result api.SlotResponse
	body := api.CancelSlotRequest{Reason: reason}
	if err := c.do(http.MethodDelete, "/slots/"+url.PathEscape(slotID), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RescheduleSlot sends POST /slots/{id}/reschedule.
func (c *Client) RescheduleSlot(slotID string, req api.RescheduleSlotRequest) (*api.BookSlotResponse, error) {
	var result api.BookSlotResponse
	path := "/slots/" + url.PathEscape(slotID) + "/reschedule"
	if err := c.do(http.MethodPost, path, req, &result, http.StatusConflict); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSlot sends GET /slots/{id}.
func (c *Client) GetSlot(slotID string) (*api.SlotResponse, error) {
	var result api.SlotResponse
	if err := c.do(http.MethodGet, "/slots/"+url.PathEscape(slotID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSlots sends GET /slots with the given query.
func (c *Client) ListSlots(query url.Values) ([]api.SlotResponse, error) {
	path := "/slots"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var result []api.SlotResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// EnqueueJob sends POST /jobs.
func (c *Client) EnqueueJob(req api.EnqueueJobRequest) (*api.EnqueueJobResponse, error) {
	var result api.EnqueueJobResponse
	if err := c.do(http.MethodPost, "/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *Client) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /jobs.
func (c *Client) ListJobs(status string, limit, offset int) ([]api.JobResponse, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	query.Set("limit", fmt.Sprint(limit))
	query.Set("offset", fmt.Sprint(offset))

	var result []api.JobResponse
	if err := c.do(http.MethodGet, "/jobs?"+query.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListDLQ sends GET /dlq to retrieve dead-lettered jobs.
func (c *Client) ListDLQ(limit, offset int) ([]api.DLQEntryResponse, error) {
	path := fmt.Sprintf("/dlq?limit=%d&offset=%d", limit, offset)
	var result []api.DLQEntryResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// RetryDLQ sends POST /dlq/{job_id}/retry to re-enqueue a dead job.
func (c *Client) RetryDLQ(jobID string) (*api.RetryDLQResponse, error) {
	var result api.RetryDLQResponse
	path := "/dlq/" + url.PathEscape(jobID) + "/retry"
	if err := c.do(http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckRate sends POST /ratelimit/check. A denied check decodes normally;
// the response says allowed=false with a retry hint.
func (c *Client) CheckRate(req api.RateCheckRequest) (*api.RateCheckResponse, error) {
	var result api.RateCheckResponse
	if err := c.do(http.MethodPost, "/ratelimit/check", req, &result, http.StatusTooManyRequests); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBreaker sends GET /breakers/{dependency}.
func (c *Client) GetBreaker(dependency string) (*api.BreakerResponse, error) {
	var result api.BreakerResponse
	if err := c.do(http.MethodGet, "/breakers/"+url.PathEscape(dependency), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListBreakers sends GET /breakers.
func (c *Client) ListBreakers() ([]api.BreakerResponse, error) {
	var result []api.BreakerResponse
	if err := c.do(http.MethodGet, "/breakers", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ResetBreaker sends POST /breakers/{dependency}/reset.
func (c *Client) ResetBreaker(dependency string) (*api.BreakerResponse, error) {
	var result api.BreakerResponse
	path := "/breakers/" + url.PathEscape(dependency) + "/reset"
	if err := c.do(http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Credit sends POST /balances/{subject}/credit.
func (c *Client) Credit(subject string, req api.CreditRequest) (*api.LedgerResultResponse, error) {
	var result api.LedgerResultResponse
	path := "/balances/" + url.PathEscape(subject) + "/credit"
	if err := c.do(http.MethodPost, path, req, &result, http.StatusConflict); err != nil {
		return nil, err
	}
	return &result, nil
}

// Debit sends POST /balances/{subject}/debit. Insufficient funds decode
// as a denial, not an error.
func (c *Client) Debit(subject string, req api.DebitRequest) (*api.LedgerResultResponse, error) {
	var result api.LedgerResultResponse
	path := "/balances/" + url.PathEscape(subject) + "/debit"
	if err := c.do(http.MethodPost, path, req, &result, http.StatusConflict); err != nil {
		return nil, err
	}
	return &result, nil
}

// Redeem sends POST /balances/{subject}/redeem.
func (c *Client) Redeem(subject string, req api.RedeemRequest) (*api.LedgerResultResponse, error) {
	var result api.LedgerResultResponse
	path := "/balances/" + url.PathEscape(subject) + "/redeem"
	if err := c.do(http.MethodPost, path, req, &result, http.StatusConflict); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance sends GET /balances/{subject}.
func (c *Client) GetBalance(subject string) (*api.BalanceResponse, error) {
	var result api.BalanceResponse
	if err := c.do(http.MethodGet, "/balances/"+url.PathEscape(subject), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLedger sends GET /balances/{subject}/ledger.
func (c *Client) GetLedger(subject string, limit, offset int) ([]api.LedgerEntryResponse, error) {
	path := fmt.Sprintf("/balances/%s/ledger?limit=%d&offset=%d", url.PathEscape(subject), limit, offset)
	var result []api.LedgerEntryResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateReward sends POST /rewards.
func (c *Client) CreateReward(req api.CreateRewardRequest) (*api.RewardResponse, error) {
	var result api.RewardResponse
	if err := c.do(http.MethodPost, "/rewards", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRewards sends GET /rewards.
func (c *Client) ListRewards() ([]api.RewardResponse, error) {
	var result []api.RewardResponse
	if err := c.do(http.MethodGet, "/rewards", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}
