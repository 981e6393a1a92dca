// Package authority is the REST client for the order authority, the
// system of record that accepts order mutations and re-broadcasts them.
// Every call carries the session credential; the authority is the single
// arbiter of the lifecycle table, so a rejected transition here means
// the local projection stays untouched.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"tableflow/internal/auth"
	"tableflow/internal/models"
)

var (
	// ErrSubscriptionExpired maps the authority's 403: the session is no
	// longer valid. Non-retryable; callers must stop writing and ask the
	// operator to re-authenticate.
	ErrSubscriptionExpired = errors.New("subscription expired")

	// ErrInvalidTransition maps the authority's 409: the requested state
	// change violates the lifecycle table.
	ErrInvalidTransition = errors.New("invalid order transition")

	// ErrOrderNotFound maps the authority's 404.
	ErrOrderNotFound = errors.New("order not found")
)

const defaultBaseURL = "http://localhost:8080"

// Client talks to the authority's REST API.
type Client struct {
	httpClient *http.Client
	BaseURL    string
}

// NewClient creates a client against the given base URL, falling back to
// TABLEFLOW_API_URL and then localhost.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("TABLEFLOW_API_URL")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    baseURL,
	}
}

// CheckHealth checks the authority is reachable.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// SubmitOrder posts a draft order. The authority assigns the order id,
// advances it to kitchen_queued on receipt, and broadcasts new_order; the
// returned record is the authoritative copy.
func (c *Client) SubmitOrder(ctx context.Context, cred auth.Credential, order models.Order) (*models.Order, error) {
	var created models.Order
	if err := c.post(ctx, cred, "/api/v1/orders", order, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateState requests a lifecycle transition for an order. Used by
// kitchen and cashier clients; the authority checks both the table and
// the acting role.
func (c *Client) UpdateState(ctx context.Context, cred auth.Credential, orderID uint, state models.OrderState) (*models.Order, error) {
	path := fmt.Sprintf("/api/v1/orders/%d/state", orderID)
	body := map[string]string{"state": string(state)}
	var updated models.Order
	if err := c.post(ctx, cred, path, body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetOrder fetches one authoritative order record.
func (c *Client) GetOrder(ctx context.Context, cred auth.Credential, orderID uint) (*models.Order, error) {
	var order models.Order
	path := fmt.Sprintf("/api/v1/orders/%d", orderID)
	if err := c.get(ctx, cred, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders fetches the restaurant's open orders, optionally filtered
// by state. Displays use it to catch up after a reconnect.
func (c *Client) ListOrders(ctx context.Context, cred auth.Credential, state models.OrderState) ([]models.Order, error) {
	query := url.Values{}
	if state != "" {
		query.Set("state", string(state))
	}
	var orders []models.Order
	if err := c.get(ctx, cred, "/api/v1/orders", query, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetMenu fetches the restaurant's available catalog items.
func (c *Client) GetMenu(ctx context.Context, cred auth.Credential) ([]models.MenuItem, error) {
	var items []models.MenuItem
	if err := c.get(ctx, cred, "/api/v1/menu", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) post(ctx context.Context, cred auth.Credential, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+path+"?"+credentialQuery(cred, nil).Encode(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, cred auth.Credential, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+path+"?"+credentialQuery(cred, query).Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusForbidden:
		return ErrSubscriptionExpired
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrInvalidTransition, readError(resp.Body))
	case resp.StatusCode == http.StatusNotFound:
		return ErrOrderNotFound
	default:
		return fmt.Errorf("authority returned status %d: %s", resp.StatusCode, readError(resp.Body))
	}
}

func credentialQuery(cred auth.Credential, extra url.Values) url.Values {
	q := url.Values{}
	for k, vs := range extra {
		q[k] = vs
	}
	q.Set("restaurant_id", strconv.FormatUint(uint64(cred.RestaurantID), 10))
	q.Set("user_id", strconv.FormatUint(uint64(cred.UserID), 10))
	q.Set("token", cred.Token)
	return q
}

func readError(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(body)
}
