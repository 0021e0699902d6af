// Package remote is the REST client for the external record-of-truth
// that originates domain rows. An unconfigured client is a no-op:
// every method succeeds with an empty result.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"
)

// ErrRemote is the single coarse error kind for remote failures.
var ErrRemote = errors.New("remote request failed")

// Domain is one row of the remote domains collection. The payment
// fields are opaque to this server.
type Domain struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	Domain         string  `json:"domain"`
	PendingNSCheck bool    `json:"pending_ns_check"`
	AddedAt        string  `json:"added_at"`
	UpdatedAt      string  `json:"updated_at"`
	Active         bool    `json:"active"`
	Discord        bool    `json:"discord"`
	PaymentStatus  string  `json:"payment_status"`
	AmountPaid     float64 `json:"amount_paid"`
}

// Client talks to the record-of-truth REST collection.
type Client struct {
	http *http.Client
	url  string
	key  string
}

// New returns a client. Empty url or key leaves it unconfigured.
func New(url, key string) *Client {
	return &Client{
		http: &http.Client{Timeout: 10 * time.Second},
		url:  strings.TrimSuffix(url, "/"),
		key:  key,
	}
}

// Configured reports whether both URL and key are set.
func (c *Client) Configured() bool {
	return c.url != "" && c.key != ""
}

// List returns all remote domain rows.
func (c *Client) List(ctx context.Context) ([]Domain, error) {
	if !c.Configured() {
		return nil, nil
	}

	domains, err := c.list(ctx, c.url+"/rest/v1/domains")
	if err != nil {
		return nil, err
	}

	zlog.Info("Loaded domains from record-of-truth", "count", len(domains))

	return domains, nil
}

// ListPendingNSCheck returns the rows still awaiting an NS check.
func (c *Client) ListPendingNSCheck(ctx context.Context) ([]Domain, error) {
	if !c.Configured() {
		return nil, nil
	}

	return c.list(ctx, c.url+"/rest/v1/domains?pending_ns_check=eq.true")
}

// Patch updates fields of a row by id.
func (c *Client) Patch(ctx context.Context, id string, fields map[string]any) error {
	if !c.Configured() {
		return nil
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.url+"/rest/v1/domains?id=eq."+id, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}

	c.setHeaders(req)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp)
}

// Delete removes a row by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	if !c.Configured() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.url+"/rest/v1/domains?id=eq."+id, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}

	c.setHeaders(req)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	zlog.Info("Deleted domain from record-of-truth", "id", id)

	return nil
}

func (c *Client) list(ctx context.Context, url string) ([]Domain, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}

	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var domains []Domain
	if err := json.NewDecoder(resp.Body).Decode(&domains); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}

	return domains, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	return fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode, strings.TrimSpace(string(body)))
}
