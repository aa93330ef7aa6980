// Package api is the device-side HTTP client for the back-office service.
// Every failure it returns is a *DeliveryError carrying an ErrorKind so the
// queue can classify retries without inspecting transport details.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
)

// Client talks to the server with a bearer token from the external login
// collaborator.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &DeliveryError{Kind: KindClient, Message: fmt.Sprintf("encode request: %v", err), cause: err}
		}
		reader = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &DeliveryError{Kind: KindClient, Message: fmt.Sprintf("build request: %v", err), cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NetworkError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, StatusError(resp.StatusCode, string(raw))
	}
	return raw, nil
}

// FetchSnapshot pulls the bounded reference dataset.
func (c *Client) FetchSnapshot(ctx context.Context, limit int) (*accounts.SnapshotPayload, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/field/offline-snapshot", query, nil, nil)
	if err != nil {
		return nil, err
	}
	var payload accounts.SnapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &DeliveryError{Kind: KindServer, Message: fmt.Sprintf("decode snapshot: %v", err), cause: err}
	}
	return &payload, nil
}

// SearchRecords runs a live search; only called while online.
func (c *Client) SearchRecords(ctx context.Context, q string, streetID int64, limit int) ([]accounts.Account, error) {
	query := url.Values{}
	if q != "" {
		query.Set("q", q)
	}
	if streetID != 0 {
		query.Set("street_id", strconv.FormatInt(streetID, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/field/records/search", query, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Records []accounts.Account `json:"records"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DeliveryError{Kind: KindServer, Message: fmt.Sprintf("decode search: %v", err), cause: err}
	}
	return resp.Records, nil
}

// Submit delivers one field submission. The idempotency key travels in the
// header so a retried delivery lands on the same server-side request row.
func (c *Client) Submit(ctx context.Context, sub fieldops.Submission) error {
	headers := map[string]string{"Idempotency-Key": sub.IdempotencyKey}
	_, err := c.do(ctx, http.MethodPost, "/field/requests", nil, sub, headers)
	return err
}

// Online probes the server health endpoint with a short timeout.
func (c *Client) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
