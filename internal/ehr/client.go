package ehr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OrderRequest is the structured follow-up order sent to the order system.
type OrderRequest struct {
	TaskID        string    `json:"task_id"`
	PatientID     string    `json:"patient_id,omitempty"`
	Procedure     string    `json:"procedure"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Reason        string    `json:"reason"`
}

// Client submits follow-up orders. Submission is idempotent on TaskID: the
// order system must not create a second live order for a task it has already
// seen, including superseded tasks.
type Client interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
}

type orderResponse struct {
	OrderID string `json:"order_id"`
}

// HTTPClient talks to a real EHR order endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

func (c *HTTPClient) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.TaskID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("order submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("order submission returned %d: %s", resp.StatusCode, string(payload))
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode order response: %w", err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("order response missing order_id")
	}
	return out.OrderID, nil
}

// LocalClient assigns order identifiers without an external system. Used when
// no EHR endpoint is configured (demos, local runs). Deriving the order ID
// from the task ID keeps re-submission idempotent.
type LocalClient struct{}

func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

func (c *LocalClient) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	return "local-" + req.TaskID, nil
}
