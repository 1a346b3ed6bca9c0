// Package sync reconciles locally queued operations with the remote
// store and refreshes the reference catalog.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmorgan/histalog/internal/model"
)

const httpTimeout = 10 * time.Second

// Remote is the authoritative store the reconciler drains into. The
// temporary identifier is the idempotency key for every submission:
// resubmitting the same tempID must return the same server identifier
// without creating a second record.
type Remote interface {
	SubmitMeal(ctx context.Context, tempID string, p model.MealPayload) (serverID string, err error)
	SubmitContext(ctx context.Context, tempID string, p model.ContextPayload) (serverID string, err error)
	SubmitSymptom(ctx context.Context, tempID string, p model.SymptomPayload) (serverID string, err error)
}

// Client is the HTTP implementation of Remote.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a remote-store client. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: baseURL,
		token:   token,
	}
}

func (c *Client) submit(ctx context.Context, path, tempID string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", tempID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, data)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response %s: %w", path, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("POST %s: response missing id", path)
	}
	return out.ID, nil
}

// SubmitMeal submits a pending meal and returns its server identifier.
func (c *Client) SubmitMeal(ctx context.Context, tempID string, p model.MealPayload) (string, error) {
	return c.submit(ctx, "/api/meals", tempID, p)
}

// SubmitContext submits a pending context entry.
func (c *Client) SubmitContext(ctx context.Context, tempID string, p model.ContextPayload) (string, error) {
	return c.submit(ctx, "/api/contexts", tempID, p)
}

// SubmitSymptom submits a pending symptom entry.
func (c *Client) SubmitSymptom(ctx context.Context, tempID string, p model.SymptomPayload) (string, error) {
	return c.submit(ctx, "/api/symptoms", tempID, p)
}

// Catalog is the payload of a remote catalog snapshot.
type Catalog struct {
	Foods     []model.Food             `json:"foods"`
	Modifiers []model.HandlingModifier `json:"handling_modifiers"`
}

// FetchCatalog downloads a catalog snapshot from the given URL.
func FetchCatalog(ctx context.Context, url string) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	resp, err := (&http.Client{Timeout: httpTimeout}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	var cat Catalog
	if err := json.NewDecoder(resp.Body).Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &cat, nil
}
