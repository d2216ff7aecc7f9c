package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/focusflow/focusflow-go/internal/model"
)

// DefaultBatchSize caps the operations sent in one request.
const DefaultBatchSize = 500

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: status %d: %s: %s", e.Method, e.Path, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client talks to the sync API. It holds no sync state of its own.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	batchSize  int
	maxRetries int
}

// New creates a Client for the server at baseURL authenticating with token.
func New(baseURL, token string, timeout time.Duration, batchSize int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if batchSize <= 0 || batchSize > model.MaxSyncOperations {
		batchSize = DefaultBatchSize
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		batchSize:  batchSize,
		maxRetries: 2,
	}
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request GET /health: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Method: http.MethodGet, Path: "/health", StatusCode: resp.StatusCode}
	}
	return nil
}

// ExchangeTasks uploads task operations and pulls tasks changed since lastSyncedAt.
func (c *Client) ExchangeTasks(ctx context.Context, deviceID string, ops []model.SyncOperation, lastSyncedAt *time.Time) (*model.SyncResponse[model.Task], error) {
	return exchange[model.Task](ctx, c, model.EntityTask, deviceID, ops, lastSyncedAt)
}

// ExchangeSessions uploads session operations and pulls sessions changed since lastSyncedAt.
func (c *Client) ExchangeSessions(ctx context.Context, deviceID string, ops []model.SyncOperation, lastSyncedAt *time.Time) (*model.SyncResponse[model.FocusSession], error) {
	return exchange[model.FocusSession](ctx, c, model.EntitySession, deviceID, ops, lastSyncedAt)
}

// exchange sends ops in batches, each against the same watermark, and merges
// the responses. The merged watermark is the earliest one returned so that no
// change made between batches is skipped on the next pull. An empty ops slice
// still performs one request, which pulls without uploading.
func exchange[T any](ctx context.Context, c *Client, entity model.EntityType, deviceID string, ops []model.SyncOperation, lastSyncedAt *time.Time) (*model.SyncResponse[T], error) {
	envelopes := make([]model.OperationEnvelope, 0, len(ops))
	for _, op := range ops {
		if op.Entity() != entity {
			return nil, fmt.Errorf("%w: %s operation in %s exchange", model.ErrUnknownOperation, op.Entity(), entity)
		}
		env, err := model.EncodeOperation(op)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}

	merged := &model.SyncResponse[T]{
		Mapping:        map[string]string{},
		ServerEntities: []T{},
	}
	path := "/api/v1/sync/" + string(entity)

	for start := 0; start == 0 || start < len(envelopes); start += c.batchSize {
		end := min(start+c.batchSize, len(envelopes))

		req := model.SyncRequest{
			ClientID:     deviceID,
			LastSyncedAt: lastSyncedAt,
			Operations:   envelopes[start:end],
		}
		var resp model.SyncResponse[T]
		if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
			return nil, err
		}

		merged.Synced += resp.Synced
		merged.Conflicts += resp.Conflicts
		for k, v := range resp.Mapping {
			merged.Mapping[k] = v
		}
		merged.ServerEntities = append(merged.ServerEntities, resp.ServerEntities...)
		merged.Rejected = append(merged.Rejected, resp.Rejected...)
		if merged.LastSyncedAt.IsZero() || resp.LastSyncedAt.Before(merged.LastSyncedAt) {
			merged.LastSyncedAt = resp.LastSyncedAt
		}
	}

	return merged, nil
}

// do sends a JSON request and decodes the JSON response, retrying a limited
// number of times when the server rate limits.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := newStatusError(method, path, resp.StatusCode, respBody)
			if resp.StatusCode != http.StatusTooManyRequests {
				return statusErr
			}
			lastErr = statusErr

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter(resp, attempt)):
				continue
			}
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func newStatusError(method, path string, status int, body []byte) *StatusError {
	e := &StatusError{Method: method, Path: path, StatusCode: status}

	var apiErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		e.Code = apiErr.Code
		e.Message = apiErr.Error
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}

// retryAfter reads the Retry-After header, falling back to exponential backoff.
func retryAfter(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
