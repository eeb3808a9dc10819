package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// HTTPClient implements Client against a CRUD HTTP service. Records
// are addressed as {baseURL}/{collection}/{id}; writes use PUT so a
// retried mutation lands on the same resource.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func collection(typ review.MutationType) string {
	switch typ {
	case review.MutationSession:
		return "sessions"
	case review.MutationAnswer:
		return "answers"
	case review.MutationStatistics:
		return "statistics"
	case review.MutationProgress:
		return "progress"
	default:
		return string(typ)
	}
}

func (c *HTTPClient) put(ctx context.Context, coll, id string, payload json.RawMessage) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, coll, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", review.ErrSyncTransport, url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: put %s: status %d", review.ErrSyncTransport, url, resp.StatusCode)
	}
	return nil
}

// CreateSession creates or overwrites the session record.
func (c *HTTPClient) CreateSession(ctx context.Context, id string, payload json.RawMessage) error {
	return c.put(ctx, "sessions", id, payload)
}

// UpdateSession updates the session record.
func (c *HTTPClient) UpdateSession(ctx context.Context, id string, payload json.RawMessage) error {
	return c.put(ctx, "sessions", id, payload)
}

// SubmitAnswer uploads one answer record.
func (c *HTTPClient) SubmitAnswer(ctx context.Context, id string, payload json.RawMessage) error {
	return c.put(ctx, "answers", id, payload)
}

// SaveStatistics uploads session statistics.
func (c *HTTPClient) SaveStatistics(ctx context.Context, id string, payload json.RawMessage) error {
	return c.put(ctx, "statistics", id, payload)
}

// UpdateProgress uploads per-item scheduling progress.
func (c *HTTPClient) UpdateProgress(ctx context.Context, id string, payload json.RawMessage) error {
	return c.put(ctx, "progress", id, payload)
}

// Fetch returns the current remote record, or (nil, nil) on 404.
func (c *HTTPClient) Fetch(ctx context.Context, typ review.MutationType, id string) (*Record, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, collection(typ), id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", review.ErrSyncTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: get %s: status %d", review.ErrSyncTransport, url, resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", review.ErrSyncTransport, url, err)
	}
	return &rec, nil
}
