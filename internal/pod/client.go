package pod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/item"
)

// ErrRemote wraps pod-side errors so callers can distinguish them from
// transport failures.
var ErrRemote = errors.New("pod: remote error")

// Client is the contract the cache and sync engine program against.
type Client interface {
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
	Get(ctx context.Context, uid int64) (*item.Item, error)
	Sync(ctx context.Context, req SyncRequest) error
	RunImporter(ctx context.Context, uid int64) (RunResponse, error)
	RunIndexer(ctx context.Context, uid int64) (RunResponse, error)
}

// HTTPClient talks to a pod over its JSON API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a client for the pod at baseURL. The api key rides
// on every request as a bearer token.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
		reqBody = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pod request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			return fmt.Errorf("%w: %s (%d)", ErrRemote, er.Error, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s returned %d", ErrRemote, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// Query runs a datasource query remotely.
func (c *HTTPClient) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	err := c.do(ctx, http.MethodPost, "/v2/query", req, &resp)
	return resp, err
}

// Get fetches a single item by uid.
func (c *HTTPClient) Get(ctx context.Context, uid int64) (*item.Item, error) {
	var payload ItemPayload
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v2/item/%d", uid), nil, &payload); err != nil {
		return nil, err
	}
	return DecodeItem(payload), nil
}

// Sync pushes one batch of local mutations. Empty batches short-circuit.
func (c *HTTPClient) Sync(ctx context.Context, req SyncRequest) error {
	if req.Empty() {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/v2/sync", req, nil)
}

// RunImporter asks the pod to execute the importer identified by uid.
func (c *HTTPClient) RunImporter(ctx context.Context, uid int64) (RunResponse, error) {
	var resp RunResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v2/run_importer/%d", uid), nil, &resp)
	return resp, err
}

// RunIndexer asks the pod to execute the indexer identified by uid.
func (c *HTTPClient) RunIndexer(ctx context.Context, uid int64) (RunResponse, error) {
	var resp RunResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v2/run_indexer/%d", uid), nil, &resp)
	return resp, err
}
