// Package hiverpc is a JSON-RPC 2.0 client for the redundant public Hive API
// endpoints. Endpoint selection is an explicit ordered-list walk: calls go to
// the current endpoint, a failure advances to the next one, and the endpoint
// that answers becomes current for subsequent calls. Callers never see which
// endpoint served them.
package hiverpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	endpoints []string
	http      *http.Client
	logger    *slog.Logger
	metrics   *metrics

	mu      sync.Mutex
	current int
}

type Options struct {
	// HTTPClient overrides the default retrying client. Mainly for tests.
	HTTPClient *http.Client

	// Registerer receives the transport counters. Nil means the default
	// prometheus registry.
	Registerer prometheus.Registerer
}

func NewClient(endpoints []string, logger *slog.Logger, opts *Options) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if opts == nil {
		opts = &Options{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = 2
		rc.HTTPClient.Timeout = defaultTimeout
		rc.Logger = nil
		httpClient = rc.StandardClient()
	}

	return &Client{
		endpoints: endpoints,
		http:      httpClient,
		logger:    logger,
		metrics:   newMetrics(opts.Registerer),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call issues a single JSON-RPC call. Params is marshaled as given, so
// positional (slice) and named (map/struct) parameter styles both work.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	body, err := c.exchange(ctx, method, req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DecodeError{Method: method, Err: err}
	}

	if resp.Error != nil {
		return nil, &TransportError{Method: method, Endpoint: c.currentEndpoint(), Err: resp.Error}
	}

	return resp.Result, nil
}

// BatchCall issues one JSON-RPC batch request for the same method with the
// given parameter tuples. The returned slice has exactly len(tuples)
// elements, and index i always holds the result for tuples[i]; servers may
// answer batches in any order, so responses are matched back by request id.
// A tuple the server did not answer yields a nil result at its index.
func (c *Client) BatchCall(ctx context.Context, method string, tuples [][]any) ([]json.RawMessage, error) {
	if len(tuples) == 0 {
		return nil, nil
	}

	batch := make([]rpcRequest, len(tuples))
	for i, tuple := range tuples {
		batch[i] = rpcRequest{
			JSONRPC: "2.0",
			ID:      i,
			Method:  method,
			Params:  tuple,
		}
	}

	body, err := c.exchange(ctx, method, batch)
	if err != nil {
		return nil, err
	}

	var resps []rpcResponse
	if err := json.Unmarshal(body, &resps); err != nil {
		return nil, &DecodeError{Method: method, Err: err}
	}

	results := make([]json.RawMessage, len(tuples))

	for _, resp := range resps {
		var id int
		if err := json.Unmarshal(resp.ID, &id); err != nil {
			continue
		}

		if id < 0 || id >= len(results) {
			continue
		}

		if resp.Error != nil {
			return nil, &TransportError{Method: method, Endpoint: c.currentEndpoint(), Err: resp.Error}
		}

		results[id] = resp.Result
	}

	return results, nil
}

// exchange runs one request against the endpoint list, advancing past
// endpoints that fail. Each endpoint is tried at most once per exchange.
func (c *Client) exchange(ctx context.Context, method string, payload any) ([]byte, error) {
	c.metrics.calls.WithLabelValues(method).Inc()

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	c.mu.Lock()
	start := c.current
	c.mu.Unlock()

	var lastErr error

	for attempt := range c.endpoints {
		idx := (start + attempt) % len(c.endpoints)
		endpoint := c.endpoints[idx]

		body, err := c.post(ctx, endpoint, buf)
		if err == nil {
			c.mu.Lock()
			c.current = idx
			c.mu.Unlock()

			return body, nil
		}

		lastErr = err

		c.metrics.failovers.Inc()
		c.logger.WarnContext(ctx, "rpc endpoint failed, trying next",
			"endpoint", endpoint, "method", method, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &TransportError{Method: method, Endpoint: c.currentEndpoint(), Err: lastErr}
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)

		return nil, fmt.Errorf("received non-200 response code: %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return b, nil
}

func (c *Client) currentEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.endpoints[c.current]
}
