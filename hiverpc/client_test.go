package hiverpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/snapie/snapengine/hiverpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, endpoints []string) *hiverpc.Client {
	t.Helper()

	client, err := hiverpc.NewClient(endpoints, nil, &hiverpc.Options{
		HTTPClient: http.DefaultClient,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	return client
}

func rpcResultServer(t *testing.T, hits *int, result string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++

		var req struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": json.RawMessage(result)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestCallFailsOverToNextEndpoint(t *testing.T) {
	ctx := context.Background()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	var healthyHits int
	healthy := rpcResultServer(t, &healthyHits, `"ok"`)
	defer healthy.Close()

	client := newTestClient(t, []string{broken.URL, healthy.URL})

	res, err := client.Call(ctx, "condenser_api.get_dynamic_global_properties", []any{})
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(res))

	// The endpoint that answered stays current: the broken one is not
	// retried on the next call.
	_, err = client.Call(ctx, "condenser_api.get_dynamic_global_properties", []any{})
	require.NoError(t, err)
	assert.Equal(t, 2, healthyHits)
}

func TestCallAllEndpointsDown(t *testing.T) {
	ctx := context.Background()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	client := newTestClient(t, []string{broken.URL, broken.URL})

	_, err := client.Call(ctx, "condenser_api.get_content", []any{"alice", "post"})
	require.Error(t, err)

	transportErr := &hiverpc.TransportError{}
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "condenser_api.get_content", transportErr.Method)
}

func TestCallSurfacesRPCErrorAsTransportError(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32000, "message": "method not found"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := newTestClient(t, []string{srv.URL})

	_, err := client.Call(ctx, "condenser_api.bogus", []any{})

	transportErr := &hiverpc.TransportError{}
	require.ErrorAs(t, err, &transportErr)
}

func TestBatchCallPreservesInputOrder(t *testing.T) {
	ctx := context.Background()

	// Answer the batch in reverse order to prove results are matched back by
	// request id, not by arrival position.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []struct {
			ID     int   `json:"id"`
			Params []any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))

		resps := make([]map[string]any, 0, len(reqs))
		for i := len(reqs) - 1; i >= 0; i-- {
			resps = append(resps, map[string]any{
				"jsonrpc": "2.0",
				"id":      reqs[i].ID,
				"result":  map[string]any{"author": reqs[i].Params[0]},
			})
		}

		require.NoError(t, json.NewEncoder(w).Encode(resps))
	}))
	defer srv.Close()

	client := newTestClient(t, []string{srv.URL})

	results, err := client.BatchCall(ctx, "condenser_api.get_content_replies", [][]any{
		{"alice", "one"},
		{"bob", "two"},
		{"carol", "three"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, author := range []string{"alice", "bob", "carol"} {
		var got struct {
			Author string `json:"author"`
		}
		require.NoError(t, json.Unmarshal(results[i], &got))
		assert.Equal(t, author, got.Author)
	}
}

func TestBatchCallEmptyInput(t *testing.T) {
	client := newTestClient(t, []string{"http://127.0.0.1:1"})

	results, err := client.BatchCall(context.Background(), "condenser_api.get_content_replies", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
