package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroscan/soroscan/internal/config"
)

const testContractID = "CA3D5KRYM6CB7OWQ6TWYRR3Z4T7GNZLKERYNZGGA5SOAOPIFY6YQGAXE"

func newTestClient(url string) *Client {
	return NewClient(&config.SorobanConfig{
		RPCURL:         url,
		RequestTimeout: 5 * time.Second,
	}, nil)
}

func rpcResult(id int64, result string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result)
}

func TestGetEvents(t *testing.T) {
	var gotRequest map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		fmt.Fprint(w, rpcResult(1, `{
			"latestLedger": 1500,
			"events": [
				{
					"id": "0000001000-0000000000",
					"type": "contract",
					"ledger": 1000,
					"ledgerClosedAt": "2026-08-30T12:00:00Z",
					"contractId": "`+testContractID+`",
					"topic": ["AAAADwAAAAh0cmFuc2Zlcg=="],
					"value": "AAAABQAAAAAAAAAK",
					"txHash": "deadbeef"
				}
			]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	end := uint32(1200)
	events, latest, err := client.GetEvents(context.Background(), 900, &end, []string{testContractID}, 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(1500), latest)
	require.Len(t, events, 1)
	assert.Equal(t, uint32(1000), events[0].Ledger)
	assert.Equal(t, testContractID, events[0].ContractID)
	assert.Equal(t, "deadbeef", events[0].TxHash)
	assert.Equal(t, 2026, events[0].ClosedAt.Year())

	// Request shape
	assert.Equal(t, "2.0", gotRequest["jsonrpc"])
	assert.Equal(t, "getEvents", gotRequest["method"])
	params := gotRequest["params"].(map[string]interface{})
	assert.Equal(t, float64(900), params["startLedger"])
	assert.Equal(t, float64(1200), params["endLedger"])
	filters := params["filters"].([]interface{})
	require.Len(t, filters, 1)
	filter := filters[0].(map[string]interface{})
	assert.Equal(t, "contract", filter["type"])
	pagination := params["pagination"].(map[string]interface{})
	assert.Equal(t, float64(100), pagination["limit"])
}

func TestGetEventsEndLedgerFallback(t *testing.T) {
	var requests []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		params := req["params"].(map[string]interface{})
		if _, hasEnd := params["endLedger"]; hasEnd {
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"unknown field endLedger"}}`)
			return
		}
		// Without a server-side bound the response may overshoot the range
		fmt.Fprint(w, rpcResult(2, `{
			"latestLedger": 2000,
			"events": [
				{"id": "a-0", "type": "contract", "ledger": 1000, "contractId": "`+testContractID+`", "value": "", "txHash": "t1"},
				{"id": "b-0", "type": "contract", "ledger": 1300, "contractId": "`+testContractID+`", "value": "", "txHash": "t2"}
			]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	end := uint32(1200)
	events, _, err := client.GetEvents(context.Background(), 900, &end, []string{testContractID}, 100)
	require.NoError(t, err)

	require.Len(t, requests, 2)
	_, hasEnd := requests[1]["params"].(map[string]interface{})["endLedger"]
	assert.False(t, hasEnd)

	// The out-of-range event is filtered client-side
	require.Len(t, events, 1)
	assert.Equal(t, uint32(1000), events[0].Ledger)
}

func TestGetEventsRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"invalid request"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, _, err := client.GetEvents(context.Background(), 1, nil, []string{testContractID}, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}

func TestGetEventsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, _, err := client.GetEvents(context.Background(), 1, nil, []string{testContractID}, 100)
	assert.Error(t, err)
}

func TestConcurrentCallsUseDistinctRequestIDs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int64]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		id := int64(req["id"].(float64))
		mu.Lock()
		seen[id]++
		mu.Unlock()
		fmt.Fprint(w, rpcResult(id, `{"sequence": 1}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetLatestLedger(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, seen, callers)
	for id, count := range seen {
		assert.Equal(t, 1, count, "request id %d reused", id)
	}
}

func TestGetLatestLedger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getLatestLedger", req["method"])
		fmt.Fprint(w, rpcResult(1, `{"sequence": 424242}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	sequence, err := client.GetLatestLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(424242), sequence)
}
