// File: internal/rpc/client.go
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/pkg/utils"
)

// RawEvent is one event as returned by the ledger RPC, before decoding
type RawEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Ledger     uint32    `json:"ledger"`
	ContractID string    `json:"contractId"`
	Topic      []string  `json:"topic"`
	ValueXDR   string    `json:"value"`
	TxHash     string    `json:"txHash"`
	ClosedAt   time.Time `json:"-"`

	// Optional explicit position within the ledger; most servers only
	// encode it in the opaque id.
	EventIndex *int `json:"-"`
}

// Client is a JSON-RPC 2.0 client for the Soroban getEvents endpoint
type Client struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Entry

	metricsManager *metrics.Manager

	// nextID is incremented atomically: one client is shared by the live
	// sync tick and concurrent backfill tasks.
	nextID atomic.Int64
}

// NewClient creates an RPC client from configuration
func NewClient(cfg *config.SorobanConfig, metricsManager *metrics.Manager) *Client {
	return &Client{
		url: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger:         utils.ComponentLogger("rpc"),
		metricsManager: metricsManager,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type getEventsParams struct {
	StartLedger uint32        `json:"startLedger"`
	EndLedger   *uint32       `json:"endLedger,omitempty"`
	Filters     []eventFilter `json:"filters"`
	Pagination  pagination    `json:"pagination"`
}

type eventFilter struct {
	Type        string   `json:"type"`
	ContractIDs []string `json:"contractIds"`
}

type pagination struct {
	Limit int `json:"limit"`
}

type getEventsResult struct {
	LatestLedger uint32     `json:"latestLedger"`
	Events       []rawEvent `json:"events"`
}

type rawEvent struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Ledger         uint32   `json:"ledger"`
	LedgerClosedAt string   `json:"ledgerClosedAt"`
	ContractID     string   `json:"contractId"`
	Topic          []string `json:"topic"`
	Value          string   `json:"value"`
	TxHash         string   `json:"txHash"`
	EventIndex     *int     `json:"eventIndex,omitempty"`
}

// GetEvents fetches contract events for an inclusive ledger range. When the
// server rejects endLedger (older RPC versions), the request is retried
// without it and the range is enforced client-side.
func (c *Client) GetEvents(ctx context.Context, start uint32, end *uint32, contractIDs []string, limit int) ([]*RawEvent, uint32, error) {
	params := getEventsParams{
		StartLedger: start,
		EndLedger:   end,
		Filters: []eventFilter{
			{Type: "contract", ContractIDs: contractIDs},
		},
		Pagination: pagination{Limit: limit},
	}

	result, err := c.getEvents(ctx, params)
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && end != nil && strings.Contains(rpcErr.Message, "endLedger") {
			c.logger.Debug("Server rejected endLedger, retrying without it")
			params.EndLedger = nil
			result, err = c.getEvents(ctx, params)
		}
		if err != nil {
			return nil, 0, err
		}
	}

	events := make([]*RawEvent, 0, len(result.Events))
	for _, raw := range result.Events {
		if raw.Ledger < start {
			continue
		}
		if end != nil && raw.Ledger > *end {
			continue
		}
		event := &RawEvent{
			ID:         raw.ID,
			Type:       raw.Type,
			Ledger:     raw.Ledger,
			ContractID: raw.ContractID,
			Topic:      raw.Topic,
			ValueXDR:   raw.Value,
			TxHash:     raw.TxHash,
			EventIndex: raw.EventIndex,
		}
		if raw.LedgerClosedAt != "" {
			if closedAt, err := time.Parse(time.RFC3339, raw.LedgerClosedAt); err == nil {
				event.ClosedAt = closedAt
			}
		}
		events = append(events, event)
	}
	return events, result.LatestLedger, nil
}

// GetLatestLedger returns the current ledger sequence of the RPC server
func (c *Client) GetLatestLedger(ctx context.Context) (uint32, error) {
	var result struct {
		Sequence uint32 `json:"sequence"`
	}
	if err := c.call(ctx, "getLatestLedger", nil, &result); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}

func (c *Client) getEvents(ctx context.Context, params getEventsParams) (*getEventsResult, error) {
	var result getEventsResult
	if err := c.call(ctx, "getEvents", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	start := time.Now()
	err := c.doCall(ctx, method, params, result)

	if c.metricsManager != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metricsManager.GetPrometheusMetrics().RecordRPCRequest(method, status, time.Since(start))
	}
	return err
}

func (c *Client) doCall(ctx context.Context, method string, params, result interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeRPC, "Failed to marshal RPC request", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeRPC, "Failed to build RPC request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeRPC, "RPC request failed", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeRPC, "Failed to read RPC response", err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError(utils.ErrCodeRPC,
			fmt.Sprintf("RPC server returned status %d", resp.StatusCode),
			string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return utils.NewAppError(utils.ErrCodeRPC, "Failed to decode RPC response", err.Error())
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return utils.NewAppError(utils.ErrCodeRPC, "Failed to decode RPC result", err.Error())
		}
	}
	return nil
}
