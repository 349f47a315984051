package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/storage"
)

const testContractID = "CA3D5KRYM6CB7OWQ6TWYRR3Z4T7GNZLKERYNZGGA5SOAOPIFY6YQGAXE"

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	cfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	}
	st, err := storage.NewStorage(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, st.Connect())
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestDispatcher(st storage.Storage) *Dispatcher {
	cfg := &config.AlertConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}
	return NewDispatcher(st, cfg, nil, nil)
}

func seedAlertEvent(t *testing.T, st storage.Storage) *models.ContractEvent {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveContract(ctx, &models.TrackedContract{
		ContractID: testContractID,
		Name:       "test token",
		Active:     true,
	}))
	event := &models.ContractEvent{
		ContractID:     testContractID,
		Ledger:         9000,
		EventIndex:     0,
		EventType:      "transfer",
		TxHash:         "tx1",
		Payload:        map[string]interface{}{"amount": "5000000000"},
		PayloadHash:    "hash",
		DecodingStatus: models.DecodingNoABI,
		Timestamp:      time.Now().UTC(),
	}
	stored, created, err := st.UpsertEvent(ctx, event)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func seedRule(t *testing.T, st storage.Storage, name, actionType, target string, cond models.Condition) *models.AlertRule {
	t.Helper()
	rule := &models.AlertRule{
		ContractID:   testContractID,
		Name:         name,
		Condition:    cond,
		ActionType:   actionType,
		ActionTarget: target,
		Active:       true,
	}
	require.NoError(t, st.SaveAlertRule(context.Background(), rule))
	return rule
}

func TestEvaluateRulesDispatchesMatches(t *testing.T) {
	st := newTestStorage(t)
	event := seedAlertEvent(t, st)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	matching := seedRule(t, st, "transfers", models.AlertActionWebhook, server.URL,
		models.Condition{Op: "eq", Field: "event_type", Value: "transfer"})
	seedRule(t, st, "burns only", models.AlertActionWebhook, server.URL,
		models.Condition{Op: "eq", Field: "event_type", Value: "burn"})

	d := newTestDispatcher(st)
	matched, err := d.EvaluateRules(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, hits)

	executions, err := st.GetAlertExecutions(context.Background(), matching.ID, 10)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.AlertSent, executions[0].Status)
	assert.Equal(t, "ok", executions[0].Response)
}

func TestEvaluateRulesMissingEvent(t *testing.T) {
	st := newTestStorage(t)
	d := newTestDispatcher(st)

	matched, err := d.EvaluateRules(context.Background(), 424242)
	require.NoError(t, err)
	assert.Equal(t, 0, matched)
}

func TestSendRetriesAndRecordsEveryAttempt(t *testing.T) {
	st := newTestStorage(t)
	event := seedAlertEvent(t, st)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rule := seedRule(t, st, "flaky target", models.AlertActionWebhook, server.URL,
		models.Condition{Op: "eq", Field: "event_type", Value: "transfer"})

	d := newTestDispatcher(st)
	err := d.Send(context.Background(), rule.ID, event.ID)
	require.Error(t, err)
	assert.Equal(t, 3, hits)

	executions, err := st.GetAlertExecutions(context.Background(), rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, executions, 3)
	for _, exec := range executions {
		assert.Equal(t, models.AlertFailed, exec.Status)
		assert.Contains(t, exec.Response, "502")
	}
}

func TestSendUnknownActionDoesNotRetry(t *testing.T) {
	st := newTestStorage(t)
	event := seedAlertEvent(t, st)

	rule := seedRule(t, st, "bad action", "carrier_pigeon", "nowhere",
		models.Condition{Op: "eq", Field: "event_type", Value: "transfer"})

	d := newTestDispatcher(st)
	err := d.Send(context.Background(), rule.ID, event.ID)
	require.Error(t, err)

	executions, err := st.GetAlertExecutions(context.Background(), rule.ID, 10)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestSendSkipsInactiveRule(t *testing.T) {
	st := newTestStorage(t)
	event := seedAlertEvent(t, st)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	rule := seedRule(t, st, "disabled", models.AlertActionWebhook, server.URL,
		models.Condition{Op: "eq", Field: "event_type", Value: "transfer"})
	rule.Active = false
	require.NoError(t, st.SaveAlertRule(context.Background(), rule))

	d := newTestDispatcher(st)

	// The freshly saved inactive copy gets its own id; sending against it
	// must be a no-op.
	inactive := rule.ID
	require.NoError(t, d.Send(context.Background(), inactive, event.ID))
	assert.Equal(t, 0, hits)
}

func TestSendChatFormatsMessage(t *testing.T) {
	st := newTestStorage(t)
	event := seedAlertEvent(t, st)

	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rule := seedRule(t, st, "big transfer", models.AlertActionChat, server.URL,
		models.Condition{Op: "eq", Field: "event_type", Value: "transfer"})

	d := newTestDispatcher(st)
	require.NoError(t, d.Send(context.Background(), rule.ID, event.ID))

	text, ok := body["text"].(string)
	require.True(t, ok)
	assert.Contains(t, text, "big transfer")
	assert.Contains(t, text, "transfer")
	assert.Contains(t, text, "9000")
}

func TestFlattenEventDataDecodedFallback(t *testing.T) {
	event := &models.ContractEvent{
		EventType: "transfer",
		Ledger:    100,
		Payload:   map[string]interface{}{"value": "raw"},
	}
	data := flattenEventData(event)

	// Without a decoded payload both views expose the generic payload
	assert.Equal(t, data["payload"], data["decodedPayload"])

	event.DecodedPayload = map[string]interface{}{"amount": "5"}
	data = flattenEventData(event)
	assert.Equal(t, map[string]interface{}{"amount": "5"}, data["decodedPayload"])
}
