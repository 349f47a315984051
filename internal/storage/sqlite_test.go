package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/models"
)

const (
	testContractID  = "CA3D5KRYM6CB7OWQ6TWYRR3Z4T7GNZLKERYNZGGA5SOAOPIFY6YQGAXE"
	otherContractID = "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"
)

func newTestStorage(t *testing.T) Storage {
	t.Helper()
	cfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	}
	st, err := NewStorage(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, st.Connect())
	require.NoError(t, st.Migrate())
	require.NoError(t, st.Ping())
	t.Cleanup(func() { st.Close() })
	return st
}

func seedContract(t *testing.T, st Storage, contractID string) *models.TrackedContract {
	t.Helper()
	contract := &models.TrackedContract{
		ContractID: contractID,
		Name:       "test token",
		Active:     true,
	}
	require.NoError(t, st.SaveContract(context.Background(), contract))
	return contract
}

func testEvent(contractID string, ledger uint64, index int) *models.ContractEvent {
	return &models.ContractEvent{
		ContractID:     contractID,
		Ledger:         ledger,
		EventIndex:     index,
		EventType:      "transfer",
		TxHash:         "tx1",
		Payload:        map[string]interface{}{"amount": "100"},
		PayloadHash:    "hash1",
		DecodingStatus: models.DecodingNoABI,
		Timestamp:      time.Now().UTC(),
	}
}

func TestContractCRUD(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	contract, err := st.GetContract(ctx, testContractID)
	require.NoError(t, err)
	require.NotNil(t, contract)
	assert.Equal(t, "test token", contract.Name)
	assert.True(t, contract.Active)
	assert.Nil(t, contract.LastIndexedLedger)

	contract.Name = "renamed"
	contract.Active = false
	require.NoError(t, st.UpdateContract(ctx, contract))

	updated, err := st.GetContract(ctx, testContractID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Active)

	active := true
	contracts, err := st.GetContracts(ctx, &active)
	require.NoError(t, err)
	assert.Empty(t, contracts)

	contracts, err = st.GetContracts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, contracts, 1)

	require.NoError(t, st.DeleteContract(ctx, testContractID))
	gone, err := st.GetContract(ctx, testContractID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestAdvanceLastIndexedLedgerForwardOnly(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	require.NoError(t, st.AdvanceLastIndexedLedger(ctx, testContractID, 500))
	contract, err := st.GetContract(ctx, testContractID)
	require.NoError(t, err)
	require.NotNil(t, contract.LastIndexedLedger)
	assert.Equal(t, uint64(500), *contract.LastIndexedLedger)

	// A smaller ledger must not move the mark backwards
	require.NoError(t, st.AdvanceLastIndexedLedger(ctx, testContractID, 300))
	contract, err = st.GetContract(ctx, testContractID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), *contract.LastIndexedLedger)

	require.NoError(t, st.AdvanceLastIndexedLedger(ctx, testContractID, 501))
	contract, err = st.GetContract(ctx, testContractID)
	require.NoError(t, err)
	assert.Equal(t, uint64(501), *contract.LastIndexedLedger)
}

func TestUpsertEventCreatedFlag(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	first, created, err := st.UpsertEvent(ctx, testEvent(testContractID, 100, 0))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	// Same natural key updates in place
	update := testEvent(testContractID, 100, 0)
	update.DecodingStatus = models.DecodingSuccess
	update.DecodedPayload = map[string]interface{}{"amount": float64(100)}
	second, created, err := st.UpsertEvent(ctx, update)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	stored, err := st.GetEventByKey(ctx, testContractID, 100, 0)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.DecodingSuccess, stored.DecodingStatus)
	assert.Equal(t, float64(100), stored.DecodedPayload["amount"])

	// A different index on the same ledger is a new row
	_, created, err = st.UpsertEvent(ctx, testEvent(testContractID, 100, 1))
	require.NoError(t, err)
	assert.True(t, created)

	count, err := st.GetEventCount(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestGetEventsFiltering(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)
	seedContract(t, st, otherContractID)

	for ledger := uint64(10); ledger <= 14; ledger++ {
		_, _, err := st.UpsertEvent(ctx, testEvent(testContractID, ledger, 0))
		require.NoError(t, err)
	}
	other := testEvent(otherContractID, 12, 0)
	other.EventType = "mint"
	_, _, err := st.UpsertEvent(ctx, other)
	require.NoError(t, err)

	from, to := uint64(11), uint64(13)
	events, err := st.GetEvents(ctx, models.EventFilter{
		ContractID: strPtr(testContractID),
		FromLedger: &from,
		ToLedger:   &to,
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first
	assert.Equal(t, uint64(13), events[0].Ledger)
	assert.Equal(t, uint64(11), events[2].Ledger)

	eventType := "mint"
	events, err = st.GetEvents(ctx, models.EventFilter{EventType: &eventType})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, otherContractID, events[0].ContractID)

	events, err = st.GetEvents(ctx, models.EventFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventSchemaVersioning(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	for version := 1; version <= 3; version++ {
		require.NoError(t, st.SaveEventSchema(ctx, &models.EventSchema{
			ContractID: testContractID,
			EventType:  "transfer",
			Version:    version,
			JSONSchema: map[string]interface{}{"type": "object"},
		}))
	}

	latest, err := st.GetLatestEventSchema(ctx, testContractID, "transfer")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Version)

	missing, err := st.GetLatestEventSchema(ctx, testContractID, "burn")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := st.GetEventSchemas(ctx, testContractID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestContractABIRoundTrip(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	missing, err := st.GetContractABI(ctx, testContractID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.SaveContractABI(ctx, &models.ContractABI{
		ContractID: testContractID,
		Events: []models.EventDef{
			{Name: "transfer", Fields: []models.FieldDef{{Name: "amount", Type: "I128"}}},
		},
	}))

	abi, err := st.GetContractABI(ctx, testContractID)
	require.NoError(t, err)
	require.NotNil(t, abi)
	require.Len(t, abi.Events, 1)
	assert.Equal(t, "transfer", abi.Events[0].Name)

	// Re-upload replaces the definition set
	require.NoError(t, st.SaveContractABI(ctx, &models.ContractABI{
		ContractID: testContractID,
		Events: []models.EventDef{
			{Name: "mint"}, {Name: "burn"},
		},
	}))
	abi, err = st.GetContractABI(ctx, testContractID)
	require.NoError(t, err)
	assert.Len(t, abi.Events, 2)
}

func TestIndexerState(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	value, err := st.GetIndexerState(ctx, "live_cursor")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, st.SetIndexerState(ctx, "live_cursor", "12345"))
	require.NoError(t, st.SetIndexerState(ctx, "live_cursor", "12350"))

	value, err = st.GetIndexerState(ctx, "live_cursor")
	require.NoError(t, err)
	assert.Equal(t, "12350", value)
}

func TestSubscriptionLifecycle(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	sub := &models.WebhookSubscription{
		ContractID: testContractID,
		EventType:  "transfer",
		TargetURL:  "https://example.com/hook",
		Secret:     "s3cret",
		Active:     true,
		Status:     models.SubscriptionActive,
	}
	require.NoError(t, st.SaveSubscription(ctx, sub))
	require.NotZero(t, sub.ID)

	wildcard := &models.WebhookSubscription{
		ContractID: testContractID,
		EventType:  "",
		TargetURL:  "https://example.com/all",
		Secret:     "s3cret2",
		Active:     true,
		Status:     models.SubscriptionActive,
	}
	require.NoError(t, st.SaveSubscription(ctx, wildcard))

	// Matching event type plus the wildcard
	subs, err := st.GetActiveSubscriptions(ctx, testContractID, "transfer")
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	// Only the wildcard matches other event types
	subs, err = st.GetActiveSubscriptions(ctx, testContractID, "mint")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, wildcard.ID, subs[0].ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.IncrementSubscriptionFailure(ctx, sub.ID))
	}
	loaded, err := st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.FailureCount)

	triggeredAt := time.Now().UTC()
	require.NoError(t, st.MarkSubscriptionSuccess(ctx, sub.ID, triggeredAt))
	loaded, err = st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.FailureCount)
	require.NotNil(t, loaded.LastTriggered)

	require.NoError(t, st.SuspendSubscription(ctx, sub.ID))
	loaded, err = st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionSuspended, loaded.Status)
	assert.False(t, loaded.Active)

	subs, err = st.GetActiveSubscriptions(ctx, testContractID, "transfer")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, st.ReactivateSubscription(ctx, sub.ID))
	loaded, err = st.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, loaded.Status)
	assert.True(t, loaded.Active)
	assert.Equal(t, 0, loaded.FailureCount)
}

func TestDeliveryLogPruning(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	sub := &models.WebhookSubscription{
		ContractID: testContractID,
		TargetURL:  "https://example.com/hook",
		Secret:     "s3cret",
		Active:     true,
		Status:     models.SubscriptionActive,
	}
	require.NoError(t, st.SaveSubscription(ctx, sub))

	old := time.Now().UTC().AddDate(0, 0, -40)
	recent := time.Now().UTC()
	for i, ts := range []time.Time{old, old, recent} {
		require.NoError(t, st.SaveDeliveryLog(ctx, &models.WebhookDeliveryLog{
			SubscriptionID: sub.ID,
			AttemptNumber:  i + 1,
			Success:        false,
			Error:          "connection refused",
			Timestamp:      ts,
		}))
	}

	pruned, err := st.PruneDeliveryLogs(ctx, time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	logs, err := st.GetDeliveryLogs(ctx, sub.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestAlertRuleOperations(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	rule := &models.AlertRule{
		ContractID: testContractID,
		Name:       "large transfer",
		Condition: models.Condition{
			Op: "and",
			Conditions: []models.Condition{
				{Op: "eq", Field: "event_type", Value: "transfer"},
				{Op: "gt", Field: "decodedPayload.amount", Value: float64(1000000)},
			},
		},
		ActionType:   models.AlertActionWebhook,
		ActionTarget: "https://example.com/alert",
		Active:       true,
	}
	require.NoError(t, st.SaveAlertRule(ctx, rule))
	require.NotZero(t, rule.ID)

	loaded, err := st.GetAlertRule(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "and", loaded.Condition.Op)
	require.Len(t, loaded.Condition.Conditions, 2)
	assert.Equal(t, "gt", loaded.Condition.Conditions[1].Op)

	count, err := st.CountAlertRules(ctx, testContractID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rules, err := st.GetActiveAlertRules(ctx, testContractID, models.MaxRulesPerContract)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	event, created, err := st.UpsertEvent(ctx, testEvent(testContractID, 100, 0))
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, st.SaveAlertExecution(ctx, &models.AlertExecution{
		RuleID:  rule.ID,
		EventID: event.ID,
		Status:  models.AlertSent,
	}))
	executions, err := st.GetAlertExecutions(ctx, rule.ID, 10)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.AlertSent, executions[0].Status)
}

func TestStorageStats(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	seedContract(t, st, testContractID)

	_, _, err := st.UpsertEvent(ctx, testEvent(testContractID, 100, 0))
	require.NoError(t, err)

	stats, err := st.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalContracts)
	assert.Equal(t, int64(1), stats.ActiveContracts)
	assert.Equal(t, int64(1), stats.TotalEvents)

	// Aggregated time range must survive the round trip through the driver
	require.NotNil(t, stats.OldestEvent)
	require.NotNil(t, stats.LatestEvent)
	assert.False(t, stats.OldestEvent.After(*stats.LatestEvent))
}

func strPtr(s string) *string { return &s }
