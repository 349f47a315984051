package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/storage"
	"github.com/soroscan/soroscan/pkg/utils"
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

func seedEvent(t *testing.T, st storage.Storage) *models.ContractEvent {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveContract(ctx, &models.TrackedContract{
		ContractID: testContractID,
		Name:       "test token",
		Active:     true,
	}))
	event := &models.ContractEvent{
		ContractID:     testContractID,
		Ledger:         100,
		EventIndex:     0,
		EventType:      "transfer",
		TxHash:         "abc123",
		Payload:        map[string]interface{}{"amount": "5000"},
		PayloadHash:    "deadbeef",
		DecodingStatus: models.DecodingNoABI,
		Timestamp:      time.Now().UTC(),
	}
	stored, created, err := st.UpsertEvent(ctx, event)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func seedSubscription(t *testing.T, st storage.Storage, targetURL string) *models.WebhookSubscription {
	t.Helper()
	sub := &models.WebhookSubscription{
		ContractID: testContractID,
		EventType:  "",
		TargetURL:  targetURL,
		Secret:     "s3cret",
		Active:     true,
		Status:     models.SubscriptionActive,
	}
	require.NoError(t, st.SaveSubscription(context.Background(), sub))
	return sub
}

func newTestEngine(st storage.Storage, maxAttempts int) (*Engine, *[]time.Duration) {
	cfg := &config.WebhookConfig{
		MaxAttempts:    maxAttempts,
		BaseDelay:      time.Second,
		MaxDelay:       600 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
	engine := NewEngine(st, cfg, nil)

	delays := &[]time.Duration{}
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return engine, delays
}

func TestDeliverSuccess(t *testing.T) {
	st := newTestStorage(t)
	event := seedEvent(t, st)

	var gotSignature, gotTimestamp string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-SoroScan-Signature")
		gotTimestamp = r.Header.Get("X-SoroScan-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := seedSubscription(t, st, server.URL)
	engine, _ := newTestEngine(st, 5)

	result, err := engine.Deliver(context.Background(), sub.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, result.State)
	assert.Equal(t, 1, result.Attempts)

	// The signature must verify against the body as received
	assert.Equal(t, utils.SignPayload("s3cret", gotBody), gotSignature)
	_, tsErr := time.Parse(time.RFC3339, gotTimestamp)
	assert.NoError(t, tsErr)

	refreshed, err := st.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, refreshed.FailureCount)
	assert.NotNil(t, refreshed.LastTriggered)

	logs, err := st.GetDeliveryLogs(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 1, logs[0].AttemptNumber)
}

func TestDeliverSuspendsAfterExhaustingAttempts(t *testing.T) {
	st := newTestStorage(t)
	event := seedEvent(t, st)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := seedSubscription(t, st, server.URL)
	engine, delays := newTestEngine(st, 5)

	result, err := engine.Deliver(context.Background(), sub.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSuspended, result.State)
	assert.Equal(t, 5, result.Attempts)
	assert.Equal(t, 5, hits)

	// Four sleeps between five attempts, doubling from the base delay
	require.Len(t, *delays, 4)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, *delays)

	refreshed, err := st.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionSuspended, refreshed.Status)
	assert.False(t, refreshed.Active)
	assert.Equal(t, 5, refreshed.FailureCount)

	logs, err := st.GetDeliveryLogs(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 5)
	for _, deliveryLog := range logs {
		assert.False(t, deliveryLog.Success)
	}
}

func TestDeliverHonorsRetryAfter(t *testing.T) {
	st := newTestStorage(t)
	event := seedEvent(t, st)

	var hits int
	var deliveryIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		deliveryIDs = append(deliveryIDs, r.Header.Get("X-SoroScan-Delivery"))
		if hits == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := seedSubscription(t, st, server.URL)
	engine, delays := newTestEngine(st, 5)

	result, err := engine.Deliver(context.Background(), sub.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, result.State)
	assert.Equal(t, 2, result.Attempts)

	require.Len(t, *delays, 1)
	assert.Equal(t, 120*time.Second, (*delays)[0])

	// Retries of one delivery share a single correlation id
	require.Len(t, deliveryIDs, 2)
	assert.NotEmpty(t, deliveryIDs[0])
	assert.Equal(t, deliveryIDs[0], deliveryIDs[1])

	_, err = uuid.Parse(deliveryIDs[0])
	assert.NoError(t, err)
}

func TestDeliverSkipsSuspendedSubscription(t *testing.T) {
	st := newTestStorage(t)
	event := seedEvent(t, st)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	sub := seedSubscription(t, st, server.URL)
	require.NoError(t, st.SuspendSubscription(context.Background(), sub.ID))

	engine, _ := newTestEngine(st, 5)
	result, err := engine.Deliver(context.Background(), sub.ID, event.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, result.State)
	assert.Equal(t, 0, hits)

	// A skip leaves no audit trail
	logs, err := st.GetDeliveryLogs(context.Background(), sub.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestDeliverSkipsMissingEvent(t *testing.T) {
	st := newTestStorage(t)
	seedEvent(t, st)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	sub := seedSubscription(t, st, server.URL)
	engine, _ := newTestEngine(st, 5)

	result, err := engine.Deliver(context.Background(), sub.ID, 99999)
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, result.State)
	assert.Equal(t, 0, hits)
}

func TestRetryDelayCapped(t *testing.T) {
	st := newTestStorage(t)
	engine := NewEngine(st, &config.WebhookConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}, nil)

	assert.Equal(t, time.Second, engine.retryDelay(1, nil, nil))
	assert.Equal(t, 32*time.Second, engine.retryDelay(6, nil, nil))
	assert.Equal(t, 60*time.Second, engine.retryDelay(7, nil, nil))
	assert.Equal(t, 60*time.Second, engine.retryDelay(9, nil, nil))

	// Retry-After beyond the cap is clamped
	err := &attemptError{message: "throttled", retryAfter: 300 * time.Second}
	assert.Equal(t, 60*time.Second, engine.retryDelay(1, nil, err))
}
