package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroscan/soroscan/internal/config"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/schema"
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

func newTestStore(t *testing.T) (*Store, storage.Storage, *models.TrackedContract) {
	t.Helper()
	st := newTestStorage(t)
	contract := &models.TrackedContract{
		ContractID: testContractID,
		Name:       "test token",
		Active:     true,
	}
	require.NoError(t, st.SaveContract(context.Background(), contract))
	return NewStore(st, schema.NewValidator(st), nil), st, contract
}

func u64XDR(t *testing.T, values ...uint64) string {
	t.Helper()
	items := make([]xdr.ScVal, len(values))
	for i, v := range values {
		x := xdr.Uint64(v)
		items[i] = xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &x}
	}
	vec := xdr.ScVec(items)
	pv := &vec
	raw, err := xdr.MarshalBase64(xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &pv})
	require.NoError(t, err)
	return raw
}

func TestUpsertIdempotent(t *testing.T) {
	store, _, contract := newTestStore(t)
	ctx := context.Background()

	candidate := &Candidate{
		OpaqueID:  "0000000903-0000000001",
		Ledger:    210,
		EventType: "transfer",
		TxHash:    "tx1",
		ValueXDR:  u64XDR(t, 10, 20),
		Timestamp: time.Now().UTC(),
	}

	first, created, err := store.Upsert(ctx, contract, candidate, 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)
	assert.Equal(t, models.DecodingNoABI, first.DecodingStatus)

	second, created, err := store.Upsert(ctx, contract, candidate, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestEventIndexResolution(t *testing.T) {
	store, _, contract := newTestStore(t)
	ctx := context.Background()

	// Explicit index wins
	explicit := 5
	event, _, err := store.Upsert(ctx, contract, &Candidate{
		OpaqueID:   "opaque-a",
		Ledger:     300,
		EventIndex: &explicit,
		EventType:  "transfer",
	}, 9)
	require.NoError(t, err)
	assert.Equal(t, 5, event.EventIndex)

	// Trailing numeric suffix of the opaque id is next
	event, _, err = store.Upsert(ctx, contract, &Candidate{
		OpaqueID:  "0000001288-0000000003",
		Ledger:    301,
		EventType: "transfer",
	}, 9)
	require.NoError(t, err)
	assert.Equal(t, 3, event.EventIndex)

	// Otherwise the positional fallback applies
	event, _, err = store.Upsert(ctx, contract, &Candidate{
		OpaqueID:  "noseparator",
		Ledger:    302,
		EventType: "transfer",
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, event.EventIndex)
}

func TestUpsertDecodesWithABI(t *testing.T) {
	store, st, contract := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveContractABI(ctx, &models.ContractABI{
		ContractID: testContractID,
		Events: []models.EventDef{
			{Name: "transfer", Fields: []models.FieldDef{
				{Name: "amount_in", Type: "U64"},
				{Name: "amount_out", Type: "U64"},
			}},
		},
	}))

	event, created, err := store.Upsert(ctx, contract, &Candidate{
		OpaqueID:  "0000000400-0000000000",
		Ledger:    400,
		EventType: "transfer",
		ValueXDR:  u64XDR(t, 11, 22),
	}, 0)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, models.DecodingSuccess, event.DecodingStatus)
	assert.Equal(t, uint64(11), event.DecodedPayload["amount_in"])
	assert.Equal(t, uint64(22), event.DecodedPayload["amount_out"])
}

func TestUpsertNoDefinitionForEventType(t *testing.T) {
	store, st, contract := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveContractABI(ctx, &models.ContractABI{
		ContractID: testContractID,
		Events: []models.EventDef{
			{Name: "mint", Fields: []models.FieldDef{{Name: "amount", Type: "U64"}}},
		},
	}))

	event, _, err := store.Upsert(ctx, contract, &Candidate{
		OpaqueID:  "0000000500-0000000000",
		Ledger:    500,
		EventType: "transfer",
		ValueXDR:  u64XDR(t, 1),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DecodingNoABI, event.DecodingStatus)
	assert.Nil(t, event.DecodedPayload)
}

func TestUpsertValidatesAgainstSchema(t *testing.T) {
	store, st, contract := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveEventSchema(ctx, &models.EventSchema{
		ContractID: testContractID,
		EventType:  "transfer",
		Version:    1,
		JSONSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"value"},
		},
	}))

	candidate := &Candidate{
		OpaqueID:  "0000000600-0000000000",
		Ledger:    600,
		EventType: "transfer",
		ValueXDR:  u64XDR(t, 42),
	}
	event, _, err := store.Upsert(ctx, contract, candidate, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationPassed, event.ValidationStatus)
	require.NotNil(t, event.SchemaVersion)
	assert.Equal(t, 1, *event.SchemaVersion)

	// A stricter version flips the result on re-observation
	require.NoError(t, st.SaveEventSchema(ctx, &models.EventSchema{
		ContractID: testContractID,
		EventType:  "transfer",
		Version:    2,
		JSONSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"value", "missing_field"},
		},
	}))

	event, created, err := store.Upsert(ctx, contract, candidate, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.ValidationFailed, event.ValidationStatus)
	require.NotNil(t, event.SchemaVersion)
	assert.Equal(t, 2, *event.SchemaVersion)
}

func TestUpsertEmptyValueXDR(t *testing.T) {
	store, _, contract := newTestStore(t)

	event, created, err := store.Upsert(context.Background(), contract, &Candidate{
		OpaqueID:  "0000000700-0000000000",
		Ledger:    700,
		EventType: "ping",
	}, 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.DecodingNoABI, event.DecodingStatus)
	assert.Empty(t, event.Payload)
	assert.NotEmpty(t, event.PayloadHash)
}
