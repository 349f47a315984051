package decoder

import (
	"testing"

	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroscan/soroscan/internal/models"
)

func mustMarshalScVal(t *testing.T, val xdr.ScVal) string {
	t.Helper()
	encoded, err := xdr.MarshalBase64(val)
	require.NoError(t, err)
	return encoded
}

func u64Val(v uint64) xdr.ScVal {
	x := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &x}
}

func symVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func vecVal(items ...xdr.ScVal) xdr.ScVal {
	vec := xdr.ScVec(items)
	pv := &vec
	return xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &pv}
}

func TestDecodePositionalVec(t *testing.T) {
	raw := mustMarshalScVal(t, vecVal(u64Val(10), u64Val(20)))
	defs := []models.EventDef{
		{Name: "transfer", Fields: []models.FieldDef{
			{Name: "amount_in", Type: "U64"},
			{Name: "amount_out", Type: "U64"},
		}},
	}

	decoded, found, err := Decode(raw, defs, "transfer")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(10), decoded["amount_in"])
	assert.Equal(t, uint64(20), decoded["amount_out"])
}

func TestDecodePadsMissingFieldsWithNull(t *testing.T) {
	raw := mustMarshalScVal(t, vecVal(u64Val(7)))
	defs := []models.EventDef{
		{Name: "mint", Fields: []models.FieldDef{
			{Name: "amount", Type: "U64"},
			{Name: "recipient", Type: "Address"},
		}},
	}

	decoded, found, err := Decode(raw, defs, "mint")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(7), decoded["amount"])
	assert.Nil(t, decoded["recipient"])
}

func TestDecodeScalarSingleField(t *testing.T) {
	raw := mustMarshalScVal(t, symVal("paused"))
	defs := []models.EventDef{
		{Name: "state_change", Fields: []models.FieldDef{
			{Name: "state", Type: "Symbol"},
		}},
	}

	decoded, found, err := Decode(raw, defs, "state_change")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "paused", decoded["state"])
}

func TestDecodeNoMatchingDefinition(t *testing.T) {
	raw := mustMarshalScVal(t, u64Val(1))
	defs := []models.EventDef{
		{Name: "transfer", Fields: []models.FieldDef{{Name: "amount", Type: "U64"}}},
	}

	decoded, found, err := Decode(raw, defs, "burn")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, decoded)
}

func TestDecodeMalformedXDR(t *testing.T) {
	defs := []models.EventDef{
		{Name: "transfer", Fields: []models.FieldDef{{Name: "amount", Type: "U64"}}},
	}

	_, found, err := Decode("not valid base64 xdr!!", defs, "transfer")
	assert.True(t, found)
	assert.Error(t, err)
}

func TestDecodeI128AsDecimalString(t *testing.T) {
	parts := xdr.Int128Parts{Hi: 0, Lo: 5000000000}
	val := xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
	raw := mustMarshalScVal(t, vecVal(val))
	defs := []models.EventDef{
		{Name: "swap", Fields: []models.FieldDef{{Name: "amount", Type: "I128"}}},
	}

	decoded, found, err := Decode(raw, defs, "swap")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "5000000000", decoded["amount"])
}

func TestToJSONWrapsScalar(t *testing.T) {
	raw := mustMarshalScVal(t, u64Val(42))
	value, err := ToJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), value)
}

func TestToJSONEmptyInput(t *testing.T) {
	value, err := ToJSON("")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestEventTypeFromTopics(t *testing.T) {
	topic := mustMarshalScVal(t, symVal("transfer"))
	assert.Equal(t, "transfer", EventTypeFromTopics([]string{topic}))
	assert.Equal(t, "", EventTypeFromTopics(nil))
	assert.Equal(t, "", EventTypeFromTopics([]string{"garbage"}))

	// A non-symbol first topic does not name an event type
	num := mustMarshalScVal(t, u64Val(9))
	assert.Equal(t, "", EventTypeFromTopics([]string{num}))
}
