package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	first, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, first, 64)

	second, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestIsValidContractID(t *testing.T) {
	assert.True(t, IsValidContractID("CA3D5KRYM6CB7OWQ6TWYRR3Z4T7GNZLKERYNZGGA5SOAOPIFY6YQGAXE"))

	// Account addresses and garbage are not contract ids
	assert.False(t, IsValidContractID("GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"))
	assert.False(t, IsValidContractID("not-a-contract"))
	assert.False(t, IsValidContractID(""))
}

func TestPayloadHashDeterministic(t *testing.T) {
	a := map[string]interface{}{"amount": "100", "from": "G1", "to": "G2"}
	b := map[string]interface{}{"to": "G2", "from": "G1", "amount": "100"}

	hashA, err := PayloadHash(a)
	require.NoError(t, err)
	hashB, err := PayloadHash(b)
	require.NoError(t, err)

	// Key order must not affect the digest
	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 64)

	c := map[string]interface{}{"amount": "101"}
	hashC, err := PayloadHash(c)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashC)
}

func TestSignPayload(t *testing.T) {
	sig := SignPayload("secret", []byte(`{"ledger":42}`))
	assert.Equal(t, "sha256=", sig[:7])
	assert.Len(t, sig, 7+64)

	// Stable for identical input, distinct per key and body
	assert.Equal(t, sig, SignPayload("secret", []byte(`{"ledger":42}`)))
	assert.NotEqual(t, sig, SignPayload("other", []byte(`{"ledger":42}`)))
	assert.NotEqual(t, sig, SignPayload("secret", []byte(`{"ledger":43}`)))
}

func TestShortContractID(t *testing.T) {
	assert.Equal(t, "CA3D5KRY", ShortContractID("CA3D5KRYM6CB7OWQ6TWYRR3Z4T7GNZLKERYNZGGA5SOAOPIFY6YQGAXE"))
	assert.Equal(t, "short", ShortContractID("short"))
	assert.Equal(t, "unknown", ShortContractID(""))
}
