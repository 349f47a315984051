package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soroscan/soroscan/internal/models"
)

type mapSource struct {
	schemas map[string]*models.EventSchema
}

func (m *mapSource) GetLatestEventSchema(ctx context.Context, contractID, eventType string) (*models.EventSchema, error) {
	return m.schemas[contractID+"/"+eventType], nil
}

func transferSchema(version int, required ...interface{}) *models.EventSchema {
	body := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"amount": map[string]interface{}{"type": "string"},
			"ledger": map[string]interface{}{"type": "number"},
		},
	}
	if len(required) > 0 {
		body["required"] = required
	}
	return &models.EventSchema{
		ContractID: "C1",
		EventType:  "transfer",
		Version:    version,
		JSONSchema: body,
	}
}

func TestValidatePassing(t *testing.T) {
	source := &mapSource{schemas: map[string]*models.EventSchema{
		"C1/transfer": transferSchema(3, "amount"),
	}}
	v := NewValidator(source)

	passed, version := v.Validate(context.Background(), "C1", "transfer", map[string]interface{}{
		"amount": "5000",
		"ledger": uint64(42),
	})
	assert.True(t, passed)
	require.NotNil(t, version)
	assert.Equal(t, 3, *version)
}

func TestValidateFailing(t *testing.T) {
	source := &mapSource{schemas: map[string]*models.EventSchema{
		"C1/transfer": transferSchema(1, "amount"),
	}}
	v := NewValidator(source)

	passed, version := v.Validate(context.Background(), "C1", "transfer", map[string]interface{}{
		"ledger": uint64(42),
	})
	assert.False(t, passed)
	require.NotNil(t, version)
	assert.Equal(t, 1, *version)
}

func TestValidateNoSchemaRegistered(t *testing.T) {
	v := NewValidator(&mapSource{schemas: map[string]*models.EventSchema{}})

	passed, version := v.Validate(context.Background(), "C1", "transfer", map[string]interface{}{
		"amount": "5000",
	})
	assert.True(t, passed)
	assert.Nil(t, version)
}

func TestValidateTypeMismatch(t *testing.T) {
	source := &mapSource{schemas: map[string]*models.EventSchema{
		"C1/transfer": transferSchema(2),
	}}
	v := NewValidator(source)

	// Typed payload values must compare as JSON values
	passed, _ := v.Validate(context.Background(), "C1", "transfer", map[string]interface{}{
		"ledger": uint64(42),
	})
	assert.True(t, passed)

	passed, _ = v.Validate(context.Background(), "C1", "transfer", map[string]interface{}{
		"ledger": "not a number",
	})
	assert.False(t, passed)
}

func TestCheckSchema(t *testing.T) {
	assert.NoError(t, CheckSchema(map[string]interface{}{"type": "object"}))
	assert.Error(t, CheckSchema(map[string]interface{}{"type": 17}))
}
