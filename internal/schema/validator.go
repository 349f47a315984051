// Package schema validates event payloads against versioned JSON schemas
// registered per (contract, event_type). Validation is advisory: results
// are recorded on the event, never allowed to block persistence.
package schema

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/pkg/utils"
)

// Source supplies the schema to validate against. The storage layer
// implements it by returning the highest-version row, or nil when no schema
// is registered.
type Source interface {
	GetLatestEventSchema(ctx context.Context, contractID, eventType string) (*models.EventSchema, error)
}

// Validator validates event payloads against their registered schema
type Validator struct {
	source Source
	logger *logrus.Entry
}

// NewValidator creates a new payload validator
func NewValidator(source Source) *Validator {
	return &Validator{
		source: source,
		logger: utils.ComponentLogger("schema_validator"),
	}
}

// Validate checks payload against the latest schema for (contractID,
// eventType). It returns whether validation passed and the schema version
// used; a nil version means no schema was applied. Payloads that are not
// structured objects pass trivially.
func (v *Validator) Validate(ctx context.Context, contractID, eventType string, payload map[string]interface{}) (bool, *int) {
	if payload == nil {
		return true, nil
	}

	eventSchema, err := v.source.GetLatestEventSchema(ctx, contractID, eventType)
	if err != nil {
		v.logger.WithFields(logrus.Fields{
			"contract_id": contractID,
			"event_type":  eventType,
			"error":       err,
		}).Warn("Schema lookup failed, skipping validation")
		return true, nil
	}
	if eventSchema == nil {
		return true, nil
	}

	version := eventSchema.Version

	compiled, err := compileSchema(eventSchema.JSONSchema)
	if err != nil {
		v.logger.WithFields(logrus.Fields{
			"contract_id": contractID,
			"event_type":  eventType,
			"version":     version,
			"error":       err,
		}).Warn("Registered schema does not compile")
		return false, &version
	}

	// jsonschema validates generic JSON values; round-trip the payload so
	// typed values (uint64 ledgers etc.) compare as JSON numbers.
	if err := compiled.Validate(toJSONValue(payload)); err != nil {
		v.logger.WithFields(logrus.Fields{
			"contract_id": contractID,
			"event_type":  eventType,
			"version":     version,
		}).Warn("Event payload schema validation failed")
		return false, &version
	}

	return true, &version
}

// CheckSchema reports whether body is a compilable JSON schema. Used at
// registration time so broken schemas are rejected before they are stored.
func CheckSchema(body map[string]interface{}) error {
	_, err := compileSchema(body)
	return err
}

func compileSchema(body map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("event-schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("event-schema.json")
}

func toJSONValue(payload map[string]interface{}) interface{} {
	raw, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return payload
	}
	return generic
}
