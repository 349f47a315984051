package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soroscan/soroscan/internal/models"
)

func transferData() map[string]interface{} {
	return map[string]interface{}{
		"event_type": "transfer",
		"ledger":     uint64(12345),
		"payload": map[string]interface{}{
			"amount": "5000000000",
			"from":   "GAAA...",
		},
		"decodedPayload": map[string]interface{}{
			"amount": uint64(5000000000),
			"memo":   "Invoice 42",
		},
	}
}

func TestEvaluateConditionAndWithNumericCompare(t *testing.T) {
	cond := models.Condition{
		Op: "and",
		Conditions: []models.Condition{
			{Op: "eq", Field: "event_type", Value: "transfer"},
			{Op: "gt", Field: "decodedPayload.amount", Value: 1000000000},
		},
	}
	assert.True(t, EvaluateCondition(cond, transferData()))

	cond.Conditions[1].Value = 9000000000
	assert.False(t, EvaluateCondition(cond, transferData()))
}

func TestEvaluateConditionOr(t *testing.T) {
	cond := models.Condition{
		Op: "or",
		Conditions: []models.Condition{
			{Op: "eq", Field: "event_type", Value: "burn"},
			{Op: "eq", Field: "event_type", Value: "transfer"},
		},
	}
	assert.True(t, EvaluateCondition(cond, transferData()))
}

func TestEvaluateConditionNot(t *testing.T) {
	inner := models.Condition{Op: "eq", Field: "event_type", Value: "burn"}
	cond := models.Condition{Op: "not", Condition: &inner}
	assert.True(t, EvaluateCondition(cond, transferData()))

	// not without a child is vacuously true
	assert.True(t, EvaluateCondition(models.Condition{Op: "not"}, transferData()))
}

func TestEvaluateConditionEqStringifies(t *testing.T) {
	data := transferData()
	// Numeric values compare through their string rendering
	cond := models.Condition{Op: "eq", Field: "ledger", Value: "12345"}
	assert.True(t, EvaluateCondition(cond, data))

	// Missing field stringifies to empty
	cond = models.Condition{Op: "eq", Field: "payload.missing", Value: ""}
	assert.True(t, EvaluateCondition(cond, data))
}

func TestEvaluateConditionNumericCoercionFailure(t *testing.T) {
	cond := models.Condition{Op: "gt", Field: "decodedPayload.memo", Value: 10}
	assert.False(t, EvaluateCondition(cond, transferData()))
}

func TestEvaluateConditionNumericStringOperand(t *testing.T) {
	// String-typed amounts (i128 renderings) still compare numerically
	cond := models.Condition{Op: "gte", Field: "payload.amount", Value: 5000000000}
	assert.True(t, EvaluateCondition(cond, transferData()))
}

func TestEvaluateConditionContains(t *testing.T) {
	cond := models.Condition{Op: "contains", Field: "decodedPayload.memo", Value: "invoice"}
	assert.True(t, EvaluateCondition(cond, transferData()))

	cond = models.Condition{Op: "contains", Field: "decodedPayload.missing", Value: "x"}
	assert.False(t, EvaluateCondition(cond, transferData()))
}

func TestEvaluateConditionStartsWith(t *testing.T) {
	cond := models.Condition{Op: "startswith", Field: "decodedPayload.memo", Value: "Invoice"}
	assert.True(t, EvaluateCondition(cond, transferData()))

	// Prefix match is case sensitive, unlike contains
	cond.Value = "invoice"
	assert.False(t, EvaluateCondition(cond, transferData()))
}

func TestEvaluateConditionIn(t *testing.T) {
	cond := models.Condition{
		Op:    "in",
		Field: "event_type",
		Value: []interface{}{"mint", "transfer", "burn"},
	}
	assert.True(t, EvaluateCondition(cond, transferData()))

	cond.Value = []interface{}{"mint", "burn"}
	assert.False(t, EvaluateCondition(cond, transferData()))

	// Non-list value degrades to equality
	cond.Value = "transfer"
	assert.True(t, EvaluateCondition(cond, transferData()))
}

func TestEvaluateConditionUnknownOp(t *testing.T) {
	cond := models.Condition{Op: "matches", Field: "event_type", Value: ".*"}
	assert.False(t, EvaluateCondition(cond, transferData()))
}

func TestGetFieldDotPath(t *testing.T) {
	data := transferData()
	assert.Equal(t, "Invoice 42", getField(data, "decodedPayload.memo"))
	assert.Nil(t, getField(data, "decodedPayload.memo.deeper"))
	assert.Nil(t, getField(data, "nope"))
}
