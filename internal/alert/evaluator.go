// File: internal/alert/evaluator.go
package alert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/pkg/utils"
)

var evalLogger = utils.ComponentLogger("alert")

// EvaluateCondition evaluates a condition tree against flattened event data.
// Logical ops: and (all children), or (any child), not (single child).
// Comparison ops resolve the field by dot-notation path; numeric ops coerce
// both sides to float and return false when coercion fails. An unknown op
// logs a warning and evaluates to false.
func EvaluateCondition(cond models.Condition, data map[string]interface{}) bool {
	op := strings.ToLower(cond.Op)

	switch op {
	case "not":
		if cond.Condition == nil {
			return true
		}
		return !EvaluateCondition(*cond.Condition, data)
	case "and":
		for _, sub := range cond.Conditions {
			if !EvaluateCondition(sub, data) {
				return false
			}
		}
		return true
	case "or":
		for _, sub := range cond.Conditions {
			if EvaluateCondition(sub, data) {
				return true
			}
		}
		return false
	}

	current := getField(data, cond.Field)

	switch op {
	case "eq":
		return stringify(current) == stringify(cond.Value)
	case "neq":
		return stringify(current) != stringify(cond.Value)
	case "gt", "gte", "lt", "lte":
		lhs, lok := toFloat(current)
		rhs, rok := toFloat(cond.Value)
		if !lok || !rok {
			return false
		}
		switch op {
		case "gt":
			return lhs > rhs
		case "gte":
			return lhs >= rhs
		case "lt":
			return lhs < rhs
		default:
			return lhs <= rhs
		}
	case "contains":
		if current == nil {
			return false
		}
		return strings.Contains(strings.ToLower(stringify(current)), strings.ToLower(stringify(cond.Value)))
	case "startswith":
		if current == nil {
			return false
		}
		return strings.HasPrefix(stringify(current), stringify(cond.Value))
	case "in":
		if list, ok := cond.Value.([]interface{}); ok {
			currentStr := stringify(current)
			for _, item := range list {
				if stringify(item) == currentStr {
					return true
				}
			}
			return false
		}
		return stringify(current) == stringify(cond.Value)
	}

	evalLogger.WithField("op", cond.Op).Warn("Unknown condition op, treating as false")
	return false
}

// getField traverses a dot-notation path through nested maps, nil when any
// step is missing or not a map
func getField(data map[string]interface{}, dottedPath string) interface{} {
	var current interface{} = data
	for _, part := range strings.Split(dottedPath, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	f, err := strconv.ParseFloat(stringify(v), 64)
	return f, err == nil
}
