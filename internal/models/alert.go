package models

import "time"

// Alert action kinds
const (
	AlertActionChat    = "chat"
	AlertActionEmail   = "email"
	AlertActionWebhook = "webhook"
)

// Alert execution outcomes
const (
	AlertSent   = "sent"
	AlertFailed = "failed"
)

// MaxRulesPerContract bounds rule evaluation cost per event
const MaxRulesPerContract = 100

// Condition is a node of the alert condition expression tree. Logical ops
// (and/or/not) use Conditions/Condition; comparison ops (eq, neq, gt, gte,
// lt, lte, contains, startswith, in) use Field/Value.
type Condition struct {
	Op         string      `json:"op"`
	Field      string      `json:"field,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Condition  *Condition  `json:"condition,omitempty"`
}

// AlertRule is a rule attached to a contract with a condition tree and an action
type AlertRule struct {
	ID           int64     `json:"id" db:"id"`
	ContractID   string    `json:"contract_id" db:"contract_id"`
	Name         string    `json:"name" db:"name"`
	Condition    Condition `json:"condition" db:"condition"`
	ActionType   string    `json:"action_type" db:"action_type"`
	ActionTarget string    `json:"action_target" db:"action_target"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// AlertExecution is an append-only record of one rule trigger attempt
type AlertExecution struct {
	ID        int64     `json:"id" db:"id"`
	RuleID    int64     `json:"rule_id" db:"rule_id"`
	EventID   int64     `json:"event_id" db:"event_id"`
	Status    string    `json:"status" db:"status"`
	Response  string    `json:"response,omitempty" db:"response"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
