package models

import "time"

// Webhook subscription lifecycle states. active→suspended is one-way;
// re-activation is an administrative action outside the delivery path.
const (
	SubscriptionActive    = "active"
	SubscriptionSuspended = "suspended"
)

// WebhookSubscription is a push-notification registration for one contract.
// An empty EventType matches all event types. The secret is write-once and
// never serialized after creation.
type WebhookSubscription struct {
	ID            int64      `json:"id" db:"id"`
	ContractID    string     `json:"contract_id" db:"contract_id"`
	EventType     string     `json:"event_type" db:"event_type"`
	TargetURL     string     `json:"target_url" db:"target_url"`
	Secret        string     `json:"-" db:"secret"`
	Active        bool       `json:"active" db:"active"`
	Status        string     `json:"status" db:"status"`
	FailureCount  int        `json:"failure_count" db:"failure_count"`
	LastTriggered *time.Time `json:"last_triggered,omitempty" db:"last_triggered"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// WebhookDeliveryLog is one row of the append-only delivery audit trail.
// Exactly one row is written per dispatch attempt, success or failure.
type WebhookDeliveryLog struct {
	ID             int64     `json:"id" db:"id"`
	SubscriptionID int64     `json:"subscription_id" db:"subscription_id"`
	EventID        *int64    `json:"event_id,omitempty" db:"event_id"`
	AttemptNumber  int       `json:"attempt_number" db:"attempt_number"`
	StatusCode     *int      `json:"status_code,omitempty" db:"status_code"`
	Success        bool      `json:"success" db:"success"`
	Error          string    `json:"error,omitempty" db:"error"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}
