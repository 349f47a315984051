package models

import "time"

// TrackedContract is a contract registered for event indexing
type TrackedContract struct {
	ContractID        string    `json:"contract_id" db:"contract_id"`
	Name              string    `json:"name" db:"name"`
	Description       string    `json:"description,omitempty" db:"description"`
	LastIndexedLedger *uint64   `json:"last_indexed_ledger,omitempty" db:"last_indexed_ledger"`
	Active            bool      `json:"active" db:"active"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

/// EventDef is one event definition inside a contract ABI: an event name and
// its ordered, typed field list used for positional XDR decoding.
type EventDef struct {
	Name   string     `json:"name"`
	Fields []FieldDef `json:"fields"`
}

// FieldDef is a single named, typed field of an event definition
type FieldDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ContractABI holds the event definitions for one contract (one-to-one)
type ContractABI struct {
	ContractID string     `json:"contract_id" db:"contract_id"`
	Events     []EventDef `json:"events" db:"abi_json"`
	UploadedAt time.Time  `json:"uploaded_at" db:"uploaded_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// EventSchema is a versioned JSON schema for one (contract, event_type).
// The validator always uses the highest version.
type EventSchema struct {
	ID         int64                  `json:"id" db:"id"`
	ContractID string                 `json:"contract_id" db:"contract_id"`
	EventType  string                 `json:"event_type" db:"event_type"`
	Version    int                    `json:"version" db:"version"`
	JSONSchema map[string]interface{} `json:"json_schema" db:"json_schema"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}
