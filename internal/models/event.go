package models

import "time"

// Decoding status values for ContractEvent.DecodingStatus
const (
	DecodingSuccess = "success"
	DecodingFailed  = "failed"
	DecodingNoABI   = "no_abi"
)

// Validation status values for ContractEvent.ValidationStatus
const (
	ValidationPassed = "passed"
	ValidationFailed = "failed"
)

// ContractEvent is an individual event emitted by a tracked contract.
// (contract_id, ledger, event_index) is the natural key: re-observing the
// same triple updates the row, never duplicates it.
type ContractEvent struct {
	ID               int64                  `json:"id" db:"id"`
	ContractID       string                 `json:"contract_id" db:"contract_id"`
	Ledger           uint64                 `json:"ledger" db:"ledger"`
	EventIndex       int                    `json:"event_index" db:"event_index"`
	EventType        string                 `json:"event_type" db:"event_type"`
	TxHash           string                 `json:"tx_hash" db:"tx_hash"`
	Payload          map[string]interface{} `json:"payload" db:"payload"`
	PayloadHash      string                 `json:"payload_hash" db:"payload_hash"`
	RawXDR           string                 `json:"raw_xdr,omitempty" db:"raw_xdr"`
	DecodedPayload   map[string]interface{} `json:"decoded_payload,omitempty" db:"decoded_payload"`
	DecodingStatus   string                 `json:"decoding_status" db:"decoding_status"`
	ValidationStatus string                 `json:"validation_status" db:"validation_status"`
	SchemaVersion    *int                   `json:"schema_version,omitempty" db:"schema_version"`
	Timestamp        time.Time              `json:"timestamp" db:"timestamp"`
}

// EventFilter for querying events
type EventFilter struct {
	ContractID *string `json:"contract_id,omitempty"`
	EventType  *string `json:"event_type,omitempty"`
	FromLedger *uint64 `json:"from_ledger,omitempty"`
	ToLedger   *uint64 `json:"to_ledger,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// FanoutMessage is the payload published to the realtime channel and
// delivered to webhook subscribers for a newly created event.
type FanoutMessage struct {
	ContractID string                 `json:"contract_id"`
	EventType  string                 `json:"event_type"`
	Payload    map[string]interface{} `json:"payload"`
	Ledger     uint64                 `json:"ledger"`
	EventIndex int                    `json:"event_index"`
	TxHash     string                 `json:"tx_hash"`
}

// NewFanoutMessage builds the canonical fan-out message for an event
func NewFanoutMessage(event *ContractEvent) *FanoutMessage {
	return &FanoutMessage{
		ContractID: event.ContractID,
		EventType:  event.EventType,
		Payload:    event.Payload,
		Ledger:     event.Ledger,
		EventIndex: event.EventIndex,
		TxHash:     event.TxHash,
	}
}

// Map returns the message as a map. Marshaling the map instead of the
// struct gives stable (sorted) key order, which webhook signatures rely on.
func (m *FanoutMessage) Map() map[string]interface{} {
	return map[string]interface{}{
		"contract_id": m.ContractID,
		"event_type":  m.EventType,
		"payload":     m.Payload,
		"ledger":      m.Ledger,
		"event_index": m.EventIndex,
		"tx_hash":     m.TxHash,
	}
}
