// File: internal/eventstore/store.go
package eventstore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/decoder"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/internal/schema"
	"github.com/soroscan/soroscan/internal/storage"
	"github.com/soroscan/soroscan/pkg/utils"
)

// Candidate is one observed event before persistence. OpaqueID is the
// server-assigned event id; EventIndex is only set when the server reports
// the position explicitly.
type Candidate struct {
	OpaqueID   string
	Ledger     uint64
	EventIndex *int
	EventType  string
	TxHash     string
	ValueXDR   string
	Timestamp  time.Time
}

// Store persists observed events idempotently and runs decoding and schema
// validation over each candidate before the write.
type Store struct {
	storage   storage.Storage
	validator *schema.Validator
	logger    *logrus.Entry

	metricsManager *metrics.Manager
	network        string
}

// NewStore creates an event store
func NewStore(st storage.Storage, validator *schema.Validator, metricsManager *metrics.Manager) *Store {
	network := ""
	if metricsManager != nil {
		network = metricsManager.Network()
	}
	return &Store{
		storage:        st,
		validator:      validator,
		logger:         utils.ComponentLogger("eventstore"),
		metricsManager: metricsManager,
		network:        network,
	}
}

// Upsert persists one candidate keyed on (contract_id, ledger, event_index).
// Re-observing a known triple refreshes the row and reports created=false;
// fan-out must only happen on created=true. fallbackIndex is the positional
// counter used when neither an explicit index nor an index suffix in the
// opaque id is available.
func (s *Store) Upsert(ctx context.Context, contract *models.TrackedContract, candidate *Candidate, fallbackIndex int) (*models.ContractEvent, bool, error) {
	eventIndex := resolveEventIndex(candidate, fallbackIndex)

	timestamp := candidate.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	event := &models.ContractEvent{
		ContractID: contract.ContractID,
		Ledger:     candidate.Ledger,
		EventIndex: eventIndex,
		EventType:  candidate.EventType,
		TxHash:     candidate.TxHash,
		RawXDR:     candidate.ValueXDR,
		Timestamp:  timestamp,
	}

	event.Payload = s.buildPayload(candidate)

	hash, err := utils.PayloadHash(event.Payload)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeProcessing, "Failed to hash event payload", err.Error())
	}
	event.PayloadHash = hash

	s.decode(ctx, event)
	s.validate(ctx, event)

	stored, created, err := s.storage.UpsertEvent(ctx, event)
	if err != nil {
		return nil, false, err
	}

	if created && s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordEventIngested(
			stored.ContractID, s.network, stored.EventType)
	}
	return stored, created, nil
}

// buildPayload converts the raw value XDR into a generic JSON payload.
// Non-object values are wrapped under a "value" key so the payload column
// is always an object.
func (s *Store) buildPayload(candidate *Candidate) map[string]interface{} {
	if candidate.ValueXDR == "" {
		return map[string]interface{}{}
	}
	value, err := decoder.ToJSON(candidate.ValueXDR)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"event_id": candidate.OpaqueID,
			"error":    err.Error(),
		}).Warn("Failed to convert event value XDR")
		return map[string]interface{}{}
	}
	if obj, ok := value.(map[string]interface{}); ok {
		return obj
	}
	return map[string]interface{}{"value": value}
}

// decode runs the ABI-based decoder when the contract has an uploaded ABI
func (s *Store) decode(ctx context.Context, event *models.ContractEvent) {
	if event.RawXDR == "" {
		event.DecodingStatus = models.DecodingNoABI
		return
	}

	abi, err := s.storage.GetContractABI(ctx, event.ContractID)
	if err != nil {
		s.logger.WithField("contract_id", utils.ShortContractID(event.ContractID)).
			WithField("error", err.Error()).Warn("Failed to load contract ABI")
		event.DecodingStatus = models.DecodingNoABI
		return
	}
	if abi == nil {
		event.DecodingStatus = models.DecodingNoABI
		return
	}

	decoded, found, err := decoder.Decode(event.RawXDR, abi.Events, event.EventType)
	switch {
	case err != nil:
		s.logger.WithFields(logrus.Fields{
			"contract_id": utils.ShortContractID(event.ContractID),
			"event_type":  event.EventType,
			"error":       err.Error(),
		}).Warn("Event decoding failed")
		event.DecodingStatus = models.DecodingFailed
	case !found:
		event.DecodingStatus = models.DecodingNoABI
	default:
		event.DecodedPayload = decoded
		event.DecodingStatus = models.DecodingSuccess
	}
}

// validate runs schema validation over the generic payload
func (s *Store) validate(ctx context.Context, event *models.ContractEvent) {
	if s.validator == nil {
		return
	}
	passed, version := s.validator.Validate(ctx, event.ContractID, event.EventType, event.Payload)
	event.SchemaVersion = version
	if version == nil {
		return
	}
	if passed {
		event.ValidationStatus = models.ValidationPassed
	} else {
		event.ValidationStatus = models.ValidationFailed
	}
}

// resolveEventIndex picks the position of the event within its ledger:
// the server-reported index when present, else a trailing numeric suffix
// of the opaque id, else the caller's positional counter.
func resolveEventIndex(candidate *Candidate, fallbackIndex int) int {
	if candidate.EventIndex != nil {
		return *candidate.EventIndex
	}
	if candidate.OpaqueID != "" {
		if i := strings.LastIndex(candidate.OpaqueID, "-"); i >= 0 {
			if n, err := strconv.Atoi(candidate.OpaqueID[i+1:]); err == nil && n >= 0 {
				return n
			}
		}
	}
	return fallbackIndex
}
