// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/soroscan/soroscan/internal/models"
)

// Storage defines the interface for indexer persistence operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Contract operations
	SaveContract(ctx context.Context, contract *models.TrackedContract) error
	GetContract(ctx context.Context, contractID string) (*models.TrackedContract, error)
	GetContracts(ctx context.Context, active *bool) ([]*models.TrackedContract, error)
	UpdateContract(ctx context.Context, contract *models.TrackedContract) error
	DeleteContract(ctx context.Context, contractID string) error
	// AdvanceLastIndexedLedger moves the high-water mark forward only;
	// a smaller ledger than the stored one is a no-op.
	AdvanceLastIndexedLedger(ctx context.Context, contractID string, ledger uint64) error

	// Event operations. UpsertEvent inserts on a new
	// (contract_id, ledger, event_index) triple and updates the existing
	// row otherwise; the returned flag reports whether a row was created.
	UpsertEvent(ctx context.Context, event *models.ContractEvent) (*models.ContractEvent, bool, error)
	UpdateEventDecoding(ctx context.Context, id int64, decoded map[string]interface{}, status string) error
	GetEvent(ctx context.Context, id int64) (*models.ContractEvent, error)
	GetEventByKey(ctx context.Context, contractID string, ledger uint64, eventIndex int) (*models.ContractEvent, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ContractEvent, error)
	GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error)

	// ABI operations
	SaveContractABI(ctx context.Context, abi *models.ContractABI) error
	GetContractABI(ctx context.Context, contractID string) (*models.ContractABI, error)

	// Event schema operations
	SaveEventSchema(ctx context.Context, schema *models.EventSchema) error
	GetLatestEventSchema(ctx context.Context, contractID, eventType string) (*models.EventSchema, error)
	GetEventSchemas(ctx context.Context, contractID string) ([]*models.EventSchema, error)

	// Indexer state (sync cursors and similar key/value bookkeeping)
	GetIndexerState(ctx context.Context, key string) (string, error)
	SetIndexerState(ctx context.Context, key, value string) error

	// Webhook subscription operations
	SaveSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	GetSubscription(ctx context.Context, id int64) (*models.WebhookSubscription, error)
	GetSubscriptions(ctx context.Context, contractID *string) ([]*models.WebhookSubscription, error)
	GetActiveSubscriptions(ctx context.Context, contractID, eventType string) ([]*models.WebhookSubscription, error)
	MarkSubscriptionSuccess(ctx context.Context, id int64, triggeredAt time.Time) error
	IncrementSubscriptionFailure(ctx context.Context, id int64) error
	SuspendSubscription(ctx context.Context, id int64) error
	ReactivateSubscription(ctx context.Context, id int64) error

	// Delivery log operations
	SaveDeliveryLog(ctx context.Context, log *models.WebhookDeliveryLog) error
	GetDeliveryLogs(ctx context.Context, subscriptionID int64, limit int) ([]*models.WebhookDeliveryLog, error)
	PruneDeliveryLogs(ctx context.Context, olderThan time.Time) (int64, error)

	// Alert rule operations
	SaveAlertRule(ctx context.Context, rule *models.AlertRule) error
	GetAlertRule(ctx context.Context, id int64) (*models.AlertRule, error)
	GetActiveAlertRules(ctx context.Context, contractID string, limit int) ([]*models.AlertRule, error)
	CountAlertRules(ctx context.Context, contractID string) (int64, error)
	SaveAlertExecution(ctx context.Context, exec *models.AlertExecution) error
	GetAlertExecutions(ctx context.Context, ruleID int64, limit int) ([]*models.AlertExecution, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalContracts     int64      `json:"total_contracts"`
	ActiveContracts    int64      `json:"active_contracts"`
	TotalEvents        int64      `json:"total_events"`
	TotalSubscriptions int64      `json:"total_subscriptions"`
	TotalAlertRules    int64      `json:"total_alert_rules"`
	OldestEvent        *time.Time `json:"oldest_event,omitempty"`
	LatestEvent        *time.Time `json:"latest_event,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}
