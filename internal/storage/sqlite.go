// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage"),
		migrations: GetSQLiteMigrations(),
	}
}

// SetMetricsManager attaches a metrics manager for operation timing
func (s *SQLiteStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes the database connection
func (s *SQLiteStorage) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

func (s *SQLiteStorage) recordOperation(operation, table string, err error, start time.Time) {
	if s.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// --- Contract operations ---

// SaveContract inserts a tracked contract
func (s *SQLiteStorage) SaveContract(ctx context.Context, contract *models.TrackedContract) error {
	start := time.Now()
	query := `
		INSERT INTO tracked_contracts (contract_id, name, description, last_indexed_ledger, active)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		contract.ContractID, contract.Name, contract.Description,
		contract.LastIndexedLedger, contract.Active)
	s.recordOperation("insert", "tracked_contracts", err, start)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save contract", err.Error())
	}
	return nil
}

// GetContract retrieves a contract by ID, nil when not found
func (s *SQLiteStorage) GetContract(ctx context.Context, contractID string) (*models.TrackedContract, error) {
	query := `
		SELECT contract_id, name, description, last_indexed_ledger, active, created_at, updated_at
		FROM tracked_contracts WHERE contract_id = ?
	`
	contract, err := scanContract(s.db.QueryRowContext(ctx, query, contractID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get contract", err.Error())
	}
	return contract, nil
}

// GetContracts lists contracts, optionally filtered by active flag
func (s *SQLiteStorage) GetContracts(ctx context.Context, active *bool) ([]*models.TrackedContract, error) {
	query := `
		SELECT contract_id, name, description, last_indexed_ledger, active, created_at, updated_at
		FROM tracked_contracts
	`
	args := []interface{}{}
	if active != nil {
		query += " WHERE active = ?"
		args = append(args, *active)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query contracts", err.Error())
	}
	defer rows.Close()

	var contracts []*models.TrackedContract
	for rows.Next() {
		contract, err := scanContract(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan contract", err.Error())
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}

// UpdateContract updates a contract's mutable fields
func (s *SQLiteStorage) UpdateContract(ctx context.Context, contract *models.TrackedContract) error {
	query := `
		UPDATE tracked_contracts
		SET name = ?, description = ?, active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE contract_id = ?
	`
	_, err := s.db.ExecContext(ctx, query,
		contract.Name, contract.Description, contract.Active, contract.ContractID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update contract", err.Error())
	}
	return nil
}

// DeleteContract removes a contract registration
func (s *SQLiteStorage) DeleteContract(ctx context.Context, contractID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tracked_contracts WHERE contract_id = ?", contractID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete contract", err.Error())
	}
	return nil
}

// AdvanceLastIndexedLedger moves the indexing high-water mark forward.
// The guard clause makes a stale (smaller) ledger a no-op.
func (s *SQLiteStorage) AdvanceLastIndexedLedger(ctx context.Context, contractID string, ledger uint64) error {
	query := `
		UPDATE tracked_contracts
		SET last_indexed_ledger = ?, updated_at = CURRENT_TIMESTAMP
		WHERE contract_id = ? AND (last_indexed_ledger IS NULL OR last_indexed_ledger < ?)
	`
	_, err := s.db.ExecContext(ctx, query, ledger, contractID, ledger)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to advance last indexed ledger", err.Error())
	}
	return nil
}

// --- Event operations ---

// UpsertEvent inserts or updates an event keyed on (contract_id, ledger,
// event_index). Runs in a transaction so the created flag is reliable.
func (s *SQLiteStorage) UpsertEvent(ctx context.Context, event *models.ContractEvent) (*models.ContractEvent, bool, error) {
	start := time.Now()

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event payload", err.Error())
	}
	decodedJSON, err := marshalNullableMap(event.DecodedPayload)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal decoded payload", err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM contract_events WHERE contract_id = ? AND ledger = ? AND event_index = ?",
		event.ContractID, event.Ledger, event.EventIndex).Scan(&existingID)

	created := false
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO contract_events
			(contract_id, ledger, event_index, event_type, tx_hash, payload, payload_hash,
			 raw_xdr, decoded_payload, decoding_status, validation_status, schema_version, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			event.ContractID, event.Ledger, event.EventIndex, event.EventType, event.TxHash,
			string(payloadJSON), event.PayloadHash, event.RawXDR, decodedJSON,
			event.DecodingStatus, event.ValidationStatus, event.SchemaVersion, event.Timestamp)
		if err != nil {
			s.recordOperation("upsert", "contract_events", err, start)
			return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert event", err.Error())
		}
		event.ID, err = res.LastInsertId()
		if err != nil {
			return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read inserted event id", err.Error())
		}
		created = true
	case err != nil:
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to look up event", err.Error())
	default:
		_, err := tx.ExecContext(ctx, `
			UPDATE contract_events
			SET event_type = ?, tx_hash = ?, payload = ?, payload_hash = ?, raw_xdr = ?,
			    decoded_payload = ?, decoding_status = ?, validation_status = ?,
			    schema_version = ?, timestamp = ?
			WHERE id = ?
		`,
			event.EventType, event.TxHash, string(payloadJSON), event.PayloadHash, event.RawXDR,
			decodedJSON, event.DecodingStatus, event.ValidationStatus,
			event.SchemaVersion, event.Timestamp, existingID)
		if err != nil {
			s.recordOperation("upsert", "contract_events", err, start)
			return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event", err.Error())
		}
		event.ID = existingID
	}

	if err := tx.Commit(); err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit event upsert", err.Error())
	}

	s.recordOperation("upsert", "contract_events", nil, start)
	return event, created, nil
}

// UpdateEventDecoding stores the decode outcome for an event
func (s *SQLiteStorage) UpdateEventDecoding(ctx context.Context, id int64, decoded map[string]interface{}, status string) error {
	decodedJSON, err := marshalNullableMap(decoded)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal decoded payload", err.Error())
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE contract_events SET decoded_payload = ?, decoding_status = ? WHERE id = ?",
		decodedJSON, status, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event decoding", err.Error())
	}
	return nil
}

const eventColumns = `
	id, contract_id, ledger, event_index, event_type, tx_hash, payload, payload_hash,
	raw_xdr, decoded_payload, decoding_status, validation_status, schema_version, timestamp
`

// GetEvent retrieves a single event by ID, nil when not found
func (s *SQLiteStorage) GetEvent(ctx context.Context, id int64) (*models.ContractEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM contract_events WHERE id = ?", id)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event", err.Error())
	}
	return event, nil
}

// GetEventByKey retrieves an event by its natural key, nil when not found
func (s *SQLiteStorage) GetEventByKey(ctx context.Context, contractID string, ledger uint64, eventIndex int) (*models.ContractEvent, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM contract_events WHERE contract_id = ? AND ledger = ? AND event_index = ?",
		contractID, ledger, eventIndex)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event by key", err.Error())
	}
	return event, nil
}

// GetEvents retrieves events based on filter, newest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ContractEvent, error) {
	query := "SELECT " + eventColumns + " FROM contract_events WHERE 1=1"
	query, args := applyEventFilter(query, filter)
	query += " ORDER BY ledger DESC, event_index DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query events", err.Error())
	}
	defer rows.Close()

	var events []*models.ContractEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event", err.Error())
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEventCount counts events matching the filter
func (s *SQLiteStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM contract_events WHERE 1=1"
	query, args := applyEventFilter(query, filter)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	return count, nil
}

// --- ABI operations ---

// SaveContractABI inserts or replaces the ABI for a contract
func (s *SQLiteStorage) SaveContractABI(ctx context.Context, abi *models.ContractABI) error {
	eventsJSON, err := json.Marshal(abi.Events)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal ABI events", err.Error())
	}
	query := `
		INSERT INTO contract_abis (contract_id, events)
		VALUES (?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET events = excluded.events, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, abi.ContractID, string(eventsJSON)); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save contract ABI", err.Error())
	}
	return nil
}

// GetContractABI retrieves the ABI for a contract, nil when none uploaded
func (s *SQLiteStorage) GetContractABI(ctx context.Context, contractID string) (*models.ContractABI, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT contract_id, events, uploaded_at, updated_at FROM contract_abis WHERE contract_id = ?",
		contractID)

	var abi models.ContractABI
	var eventsJSON string
	err := row.Scan(&abi.ContractID, &eventsJSON, &abi.UploadedAt, &abi.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get contract ABI", err.Error())
	}
	if err := json.Unmarshal([]byte(eventsJSON), &abi.Events); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal ABI events", err.Error())
	}
	return &abi, nil
}

// --- Event schema operations ---

// SaveEventSchema inserts a new schema version
func (s *SQLiteStorage) SaveEventSchema(ctx context.Context, schema *models.EventSchema) error {
	schemaJSON, err := json.Marshal(schema.JSONSchema)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event schema", err.Error())
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO event_schemas (contract_id, event_type, version, json_schema) VALUES (?, ?, ?, ?)",
		schema.ContractID, schema.EventType, schema.Version, string(schemaJSON))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event schema", err.Error())
	}
	schema.ID, _ = res.LastInsertId()
	return nil
}

// GetLatestEventSchema returns the highest-version schema for the pair,
// nil when none is registered
func (s *SQLiteStorage) GetLatestEventSchema(ctx context.Context, contractID, eventType string) (*models.EventSchema, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contract_id, event_type, version, json_schema, created_at
		FROM event_schemas
		WHERE contract_id = ? AND event_type = ?
		ORDER BY version DESC LIMIT 1
	`, contractID, eventType)
	schema, err := scanEventSchema(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event schema", err.Error())
	}
	return schema, nil
}

// GetEventSchemas lists all schema versions for a contract
func (s *SQLiteStorage) GetEventSchemas(ctx context.Context, contractID string) ([]*models.EventSchema, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contract_id, event_type, version, json_schema, created_at
		FROM event_schemas WHERE contract_id = ?
		ORDER BY event_type, version DESC
	`, contractID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query event schemas", err.Error())
	}
	defer rows.Close()

	var schemas []*models.EventSchema
	for rows.Next() {
		schema, err := scanEventSchema(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan event schema", err.Error())
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

// --- Indexer state ---

// GetIndexerState reads a state value, empty string when unset
func (s *SQLiteStorage) GetIndexerState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM indexer_state WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", utils.NewAppError(utils.ErrCodeDatabase, "Failed to get indexer state", err.Error())
	}
	return value, nil
}

// SetIndexerState writes a state value
func (s *SQLiteStorage) SetIndexerState(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO indexer_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set indexer state", err.Error())
	}
	return nil
}

// --- Webhook subscription operations ---

// SaveSubscription inserts a webhook subscription
func (s *SQLiteStorage) SaveSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (contract_id, event_type, target_url, secret, active, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sub.ContractID, sub.EventType, sub.TargetURL, sub.Secret, sub.Active, sub.Status)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save subscription", err.Error())
	}
	sub.ID, _ = res.LastInsertId()
	return nil
}

const subscriptionColumns = `
	id, contract_id, event_type, target_url, secret, active, status, failure_count, last_triggered, created_at
`

// GetSubscription retrieves a subscription by ID, nil when not found
func (s *SQLiteStorage) GetSubscription(ctx context.Context, id int64) (*models.WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+subscriptionColumns+" FROM webhook_subscriptions WHERE id = ?", id)
	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get subscription", err.Error())
	}
	return sub, nil
}

// GetSubscriptions lists subscriptions, optionally scoped to a contract
func (s *SQLiteStorage) GetSubscriptions(ctx context.Context, contractID *string) ([]*models.WebhookSubscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM webhook_subscriptions"
	args := []interface{}{}
	if contractID != nil {
		query += " WHERE contract_id = ?"
		args = append(args, *contractID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query subscriptions", err.Error())
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan subscription", err.Error())
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetActiveSubscriptions returns active subscriptions matching a contract
// and event type. A subscription with an empty event_type matches any type.
func (s *SQLiteStorage) GetActiveSubscriptions(ctx context.Context, contractID, eventType string) ([]*models.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE contract_id = ? AND active = TRUE AND status = ? AND (event_type = ? OR event_type = '')
		ORDER BY id
	`, contractID, models.SubscriptionActive, eventType)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query active subscriptions", err.Error())
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan subscription", err.Error())
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// MarkSubscriptionSuccess resets the failure counter after a delivery
func (s *SQLiteStorage) MarkSubscriptionSuccess(ctx context.Context, id int64, triggeredAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET failure_count = 0, last_triggered = ? WHERE id = ?",
		triggeredAt, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark subscription success", err.Error())
	}
	return nil
}

// IncrementSubscriptionFailure bumps the failure counter atomically
func (s *SQLiteStorage) IncrementSubscriptionFailure(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET failure_count = failure_count + 1 WHERE id = ?", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to increment subscription failure", err.Error())
	}
	return nil
}

// SuspendSubscription deactivates a subscription after repeated failures
func (s *SQLiteStorage) SuspendSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET status = ?, active = FALSE WHERE id = ?",
		models.SubscriptionSuspended, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to suspend subscription", err.Error())
	}
	return nil
}

// ReactivateSubscription restores a suspended subscription
func (s *SQLiteStorage) ReactivateSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET status = ?, active = TRUE, failure_count = 0 WHERE id = ?",
		models.SubscriptionActive, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to reactivate subscription", err.Error())
	}
	return nil
}

// --- Delivery log operations ---

// SaveDeliveryLog appends one delivery attempt record
func (s *SQLiteStorage) SaveDeliveryLog(ctx context.Context, log *models.WebhookDeliveryLog) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_delivery_logs (subscription_id, event_id, attempt_number, status_code, success, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, log.SubscriptionID, log.EventID, log.AttemptNumber, log.StatusCode, log.Success, log.Error, log.Timestamp)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save delivery log", err.Error())
	}
	log.ID, _ = res.LastInsertId()
	return nil
}

// GetDeliveryLogs lists delivery attempts for a subscription, newest first
func (s *SQLiteStorage) GetDeliveryLogs(ctx context.Context, subscriptionID int64, limit int) ([]*models.WebhookDeliveryLog, error) {
	query := `
		SELECT id, subscription_id, event_id, attempt_number, status_code, success, error, timestamp
		FROM webhook_delivery_logs WHERE subscription_id = ?
		ORDER BY timestamp DESC, id DESC
	`
	args := []interface{}{subscriptionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query delivery logs", err.Error())
	}
	defer rows.Close()

	var logs []*models.WebhookDeliveryLog
	for rows.Next() {
		var log models.WebhookDeliveryLog
		var eventID sql.NullInt64
		var statusCode sql.NullInt64
		if err := rows.Scan(&log.ID, &log.SubscriptionID, &eventID, &log.AttemptNumber,
			&statusCode, &log.Success, &log.Error, &log.Timestamp); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan delivery log", err.Error())
		}
		if eventID.Valid {
			log.EventID = &eventID.Int64
		}
		if statusCode.Valid {
			code := int(statusCode.Int64)
			log.StatusCode = &code
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

// PruneDeliveryLogs deletes delivery logs older than the cutoff
func (s *SQLiteStorage) PruneDeliveryLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM webhook_delivery_logs WHERE timestamp < ?", olderThan)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to prune delivery logs", err.Error())
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("Pruned webhook delivery logs")
	}
	return deleted, nil
}

// --- Alert rule operations ---

// SaveAlertRule inserts an alert rule
func (s *SQLiteStorage) SaveAlertRule(ctx context.Context, rule *models.AlertRule) error {
	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal alert condition", err.Error())
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (contract_id, name, condition, action_type, action_target, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rule.ContractID, rule.Name, string(conditionJSON), rule.ActionType, rule.ActionTarget, rule.Active)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save alert rule", err.Error())
	}
	rule.ID, _ = res.LastInsertId()
	return nil
}

// GetAlertRule retrieves a rule by ID, nil when not found
func (s *SQLiteStorage) GetAlertRule(ctx context.Context, id int64) (*models.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contract_id, name, condition, action_type, action_target, active, created_at
		FROM alert_rules WHERE id = ?
	`, id)
	rule, err := scanAlertRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get alert rule", err.Error())
	}
	return rule, nil
}

// GetActiveAlertRules lists active rules for a contract in ID order
func (s *SQLiteStorage) GetActiveAlertRules(ctx context.Context, contractID string, limit int) ([]*models.AlertRule, error) {
	query := `
		SELECT id, contract_id, name, condition, action_type, action_target, active, created_at
		FROM alert_rules WHERE contract_id = ? AND active = TRUE
		ORDER BY id
	`
	args := []interface{}{contractID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query alert rules", err.Error())
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan alert rule", err.Error())
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CountAlertRules counts all rules registered for a contract
func (s *SQLiteStorage) CountAlertRules(ctx context.Context, contractID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alert_rules WHERE contract_id = ?", contractID).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count alert rules", err.Error())
	}
	return count, nil
}

// SaveAlertExecution appends one rule trigger record
func (s *SQLiteStorage) SaveAlertExecution(ctx context.Context, exec *models.AlertExecution) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO alert_executions (rule_id, event_id, status, response) VALUES (?, ?, ?, ?)",
		exec.RuleID, exec.EventID, exec.Status, exec.Response)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save alert execution", err.Error())
	}
	exec.ID, _ = res.LastInsertId()
	return nil
}

// GetAlertExecutions lists executions for a rule, newest first
func (s *SQLiteStorage) GetAlertExecutions(ctx context.Context, ruleID int64, limit int) ([]*models.AlertExecution, error) {
	query := `
		SELECT id, rule_id, event_id, status, response, created_at
		FROM alert_executions WHERE rule_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{ruleID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query alert executions", err.Error())
	}
	defer rows.Close()

	var execs []*models.AlertExecution
	for rows.Next() {
		var exec models.AlertExecution
		if err := rows.Scan(&exec.ID, &exec.RuleID, &exec.EventID, &exec.Status, &exec.Response, &exec.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan alert execution", err.Error())
		}
		execs = append(execs, &exec)
	}
	return execs, rows.Err()
}

// --- Statistics ---

// GetStorageStats collects row counts for monitoring endpoints
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM tracked_contracts", &stats.TotalContracts},
		{"SELECT COUNT(*) FROM tracked_contracts WHERE active = TRUE", &stats.ActiveContracts},
		{"SELECT COUNT(*) FROM contract_events", &stats.TotalEvents},
		{"SELECT COUNT(*) FROM webhook_subscriptions", &stats.TotalSubscriptions},
		{"SELECT COUNT(*) FROM alert_rules", &stats.TotalAlertRules},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err.Error())
		}
	}

	// MIN/MAX aggregates come back as TEXT under the sqlite driver, which
	// drops the column's time affinity; scan strings and parse.
	var oldest, latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(timestamp), MAX(timestamp) FROM contract_events").Scan(&oldest, &latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to collect event time range", err.Error())
	}
	if oldest.Valid {
		if ts, ok := parseStoredTime(oldest.String); ok {
			stats.OldestEvent = &ts
		}
	}
	if latest.Valid {
		if ts, ok := parseStoredTime(latest.String); ok {
			stats.LatestEvent = &ts
		}
	}

	return stats, nil
}

// parseStoredTime parses the textual timestamp formats the sqlite driver
// produces for aggregated time columns
func parseStoredTime(value string) (time.Time, bool) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// --- Row scanning helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContract(row rowScanner) (*models.TrackedContract, error) {
	var contract models.TrackedContract
	var lastIndexed sql.NullInt64
	err := row.Scan(&contract.ContractID, &contract.Name, &contract.Description,
		&lastIndexed, &contract.Active, &contract.CreatedAt, &contract.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastIndexed.Valid {
		ledger := uint64(lastIndexed.Int64)
		contract.LastIndexedLedger = &ledger
	}
	return &contract, nil
}

func scanEvent(row rowScanner) (*models.ContractEvent, error) {
	var event models.ContractEvent
	var payloadJSON string
	var decodedJSON sql.NullString
	var schemaVersion sql.NullInt64

	err := row.Scan(&event.ID, &event.ContractID, &event.Ledger, &event.EventIndex,
		&event.EventType, &event.TxHash, &payloadJSON, &event.PayloadHash,
		&event.RawXDR, &decodedJSON, &event.DecodingStatus, &event.ValidationStatus,
		&schemaVersion, &event.Timestamp)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, err
	}
	if decodedJSON.Valid && decodedJSON.String != "" {
		if err := json.Unmarshal([]byte(decodedJSON.String), &event.DecodedPayload); err != nil {
			return nil, err
		}
	}
	if schemaVersion.Valid {
		version := int(schemaVersion.Int64)
		event.SchemaVersion = &version
	}
	return &event, nil
}

func scanEventSchema(row rowScanner) (*models.EventSchema, error) {
	var schema models.EventSchema
	var schemaJSON string
	err := row.Scan(&schema.ID, &schema.ContractID, &schema.EventType,
		&schema.Version, &schemaJSON, &schema.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schemaJSON), &schema.JSONSchema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func scanSubscription(row rowScanner) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	var lastTriggered sql.NullTime
	err := row.Scan(&sub.ID, &sub.ContractID, &sub.EventType, &sub.TargetURL,
		&sub.Secret, &sub.Active, &sub.Status, &sub.FailureCount, &lastTriggered, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastTriggered.Valid {
		sub.LastTriggered = &lastTriggered.Time
	}
	return &sub, nil
}

func scanAlertRule(row rowScanner) (*models.AlertRule, error) {
	var rule models.AlertRule
	var conditionJSON string
	err := row.Scan(&rule.ID, &rule.ContractID, &rule.Name, &conditionJSON,
		&rule.ActionType, &rule.ActionTarget, &rule.Active, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conditionJSON), &rule.Condition); err != nil {
		return nil, err
	}
	return &rule, nil
}

func applyEventFilter(query string, filter models.EventFilter) (string, []interface{}) {
	args := []interface{}{}
	if filter.ContractID != nil {
		query += " AND contract_id = ?"
		args = append(args, *filter.ContractID)
	}
	if filter.EventType != nil {
		query += " AND event_type = ?"
		args = append(args, *filter.EventType)
	}
	if filter.FromLedger != nil {
		query += " AND ledger >= ?"
		args = append(args, *filter.FromLedger)
	}
	if filter.ToLedger != nil {
		query += " AND ledger <= ?"
		args = append(args, *filter.ToLedger)
	}
	return query, args
}

func marshalNullableMap(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
