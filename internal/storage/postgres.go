// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/internal/models"
	"github.com/soroscan/soroscan/pkg/utils"
)

// PostgresStorage implements Storage using PostgreSQL
type PostgresStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration

	metricsManager *metrics.Manager
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *StorageConfig) *PostgresStorage {
	return &PostgresStorage{
		config:     config,
		logger:     utils.ComponentLogger("storage"),
		migrations: GetPostgresMigrations(),
	}
}

// SetMetricsManager attaches a metrics manager for operation timing
func (s *PostgresStorage) SetMetricsManager(m *metrics.Manager) {
	s.metricsManager = m
}

// Connect establishes the database connection
func (s *PostgresStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to connect to PostgreSQL", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgresStorage) Migrate() error {
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

func (s *PostgresStorage) recordOperation(operation, table string, err error, start time.Time) {
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

func (s *PostgresStorage) SaveContract(ctx context.Context, contract *models.TrackedContract) error {
	start := time.Now()
	query := `
		INSERT INTO tracked_contracts (contract_id, name, description, last_indexed_ledger, active)
		VALUES ($1, $2, $3, $4, $5)
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

func (s *PostgresStorage) GetContract(ctx context.Context, contractID string) (*models.TrackedContract, error) {
	query := `
		SELECT contract_id, name, description, last_indexed_ledger, active, created_at, updated_at
		FROM tracked_contracts WHERE contract_id = $1
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

func (s *PostgresStorage) GetContracts(ctx context.Context, active *bool) ([]*models.TrackedContract, error) {
	query := `
		SELECT contract_id, name, description, last_indexed_ledger, active, created_at, updated_at
		FROM tracked_contracts
	`
	args := []interface{}{}
	if active != nil {
		query += " WHERE active = $1"
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

func (s *PostgresStorage) UpdateContract(ctx context.Context, contract *models.TrackedContract) error {
	query := `
		UPDATE tracked_contracts
		SET name = $1, description = $2, active = $3, updated_at = NOW()
		WHERE contract_id = $4
	`
	_, err := s.db.ExecContext(ctx, query,
		contract.Name, contract.Description, contract.Active, contract.ContractID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update contract", err.Error())
	}
	return nil
}

func (s *PostgresStorage) DeleteContract(ctx context.Context, contractID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tracked_contracts WHERE contract_id = $1", contractID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to delete contract", err.Error())
	}
	return nil
}

func (s *PostgresStorage) AdvanceLastIndexedLedger(ctx context.Context, contractID string, ledger uint64) error {
	query := `
		UPDATE tracked_contracts
		SET last_indexed_ledger = $1, updated_at = NOW()
		WHERE contract_id = $2 AND (last_indexed_ledger IS NULL OR last_indexed_ledger < $1)
	`
	_, err := s.db.ExecContext(ctx, query, ledger, contractID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to advance last indexed ledger", err.Error())
	}
	return nil
}

// --- Event operations ---

// UpsertEvent uses ON CONFLICT DO UPDATE with the xmax trick to detect
// whether the row was freshly inserted.
func (s *PostgresStorage) UpsertEvent(ctx context.Context, event *models.ContractEvent) (*models.ContractEvent, bool, error) {
	start := time.Now()

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event payload", err.Error())
	}
	decodedJSON, err := marshalNullableMap(event.DecodedPayload)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal decoded payload", err.Error())
	}

	query := `
		INSERT INTO contract_events
		(contract_id, ledger, event_index, event_type, tx_hash, payload, payload_hash,
		 raw_xdr, decoded_payload, decoding_status, validation_status, schema_version, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (contract_id, ledger, event_index) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			tx_hash = EXCLUDED.tx_hash,
			payload = EXCLUDED.payload,
			payload_hash = EXCLUDED.payload_hash,
			raw_xdr = EXCLUDED.raw_xdr,
			decoded_payload = EXCLUDED.decoded_payload,
			decoding_status = EXCLUDED.decoding_status,
			validation_status = EXCLUDED.validation_status,
			schema_version = EXCLUDED.schema_version,
			timestamp = EXCLUDED.timestamp
		RETURNING id, (xmax = 0) AS created
	`
	var created bool
	err = s.db.QueryRowContext(ctx, query,
		event.ContractID, event.Ledger, event.EventIndex, event.EventType, event.TxHash,
		string(payloadJSON), event.PayloadHash, event.RawXDR, decodedJSON,
		event.DecodingStatus, event.ValidationStatus, event.SchemaVersion, event.Timestamp,
	).Scan(&event.ID, &created)
	s.recordOperation("upsert", "contract_events", err, start)
	if err != nil {
		return nil, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert event", err.Error())
	}
	return event, created, nil
}

func (s *PostgresStorage) UpdateEventDecoding(ctx context.Context, id int64, decoded map[string]interface{}, status string) error {
	decodedJSON, err := marshalNullableMap(decoded)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal decoded payload", err.Error())
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE contract_events SET decoded_payload = $1, decoding_status = $2 WHERE id = $3",
		decodedJSON, status, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update event decoding", err.Error())
	}
	return nil
}

func (s *PostgresStorage) GetEvent(ctx context.Context, id int64) (*models.ContractEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM contract_events WHERE id = $1", id)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get event", err.Error())
	}
	return event, nil
}

func (s *PostgresStorage) GetEventByKey(ctx context.Context, contractID string, ledger uint64, eventIndex int) (*models.ContractEvent, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM contract_events WHERE contract_id = $1 AND ledger = $2 AND event_index = $3",
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

func (s *PostgresStorage) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.ContractEvent, error) {
	query := "SELECT " + eventColumns + " FROM contract_events WHERE 1=1"
	query, args := applyEventFilterPG(query, filter)
	query += " ORDER BY ledger DESC, event_index DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
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

func (s *PostgresStorage) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := "SELECT COUNT(*) FROM contract_events WHERE 1=1"
	query, args := applyEventFilterPG(query, filter)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count events", err.Error())
	}
	return count, nil
}

// --- ABI operations ---

func (s *PostgresStorage) SaveContractABI(ctx context.Context, abi *models.ContractABI) error {
	eventsJSON, err := json.Marshal(abi.Events)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal ABI events", err.Error())
	}
	query := `
		INSERT INTO contract_abis (contract_id, events)
		VALUES ($1, $2)
		ON CONFLICT (contract_id) DO UPDATE SET events = EXCLUDED.events, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, abi.ContractID, string(eventsJSON)); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save contract ABI", err.Error())
	}
	return nil
}

func (s *PostgresStorage) GetContractABI(ctx context.Context, contractID string) (*models.ContractABI, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT contract_id, events, uploaded_at, updated_at FROM contract_abis WHERE contract_id = $1",
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

func (s *PostgresStorage) SaveEventSchema(ctx context.Context, schema *models.EventSchema) error {
	schemaJSON, err := json.Marshal(schema.JSONSchema)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal event schema", err.Error())
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO event_schemas (contract_id, event_type, version, json_schema)
		VALUES ($1, $2, $3, $4) RETURNING id
	`, schema.ContractID, schema.EventType, schema.Version, string(schemaJSON)).Scan(&schema.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save event schema", err.Error())
	}
	return nil
}

func (s *PostgresStorage) GetLatestEventSchema(ctx context.Context, contractID, eventType string) (*models.EventSchema, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contract_id, event_type, version, json_schema, created_at
		FROM event_schemas
		WHERE contract_id = $1 AND event_type = $2
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

func (s *PostgresStorage) GetEventSchemas(ctx context.Context, contractID string) ([]*models.EventSchema, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contract_id, event_type, version, json_schema, created_at
		FROM event_schemas WHERE contract_id = $1
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

func (s *PostgresStorage) GetIndexerState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM indexer_state WHERE key = $1", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", utils.NewAppError(utils.ErrCodeDatabase, "Failed to get indexer state", err.Error())
	}
	return value, nil
}

func (s *PostgresStorage) SetIndexerState(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO indexer_state (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set indexer state", err.Error())
	}
	return nil
}

// --- Webhook subscription operations ---

func (s *PostgresStorage) SaveSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_subscriptions (contract_id, event_type, target_url, secret, active, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id
	`, sub.ContractID, sub.EventType, sub.TargetURL, sub.Secret, sub.Active, sub.Status).Scan(&sub.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save subscription", err.Error())
	}
	return nil
}

func (s *PostgresStorage) GetSubscription(ctx context.Context, id int64) (*models.WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+subscriptionColumns+" FROM webhook_subscriptions WHERE id = $1", id)
	sub, err := scanSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get subscription", err.Error())
	}
	return sub, nil
}

func (s *PostgresStorage) GetSubscriptions(ctx context.Context, contractID *string) ([]*models.WebhookSubscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM webhook_subscriptions"
	args := []interface{}{}
	if contractID != nil {
		query += " WHERE contract_id = $1"
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

func (s *PostgresStorage) GetActiveSubscriptions(ctx context.Context, contractID, eventType string) ([]*models.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE contract_id = $1 AND active = TRUE AND status = $2 AND (event_type = $3 OR event_type = '')
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

func (s *PostgresStorage) MarkSubscriptionSuccess(ctx context.Context, id int64, triggeredAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET failure_count = 0, last_triggered = $1 WHERE id = $2",
		triggeredAt, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark subscription success", err.Error())
	}
	return nil
}

func (s *PostgresStorage) IncrementSubscriptionFailure(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET failure_count = failure_count + 1 WHERE id = $1", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to increment subscription failure", err.Error())
	}
	return nil
}

func (s *PostgresStorage) SuspendSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET status = $1, active = FALSE WHERE id = $2",
		models.SubscriptionSuspended, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to suspend subscription", err.Error())
	}
	return nil
}

func (s *PostgresStorage) ReactivateSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET status = $1, active = TRUE, failure_count = 0 WHERE id = $2",
		models.SubscriptionActive, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to reactivate subscription", err.Error())
	}
	return nil
}

// --- Delivery log operations ---

func (s *PostgresStorage) SaveDeliveryLog(ctx context.Context, log *models.WebhookDeliveryLog) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_delivery_logs (subscription_id, event_id, attempt_number, status_code, success, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id
	`, log.SubscriptionID, log.EventID, log.AttemptNumber, log.StatusCode, log.Success, log.Error, log.Timestamp).Scan(&log.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save delivery log", err.Error())
	}
	return nil
}

func (s *PostgresStorage) GetDeliveryLogs(ctx context.Context, subscriptionID int64, limit int) ([]*models.WebhookDeliveryLog, error) {
	query := `
		SELECT id, subscription_id, event_id, attempt_number, status_code, success, error, timestamp
		FROM webhook_delivery_logs WHERE subscription_id = $1
		ORDER BY timestamp DESC, id DESC
	`
	args := []interface{}{subscriptionID}
	if limit > 0 {
		query += " LIMIT $2"
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
		var eventID, statusCode sql.NullInt64
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

func (s *PostgresStorage) PruneDeliveryLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM webhook_delivery_logs WHERE timestamp < $1", olderThan)
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

func (s *PostgresStorage) SaveAlertRule(ctx context.Context, rule *models.AlertRule) error {
	conditionJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal alert condition", err.Error())
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO alert_rules (contract_id, name, condition, action_type, action_target, active)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id
	`, rule.ContractID, rule.Name, string(conditionJSON), rule.ActionType, rule.ActionTarget, rule.Active).Scan(&rule.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save alert rule", err.Error())
	}
	return nil
}

func (s *PostgresStorage) GetAlertRule(ctx context.Context, id int64) (*models.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contract_id, name, condition, action_type, action_target, active, created_at
		FROM alert_rules WHERE id = $1
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

func (s *PostgresStorage) GetActiveAlertRules(ctx context.Context, contractID string, limit int) ([]*models.AlertRule, error) {
	query := `
		SELECT id, contract_id, name, condition, action_type, action_target, active, created_at
		FROM alert_rules WHERE contract_id = $1 AND active = TRUE
		ORDER BY id
	`
	args := []interface{}{contractID}
	if limit > 0 {
		query += " LIMIT $2"
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

func (s *PostgresStorage) CountAlertRules(ctx context.Context, contractID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alert_rules WHERE contract_id = $1", contractID).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count alert rules", err.Error())
	}
	return count, nil
}

func (s *PostgresStorage) SaveAlertExecution(ctx context.Context, exec *models.AlertExecution) error {
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO alert_executions (rule_id, event_id, status, response) VALUES ($1, $2, $3, $4) RETURNING id",
		exec.RuleID, exec.EventID, exec.Status, exec.Response).Scan(&exec.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save alert execution", err.Error())
	}
	return nil
}

func (s *PostgresStorage) GetAlertExecutions(ctx context.Context, ruleID int64, limit int) ([]*models.AlertExecution, error) {
	query := `
		SELECT id, rule_id, event_id, status, response, created_at
		FROM alert_executions WHERE rule_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{ruleID}
	if limit > 0 {
		query += " LIMIT $2"
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

func (s *PostgresStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
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

	var oldest, latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(timestamp), MAX(timestamp) FROM contract_events").Scan(&oldest, &latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to collect event time range", err.Error())
	}
	if oldest.Valid {
		stats.OldestEvent = &oldest.Time
	}
	if latest.Valid {
		stats.LatestEvent = &latest.Time
	}

	return stats, nil
}

func applyEventFilterPG(query string, filter models.EventFilter) (string, []interface{}) {
	args := []interface{}{}
	if filter.ContractID != nil {
		args = append(args, *filter.ContractID)
		query += fmt.Sprintf(" AND contract_id = $%d", len(args))
	}
	if filter.EventType != nil {
		args = append(args, *filter.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filter.FromLedger != nil {
		args = append(args, *filter.FromLedger)
		query += fmt.Sprintf(" AND ledger >= $%d", len(args))
	}
	if filter.ToLedger != nil {
		args = append(args, *filter.ToLedger)
		query += fmt.Sprintf(" AND ledger <= $%d", len(args))
	}
	return query, args
}
