// File: internal/storage/migrations.go
package storage

// Migration is a single schema migration script
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create tracked_contracts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tracked_contracts (
					contract_id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					last_indexed_ledger INTEGER,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_contracts_active ON tracked_contracts(active);
			`,
		},
		{
			Version:     "002",
			Description: "Create contract_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS contract_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					contract_id TEXT NOT NULL,
					ledger INTEGER NOT NULL,
					event_index INTEGER NOT NULL,
					event_type TEXT NOT NULL,
					tx_hash TEXT NOT NULL DEFAULT '',
					payload TEXT NOT NULL DEFAULT '{}', -- JSON
					payload_hash TEXT NOT NULL DEFAULT '',
					raw_xdr TEXT NOT NULL DEFAULT '',
					decoded_payload TEXT, -- JSON
					decoding_status TEXT NOT NULL DEFAULT 'no_abi',
					validation_status TEXT NOT NULL DEFAULT '',
					schema_version INTEGER,
					timestamp DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (contract_id) REFERENCES tracked_contracts (contract_id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_natural_key
					ON contract_events(contract_id, ledger, event_index);
				CREATE INDEX IF NOT EXISTS idx_events_contract ON contract_events(contract_id);
				CREATE INDEX IF NOT EXISTS idx_events_ledger ON contract_events(ledger);
				CREATE INDEX IF NOT EXISTS idx_events_type ON contract_events(event_type);
				CREATE INDEX IF NOT EXISTS idx_events_timestamp ON contract_events(timestamp);
			`,
		},
		{
			Version:     "003",
			Description: "Create contract_abis table",
			SQL: `
				CREATE TABLE IF NOT EXISTS contract_abis (
					contract_id TEXT PRIMARY KEY,
					events TEXT NOT NULL, -- JSON
					uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (contract_id) REFERENCES tracked_contracts (contract_id)
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create event_schemas table",
			SQL: `
				CREATE TABLE IF NOT EXISTS event_schemas (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					contract_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					version INTEGER NOT NULL DEFAULT 1,
					json_schema TEXT NOT NULL, -- JSON
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(contract_id, event_type, version)
				);

				CREATE INDEX IF NOT EXISTS idx_schemas_lookup ON event_schemas(contract_id, event_type);
			`,
		},
		{
			Version:     "005",
			Description: "Create webhook_subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS webhook_subscriptions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					contract_id TEXT NOT NULL,
					event_type TEXT NOT NULL DEFAULT '',
					target_url TEXT NOT NULL,
					secret TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					status TEXT NOT NULL DEFAULT 'active',
					failure_count INTEGER NOT NULL DEFAULT 0,
					last_triggered DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_subscriptions_contract ON webhook_subscriptions(contract_id);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON webhook_subscriptions(active);
			`,
		},
		{
			Version:     "006",
			Description: "Create webhook_delivery_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS webhook_delivery_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					subscription_id INTEGER NOT NULL,
					event_id INTEGER,
					attempt_number INTEGER NOT NULL DEFAULT 1,
					status_code INTEGER,
					success BOOLEAN NOT NULL DEFAULT FALSE,
					error TEXT NOT NULL DEFAULT '',
					timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (subscription_id) REFERENCES webhook_subscriptions (id)
				);

				CREATE INDEX IF NOT EXISTS idx_delivery_logs_subscription ON webhook_delivery_logs(subscription_id);
				CREATE INDEX IF NOT EXISTS idx_delivery_logs_timestamp ON webhook_delivery_logs(timestamp);
			`,
		},
		{
			Version:     "007",
			Description: "Create alert_rules and alert_executions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS alert_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					contract_id TEXT NOT NULL,
					name TEXT NOT NULL,
					condition TEXT NOT NULL, -- JSON
					action_type TEXT NOT NULL,
					action_target TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_alert_rules_contract ON alert_rules(contract_id);

				CREATE TABLE IF NOT EXISTS alert_executions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					rule_id INTEGER NOT NULL,
					event_id INTEGER NOT NULL,
					status TEXT NOT NULL,
					response TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (rule_id) REFERENCES alert_rules (id)
				);

				CREATE INDEX IF NOT EXISTS idx_alert_executions_rule ON alert_executions(rule_id);
			`,
		},
		{
			Version:     "008",
			Description: "Create indexer_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS indexer_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create tracked_contracts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tracked_contracts (
					contract_id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					last_indexed_ledger BIGINT,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_contracts_active ON tracked_contracts(active);
			`,
		},
		{
			Version:     "002",
			Description: "Create contract_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS contract_events (
					id BIGSERIAL PRIMARY KEY,
					contract_id TEXT NOT NULL,
					ledger BIGINT NOT NULL,
					event_index INTEGER NOT NULL,
					event_type TEXT NOT NULL,
					tx_hash TEXT NOT NULL DEFAULT '',
					payload JSONB NOT NULL DEFAULT '{}',
					payload_hash TEXT NOT NULL DEFAULT '',
					raw_xdr TEXT NOT NULL DEFAULT '',
					decoded_payload JSONB,
					decoding_status TEXT NOT NULL DEFAULT 'no_abi',
					validation_status TEXT NOT NULL DEFAULT '',
					schema_version INTEGER,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					CONSTRAINT fk_events_contract FOREIGN KEY (contract_id) REFERENCES tracked_contracts (contract_id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_natural_key
					ON contract_events(contract_id, ledger, event_index);
				CREATE INDEX IF NOT EXISTS idx_events_contract ON contract_events(contract_id);
				CREATE INDEX IF NOT EXISTS idx_events_ledger ON contract_events(ledger);
				CREATE INDEX IF NOT EXISTS idx_events_type ON contract_events(event_type);
				CREATE INDEX IF NOT EXISTS idx_events_timestamp ON contract_events(timestamp);
				CREATE INDEX IF NOT EXISTS idx_events_payload_gin ON contract_events USING GIN(payload);
			`,
		},
		{
			Version:     "003",
			Description: "Create contract_abis table",
			SQL: `
				CREATE TABLE IF NOT EXISTS contract_abis (
					contract_id TEXT PRIMARY KEY,
					events JSONB NOT NULL,
					uploaded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					CONSTRAINT fk_abis_contract FOREIGN KEY (contract_id) REFERENCES tracked_contracts (contract_id)
				);
			`,
		},
		{
			Version:     "004",
			Description: "Create event_schemas table",
			SQL: `
				CREATE TABLE IF NOT EXISTS event_schemas (
					id BIGSERIAL PRIMARY KEY,
					contract_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					version INTEGER NOT NULL DEFAULT 1,
					json_schema JSONB NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					UNIQUE(contract_id, event_type, version)
				);

				CREATE INDEX IF NOT EXISTS idx_schemas_lookup ON event_schemas(contract_id, event_type);
			`,
		},
		{
			Version:     "005",
			Description: "Create webhook_subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS webhook_subscriptions (
					id BIGSERIAL PRIMARY KEY,
					contract_id TEXT NOT NULL,
					event_type TEXT NOT NULL DEFAULT '',
					target_url TEXT NOT NULL,
					secret TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					status TEXT NOT NULL DEFAULT 'active',
					failure_count INTEGER NOT NULL DEFAULT 0,
					last_triggered TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_subscriptions_contract ON webhook_subscriptions(contract_id);
				CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON webhook_subscriptions(active);
			`,
		},
		{
			Version:     "006",
			Description: "Create webhook_delivery_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS webhook_delivery_logs (
					id BIGSERIAL PRIMARY KEY,
					subscription_id BIGINT NOT NULL,
					event_id BIGINT,
					attempt_number INTEGER NOT NULL DEFAULT 1,
					status_code INTEGER,
					success BOOLEAN NOT NULL DEFAULT FALSE,
					error TEXT NOT NULL DEFAULT '',
					timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					CONSTRAINT fk_delivery_logs_subscription FOREIGN KEY (subscription_id) REFERENCES webhook_subscriptions (id)
				);

				CREATE INDEX IF NOT EXISTS idx_delivery_logs_subscription ON webhook_delivery_logs(subscription_id);
				CREATE INDEX IF NOT EXISTS idx_delivery_logs_timestamp ON webhook_delivery_logs(timestamp);
			`,
		},
		{
			Version:     "007",
			Description: "Create alert_rules and alert_executions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS alert_rules (
					id BIGSERIAL PRIMARY KEY,
					contract_id TEXT NOT NULL,
					name TEXT NOT NULL,
					condition JSONB NOT NULL,
					action_type TEXT NOT NULL,
					action_target TEXT NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_alert_rules_contract ON alert_rules(contract_id);

				CREATE TABLE IF NOT EXISTS alert_executions (
					id BIGSERIAL PRIMARY KEY,
					rule_id BIGINT NOT NULL,
					event_id BIGINT NOT NULL,
					status TEXT NOT NULL,
					response TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					CONSTRAINT fk_alert_executions_rule FOREIGN KEY (rule_id) REFERENCES alert_rules (id)
				);

				CREATE INDEX IF NOT EXISTS idx_alert_executions_rule ON alert_executions(rule_id);
			`,
		},
		{
			Version:     "008",
			Description: "Create indexer_state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS indexer_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`,
		},
	}
}
