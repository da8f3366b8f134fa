package store

// Schema is the single source of truth for the trade core's tables. It is
// applied idempotently on every boot (all statements are CREATE ... IF NOT
// EXISTS).
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS expert_instances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES accounts(id),
	expert_class_tag TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	virtual_equity_percent REAL NOT NULL DEFAULT 0,
	ruleset_id INTEGER NOT NULL DEFAULT 0,
	alias TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	owner_kind TEXT NOT NULL,
	owner_id INTEGER NOT NULL DEFAULT 0,
	key TEXT NOT NULL,
	value_type TEXT NOT NULL,
	raw_value TEXT NOT NULL,
	PRIMARY KEY (owner_kind, owner_id, key)
);

CREATE TABLE IF NOT EXISTS instruments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL DEFAULT 'stock',
	categories TEXT NOT NULL DEFAULT '[]',
	labels TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS market_analyses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	expert_instance_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	use_case TEXT NOT NULL,
	status TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_market_analyses_status ON market_analyses(status);

CREATE TABLE IF NOT EXISTS analysis_outputs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	market_analysis_id INTEGER NOT NULL REFERENCES market_analyses(id),
	name TEXT NOT NULL,
	type_tag TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS expert_recommendations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	expert_instance_id INTEGER NOT NULL,
	market_analysis_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	expected_profit_percent REAL NOT NULL DEFAULT 0,
	price_at_issue REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	risk_level TEXT NOT NULL DEFAULT 'MEDIUM',
	time_horizon TEXT NOT NULL DEFAULT 'MEDIUM_TERM',
	details TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	expert_instance_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL DEFAULT 0,
	open_price REAL NOT NULL DEFAULT 0,
	close_price REAL NOT NULL DEFAULT 0,
	open_date TIMESTAMP,
	close_date TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'WAITING',
	take_profit REAL,
	stop_loss REAL,
	close_reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_expert_symbol ON transactions(expert_instance_id, symbol);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);

CREATE TABLE IF NOT EXISTS trading_orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL,
	transaction_id INTEGER NOT NULL DEFAULT 0,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	quantity REAL NOT NULL,
	limit_price REAL NOT NULL DEFAULT 0,
	stop_price REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	filled_quantity REAL NOT NULL DEFAULT 0,
	open_price REAL NOT NULL DEFAULT 0,
	broker_order_id TEXT NOT NULL DEFAULT '',
	depends_on_order INTEGER NOT NULL DEFAULT 0,
	depends_order_status_trigger TEXT NOT NULL DEFAULT '',
	good_for TEXT NOT NULL DEFAULT 'GTC',
	comment TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trading_orders_transaction ON trading_orders(transaction_id);
CREATE INDEX IF NOT EXISTS idx_trading_orders_status ON trading_orders(status);
CREATE INDEX IF NOT EXISTS idx_trading_orders_depends_on ON trading_orders(depends_on_order);

CREATE TABLE IF NOT EXISTS rulesets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	subtype TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS event_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL DEFAULT '',
	triggers TEXT NOT NULL DEFAULT '[]',
	actions TEXT NOT NULL DEFAULT '[]',
	continue_processing INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ruleset_memberships (
	ruleset_id INTEGER NOT NULL REFERENCES rulesets(id),
	event_action_id INTEGER NOT NULL REFERENCES event_actions(id),
	order_index INTEGER NOT NULL,
	PRIMARY KEY (ruleset_id, event_action_id)
);
CREATE INDEX IF NOT EXISTS idx_ruleset_memberships_order ON ruleset_memberships(ruleset_id, order_index);

CREATE TABLE IF NOT EXISTS queue_tasks (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	claimed_at TIMESTAMP,
	completed_at TIMESTAMP,
	dedup_key TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_tasks_status ON queue_tasks(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_tasks_active_dedup ON queue_tasks(dedup_key)
	WHERE dedup_key != '' AND status IN ('PENDING', 'RUNNING');

CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	severity TEXT NOT NULL DEFAULT 'INFO',
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	account_id INTEGER NOT NULL DEFAULT 0,
	expert_id INTEGER NOT NULL DEFAULT 0,
	timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp DESC);

CREATE TABLE IF NOT EXISTS llm_usage_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS price_cache_snapshot (
	account_id INTEGER NOT NULL,
	cache_key TEXT NOT NULL,
	payload BLOB NOT NULL,
	saved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account_id, cache_key)
);
`
