package db

var schema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		time_zone TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS areas (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		armed_state TEXT NOT NULL DEFAULT 'DISARMED'
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		vendor TEXT NOT NULL DEFAULT '',
		area_id TEXT REFERENCES areas(id) ON DELETE SET NULL,
		location_id TEXT REFERENCES locations(id) ON DELETE SET NULL,
		organization_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		organization_id TEXT NOT NULL DEFAULT '',
		ts TIMESTAMPTZ NOT NULL,
		category TEXT NOT NULL,
		type TEXT NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS events_ts_idx ON events (ts)`,
	`CREATE INDEX IF NOT EXISTS events_device_ts_idx ON events (device_id, ts)`,
	`CREATE TABLE IF NOT EXISTS bookmarks (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		organization_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		tags TEXT[] NOT NULL DEFAULT '{}',
		created_by_rule TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		definition JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE automation_rules ADD COLUMN IF NOT EXISTS source TEXT NOT NULL DEFAULT ''`,
	`CREATE TABLE IF NOT EXISTS automation_executions (
		id TEXT PRIMARY KEY,
		automation_id TEXT NOT NULL,
		trigger_timestamp TIMESTAMPTZ NOT NULL,
		trigger_event_id TEXT,
		trigger_context JSONB,
		total_actions INT NOT NULL,
		execution_status TEXT NOT NULL,
		successful_actions INT NOT NULL DEFAULT 0,
		failed_actions INT NOT NULL DEFAULT 0,
		state_conditions_met BOOLEAN,
		temporal_conditions_met BOOLEAN,
		execution_duration_ms BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS automation_executions_rule_idx ON automation_executions (automation_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS automation_action_executions (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES automation_executions(id) ON DELETE CASCADE,
		action_index INT NOT NULL,
		action_type TEXT NOT NULL,
		action_params JSONB,
		status TEXT NOT NULL,
		error_message TEXT,
		retry_count INT NOT NULL DEFAULT 0,
		result_data JSONB,
		execution_duration_ms BIGINT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS automation_action_executions_exec_idx ON automation_action_executions (execution_id, action_index)`,
}
