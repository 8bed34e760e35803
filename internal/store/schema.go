package store

import (
	"context"
	"strconv"
)

// schemaVersion is bumped whenever migrations below gain a new step.
const schemaVersion = 1

// SchemaVersion reports the schema version currently applied to the
// database, for cmd/migrate's status command.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var current int
	row := s.db.QueryRowContext(ctx, "PRAGMA user_version")
	if err := row.Scan(&current); err != nil {
		return 0, err
	}
	return current, nil
}

// migrate applies the engine's schema, grounded on the teacher's
// EventStore.initDatabase pattern of a single idempotent CREATE TABLE
// IF NOT EXISTS block plus indexes, extended here to the engine's
// full entity set and fronted by a user_version guard so cmd/migrate
// can be run standalone ahead of cmd/engine.
func (s *Store) migrate(ctx context.Context) error {
	var current int
	row := s.db.QueryRowContext(ctx, "PRAGMA user_version")
	if err := row.Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS monitored_folders (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		alias TEXT,
		is_blacklist INTEGER NOT NULL DEFAULT 0,
		parent_id TEXT,
		is_common_folder INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_folders_blacklist ON monitored_folders(is_blacklist);

	CREATE TABLE IF NOT EXISTS file_categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		icon TEXT,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS extension_mappings (
		id TEXT PRIMARY KEY,
		extension TEXT NOT NULL UNIQUE,
		category_id TEXT NOT NULL REFERENCES file_categories(id),
		priority TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS filter_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		pattern TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		action TEXT NOT NULL,
		priority TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		is_system INTEGER NOT NULL DEFAULT 0,
		category_id TEXT
	);

	CREATE TABLE IF NOT EXISTS bundle_extensions (
		id TEXT PRIMARY KEY,
		extension TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS screening_results (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		extension TEXT,
		size INTEGER NOT NULL,
		created_time DATETIME,
		modified_time DATETIME NOT NULL,
		category_id TEXT,
		content_hash TEXT,
		status TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_screening_path_live
		ON screening_results(file_path) WHERE status != 'deleted';
	CREATE INDEX IF NOT EXISTS idx_screening_status ON screening_results(status);
	CREATE INDEX IF NOT EXISTS idx_screening_hash ON screening_results(content_hash);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		weight INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS file_tags (
		file_id TEXT NOT NULL REFERENCES screening_results(id) ON DELETE CASCADE,
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (file_id, tag_id)
	);

	CREATE TABLE IF NOT EXISTS vectorization_tasks (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		parent_count INTEGER NOT NULL DEFAULT 0,
		child_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		help_url TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vec_tasks_path ON vectorization_tasks(file_path);
	CREATE INDEX IF NOT EXISTS idx_vec_tasks_status ON vectorization_tasks(status);

	CREATE TABLE IF NOT EXISTS provider_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		base_url TEXT,
		api_key_sealed BLOB,
		source TEXT NOT NULL,
		support_discovery INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		use_proxy INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_configs (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL REFERENCES provider_configs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		capabilities TEXT NOT NULL,
		source TEXT NOT NULL,
		is_enabled INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS global_capability_assignments (
		capability TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		scenario_id TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pinned_files (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		pinned_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, file_path)
	);

	CREATE TABLE IF NOT EXISTS session_tool_selections (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		tool_name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, tool_name)
	);

	CREATE TABLE IF NOT EXISTS config_changes (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		folder_id TEXT,
		path TEXT,
		enabled INTEGER NOT NULL DEFAULT 0,
		queued_at DATETIME NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(schemaVersion)); err != nil {
		return err
	}
	return nil
}
