package sqlite

// initSchema creates the database schema if it doesn't exist.
func (db *DB) initSchema() error {
	schema := `
	-- One row per import run
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		link TEXT NOT NULL,
		schemas TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		last_state TEXT NOT NULL,
		scn INTEGER NOT NULL DEFAULT 0,
		total_rows INTEGER NOT NULL DEFAULT 0,
		table_failures INTEGER NOT NULL DEFAULT 0,
		restore_failures INTEGER NOT NULL DEFAULT 0,
		suspended_constraints INTEGER NOT NULL DEFAULT 0,
		suspended_triggers INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	-- Per-table copy outcome, in copy order
	CREATE TABLE IF NOT EXISTS table_results (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		rows INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position)
	);

	-- Integrity objects that could not be re-enabled
	CREATE TABLE IF NOT EXISTS restore_failures (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		object TEXT NOT NULL,
		statement TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_restore_failures_run ON restore_failures(run_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}
