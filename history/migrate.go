package history

import (
	"fmt"

	"github.com/meshtalk/histdb/rawdb"
)

// schemaVersion is the schema this build reads and writes. Bump it and
// append a step to migrationSteps when the schema changes; steps must stay
// additive (e.g. adding a nullable column) because they run through the
// same write queue as ordinary batches.
const schemaVersion = 1

const (
	createPeers = `CREATE TABLE IF NOT EXISTS peers (
    id INTEGER PRIMARY KEY,
    public_key TEXT NOT NULL UNIQUE
);`

	createAliases = `CREATE TABLE IF NOT EXISTS aliases (
    id INTEGER PRIMARY KEY,
    owner INTEGER,
    display_name BLOB NOT NULL,
    UNIQUE(owner, display_name)
);`

	createHistory = `CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    chat_id INTEGER NOT NULL,
    sender_alias INTEGER NOT NULL,
    message BLOB NOT NULL,
    file_id INTEGER
);`

	createFileTransfers = `CREATE TABLE IF NOT EXISTS file_transfers (
    id INTEGER PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    file_restart_id BLOB NOT NULL,
    file_name BLOB NOT NULL,
    file_path BLOB NOT NULL,
    file_hash BLOB NOT NULL,
    file_size INTEGER NOT NULL,
    direction INTEGER NOT NULL,
    file_state INTEGER NOT NULL
);`

	createFauxOfflinePending = `CREATE TABLE IF NOT EXISTS faux_offline_pending (
    id INTEGER PRIMARY KEY
);`
)

var createTableQueries = []string{
	createPeers,
	createAliases,
	createHistory,
	createFileTransfers,
	createFauxOfflinePending,
}

// migrationSteps[v] upgrades an existing store from version v to v+1.
var migrationSteps = [][]string{
	// 0 -> 1: messages gained an optional file-transfer reference.
	{"ALTER TABLE history ADD COLUMN file_id INTEGER;"},
}

// migrate brings the store to schemaVersion. A store whose version exceeds
// schemaVersion returns ErrSchemaTooNew without writing anything. A fresh
// store skips the step chain and is created directly at the current
// version.
func (h *History) migrate() error {
	var stored int64
	if err := h.db.Handle().QueryRow("PRAGMA user_version;").Scan(&stored); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if stored > schemaVersion {
		return fmt.Errorf("stored version %d, supported %d: %w", stored, schemaVersion, ErrSchemaTooNew)
	}

	var tables int
	err := h.db.Handle().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'history';",
	).Scan(&tables)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	if tables > 0 && stored < schemaVersion {
		for v := stored; v < schemaVersion; v++ {
			step := make([]rawdb.Query, len(migrationSteps[v]))
			for i, sql := range migrationSteps[v] {
				step[i] = rawdb.Query{SQL: sql}
			}
			if err := h.db.ExecNow(step...); err != nil {
				return fmt.Errorf("migrate schema %d -> %d: %w", v, v+1, err)
			}
		}
		h.log.Info("database schema upgraded", "from", stored, "to", schemaVersion)
	}

	queries := make([]rawdb.Query, 0, len(createTableQueries)+1)
	for _, sql := range createTableQueries {
		queries = append(queries, rawdb.Query{SQL: sql})
	}
	queries = append(queries, rawdb.Query{SQL: fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)})
	if err := h.db.ExecNow(queries...); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
