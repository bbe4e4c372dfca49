package state

import (
	"database/sql"
)

const schemaVersion = 1

// withTx executes fn within a transaction, rolling back on error.
func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func initSchema(db *sql.DB) error {
	return withTx(db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);

			CREATE TABLE IF NOT EXISTS disc_resume (
				disc_id TEXT PRIMARY KEY,
				title TEXT,
				artist TEXT,
				last_track INTEGER NOT NULL DEFAULT 0,
				repeat_mode INTEGER NOT NULL DEFAULT 0,
				shuffle INTEGER NOT NULL DEFAULT 0,
				saved_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_disc_resume_saved_at ON disc_resume(saved_at);
		`)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion)
		return err
	})
}
