package metrics

import (
	"database/sql"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
)

const (
	SchemaVersion = 1

	// SQL statements derived from schema
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       timestamp_ns    INTEGER PRIMARY KEY,
	       primary_angle   REAL NOT NULL,
	       secondary_angle REAL NOT NULL,
	       reference       REAL NOT NULL,
	       fast_mode       INTEGER NOT NULL CHECK (fast_mode IN (0, 1))
	   );`

	insertSampleSQL = `
    INSERT OR REPLACE INTO samples (
        timestamp_ns, primary_angle, secondary_angle, reference, fast_mode
    ) VALUES (?, ?, ?, ?, ?)`

	recordVersionSQL = `
    INSERT INTO schema_versions (version, applied_at)
    VALUES (?, datetime('now'))`

	currentVersionSQL = `
    SELECT version FROM schema_versions
    ORDER BY version DESC
    LIMIT 1`

	tableExistsSQL = `
    SELECT EXISTS (
        SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?
    )`

	recentSamplesSQL = `
    SELECT timestamp_ns, primary_angle, secondary_angle, reference, fast_mode
    FROM samples
    ORDER BY timestamp_ns DESC
    LIMIT ?`
)

// withTx runs fn in a transaction that is rolled back unless fn succeeds.
func withTx(db *sql.DB, log logger.Logger, code errors.ErrorCode, fn func(*sql.Tx) error) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(code, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(code, err)
	}
	return nil
}

// InitSchema creates the tables and records SchemaVersion.
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating sample database...")

	err := withTx(db, log, ErrSchemaInitFailed, func(tx *sql.Tx) error {
		if _, err := tx.Exec(createTablesSQL); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, struct {
				Phase string
				Error string
			}{
				Phase: "create_tables",
				Error: err.Error(),
			})
		}

		if _, err := tx.Exec(recordVersionSQL, SchemaVersion); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, struct {
				Phase string
				Error string
			}{
				Phase: "record_version",
				Error: err.Error(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("Sample schema initialized")

	return nil
}

// GetSchemaVersion returns the recorded schema version, or 0 for a fresh
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	switch err := db.QueryRow(currentVersionSQL).Scan(&version); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists reports whether tableName exists in the database.
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	if err := db.QueryRow(tableExistsSQL, tableName).Scan(&exists); err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
